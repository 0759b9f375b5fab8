package config

import (
	"fmt"
	"time"
)

// Tunables that gate how fast the two loops tick and how aggressively the
// conversation window is compressed. Values outside the accepted ranges fail
// construction; nothing here is re-validated at runtime.
const (
	MinSpiritInterval = 500 * time.Millisecond
	MinBrainInterval  = 100 * time.Millisecond

	MinCompressionThreshold = 0.5
	MaxCompressionThreshold = 1.0
)

// SystemParams carries the orchestrator-wide settings shared by the entity
// and its agents.
type SystemParams struct {
	SpiritTemperature float32
	BrainTemperature  float32
	MaxTokens         int

	SpiritInterval time.Duration
	BrainInterval  time.Duration

	CompressionThreshold float64

	// MaxContextTokens overrides the model's context window when set; zero
	// means derive it from the model name.
	MaxContextTokens int

	SandboxPath string
	SafeMode    bool
	LogLevel    string
}

// DefaultSystemParams returns the settings the entity runs with when the
// caller does not override anything.
func DefaultSystemParams() SystemParams {
	return SystemParams{
		SpiritTemperature:    0.7,
		BrainTemperature:     0.3,
		MaxTokens:            1024,
		SpiritInterval:       3 * time.Second,
		BrainInterval:        1 * time.Second,
		CompressionThreshold: 0.8,
		SandboxPath:          "sandbox",
		SafeMode:             true,
		LogLevel:             "info",
	}
}

// NewSystemParams validates p and returns it unchanged on success.
func NewSystemParams(p SystemParams) (SystemParams, error) {
	if err := p.Validate(); err != nil {
		return SystemParams{}, err
	}
	return p, nil
}

// Validate enforces the accepted ranges for every tunable.
func (p SystemParams) Validate() error {
	if p.SpiritTemperature < 0 || p.SpiritTemperature > 2 {
		return fmt.Errorf("spirit temperature %.2f out of range [0, 2]", p.SpiritTemperature)
	}
	if p.BrainTemperature < 0 || p.BrainTemperature > 2 {
		return fmt.Errorf("brain temperature %.2f out of range [0, 2]", p.BrainTemperature)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", p.MaxTokens)
	}
	if p.SpiritInterval < MinSpiritInterval {
		return fmt.Errorf("spirit interval %s below minimum %s", p.SpiritInterval, MinSpiritInterval)
	}
	if p.BrainInterval < MinBrainInterval {
		return fmt.Errorf("brain interval %s below minimum %s", p.BrainInterval, MinBrainInterval)
	}
	if p.CompressionThreshold < MinCompressionThreshold || p.CompressionThreshold > MaxCompressionThreshold {
		return fmt.Errorf("compression threshold %.2f out of range [%.1f, %.1f]",
			p.CompressionThreshold, MinCompressionThreshold, MaxCompressionThreshold)
	}
	if p.MaxContextTokens < 0 {
		return fmt.Errorf("max context tokens cannot be negative, got %d", p.MaxContextTokens)
	}
	return nil
}
