package types

import (
	"time"

	"github.com/google/uuid"
)

// Priority ranks signals and commands. It biases attention in prompts; queue
// delivery stays strictly FIFO.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes a priority string, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s)
	}
	return PriorityMedium
}

// Well-known signal sources.
const (
	SourceUser        = "user"
	SourceSystem      = "system"
	SourceBrainAction = "brain_action"
	SourceInsight     = "insight"
	SourcePrediction  = "prediction"
)

// Signal is one event delivered to the Deliberation Agent: user input, or an
// execution outcome relayed by the orchestrator. Consumed exactly once.
type Signal struct {
	ID        string
	Content   string
	Source    string
	Priority  Priority
	Timestamp time.Time
}

// NewSignal stamps a signal with an id and the current time.
func NewSignal(content, source string, priority Priority) Signal {
	return Signal{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    source,
		Priority:  priority,
		Timestamp: time.Now(),
	}
}

// Age reports how long ago the signal was emitted.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
