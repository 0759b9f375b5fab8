package entity

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/pkg/config"
	"github.com/mudler/LocalEntity/pkg/llm"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

type Option func(*options) error

type options struct {
	client      llm.Client
	model       string
	params      config.SystemParams
	memory      *memory.Matrix
	extraTools  []tools.Tool
	personality string
	stopTimeout time.Duration
	logger      *slog.Logger
}

func defaultOptions() *options {
	return &options{
		params:      config.DefaultSystemParams(),
		stopTimeout: DefaultStopTimeout,
		logger:      xlog.Nop(),
	}
}

func newOptions(opts ...Option) (*options, error) {
	options := defaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	if options.client == nil {
		return nil, errors.New("entity requires an LLM client")
	}
	if options.model == "" {
		return nil, errors.New("entity requires a model name")
	}
	return options, nil
}

// WithClient sets the chat endpoint shared by both agents.
func WithClient(client llm.Client) Option {
	return func(o *options) error {
		o.client = client
		return nil
	}
}

// WithModel names the model used for all completions.
func WithModel(model string) Option {
	return func(o *options) error {
		o.model = model
		return nil
	}
}

// WithSystemParams overrides the default tunables. Validated during New.
func WithSystemParams(p config.SystemParams) Option {
	return func(o *options) error {
		o.params = p
		return nil
	}
}

// WithMemory attaches the shared memory matrix. Without one the entity still
// runs, but remembers nothing.
func WithMemory(m *memory.Matrix) Option {
	return func(o *options) error {
		o.memory = m
		return nil
	}
}

// WithTools registers extra tools on top of the builtin set.
func WithTools(extra ...tools.Tool) Option {
	return func(o *options) error {
		o.extraTools = append(o.extraTools, extra...)
		return nil
	}
}

// WithPersonality bootstraps the personality text at construction.
func WithPersonality(text string) Option {
	return func(o *options) error {
		o.personality = text
		return nil
	}
}

// WithStopTimeout bounds how long Stop waits for the loops to drain.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("stop timeout must be positive, got %s", d)
		}
		o.stopTimeout = d
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}
