package brain

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mudler/LocalEntity/core/focus"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

type Option func(*options) error

type options struct {
	interval   time.Duration
	historyCap int
	maxRounds  int
	tools      ToolRunner
	executor   CodeExecutor
	focus      *focus.Module
	memory     Memory
	compressor Compressor
	logger     *slog.Logger
	now        func() time.Time
}

func defaultOptions() *options {
	return &options{
		interval:   DefaultInterval,
		historyCap: DefaultHistoryCap,
		maxRounds:  DefaultMaxRounds,
		logger:     xlog.Nop(),
		now:        time.Now,
	}
}

func newOptions(opts ...Option) (*options, error) {
	options := defaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// WithInterval bounds the blocking command wait per loop turn.
func WithInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("brain interval must be positive, got %s", d)
		}
		o.interval = d
		return nil
	}
}

// WithHistoryCap bounds the action ring.
func WithHistoryCap(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("history cap must be positive, got %d", n)
		}
		o.historyCap = n
		return nil
	}
}

// WithMaxRounds bounds how many LLM rounds one task may consume before it is
// abandoned.
func WithMaxRounds(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("max rounds must be positive, got %d", n)
		}
		o.maxRounds = n
		return nil
	}
}

func WithTools(t ToolRunner) Option {
	return func(o *options) error {
		o.tools = t
		return nil
	}
}

func WithExecutor(e CodeExecutor) Option {
	return func(o *options) error {
		o.executor = e
		return nil
	}
}

func WithFocus(f *focus.Module) Option {
	return func(o *options) error {
		o.focus = f
		return nil
	}
}

func WithMemory(m Memory) Option {
	return func(o *options) error {
		o.memory = m
		return nil
	}
}

func WithCompressor(c Compressor) Option {
	return func(o *options) error {
		o.compressor = c
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.now = now
		return nil
	}
}
