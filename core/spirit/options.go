package spirit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/pkg/xlog"
)

type Option func(*options) error

type options struct {
	interval        time.Duration
	freshnessWindow time.Duration
	signalCapacity  int
	narrativeSize   int
	memory          Memory
	compressor      Compressor
	commands        *types.CommandQueue
	logger          *slog.Logger
	now             func() time.Time
}

func defaultOptions() *options {
	return &options{
		interval:        DefaultInterval,
		freshnessWindow: FreshnessWindow,
		narrativeSize:   10,
		logger:          xlog.Nop(),
		now:             time.Now,
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

// WithInterval bounds the blocking signal wait per tick.
func WithInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("spirit interval must be positive, got %s", d)
		}
		o.interval = d
		return nil
	}
}

// WithFreshnessWindow sets the age past which a signal counts as stale.
func WithFreshnessWindow(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("freshness window must be positive, got %s", d)
		}
		o.freshnessWindow = d
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

// WithCommandQueue replaces the queue commands are pushed onto. The Execution
// Agent consumes the same queue.
func WithCommandQueue(q *types.CommandQueue) Option {
	return func(o *options) error {
		o.commands = q
		return nil
	}
}

func WithSignalCapacity(n int) Option {
	return func(o *options) error {
		o.signalCapacity = n
		return nil
	}
}

func WithNarrativeSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("narrative size must be positive, got %d", n)
		}
		o.narrativeSize = n
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

// WithClock injects the time source, so staleness can be tested without
// waiting.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.now = now
		return nil
	}
}
