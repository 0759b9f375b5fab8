package webui

import (
	"log/slog"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

// Config carries the monitor settings.
type Config struct {
	// ApiKeys, when non-empty, gate every route behind key auth.
	ApiKeys []string
	// WorkerPoolSize sizes the SSE broadcast pool.
	WorkerPoolSize int
	Logger         *slog.Logger
}

type Option func(*Config)

// WithApiKeys enables key auth with the given accepted keys.
func WithApiKeys(keys ...string) Option {
	return func(c *Config) {
		c.ApiKeys = append(c.ApiKeys, keys...)
	}
}

// WithWorkerPoolSize overrides the SSE broadcast pool size.
func WithWorkerPoolSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.WorkerPoolSize = size
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		WorkerPoolSize: 2,
		Logger:         xlog.Nop(),
	}
	c.Apply(opts...)
	return c
}
