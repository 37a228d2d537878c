// File: transport/tcp/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package tcp runs TCP channels over the readiness reactor. Socket work
// happens on the owning channel's event loop; the reactor goroutine only
// forwards readiness.
package tcp

import (
	"encoding/binary"
	"log/slog"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/pool"
	"github.com/momentics/hioload-pipeline/reactor"
)

const (
	defaultReadSize = 16 << 10
	// maxReadsPerEvent bounds how long one connection holds its loop.
	maxReadsPerEvent = 16
	maxIovecs        = 1024
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	readSize  int
	allocator buffer.Allocator
	logger    *slog.Logger
	reactor   []reactor.Option
	noDelay   bool
}

// WithReadSize sets the capacity of the buffer allocated for each read.
func WithReadSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// WithAllocator replaces the pooled allocator used for inbound buffers.
func WithAllocator(a buffer.Allocator) Option { return func(c *config) { c.allocator = a } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithReactorOptions passes options to the engine's reactor.
func WithReactorOptions(opts ...reactor.Option) Option {
	return func(c *config) { c.reactor = append(c.reactor, opts...) }
}

// WithNoDelay toggles TCP_NODELAY on accepted and connected sockets.
func WithNoDelay(on bool) Option { return func(c *config) { c.noDelay = on } }

func newConfig(opts []Option) config {
	cfg := config{readSize: defaultReadSize, noDelay: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.allocator == nil {
		cfg.allocator = buffer.NewPooled(pool.Default(), binary.BigEndian)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("component", "tcp")
	return cfg
}
