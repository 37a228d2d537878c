// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral part of the readiness poller.

package reactor

import "log/slog"

// Events is a set of readiness conditions.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	// Hangup reports peer shutdown or a socket error.
	Hangup
)

func (e Events) String() string {
	s := ""
	if e&Readable != 0 {
		s += "r"
	}
	if e&Writable != 0 {
		s += "w"
	}
	if e&Hangup != 0 {
		s += "h"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Callback receives readiness for one descriptor. It runs on the poller
// goroutine and must hand real work to an executor.
type Callback func(ev Events)

// Option customises a Reactor.
type Option func(*config)

type config struct {
	batch  int
	cpu    int
	logger *slog.Logger
}

// WithBatch sets the number of events fetched per wait.
func WithBatch(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithCPU pins the poller goroutine to cpu.
func WithCPU(cpu int) Option { return func(c *config) { c.cpu = cpu } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func newConfig(opts []Option) config {
	cfg := config{batch: 128, cpu: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("component", "reactor")
	return cfg
}
