//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Readiness polling is only implemented with epoll.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-pipeline/api"
)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

var errUnsupported = api.NewError(api.ErrCodeNotSupported, "reactor: this platform is not supported")

// Reactor is unavailable on this platform.
type Reactor struct{}

// New always fails on this platform.
func New(opts ...Option) (*Reactor, error) {
	_ = newConfig(opts)
	return nil, errUnsupported
}

func (r *Reactor) Add(int, Events, Callback) error { return errUnsupported }
func (r *Reactor) Arm(int, Events) error           { return errUnsupported }
func (r *Reactor) Remove(int) error                { return errUnsupported }
func (r *Reactor) Registered() int                 { return 0 }
func (r *Reactor) Start()                          {}
func (r *Reactor) Close() error                    { return nil }
