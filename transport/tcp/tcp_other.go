//go:build !linux

// File: transport/tcp/tcp_other.go
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/channel"
)

// Engine is unavailable on this platform.
type Engine struct{}

func NewEngine(...Option) (*Engine, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "tcp: the reactor engine requires linux")
}

func (e *Engine) Close() error                                 { return nil }
func (e *Engine) Registered() int                              { return 0 }
func (e *Engine) NewServer(channel.Acceptor) channel.Transport { return nil }
func (e *Engine) NewClient() channel.Transport                 { return nil }
