// File: bootstrap/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/concurrency"
	"github.com/momentics/hioload-pipeline/core/future"
	"github.com/momentics/hioload-pipeline/transport/local"
)

// ClientTransport creates the transport of a connecting channel.
type ClientTransport func() channel.Transport

// LocalClient returns a ClientTransport connecting through reg.
func LocalClient(reg *local.Registry) ClientTransport {
	return func() channel.Transport { return local.NewClient(reg) }
}

// Client opens connections spread over an event loop group and keeps
// track of them until they close.
type Client struct {
	group     *concurrency.EventLoopGroup
	transport ClientTransport
	opts      options
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[*channel.Channel]struct{}
}

func NewClient(group *concurrency.EventLoopGroup, transport ClientTransport, opts ...Option) *Client {
	o := newOptions("client", opts)
	return &Client{
		group:     group,
		transport: transport,
		opts:      o,
		logger:    o.logger,
		conns:     make(map[*channel.Channel]struct{}),
	}
}

// Connect opens a channel to remote. The returned future carries the
// *channel.Channel once it is active.
func (c *Client) Connect(remote net.Addr) *future.Future {
	ch := channel.New(c.group.Next(), c.transport(),
		channel.WithLogger(c.logger),
		channel.WithInitializer(c.opts.initializer()))
	result := ch.NewFuture()
	if err := ch.Open(); err != nil {
		result.SetFailure(err)
		return result
	}
	ch.Connect(remote, nil).AddListener(func(f *future.Future) {
		if err := f.Err(); err != nil {
			ch.Close()
			result.SetFailure(err)
			return
		}
		c.track(ch)
		result.SetSuccess(ch)
	})
	return result
}

func (c *Client) track(ch *channel.Channel) {
	c.mu.Lock()
	c.conns[ch] = struct{}{}
	c.mu.Unlock()
	ch.CloseFuture().AddListener(func(*future.Future) {
		c.mu.Lock()
		delete(c.conns, ch)
		c.mu.Unlock()
	})
}

// Channels returns the open connections.
func (c *Client) Channels() []*channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*channel.Channel, 0, len(c.conns))
	for ch := range c.conns {
		out = append(out, ch)
	}
	return out
}

// Close closes every open connection and waits for them or ctx.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	for _, ch := range c.Channels() {
		errs = append(errs, ch.Close().Await(ctx))
	}
	return errors.Join(errs...)
}
