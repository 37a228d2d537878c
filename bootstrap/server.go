// File: bootstrap/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"code.hybscloud.com/atomix"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/concurrency"
	"github.com/momentics/hioload-pipeline/core/future"
	"github.com/momentics/hioload-pipeline/transport/local"
)

// ServerTransport creates the transport of a listening channel.
type ServerTransport func(accept channel.Acceptor) channel.Transport

// LocalServer returns a ServerTransport binding names in reg.
func LocalServer(reg *local.Registry) ServerTransport {
	return func(accept channel.Acceptor) channel.Transport { return local.NewServer(reg, accept) }
}

var ErrAlreadyBound = errors.New("server already bound")

// Server listens on one address and runs every accepted connection
// through a fresh pipeline built from its recipe.
type Server struct {
	group     *concurrency.EventLoopGroup
	transport ServerTransport
	opts      options
	logger    *slog.Logger

	ch       atomic.Pointer[channel.Channel]
	accepted atomix.Uint32
}

// NewServer creates a server whose listening channel runs on group.
func NewServer(group *concurrency.EventLoopGroup, transport ServerTransport, opts ...Option) *Server {
	o := newOptions("server", opts)
	if o.childGroup == nil {
		o.childGroup = group
	}
	return &Server{group: group, transport: transport, opts: o, logger: o.logger}
}

// Bind opens the listening channel and binds it to addr.
func (s *Server) Bind(addr net.Addr) *future.Future {
	ch := channel.New(s.group.Next(), s.transport(s.accept), channel.WithLogger(s.logger))
	if !s.ch.CompareAndSwap(nil, ch) {
		return ch.NewFailedFuture(ErrAlreadyBound)
	}
	if err := ch.Open(); err != nil {
		return ch.NewFailedFuture(err)
	}
	return ch.Bind(addr)
}

// Channel returns the listening channel, or nil before Bind.
func (s *Server) Channel() *channel.Channel { return s.ch.Load() }

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	if ch := s.ch.Load(); ch != nil {
		return ch.LocalAddr()
	}
	return nil
}

// Accepted reports how many connections were accepted so far.
func (s *Server) Accepted() uint32 { return s.accepted.Load() }

// Children returns the open accepted connections.
func (s *Server) Children() []*channel.Channel {
	if ch := s.ch.Load(); ch != nil {
		return ch.Children()
	}
	return nil
}

func (s *Server) accept(parent *channel.Channel, tr channel.Transport) {
	s.accepted.Add(1)
	loop := s.opts.childGroup.Next()
	child := channel.New(loop, tr,
		channel.WithParent(parent),
		channel.WithLogger(s.logger),
		channel.WithInitializer(s.opts.initializer()))
	err := loop.Execute(func() {
		if err := child.Open(); err != nil {
			s.logger.Error("child open failed", "channel", child.String(), "error", err)
			child.Close()
			tr.DoClose()
			return
		}
		child.Activate()
		if st, ok := tr.(channel.Starter); ok {
			if err := st.Start(); err != nil {
				child.Pipeline().FireExceptionCaught(err)
				child.Close()
			}
		}
	})
	if err != nil {
		s.logger.Warn("connection dropped", "channel", child.String(), "error", err)
		tr.DoClose()
	}
}

// Shutdown stops accepting, closes every accepted connection and waits
// for their close futures or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	ch := s.ch.Load()
	if ch == nil {
		return nil
	}
	if err := ch.Close().Await(ctx); err != nil {
		return err
	}
	var errs []error
	for _, child := range ch.Children() {
		errs = append(errs, child.Close().Await(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return api.NewError(api.ErrCodeChannelOperation, "shutdown incomplete").WithCause(err)
	}
	return nil
}
