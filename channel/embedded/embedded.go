// File: channel/embedded/embedded.go
// Package embedded provides a channel driven entirely by the caller, used to
// exercise handlers and codecs without any network I/O.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package embedded

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

type addr struct{}

func (addr) Network() string { return "embedded" }
func (addr) String() string  { return "embedded" }

// transport queues every flushed buffer for ReadOutbound.
type transport struct {
	outbound *queue.Queue
}

func (t *transport) DoBind(net.Addr) (bool, error)              { return true, nil }
func (t *transport) DoConnect(net.Addr, net.Addr) (bool, error) { return true, nil }
func (t *transport) DoDisconnect() (bool, error)                { return true, nil }
func (t *transport) DoClose() (bool, error)                     { return true, nil }
func (t *transport) LocalAddr() net.Addr                        { return addr{} }
func (t *transport) RemoteAddr() net.Addr                       { return addr{} }

func (t *transport) DoWrite(bufs []buffer.Buffer) error {
	for _, b := range bufs {
		t.outbound.Add(b)
	}
	return nil
}

// Channel is an active channel whose inbound and outbound ends are queues.
type Channel struct {
	*channel.Channel
	exec    *Executor
	tr      *transport
	inbound *queue.Queue
	errs    []error
}

// New opens and activates a channel with handlers added in order.
func New(handlers ...channel.Handler) (*Channel, error) {
	e := &Channel{
		exec:    NewExecutor(),
		tr:      &transport{outbound: queue.New()},
		inbound: queue.New(),
	}
	e.Channel = channel.New(e.exec, e.tr, channel.WithInitializer(func(ch *channel.Channel) error {
		p := ch.Pipeline()
		for i, h := range handlers {
			if err := p.AddLast(fmt.Sprintf("handler-%d", i), h); err != nil {
				return err
			}
		}
		return p.AddLast("capture", &capture{owner: e})
	}))
	if err := e.Open(); err != nil {
		return nil, err
	}
	e.Activate()
	return e, e.CheckException()
}

// WriteInbound feeds msgs into the head of the pipeline. Buffers and byte
// slices travel as buffer events, anything else as message events. It
// reports whether something reached the end of the pipeline.
func (e *Channel) WriteInbound(msgs ...any) (bool, error) {
	p := e.Pipeline()
	for _, m := range msgs {
		switch v := m.(type) {
		case buffer.Buffer:
			p.FireBufferReceived(v)
		case []byte:
			p.FireBufferReceived(buffer.CopyOf(v))
		default:
			p.FireMessageReceived(v)
		}
	}
	return e.inbound.Length() > 0, e.CheckException()
}

// WriteOutbound writes and flushes msgs from the tail. It reports whether
// something reached the transport.
func (e *Channel) WriteOutbound(msgs ...any) (bool, error) {
	futs := make([]*future.Future, 0, len(msgs))
	for _, m := range msgs {
		futs = append(futs, e.Write(m))
	}
	e.Flush()
	var errs []error
	for _, f := range futs {
		if err := f.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.CheckException(); err != nil {
		errs = append(errs, err)
	}
	return e.tr.outbound.Length() > 0, errors.Join(errs...)
}

// ReadInbound pops the next inbound item that reached the end of the pipeline.
func (e *Channel) ReadInbound() any {
	if e.inbound.Length() == 0 {
		return nil
	}
	return e.inbound.Remove()
}

// ReadOutbound pops the next buffer handed to the transport.
func (e *Channel) ReadOutbound() buffer.Buffer {
	if e.tr.outbound.Length() == 0 {
		return nil
	}
	return e.tr.outbound.Remove().(buffer.Buffer)
}

// InboundLen returns how many inbound items are waiting.
func (e *Channel) InboundLen() int { return e.inbound.Length() }

// OutboundLen returns how many outbound buffers are waiting.
func (e *Channel) OutboundLen() int { return e.tr.outbound.Length() }

// CheckException returns and clears the errors that reached the end of
// the pipeline.
func (e *Channel) CheckException() error {
	err := errors.Join(e.errs...)
	e.errs = nil
	return err
}

// Advance moves the virtual clock and runs due scheduled tasks.
func (e *Channel) Advance(d time.Duration) { e.exec.Advance(d) }

// Executor exposes the caller-driven executor.
func (e *Channel) Executor() *Executor { return e.exec }

// Finish closes the channel and reports whether any items are still queued.
func (e *Channel) Finish() (bool, error) {
	e.Close()
	return e.inbound.Length() > 0 || e.tr.outbound.Length() > 0, e.CheckException()
}

// capture is the last handler; it keeps whatever the pipeline produced.
type capture struct {
	owner *Channel
}

func (c *capture) Clone() channel.Handler { return c }

func (c *capture) MessageReceived(_ *channel.HandlerContext, msg any) error {
	c.owner.inbound.Add(msg)
	return nil
}

func (c *capture) BufferReceived(_ *channel.HandlerContext, buf buffer.Buffer) error {
	c.owner.inbound.Add(buf)
	return nil
}

func (c *capture) ExceptionCaught(_ *channel.HandlerContext, err error) error {
	c.owner.errs = append(c.owner.errs, err)
	return nil
}
