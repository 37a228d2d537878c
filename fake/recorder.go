// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"fmt"
	"net"
	"sync"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

// Log is a goroutine-safe event journal shared by recording handlers.
type Log struct {
	mu     sync.Mutex
	events []string
}

func (l *Log) Add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *Log) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *Log) Count(event string) int {
	n := 0
	for _, e := range l.Events() {
		if e == event {
			n++
		}
	}
	return n
}

// Inbound records state, exception, user and message events and forwards them.
type Inbound struct {
	channel.HandlerBase
	Name string
	Log  *Log
	// Err is returned from MessageReceived when set.
	Err error
}

func (h *Inbound) Clone() channel.Handler { return &Inbound{Name: h.Name, Log: h.Log, Err: h.Err} }

func (h *Inbound) ChannelOpen(ctx *channel.HandlerContext) error {
	h.Log.Add("%s:open", h.Name)
	ctx.FireChannelOpen()
	return nil
}

func (h *Inbound) ChannelActive(ctx *channel.HandlerContext) error {
	h.Log.Add("%s:active", h.Name)
	ctx.FireChannelActive()
	return nil
}

func (h *Inbound) ChannelInactive(ctx *channel.HandlerContext) error {
	h.Log.Add("%s:inactive", h.Name)
	ctx.FireChannelInactive()
	return nil
}

func (h *Inbound) ExceptionCaught(ctx *channel.HandlerContext, err error) error {
	h.Log.Add("%s:exception:%v", h.Name, err)
	ctx.FireExceptionCaught(err)
	return nil
}

func (h *Inbound) UserEventTriggered(ctx *channel.HandlerContext, evt any) error {
	h.Log.Add("%s:user:%v", h.Name, evt)
	ctx.FireUserEventTriggered(evt)
	return nil
}

func (h *Inbound) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	h.Log.Add("%s:message:%v", h.Name, msg)
	if h.Err != nil {
		return h.Err
	}
	ctx.FireMessageReceived(msg)
	return nil
}

// Lifecycle records insertion and removal callbacks.
type Lifecycle struct {
	Name string
	Log  *Log
}

func (h *Lifecycle) Clone() channel.Handler { return h }
func (h *Lifecycle) BeforeAdd(*channel.HandlerContext) {
	h.Log.Add("%s:beforeAdd", h.Name)
}
func (h *Lifecycle) AfterAdd(*channel.HandlerContext) { h.Log.Add("%s:afterAdd", h.Name) }
func (h *Lifecycle) BeforeRemove(*channel.HandlerContext) {
	h.Log.Add("%s:beforeRemove", h.Name)
}
func (h *Lifecycle) AfterRemove(*channel.HandlerContext) { h.Log.Add("%s:afterRemove", h.Name) }

// Outbound records outbound operations and forwards them.
type Outbound struct {
	Name string
	Log  *Log
}

func (h *Outbound) Clone() channel.Handler { return h }

func (h *Outbound) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	h.Log.Add("%s:write:%v", h.Name, msg)
	ctx.WriteWith(msg, f)
	return nil
}

func (h *Outbound) WriteBuffer(ctx *channel.HandlerContext, buf buffer.Buffer, f *future.Future) error {
	h.Log.Add("%s:writeBuffer:%d", h.Name, buf.ReadableLen())
	ctx.WriteBufferWith(buf, f)
	return nil
}

func (h *Outbound) Flush(ctx *channel.HandlerContext) error {
	h.Log.Add("%s:flush", h.Name)
	ctx.Flush()
	return nil
}

func (h *Outbound) Bind(ctx *channel.HandlerContext, local net.Addr, f *future.Future) error {
	h.Log.Add("%s:bind:%v", h.Name, local)
	ctx.BindWith(local, f)
	return nil
}

func (h *Outbound) Connect(ctx *channel.HandlerContext, remote, local net.Addr, f *future.Future) error {
	h.Log.Add("%s:connect:%v", h.Name, remote)
	ctx.ConnectWith(remote, local, f)
	return nil
}

func (h *Outbound) Disconnect(ctx *channel.HandlerContext, f *future.Future) error {
	h.Log.Add("%s:disconnect", h.Name)
	ctx.DisconnectWith(f)
	return nil
}

func (h *Outbound) Close(ctx *channel.HandlerContext, f *future.Future) error {
	h.Log.Add("%s:close", h.Name)
	ctx.CloseWith(f)
	return nil
}
