// File: handler/metrics/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package metrics counts connections, traffic and exceptions with
// Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/future"
)

// Collectors groups the series updated by Handler.
type Collectors struct {
	Active      prometheus.Gauge
	Connections prometheus.Counter
	BytesIn     prometheus.Counter
	BytesOut    prometheus.Counter
	MessagesIn  prometheus.Counter
	MessagesOut prometheus.Counter
	Exceptions  prometheus.Counter
}

// NewCollectors creates and registers the collectors under namespace.
func NewCollectors(reg prometheus.Registerer, namespace string) (*Collectors, error) {
	c := &Collectors{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channels_active", Help: "Channels currently active.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "channels_activated_total", Help: "Channels that became active.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_bytes_total", Help: "Bytes received.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_bytes_total", Help: "Bytes written.",
		}),
		MessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_messages_total", Help: "Messages received.",
		}),
		MessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_messages_total", Help: "Messages written.",
		}),
		Exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "exceptions_total", Help: "Exceptions seen by the pipeline.",
		}),
	}
	for _, col := range []prometheus.Collector{c.Active, c.Connections, c.BytesIn, c.BytesOut, c.MessagesIn, c.MessagesOut, c.Exceptions} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler updates Collectors and forwards every event. It is shareable.
type Handler struct {
	c *Collectors
}

func New(c *Collectors) *Handler { return &Handler{c: c} }

func (h *Handler) Clone() channel.Handler { return h }

func (h *Handler) ChannelOpen(ctx *channel.HandlerContext) error {
	ctx.FireChannelOpen()
	return nil
}

func (h *Handler) ChannelActive(ctx *channel.HandlerContext) error {
	h.c.Active.Inc()
	h.c.Connections.Inc()
	ctx.FireChannelActive()
	return nil
}

func (h *Handler) ChannelInactive(ctx *channel.HandlerContext) error {
	h.c.Active.Dec()
	ctx.FireChannelInactive()
	return nil
}

func (h *Handler) ExceptionCaught(ctx *channel.HandlerContext, err error) error {
	h.c.Exceptions.Inc()
	ctx.FireExceptionCaught(err)
	return nil
}

func (h *Handler) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	h.c.BytesIn.Add(float64(buf.ReadableLen()))
	ctx.FireBufferReceived(buf)
	return nil
}

func (h *Handler) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	h.c.MessagesIn.Inc()
	ctx.FireMessageReceived(msg)
	return nil
}

func (h *Handler) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	h.c.MessagesOut.Inc()
	switch m := msg.(type) {
	case buffer.Buffer:
		h.c.BytesOut.Add(float64(m.ReadableLen()))
	case []byte:
		h.c.BytesOut.Add(float64(len(m)))
	}
	ctx.WriteWith(msg, f)
	return nil
}

func (h *Handler) WriteBuffer(ctx *channel.HandlerContext, buf buffer.Buffer, f *future.Future) error {
	h.c.BytesOut.Add(float64(buf.ReadableLen()))
	ctx.WriteBufferWith(buf, f)
	return nil
}
