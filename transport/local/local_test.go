package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/core/concurrency"
	"github.com/momentics/hioload-pipeline/transport/local"
)

type echo struct{}

func (echo) Clone() channel.Handler { return echo{} }
func (echo) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	ctx.WriteAndFlush(buf)
	return nil
}

type sink chan string

func (s sink) Clone() channel.Handler { return s }
func (s sink) BufferReceived(_ *channel.HandlerContext, buf buffer.Buffer) error {
	s <- string(buffer.Bytes(buf))
	buf.Release()
	return nil
}

func newGroup(t *testing.T) *concurrency.EventLoopGroup {
	t.Helper()
	g := concurrency.NewEventLoopGroup(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, g.ShutdownGracefully(ctx))
	})
	return g
}

func acceptor(g *concurrency.EventLoopGroup) channel.Acceptor {
	return func(parent *channel.Channel, tr channel.Transport) {
		loop := g.Next()
		child := channel.New(loop, tr, channel.WithParent(parent), channel.WithInitializer(func(ch *channel.Channel) error {
			return ch.Pipeline().AddLast("echo", echo{})
		}))
		loop.Execute(func() {
			if err := child.Open(); err != nil {
				return
			}
			child.Activate()
			tr.(channel.Starter).Start()
		})
	}
}

func await(t *testing.T, f interface{ Await(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Await(ctx))
}

func TestEchoOverLocalTransport(t *testing.T) {
	reg := local.NewRegistry()
	g := newGroup(t)

	server := channel.New(g.Next(), local.NewServer(reg, acceptor(g)))
	require.NoError(t, server.Open())
	await(t, server.Bind(local.Addr("echo")))
	assert.Equal(t, []local.Addr{"echo"}, reg.Bound())
	assert.Equal(t, local.Addr("echo"), server.LocalAddr())

	got := make(sink, 4)
	client := channel.New(g.Next(), local.NewClient(reg), channel.WithInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("sink", got)
	}))
	require.NoError(t, client.Open())
	await(t, client.Connect(local.Addr("echo"), nil))
	assert.True(t, client.IsActive())
	assert.Equal(t, local.Addr("echo"), client.RemoteAddr())

	await(t, client.WriteAndFlush([]byte("ping")))
	await(t, client.WriteAndFlush([]byte("pong")))
	for _, want := range []string{"ping", "pong"} {
		select {
		case s := <-got:
			assert.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("no echo for %q", want)
		}
	}
	require.Len(t, server.Children(), 1)
	child := server.Children()[0]
	assert.Equal(t, client.LocalAddr(), child.RemoteAddr())

	await(t, client.Close())
	await(t, child.CloseFuture())
	assert.Empty(t, server.Children())

	await(t, server.Close())
	assert.Empty(t, reg.Bound())
}

func TestConnectRefused(t *testing.T) {
	g := newGroup(t)
	client := channel.New(g.Next(), local.NewClient(local.NewRegistry()))
	require.NoError(t, client.Open())
	f := client.Connect(local.Addr("nobody"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, f.Await(ctx), api.ErrChannelOperation)
	assert.False(t, client.IsActive())
}

func TestAddressInUse(t *testing.T) {
	reg := local.NewRegistry()
	g := newGroup(t)
	a := channel.New(g.Next(), local.NewServer(reg, acceptor(g)))
	b := channel.New(g.Next(), local.NewServer(reg, acceptor(g)))
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	await(t, a.Bind(local.Addr("svc")))

	f := b.Bind(local.Addr("svc"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, f.Await(ctx), api.ErrChannelOperation)
}

func TestServerCloseDropsPendingClients(t *testing.T) {
	reg := local.NewRegistry()
	g := newGroup(t)
	server := channel.New(g.Next(), local.NewServer(reg, acceptor(g)))
	require.NoError(t, server.Open())
	await(t, server.Bind(local.Addr("gone")))
	await(t, server.Close())

	client := channel.New(g.Next(), local.NewClient(reg))
	require.NoError(t, client.Open())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, client.Connect(local.Addr("gone"), nil).Await(ctx))
}
