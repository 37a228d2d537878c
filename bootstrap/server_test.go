package bootstrap_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/bootstrap"
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

// tally is shared by every pipeline it is installed in.
type tally struct{ bytes atomic.Int64 }

func (t *tally) Clone() channel.Handler { return t }
func (t *tally) BufferReceived(ctx *channel.HandlerContext, buf buffer.Buffer) error {
	t.bytes.Add(int64(buf.ReadableLen()))
	ctx.FireBufferReceived(buf)
	return nil
}

// seen is cloned for every pipeline.
type seen struct{ n int }

func (*seen) Clone() channel.Handler { return &seen{} }

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

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestRecipeString(t *testing.T) {
	r := bootstrap.Recipe{{Name: "a", Handler: echo{}}, {Name: "b", Handler: &seen{}}}
	assert.Equal(t, "Recipe{a, b}", r.String())
	assert.Equal(t, "Recipe{}", bootstrap.Recipe{}.String())
}

func TestServerAndClientOverLocalTransport(t *testing.T) {
	reg := local.NewRegistry()
	g := newGroup(t)
	shared := &tally{}
	proto := &seen{}

	srv := bootstrap.NewServer(g, bootstrap.LocalServer(reg),
		bootstrap.WithHandler("tally", shared),
		bootstrap.WithHandler("seen", proto),
		bootstrap.WithHandler("echo", echo{}))
	require.NoError(t, srv.Bind(local.Addr("local:echo")).Await(ctx(t)))
	assert.Equal(t, local.Addr("local:echo"), srv.Addr())
	assert.ErrorIs(t, srv.Bind(local.Addr("local:other")).Await(ctx(t)), bootstrap.ErrAlreadyBound)

	got := make(sink, 8)
	cli := bootstrap.NewClient(g, bootstrap.LocalClient(reg), bootstrap.WithHandler("sink", got))

	var conns []*channel.Channel
	for range 2 {
		f := cli.Connect(local.Addr("local:echo"))
		require.NoError(t, f.Await(ctx(t)))
		ch, ok := f.Value().(*channel.Channel)
		require.True(t, ok)
		assert.True(t, ch.IsActive())
		conns = append(conns, ch)
	}
	assert.Len(t, cli.Channels(), 2)

	for i, ch := range conns {
		msg := []string{"one", "two"}[i]
		require.NoError(t, ch.WriteAndFlush([]byte(msg)).Await(ctx(t)))
		select {
		case s := <-got:
			assert.Equal(t, msg, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("no echo for %q", msg)
		}
	}

	assert.EqualValues(t, 2, srv.Accepted())
	children := srv.Children()
	require.Len(t, children, 2)
	assert.EqualValues(t, 6, shared.bytes.Load())
	for _, child := range children {
		assert.Same(t, shared, child.Pipeline().Get("tally"))
		assert.NotSame(t, proto, child.Pipeline().Get("seen"))
		assert.Equal(t, []string{"tally", "seen", "echo"}, child.Pipeline().Names())
	}

	require.NoError(t, srv.Shutdown(ctx(t)))
	assert.Empty(t, srv.Children())
	assert.Empty(t, reg.Bound())
	assert.Eventually(t, func() bool { return len(cli.Channels()) == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, cli.Close(ctx(t)))
}

func TestClientConnectRefused(t *testing.T) {
	g := newGroup(t)
	cli := bootstrap.NewClient(g, bootstrap.LocalClient(local.NewRegistry()))
	f := cli.Connect(local.Addr("local:nobody"))
	assert.Error(t, f.Await(ctx(t)))
	assert.Nil(t, f.Value())
	assert.Empty(t, cli.Channels())
}

func TestChildInitializerFailureClosesConnection(t *testing.T) {
	reg := local.NewRegistry()
	g := newGroup(t)
	srv := bootstrap.NewServer(g, bootstrap.LocalServer(reg),
		bootstrap.WithHandler("dup", &seen{}),
		bootstrap.WithInitializer(func(ch *channel.Channel) error {
			return ch.Pipeline().AddLast("dup", echo{})
		}))
	require.NoError(t, srv.Bind(local.Addr("local:broken")).Await(ctx(t)))

	cli := bootstrap.NewClient(g, bootstrap.LocalClient(reg))
	f := cli.Connect(local.Addr("local:broken"))
	require.NoError(t, f.Await(ctx(t)))
	ch := f.Value().(*channel.Channel)
	require.NoError(t, ch.CloseFuture().Await(ctx(t)))
	assert.EqualValues(t, 1, srv.Accepted())
	assert.Empty(t, srv.Children())
	require.NoError(t, srv.Shutdown(ctx(t)))
}
