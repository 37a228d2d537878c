package channel_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/channel/embedded"
	"github.com/momentics/hioload-pipeline/core/future"
	"github.com/momentics/hioload-pipeline/fake"
)

func newChannel(t *testing.T, opts ...channel.Option) (*channel.Channel, *fake.Transport, *fake.Log) {
	t.Helper()
	log := &fake.Log{}
	tr := fake.NewTransport()
	opts = append([]channel.Option{channel.WithInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("rec", &fake.Inbound{Name: "rec", Log: log})
	})}, opts...)
	return channel.New(embedded.NewExecutor(), tr, opts...), tr, log
}

func TestOpenCreatesPipelineOnce(t *testing.T) {
	ch, _, log := newChannel(t)
	assert.Equal(t, channel.StateInit, ch.State())
	assert.Nil(t, ch.Pipeline())

	require.NoError(t, ch.Open())
	assert.Equal(t, channel.StateOpened, ch.State())
	p := ch.Pipeline()
	require.NotNil(t, p)
	assert.Equal(t, []string{"rec"}, p.Names())
	require.NotNil(t, ch.CloseFuture())
	assert.False(t, ch.CloseFuture().IsDone())

	require.NoError(t, ch.Open())
	assert.Same(t, p, ch.Pipeline())
	assert.Equal(t, 1, log.Count("rec:open"))
}

func TestBindActivates(t *testing.T) {
	ch, tr, log := newChannel(t)
	require.NoError(t, ch.Open())
	f := ch.Bind(fake.Addr("local:1"))
	require.True(t, f.IsDone())
	require.NoError(t, f.Err())
	assert.True(t, ch.IsActive())
	assert.Equal(t, 1, log.Count("rec:active"))
	assert.Equal(t, []string{"bind"}, tr.Calls())
	assert.Equal(t, fmt.Sprintf("[id: 0x%08x, local:1]", ch.ID()), ch.String())
}

func TestBindRefusedReportsFailure(t *testing.T) {
	ch, tr, log := newChannel(t)
	tr.BindResult = fake.Result{OK: false}
	require.NoError(t, ch.Open())

	f := ch.Bind(fake.Addr("local:1"))
	require.True(t, f.IsDone())
	assert.ErrorIs(t, f.Err(), api.ErrChannelOperation)
	assert.Contains(t, f.Err().Error(), "unable to bind to local:1")
	assert.Equal(t, channel.StateOpened, ch.State())
	assert.Equal(t, 0, log.Count("rec:active"))
	assert.Contains(t, log.Events(), "rec:exception:unable to bind to local:1")
}

func TestBindTransportErrorKeepsCause(t *testing.T) {
	ch, tr, _ := newChannel(t)
	cause := errors.New("address in use")
	tr.BindResult = fake.Result{Err: cause}
	require.NoError(t, ch.Open())
	f := ch.Bind(fake.Addr("local:1"))
	assert.ErrorIs(t, f.Err(), cause)
	assert.ErrorIs(t, f.Err(), api.ErrChannelOperation)
}

func TestBindTransportPanicIsContained(t *testing.T) {
	ch, tr, _ := newChannel(t)
	tr.BindResult = fake.Result{Panic: "driver bug"}
	require.NoError(t, ch.Open())
	f := ch.Bind(fake.Addr("local:1"))
	require.Error(t, f.Err())
	assert.Contains(t, f.Err().Error(), "driver bug")
}

func TestBindBeforeOpenFails(t *testing.T) {
	ch, tr, _ := newChannel(t)
	f := ch.Bind(fake.Addr("local:1"))
	require.True(t, f.IsDone())
	assert.ErrorIs(t, f.Err(), api.ErrChannelOperation)
	assert.Empty(t, tr.Calls())
}

func TestCloseActiveChannel(t *testing.T) {
	ch, tr, log := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Bind(fake.Addr("local:1")).Err())

	f := ch.Close()
	require.True(t, f.IsSuccess())
	assert.Equal(t, channel.StateInactive, ch.State())
	assert.False(t, ch.IsOpen())
	assert.Equal(t, 1, log.Count("rec:inactive"))
	assert.True(t, ch.CloseFuture().IsSuccess())
	assert.Equal(t, []string{"bind", "close"}, tr.Calls())

	assert.True(t, ch.Close().IsSuccess())
	assert.Equal(t, 1, log.Count("rec:inactive"))
}

func TestCloseNeverOpened(t *testing.T) {
	ch, tr, log := newChannel(t)
	cf := ch.CloseFuture()
	require.NotNil(t, cf)
	assert.False(t, cf.IsDone())

	f := ch.Close()
	assert.Same(t, cf, f)
	assert.True(t, f.IsSuccess())
	assert.Equal(t, channel.StateInit, ch.State())
	assert.Empty(t, tr.Calls())
	assert.Empty(t, log.Events())
}

func TestCloseOpenedButInactive(t *testing.T) {
	ch, tr, log := newChannel(t)
	require.NoError(t, ch.Open())
	assert.True(t, ch.Close().IsSuccess())
	assert.Equal(t, 0, log.Count("rec:inactive"))
	assert.True(t, ch.CloseFuture().IsSuccess())
	assert.Equal(t, []string{"close"}, tr.Calls())
}

func TestDisconnect(t *testing.T) {
	ch, tr, log := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Connect(fake.Addr("remote:9"), nil).Err())
	assert.True(t, ch.IsActive())

	assert.True(t, ch.Disconnect().IsSuccess())
	assert.Equal(t, channel.StateInactive, ch.State())
	assert.Equal(t, 1, log.Count("rec:inactive"))
	assert.Equal(t, []string{"connect", "disconnect"}, tr.Calls())
}

func TestPendingConnect(t *testing.T) {
	ch, tr, log := newChannel(t)
	tr.ConnectResult = fake.Result{Err: channel.ErrConnectPending}
	require.NoError(t, ch.Open())
	f := ch.Connect(fake.Addr("remote:9"), nil)
	assert.False(t, f.IsDone())
	assert.False(t, ch.IsActive())

	second := ch.Connect(fake.Addr("remote:9"), nil)
	assert.ErrorIs(t, second.Err(), api.ErrChannelOperation)

	ch.FinishConnect(nil)
	assert.True(t, f.IsSuccess())
	assert.True(t, ch.IsActive())
	assert.Equal(t, 1, log.Count("rec:active"))
}

func TestPendingConnectFailsOnClose(t *testing.T) {
	ch, tr, _ := newChannel(t)
	tr.ConnectResult = fake.Result{Err: channel.ErrConnectPending}
	require.NoError(t, ch.Open())
	f := ch.Connect(fake.Addr("remote:9"), nil)
	ch.Close()
	assert.ErrorIs(t, f.Err(), api.ErrChannelClosed)
}

func TestReopenReplacesCloseFuture(t *testing.T) {
	ch, _, log := newChannel(t)
	require.NoError(t, ch.Open())
	p, first := ch.Pipeline(), ch.CloseFuture()
	ch.Close()
	require.True(t, first.IsDone())

	require.NoError(t, ch.Open())
	assert.Same(t, p, ch.Pipeline())
	assert.NotSame(t, first, ch.CloseFuture())
	assert.False(t, ch.CloseFuture().IsDone())
	assert.Equal(t, 2, log.Count("rec:open"))
}

func TestIdentityAndOrdering(t *testing.T) {
	a, _, _ := newChannel(t)
	b, _, _ := newChannel(t)
	assert.NotZero(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 0, a.CompareTo(a))
	assert.Equal(t, -b.CompareTo(a), a.CompareTo(b))
	assert.Equal(t, 1, a.CompareTo(nil))

	fixed, _, _ := newChannel(t, channel.WithID(0x2a))
	assert.Equal(t, uint32(0x2a), fixed.ID())
	assert.Equal(t, "[id: 0x0000002a]", fixed.String())
}

func TestStringOfAcceptedChannel(t *testing.T) {
	parent, _, _ := newChannel(t, channel.WithID(1))
	tr := fake.NewTransport()
	tr.Local, tr.Remote = fake.Addr("server:80"), fake.Addr("client:5000")
	child := channel.New(embedded.NewExecutor(), tr, channel.WithParent(parent), channel.WithID(2))
	assert.Equal(t, "[id: 0x00000002, client:5000 => server:80]", child.String())

	tr2 := fake.NewTransport()
	tr2.Local, tr2.Remote = fake.Addr("client:5000"), fake.Addr("server:80")
	out := channel.New(embedded.NewExecutor(), tr2, channel.WithID(3))
	assert.Equal(t, "[id: 0x00000003, client:5000 => server:80]", out.String())
}

func TestChildrenAreTracked(t *testing.T) {
	parent, _, _ := newChannel(t)
	child := channel.New(embedded.NewExecutor(), fake.NewTransport(), channel.WithParent(parent))
	assert.Equal(t, []*channel.Channel{child}, parent.Children())
	assert.Same(t, parent, child.Parent())

	require.NoError(t, child.Open())
	assert.True(t, child.Activate())
	child.Close()
	assert.Empty(t, parent.Children())
}

func TestChildrenWithSameIDAreDistinct(t *testing.T) {
	parent, _, _ := newChannel(t)
	a := channel.New(embedded.NewExecutor(), fake.NewTransport(), channel.WithParent(parent), channel.WithID(7))
	b := channel.New(embedded.NewExecutor(), fake.NewTransport(), channel.WithParent(parent), channel.WithID(7))
	require.Len(t, parent.Children(), 2)
	assert.ElementsMatch(t, []*channel.Channel{a, b}, parent.Children())

	a.Close()
	assert.Equal(t, []*channel.Channel{b}, parent.Children())
	b.Close()
	assert.Empty(t, parent.Children())
}

func TestWriteRequiresActiveChannel(t *testing.T) {
	ch, tr, _ := newChannel(t)
	require.NoError(t, ch.Open())
	f := ch.WriteAndFlush([]byte("x"))
	assert.ErrorIs(t, f.Err(), api.ErrChannelClosed)
	assert.Empty(t, tr.Written())
}

func TestWriteFailureFromTransport(t *testing.T) {
	ch, tr, log := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Bind(fake.Addr("l")).Err())
	tr.WriteErr = errors.New("broken pipe")
	f := ch.WriteAndFlush([]byte("x"))
	assert.EqualError(t, f.Err(), "broken pipe")
	assert.Contains(t, log.Events(), "rec:exception:broken pipe")
}

func TestUnsupportedOutboundMessage(t *testing.T) {
	ch, _, _ := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Bind(fake.Addr("l")).Err())
	f := ch.Write(struct{}{})
	assert.ErrorIs(t, f.Err(), api.ErrNotSupported)
}

func TestWritesQueuedDuringFlushAreFlushed(t *testing.T) {
	ch, tr, _ := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Bind(fake.Addr("l")).Err())

	f := ch.Write([]byte("first"))
	f.AddListener(func(*future.Future) { ch.WriteAndFlush([]byte("second")) })
	ch.Flush()
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, tr.Written())
	assert.Equal(t, []string{"bind", "write", "write"}, tr.Calls())
}

func TestCloseFailsQueuedWrites(t *testing.T) {
	ch, tr, _ := newChannel(t)
	require.NoError(t, ch.Open())
	require.NoError(t, ch.Bind(fake.Addr("l")).Err())
	f := ch.Write([]byte("never flushed"))
	ch.Close()
	assert.ErrorIs(t, f.Err(), api.ErrChannelClosed)
	assert.Empty(t, tr.Written())
}

func TestAttributes(t *testing.T) {
	ch, _, _ := newChannel(t)
	ch.SetAttr("user", "alice")
	v, ok := ch.Attr("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
	ch.SetAttr("user", nil)
	_, ok = ch.Attr("user")
	assert.False(t, ok)
}

func TestInitializerError(t *testing.T) {
	calls := 0
	ch := channel.New(embedded.NewExecutor(), fake.NewTransport(), channel.WithInitializer(func(ch *channel.Channel) error {
		calls++
		if calls == 1 {
			return errors.New("bad recipe")
		}
		return ch.Pipeline().AddLast("h", &fake.Inbound{Name: "h", Log: &fake.Log{}})
	}))
	assert.EqualError(t, ch.Open(), "bad recipe")
	assert.False(t, ch.IsOpen())
	assert.Equal(t, channel.StateInit, ch.State())
	assert.Nil(t, ch.Pipeline())

	require.NoError(t, ch.Open())
	assert.Equal(t, 2, calls)
	assert.Equal(t, channel.StateOpened, ch.State())
	assert.Equal(t, []string{"h"}, ch.Pipeline().Names())
}
