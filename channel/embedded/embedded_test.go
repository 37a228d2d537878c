package embedded_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/channel/embedded"
	"github.com/momentics/hioload-pipeline/core/future"
)

type doubler struct{}

func (doubler) Clone() channel.Handler { return doubler{} }
func (doubler) MessageReceived(ctx *channel.HandlerContext, msg any) error {
	n, ok := msg.(int)
	if !ok {
		return errors.New("not an int")
	}
	ctx.FireMessageReceived(n * 2)
	return nil
}

type upper struct{}

func (upper) Clone() channel.Handler { return upper{} }
func (upper) Write(ctx *channel.HandlerContext, msg any, f *future.Future) error {
	s, ok := msg.(string)
	if !ok {
		return errors.New("not a string")
	}
	out := make([]byte, len(s))
	for i := range len(s) {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	ctx.WriteWith(out, f)
	return nil
}

func TestInboundMessagesReachCapture(t *testing.T) {
	ch, err := embedded.New(doubler{})
	require.NoError(t, err)
	assert.True(t, ch.IsActive())
	assert.Equal(t, []string{"handler-0", "capture"}, ch.Pipeline().Names())

	got, err := ch.WriteInbound(1, 21)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 2, ch.InboundLen())
	assert.Equal(t, 2, ch.ReadInbound())
	assert.Equal(t, 42, ch.ReadInbound())
	assert.Nil(t, ch.ReadInbound())
}

func TestInboundBytesTravelAsBuffers(t *testing.T) {
	ch, err := embedded.New()
	require.NoError(t, err)
	_, err = ch.WriteInbound([]byte("raw"))
	require.NoError(t, err)
	buf, ok := ch.ReadInbound().(buffer.Buffer)
	require.True(t, ok)
	assert.Equal(t, []byte("raw"), buffer.Bytes(buf))
}

func TestHandlerErrorsSurface(t *testing.T) {
	ch, err := embedded.New(doubler{})
	require.NoError(t, err)
	got, err := ch.WriteInbound("nope")
	assert.False(t, got)
	assert.EqualError(t, err, "not an int")
	assert.NoError(t, ch.CheckException())
}

func TestOutboundReachesTransport(t *testing.T) {
	ch, err := embedded.New(upper{})
	require.NoError(t, err)
	got, err := ch.WriteOutbound("hello", "go")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 2, ch.OutboundLen())
	assert.Equal(t, []byte("HELLO"), buffer.Bytes(ch.ReadOutbound()))
	assert.Equal(t, []byte("GO"), buffer.Bytes(ch.ReadOutbound()))
	assert.Nil(t, ch.ReadOutbound())
}

func TestOutboundErrorsAreJoined(t *testing.T) {
	ch, err := embedded.New(upper{})
	require.NoError(t, err)
	got, err := ch.WriteOutbound(7)
	assert.False(t, got)
	assert.EqualError(t, err, "not a string")
}

func TestVirtualClock(t *testing.T) {
	ch, err := embedded.New()
	require.NoError(t, err)
	exec := ch.Executor()
	start := exec.Now()

	var order []string
	_, err = exec.Schedule(2*time.Second, func() { order = append(order, "late") })
	require.NoError(t, err)
	_, err = exec.Schedule(time.Second, func() { order = append(order, "early") })
	require.NoError(t, err)
	cancelled, err := exec.Schedule(time.Second, func() { order = append(order, "cancelled") })
	require.NoError(t, err)
	require.NoError(t, cancelled.Cancel())
	assert.Equal(t, 2, exec.Pending())

	ch.Advance(500 * time.Millisecond)
	assert.Empty(t, order)
	ch.Advance(2 * time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, 0, exec.Pending())
	assert.Equal(t, start.Add(2500*time.Millisecond), exec.Now())
	assert.True(t, exec.InEventLoop())
}

func TestFinish(t *testing.T) {
	ch, err := embedded.New(doubler{})
	require.NoError(t, err)
	_, err = ch.WriteInbound(3)
	require.NoError(t, err)

	pending, err := ch.Finish()
	require.NoError(t, err)
	assert.True(t, pending)
	assert.False(t, ch.IsOpen())
	assert.True(t, ch.CloseFuture().IsSuccess())
}
