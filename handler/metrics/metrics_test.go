package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel/embedded"
	"github.com/momentics/hioload-pipeline/handler/metrics"
)

func TestCollectorsTrackPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollectors(reg, "test")
	require.NoError(t, err)
	h := metrics.New(c)

	a, err := embedded.New(h)
	require.NoError(t, err)
	b, err := embedded.New(h)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Active))

	_, err = a.WriteInbound([]byte("abcd"), "msg")
	require.NoError(t, err)
	_, err = a.WriteOutbound([]byte("xy"), buffer.CopyOf([]byte("z")))
	require.NoError(t, err)
	b.Pipeline().FireExceptionCaught(errors.New("boom"))
	b.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Active))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Connections))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.BytesIn))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesIn))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.BytesOut))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.MessagesOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Exceptions))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewCollectors(reg, "dup")
	require.NoError(t, err)
	_, err = metrics.NewCollectors(reg, "dup")
	assert.Error(t, err)
}
