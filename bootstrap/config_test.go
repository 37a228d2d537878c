package bootstrap_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/bootstrap"
	"github.com/momentics/hioload-pipeline/transport/local"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, bootstrap.DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := bootstrap.LoadConfig("testdata/server.yaml")
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/7100", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 8192, cfg.ReadSize)
	assert.Equal(t, 65536, cfg.MaxFrame)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 1<<20, cfg.RateLimit)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"transport": "transport: udp\n",
		"readSize":  "readSize: 0\n",
		"listen":    "listen: /ip4/1.2.3.4/udp/53\n",
		"workers":   "workers: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := bootstrap.LoadConfig(path)
			assert.ErrorIs(t, err, api.ErrInvalidArgument)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := bootstrap.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseAddress(t *testing.T) {
	a, err := bootstrap.ParseAddress("local:echo")
	require.NoError(t, err)
	assert.Equal(t, local.Addr("local:echo"), a)

	a, err = bootstrap.ParseAddress("/ip4/127.0.0.1/tcp/7000")
	require.NoError(t, err)
	require.IsType(t, &net.TCPAddr{}, a)
	assert.Equal(t, "127.0.0.1:7000", a.String())

	a, err = bootstrap.ParseAddress("127.0.0.1:80")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:80", a.String())

	for _, bad := range []string{"", "/nope/1", "/ip4/127.0.0.1/udp/53", "no-port"} {
		_, err := bootstrap.ParseAddress(bad)
		assert.ErrorIs(t, err, api.ErrInvalidArgument, bad)
	}
}
