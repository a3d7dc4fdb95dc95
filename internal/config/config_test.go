package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadClientEmptyPathReturnsDefaults(t *testing.T) {
	c, err := LoadClient("")
	require.NoError(t, err)
	require.Equal(t, DefaultClient(), c)
}

func TestLoadClientMissingFileReturnsDefaults(t *testing.T) {
	c, err := LoadClient(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultClient(), c)
}

func TestLoadClientOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverURL: ws://example.test:9000/ws
destDir: /tmp/incoming
`), 0o644))

	c, err := LoadClient(path)
	require.NoError(t, err)
	require.Equal(t, "ws://example.test:9000/ws", c.ServerURL)
	require.Equal(t, "/tmp/incoming", c.DestDir)
	// Fields absent from the YAML keep their reference defaults.
	require.Equal(t, DefaultClient().ICEServers, c.ICEServers)
}

func TestLoadClientMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := LoadClient(path)
	require.Error(t, err)
}

func TestLoadServerOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: 0.0.0.0:9090
metricsAddr: 0.0.0.0:9091
`), 0o644))

	s, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9090", s.Addr)
	require.Equal(t, "0.0.0.0:9091", s.MetricsAddr)
	require.Equal(t, DefaultServer().StunServers, s.StunServers)
}
