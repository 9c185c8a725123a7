package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyraft/raftcore/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raftd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
id = 1
listen-addr = "127.0.0.1:7000"
data-dir = "/tmp/raftd-1"

[[peers]]
id = 2
address = "127.0.0.1:7001"

[[peers]]
id = 3
address = "127.0.0.1:7002"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.ID)
	require.Equal(t, 10, cfg.ElectionTick)
	require.Equal(t, 1, cfg.HeartbeatTick)
	require.Len(t, cfg.Peers, 2)

	chunk, err := cfg.SnapshotChunkBytes()
	require.NoError(t, err)
	require.Equal(t, int64(4*1024*1024), chunk)
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := writeConfig(t, `
listen-addr = "127.0.0.1:7000"
data-dir = "/tmp/raftd-1"
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTickRelation(t *testing.T) {
	path := writeConfig(t, `
id = 1
listen-addr = "127.0.0.1:7000"
data-dir = "/tmp/raftd-1"
election-tick = 1
heartbeat-tick = 5
`)
	_, err := config.Load(path)
	require.Error(t, err)
}
