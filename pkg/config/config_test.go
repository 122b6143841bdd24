package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "canopy.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log:
  level: debug
datastore:
  dataDir: /var/lib/canopy
  shards:
    - prefix: /network
      persistent: true
    - datastore: operational
      prefix: /stats/interface=eth0
api:
  grpcAddr: ""
`), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, cfg.Log.Level)
	assert.Equal(t, 64, cfg.Datastore.CommitQueueSize, "defaults survive")
	assert.Equal(t, "127.0.0.1:9090", cfg.API.HTTPAddr)
	assert.Empty(t, cfg.API.GRPCAddr)

	require.Len(t, cfg.Datastore.Shards, 2)
	id, err := cfg.Datastore.Shards[0].ID()
	require.NoError(t, err)
	assert.Equal(t, "config:/network", id.String())
	assert.True(t, cfg.Datastore.Shards[0].Persistent)
	id, err = cfg.Datastore.Shards[1].ID()
	require.NoError(t, err)
	assert.Equal(t, types.Operational, id.Datastore)
	assert.Equal(t, "/stats/interface=eth0", id.Path.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed yaml", yaml: "log: ["},
		{name: "unknown datastore", yaml: "datastore:\n  shards:\n    - datastore: other\n      prefix: /a\n"},
		{name: "relative prefix", yaml: "datastore:\n  shards:\n    - prefix: a/b\n"},
		{name: "root prefix", yaml: "datastore:\n  shards:\n    - prefix: /\n"},
		{name: "duplicate shard", yaml: "datastore:\n  shards:\n    - prefix: /a\n    - prefix: /a/\n"},
		{name: "persistent without data dir", yaml: "datastore:\n  shards:\n    - prefix: /a\n      persistent: true\n"},
		{name: "negative queue", yaml: "datastore:\n  commitQueueSize: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
