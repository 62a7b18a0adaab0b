package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fishdbc/emit/sqlite"
	"github.com/hupe1980/fishdbc/tokens"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
dimension: 384
metric: l2
transform: neglog
index:
  m: 24
  seed: 42
clustering:
  min_cluster_size: 8
  k_rescale: 16
  maintenance_interval: 30s
oracle:
  timeout: 500ms
  unavailable_after: 3
storage:
  dir: /var/lib/fishdbc
  compression: lz4
  restore: true
emit:
  sqlite: /var/lib/fishdbc/out.db
  mqtt:
    url: tcp://broker:1883
    qos: 1
`))
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.Dimension)
	assert.Equal(t, "l2", cfg.Metric)
	assert.Equal(t, 24, cfg.Index.M)
	require.NotNil(t, cfg.Index.Seed)
	assert.Equal(t, int64(42), *cfg.Index.Seed)
	assert.Equal(t, 8, cfg.Clustering.MinClusterSize)
	assert.Equal(t, 30*time.Second, cfg.Clustering.MaintenanceInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Oracle.Timeout)
	assert.True(t, cfg.Storage.Restore)
	require.NotNil(t, cfg.Emit.MQTT)
	assert.Equal(t, byte(1), cfg.Emit.MQTT.QoS)

	// Untouched keys keep their defaults.
	assert.Equal(t, 0.3, cfg.Clustering.RebuildThreshold)
	assert.True(t, cfg.Clustering.AllowSingleCluster)
	assert.Equal(t, 3, cfg.Storage.SnapshotRetain)

	require.NoError(t, cfg.Validate())
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("dimension: 3\nmin_cluster: 4\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fishdbc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dimension: 2\nlog:\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Dimension)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"dimension", func(c *Config) { c.Dimension = 0 }, "dimension must be positive"},
		{"metric", func(c *Config) { c.Metric = "manhattan" }, "manhattan"},
		{"transform", func(c *Config) { c.Transform = "sigmoid" }, "sigmoid"},
		{"compression", func(c *Config) { c.Storage.Compression = "gzip" }, "gzip"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"rebuild threshold", func(c *Config) { c.Clustering.RebuildThreshold = 1.5 }, "rebuild_threshold"},
		{"min cluster size", func(c *Config) { c.Clustering.MinClusterSize = 1 }, "min_cluster_size"},
		{"two stores", func(c *Config) {
			c.Storage.S3 = &S3Config{Bucket: "a"}
			c.Storage.MinIO = &MinIOConfig{Bucket: "b"}
		}, "mutually exclusive"},
		{"qos", func(c *Config) { c.Emit.MQTT = &MQTTConfig{QoS: 3} }, "qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Dimension = 4
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)

			_, err = cfg.Options()
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FISHDBC_DIR", "/data")
	t.Setenv("FISHDBC_TOKENS_DIR", "/tokens")
	t.Setenv("FISHDBC_LOG_LEVEL", "debug")
	t.Setenv("FISHDBC_MQTT_URL", "tcp://localhost:1883")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "/data", cfg.Storage.Dir)
	assert.Equal(t, "/tokens", cfg.Tokens.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NotNil(t, cfg.Emit.MQTT)
	assert.Equal(t, "tcp://localhost:1883", cfg.Emit.MQTT.URL)
}

func TestCollaborators(t *testing.T) {
	ctx := context.Background()
	cfg := Default()

	store, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, store)

	em, err := cfg.OpenEmitter(ctx)
	require.NoError(t, err)
	assert.Nil(t, em)

	cfg.Emit.SQLite = filepath.Join(t.TempDir(), "out.db")
	em, err = cfg.OpenEmitter(ctx)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, em)
	require.NoError(t, em.Close())

	cfg.Emit.MQTT = &MQTTConfig{URL: "tcp://localhost:1", Codec: "yaml"}
	_, err = cfg.OpenEmitter(ctx)
	assert.ErrorContains(t, err, "unknown codec")

	ts, err := cfg.OpenTokens(nil)
	require.NoError(t, err)
	assert.IsType(t, &tokens.MemoryStore{}, ts)

	cfg.Tokens.Dir = t.TempDir()
	ts, err = cfg.OpenTokens(nil)
	require.NoError(t, err)
	require.NoError(t, ts.Put(ctx, "r", [][]float32{{1, 0}}))
	require.NoError(t, ts.Close())

	assert.NotNil(t, cfg.Scorer(tokens.NewMemoryStore()))
}
