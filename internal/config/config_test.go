package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "journal", cfg.Catalog.Type)
	assert.Equal(t, "fs", cfg.Storage.Type)
	assert.True(t, cfg.GC.EnableTombstoneStage)
	assert.True(t, cfg.GC.EnableHardDeleteStage)
	assert.Equal(t, 10, cfg.Policy.KeepLastN)
	assert.Equal(t, 30*24, cfg.Policy.MaxAgeHours)
}

func TestLoadFromPathOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapgc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog:
  type: sqlite
  path: /var/lib/snapgc/catalog.db
gc:
  dryRun: true
  gracePeriodMs: 60000
policy:
  keepLastN: 3
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Catalog.Type)
	assert.Equal(t, "/var/lib/snapgc/catalog.db", cfg.Catalog.Path)
	assert.True(t, cfg.GC.DryRun)
	assert.Equal(t, int64(60000), cfg.GC.GracePeriodMs)
	assert.Equal(t, 3, cfg.Policy.KeepLastN)

	// Unspecified keys keep their defaults, including stage toggles.
	assert.True(t, cfg.GC.EnableTombstoneStage)
	assert.Equal(t, 50, cfg.GC.BatchDeleteSize)
}

func TestLoadFromPathStageCanBeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapgc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gc:
  enableHardDeleteStage: false
`), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.True(t, cfg.GC.EnableTombstoneStage)
	assert.False(t, cfg.GC.EnableHardDeleteStage)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SNAPGC_CONFIG", "")
	t.Setenv("SNAPGC_CATALOG_PATH", "/tmp/override.log")
	t.Setenv("SNAPGC_KEEP_LAST_N", "7")
	t.Setenv("SNAPGC_DRY_RUN", "true")
	t.Setenv("SNAPGC_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.log", cfg.Catalog.Path)
	assert.Equal(t, 7, cfg.Policy.KeepLastN)
	assert.True(t, cfg.GC.DryRun)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.Kafka.Brokers)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown catalog type": func(c *Config) { c.Catalog.Type = "etcd" },
		"sqlite without path":  func(c *Config) { c.Catalog.Type = "sqlite"; c.Catalog.Path = "" },
		"oxia without address": func(c *Config) { c.Catalog.Type = "oxia" },
		"unknown storage type": func(c *Config) { c.Storage.Type = "gcs" },
		"s3 without bucket":    func(c *Config) { c.Storage.Type = "s3" },
		"unknown leader type":  func(c *Config) { c.Leader.Type = "zookeeper" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
