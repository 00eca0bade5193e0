package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.True(t, cfg.Index.IsEnabled())
	assert.Equal(t, 500, cfg.Index.BatchSize)
	assert.Equal(t, 50, cfg.Index.MinBatchSize)
	assert.Equal(t, 20, cfg.Index.WriterThreads)
	assert.Equal(t, 1000, cfg.Index.MaxQueueSize)
	assert.Equal(t, 4000, cfg.Index.OptimizeAfter)
	assert.Equal(t, StrategyProject, cfg.Index.Strategy)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "file", cfg.Lock.Kind)
	assert.Equal(t, "issueindex", cfg.Events.SubjectPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesResolvesPaths(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DataDirName, "index"), cfg.Index.RootPath)
	assert.Equal(t, filepath.Join(dir, DataDirName, "issues.db"), cfg.Storage.DSN)
	assert.Equal(t, filepath.Join(dir, DataDirName, "index", "reindex.flock"), cfg.Lock.Path)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// Given: a project config with an explicit false and a few overrides
	writeFile(t, ProjectConfigPath(dir), `
index:
  enabled: false
  batch_size: 250
  strategy: idrange
  root_path: data/idx
storage:
  driver: sqlite3
`)

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: overrides apply and untouched keys keep defaults
	assert.False(t, cfg.Index.IsEnabled())
	assert.Equal(t, 250, cfg.Index.BatchSize)
	assert.Equal(t, StrategyIDRange, cfg.Index.Strategy)
	assert.Equal(t, filepath.Join(dir, "data", "idx"), cfg.Index.RootPath)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, 20, cfg.Index.WriterThreads)
}

func TestLoad_UserConfigThenProjectConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := t.TempDir()

	// Given: user config sets two values, project config overrides one
	writeFile(t, filepath.Join(xdg, "issueindex", "config.yaml"), `
index:
  writer_threads: 4
  optimize_after: 100
`)
	writeFile(t, ProjectConfigPath(dir), `
index:
  writer_threads: 8
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Index.WriterThreads)
	assert.Equal(t, 100, cfg.Index.OptimizeAfter)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, ProjectConfigPath(dir), "index:\n  batch_size: 250\n")

	t.Setenv("ISSUEINDEX_BATCH_SIZE", "75")
	t.Setenv("ISSUEINDEX_ENABLED", "0")
	t.Setenv("ISSUEINDEX_WRITER_THREADS", "-3")
	t.Setenv("ISSUEINDEX_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.Index.BatchSize)
	assert.False(t, cfg.Index.IsEnabled())
	assert.Equal(t, 20, cfg.Index.WriterThreads, "non-positive env values are ignored")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, ProjectConfigPath(dir), "index: [unclosed")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero batch size", func(c *Config) { c.Index.BatchSize = 0 }, "index.batch_size"},
		{"zero writer threads", func(c *Config) { c.Index.WriterThreads = 0 }, "index.writer_threads"},
		{"zero optimize after", func(c *Config) { c.Index.OptimizeAfter = 0 }, "index.optimize_after"},
		{"unknown strategy", func(c *Config) { c.Index.Strategy = "random" }, "index.strategy"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "oracle" }, "storage.backend"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "pgx" }, "storage.driver"},
		{"mongo without uri", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.mongo_uri"},
		{"unknown lock", func(c *Config) { c.Lock.Kind = "redis" }, "lock.kind"},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	// Given: a config with indexing disabled
	cfg := NewConfig()
	disabled := false
	cfg.Index.Enabled = &disabled
	path := filepath.Join(t.TempDir(), "out.yaml")

	// When: writing and loading it back
	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	// Then: the toggle survives
	require.NoError(t, err)
	assert.False(t, loaded.Index.IsEnabled())
}
