package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-deployment configuration file.
const ProjectConfigName = ".issueindex.yaml"

// DataDirName is the directory, relative to the project dir, that holds the
// index, the SQLite store and lock files unless overridden.
const DataDirName = ".issueindex"

// Batcher strategies accepted by index.strategy.
const (
	StrategyProject = "project"
	StrategyIDRange = "idrange"
)

// Config represents the complete issueindex configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Lock    LockConfig    `yaml:"lock" json:"lock"`
	Events  EventsConfig  `yaml:"events" json:"events"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig configures the issue indexer and the index manager.
type IndexConfig struct {
	// RootPath holds one sub-directory per index kind.
	RootPath string `yaml:"root_path" json:"root_path"`

	// Enabled toggles indexing. While disabled every operation is a no-op.
	// A pointer so that an explicit false in YAML survives merging.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// BatchSize bounds the number of issues per batch and per engine commit.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MinBatchSize is the smallest batch worth the multi-threaded path.
	MinBatchSize int `yaml:"min_batch_size" json:"min_batch_size"`

	WriterThreads int `yaml:"writer_threads" json:"writer_threads"`
	MaxQueueSize  int `yaml:"max_queue_size" json:"max_queue_size"`

	// OptimizeAfter is the number of incrementally indexed issues after
	// which the next incremental update compacts the indexes.
	OptimizeAfter int `yaml:"optimize_after" json:"optimize_after"`

	// Strategy selects the default batcher for full reindex: project or idrange.
	Strategy string `yaml:"strategy" json:"strategy"`
}

// IsEnabled reports whether indexing is enabled, defaulting to true.
func (c IndexConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StorageConfig configures the relational store the index mirrors.
type StorageConfig struct {
	// Backend is sqlite or mongo.
	Backend string `yaml:"backend" json:"backend"`

	// Driver is the database/sql driver for the sqlite backend:
	// "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	MongoURI      string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" json:"mongo_database"`

	// ProjectsCacheSize is the LRU size for project lookups.
	ProjectsCacheSize int `yaml:"projects_cache_size" json:"projects_cache_size"`
}

// LockConfig configures the reindex lock.
type LockConfig struct {
	// Kind is local (in-process) or file (advisory flock, cross-process).
	Kind string `yaml:"kind" json:"kind"`
	Path string `yaml:"path" json:"path"`
}

// EventsConfig configures trigger event consumption.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" json:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
	QueueGroup    string `yaml:"queue_group" json:"queue_group"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a configuration with defaults applied.
// Paths stay empty until ResolvePaths is called.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			BatchSize:     500,
			MinBatchSize:  50,
			WriterThreads: 20,
			MaxQueueSize:  1000,
			OptimizeAfter: 4000,
			Strategy:      StrategyProject,
		},
		Storage: StorageConfig{
			Backend:           "sqlite",
			Driver:            "sqlite",
			MongoDatabase:     "issueindex",
			ProjectsCacheSize: 256,
		},
		Lock: LockConfig{
			Kind: "file",
		},
		Events: EventsConfig{
			SubjectPrefix: "issueindex",
			QueueGroup:    "issueindex-indexers",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user-level configuration file:
// $XDG_CONFIG_HOME/issueindex/config.yaml or ~/.config/issueindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "issueindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "issueindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "issueindex", "config.yaml")
}

// ProjectConfigPath returns the project configuration file inside dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ProjectConfigName)
}

// Load loads configuration for the project rooted at dir.
// Layers, lowest precedence first:
//  1. Hardcoded defaults
//  2. User config (~/.config/issueindex/config.yaml)
//  3. Project config (.issueindex.yaml in dir)
//  4. Environment variables (ISSUEINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := ProjectConfigPath(dir); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.ResolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile parses a single YAML file on top of the defaults. It is used by
// the config watcher, which only cares about a subset of keys.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Index
	if other.Index.RootPath != "" {
		c.Index.RootPath = other.Index.RootPath
	}
	if other.Index.Enabled != nil {
		enabled := *other.Index.Enabled
		c.Index.Enabled = &enabled
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}
	if other.Index.MinBatchSize != 0 {
		c.Index.MinBatchSize = other.Index.MinBatchSize
	}
	if other.Index.WriterThreads != 0 {
		c.Index.WriterThreads = other.Index.WriterThreads
	}
	if other.Index.MaxQueueSize != 0 {
		c.Index.MaxQueueSize = other.Index.MaxQueueSize
	}
	if other.Index.OptimizeAfter != 0 {
		c.Index.OptimizeAfter = other.Index.OptimizeAfter
	}
	if other.Index.Strategy != "" {
		c.Index.Strategy = other.Index.Strategy
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.DSN != "" {
		c.Storage.DSN = other.Storage.DSN
	}
	if other.Storage.MongoURI != "" {
		c.Storage.MongoURI = other.Storage.MongoURI
	}
	if other.Storage.MongoDatabase != "" {
		c.Storage.MongoDatabase = other.Storage.MongoDatabase
	}
	if other.Storage.ProjectsCacheSize != 0 {
		c.Storage.ProjectsCacheSize = other.Storage.ProjectsCacheSize
	}

	// Lock
	if other.Lock.Kind != "" {
		c.Lock.Kind = other.Lock.Kind
	}
	if other.Lock.Path != "" {
		c.Lock.Path = other.Lock.Path
	}

	// Events
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}
	if other.Events.QueueGroup != "" {
		c.Events.QueueGroup = other.Events.QueueGroup
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies ISSUEINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ISSUEINDEX_INDEX_ROOT"); v != "" {
		c.Index.RootPath = v
	}
	if v := os.Getenv("ISSUEINDEX_ENABLED"); v != "" {
		enabled := strings.EqualFold(v, "true") || v == "1"
		c.Index.Enabled = &enabled
	}
	setPositiveInt("ISSUEINDEX_BATCH_SIZE", &c.Index.BatchSize)
	setPositiveInt("ISSUEINDEX_WRITER_THREADS", &c.Index.WriterThreads)
	setPositiveInt("ISSUEINDEX_OPTIMIZE_AFTER", &c.Index.OptimizeAfter)
	if v := os.Getenv("ISSUEINDEX_STRATEGY"); v != "" {
		c.Index.Strategy = v
	}

	if v := os.Getenv("ISSUEINDEX_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("ISSUEINDEX_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("ISSUEINDEX_MONGO_URI"); v != "" {
		c.Storage.MongoURI = v
	}
	if v := os.Getenv("ISSUEINDEX_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("ISSUEINDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func setPositiveInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

// ResolvePaths fills in empty filesystem locations relative to dir and
// makes relative ones absolute.
func (c *Config) ResolvePaths(dir string) {
	dataDir := filepath.Join(dir, DataDirName)

	if c.Index.RootPath == "" {
		c.Index.RootPath = filepath.Join(dataDir, "index")
	} else if !filepath.IsAbs(c.Index.RootPath) {
		c.Index.RootPath = filepath.Join(dir, c.Index.RootPath)
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(dataDir, "issues.db")
	}
	if c.Lock.Path == "" {
		c.Lock.Path = filepath.Join(c.Index.RootPath, "reindex.flock")
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.MinBatchSize < 0 {
		return fmt.Errorf("index.min_batch_size must be non-negative, got %d", c.Index.MinBatchSize)
	}
	if c.Index.WriterThreads < 1 {
		return fmt.Errorf("index.writer_threads must be positive, got %d", c.Index.WriterThreads)
	}
	if c.Index.MaxQueueSize < 1 {
		return fmt.Errorf("index.max_queue_size must be positive, got %d", c.Index.MaxQueueSize)
	}
	if c.Index.OptimizeAfter < 1 {
		return fmt.Errorf("index.optimize_after must be positive, got %d", c.Index.OptimizeAfter)
	}

	switch c.Index.Strategy {
	case StrategyProject, StrategyIDRange:
	default:
		return fmt.Errorf("index.strategy must be 'project' or 'idrange', got %s", c.Index.Strategy)
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Driver != "sqlite" && c.Storage.Driver != "sqlite3" {
			return fmt.Errorf("storage.driver must be 'sqlite' or 'sqlite3', got %s", c.Storage.Driver)
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'sqlite' or 'mongo', got %s", c.Storage.Backend)
	}

	if c.Lock.Kind != "local" && c.Lock.Kind != "file" {
		return fmt.Errorf("lock.kind must be 'local' or 'file', got %s", c.Lock.Kind)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
