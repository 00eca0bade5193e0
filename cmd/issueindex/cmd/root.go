// Package cmd provides the issueindex CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/config"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/logging"
	"github.com/Aman-CERP/issueindex/pkg/version"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

var (
	debugMode  bool
	configPath string

	// cfg is loaded by the persistent pre-run hook.
	cfg            *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issueindex",
		Short: "Maintain full-text indexes over an issue tracker",
		Long: `issueindex mirrors issues, comments and change history from the
relational store into three bleve indexes and keeps them current.

Run 'issueindex reindex' to build the indexes, 'issueindex serve' to
follow entity events, and 'issueindex status' to check their health.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { teardown() },
	}
	cmd.SetVersionTemplate("issueindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging and mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Project directory or configuration file (default: current directory)")

	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDeindexCmd())
	cmd.AddCommand(newOptimizeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints failures for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, ierrors.FormatForCLI(err))
	}
	return err
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg = nil
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}

	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: debugMode,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("config_loaded",
		slog.String("command", cmd.Name()),
		slog.String("index_root", cfg.Index.RootPath),
		slog.String("storage", cfg.Storage.Backend))
	return nil
}

func teardown() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// loadConfig resolves --config. A directory is loaded with the full layer
// stack; a file is parsed alone with paths relative to its directory.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ierrors.ConfigError(fmt.Sprintf("invalid config path %q", path), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, ierrors.ConfigError(fmt.Sprintf("config path %q not found", path), err)
	}
	if info.IsDir() {
		c, err := config.Load(abs)
		if err != nil {
			return nil, ierrors.ConfigError("failed to load configuration", err)
		}
		return c, nil
	}

	c, err := config.LoadFile(abs)
	if err != nil {
		return nil, ierrors.ConfigError("failed to load configuration", err)
	}
	c.ResolvePaths(filepath.Dir(abs))
	if err := c.Validate(); err != nil {
		return nil, ierrors.ConfigError("invalid configuration", err)
	}
	return c, nil
}

// configFile is the file the config watcher follows.
func configFile() string {
	path := configPath
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return config.ProjectConfigPath(abs)
	}
	return abs
}
