package main

import (
	"fmt"
	"os"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/config"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/goodtune/timekeeper/internal/storage/bolt"
	"github.com/goodtune/timekeeper/internal/storage/redis"
	"github.com/goodtune/timekeeper/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "timekeeper",
	Short: "Timekeeper - employee time tracking with idle and sleep detection",
	Long: `Timekeeper clocks employees in and out, detects idle and sleep/lock periods
and subtracts them from worked time. The agent runs on each workstation; the
admin API and CLI report live and historical sessions.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: /etc/timekeeper/timekeeper.yaml or ./timekeeper.yaml)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what most subcommands need: config, logger, store and engine.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  storage.Store
	engine *accounting.Engine
}

// openApp loads configuration and opens storage. A quiet app only logs
// errors, to stderr, so command output stays readable.
func openApp(quiet bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var logger zerolog.Logger
	if quiet {
		logger = zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	} else {
		logger = setupLogger(cfg.Logging)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		engine: accounting.NewEngine(store, nil, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close storage")
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
