// Package commands implements the parley CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/observe"
)

var (
	flagConfig   string
	flagLogLevel string

	// cfg is loaded by the persistent pre-run and read by every subcommand.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for Gemini and OpenAI generative backends",
	Long: `Parley is a terminal client for generative-AI backends.

It speaks two first-party protocols, Gemini and OpenAI, across three
surfaces: streaming text chat with attachments and local history, live
voice conversations over the realtime APIs, and semantic search across
stored conversations.

API keys never live in the configuration file: each backend section
names an environment variable (api_key_env) and the key is read from
the process environment at startup.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Version must work without a readable config.
		if cmd.Name() == "version" {
			return nil
		}
		return setup()
	}
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath(), "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// Execute runs the CLI under a signal-cancelled context. Ctrl+C cancels the
// running command's context; commands are responsible for their own cleanup.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// defaultConfigPath is <user config dir>/parley/config.yaml, falling back to
// the working directory when the platform has no config dir.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "parley", "config.yaml")
}

// setup loads the configuration and installs the process-wide logger. A
// missing file at the default path is not an error: parley runs on defaults
// until the user writes a config.
func setup() error {
	c, err := config.Load(flagConfig)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config"):
		c = config.Default()
	default:
		return err
	}

	if flagLogLevel != "" {
		lvl := config.LogLevel(flagLogLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("invalid --log-level %q (debug, info, warn, error)", flagLogLevel)
		}
		c.Log.Level = lvl
	}

	slog.SetDefault(newLogger(c.Log.Level))
	cfg = c
	return nil
}

// newLogger creates a text slog logger writing to stderr, keeping stdout
// clean for conversation output.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// startObservability initialises the OTel providers and serves /metrics,
// /healthz and /readyz on the configured address while the command runs. When
// the endpoint is disabled it is a no-op; metric instruments then record
// against the no-op global provider.
//
// The returned stop function shuts the endpoint and the providers down and is
// safe to defer unconditionally.
func startObservability(ctx context.Context, checkers ...health.Checker) (stop func(), err error) {
	if !cfg.Metrics.Enabled {
		return func() {}, nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability endpoint", "err", err)
		}
	}()
	slog.Info("observability endpoint listening", "addr", cfg.Metrics.ListenAddr)

	return func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("observability endpoint shutdown", "err", err)
		}
		if err := shutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}, nil
}
