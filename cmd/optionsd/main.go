// Command optionsd is the backend for binary option markets: it serves the
// market-creation and maturity-exercise workflows over HTTP and WebSocket
// and, in watch mode, keeps configured account snapshots fresh.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionsd/internal/app"
	"github.com/alanyoungcy/optionsd/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "optionsd",
	Short:         "Binary option market creation and exercise service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the service in the configured mode",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(encryptKeyCommand())
	rootCmd.AddCommand(previewCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration file. A missing default
// file falls back to built-in defaults plus environment overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.toml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("optionsd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("optionsd stopped")
	return nil
}
