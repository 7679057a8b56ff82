package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/overlap/internal/app"
	"github.com/dukerupert/overlap/internal/config"
	"github.com/dukerupert/overlap/internal/logging"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "overlap",
		Short:         "Detect and resolve overlapping calendar events",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("OVERLAP_CONFIG", "overlap.yaml"), "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(hintCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(vapidCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

// openApp loads the config and opens the database. Callers must Close it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// openOfflineApp is openApp for commands that change the conflict list. It
// refuses while a server is running unless force is set.
func openOfflineApp(ctx context.Context, force bool) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !force {
		if err := app.RequireOffline(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return app.New(ctx, cfg, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
