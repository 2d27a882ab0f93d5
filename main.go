package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lbms/library/config"
	"lbms/library/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		storageType string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "lbms",
		Short: "Library Borrowing Management System",
		Long: "lbms reads requests such as \"register,Alice,1 Main St;\" from standard input\n" +
			"and writes one response per request until the input ends.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// .env is optional
			_ = godotenv.Load(".env")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if storageType != "" {
				cfg.Storage.Type = strings.ToLower(storageType)
				if cfg.Storage.Type == "yaml" {
					cfg.Storage.Type = config.StorageYAML
				}
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lbms.yml", "configuration file")
	cmd.Flags().StringVar(&storageType, "storage", "", "storage type: json, yml, sql or memory")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.LogLevel)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start library: %w", err)
	}

	client := server.NewTextClient(os.Stdin, os.Stdout)
	if err := client.Connect(srv); err != nil {
		return err
	}
	displayErr := client.Display(ctx)
	_ = client.Close()

	// persist even when interrupted
	if err := srv.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Error("library not saved", "error", err)
	}
	if displayErr != nil && ctx.Err() == nil {
		return displayErr
	}
	return nil
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
