// Command rankpool runs a ranking-and-settlement node for prediction pools. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
//
// Two maintenance flags run a single task and exit instead:
//
//	-encrypt-key out.json   encrypts operator.private_key with operator.key_password
//	-export-audit 2026-01     copies the audit entries of that month to S3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/rankpool/internal/app"
	"github.com/alanyoungcy/rankpool/internal/config"
	"github.com/alanyoungcy/rankpool/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptOut := flag.String("encrypt-key", "", "write the encrypted operator key to this path and exit")
	exportMonth := flag.String("export-audit", "", "export the audit entries of this month (YYYY-MM) and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *encryptOut != "" {
		if err := encryptKey(cfg, *encryptOut); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted operator key written", slog.String("path", *encryptOut))
		return
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)

	if *exportMonth != "" {
		month, err := time.Parse("2006-01", *exportMonth)
		if err != nil {
			logger.Error("invalid export month", slog.String("value", *exportMonth))
			os.Exit(1)
		}
		if _, err := application.ExportAudit(ctx, month); err != nil {
			logger.Error("audit export failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	logger.Info("rankpool node starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	defer application.Close()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("rankpool node stopped")
}

func encryptKey(cfg *config.Config, out string) error {
	if cfg.Operator.PrivateKey == "" || cfg.Operator.KeyPassword == "" {
		return errors.New("operator.private_key and operator.key_password must both be set")
	}
	blob, err := crypto.EncryptKey(cfg.Operator.PrivateKey, cfg.Operator.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(out, blob, 0o600)
}
