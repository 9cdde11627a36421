// Command skyshield is the entry point for the SkyShield flight-delay market
// resolver. It loads configuration, validates it, sets up signal handling and
// runs the configured mode: the HTTP API server, a one-shot resolution, or
// signing-key encryption.
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

	"github.com/jetlagged/skyshield/internal/app"
	"github.com/jetlagged/skyshield/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (server, resolve, encrypt-key)")

	var args app.ResolveArgs
	flag.StringVar(&args.FlightID, "flight-id", "", "resolve: market id (bytes32 hex)")
	flag.StringVar(&args.DepartureCode, "departure", "", "resolve: departure airport IATA code")
	flag.StringVar(&args.Date, "date", "", "resolve: scheduled departure, YYYY-MM-DDTHH:MM")
	flag.StringVar(&args.AirlineCode, "airline", "", "resolve: airline IATA code")
	flag.StringVar(&args.FlightNumber, "flight-number", "", "resolve: flight number without airline code")
	flag.StringVar(&args.Chain, "chain", "", "resolve: chain key or code (default from config)")
	flag.BoolVar(&args.Submit, "submit", false, "resolve: submit the outcome on-chain")
	flag.Parse()

	// Logs go to stderr so resolve mode can print its result on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

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
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("skyshield starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger, app.Options{Resolve: args, Out: os.Stdout})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("skyshield stopped")
}
