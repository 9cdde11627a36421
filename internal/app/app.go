// Package app provides the top-level application lifecycle for the SkyShield
// resolver. It wires together all dependencies (provider client, chains,
// stores, caches, blob storage, notifications) and runs the configured
// operating mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jetlagged/skyshield/internal/config"
)

// Options carries mode inputs that do not belong in the configuration file.
type Options struct {
	// Resolve holds the flight to settle in resolve mode.
	Resolve ResolveArgs
	// Out receives command output in resolve mode; nil means stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode and blocks until the mode finishes or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	if mode == "encrypt-key" {
		return a.EncryptKeyMode(ctx)
	}

	a.logSecretPresence(ctx)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "server":
		return a.ServerMode(ctx, deps)
	case "resolve":
		return a.ResolveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// logSecretPresence reports which secrets are set without their values.
func (a *App) logSecretPresence(ctx context.Context) {
	p := a.cfg.SecretPresence()
	a.logger.InfoContext(ctx, "configuration loaded",
		slog.Bool("aviation_edge_key", p.AviationEdgeKey),
		slog.Bool("private_key", p.PrivateKey),
		slog.Bool("celo_rpc", p.RPC["celo"]),
		slog.Bool("sepolia_rpc", p.RPC["sepolia"]),
		slog.String("default_chain", a.cfg.DefaultChain),
	)
	if !p.AviationEdgeKey {
		a.logger.WarnContext(ctx, "aviation edge api key is not set; provider requests will be rejected")
	}
}
