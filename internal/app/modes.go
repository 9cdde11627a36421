package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jetlagged/skyshield/internal/crypto"
	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/resolver"
	"github.com/jetlagged/skyshield/internal/server"
	"github.com/jetlagged/skyshield/internal/server/handler"
	"github.com/jetlagged/skyshield/internal/server/ws"
	"github.com/jetlagged/skyshield/internal/service"
)

// archiveDelay is how long after UTC midnight the previous day's audit log is
// exported.
const archiveDelay = 10 * time.Minute

// ResolveArgs is the flight to settle in resolve mode.
type ResolveArgs struct {
	FlightID      string
	DepartureCode string
	Date          string
	AirlineCode   string
	FlightNumber  string
	Chain         string
	Submit        bool
}

func (r ResolveArgs) param(name string) string {
	switch name {
	case resolver.ParamFlightID:
		return r.FlightID
	case resolver.ParamDepartureCode:
		return r.DepartureCode
	case resolver.ParamDate:
		return r.Date
	case resolver.ParamAirlineCode:
		return r.AirlineCode
	case resolver.ParamFlightNumber:
		return r.FlightNumber
	}
	return ""
}

// services holds the service layer built from Dependencies.
type services struct {
	resolutions *service.ResolutionService
	markets     *service.MarketService
}

func (a *App) buildServices(deps *Dependencies) services {
	var audit domain.AuditStore
	if deps.AuditStore != nil {
		audit = deps.AuditStore
	}

	markets := service.NewMarketService(service.RegistryLookup(deps.Chains), deps.MarketCache, audit, a.logger)

	rdeps := service.ResolutionDeps{
		Provider: deps.Provider,
		Store:    deps.ResolutionStore,
		Audit:    audit,
		Cache:    deps.ResolutionCache,
		Locks:    deps.LockManager,
		Blobs:    deps.BlobWriter,
		Bus:      deps.SignalBus,
		Markets:  markets,
	}
	if deps.CanSubmit() {
		rdeps.Submitter = deps.Chains
	}
	if deps.Notifier.Enabled() {
		rdeps.Notifier = deps.Notifier
	}

	rc := a.cfg.Resolver
	resolutions := service.NewResolutionService(rdeps, service.ResolutionConfig{
		ProviderTimeout: rc.ProviderTimeout.Duration,
		ChainTimeout:    rc.ChainTimeout.Duration,
		CacheTTL:        rc.CacheTTL.Duration,
		LockTTL:         rc.LockTTL.Duration,
		EvidencePrefix:  rc.EvidencePrefix,
	}, a.logger)

	return services{resolutions: resolutions, markets: markets}
}

// ServerMode serves the HTTP API and WebSocket push endpoint, and exports the
// audit log daily when archiving is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Bool("chain_submission", deps.CanSubmit()),
	)

	g, ctx := errgroup.WithContext(ctx)
	svc := a.buildServices(deps)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.healthInfo(deps), healthChecks(deps), a.logger),
		Resolve:     handler.NewResolveHandler(svc.resolutions, deps.Networks, a.logger),
		Resolutions: handler.NewResolutionHandler(svc.resolutions, deps.Networks, deps.BlobReader, deps.SignalBus, a.logger),
		Markets:     handler.NewMarketHandler(svc.markets, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:           sc.Port,
		CORSOrigins:    sc.CORSOrigins,
		APIKey:         sc.APIKey,
		RateLimit:      sc.RateLimit,
		TrustedProxies: sc.TrustedProxies,
		ReadTimeout:    sc.ReadTimeout.Duration,
		WriteTimeout:   sc.WriteTimeout.Duration,
		IdleTimeout:    sc.IdleTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", sc.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runAuditArchiver(ctx, deps)
		})
	}

	return g.Wait()
}

// ResolveMode settles a single flight from the command line and prints the
// result as JSON. A failed submission is printed and returned as an error.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies) error {
	args := a.opts.Resolve
	q, err := resolver.NewQuery(args.param)
	if err != nil {
		return fmt.Errorf("app: resolve: %w", err)
	}
	network, err := deps.Networks.Resolve(args.Chain)
	if err != nil {
		return fmt.Errorf("app: resolve: %w", err)
	}

	svc := a.buildServices(deps)
	res, resolveErr := svc.resolutions.Resolve(ctx, service.ResolveRequest{
		Query:  q,
		Chain:  network.Key,
		Submit: args.Submit,
	})
	if resolveErr != nil && res.ID == "" {
		return fmt.Errorf("app: resolve: %w", resolveErr)
	}

	out := cliResult{
		ResolutionID: res.ID,
		FlightID:     q.FlightID,
		Outcome:      res.Outcome,
		OutcomeName:  res.Outcome.String(),
		Candidates:   res.Candidates,
		State:        res.State,
		Flight:       res.Flight,
		Submission:   res.Submission,
		EvidencePath: res.EvidencePath,
	}
	if res.Submission != nil {
		out.ExplorerURL = network.TxURL(res.Submission.TxHash)
	}

	enc := json.NewEncoder(a.opts.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("app: resolve: write result: %w", err)
	}
	if resolveErr != nil {
		return fmt.Errorf("app: resolve: %w", resolveErr)
	}
	return nil
}

type cliResult struct {
	ResolutionID string                 `json:"resolutionId"`
	FlightID     string                 `json:"flightId"`
	Outcome      domain.Outcome         `json:"outcome"`
	OutcomeName  string                 `json:"outcomeName"`
	Candidates   int                    `json:"candidates"`
	State        domain.SubmissionState `json:"state"`
	Flight       json.RawMessage        `json:"flight,omitempty"`
	Submission   *domain.Submission     `json:"submission,omitempty"`
	ExplorerURL  string                 `json:"explorerUrl,omitempty"`
	EvidencePath string                 `json:"evidencePath,omitempty"`
}

// EncryptKeyMode seals wallet.private_key with wallet.key_password and writes
// it to wallet.encrypted_key_path. An existing file is never overwritten.
func (a *App) EncryptKeyMode(ctx context.Context) error {
	w := a.cfg.Wallet
	if _, err := os.Stat(w.EncryptedKeyPath); err == nil {
		return fmt.Errorf("app: encrypt key: %s already exists", w.EncryptedKeyPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("app: encrypt key: %w", err)
	}

	key, err := crypto.LoadKey(crypto.KeySource{RawPrivateKey: w.PrivateKey})
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}
	signer, err := crypto.NewTxSigner(key)
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}
	data, err := crypto.EncryptKey(key, w.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}

	if dir := filepath.Dir(w.EncryptedKeyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("app: encrypt key: %w", err)
		}
	}
	if err := os.WriteFile(w.EncryptedKeyPath, data, 0o600); err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}

	a.logger.InfoContext(ctx, "encrypted signing key written",
		slog.String("path", w.EncryptedKeyPath),
		slog.String("address", signer.Address().Hex()),
	)
	return nil
}

// runAuditArchiver exports the previous UTC day shortly after each midnight.
func (a *App) runAuditArchiver(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("task", "audit_archive"))
	for {
		wait := untilNextArchive(time.Now().UTC())
		logger.DebugContext(ctx, "next audit archive scheduled", slog.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		day := time.Now().UTC().AddDate(0, 0, -1)
		n, err := deps.Archiver.ArchiveDay(ctx, day)
		if err != nil {
			logger.ErrorContext(ctx, "audit archive failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
			if deps.Notifier.Enabled() {
				_ = deps.Notifier.NotifyAll(ctx, "Audit archive failed", err.Error())
			}
			continue
		}
		logger.InfoContext(ctx, "audit log archived",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int("entries", n),
		)
	}
}

// untilNextArchive returns the time from now to the next archive run.
func untilNextArchive(now time.Time) time.Duration {
	next := now.Truncate(24 * time.Hour).Add(archiveDelay)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (a *App) healthInfo(deps *Dependencies) handler.HealthInfo {
	p := a.cfg.SecretPresence()
	info := handler.HealthInfo{
		AviationEdgeKey: p.AviationEdgeKey,
		PrivateKey:      p.PrivateKey,
		DefaultChain:    deps.Networks.Default().Key,
	}
	for _, n := range deps.Networks.All() {
		_, err := deps.Chains.Client(n.Key)
		info.Chains = append(info.Chains, handler.ChainInfo{
			Key:       n.Key,
			RPC:       n.RPCURL != "",
			Contract:  n.Contract.Hex(),
			Connected: err == nil,
		})
	}
	return info
}

func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	return checks
}
