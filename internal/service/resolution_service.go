package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/metrics"
	"github.com/jetlagged/skyshield/internal/resolver"
)

// FlightProvider returns historical departures for a query.
type FlightProvider interface {
	DepartureHistory(ctx context.Context, q domain.FlightQuery) (domain.FlightHistory, error)
}

// Submitter pushes an outcome on-chain. chain selects the network ("" for the
// default).
type Submitter interface {
	Submit(ctx context.Context, chain, flightID string, outcome domain.Outcome) (domain.Submission, error)
}

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketInvalidator drops cached market reads once a market is resolved.
type MarketInvalidator interface {
	InvalidateMarket(ctx context.Context, selector, id string)
}

// Notification event types.
const (
	EventSubmissionSucceeded = "submission_succeeded"
	EventSubmissionFailed    = "submission_failed"
	EventAmbiguousMatch      = "ambiguous_match"
)

// ResolutionConfig holds timeouts and retention for resolutions.
type ResolutionConfig struct {
	ProviderTimeout time.Duration
	ChainTimeout    time.Duration
	CacheTTL        time.Duration
	LockTTL         time.Duration
	EvidencePrefix  string
}

// ResolutionDeps lists the collaborators of a ResolutionService. Only
// Provider is required; every other field may be nil and the matching
// feature is skipped.
type ResolutionDeps struct {
	Provider  FlightProvider
	Submitter Submitter
	Store     domain.ResolutionStore
	Audit     domain.AuditStore
	Cache     domain.ResolutionCache
	Locks     domain.LockManager
	Blobs     domain.BlobWriter
	Bus       domain.SignalBus
	Notifier  Notifier
	Markets   MarketInvalidator
}

// ResolveRequest asks for a flight to be resolved and optionally submitted.
type ResolveRequest struct {
	Query  domain.FlightQuery
	Chain  string
	Submit bool
}

// ResolutionService resolves flights against the provider, records the
// result and submits terminal outcomes to the FlightMarket contract.
type ResolutionService struct {
	deps   ResolutionDeps
	cfg    ResolutionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewResolutionService creates a ResolutionService.
func NewResolutionService(deps ResolutionDeps, cfg ResolutionConfig, logger *slog.Logger) *ResolutionService {
	if cfg.EvidencePrefix == "" {
		cfg.EvidencePrefix = "evidence"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &ResolutionService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "resolution_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolve matches the query against the provider's departure history and
// classifies the outcome. When req.Submit is set a terminal outcome is sent
// on-chain; a failed submission is returned as an error alongside the full
// resolution, never instead of it.
func (s *ResolutionService) Resolve(ctx context.Context, req ResolveRequest) (domain.Resolution, error) {
	q := req.Query
	key := resolver.CacheKey(q)

	if req.Submit && req.Chain != "" {
		if res, ok := s.cached(ctx, resolver.SubmissionCacheKey(q, req.Chain)); ok && res.SubmittedOn(req.Chain) {
			metrics.ResolutionCacheHits.Inc()
			return res, nil
		}
	}

	if res, ok := s.cached(ctx, key); ok {
		metrics.ResolutionCacheHits.Inc()
		if !req.Submit || res.SubmittedOn(req.Chain) {
			return res, nil
		}
		err := s.submit(ctx, &res, req.Chain)
		s.cache(ctx, key, res)
		return res, err
	}

	history, err := s.fetch(ctx, q)
	if err != nil {
		return domain.Resolution{}, err
	}

	match, candidates, ok := resolver.MatchFlight(history.Records, q.Scheduled)
	now := s.now()
	res := domain.Resolution{
		ID:         uuid.New().String(),
		Query:      q,
		Outcome:    domain.OutcomeNotFound,
		Candidates: candidates,
		State:      domain.SubmissionNotRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ok {
		res.Outcome = resolver.Classify(match)
		res.Flight = match.Raw
	}

	attrs := []any{
		slog.String("resolution_id", res.ID),
		slog.String("flight_id", q.FlightID),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("records", len(history.Records)),
		slog.Int("candidates", candidates),
	}
	if candidates > 1 {
		s.logger.WarnContext(ctx, "ambiguous flight match, using first record", attrs...)
		s.notify(ctx, EventAmbiguousMatch, "Ambiguous flight match",
			fmt.Sprintf("%s%s from %s at %s matched %d records; first one used (%s).",
				q.AirlineCode, q.FlightNumber, q.DepartureCode, q.ScheduledRaw, candidates, res.Outcome))
	} else {
		s.logger.InfoContext(ctx, "flight resolved", attrs...)
	}
	metrics.RecordResolution(res.Outcome.String(), candidates)

	s.archive(ctx, &res, history.Raw)
	s.persist(ctx, res)

	var submitErr error
	if req.Submit {
		submitErr = s.submit(ctx, &res, req.Chain)
	}

	if res.Outcome.Resolved() {
		s.cache(ctx, key, res)
	}
	return res, submitErr
}

// Submit retries on-chain submission of a stored resolution. A resolution
// already submitted on the selected chain is returned unchanged.
func (s *ResolutionService) Submit(ctx context.Context, id, chain string) (domain.Resolution, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return domain.Resolution{}, err
	}
	if res.SubmittedOn(chain) {
		return res, nil
	}
	if chain != "" {
		if prior, ok := s.cached(ctx, resolver.SubmissionCacheKey(res.Query, chain)); ok && prior.SubmittedOn(chain) {
			return prior, nil
		}
	}
	if !res.Outcome.Resolved() {
		return res, fmt.Errorf("resolution_service: submit %s: %w: %s", id, domain.ErrNotSubmittable, res.Outcome)
	}

	err = s.submit(ctx, &res, chain)
	if err == nil || isSubmissionError(err) {
		s.cache(ctx, resolver.CacheKey(res.Query), res)
	}
	return res, err
}

// Get returns a stored resolution.
func (s *ResolutionService) Get(ctx context.Context, id string) (domain.Resolution, error) {
	if s.deps.Store == nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: get %s: %w", id, domain.ErrNotFound)
	}
	res, err := s.deps.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: get %s: %w", id, err)
	}
	return res, nil
}

// List returns stored resolutions, newest first. A non-empty flightID
// restricts the result to one market.
func (s *ResolutionService) List(ctx context.Context, flightID string, opts domain.ListOpts) ([]domain.Resolution, error) {
	if s.deps.Store == nil {
		return nil, nil
	}
	var (
		out []domain.Resolution
		err error
	)
	if flightID != "" {
		out, err = s.deps.Store.ListByFlight(ctx, flightID)
	} else {
		out, err = s.deps.Store.List(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("resolution_service: list: %w", err)
	}
	return out, nil
}

// ChainConfigured reports whether a submitter is wired in.
func (s *ResolutionService) ChainConfigured() bool {
	return s.deps.Submitter != nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *ResolutionService) fetch(ctx context.Context, q domain.FlightQuery) (domain.FlightHistory, error) {
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}
	history, err := s.deps.Provider.DepartureHistory(ctx, q)
	if err != nil {
		s.logger.ErrorContext(ctx, "provider request failed",
			slog.String("flight_id", q.FlightID),
			slog.String("error", err.Error()),
		)
		return domain.FlightHistory{}, fmt.Errorf("resolution_service: %w", err)
	}
	return history, nil
}

// submit sends res on-chain under a per-market lock and records the result
// on res. NOT_FOUND is recorded as skipped and never sent.
func (s *ResolutionService) submit(ctx context.Context, res *domain.Resolution, chain string) error {
	if !res.Outcome.Resolved() {
		res.State = domain.SubmissionSkipped
		s.updateSubmission(ctx, *res)
		return nil
	}

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "resolve:"+chain+":"+res.Query.FlightID, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("resolution_service: submit %s: %w", res.Query.FlightID, domain.ErrLockHeld)
			}
			return fmt.Errorf("resolution_service: lock %s: %w", res.Query.FlightID, err)
		}
		defer unlock()
	}

	var (
		sub domain.Submission
		err error
	)
	if s.deps.Submitter == nil {
		sub = domain.Submission{Chain: chain, Error: domain.ErrChainNotConfigured.Error()}
		err = &domain.SubmissionError{Chain: chain, Err: domain.ErrChainNotConfigured}
	} else {
		cctx := ctx
		if s.cfg.ChainTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, s.cfg.ChainTimeout)
			defer cancel()
		}
		sub, err = s.deps.Submitter.Submit(cctx, chain, res.Query.FlightID, res.Outcome)
	}

	res.Submission = &sub
	res.UpdatedAt = s.now()
	if err != nil {
		res.State = domain.SubmissionFailed
		s.logger.ErrorContext(ctx, "submission failed",
			slog.String("resolution_id", res.ID),
			slog.String("flight_id", res.Query.FlightID),
			slog.String("chain", sub.Chain),
			slog.String("error", err.Error()),
		)
		s.notify(ctx, EventSubmissionFailed, "Market resolution failed",
			fmt.Sprintf("%s on %s: %s (%s)", res.Query.FlightID, sub.Chain, res.Outcome, err))
	} else {
		res.State = domain.SubmissionSubmitted
		if s.deps.Markets != nil {
			s.deps.Markets.InvalidateMarket(ctx, sub.Chain, res.Query.FlightID)
		}
		s.notify(ctx, EventSubmissionSucceeded, "Market resolved",
			fmt.Sprintf("%s on %s: %s (tx %s)", res.Query.FlightID, sub.Chain, res.Outcome, sub.TxHash))
	}

	s.updateSubmission(ctx, *res)

	if err != nil {
		var subErr *domain.SubmissionError
		if !errors.As(err, &subErr) {
			err = &domain.SubmissionError{Chain: sub.Chain, Err: err}
		}
		return fmt.Errorf("resolution_service: %w", err)
	}
	return nil
}

func isSubmissionError(err error) bool {
	var subErr *domain.SubmissionError
	return errors.As(err, &subErr)
}

func (s *ResolutionService) cached(ctx context.Context, key string) (domain.Resolution, bool) {
	if s.deps.Cache == nil {
		return domain.Resolution{}, false
	}
	res, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "resolution cache read failed", slog.String("error", err.Error()))
		}
		return domain.Resolution{}, false
	}
	return res, true
}

// cache stores a terminal resolution under key, and a successful submission
// additionally under its chain so other networks can still be submitted to.
func (s *ResolutionService) cache(ctx context.Context, key string, res domain.Resolution) {
	if s.deps.Cache == nil || !res.Outcome.Resolved() {
		return
	}
	if err := s.deps.Cache.Set(ctx, key, res, s.cfg.CacheTTL); err != nil {
		s.logger.WarnContext(ctx, "resolution cache write failed", slog.String("error", err.Error()))
	}
	if res.SubmittedOn("") {
		subKey := resolver.SubmissionCacheKey(res.Query, res.Submission.Chain)
		if err := s.deps.Cache.Set(ctx, subKey, res, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "submission cache write failed", slog.String("error", err.Error()))
		}
	}
}

type evidence struct {
	ResolutionID string          `json:"resolutionId"`
	FlightID     string          `json:"flightId"`
	Scheduled    string          `json:"scheduledDateTime"`
	Outcome      domain.Outcome  `json:"outcome"`
	FetchedAt    time.Time       `json:"fetchedAt"`
	Response     json.RawMessage `json:"response,omitempty"`
	RawResponse  string          `json:"rawResponse,omitempty"`
}

// archive stores the provider response as settlement evidence.
func (s *ResolutionService) archive(ctx context.Context, res *domain.Resolution, raw []byte) {
	if s.deps.Blobs == nil {
		return
	}
	doc := evidence{
		ResolutionID: res.ID,
		FlightID:     res.Query.FlightID,
		Scheduled:    res.Query.ScheduledRaw,
		Outcome:      res.Outcome,
		FetchedAt:    res.CreatedAt,
	}
	if json.Valid(raw) {
		doc.Response = raw
	} else {
		doc.RawResponse = string(raw)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.WarnContext(ctx, "encode evidence failed", slog.String("error", err.Error()))
		return
	}

	path := EvidencePath(s.cfg.EvidencePrefix, res.Query.Date, res.Query.FlightID, res.ID)
	if err := s.deps.Blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		s.logger.WarnContext(ctx, "evidence upload failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	res.EvidencePath = path
}

// EvidencePath is the object key for a resolution's provider response.
func EvidencePath(prefix, date, flightID, resolutionID string) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, date, flightID, resolutionID)
}

func (s *ResolutionService) persist(ctx context.Context, res domain.Resolution) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Create(ctx, res); err != nil {
			s.logger.ErrorContext(ctx, "persist resolution failed",
				slog.String("resolution_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, "resolution.created", res)
	s.publish(ctx, "resolution", res)
}

func (s *ResolutionService) updateSubmission(ctx context.Context, res domain.Resolution) {
	if s.deps.Store != nil {
		if err := s.deps.Store.UpdateSubmission(ctx, res.ID, res.State, res.Submission); err != nil {
			s.logger.ErrorContext(ctx, "persist submission failed",
				slog.String("resolution_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, "resolution.submission", res)
	s.publish(ctx, "submission", res)
}

func (s *ResolutionService) auditLog(ctx context.Context, event string, res domain.Resolution) {
	if s.deps.Audit == nil {
		return
	}
	detail := map[string]any{
		"resolution_id": res.ID,
		"flight_id":     res.Query.FlightID,
		"outcome":       res.Outcome.String(),
		"state":         string(res.State),
		"candidates":    res.Candidates,
	}
	if res.Submission != nil {
		detail["chain"] = res.Submission.Chain
		detail["tx_hash"] = res.Submission.TxHash
		if res.Submission.Error != "" {
			detail["error"] = res.Submission.Error
		}
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (s *ResolutionService) publish(ctx context.Context, typ string, res domain.Resolution) {
	if s.deps.Bus == nil {
		return
	}
	ev := domain.ResolutionEvent{
		Type:         typ,
		ResolutionID: res.ID,
		FlightID:     res.Query.FlightID,
		Outcome:      res.Outcome,
		OutcomeName:  res.Outcome.String(),
		State:        res.State,
		Timestamp:    s.now(),
	}
	if res.Submission != nil {
		ev.Chain = res.Submission.Chain
		ev.TxHash = res.Submission.TxHash
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.ChannelResolutions, payload); err != nil {
		s.logger.WarnContext(ctx, "publish resolution event failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Bus.StreamAppend(ctx, domain.StreamResolutions, payload); err != nil {
		s.logger.WarnContext(ctx, "append resolution stream failed", slog.String("error", err.Error()))
	}
}

func (s *ResolutionService) notify(ctx context.Context, event, title, message string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
