package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/domain"
)

var testQuery = domain.FlightQuery{
	FlightID:      "0x8f3a6c2d1e0b4f5a6978c1d2e3f40516273849a5b6c7d8e9f0a1b2c3d4e5f607",
	DepartureCode: "FRA",
	AirlineCode:   "AF",
	FlightNumber:  "1019",
	ScheduledRaw:  "2025-11-03T07:05",
	Date:          "2025-11-03",
	Scheduled:     time.Date(2025, 11, 3, 7, 5, 0, 0, time.UTC),
}

func record(scheduled string, delay int, status string) domain.FlightRecord {
	raw, _ := json.Marshal(map[string]any{
		"status":    status,
		"departure": map[string]any{"scheduledTime": scheduled, "delay": delay},
	})
	return domain.FlightRecord{ScheduledTime: scheduled, DelayMinutes: delay, Status: status, Raw: raw}
}

func historyOf(records ...domain.FlightRecord) domain.FlightHistory {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = r.Raw
	}
	body, _ := json.Marshal(raws)
	return domain.FlightHistory{Records: records, Raw: body}
}

type testEnv struct {
	provider  *fakeProvider
	submitter *fakeSubmitter
	store     *fakeStore
	audit     *fakeAudit
	cache     *fakeCache
	locks     *fakeLocks
	blobs     *fakeBlobs
	bus       *fakeBus
	notifier  *fakeNotifier
	markets   *fakeMarketCache
}

func newTestEnv(history domain.FlightHistory) *testEnv {
	return &testEnv{
		provider:  &fakeProvider{history: history},
		submitter: &fakeSubmitter{sub: domain.Submission{Chain: "celo", TxHash: "0xfeed", Success: true}},
		store:     newFakeStore(),
		audit:     &fakeAudit{},
		cache:     newFakeCache(),
		locks:     &fakeLocks{held: map[string]bool{}},
		blobs:     &fakeBlobs{},
		bus:       &fakeBus{},
		notifier:  &fakeNotifier{},
		markets:   &fakeMarketCache{},
	}
}

func (e *testEnv) service() *ResolutionService {
	markets := NewMarketService(func(string) (MarketContract, error) {
		return &fakeContract{network: chain.Celo}, nil
	}, e.markets, nil, discardLogger())

	return NewResolutionService(ResolutionDeps{
		Provider:  e.provider,
		Submitter: e.submitter,
		Store:     e.store,
		Audit:     e.audit,
		Cache:     e.cache,
		Locks:     e.locks,
		Blobs:     e.blobs,
		Bus:       e.bus,
		Notifier:  e.notifier,
		Markets:   markets,
	}, ResolutionConfig{
		ProviderTimeout: 5 * time.Second,
		ChainTimeout:    time.Minute,
		CacheTTL:        time.Hour,
	}, discardLogger())
}

func TestResolutionService_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("classifies matched flight without submitting", func(t *testing.T) {
		env := newTestEnv(historyOf(
			record("2025-11-03t09:40:00.000", 0, "active"),
			record("2025-11-03t07:05:00.000", 45, "active"),
		))
		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Outcome != domain.OutcomeDelayShort {
			t.Fatalf("expected DELAY_SHORT, got %s", res.Outcome)
		}
		if !strings.Contains(string(res.Flight), `"delay":45`) {
			t.Fatalf("expected matched flight to be echoed, got %s", res.Flight)
		}
		if res.State != domain.SubmissionNotRequested {
			t.Fatalf("expected state %s, got %s", domain.SubmissionNotRequested, res.State)
		}
		if len(env.submitter.calls) != 0 {
			t.Fatalf("expected no submission, got %d", len(env.submitter.calls))
		}
		if _, err := env.store.GetByID(context.Background(), res.ID); err != nil {
			t.Fatalf("expected resolution to be stored, got %v", err)
		}
		wantPrefix := "evidence/2025-11-03/" + testQuery.FlightID + "/"
		if !strings.HasPrefix(res.EvidencePath, wantPrefix) {
			t.Fatalf("expected evidence path under %s, got %q", wantPrefix, res.EvidencePath)
		}
		if _, ok := env.blobs.objects[res.EvidencePath]; !ok {
			t.Fatalf("expected evidence object at %s", res.EvidencePath)
		}
		if len(env.cache.items) != 1 {
			t.Fatalf("expected terminal outcome to be cached, got %d items", len(env.cache.items))
		}
		if len(env.bus.published) != 1 || env.bus.published[0].Outcome != domain.OutcomeDelayShort {
			t.Fatalf("expected one resolution event, got %+v", env.bus.published)
		}
		if env.bus.streamed != 1 {
			t.Fatalf("expected one stream entry, got %d", env.bus.streamed)
		}
		if len(env.audit.events) != 1 || env.audit.events[0] != "resolution.created" {
			t.Fatalf("unexpected audit events %v", env.audit.events)
		}
		if env.provider.lastCtx == nil {
			t.Fatalf("expected provider to be called")
		}
		if _, ok := env.provider.lastCtx.Deadline(); !ok {
			t.Fatalf("expected provider call to carry a deadline")
		}
	})

	t.Run("not found is never submitted or cached", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:10:00.000", 200, "active")))
		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery, Submit: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Outcome != domain.OutcomeNotFound || res.Matched() {
			t.Fatalf("expected NOT_FOUND, got %s", res.Outcome)
		}
		if res.Flight != nil {
			t.Fatalf("expected no flight, got %s", res.Flight)
		}
		if res.State != domain.SubmissionSkipped {
			t.Fatalf("expected state %s, got %s", domain.SubmissionSkipped, res.State)
		}
		if len(env.submitter.calls) != 0 {
			t.Fatalf("expected no submission, got %d", len(env.submitter.calls))
		}
		if len(env.cache.items) != 0 {
			t.Fatalf("expected NOT_FOUND not to be cached")
		}
	})

	t.Run("ambiguous match keeps first record", func(t *testing.T) {
		env := newTestEnv(historyOf(
			record("2025-11-03t07:03:00.000", 10, "active"),
			record("2025-11-03t07:06:00.000", 0, "cancelled"),
		))
		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Candidates != 2 {
			t.Fatalf("expected 2 candidates, got %d", res.Candidates)
		}
		if res.Outcome != domain.OutcomeOnTime {
			t.Fatalf("expected first record (ON_TIME), got %s", res.Outcome)
		}
		if len(env.notifier.events) != 1 || env.notifier.events[0] != EventAmbiguousMatch {
			t.Fatalf("expected ambiguous match notification, got %v", env.notifier.events)
		}
	})

	t.Run("submits terminal outcome", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "cancelled")))
		env.markets.items = map[string]domain.Market{"celo/" + testQuery.FlightID: {ID: testQuery.FlightID, Chain: "celo"}}

		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "c", Submit: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(env.submitter.calls) != 1 || env.submitter.calls[0] != domain.OutcomeCancelled {
			t.Fatalf("expected CANCELLED to be submitted once, got %v", env.submitter.calls)
		}
		if res.State != domain.SubmissionSubmitted || res.Submission == nil || res.Submission.TxHash != "0xfeed" {
			t.Fatalf("unexpected submission %+v (%s)", res.Submission, res.State)
		}
		stored, _ := env.store.GetByID(context.Background(), res.ID)
		if stored.State != domain.SubmissionSubmitted {
			t.Fatalf("expected stored state submitted, got %s", stored.State)
		}
		if len(env.locks.acquired) != 1 {
			t.Fatalf("expected submission lock, got %v", env.locks.acquired)
		}
		if len(env.markets.invalidated) != 1 {
			t.Fatalf("expected market cache invalidation, got %v", env.markets.invalidated)
		}
		if len(env.notifier.events) != 1 || env.notifier.events[0] != EventSubmissionSucceeded {
			t.Fatalf("unexpected notifications %v", env.notifier.events)
		}
	})

	t.Run("failed submission still returns outcome and flight", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 150, "active")))
		env.submitter.err = errors.New("insufficient funds for gas")

		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery, Submit: true})
		var subErr *domain.SubmissionError
		if !errors.As(err, &subErr) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
		if res.Outcome != domain.OutcomeDelayLong {
			t.Fatalf("expected DELAY_LONG, got %s", res.Outcome)
		}
		if res.Flight == nil {
			t.Fatalf("expected flight to be returned with the failure")
		}
		if res.State != domain.SubmissionFailed || res.Submission == nil || res.Submission.Error == "" {
			t.Fatalf("unexpected submission %+v (%s)", res.Submission, res.State)
		}
		stored, _ := env.store.GetByID(context.Background(), res.ID)
		if stored.State != domain.SubmissionFailed {
			t.Fatalf("expected stored state failed, got %s", stored.State)
		}
		if len(env.notifier.events) != 1 || env.notifier.events[0] != EventSubmissionFailed {
			t.Fatalf("unexpected notifications %v", env.notifier.events)
		}
	})

	t.Run("failed broadcast keeps the transaction hash", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "active")))
		env.submitter.sub = domain.Submission{Chain: "celo", TxHash: "0xdead"}
		env.submitter.err = errors.New("resolveMarket reverted in tx 0xdead")

		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "celo", Submit: true})
		if err == nil {
			t.Fatalf("expected submission error")
		}
		if res.Submission == nil || res.Submission.TxHash != "0xdead" {
			t.Fatalf("expected tx hash 0xdead on failure, got %+v", res.Submission)
		}
		stored, _ := env.store.GetByID(context.Background(), res.ID)
		if stored.Submission == nil || stored.Submission.TxHash != "0xdead" {
			t.Fatalf("expected stored tx hash 0xdead, got %+v", stored.Submission)
		}
	})

	t.Run("cached submission is per chain", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "active")))
		env.submitter.sub = domain.Submission{TxHash: "0xfeed", Success: true}
		svc := env.service()

		first, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "celo", Submit: true})
		if err != nil || first.Submission == nil || first.Submission.Chain != "celo" {
			t.Fatalf("expected celo submission, got %+v, %v", first.Submission, err)
		}

		second, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "sepolia", Submit: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.Submission == nil || second.Submission.Chain != "sepolia" || second.State != domain.SubmissionSubmitted {
			t.Fatalf("expected sepolia submission, got %+v (%s)", second.Submission, second.State)
		}

		third, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "celo", Submit: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if third.Submission == nil || third.Submission.Chain != "celo" {
			t.Fatalf("expected cached celo submission, got %+v", third.Submission)
		}

		if strings.Join(env.submitter.chains, ",") != "celo,sepolia" {
			t.Fatalf("expected submissions on celo then sepolia, got %v", env.submitter.chains)
		}
		if env.provider.calls != 1 {
			t.Fatalf("expected one provider call, got %d", env.provider.calls)
		}
	})

	t.Run("held lock rejects submission", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "active")))
		env.locks.held["resolve::"+testQuery.FlightID] = true

		res, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery, Submit: true})
		if !errors.Is(err, domain.ErrLockHeld) {
			t.Fatalf("expected ErrLockHeld, got %v", err)
		}
		if res.Outcome != domain.OutcomeOnTime {
			t.Fatalf("expected outcome alongside lock error, got %s", res.Outcome)
		}
		if len(env.submitter.calls) != 0 {
			t.Fatalf("expected no submission, got %d", len(env.submitter.calls))
		}
	})

	t.Run("submission without chain integration fails", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "active")))
		svc := env.service()
		svc.deps.Submitter = nil

		_, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Submit: true})
		var subErr *domain.SubmissionError
		if !errors.As(err, &subErr) || !errors.Is(err, domain.ErrChainNotConfigured) {
			t.Fatalf("expected SubmissionError wrapping ErrChainNotConfigured, got %v", err)
		}
	})

	t.Run("provider error is propagated", func(t *testing.T) {
		env := newTestEnv(domain.FlightHistory{})
		env.provider.err = &domain.UpstreamError{Provider: "aviation-edge", Status: 401, StatusText: "Unauthorized"}

		_, err := env.service().Resolve(context.Background(), ResolveRequest{Query: testQuery})
		var upErr *domain.UpstreamError
		if !errors.As(err, &upErr) || upErr.Status != 401 {
			t.Fatalf("expected UpstreamError 401, got %v", err)
		}
		if len(env.store.byID) != 0 {
			t.Fatalf("expected nothing stored on provider failure")
		}
	})

	t.Run("cached resolution skips provider", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 30, "active")))
		svc := env.service()

		first, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if env.provider.calls != 1 {
			t.Fatalf("expected one provider call, got %d", env.provider.calls)
		}
		if first.ID != second.ID {
			t.Fatalf("expected cached resolution %s, got %s", first.ID, second.ID)
		}
	})
}

func TestResolutionService_Submit(t *testing.T) {
	t.Parallel()

	t.Run("retries a failed submission", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 35, "active")))
		env.submitter.err = errors.New("nonce too low")
		svc := env.service()

		res, _ := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Submit: true})
		if res.State != domain.SubmissionFailed {
			t.Fatalf("expected failed state, got %s", res.State)
		}

		env.submitter.err = nil
		retried, err := svc.Submit(context.Background(), res.ID, "celo")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if retried.State != domain.SubmissionSubmitted {
			t.Fatalf("expected submitted, got %s", retried.State)
		}
		if len(env.submitter.calls) != 2 {
			t.Fatalf("expected 2 submission attempts, got %d", len(env.submitter.calls))
		}
		if env.provider.calls != 1 {
			t.Fatalf("expected retry not to refetch, got %d provider calls", env.provider.calls)
		}

		again, err := svc.Submit(context.Background(), res.ID, "celo")
		if err != nil || again.State != domain.SubmissionSubmitted {
			t.Fatalf("expected idempotent retry, got %s, %v", again.State, err)
		}
		if len(env.submitter.calls) != 2 {
			t.Fatalf("expected no further submission, got %d", len(env.submitter.calls))
		}
	})

	t.Run("submitted resolution can be sent to another chain", func(t *testing.T) {
		env := newTestEnv(historyOf(record("2025-11-03t07:05:00.000", 0, "active")))
		env.submitter.sub = domain.Submission{TxHash: "0xfeed", Success: true}
		svc := env.service()

		res, err := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery, Chain: "celo", Submit: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		other, err := svc.Submit(context.Background(), res.ID, "sepolia")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if other.Submission == nil || other.Submission.Chain != "sepolia" {
			t.Fatalf("expected sepolia submission, got %+v", other.Submission)
		}

		again, err := svc.Submit(context.Background(), res.ID, "celo")
		if err != nil || again.Submission == nil || again.Submission.Chain != "celo" {
			t.Fatalf("expected cached celo submission, got %+v, %v", again.Submission, err)
		}
		if strings.Join(env.submitter.chains, ",") != "celo,sepolia" {
			t.Fatalf("expected submissions on celo then sepolia, got %v", env.submitter.chains)
		}
	})

	t.Run("not found resolution is not submittable", func(t *testing.T) {
		env := newTestEnv(historyOf())
		svc := env.service()
		res, _ := svc.Resolve(context.Background(), ResolveRequest{Query: testQuery})

		_, err := svc.Submit(context.Background(), res.ID, "")
		if !errors.Is(err, domain.ErrNotSubmittable) {
			t.Fatalf("expected ErrNotSubmittable, got %v", err)
		}
	})

	t.Run("unknown resolution", func(t *testing.T) {
		env := newTestEnv(historyOf())
		_, err := env.service().Submit(context.Background(), "missing", "")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEvidencePath(t *testing.T) {
	got := EvidencePath("evidence", "2025-11-03", "0xabc", "r-1")
	if got != "evidence/2025-11-03/0xabc/r-1.json" {
		t.Fatalf("unexpected evidence path %q", got)
	}
}
