package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	history domain.FlightHistory
	err     error
	calls   int
	lastCtx context.Context
}

func (f *fakeProvider) DepartureHistory(ctx context.Context, _ domain.FlightQuery) (domain.FlightHistory, error) {
	f.calls++
	f.lastCtx = ctx
	return f.history, f.err
}

type fakeSubmitter struct {
	sub    domain.Submission
	err    error
	calls  []domain.Outcome
	chains []string
}

func (f *fakeSubmitter) Submit(_ context.Context, chain, _ string, outcome domain.Outcome) (domain.Submission, error) {
	f.calls = append(f.calls, outcome)
	f.chains = append(f.chains, chain)
	sub := f.sub
	if sub.Chain == "" {
		sub.Chain = chain
	}
	if f.err != nil {
		sub.Error = f.err.Error()
		return sub, &domain.SubmissionError{Chain: sub.Chain, Err: f.err}
	}
	return sub, nil
}

type fakeStore struct {
	mu      sync.Mutex
	byID    map[string]domain.Resolution
	updates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]domain.Resolution{}}
}

func (f *fakeStore) Create(_ context.Context, r domain.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[r.ID] = r
	return nil
}

func (f *fakeStore) UpdateSubmission(_ context.Context, id string, state domain.SubmissionState, sub *domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.State = state
	r.Submission = sub
	f.byID[id] = r
	f.updates++
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (domain.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Resolution, 0, len(f.byID))
	for _, r := range f.byID {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) ListByFlight(_ context.Context, flightID string) ([]domain.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Resolution
	for _, r := range f.byID {
		if r.Query.FlightID == flightID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeCache struct {
	items map[string]domain.Resolution
}

func newFakeCache() *fakeCache { return &fakeCache{items: map[string]domain.Resolution{}} }

func (f *fakeCache) Set(_ context.Context, key string, r domain.Resolution, _ time.Duration) error {
	f.items[key] = r
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) (domain.Resolution, error) {
	r, ok := f.items[key]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeCache) Invalidate(_ context.Context, key string) error {
	delete(f.items, key)
	return nil
}

type fakeLocks struct {
	held     map[string]bool
	acquired []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[path] = b
	return nil
}

type fakeBus struct {
	published []domain.ResolutionEvent
	streamed  int
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.ResolutionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error {
	f.streamed++
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.events = append(f.events, event)
	return nil
}

type fakeContract struct {
	network   chain.Network
	market    domain.Market
	reads     int
	buy, sell *big.Int
	createdID string
	err       error
}

func (f *fakeContract) Network() chain.Network { return f.network }

func (f *fakeContract) GetMarket(context.Context, string) (domain.Market, error) {
	f.reads++
	return f.market, f.err
}

func (f *fakeContract) GetUserPosition(_ context.Context, id, address string, o domain.Outcome) (domain.UserPosition, error) {
	return domain.UserPosition{MarketID: id, Address: address, Outcome: o, Yes: big.NewInt(int64(o)), No: big.NewInt(0)}, f.err
}

func (f *fakeContract) CalculateBuyCost(context.Context, *big.Int, *big.Int) (*big.Int, error) {
	return f.buy, f.err
}

func (f *fakeContract) CalculateSellPayout(context.Context, *big.Int, *big.Int) (*big.Int, error) {
	return f.sell, f.err
}

func (f *fakeContract) CreateMarket(context.Context, domain.NewMarket) (string, chain.TxResult, error) {
	if f.err != nil {
		return "", chain.TxResult{}, f.err
	}
	return f.createdID, chain.TxResult{Hash: "0xabc", BlockNumber: 9}, nil
}

type fakeMarketCache struct {
	items       map[string]domain.Market
	invalidated []string
}

func (f *fakeMarketCache) Set(_ context.Context, m domain.Market) error {
	if f.items == nil {
		f.items = map[string]domain.Market{}
	}
	f.items[m.Chain+"/"+m.ID] = m
	return nil
}

func (f *fakeMarketCache) Get(_ context.Context, chain, id string) (domain.Market, error) {
	m, ok := f.items[chain+"/"+id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketCache) Invalidate(_ context.Context, chain, id string) error {
	delete(f.items, chain+"/"+id)
	f.invalidated = append(f.invalidated, chain+"/"+id)
	return nil
}
