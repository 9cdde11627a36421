package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jetlagged/skyshield/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A fresh namespace per test keeps runs independent without FLUSHDB.
	c, err := New(ctx, ClientConfig{Addr: addr, Namespace: "skyshield-test-" + uuid.New().String()[:8]})
	if err != nil {
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientKey(t *testing.T) {
	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer c.Close()

	if got := c.Key("lock", "celo", "0xabc"); got != "skyshield:lock:celo:0xabc" {
		t.Fatalf("unexpected key %q", got)
	}

	c2 := NewFromRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "staging:")
	defer c2.Close()
	if got := c2.Key("market", "x"); got != "staging:market:x" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "resolve:celo:0xabc", time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := lm.Acquire(ctx, "resolve:celo:0xabc", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "resolve:celo:0xabc", time.Minute)
	if err != nil {
		t.Fatalf("expected lock to be free after unlock, got %v", err)
	}
	again()
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got %v, %v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("expected fourth request to be limited, got %v, %v", ok, err)
	}
}

func TestResolutionCache(t *testing.T) {
	c := newTestClient(t)
	rc := NewResolutionCache(c)
	ctx := context.Background()

	if _, err := rc.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res := domain.Resolution{
		ID:      "r-1",
		Query:   domain.FlightQuery{FlightID: "0xabc", Scheduled: time.Date(2025, 11, 3, 7, 5, 0, 0, time.UTC)},
		Flight:  []byte(`{"status":"cancelled"}`),
		Outcome: domain.OutcomeCancelled,
		State:   domain.SubmissionSubmitted,
		Submission: &domain.Submission{
			Chain: "celo", TxHash: "0xfeed", Success: true,
		},
	}
	if err := rc.Set(ctx, "k", res, time.Minute); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := rc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ID != "r-1" || got.Outcome != domain.OutcomeCancelled || got.Submission.TxHash != "0xfeed" {
		t.Fatalf("unexpected resolution %+v", got)
	}
	if !got.Query.Scheduled.Equal(res.Query.Scheduled) || string(got.Flight) != `{"status":"cancelled"}` {
		t.Fatalf("unexpected query/flight %+v %s", got.Query, got.Flight)
	}

	if err := rc.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := rc.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidate, got %v", err)
	}
}

func TestSignalBusStream(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()
	stream := c.Key("stream", "resolutions")

	for _, p := range []string{`{"n":1}`, `{"n":2}`} {
		if err := bus.StreamAppend(ctx, stream, []byte(p)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 2 || string(msgs[1].Payload) != `{"n":2}` {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	rest, err := bus.StreamRead(ctx, stream, msgs[1].ID, 10)
	if err != nil || len(rest) != 0 {
		t.Fatalf("expected no newer messages, got %d (%v)", len(rest), err)
	}
	_ = c.Underlying().Del(ctx, stream).Err()
}
