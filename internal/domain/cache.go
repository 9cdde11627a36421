package domain

import (
	"context"
	"time"
)

// ResolutionCache keeps terminal resolutions so repeated settlement requests
// for the same flight do not hit the provider again.
type ResolutionCache interface {
	Set(ctx context.Context, key string, r Resolution, ttl time.Duration) error
	Get(ctx context.Context, key string) (Resolution, error)
	Invalidate(ctx context.Context, key string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// MarketCache keeps recent on-chain market reads so dashboards polling the
// same market do not hit the RPC endpoint on every request.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, chain, id string) (Market, error)
	Invalidate(ctx context.Context, chain, id string) error
}
