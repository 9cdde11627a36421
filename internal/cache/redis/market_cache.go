package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jetlagged/skyshield/internal/domain"
)

// marketTTL keeps on-chain reads fresh enough for dashboards; resolution
// invalidates the entry explicitly.
const marketTTL = 30 * time.Second

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized Market data.
//
// Key schema:
//
//	{ns}:market:{chain}:{id} - hash with field "data" containing JSON
type MarketCache struct {
	client *Client
	ttl    time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{client: c, ttl: marketTTL}
}

func (mc *MarketCache) key(chain, id string) string {
	return mc.client.Key("market", chain, id)
}

// Set stores a Market in the cache with a short TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := mc.key(market.Chain, market.ID)
	pipe := mc.client.Underlying().TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a Market by chain and ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, chain, id string) (domain.Market, error) {
	data, err := mc.client.Underlying().HGet(ctx, mc.key(chain, id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Invalidate removes a cached Market.
func (mc *MarketCache) Invalidate(ctx context.Context, chain, id string) error {
	if err := mc.client.Underlying().Del(ctx, mc.key(chain, id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
