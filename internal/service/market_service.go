package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/domain"
)

// MarketContract is the per-network FlightMarket client used for reads,
// quotes and market creation. *chain.Client satisfies it.
type MarketContract interface {
	Network() chain.Network
	GetMarket(ctx context.Context, flightID string) (domain.Market, error)
	GetUserPosition(ctx context.Context, flightID, address string, outcome domain.Outcome) (domain.UserPosition, error)
	CalculateBuyCost(ctx context.Context, shares, pricePerShare *big.Int) (*big.Int, error)
	CalculateSellPayout(ctx context.Context, shares, pricePerShare *big.Int) (*big.Int, error)
	CreateMarket(ctx context.Context, m domain.NewMarket) (string, chain.TxResult, error)
}

// ContractLookup returns the contract client for a chain selector.
type ContractLookup func(selector string) (MarketContract, error)

// RegistryLookup adapts a chain.Registry to a ContractLookup.
func RegistryLookup(r *chain.Registry) ContractLookup {
	return func(selector string) (MarketContract, error) {
		c, err := r.Client(selector)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// MarketService serves on-chain market reads, quotes and operator market
// creation.
type MarketService struct {
	contracts ContractLookup
	cache     domain.MarketCache
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. cache and audit may be nil.
func NewMarketService(
	contracts ContractLookup,
	cache domain.MarketCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		contracts: contracts,
		cache:     cache,
		audit:     audit,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket reads a market, checking the cache first and falling back to the
// contract on a miss.
func (s *MarketService) GetMarket(ctx context.Context, selector, id string) (domain.Market, error) {
	c, err := s.contracts(selector)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	key := c.Network().Key

	if s.cache != nil {
		if m, err := s.cache.Get(ctx, key, id); err == nil {
			return m, nil
		}
	}

	m, err := c.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// InvalidateMarket drops a cached market read, typically after the market was
// resolved.
func (s *MarketService) InvalidateMarket(ctx context.Context, selector, id string) {
	if s.cache == nil {
		return
	}
	c, err := s.contracts(selector)
	if err != nil {
		return
	}
	if err := s.cache.Invalidate(ctx, c.Network().Key, id); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Positions returns the wallet's holdings for every outcome of the market.
func (s *MarketService) Positions(ctx context.Context, selector, id, address string) ([]domain.UserPosition, error) {
	c, err := s.contracts(selector)
	if err != nil {
		return nil, fmt.Errorf("market_service: %w", err)
	}
	out := make([]domain.UserPosition, 0, 4)
	for o := domain.OutcomeOnTime; o <= domain.OutcomeCancelled; o++ {
		pos, err := c.GetUserPosition(ctx, id, address, o)
		if err != nil {
			return nil, fmt.Errorf("market_service: positions %q: %w", id, err)
		}
		out = append(out, pos)
	}
	return out, nil
}

// Quote asks the contract for a buy cost or sell payout.
func (s *MarketService) Quote(ctx context.Context, selector string, side domain.QuoteSide, shares, price *big.Int) (domain.Quote, error) {
	c, err := s.contracts(selector)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: %w", err)
	}

	var amount *big.Int
	switch side {
	case domain.QuoteBuy:
		amount, err = c.CalculateBuyCost(ctx, shares, price)
	case domain.QuoteSell:
		amount, err = c.CalculateSellPayout(ctx, shares, price)
	default:
		return domain.Quote{}, fmt.Errorf("market_service: unknown quote side %q", side)
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: quote: %w", err)
	}
	return domain.Quote{
		Chain:  c.Network().Key,
		Side:   side,
		Shares: shares,
		Price:  price,
		Amount: amount,
	}, nil
}

// CreateMarket opens a flight market on the selected chain.
func (s *MarketService) CreateMarket(ctx context.Context, selector string, m domain.NewMarket) (domain.CreatedMarket, error) {
	c, err := s.contracts(selector)
	if err != nil {
		return domain.CreatedMarket{}, fmt.Errorf("market_service: %w", err)
	}
	network := c.Network().Key

	id, tx, err := c.CreateMarket(ctx, m)
	if err != nil {
		s.logAudit(ctx, "market.create_failed", map[string]any{
			"chain":  network,
			"flight": m.AirlineCode + m.FlightNumber,
			"error":  err.Error(),
		})
		return domain.CreatedMarket{}, fmt.Errorf("market_service: create market: %w", err)
	}

	created := domain.CreatedMarket{ID: id, Chain: network, TxHash: tx.Hash, BlockNumber: tx.BlockNumber}
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("chain", network),
		slog.String("market_id", id),
		slog.String("tx", tx.Hash),
	)
	s.logAudit(ctx, "market.created", map[string]any{
		"chain":     network,
		"market_id": id,
		"flight":    m.AirlineCode + m.FlightNumber,
		"departure": m.DepartureCode,
		"scheduled": m.ScheduledTime,
		"tx_hash":   tx.Hash,
	})
	return created, nil
}

func (s *MarketService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "market_service: audit log failed", slog.String("error", err.Error()))
	}
}
