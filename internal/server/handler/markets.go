package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, selector, id string) (domain.Market, error)
	Positions(ctx context.Context, selector, id, address string) ([]domain.UserPosition, error)
	Quote(ctx context.Context, selector string, side domain.QuoteSide, shares, price *big.Int) (domain.Quote, error)
	CreateMarket(ctx context.Context, selector string, m domain.NewMarket) (domain.CreatedMarket, error)
}

// MarketHandler serves on-chain market reads, quotes and market creation.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "markets"),
	}
}

// GetMarket returns the on-chain view of a flight market.
// GET /markets/{id}?chain=c
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := chain.ParseFlightID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), r.URL.Query().Get("chain"), id)
	if err != nil {
		h.writeChainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Positions returns a wallet's YES/NO holdings for every outcome.
// GET /markets/{id}/positions/{address}?chain=c
func (h *MarketHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, address := pathParam(r, "id"), pathParam(r, "address")
	if _, err := chain.ParseFlightID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	positions, err := h.markets.Positions(r.Context(), r.URL.Query().Get("chain"), id, address)
	if err != nil {
		h.writeChainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId":  id,
		"address":   common.HexToAddress(address).Hex(),
		"positions": positions,
	})
}

type quoteResponse struct {
	Chain           string           `json:"chain"`
	Side            domain.QuoteSide `json:"side"`
	Shares          string           `json:"shares"`
	Price           string           `json:"price"`
	Amount          string           `json:"amount"`
	AmountFormatted string           `json:"amountFormatted"`
}

// Quote prices a buy or sell through the contract. shares and price are
// decimal strings in whole units.
// GET /quote?side=buy&shares=10&price=0.45&chain=c
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	side := domain.QuoteSide(strings.ToLower(params.Get("side")))
	if side != domain.QuoteBuy && side != domain.QuoteSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	shares, err := chain.ParseUnits(params.Get("shares"), chain.Decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid shares")
		return
	}
	price, err := chain.ParseUnits(params.Get("price"), chain.Decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	q, err := h.markets.Quote(r.Context(), params.Get("chain"), side, shares, price)
	if err != nil {
		h.writeChainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Chain:           q.Chain,
		Side:            q.Side,
		Shares:          q.Shares.String(),
		Price:           q.Price.String(),
		Amount:          q.Amount.String(),
		AmountFormatted: chain.FormatUnits(q.Amount, chain.Decimals),
	})
}

type createMarketRequest struct {
	domain.NewMarket
	Chain string `json:"chain"`
}

// CreateMarket opens a new flight market. Operator only.
// POST /markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var missing []string
	for name, v := range map[string]string{
		"flightNumber":    req.FlightNumber,
		"departureCode":   req.DepartureCode,
		"destinationCode": req.DestinationCode,
		"airlineCode":     req.AirlineCode,
		"scheduledTime":   req.ScheduledTime,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Missing required fields",
			"missing": missing,
		})
		return
	}

	created, err := h.markets.CreateMarket(r.Context(), req.Chain, req.NewMarket)
	if err != nil {
		h.writeChainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// writeChainError maps contract and registry errors to statuses.
func (h *MarketHandler) writeChainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrUnknownChain):
		writeError(w, http.StatusBadRequest, "unknown chain")
	case errors.Is(err, domain.ErrChainNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "chain integration not configured")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "chain request timed out")
	default:
		h.logger.ErrorContext(r.Context(), "chain request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Blockchain request failed",
			"message": err.Error(),
		})
	}
}
