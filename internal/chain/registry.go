package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/metrics"
)

// Registry holds one contract client per reachable network.
type Registry struct {
	networks *Networks
	clients  map[string]*Client
	logger   *slog.Logger
}

// Connect dials every network that has an RPC URL. Networks that cannot be
// reached are logged and left unconfigured; requests for them fail with
// domain.ErrChainNotConfigured.
func Connect(ctx context.Context, networks *Networks, signer Signer, pollInterval time.Duration, logger *slog.Logger) *Registry {
	r := NewRegistry(networks, logger)
	for _, n := range networks.All() {
		if n.RPCURL == "" {
			continue
		}
		c, err := Dial(ctx, n, signer, logger)
		if err != nil {
			r.logger.WarnContext(ctx, "chain unavailable", slog.String("chain", n.Key), slog.String("error", err.Error()))
			continue
		}
		c.SetPollInterval(pollInterval)
		r.clients[n.Key] = c
	}
	return r
}

// NewRegistry creates an empty registry; clients are attached with Add.
func NewRegistry(networks *Networks, logger *slog.Logger) *Registry {
	return &Registry{
		networks: networks,
		clients:  make(map[string]*Client),
		logger:   logger.With(slog.String("component", "chain_registry")),
	}
}

// Add registers a client under its network key.
func (r *Registry) Add(c *Client) {
	r.clients[c.Network().Key] = c
}

// Networks returns the network set the registry was built from.
func (r *Registry) Networks() *Networks { return r.networks }

// Configured reports whether at least one network has a client.
func (r *Registry) Configured() bool { return len(r.clients) > 0 }

// Client returns the client for a selector ("", "c", "celo", ...).
func (r *Registry) Client(selector string) (*Client, error) {
	n, err := r.networks.Resolve(selector)
	if err != nil {
		return nil, err
	}
	c, ok := r.clients[n.Key]
	if !ok {
		return nil, fmt.Errorf("chain: %s: %w", n.Key, domain.ErrChainNotConfigured)
	}
	return c, nil
}

// Submit sends resolveMarket for flightID on the selected network. A failure
// is returned both as a *domain.SubmissionError and inside the returned
// Submission so callers can persist it.
func (r *Registry) Submit(ctx context.Context, selector, flightID string, outcome domain.Outcome) (domain.Submission, error) {
	c, err := r.Client(selector)
	if err != nil {
		key := selector
		if n, rerr := r.networks.Resolve(selector); rerr == nil {
			key = n.Key
		}
		return domain.Submission{Chain: key, Error: err.Error()}, &domain.SubmissionError{Chain: key, Err: err}
	}

	n := c.Network()
	sub := domain.Submission{Chain: n.Key, Contract: n.Contract.Hex()}

	start := time.Now()
	res, err := c.ResolveMarket(ctx, flightID, outcome)
	metrics.RecordSubmission(n.Key, time.Since(start), err)
	sub.TxHash = res.Hash
	sub.BlockNumber = res.BlockNumber
	if err != nil {
		sub.Error = err.Error()
		if res.Hash != "" {
			r.logger.WarnContext(ctx, "resolveMarket transaction failed after broadcast",
				slog.String("chain", n.Key),
				slog.String("flight_id", flightID),
				slog.String("tx", res.Hash),
				slog.String("error", err.Error()),
			)
		}
		return sub, &domain.SubmissionError{Chain: n.Key, Err: err}
	}

	sub.Success = true
	r.logger.InfoContext(ctx, "market resolved on-chain",
		slog.String("chain", n.Key),
		slog.String("flight_id", flightID),
		slog.String("outcome", outcome.String()),
		slog.String("tx", res.Hash),
		slog.String("explorer", n.TxURL(res.Hash)),
	)
	return sub, nil
}

// Close closes every client.
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
