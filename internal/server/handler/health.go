package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// ChainInfo describes one configured network for the health endpoint.
type ChainInfo struct {
	Key       string `json:"-"`
	RPC       bool   `json:"rpc"`
	Contract  string `json:"contract"`
	Connected bool   `json:"connected"`
}

// HealthInfo lists which secrets are present. Values are never exposed.
type HealthInfo struct {
	AviationEdgeKey bool
	PrivateKey      bool
	DefaultChain    string
	Chains          []ChainInfo
}

// Check probes a backing dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	info   HealthInfo
	checks map[string]Check
	logger *slog.Logger
	now    func() time.Time
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(info HealthInfo, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		info:   info,
		checks: checks,
		logger: logHandler(logger, "health"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck reports liveness, secret presence and dependency status. It
// always answers 200 while the process is serving; a failing dependency is
// reported in the body.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	chains := make(map[string]ChainInfo, len(h.info.Chains))
	for _, c := range h.info.Chains {
		chains[c.Key] = c
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": h.now().Format("2006-01-02T15:04:05.000Z07:00"),
		"config": map[string]any{
			"aviationEdgeKey": h.info.AviationEdgeKey,
			"privateKey":      h.info.PrivateKey,
			"defaultChain":    h.info.DefaultChain,
			"chains":          chains,
		},
	}

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		deps := make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				h.logger.WarnContext(ctx, "dependency unhealthy",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				deps[name] = "error: " + err.Error()
				body["status"] = "degraded"
				continue
			}
			deps[name] = "ok"
		}
		body["dependencies"] = deps
	}

	writeJSON(w, http.StatusOK, body)
}
