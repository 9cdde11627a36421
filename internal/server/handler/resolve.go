package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jetlagged/skyshield/internal/chain"
	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/resolver"
	"github.com/jetlagged/skyshield/internal/service"
)

// ResolutionService is the part of the service layer the resolution
// endpoints use.
type ResolutionService interface {
	Resolve(ctx context.Context, req service.ResolveRequest) (domain.Resolution, error)
	Submit(ctx context.Context, id, chain string) (domain.Resolution, error)
	Get(ctx context.Context, id string) (domain.Resolution, error)
	List(ctx context.Context, flightID string, opts domain.ListOpts) ([]domain.Resolution, error)
	ChainConfigured() bool
}

// ChainSelector maps the chain query parameter to a configured network.
type ChainSelector interface {
	Resolve(selector string) (chain.Network, error)
	All() []chain.Network
}

// ResolveHandler serves GET /resolve.
type ResolveHandler struct {
	svc      ResolutionService
	networks ChainSelector
	logger   *slog.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(svc ResolutionService, networks ChainSelector, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{
		svc:      svc,
		networks: networks,
		logger:   logHandler(logger, "resolve"),
	}
}

type blockchainView struct {
	domain.Submission
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

type resolveResponse struct {
	Error        string                 `json:"error,omitempty"`
	ResolutionID string                 `json:"resolutionId"`
	FlightID     string                 `json:"flightId"`
	Flight       json.RawMessage        `json:"flight"`
	Outcome      domain.Outcome         `json:"outcome"`
	OutcomeName  string                 `json:"outcomeName"`
	Candidates   int                    `json:"candidates"`
	State        domain.SubmissionState `json:"state"`
	Blockchain   *blockchainView        `json:"blockchain,omitempty"`
}

type notFoundResponse struct {
	Error             string         `json:"error"`
	ResolutionID      string         `json:"resolutionId,omitempty"`
	FlightID          string         `json:"flightId"`
	DepartureCode     string         `json:"departureCode"`
	Date              string         `json:"date"`
	ScheduledDateTime string         `json:"scheduledDateTime"`
	AirlineCode       string         `json:"airlineCode"`
	FlightNumber      string         `json:"flightNumber"`
	Outcome           domain.Outcome `json:"outcome"`
}

// Resolve matches a flight against the provider and returns its outcome,
// submitting it on-chain when asked to.
// GET /resolve?flightId=0x..&departureCode=FRA&date=2025-11-03T07:05&airlineCode=AF&flightNumber=1019[&chain=c][&submit=true]
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q, err := resolver.NewQuery(params.Get)
	if err != nil {
		var missing *resolver.MissingParamsError
		switch {
		case errors.As(err, &missing):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "Missing required parameters",
				"required": resolver.RequiredParams,
			})
		case errors.Is(err, domain.ErrInvalidTime):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Invalid date",
				"date":    params.Get(resolver.ParamDate),
				"formats": []string{"YYYY-MM-DDTHH:MM", "YYYY-MM-DD HH:MM"},
			})
		default:
			writeInternal(w, err)
		}
		return
	}

	selector := params.Get("chain")
	network, err := h.networks.Resolve(selector)
	if err != nil {
		writeUnknownChain(w, h.networks, selector)
		return
	}

	submit, _ := strconv.ParseBool(params.Get("submit"))
	if selector != "" && h.svc.ChainConfigured() {
		submit = true
	}

	res, err := h.svc.Resolve(r.Context(), service.ResolveRequest{
		Query:  q,
		Chain:  network.Key,
		Submit: submit,
	})
	if err != nil && res.ID == "" {
		writeResolveError(w, h.logger, r, err)
		return
	}

	if !res.Matched() {
		writeJSON(w, http.StatusNotFound, notFoundResponse{
			Error:             "No matching flight found",
			ResolutionID:      res.ID,
			FlightID:          q.FlightID,
			DepartureCode:     q.DepartureCode,
			Date:              q.Date,
			ScheduledDateTime: q.ScheduledRaw,
			AirlineCode:       q.AirlineCode,
			FlightNumber:      q.FlightNumber,
			Outcome:           domain.OutcomeNotFound,
		})
		return
	}

	writeResolution(w, h.logger, r, h.networks, res, err)
}

// writeResolution answers with a computed resolution. A submission error
// keeps the resolution in the body and switches the status.
func writeResolution(w http.ResponseWriter, logger *slog.Logger, r *http.Request, networks ChainSelector, res domain.Resolution, err error) {
	body := resolveResponse{
		ResolutionID: res.ID,
		FlightID:     res.Query.FlightID,
		Flight:       res.Flight,
		Outcome:      res.Outcome,
		OutcomeName:  res.Outcome.String(),
		Candidates:   res.Candidates,
		State:        res.State,
	}
	if res.Submission != nil {
		bc := &blockchainView{Submission: *res.Submission}
		if n, nerr := networks.Resolve(res.Submission.Chain); nerr == nil {
			bc.ExplorerURL = n.TxURL(res.Submission.TxHash)
		}
		body.Blockchain = bc
	}

	status := http.StatusOK
	var subErr *domain.SubmissionError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLockHeld):
		status = http.StatusConflict
		body.Error = "Submission already in progress"
	case errors.As(err, &subErr):
		status = http.StatusBadGateway
		body.Error = "Blockchain submission failed"
		if body.Blockchain == nil {
			body.Blockchain = &blockchainView{Submission: domain.Submission{Chain: subErr.Chain}}
		}
		body.Blockchain.Error = subErr.Err.Error()
	default:
		writeResolveError(w, logger, r, err)
		return
	}
	writeJSON(w, status, body)
}

// writeResolveError maps a failed resolution to the error taxonomy: provider
// status propagated, timeout 504, anything else 500.
func writeResolveError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var upErr *domain.UpstreamError
	switch {
	case errors.As(err, &upErr):
		writeJSON(w, upErr.Status, map[string]any{
			"error":      "Aviation Edge API error",
			"status":     upErr.Status,
			"statusText": upErr.StatusText,
		})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":   "Aviation Edge API timeout",
			"message": err.Error(),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resolution not found")
	case errors.Is(err, domain.ErrNotSubmittable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "Outcome is not submittable",
			"outcome": domain.OutcomeNotFound,
		})
	default:
		logger.ErrorContext(r.Context(), "resolution failed",
			slog.String("error", err.Error()),
		)
		writeInternal(w, err)
	}
}

func writeUnknownChain(w http.ResponseWriter, networks ChainSelector, selector string) {
	var supported []string
	for _, n := range networks.All() {
		supported = append(supported, n.Key, n.Code)
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":     "Unknown chain",
		"chain":     selector,
		"supported": supported,
	})
}
