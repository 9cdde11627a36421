package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

// StreamReader reads the durable resolution event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// ResolutionHandler serves stored resolutions, their evidence and the
// submission retry endpoint.
type ResolutionHandler struct {
	svc      ResolutionService
	networks ChainSelector
	blobs    domain.BlobReader
	events   StreamReader
	logger   *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler. blobs and events may be
// nil when object storage or redis is not configured.
func NewResolutionHandler(svc ResolutionService, networks ChainSelector, blobs domain.BlobReader, events StreamReader, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		svc:      svc,
		networks: networks,
		blobs:    blobs,
		events:   events,
		logger:   logHandler(logger, "resolutions"),
	}
}

type resolutionView struct {
	ID            string                 `json:"id"`
	FlightID      string                 `json:"flightId"`
	DepartureCode string                 `json:"departureCode"`
	AirlineCode   string                 `json:"airlineCode"`
	FlightNumber  string                 `json:"flightNumber"`
	ScheduledTime string                 `json:"scheduledDateTime"`
	Date          string                 `json:"date"`
	Flight        json.RawMessage        `json:"flight,omitempty"`
	Outcome       domain.Outcome         `json:"outcome"`
	OutcomeName   string                 `json:"outcomeName"`
	Candidates    int                    `json:"candidates"`
	State         domain.SubmissionState `json:"state"`
	Submission    *domain.Submission     `json:"submission,omitempty"`
	EvidencePath  string                 `json:"evidencePath,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

func toView(r domain.Resolution) resolutionView {
	return resolutionView{
		ID:            r.ID,
		FlightID:      r.Query.FlightID,
		DepartureCode: r.Query.DepartureCode,
		AirlineCode:   r.Query.AirlineCode,
		FlightNumber:  r.Query.FlightNumber,
		ScheduledTime: r.Query.ScheduledRaw,
		Date:          r.Query.Date,
		Flight:        r.Flight,
		Outcome:       r.Outcome,
		OutcomeName:   r.Outcome.String(),
		Candidates:    r.Candidates,
		State:         r.State,
		Submission:    r.Submission,
		EvidencePath:  r.EvidencePath,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Get returns one stored resolution.
// GET /resolutions/{id}
func (h *ResolutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeResolveError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(res))
}

// List returns stored resolutions, newest first.
// GET /resolutions?flightId=0x..&limit=50&offset=0
func (h *ResolutionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("flightId"), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list resolutions failed",
			slog.String("error", err.Error()),
		)
		writeInternal(w, err)
		return
	}

	views := make([]resolutionView, 0, len(list))
	for _, res := range list {
		views = append(views, toView(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolutions": views,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// Submit retries the on-chain submission of a stored resolution.
// POST /resolutions/{id}/submit?chain=celo
func (h *ResolutionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("chain")
	network, err := h.networks.Resolve(selector)
	if err != nil {
		writeUnknownChain(w, h.networks, selector)
		return
	}

	res, err := h.svc.Submit(r.Context(), pathParam(r, "id"), network.Key)
	if err != nil && res.ID == "" {
		writeResolveError(w, h.logger, r, err)
		return
	}
	writeResolution(w, h.logger, r, h.networks, res, err)
}

// Evidence streams the archived provider response of a resolution.
// GET /resolutions/{id}/evidence
func (h *ResolutionHandler) Evidence(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Evidence storage not configured")
		return
	}

	res, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeResolveError(w, h.logger, r, err)
		return
	}
	if res.EvidencePath == "" {
		writeError(w, http.StatusNotFound, "No evidence archived")
		return
	}

	body, err := h.blobs.Get(r.Context(), res.EvidencePath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No evidence archived")
			return
		}
		h.logger.ErrorContext(r.Context(), "read evidence failed",
			slog.String("path", res.EvidencePath),
			slog.String("error", err.Error()),
		)
		writeInternal(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "evidence copy interrupted",
			slog.String("error", err.Error()),
		)
	}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Events pages through the durable resolution event stream so clients that
// missed WebSocket pushes can catch up.
// GET /resolutions/events?after=0&count=100
func (h *ResolutionHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event stream not configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" || after == "$" {
		after = "0"
	}
	count := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("count")); err == nil && n > 0 && n <= 1000 {
		count = n
	}

	msgs, err := h.events.StreamRead(r.Context(), domain.StreamResolutions, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed",
			slog.String("error", err.Error()),
		)
		writeInternal(w, err)
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	next := after
	for _, m := range msgs {
		events = append(events, streamEvent{ID: m.ID, Event: json.RawMessage(m.Payload)})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
	})
}
