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

// resolutionTTL applies when the caller passes a zero TTL.
const resolutionTTL = 24 * time.Hour

// ResolutionCache implements domain.ResolutionCache with JSON values under
// {ns}:resolution:{queryKey}.
type ResolutionCache struct {
	client *Client
}

// NewResolutionCache creates a ResolutionCache backed by the given Client.
func NewResolutionCache(c *Client) *ResolutionCache {
	return &ResolutionCache{client: c}
}

// cachedResolution is the stored form; domain.Resolution carries no JSON tags.
type cachedResolution struct {
	ID           string                 `json:"id"`
	Query        cachedQuery            `json:"query"`
	Flight       json.RawMessage        `json:"flight,omitempty"`
	Outcome      domain.Outcome         `json:"outcome"`
	Candidates   int                    `json:"candidates"`
	State        domain.SubmissionState `json:"state"`
	Submission   *domain.Submission     `json:"submission,omitempty"`
	EvidencePath string                 `json:"evidencePath,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

type cachedQuery struct {
	FlightID      string    `json:"flightId"`
	DepartureCode string    `json:"departureCode"`
	AirlineCode   string    `json:"airlineCode"`
	FlightNumber  string    `json:"flightNumber"`
	ScheduledRaw  string    `json:"scheduledRaw"`
	Date          string    `json:"date"`
	Scheduled     time.Time `json:"scheduled"`
}

func toCached(r domain.Resolution) cachedResolution {
	q := r.Query
	return cachedResolution{
		ID: r.ID,
		Query: cachedQuery{
			FlightID:      q.FlightID,
			DepartureCode: q.DepartureCode,
			AirlineCode:   q.AirlineCode,
			FlightNumber:  q.FlightNumber,
			ScheduledRaw:  q.ScheduledRaw,
			Date:          q.Date,
			Scheduled:     q.Scheduled,
		},
		Flight:       r.Flight,
		Outcome:      r.Outcome,
		Candidates:   r.Candidates,
		State:        r.State,
		Submission:   r.Submission,
		EvidencePath: r.EvidencePath,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (c cachedResolution) toDomain() domain.Resolution {
	return domain.Resolution{
		ID: c.ID,
		Query: domain.FlightQuery{
			FlightID:      c.Query.FlightID,
			DepartureCode: c.Query.DepartureCode,
			AirlineCode:   c.Query.AirlineCode,
			FlightNumber:  c.Query.FlightNumber,
			ScheduledRaw:  c.Query.ScheduledRaw,
			Date:          c.Query.Date,
			Scheduled:     c.Query.Scheduled.UTC(),
		},
		Flight:       c.Flight,
		Outcome:      c.Outcome,
		Candidates:   c.Candidates,
		State:        c.State,
		Submission:   c.Submission,
		EvidencePath: c.EvidencePath,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// Set stores r under key for ttl.
func (rc *ResolutionCache) Set(ctx context.Context, key string, r domain.Resolution, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = resolutionTTL
	}
	data, err := json.Marshal(toCached(r))
	if err != nil {
		return fmt.Errorf("redis: marshal resolution %s: %w", r.ID, err)
	}
	if err := rc.client.Underlying().Set(ctx, rc.client.Key("resolution", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set resolution %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the cached resolution for key, or domain.ErrNotFound.
func (rc *ResolutionCache) Get(ctx context.Context, key string) (domain.Resolution, error) {
	data, err := rc.client.Underlying().Get(ctx, rc.client.Key("resolution", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("redis: get resolution: %w", err)
	}

	var c cachedResolution
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Resolution{}, fmt.Errorf("redis: unmarshal resolution: %w", err)
	}
	return c.toDomain(), nil
}

// Invalidate removes the cached resolution for key.
func (rc *ResolutionCache) Invalidate(ctx context.Context, key string) error {
	if err := rc.client.Underlying().Del(ctx, rc.client.Key("resolution", key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate resolution: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ResolutionCache = (*ResolutionCache)(nil)
