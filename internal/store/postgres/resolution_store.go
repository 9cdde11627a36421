package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jetlagged/skyshield/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given
// connection pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const resolutionSelectCols = `id, flight_id, departure_code, airline_code, flight_number,
	scheduled_raw, flight_date, scheduled_at, outcome, candidates, flight,
	state, submission, evidence_path, created_at, updated_at`

func scanResolution(row pgx.Row) (domain.Resolution, error) {
	var (
		r          domain.Resolution
		outcome    int16
		state      string
		flight     []byte
		submission []byte
	)
	if err := row.Scan(
		&r.ID, &r.Query.FlightID, &r.Query.DepartureCode, &r.Query.AirlineCode, &r.Query.FlightNumber,
		&r.Query.ScheduledRaw, &r.Query.Date, &r.Query.Scheduled, &outcome, &r.Candidates, &flight,
		&state, &submission, &r.EvidencePath, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return domain.Resolution{}, err
	}

	r.Outcome = domain.Outcome(outcome)
	r.State = domain.SubmissionState(state)
	r.Query.Scheduled = r.Query.Scheduled.UTC()
	if len(flight) > 0 {
		r.Flight = json.RawMessage(flight)
	}
	if len(submission) > 0 {
		var sub domain.Submission
		if err := json.Unmarshal(submission, &sub); err != nil {
			return domain.Resolution{}, fmt.Errorf("unmarshal submission: %w", err)
		}
		r.Submission = &sub
	}
	return r, nil
}

func scanResolutionRows(rows pgx.Rows) ([]domain.Resolution, error) {
	var out []domain.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalSubmission(sub *domain.Submission) ([]byte, error) {
	if sub == nil {
		return nil, nil
	}
	return json.Marshal(sub)
}

// Create inserts a new resolution.
func (s *ResolutionStore) Create(ctx context.Context, r domain.Resolution) error {
	sub, err := marshalSubmission(r.Submission)
	if err != nil {
		return fmt.Errorf("postgres: marshal submission %s: %w", r.ID, err)
	}
	var flight []byte
	if len(r.Flight) > 0 {
		flight = []byte(r.Flight)
	}

	const query = `
		INSERT INTO resolutions (
			id, flight_id, departure_code, airline_code, flight_number,
			scheduled_raw, flight_date, scheduled_at, outcome, candidates, flight,
			state, submission, evidence_path, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Query.FlightID, r.Query.DepartureCode, r.Query.AirlineCode, r.Query.FlightNumber,
		r.Query.ScheduledRaw, r.Query.Date, r.Query.Scheduled, int16(r.Outcome), r.Candidates, flight,
		string(r.State), sub, r.EvidencePath, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create resolution %s: %w", r.ID, err)
	}
	return nil
}

// UpdateSubmission records the outcome of a submission attempt.
func (s *ResolutionStore) UpdateSubmission(ctx context.Context, id string, state domain.SubmissionState, sub *domain.Submission) error {
	data, err := marshalSubmission(sub)
	if err != nil {
		return fmt.Errorf("postgres: marshal submission %s: %w", id, err)
	}

	const query = `
		UPDATE resolutions
		SET state = $2, submission = $3, updated_at = $4
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(state), data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: update submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update submission %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a resolution by ID.
// It returns domain.ErrNotFound when no row matches.
func (s *ResolutionStore) GetByID(ctx context.Context, id string) (domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + ` FROM resolutions WHERE id = $1`
	r, err := scanResolution(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution %s: %w", id, err)
	}
	return r, nil
}

// List returns resolutions newest first with pagination and optional time
// filtering.
func (s *ResolutionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + ` FROM resolutions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	out, err := scanResolutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolutions: %w", err)
	}
	return out, nil
}

// ListByFlight returns every resolution for one market, newest first.
func (s *ResolutionStore) ListByFlight(ctx context.Context, flightID string) ([]domain.Resolution, error) {
	query := `SELECT ` + resolutionSelectCols + ` FROM resolutions
		WHERE flight_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, flightID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions for %s: %w", flightID, err)
	}
	defer rows.Close()

	out, err := scanResolutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolutions for %s: %w", flightID, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ResolutionStore = (*ResolutionStore)(nil)
