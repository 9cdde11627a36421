package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrMissingParams       = errors.New("missing required parameters")
	ErrInvalidTime         = errors.New("invalid scheduled time")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrChainNotConfigured  = errors.New("chain integration not configured")
	ErrUnknownChain        = errors.New("unknown chain")
	ErrNotSubmittable      = errors.New("outcome is not submittable")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSigningFailed       = errors.New("signing failed")
)

// UpstreamError is returned when the flight-status provider answers with a
// non-success status. The status is propagated to the resolver's caller.
type UpstreamError struct {
	Provider   string
	Status     int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d %s", e.Provider, e.Status, e.StatusText)
}

// SubmissionError wraps a failed on-chain submission. It never replaces the
// resolution it belongs to; callers receive both.
type SubmissionError struct {
	Chain string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit on %s: %v", e.Chain, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
