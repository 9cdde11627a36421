package domain

import (
	"encoding/json"
	"time"
)

// SubmissionState tracks whether a resolution was pushed on-chain. It is kept
// separate from Outcome so that "not found" and "needs submission" never
// collapse into a single value.
type SubmissionState string

const (
	SubmissionNotRequested SubmissionState = "not_requested"
	SubmissionSkipped      SubmissionState = "skipped_not_found"
	SubmissionSubmitted    SubmissionState = "submitted"
	SubmissionFailed       SubmissionState = "failed"
)

// Submission describes a single resolveMarket transaction attempt.
type Submission struct {
	Chain       string `json:"chain"`
	Contract    string `json:"contract,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Resolution is the result of matching a FlightQuery against provider data.
type Resolution struct {
	ID           string
	Query        FlightQuery
	Flight       json.RawMessage // matched provider record, nil on NOT_FOUND
	Outcome      Outcome
	Candidates   int // records within the tolerance window
	State        SubmissionState
	Submission   *Submission // latest attempt
	EvidencePath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Matched reports whether a provider record was found for the query.
func (r Resolution) Matched() bool {
	return r.Outcome != OutcomeNotFound
}

// SubmittedOn reports whether the latest submission succeeded on chain. An
// empty chain matches any network.
func (r Resolution) SubmittedOn(chain string) bool {
	if r.State != SubmissionSubmitted || r.Submission == nil {
		return false
	}
	return chain == "" || r.Submission.Chain == chain
}

// ResolutionEvent is the payload published on the signal bus after each
// resolution so that connected web clients can refetch market state.
type ResolutionEvent struct {
	Type         string          `json:"type"`
	ResolutionID string          `json:"resolutionId"`
	FlightID     string          `json:"flightId"`
	Outcome      Outcome         `json:"outcome"`
	OutcomeName  string          `json:"outcomeName"`
	State        SubmissionState `json:"state"`
	Chain        string          `json:"chain,omitempty"`
	TxHash       string          `json:"txHash,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Signal bus names for resolution events.
const (
	ChannelResolutions = "ch:resolution"
	StreamResolutions  = "stream:resolutions"
)
