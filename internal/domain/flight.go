package domain

import (
	"encoding/json"
	"time"
)

// FlightQuery identifies the scheduled departure a market was created for.
// It lives for a single resolution request.
type FlightQuery struct {
	FlightID      string // market identifier (bytes32 hex on-chain)
	DepartureCode string // IATA station code, e.g. "FRA"
	AirlineCode   string // IATA airline code, e.g. "AF"
	FlightNumber  string // numeric part, e.g. "1019"
	ScheduledRaw  string // as supplied: YYYY-MM-DDTHH:MM or YYYY-MM-DD HH:MM
	Date          string // YYYY-MM-DD derived from ScheduledRaw
	Scheduled     time.Time
}

// FlightRecord is one historical departure returned by the flight-status
// provider. Raw holds the provider's JSON object verbatim so it can be
// echoed back to callers unchanged.
type FlightRecord struct {
	ScheduledTime string
	DelayMinutes  int
	Status        string
	Raw           json.RawMessage
}

// Cancelled reports whether the provider flagged the departure as cancelled.
func (r FlightRecord) Cancelled() bool {
	return r.Status == FlightStatusCancelled
}

// FlightStatusCancelled is the provider status value for a cancelled flight.
const FlightStatusCancelled = "cancelled"

// FlightHistory is a provider response: the decoded records plus the raw body
// kept as settlement evidence.
type FlightHistory struct {
	Records []FlightRecord
	Raw     []byte
}
