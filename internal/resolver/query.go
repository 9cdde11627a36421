package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

// Query parameter names accepted by the resolve endpoint.
const (
	ParamFlightID      = "flightId"
	ParamDepartureCode = "departureCode"
	ParamDate          = "date"
	ParamAirlineCode   = "airlineCode"
	ParamFlightNumber  = "flightNumber"
)

// RequiredParams lists every parameter a resolution needs, in the order they
// are reported back to clients.
var RequiredParams = []string{
	ParamFlightID,
	ParamDepartureCode,
	ParamDate,
	ParamAirlineCode,
	ParamFlightNumber,
}

// MissingParamsError names the absent parameters. It matches
// domain.ErrMissingParams under errors.Is.
type MissingParamsError struct {
	Missing []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Missing, ", "))
}

func (e *MissingParamsError) Unwrap() error { return domain.ErrMissingParams }

// NewQuery validates raw parameters and builds a FlightQuery. get returns the
// value of a named parameter, typically url.Values.Get.
func NewQuery(get func(string) string) (domain.FlightQuery, error) {
	var missing []string
	vals := make(map[string]string, len(RequiredParams))
	for _, p := range RequiredParams {
		v := strings.TrimSpace(get(p))
		if v == "" {
			missing = append(missing, p)
		}
		vals[p] = v
	}
	if len(missing) > 0 {
		return domain.FlightQuery{}, &MissingParamsError{Missing: missing}
	}

	raw := vals[ParamDate]
	at, err := ParseScheduled(raw)
	if err != nil {
		return domain.FlightQuery{}, err
	}

	return domain.FlightQuery{
		FlightID:      vals[ParamFlightID],
		DepartureCode: vals[ParamDepartureCode],
		AirlineCode:   vals[ParamAirlineCode],
		FlightNumber:  vals[ParamFlightNumber],
		ScheduledRaw:  raw,
		Date:          DateOf(raw),
		Scheduled:     at,
	}, nil
}

// CacheKey identifies a query for result caching.
func CacheKey(q domain.FlightQuery) string {
	return strings.Join([]string{
		q.FlightID, q.DepartureCode, q.AirlineCode, q.FlightNumber,
		q.Scheduled.Format(time.RFC3339Nano),
	}, "|")
}

// SubmissionCacheKey identifies a query's submitted resolution on one chain.
func SubmissionCacheKey(q domain.FlightQuery, chain string) string {
	return CacheKey(q) + "|" + chain
}
