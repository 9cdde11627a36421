// Package resolver matches a scheduled flight against the provider's
// departure history and classifies the result into a market outcome.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

// MatchTolerance is the window within which a provider's scheduled departure
// time must fall (exclusive) to count as the queried flight.
const MatchTolerance = 5 * time.Minute

// scheduledLayouts are tried in order. Times carry no zone and are read as UTC,
// the same convention the web client uses when it creates markets.
var scheduledLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// DateOf returns the calendar-date part of a scheduled timestamp, dropping
// anything after a 'T' or a space.
func DateOf(raw string) string {
	d, _, _ := strings.Cut(strings.TrimSpace(raw), "T")
	d, _, _ = strings.Cut(d, " ")
	return d
}

// ParseScheduled parses a client supplied timestamp. Both the
// "YYYY-MM-DDTHH:MM" and "YYYY-MM-DD HH:MM" forms are accepted.
func ParseScheduled(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.Replace(s, " ", "T", 1)
	if t, ok := parseTimestamp(s); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("resolver: %w: %q", domain.ErrInvalidTime, raw)
}

// parseProviderTime parses a provider scheduled time such as
// "2025-11-03t07:05:00.000". The provider emits a lower-case separator.
func parseProviderTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	return parseTimestamp(strings.Replace(raw, "t", "T", 1))
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range scheduledLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MatchFlight returns the first record, in provider order, whose scheduled
// time lies strictly within MatchTolerance of at. candidates counts every
// record inside the window so that ambiguous matches can be surfaced.
func MatchFlight(records []domain.FlightRecord, at time.Time) (match domain.FlightRecord, candidates int, ok bool) {
	for _, rec := range records {
		t, parsed := parseProviderTime(rec.ScheduledTime)
		if !parsed {
			continue
		}
		diff := t.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff >= MatchTolerance {
			continue
		}
		candidates++
		if !ok {
			match, ok = rec, true
		}
	}
	return match, candidates, ok
}

// Classify maps a matched record to an outcome. Cancellation wins over any
// delay value, then the thresholds are checked from largest to smallest.
func Classify(rec domain.FlightRecord) domain.Outcome {
	switch {
	case rec.Cancelled():
		return domain.OutcomeCancelled
	case rec.DelayMinutes >= domain.DelayLongMinutes:
		return domain.OutcomeDelayLong
	case rec.DelayMinutes >= domain.DelayShortMinutes:
		return domain.OutcomeDelayShort
	default:
		return domain.OutcomeOnTime
	}
}
