package domain

import (
	"fmt"
	"strings"
)

// Outcome is the classification of a flight's actual departure against its
// schedule. The numeric values are the outcome codes understood by the
// FlightMarket contract.
type Outcome uint8

const (
	OutcomeNotFound   Outcome = 0 // no matching flight record (also "pending" on-chain)
	OutcomeOnTime     Outcome = 1 // delay < 30 minutes
	OutcomeDelayShort Outcome = 2 // 30 <= delay < 120 minutes
	OutcomeDelayLong  Outcome = 3 // delay >= 120 minutes
	OutcomeCancelled  Outcome = 4
)

// Delay thresholds in minutes.
const (
	DelayShortMinutes = 30
	DelayLongMinutes  = 120
)

var outcomeNames = map[Outcome]string{
	OutcomeNotFound:   "NOT_FOUND",
	OutcomeOnTime:     "ON_TIME",
	OutcomeDelayShort: "DELAY_SHORT",
	OutcomeDelayLong:  "DELAY_LONG",
	OutcomeCancelled:  "CANCELLED",
}

// String returns the canonical upper-case outcome name.
func (o Outcome) String() string {
	if n, ok := outcomeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("OUTCOME(%d)", uint8(o))
}

// Valid reports whether o is one of the known outcome codes.
func (o Outcome) Valid() bool {
	_, ok := outcomeNames[o]
	return ok
}

// Resolved reports whether o is a terminal, submittable outcome.
func (o Outcome) Resolved() bool {
	return o != OutcomeNotFound && o.Valid()
}

// ParseOutcome accepts either the outcome name or its numeric code.
func ParseOutcome(s string) (Outcome, error) {
	s = strings.TrimSpace(s)
	for o, n := range outcomeNames {
		if strings.EqualFold(n, s) || fmt.Sprint(uint8(o)) == s {
			return o, nil
		}
	}
	return OutcomeNotFound, fmt.Errorf("domain: unknown outcome %q", s)
}
