package domain

import "testing"

func TestOutcome(t *testing.T) {
	tests := []struct {
		o        Outcome
		name     string
		resolved bool
	}{
		{OutcomeNotFound, "NOT_FOUND", false},
		{OutcomeOnTime, "ON_TIME", true},
		{OutcomeDelayShort, "DELAY_SHORT", true},
		{OutcomeDelayLong, "DELAY_LONG", true},
		{OutcomeCancelled, "CANCELLED", true},
		{Outcome(9), "OUTCOME(9)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.o.String(); got != tt.name {
				t.Errorf("expected %s, got %s", tt.name, got)
			}
			if got := tt.o.Resolved(); got != tt.resolved {
				t.Errorf("expected resolved=%v, got %v", tt.resolved, got)
			}
		})
	}
}

func TestParseOutcome(t *testing.T) {
	for _, s := range []string{"DELAY_LONG", "delay_long", " 3 "} {
		o, err := ParseOutcome(s)
		if err != nil || o != OutcomeDelayLong {
			t.Errorf("ParseOutcome(%q): expected DELAY_LONG, got %v %v", s, o, err)
		}
	}
	if _, err := ParseOutcome("LATE"); err == nil {
		t.Error("expected error for unknown outcome")
	}
}
