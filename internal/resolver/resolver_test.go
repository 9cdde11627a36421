package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

func rec(scheduled string, delay int, status string) domain.FlightRecord {
	return domain.FlightRecord{
		ScheduledTime: scheduled,
		DelayMinutes:  delay,
		Status:        status,
		Raw:           []byte(`{"scheduledTime":"` + scheduled + `"}`),
	}
}

func TestMatchFlight(t *testing.T) {
	at := time.Date(2025, 11, 3, 7, 5, 0, 0, time.UTC)

	t.Run("exact match", func(t *testing.T) {
		got, n, ok := MatchFlight([]domain.FlightRecord{
			rec("2025-11-03t19:05:00.000", 0, "landed"),
			rec("2025-11-03t07:05:00.000", 12, "landed"),
		}, at)
		if !ok || n != 1 || got.DelayMinutes != 12 {
			t.Fatalf("expected the 07:05 record, got ok=%v n=%d %+v", ok, n, got)
		}
	})

	t.Run("tolerance is exclusive", func(t *testing.T) {
		inside := at.Add(MatchTolerance - time.Millisecond).Format("2006-01-02t15:04:05.000")
		edge := at.Add(-MatchTolerance).Format("2006-01-02t15:04:05.000")

		if _, _, ok := MatchFlight([]domain.FlightRecord{rec(inside, 0, "")}, at); !ok {
			t.Error("expected 299999ms difference to match")
		}
		if _, _, ok := MatchFlight([]domain.FlightRecord{rec(edge, 0, "")}, at); ok {
			t.Error("expected 300000ms difference not to match")
		}
	})

	t.Run("first candidate wins", func(t *testing.T) {
		got, n, ok := MatchFlight([]domain.FlightRecord{
			rec("2025-11-03t07:03:00.000", 5, "landed"),
			rec("2025-11-03t07:05:00.000", 90, "landed"),
		}, at)
		if !ok || n != 2 {
			t.Fatalf("expected 2 candidates, got ok=%v n=%d", ok, n)
		}
		if got.DelayMinutes != 5 {
			t.Fatalf("expected first record in provider order, got delay %d", got.DelayMinutes)
		}
	})

	t.Run("unparseable and empty", func(t *testing.T) {
		if _, _, ok := MatchFlight([]domain.FlightRecord{rec("", 0, ""), rec("soon", 0, "")}, at); ok {
			t.Error("expected no match")
		}
		if _, n, ok := MatchFlight(nil, at); ok || n != 0 {
			t.Error("expected no match for empty history")
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		delay  int
		status string
		want   domain.Outcome
	}{
		{0, "landed", domain.OutcomeOnTime},
		{29, "landed", domain.OutcomeOnTime},
		{30, "landed", domain.OutcomeDelayShort},
		{119, "active", domain.OutcomeDelayShort},
		{120, "landed", domain.OutcomeDelayLong},
		{500, "cancelled", domain.OutcomeCancelled},
		{0, "cancelled", domain.OutcomeCancelled},
		{-5, "landed", domain.OutcomeOnTime},
	}
	for _, tt := range tests {
		if got := Classify(rec("", tt.delay, tt.status)); got != tt.want {
			t.Errorf("Classify(delay=%d, status=%s): expected %s, got %s", tt.delay, tt.status, tt.want, got)
		}
	}
}

func TestParseScheduled(t *testing.T) {
	want := time.Date(2025, 11, 3, 7, 5, 0, 0, time.UTC)
	for _, s := range []string{"2025-11-03T07:05", "2025-11-03 07:05", " 2025-11-03T07:05:00 "} {
		got, err := ParseScheduled(s)
		if err != nil {
			t.Fatalf("ParseScheduled(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseScheduled(%q): expected %s, got %s", s, want, got)
		}
	}
	if _, err := ParseScheduled("03/11/2025 07:05"); !errors.Is(err, domain.ErrInvalidTime) {
		t.Errorf("expected ErrInvalidTime, got %v", err)
	}
}

func TestNewQuery(t *testing.T) {
	full := map[string]string{
		ParamFlightID:      "0xabc",
		ParamDepartureCode: "FRA",
		ParamDate:          "2025-11-03 07:05",
		ParamAirlineCode:   "AF",
		ParamFlightNumber:  "1019",
	}
	get := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}

	t.Run("valid", func(t *testing.T) {
		q, err := NewQuery(get(full))
		if err != nil {
			t.Fatal(err)
		}
		if q.Date != "2025-11-03" || q.ScheduledRaw != "2025-11-03 07:05" {
			t.Fatalf("unexpected date fields %q %q", q.Date, q.ScheduledRaw)
		}
		if q.Scheduled.Hour() != 7 || q.Scheduled.Minute() != 5 {
			t.Fatalf("unexpected scheduled time %s", q.Scheduled)
		}
	})

	t.Run("missing", func(t *testing.T) {
		partial := map[string]string{ParamFlightID: "0xabc", ParamDate: " "}
		_, err := NewQuery(get(partial))
		var missing *MissingParamsError
		if !errors.As(err, &missing) {
			t.Fatalf("expected MissingParamsError, got %v", err)
		}
		if len(missing.Missing) != 4 {
			t.Fatalf("expected 4 missing, got %v", missing.Missing)
		}
		if !errors.Is(err, domain.ErrMissingParams) {
			t.Fatal("expected ErrMissingParams")
		}
	})

	t.Run("cache key ignores date spelling", func(t *testing.T) {
		a, _ := NewQuery(get(full))
		alt := map[string]string{}
		for k, v := range full {
			alt[k] = v
		}
		alt[ParamDate] = "2025-11-03T07:05"
		b, _ := NewQuery(get(alt))
		if CacheKey(a) != CacheKey(b) {
			t.Fatalf("expected equal cache keys, got %q and %q", CacheKey(a), CacheKey(b))
		}
	})

	t.Run("cache key keeps seconds", func(t *testing.T) {
		a, _ := NewQuery(get(full))
		alt := map[string]string{}
		for k, v := range full {
			alt[k] = v
		}
		alt[ParamDate] = "2025-11-03T07:05:30"
		b, err := NewQuery(get(alt))
		if err != nil {
			t.Fatal(err)
		}
		if CacheKey(a) == CacheKey(b) {
			t.Fatalf("expected distinct cache keys, both %q", CacheKey(a))
		}
	})

	t.Run("submission key is per chain", func(t *testing.T) {
		q, _ := NewQuery(get(full))
		if SubmissionCacheKey(q, "celo") == SubmissionCacheKey(q, "sepolia") {
			t.Fatal("expected distinct submission keys per chain")
		}
	})

	t.Run("values are trimmed", func(t *testing.T) {
		padded := map[string]string{}
		for k, v := range full {
			padded[k] = " " + v + "\t"
		}
		q, err := NewQuery(get(padded))
		if err != nil {
			t.Fatal(err)
		}
		if q.DepartureCode != "FRA" || q.AirlineCode != "AF" || q.FlightNumber != "1019" || q.FlightID != "0xabc" {
			t.Fatalf("expected trimmed values, got %+v", q)
		}
		if q.ScheduledRaw != "2025-11-03 07:05" || q.Date != "2025-11-03" {
			t.Fatalf("unexpected date fields %q %q", q.Date, q.ScheduledRaw)
		}
	})
}

func TestDateOf(t *testing.T) {
	for in, want := range map[string]string{
		"2025-11-03T07:05": "2025-11-03",
		"2025-11-03 07:05": "2025-11-03",
		"2025-11-03":       "2025-11-03",
	} {
		if got := DateOf(in); got != want {
			t.Errorf("DateOf(%q): expected %s, got %s", in, want, got)
		}
	}
}
