package aviationedge

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jetlagged/skyshield/internal/domain"
)

// flexInt unmarshals from a JSON number, a numeric string, or null. The
// history API is inconsistent about how it encodes delay minutes.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// --------------------------------------------------------------------------
// flightsHistory DTOs
// --------------------------------------------------------------------------

// APIFlightPoint is the departure or arrival half of a history entry.
type APIFlightPoint struct {
	IATACode      string  `json:"iataCode"`
	ICAOCode      string  `json:"icaoCode"`
	Terminal      string  `json:"terminal"`
	Gate          string  `json:"gate"`
	Delay         flexInt `json:"delay"`
	ScheduledTime string  `json:"scheduledTime"`
	EstimatedTime string  `json:"estimatedTime"`
	ActualTime    string  `json:"actualTime"`
}

// APIFlightHistory is one entry of the flightsHistory response.
type APIFlightHistory struct {
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Departure APIFlightPoint `json:"departure"`
	Arrival   APIFlightPoint `json:"arrival"`
	Airline   struct {
		Name     string `json:"name"`
		IATACode string `json:"iataCode"`
		ICAOCode string `json:"icaoCode"`
	} `json:"airline"`
	Flight struct {
		Number     string `json:"number"`
		IATANumber string `json:"iataNumber"`
		ICAONumber string `json:"icaoNumber"`
	} `json:"flight"`
}

// ToDomainRecord converts the entry, keeping raw as the verbatim JSON object.
func (h APIFlightHistory) ToDomainRecord(raw json.RawMessage) domain.FlightRecord {
	return domain.FlightRecord{
		ScheduledTime: h.Departure.ScheduledTime,
		DelayMinutes:  int(h.Departure.Delay),
		Status:        strings.ToLower(strings.TrimSpace(h.Status)),
		Raw:           raw,
	}
}

// decodeHistory decodes a flightsHistory body. Anything other than a JSON
// array (the API answers {"error": ...} when it has no data) yields no
// records rather than an error.
func decodeHistory(body []byte) ([]domain.FlightRecord, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed[0] != '[' {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}

	records := make([]domain.FlightRecord, 0, len(items))
	for _, item := range items {
		var h APIFlightHistory
		if err := json.Unmarshal(item, &h); err != nil {
			// An entry we cannot read is simply not a candidate.
			continue
		}
		records = append(records, h.ToDomainRecord(item))
	}
	return records, nil
}
