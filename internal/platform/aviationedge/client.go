// Package aviationedge is the REST client for the Aviation Edge
// flightsHistory API, the flight-status provider used to settle markets.
package aviationedge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/metrics"
)

// ProviderName labels errors and metrics from this client.
const ProviderName = "aviation-edge"

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://aviation-edge.com/v2/public"

// maxBodyBytes caps how much of a response is read into memory.
const maxBodyBytes = 8 << 20

// Client queries historical departures.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Aviation Edge client.
//
// baseURL is the API root, e.g. "https://aviation-edge.com/v2/public".
// timeout bounds each request; zero falls back to 30 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "aviationedge")),
	}
}

// DepartureHistory returns every historical departure from q.DepartureCode
// for the airline and flight number on q.Date, in provider order.
func (c *Client) DepartureHistory(ctx context.Context, q domain.FlightQuery) (domain.FlightHistory, error) {
	params := url.Values{}
	params.Set("code", q.DepartureCode)
	params.Set("type", "departure")
	params.Set("date_from", q.Date)
	params.Set("airline_iata", q.AirlineCode)
	params.Set("flight_num", q.FlightNumber)

	c.logger.InfoContext(ctx, "fetching flight history",
		slog.String("path", "/flightsHistory?"+params.Encode()),
	)

	params.Set("key", c.apiKey)

	start := time.Now()
	body, err := c.doGet(ctx, "/flightsHistory?"+params.Encode())
	metrics.RecordProviderRequest(ProviderName, time.Since(start), requestStatus(err))
	if err != nil {
		return domain.FlightHistory{}, fmt.Errorf("aviationedge: flights history: %w", err)
	}

	records, err := decodeHistory(body)
	if err != nil {
		return domain.FlightHistory{}, fmt.Errorf("aviationedge: decode flights history: %w", err)
	}

	return domain.FlightHistory{Records: records, Raw: body}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a GET request and returns the body of a 2xx response.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, redactKey(err))
		}
		return nil, fmt.Errorf("http request: %v", redactKey(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: read response: %v", domain.ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{
			Provider:   ProviderName,
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
		}
	}

	return body, nil
}

// statusText returns the reason phrase of the response, e.g. "Not Found".
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redactKey strips the API key from url.Error messages, which embed the full
// request URL.
func redactKey(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return errors.New(urlErr.Op + ": " + urlErr.Err.Error())
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "***")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "timeout"
	default:
		return "error"
	}
}
