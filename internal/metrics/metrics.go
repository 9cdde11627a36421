// Package metrics exposes Prometheus collectors for the resolver service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolution metrics
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyshield_resolutions_total",
			Help: "Total number of flight resolutions by outcome",
		},
		[]string{"outcome"}, // NOT_FOUND, ON_TIME, DELAY_SHORT, DELAY_LONG, CANCELLED
	)

	AmbiguousMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyshield_ambiguous_matches_total",
			Help: "Resolutions where more than one provider record fell inside the tolerance window",
		},
	)

	ResolutionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skyshield_resolution_cache_hits_total",
			Help: "Resolutions served from the result cache",
		},
	)

	// Provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyshield_provider_requests_total",
			Help: "Total number of flight-status provider requests",
		},
		[]string{"provider", "status"}, // success/error/timeout
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyshield_provider_request_duration_seconds",
			Help:    "Duration of flight-status provider requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// Chain metrics
	ChainSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyshield_chain_submissions_total",
			Help: "Total number of resolveMarket submissions",
		},
		[]string{"chain", "status"}, // success/error
	)

	ChainSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyshield_chain_submission_duration_seconds",
			Help:    "Time from signing to receipt for resolveMarket transactions",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"chain"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyshield_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "code"},
	)
)

// RecordResolution counts a finished resolution.
func RecordResolution(outcome string, candidates int) {
	Resolutions.WithLabelValues(outcome).Inc()
	if candidates > 1 {
		AmbiguousMatches.Inc()
	}
}

// RecordProviderRequest records provider request metrics
func RecordProviderRequest(provider string, duration time.Duration, status string) {
	ProviderRequests.WithLabelValues(provider, status).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSubmission records a chain submission attempt.
func RecordSubmission(chain string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ChainSubmissions.WithLabelValues(chain, status).Inc()
	ChainSubmissionDuration.WithLabelValues(chain).Observe(duration.Seconds())
}
