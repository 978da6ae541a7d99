package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "ride_requests_created_total", Help: "Ride requests created"})
	RequestsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "ride_requests_accepted_total", Help: "Ride requests accepted by a driver"})
	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "ride_requests_completed_total", Help: "Ride requests completed"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "ride_requests_cancelled_total", Help: "Ride requests cancelled"})

	// AcceptConflicts counts race losses; these are routine under load.
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "accept_conflicts_total", Help: "Accept attempts that lost the claim race"})

	DriversAvailable  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "curblink", Name: "drivers_available", Help: "Drivers currently available"})
	LocationUpdates   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "location_updates_total", Help: "Driver location updates applied"})
	LocationFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "curblink", Name: "location_failures_total", Help: "Failed geolocation fetches"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "curblink", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curblink",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
