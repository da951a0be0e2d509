package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_submitted_total", Help: "Rides submitted by riders"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_completed_total", Help: "Rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_cancelled_total", Help: "Rides cancelled by riders"})

	OffersCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_created_total", Help: "Offers created by the matcher"})
	OffersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_resolved_total", Help: "Offers leaving the offered state, by outcome"},
		[]string{"outcome"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	OTPMismatches   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "otp_mismatches_total", Help: "OTP verifications with a wrong code"})

	StarvedRides      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "starved_rides_total", Help: "Pending rides inspected with no eligible driver"})
	StalePendingRides = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "stale_pending_rides", Help: "Rides pending longer than the stale threshold"})
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	MatcherTick       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "matcher_tick_seconds", Help: "Matcher tick duration"})
	RecoveredRides    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "recovered_rides_total", Help: "Rides reset to pending by startup recovery"})
	StoreErrors       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "store_errors_total", Help: "Failed write-through persistence calls"})

	NotifyDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notify_deliveries_total", Help: "Notification delivery attempts by transport and result"},
		[]string{"transport", "result"},
	)
	TelemetryMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "telemetry_messages_total", Help: "Driver telemetry messages consumed, by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
