package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "alerts_raised_total", Help: "Emergency alerts raised"},
		[]string{"priority"},
	)
	DispatchesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "dispatches_created_total", Help: "Ambulance dispatches created"})
	DispatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "dispatches_completed_total", Help: "Ambulance dispatches completed"})
	DispatchConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "dispatch_conflicts_total", Help: "Dispatch attempts lost to the availability race"})
	LocationPings       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "location_pings_total", Help: "Ambulance location pings processed"})

	WSSessions           = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "eldercare_dispatch", Name: "ws_sessions", Help: "Connected notification sessions"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "notifications_dropped_total", Help: "Notification sends dropped on write failure"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "eldercare_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eldercare_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
