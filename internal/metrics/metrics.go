package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Firewall counters. Labels stay low-cardinality: verdict codes and rule
// categories only, never raw IPs or URLs.
var (
	RequestsInspected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_waf_requests_inspected_total",
		Help: "Requests that passed through the firewall pipeline.",
	})

	RequestsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_waf_requests_blocked_total",
		Help: "Requests denied by the firewall, by verdict code.",
	}, []string{"code"})

	PatternMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_waf_pattern_matches_total",
		Help: "Payload signature matches, by rule category.",
	}, []string{"category"})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_waf_rate_limit_hits_total",
		Help: "Requests rejected by the sliding-window rate limiter.",
	})

	FailedLogins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_waf_failed_logins_total",
		Help: "Failed login attempts recorded by the tracker.",
	})

	FilesQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_waf_files_quarantined_total",
		Help: "Uploads quarantined, by failing scan stage.",
	}, []string{"stage"})

	InspectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_waf_inspection_errors_total",
		Help: "Internal errors during inspection (fail-open or fail-closed).",
	})

	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_waf_alerts_dispatched_total",
		Help: "Alerts handed to the dispatcher, by alert type.",
	}, []string{"type"})
)
