package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts executed transfers by route and recorded status
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_transfers_total",
			Help: "Total number of executed transfers",
		},
		[]string{"from", "to", "status"},
	)

	// EngineCallDuration tracks bridging engine call latency
	EngineCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hopper_engine_call_duration_seconds",
			Help:    "Bridging engine call duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// UnmatchedSteps counts canonical steps no engine step matched
	UnmatchedSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_unmatched_steps_total",
			Help: "Canonical steps left unmatched by engine output",
		},
		[]string{"step"},
	)

	// ReceiptLookups counts receipt queries by chain and result
	ReceiptLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_receipt_lookups_total",
			Help: "Total receipt lookups by result",
		},
		[]string{"chain_id", "result"},
	)

	// EndpointFailures counts read endpoint failures
	EndpointFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_endpoint_failures_total",
			Help: "Read endpoint probe or call failures",
		},
		[]string{"chain_id", "kind"},
	)

	// RateLimitWaits counts lookups delayed by the per-chain limiter
	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_rate_limit_waits_total",
			Help: "Receipt lookups delayed by rate limiting",
		},
		[]string{"chain_id"},
	)

	// ActiveTransfers tracks non-terminal transfers under watch
	ActiveTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hopper_active_transfers",
			Help: "Number of non-terminal transfers being reconciled",
		},
	)

	// WatcherPasses counts reconciliation passes by trigger
	WatcherPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_watcher_passes_total",
			Help: "Reconciliation passes by trigger",
		},
		[]string{"trigger"},
	)

	// StepTransitions counts step state changes applied by reconciliation
	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_step_transitions_total",
			Help: "Step state changes applied by reconciliation",
		},
		[]string{"step", "state"},
	)

	// QuoteFallbacks counts quotes served from the local heuristic
	QuoteFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hopper_quote_fallbacks_total",
			Help: "Quotes computed locally after the pricing service failed",
		},
	)

	// APIRequestsTotal counts HTTP API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopper_api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"route", "method", "code"},
	)
)
