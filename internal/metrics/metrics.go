package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/pwchain/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	WorkchainPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "workchain_pickup_latency_seconds",
		Help:      "Time from workchain creation to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	WorkchainDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "workchain_duration_seconds",
		Help:      "Wall time of a whole workchain run.",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
	}, []string{"outcome"})

	WorkchainsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwchain",
		Name:      "worker_workchains_in_flight",
		Help:      "Number of workchains currently driven by the worker.",
	})

	WorkchainsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "workchains_completed_total",
		Help:      "Total workchains terminated, by outcome.",
	}, []string{"outcome"})

	// Restart controller metrics

	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "attempts_total",
		Help:      "Total pw.x attempts, by terminal state.",
	}, []string{"state"})

	AttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of a single pw.x attempt.",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600},
	})

	FailuresClassifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "failures_classified_total",
		Help:      "Failed attempts by classifier action.",
	}, []string{"action"})

	InspectionDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "inspection_decisions_total",
		Help:      "Attempt inspections by decision.",
	}, []string{"decision"})

	CleanupFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "cleanup_failures_total",
		Help:      "Remote folders that could not be released.",
	})

	// Decoder metrics

	DecodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "xml_decode_duration_seconds",
		Help:      "Time to decode a pw.x XML document.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"result"})

	// Reaper metrics

	ReaperAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "reaper_aborted_total",
		Help:      "Total stale workchains aborted by the reaper.",
	})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Janitor metrics

	JanitorPurgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "janitor_purged_total",
		Help:      "Work directories of terminated workchains handled by the janitor.",
	}, []string{"result"})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwchain",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pwchain",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pwchain",
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served. XML uploads to /parse can hold a slot for seconds.",
	})

	HTTPRequestBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pwchain",
		Name:      "http_request_body_bytes",
		Help:      "Declared size of HTTP request bodies.",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
	}, []string{"path"})
)

func Register() {
	prometheus.MustRegister(
		WorkchainPickupLatency,
		WorkchainDuration,
		WorkchainsInFlight,
		WorkchainsCompletedTotal,
		AttemptsTotal,
		AttemptDuration,
		FailuresClassifiedTotal,
		InspectionDecisionsTotal,
		CleanupFailuresTotal,
		DecodeDuration,
		ReaperAbortedTotal,
		ReaperCycleDuration,
		JanitorPurgedTotal,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
		HTTPRequestBytes,
	)
}

// NewServer serves /metrics plus the liveness and readiness probes of checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
