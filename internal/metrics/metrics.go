package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished solver runs by final status
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "towerplan_runs_total", Help: "Solver runs by final status."},
		[]string{"status"},
	)
	// Restarts counts restart outcomes (ok, failed, cancelled)
	Restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "towerplan_restarts_total", Help: "Restarts by outcome."},
		[]string{"outcome"},
	)
	// SeedDuration tracks how long the seeding backend took per restart
	SeedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "towerplan_seed_duration_seconds", Help: "Seeder wall time in seconds.", Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 15, 30, 60}},
		[]string{"backend"},
	)
	// SearchMoves counts applied local search moves by kind
	SearchMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "towerplan_search_moves_total", Help: "Local search moves applied."},
		[]string{"kind"},
	)
	BestPenalty = prometheus.NewGauge(prometheus.GaugeOpts{Name: "towerplan_best_penalty", Help: "Penalty of the last finished run's best solution."})
	BestTowers  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "towerplan_best_towers", Help: "Tower count of the last finished run's best solution."})
	ActiveRuns  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "towerplan_active_runs", Help: "Solver runs in progress."})

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Runs, Restarts, SeedDuration, SearchMoves, BestPenalty, BestTowers, ActiveRuns)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveRestart records one finished restart.
func ObserveRestart(outcome, backend string, seedSeconds float64, removals, relocations int) {
	Restarts.WithLabelValues(outcome).Inc()
	if backend != "" {
		SeedDuration.WithLabelValues(backend).Observe(seedSeconds)
	}
	SearchMoves.WithLabelValues("removal").Add(float64(removals))
	SearchMoves.WithLabelValues("relocation").Add(float64(relocations))
}

// ObserveRun records a finished run and, when it produced one, its best score.
func ObserveRun(status string, hasBest bool, towers int, penalty float64) {
	Runs.WithLabelValues(status).Inc()
	if hasBest {
		BestTowers.Set(float64(towers))
		BestPenalty.Set(penalty)
	}
}
