package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turtacn/Lingua/pkg/logger"
)

var (
	// ExecutionsTotal counts finished worker runs, partitioned by result ("done", "failed").
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingua_executions_total",
		Help: "Total number of script executions",
	}, []string{"result"})
	// ExecutionDuration tracks how long a single script run takes in seconds.
	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lingua_execution_duration_seconds",
		Help:    "Duration of a single script execution",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	// WorkerReuseTotal counts runs served by an already alive worker.
	WorkerReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingua_worker_reuse_total",
		Help: "Total number of executions served without spawning a worker",
	})
	// CleanupRunsTotal counts cleanup-mode runs, partitioned by mode ("scheduled", "exit").
	CleanupRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lingua_cleanup_runs_total",
		Help: "Total number of cleanup-mode executions",
	}, []string{"mode"})
	// StopTimeoutsTotal counts workers abandoned because they did not exit in time.
	StopTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingua_stop_timeouts_total",
		Help: "Total number of workers abandoned at shutdown",
	})
	// ActiveWorkers is the number of alive worker goroutines.
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lingua_active_workers",
		Help: "Number of alive worker goroutines",
	})
	// PulsesTotal counts heartbeat pulses emitted by scripts.
	PulsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lingua_pulses_total",
		Help: "Total number of global event pulses",
	})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ExecutionsTotal,
			ExecutionDuration,
			WorkerReuseTotal,
			CleanupRunsTotal,
			StopTimeoutsTotal,
			ActiveWorkers,
			PulsesTotal,
		)
	})
}

// InitMetrics registers Prometheus metrics and starts an HTTP server to expose them.
// It takes an address string (e.g., ":9090") on which to listen for requests.
func InitMetrics(addr string) {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Personal.AI order the ending
