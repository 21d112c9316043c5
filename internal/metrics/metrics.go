// Package metrics exposes Prometheus metrics for runs, fetch retries and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fortuna/rapm/internal/backfill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rapm"

// Recorder implements backfill.Reporter and ingest.RetryObserver.
type Recorder struct {
	registry *prometheus.Registry

	games        *prometheus.CounterVec
	rows         prometheus.Counter
	anomalies    *prometheus.CounterVec
	retries      prometheus.Counter
	backoff      prometheus.Histogram
	runs         *prometheus.CounterVec
	runProgress  prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers all metrics on a fresh registry.
func NewRecorder() *Recorder {
	return NewRecorderWithRegistry(prometheus.NewRegistry())
}

// NewRecorderWithRegistry registers all metrics on reg.
func NewRecorderWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		games: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_total",
			Help:      "Games handled by runs, by outcome.",
		}, []string{"status"}),
		rows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Possession rows emitted.",
		}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Possession anomalies, by kind.",
		}, []string{"kind"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Provider timeouts that were retried.",
		}),
		backoff: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "backoff_seconds",
			Help:      "Backoff waits before retrying the provider.",
			Buckets:   prometheus.ExponentialBuckets(1, 3, 10),
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs, by result.",
		}, []string{"result"}),
		runProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_progress_ratio",
			Help:      "Fraction of the current run's games handled.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRetry records one backoff wait.
func (r *Recorder) ObserveRetry(_ string, _ int, wait time.Duration) {
	r.retries.Inc()
	r.backoff.Observe(wait.Seconds())
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (r *Recorder) OnJobStart(backfill.JobSpec) {
	r.runProgress.Set(0)
}

func (r *Recorder) OnGameStart(string, int, int) {}

func (r *Recorder) OnGameProcessed(result backfill.GameResult) {
	r.games.WithLabelValues(string(result.Status)).Inc()
	r.rows.Add(float64(result.Rows()))
	for _, a := range result.Anomalies {
		r.anomalies.WithLabelValues(string(a.Kind)).Inc()
	}
}

func (r *Recorder) OnProgress(_ string, current int, total int) {
	if total > 0 {
		r.runProgress.Set(float64(current) / float64(total))
	}
}

func (r *Recorder) OnJobComplete(*backfill.SeasonResult) {
	r.runs.WithLabelValues("completed").Inc()
	r.runProgress.Set(1)
}

func (r *Recorder) OnJobError(error) {
	r.runs.WithLabelValues("error").Inc()
}
