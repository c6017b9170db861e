// Package metrics exposes Prometheus collectors for the fetch engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal              *prometheus.CounterVec
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	retriesTotal           *prometheus.CounterVec
	rateLimitDelaysSeconds *prometheus.HistogramVec
	activeWorkers          prometheus.Gauge
	queueDepth             prometheus.Gauge

	once sync.Once
)

// Init registers the collectors against the default registry. It is safe to
// call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_jobs_total",
				Help: "Total jobs reaching a terminal state, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_fetch_attempts_total",
				Help: "Total completed fetch attempts, labeled by host and status class.",
			},
			[]string{"host", "status_class"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_fetch_bytes_total",
				Help: "Total payload bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapekit_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"host"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapekit_retries_total",
				Help: "Total retry re-enqueues, labeled by host.",
			},
			[]string{"host"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapekit_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapekit_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapekit_queue_depth",
				Help: "Number of jobs waiting in the queue.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal outcome counter.
func ObserveJob(outcome string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one completed fetch attempt.
func ObserveFetch(host string, statusCode int, duration time.Duration, bytes int) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(host, statusClass(statusCode)).Inc()
	fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytes))
	}
}

// ObserveRetry increments the retry counter for host.
func ObserveRetry(host string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(host).Inc()
}

// ObserveRateLimitDelay records how long a worker waited for a host permit.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(n int) {
	if queueDepth == nil {
		return
	}
	queueDepth.Set(float64(n))
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
