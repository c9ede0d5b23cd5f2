package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scitex",
			Subsystem: "workspaced",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scitex",
			Subsystem: "workspaced",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.lifecycleResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scitex",
			Subsystem: "workspaced",
			Name:      "workspace_operations_total",
			Help:      "Workspace lifecycle operation outcomes",
		}, []string{"operation", "outcome"})

		collectors := []prometheus.Collector{r.requestTotal, r.requestDuration, r.lifecycleResults}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = existing
						} else {
							r.lifecycleResults = existing
						}
					case *prometheus.HistogramVec:
						r.requestDuration = existing
					}
					continue
				}
				panic(err)
			}
		}
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// instrument records request counts and latencies per route.
func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, req)

		status := strconv.Itoa(rec.status)
		r.requestTotal.WithLabelValues(req.Method, route, status).Inc()
		r.requestDuration.WithLabelValues(req.Method, route, status).Observe(time.Since(started).Seconds())
	}
}

func (r *Router) recordOperation(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.lifecycleResults.WithLabelValues(operation, outcome).Inc()
}
