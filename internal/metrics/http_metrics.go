package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpMetricsOnce sync.Once

	apiRequestDuration *prometheus.HistogramVec
	apiRequestTotal    *prometheus.CounterVec
)

func initHTTPMetrics() {
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pveview",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration observed at the API layer.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)

	apiRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pveview",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the API.",
		},
		[]string{"method", "route", "status"},
	)

	prometheus.MustRegister(apiRequestDuration, apiRequestTotal)
}

// RecordAPIRequest observes one HTTP request.
func RecordAPIRequest(method, path string, status int, elapsed time.Duration) {
	httpMetricsOnce.Do(initHTTPMetrics)

	route := NormalizeRoute(path)
	code := strconv.Itoa(status)
	apiRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	apiRequestTotal.WithLabelValues(method, route, code).Inc()
}

// APIRequestCount returns the request counter for one label set.
func APIRequestCount(method, path string, status int) prometheus.Counter {
	httpMetricsOnce.Do(initHTTPMetrics)
	return apiRequestTotal.WithLabelValues(method, NormalizeRoute(path), strconv.Itoa(status))
}

// otherRoute labels every path outside the route table, so unknown or
// scanned URLs share one series.
const otherRoute = "other"

var routes = map[string]struct{}{
	"/api/health":    {},
	"/api/resources": {},
	"/api/tree":      {},
	"/api/columns":   {},
	"/api/view":      {},
	"/ws":            {},
	"/metrics":       {},
}

// NormalizeRoute maps a request path to its route label. Query strings and
// a trailing slash are dropped; paths the API does not serve become "other".
func NormalizeRoute(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := routes[path]; ok {
		return path
	}
	return otherRoute
}
