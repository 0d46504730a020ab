// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts appended trade transactions, partitioned by type
	// and market.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_trades_total",
		Help: "Total number of trade transactions appended",
	}, []string{"type", "market"})

	// TradeRejections counts trades refused by a validation or business
	// rule, partitioned by the rule.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_trade_rejections_total",
		Help: "Trades rejected before append",
	}, []string{"reason"})

	// AlertCyclesTotal counts completed monitor polling cycles.
	AlertCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_alert_cycles_total",
		Help: "Completed price-alert polling cycles",
	})

	// AlertCycleErrors counts cycles that failed and were retried on the
	// next interval.
	AlertCycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_alert_cycle_errors_total",
		Help: "Monitor cycles aborted by an error",
	})

	// AlertsTriggered counts alerts that fired, partitioned by market.
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_alerts_triggered_total",
		Help: "Price alerts triggered and deleted",
	}, []string{"market"})

	// NotifyFailures counts notification sends that failed after the
	// alert was already deleted.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_notify_failures_total",
		Help: "Alert notifications that failed to send",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
