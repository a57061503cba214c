package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_payments_accepted_total",
			Help: "Total number of payment records accepted",
		},
		[]string{"direction"},
	)

	paymentsSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_payments_settled_total",
			Help: "Total number of payment records settled",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(paymentsAcceptedTotal)
	prometheus.MustRegister(paymentsSettledTotal)
}

// metricsMiddleware records per-request counters and latencies, labeled by
// route template rather than raw path to keep cardinality bounded.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(
			c.Request.Method, path, status,
		).Inc()
		httpRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(duration)
	}
}

// prometheusHandler exposes the default registry on a gin route.
func prometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func recordPaymentAccepted(direction string) {
	paymentsAcceptedTotal.WithLabelValues(direction).Inc()
}

func recordPaymentSettled(direction string) {
	paymentsSettledTotal.WithLabelValues(direction).Inc()
}
