package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	AuthOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_auth_operations_total",
			Help: "Total number of authentication operations",
		},
		[]string{"operation"}, // signup, login, logout, forgot_password, reset_password, verify_email, ...
	)

	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // missing_token, invalid_token, login_failure, rate_limited, ...
	)

	ItemOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_item_operations_total",
			Help: "Total number of item operations",
		},
		[]string{"operation"}, // create, update, delete, view
	)

	FavoriteOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_favorite_operations_total",
			Help: "Total number of favorite additions and removals",
		},
		[]string{"operation"},
	)

	ChatMessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_chat_messages_total",
			Help: "Total number of chat messages by operation",
		},
		[]string{"operation"}, // sent, read, deleted
	)

	StorageOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation"},
	)

	StorageErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mulemart_storage_errors_total",
			Help: "Total number of failed object storage operations",
		},
		[]string{"operation"},
	)
)

// Histogram metrics
var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mulemart_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mulemart_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // query, insert, update, delete
	)

	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mulemart_storage_operation_duration_seconds",
			Help:    "Duration of object storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Gauge metrics
var (
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mulemart_info",
			Help: "Information about the marketplace service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthOperationCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(ItemOperationCounter)
	prometheus.MustRegister(FavoriteOperationCounter)
	prometheus.MustRegister(ChatMessageCounter)
	prometheus.MustRegister(StorageOperationCounter)
	prometheus.MustRegister(StorageErrorCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(StorageOperationDuration)

	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	return func(start time.Time) {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(start).Seconds())
	}
}

// TrackStorageOperation counts a storage call and measures its duration
func TrackStorageOperation(operation string) func(time.Time) {
	return func(start time.Time) {
		StorageOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
		StorageOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(start).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordAuthOperation records an authentication operation by type
func RecordAuthOperation(operation string) {
	AuthOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

func RecordItemOperation(operation string) {
	ItemOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

func RecordFavoriteOperation(operation string) {
	FavoriteOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordChatMessages adds n to the chat message counter for operation
func RecordChatMessages(operation string, n int) {
	if n <= 0 {
		return
	}
	ChatMessageCounter.With(prometheus.Labels{"operation": operation}).Add(float64(n))
}

func RecordStorageError(operation string) {
	StorageErrorCounter.With(prometheus.Labels{"operation": operation}).Inc()
}
