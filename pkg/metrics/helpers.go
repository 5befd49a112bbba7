package metrics

import (
	"strconv"
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultCached  = "cached"
)

// API constants for request metrics
const (
	APINeutron  = "neutron"
	APIKeystone = "keystone"
)

// Database constants for OVN metrics
const (
	DatabaseNB = "nb"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

// RecordAPIRequest records a served REST request.
//
// Parameters:
//   - api: The API surface (neutron/keystone)
//   - method: HTTP method
//   - resource: First path element after the version, e.g. "networks"
//   - code: HTTP status code
//   - duration: Time taken to serve the request
func RecordAPIRequest(api, method, resource string, code int, duration time.Duration) {
	c := strconv.Itoa(code)
	APIRequestDuration.WithLabelValues(api, method, resource, c).Observe(duration.Seconds())
	APIRequestTotal.WithLabelValues(api, method, resource, c).Inc()
}

// RecordOVNOperation records an OVN database operation metric
//
// Parameters:
//   - operation: The OVN operation (transact/connect)
//   - err: The error from the operation (nil for success)
//   - duration: The duration of the operation
func RecordOVNOperation(operation string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}

	OVNOperationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	OVNOperationTotal.WithLabelValues(operation, result).Inc()
}

// SetDBConnectionStatus sets the database connection status
//
// Parameters:
//   - database: The database name (nb)
//   - connected: Whether the database is connected
func SetDBConnectionStatus(database string, connected bool) {
	value := float64(0)
	if connected {
		value = 1
	}
	OVNDBConnectionStatus.WithLabelValues(database).Set(value)
}

// RecordTokenValidation records the outcome of a token validation.
func RecordTokenValidation(plugin, result string) {
	TokenValidationTotal.WithLabelValues(plugin, result).Inc()
}
