package config

import "time"

// TimeoutConfig holds timeout settings for various operations.
// These can be configured via CLI flags to tune behavior for slow disks.
type TimeoutConfig struct {
	// Operation bounds a single store operation run by the record executor.
	// Default: 10s
	Operation time.Duration

	// HTTPRead and HTTPWrite bound API request handling. Streaming endpoints
	// (SSE, websocket) clear the write deadline themselves.
	// Default: 15s / 30s
	HTTPRead  time.Duration
	HTTPWrite time.Duration

	// Shutdown is how long the server waits for in-flight requests.
	// Default: 10s
	Shutdown time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Operation: 10 * time.Second,
		HTTPRead:  15 * time.Second,
		HTTPWrite: 30 * time.Second,
		Shutdown:  10 * time.Second,
	}
}
