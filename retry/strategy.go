// Package retry holds the delay policies and the circuit breaker used by
// the connection manager and the notification channel.
package retry

import (
	"time"
)

// Strategy defines a retry policy.
type Strategy interface {
	// Next returns the delay before the given retry attempt (1-based).
	// Returns false if no more retries should be attempted.
	Next(attempt int) (delay time.Duration, ok bool)
}
