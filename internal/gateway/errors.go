// Package gateway mediates all traffic to the embedding provider. It layers
// rate limiting, a circuit breaker, bounded retries, and a concurrency cap
// around a pluggable provider so the rest of the system never talks to the
// provider directly.
package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrCircuitOpen is returned when the circuit breaker is open and calls are
// being rejected without reaching the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrMissingAPIKey is returned when the gateway is constructed without
// provider credentials.
var ErrMissingAPIKey = errors.New("embedding API key is required")

// transientMarkers identify provider errors worth retrying. Anything else is
// treated as permanent and fails after the first attempt.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"unavailable",
	"overloaded",
}

// IsTransient reports whether err looks like a temporary provider failure.
// Per-call deadline expiry counts as a timeout and is retryable; an explicit
// cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
