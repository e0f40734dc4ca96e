// Package resilience guards outbound dependency calls with a composed
// pipeline: circuit breaker, budgeted retry, bulkhead, time limiter, and
// fallback. Each concern is an independent unit; Executor fixes the
// composition order.
package resilience

import "errors"

var (
	// ErrCircuitOpen is returned without invoking the operation while a
	// dependency's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrBulkheadFull is returned when a dependency's concurrency cap is
	// reached and the acquire policy is reject.
	ErrBulkheadFull = errors.New("bulkhead full")

	// ErrRetryBudgetExceeded is returned when a retry was suppressed to
	// protect the dependency from retry amplification.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")

	// ErrTimeLimitExceeded is returned when a single attempt ran longer than
	// the configured time limit.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")
)
