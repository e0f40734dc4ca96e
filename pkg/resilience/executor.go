package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/morezero/controlplane-coordinator/pkg/deadline"
)

const executorLogPrefix = "resilience:executor"

// Default executor settings.
const (
	DefaultMaxAttempts    = 3
	DefaultTimeout        = 10 * time.Second
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// Operation is a single outbound call against a dependency. It must honor
// ctx cancellation; a stray operation that ignores ctx keeps running but its
// result is discarded once the time limit fires.
type Operation func(ctx context.Context) (interface{}, error)

// ExecutorConfig holds per-dependency pipeline settings. Zero values fall
// back to defaults.
type ExecutorConfig struct {
	// MaxAttempts bounds total attempts including the first.
	MaxAttempts int
	// Timeout is the per-attempt time limit; each attempt runs under
	// min(Timeout, remaining deadline).
	Timeout time.Duration
	// InitialBackoff and MaxBackoff shape the exponential wait between
	// retries.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxConcurrent caps in-flight calls (bulkhead).
	MaxConcurrent int
	// Critical marks the dependency as required for process health: an open
	// circuit on a critical dependency makes the health surface report
	// degraded.
	Critical bool

	Breaker BreakerConfig
	Budget  BudgetConfig
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Executor runs operations against one dependency through the full pipeline:
// deadline check, circuit breaker, bulkhead, time limiter, budgeted retry,
// and optional fallback. All callers of the dependency share the same
// breaker, budget, and bulkhead.
type Executor struct {
	name     string
	cfg      ExecutorConfig
	breaker  *Breaker
	budget   *RetryBudget
	bulkhead *Bulkhead
	clock    clock.Clock
	metrics  *Metrics
}

// NewExecutor creates an Executor for the named dependency. A nil clk uses
// the wall clock; a nil metrics disables instrumentation.
func NewExecutor(name string, cfg ExecutorConfig, clk clock.Clock, metrics *Metrics) *Executor {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Executor{
		name:     name,
		cfg:      cfg,
		breaker:  NewBreaker(name, cfg.Breaker, clk),
		budget:   NewRetryBudget(cfg.Budget, clk),
		bulkhead: NewBulkhead(name, cfg.MaxConcurrent),
		clock:    clk,
		metrics:  metrics,
	}
}

// Name returns the dependency name.
func (e *Executor) Name() string { return e.name }

// Critical reports whether the dependency is marked critical for health.
func (e *Executor) Critical() bool { return e.cfg.Critical }

// CallOption adjusts a single Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	fallback Fallback
}

// WithFallback substitutes a degraded result when every attempt fails. Read
// paths only; ExecuteOnce ignores fallbacks by construction.
func WithFallback(fb Fallback) CallOption {
	return func(o *callOptions) { o.fallback = fb }
}

// Execute runs op with retries. On exhaustion a configured fallback result
// is substituted and the original error is only recorded in metrics.
func (e *Executor) Execute(ctx context.Context, op Operation, opts ...CallOption) (interface{}, error) {
	var call callOptions
	for _, opt := range opts {
		opt(&call)
	}

	res, err := e.execute(ctx, op, true)
	if err == nil {
		return res, nil
	}
	if call.fallback != nil && !errors.Is(err, deadline.ErrDeadlineExceeded) {
		e.metrics.recordFallback(e.name)
		slog.Debug(fmt.Sprintf("%s - %s: substituting fallback after: %v", executorLogPrefix, e.name, err))
		return call.fallback(ctx, err)
	}
	return nil, err
}

// ExecuteOnce runs op exactly once, for non-idempotent operations where
// at-most-once semantics matter more than availability. No retries, no
// fallback substitution; callers always see the real error.
func (e *Executor) ExecuteOnce(ctx context.Context, op Operation) (interface{}, error) {
	return e.execute(ctx, op, false)
}

func (e *Executor) execute(ctx context.Context, op Operation, retryable bool) (interface{}, error) {
	var bo backoff.BackOff
	if retryable {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = e.cfg.InitialBackoff
		exp.MaxInterval = e.cfg.MaxBackoff
		exp.MaxElapsedTime = 0
		bo = exp
	}

	for attempt := 1; ; attempt++ {
		res, err, ran := e.attempt(ctx, op)
		if ran && attempt == 1 {
			e.budget.RecordAttempt(false)
		}
		if err == nil {
			return res, nil
		}
		if !retryable {
			return nil, err
		}
		// Pipeline rejections fail fast; retrying them would only amplify
		// pressure on an already-saturated dependency.
		if errors.Is(err, deadline.ErrDeadlineExceeded) ||
			errors.Is(err, ErrCircuitOpen) ||
			errors.Is(err, ErrBulkheadFull) {
			return nil, err
		}
		if attempt >= e.cfg.MaxAttempts {
			return nil, err
		}
		if deadline.Expired(ctx) {
			return nil, deadline.ErrDeadlineExceeded
		}
		// Circuit state is consulted before the retry budget: an open circuit
		// means the dependency is presumed down, so no budget is spent on it.
		if e.breaker.State() == StateOpen {
			return nil, fmt.Errorf("%s: %w", e.name, ErrCircuitOpen)
		}
		if !e.budget.TryConsumeRetry() {
			e.metrics.recordRetryDecision(e.name, false)
			return nil, fmt.Errorf("%s: %w (after: %v)", e.name, ErrRetryBudgetExceeded, err)
		}
		e.metrics.recordRetryDecision(e.name, true)

		select {
		case <-e.clock.After(bo.NextBackOff()):
		case <-ctx.Done():
			if deadline.Expired(ctx) {
				return nil, deadline.ErrDeadlineExceeded
			}
			return nil, ctx.Err()
		}
	}
}

// attempt runs op once through deadline check, breaker, bulkhead, and time
// limiter. ran reports whether op was actually invoked.
func (e *Executor) attempt(ctx context.Context, op Operation) (res interface{}, err error, ran bool) {
	if err := deadline.Check(ctx); err != nil {
		return nil, err, false
	}
	if err := e.breaker.Allow(); err != nil {
		e.metrics.setCircuitState(e.name, e.breaker.State())
		return nil, err, false
	}
	if err := e.bulkhead.TryAcquire(); err != nil {
		e.breaker.cancelTrial()
		return nil, err, false
	}
	e.metrics.setOccupancy(e.name, e.bulkhead.Occupancy())

	start := e.clock.Now()
	res, err = e.runLimited(ctx, op)
	latency := e.clock.Now().Sub(start)

	e.bulkhead.Release()
	e.metrics.setOccupancy(e.name, e.bulkhead.Occupancy())

	if err != nil {
		e.breaker.RecordFailure(latency)
	} else {
		e.breaker.RecordSuccess(latency)
	}
	e.metrics.recordAttempt(e.name, err != nil)
	e.metrics.setCircuitState(e.name, e.breaker.State())
	return res, err, true
}

// runLimited invokes op under min(configured timeout, remaining deadline).
func (e *Executor) runLimited(ctx context.Context, op Operation) (interface{}, error) {
	limit := e.cfg.Timeout
	if left, ok := deadline.Remaining(ctx); ok && left < limit {
		limit = left
	}
	attemptCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		res interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := op(attemptCtx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && deadline.Expired(ctx) {
			return nil, deadline.ErrDeadlineExceeded
		}
		return out.res, out.err
	case <-attemptCtx.Done():
		// op keeps running until it observes attemptCtx; its late result is
		// discarded via the buffered channel.
		if deadline.Expired(ctx) {
			return nil, deadline.ErrDeadlineExceeded
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w", e.name, ErrTimeLimitExceeded)
	}
}
