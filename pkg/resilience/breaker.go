package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed   BreakerState = iota // normal operation, calls pass through
	StateOpen                         // failing, calls rejected immediately
	StateHalfOpen                     // probing, limited trial calls allowed
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default circuit breaker settings.
const (
	DefaultBreakerWindowSize      = 10
	DefaultFailurePercent         = 50
	DefaultSlowPercent            = 50
	DefaultSlowCallDuration       = 5 * time.Second
	DefaultOpenWait               = 30 * time.Second
	DefaultHalfOpenTrials         = 3
)

// BreakerConfig holds per-dependency circuit breaker settings. Zero values
// fall back to the defaults above.
type BreakerConfig struct {
	// WindowSize is how many recorded calls the sliding window holds.
	WindowSize int
	// FailurePercent opens the circuit when the failure rate over a full
	// window exceeds this percentage.
	FailurePercent int
	// SlowPercent opens the circuit when the slow-call rate over a full
	// window exceeds this percentage.
	SlowPercent int
	// SlowCallDuration is the latency above which a call counts as slow.
	SlowCallDuration time.Duration
	// OpenWait is how long the circuit stays open before trial traffic.
	OpenWait time.Duration
	// HalfOpenTrials is how many consecutive trial successes close the
	// circuit. Any trial failure reopens it.
	HalfOpenTrials int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultBreakerWindowSize
	}
	if c.FailurePercent <= 0 {
		c.FailurePercent = DefaultFailurePercent
	}
	if c.SlowPercent <= 0 {
		c.SlowPercent = DefaultSlowPercent
	}
	if c.SlowCallDuration <= 0 {
		c.SlowCallDuration = DefaultSlowCallDuration
	}
	if c.OpenWait <= 0 {
		c.OpenWait = DefaultOpenWait
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = DefaultHalfOpenTrials
	}
	return c
}

type callOutcome struct {
	failed bool
	slow   bool
}

// Breaker is a per-dependency circuit breaker over a count-based sliding
// window of recorded call outcomes. Safe for concurrent use.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock clock.Clock

	mu             sync.Mutex
	state          BreakerState
	window         []callOutcome // ring buffer, len == cfg.WindowSize
	next           int
	recorded       int
	openedAt       time.Time
	trialInflight  int
	trialSuccesses int
}

// NewBreaker creates a Breaker for the named dependency. A nil clk uses the
// wall clock.
func NewBreaker(name string, cfg BreakerConfig, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clk,
		window: make([]callOutcome, cfg.WindowSize),
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until the open wait elapses, at which point trial traffic is
// admitted half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cfg.OpenWait {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.state = StateHalfOpen
		b.trialInflight = 0
		b.trialSuccesses = 0
		fallthrough
	case StateHalfOpen:
		// Admit only as many trials as are still needed to close.
		if b.trialInflight+b.trialSuccesses >= b.cfg.HalfOpenTrials {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.trialInflight++
		return nil
	default:
		return nil
	}
}

// RecordSuccess records a successful call with its latency. A call slower
// than SlowCallDuration still counts toward the slow-call rate.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.record(callOutcome{slow: latency >= b.cfg.SlowCallDuration})
}

// RecordFailure records a failed call with its latency.
func (b *Breaker) RecordFailure(latency time.Duration) {
	b.record(callOutcome{failed: true, slow: latency >= b.cfg.SlowCallDuration})
}

func (b *Breaker) record(out callOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if b.trialInflight > 0 {
			b.trialInflight--
		}
		if out.failed {
			b.trip()
			return
		}
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.HalfOpenTrials {
			b.reset()
		}
	case StateClosed:
		b.window[b.next] = out
		b.next = (b.next + 1) % b.cfg.WindowSize
		if b.recorded < b.cfg.WindowSize {
			b.recorded++
		}
		if b.recorded == b.cfg.WindowSize && b.overThreshold() {
			b.trip()
		}
	case StateOpen:
		// Late results from calls admitted before the trip; the open state
		// already reflects the dependency's health.
	}
}

// overThreshold evaluates failure and slow-call rates over a full window.
// Caller holds b.mu.
func (b *Breaker) overThreshold() bool {
	failures, slow := 0, 0
	for _, out := range b.window {
		if out.failed {
			failures++
		}
		if out.slow {
			slow++
		}
	}
	return failures*100 > b.cfg.FailurePercent*b.cfg.WindowSize ||
		slow*100 > b.cfg.SlowPercent*b.cfg.WindowSize
}

// trip opens the circuit and stamps openedAt. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.clock.Now()
	b.trialInflight = 0
	b.trialSuccesses = 0
}

// reset returns the circuit to closed with an empty window. Caller holds b.mu.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.window = make([]callOutcome, b.cfg.WindowSize)
	b.next = 0
	b.recorded = 0
	b.trialInflight = 0
	b.trialSuccesses = 0
}

// cancelTrial returns a half-open trial slot when an admitted call never ran
// (e.g. the bulkhead rejected it before the operation started).
func (b *Breaker) cancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.trialInflight > 0 {
		b.trialInflight--
	}
}

// State returns the current state. An open circuit whose wait has elapsed
// still reports open until the next Allow admits a trial.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed and clears the window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}
