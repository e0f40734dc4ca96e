package resilience

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Default retry budget settings.
const (
	DefaultBudgetWindow         = 10 * time.Second
	DefaultBudgetCeilingPercent = 20
)

// BudgetConfig holds per-dependency retry budget settings. Zero values fall
// back to the defaults above.
type BudgetConfig struct {
	// Window is the rolling window over which attempts are counted.
	Window time.Duration
	// CeilingPercent caps admitted retries at this percentage of first
	// attempts inside the window.
	CeilingPercent int
}

func (c BudgetConfig) withDefaults() BudgetConfig {
	if c.Window <= 0 {
		c.Window = DefaultBudgetWindow
	}
	if c.CeilingPercent <= 0 {
		c.CeilingPercent = DefaultBudgetCeilingPercent
	}
	return c
}

type budgetMark struct {
	at    time.Time
	retry bool
}

// RetryBudget limits what fraction of calls to one dependency may be retries
// inside a rolling window. All callers of the dependency share one budget, so
// concurrent retry storms are suppressed collectively. Safe for concurrent
// use.
//
// Admitted retries are reserved inside TryConsumeRetry; callers record first
// attempts with RecordAttempt(false) and must not record the retry again.
type RetryBudget struct {
	cfg   BudgetConfig
	clock clock.Clock

	mu    sync.Mutex
	marks []budgetMark // ordered by time
}

// NewRetryBudget creates a RetryBudget. A nil clk uses the wall clock.
func NewRetryBudget(cfg BudgetConfig, clk clock.Clock) *RetryBudget {
	if clk == nil {
		clk = clock.New()
	}
	return &RetryBudget{cfg: cfg.withDefaults(), clock: clk}
}

// RecordAttempt counts an attempt inside the rolling window. Retry attempts
// admitted through TryConsumeRetry are already counted; pass wasRetry only
// when recording a retry performed outside the budget's gate.
func (b *RetryBudget) RecordAttempt(wasRetry bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.clock.Now())
	b.marks = append(b.marks, budgetMark{at: b.clock.Now(), retry: wasRetry})
}

// TryConsumeRetry admits a retry only if, after admission, retries stay at or
// below the ceiling percentage of first attempts in the window. An admitted
// retry is reserved immediately so concurrent callers cannot overrun the
// budget.
func (b *RetryBudget) TryConsumeRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	b.prune(now)

	total, retries := b.counts()
	if (retries+1)*100 > b.cfg.CeilingPercent*total {
		return false
	}
	b.marks = append(b.marks, budgetMark{at: now, retry: true})
	return true
}

// Utilization reports how much of the retry budget is in use, as a
// percentage: 100 means the ceiling is fully consumed.
func (b *RetryBudget) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.clock.Now())

	total, retries := b.counts()
	if total == 0 {
		return 0
	}
	ceiling := float64(b.cfg.CeilingPercent) / 100 * float64(total)
	if ceiling == 0 {
		return 0
	}
	return float64(retries) / ceiling * 100
}

// counts returns first attempts and retries in the window. Caller holds b.mu.
func (b *RetryBudget) counts() (total, retries int) {
	for _, m := range b.marks {
		if m.retry {
			retries++
		} else {
			total++
		}
	}
	return total, retries
}

// prune drops marks older than the window. Caller holds b.mu.
func (b *RetryBudget) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.marks) && !b.marks[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.marks = append(b.marks[:0], b.marks[i:]...)
	}
}
