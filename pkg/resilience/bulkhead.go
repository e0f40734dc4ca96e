package resilience

import (
	"context"
	"fmt"
)

// DefaultBulkheadMaxConcurrent is the default concurrency cap per dependency.
const DefaultBulkheadMaxConcurrent = 32

// Bulkhead caps concurrent in-flight calls to one dependency so a stalled
// dependency cannot absorb every worker in the process. It is a buffered
// channel used as a counting semaphore; safe for concurrent use.
type Bulkhead struct {
	name string
	sem  chan struct{}
}

// NewBulkhead creates a Bulkhead allowing at most maxConcurrent calls.
func NewBulkhead(name string, maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultBulkheadMaxConcurrent
	}
	return &Bulkhead{name: name, sem: make(chan struct{}, maxConcurrent)}
}

// TryAcquire takes a permit or fails immediately with ErrBulkheadFull.
func (b *Bulkhead) TryAcquire() error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%s: %w", b.name, ErrBulkheadFull)
	}
}

// Acquire blocks for a permit until ctx is done.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit. Must be called exactly once per successful
// acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
	default:
		// Release without acquire; dropping it keeps the semaphore honest.
	}
}

// Occupancy returns the number of permits currently held.
func (b *Bulkhead) Occupancy() int {
	return len(b.sem)
}

// Capacity returns the concurrency cap.
func (b *Bulkhead) Capacity() int {
	return cap(b.sem)
}
