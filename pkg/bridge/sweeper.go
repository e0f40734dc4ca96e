package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const sweepLogPrefix = "bridge:sweeper"

// StartSweeper periodically removes expired pending invocations until ctx is
// done. It is the backstop for lost replies and crashed callers; store TTLs
// handle the common case. interval <= 0 uses DefaultSweepInterval.
func (b *Bridge) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := b.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := b.SweepExpired(ctx)
				if err != nil {
					slog.Warn(fmt.Sprintf("%s - sweep failed: %v", sweepLogPrefix, err))
					continue
				}
				if n > 0 {
					slog.Info(fmt.Sprintf("%s - removed %d expired pending invocations", sweepLogPrefix, n))
				}
			}
		}
	}()
}

// SweepExpired removes all pending invocations past their expiry and returns
// how many were removed.
func (b *Bridge) SweepExpired(ctx context.Context) (int, error) {
	ids, err := b.store.ExpiredPending(ctx, b.clock.Now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := b.store.DeletePending(ctx, id); err != nil {
			slog.Warn(fmt.Sprintf("%s - delete expired pending %s: %v", sweepLogPrefix, id, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		b.sweptPending.Add(float64(removed))
	}
	return removed, nil
}
