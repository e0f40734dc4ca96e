// Package deadline propagates absolute call deadlines through context.Context.
//
// A deadline is the instant at which the original caller gives up. Every
// downstream call inherits it; a child call can narrow the deadline but never
// extend it. Checks are pure time comparisons and perform no I/O.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultHeader is the message header carrying an absolute deadline on
// inbound boundary requests.
const DefaultHeader = "X-Deadline"

// ErrDeadlineExceeded indicates the caller's time budget was already spent
// before any work was attempted.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// WithDeadline derives a child context whose deadline is at. If the parent
// already carries an earlier deadline, the earlier one wins; a child never
// outlives its parent.
func WithDeadline(parent context.Context, at time.Time) (context.Context, context.CancelFunc) {
	if existing, ok := parent.Deadline(); ok && existing.Before(at) {
		return context.WithDeadline(parent, existing)
	}
	return context.WithDeadline(parent, at)
}

// WithTimeout derives a child context expiring after d, clamped to the
// parent's deadline.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return WithDeadline(parent, time.Now().Add(d))
}

// Remaining reports the time left before ctx expires. The second return is
// false when ctx carries no deadline.
func Remaining(ctx context.Context) (time.Duration, bool) {
	at, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(at), true
}

// Expired reports whether ctx carries a deadline that has already passed.
func Expired(ctx context.Context) bool {
	at, ok := ctx.Deadline()
	return ok && !time.Now().Before(at)
}

// Check fails fast with ErrDeadlineExceeded when ctx has expired. It does no
// I/O and is safe to call before every outbound attempt.
func Check(ctx context.Context) error {
	if Expired(ctx) {
		return ErrDeadlineExceeded
	}
	return nil
}

// FormatHeader renders an absolute deadline for the boundary header.
func FormatHeader(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}

// ParseHeader parses the boundary header value as an absolute RFC 3339
// timestamp.
func ParseHeader(value string) (time.Time, error) {
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline: invalid header value %q: %w", value, err)
	}
	return at, nil
}

// FromHeader attaches the deadline carried by a boundary header to ctx.
// An already-elapsed deadline is rejected with ErrDeadlineExceeded before
// any work happens.
func FromHeader(parent context.Context, value string) (context.Context, context.CancelFunc, error) {
	at, err := ParseHeader(value)
	if err != nil {
		return nil, nil, err
	}
	if !time.Now().Before(at) {
		return nil, nil, ErrDeadlineExceeded
	}
	ctx, cancel := WithDeadline(parent, at)
	return ctx, cancel, nil
}
