package deadline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithDeadline_NeverExtendsParent(t *testing.T) {
	parentAt := time.Now().Add(50 * time.Millisecond)
	parent, cancel := context.WithDeadline(context.Background(), parentAt)
	defer cancel()

	child, childCancel := WithDeadline(parent, time.Now().Add(10*time.Second))
	defer childCancel()

	at, ok := child.Deadline()
	if !ok {
		t.Fatal("deadline:deadline_test - child has no deadline")
	}
	if at.After(parentAt) {
		t.Errorf("deadline:deadline_test - child deadline %v is later than parent %v", at, parentAt)
	}
}

func TestWithDeadline_ChildMayNarrow(t *testing.T) {
	parent, cancel := context.WithDeadline(context.Background(), time.Now().Add(10*time.Second))
	defer cancel()

	childAt := time.Now().Add(20 * time.Millisecond)
	child, childCancel := WithDeadline(parent, childAt)
	defer childCancel()

	at, _ := child.Deadline()
	if at.After(childAt) {
		t.Errorf("deadline:deadline_test - child deadline %v not narrowed to %v", at, childAt)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr bool
	}{
		{
			name: "no deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.Background(), func() {}
			},
		},
		{
			name: "future deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithDeadline(context.Background(), time.Now().Add(time.Minute))
			},
		},
		{
			name: "past deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()
			err := Check(ctx)
			if tt.wantErr {
				if !errors.Is(err, ErrDeadlineExceeded) {
					t.Errorf("deadline:deadline_test - Check() = %v, want ErrDeadlineExceeded", err)
				}
				return
			}
			if err != nil {
				t.Errorf("deadline:deadline_test - Check() = %v, want nil", err)
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	if _, ok := Remaining(context.Background()); ok {
		t.Error("deadline:deadline_test - Remaining() ok for context without deadline")
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Minute))
	defer cancel()
	left, ok := Remaining(ctx)
	if !ok {
		t.Fatal("deadline:deadline_test - Remaining() not ok for context with deadline")
	}
	if left <= 0 || left > time.Minute {
		t.Errorf("deadline:deadline_test - Remaining() = %v, want (0, 1m]", left)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	value := FormatHeader(at)

	parsed, err := ParseHeader(value)
	if err != nil {
		t.Fatalf("deadline:deadline_test - ParseHeader(%q) failed: %v", value, err)
	}
	if !parsed.Equal(at) {
		t.Errorf("deadline:deadline_test - round trip %v != %v", parsed, at)
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	for _, value := range []string{"", "not-a-time", "1700000000"} {
		if _, err := ParseHeader(value); err == nil {
			t.Errorf("deadline:deadline_test - ParseHeader(%q) succeeded, want error", value)
		}
	}
}

func TestFromHeader(t *testing.T) {
	ctx, cancel, err := FromHeader(context.Background(), FormatHeader(time.Now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("deadline:deadline_test - FromHeader failed: %v", err)
	}
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("deadline:deadline_test - FromHeader did not attach a deadline")
	}
}

func TestFromHeader_AlreadyElapsed(t *testing.T) {
	_, _, err := FromHeader(context.Background(), FormatHeader(time.Now().Add(-time.Second)))
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Errorf("deadline:deadline_test - FromHeader = %v, want ErrDeadlineExceeded", err)
	}
}
