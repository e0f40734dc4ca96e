package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestMemoryStore_PendingLifecycle(t *testing.T) {
	mock := clock.NewMock()
	s := NewMemoryStore(mock)
	ctx := context.Background()

	inv := PendingInvocation{
		CorrelationID: "c1",
		ResponseType:  "ConfigApplied",
		CreatedAt:     mock.Now(),
		ExpiresAt:     mock.Now().Add(12 * time.Second),
	}
	if err := s.PutPending(ctx, inv, 12*time.Second); err != nil {
		t.Fatalf("rendezvous:memory_test - PutPending failed: %v", err)
	}

	got, err := s.GetPending(ctx, "c1")
	if err != nil {
		t.Fatalf("rendezvous:memory_test - GetPending failed: %v", err)
	}
	if got == nil || got.ResponseType != "ConfigApplied" {
		t.Fatalf("rendezvous:memory_test - GetPending = %+v, want ConfigApplied", got)
	}

	if err := s.DeletePending(ctx, "c1"); err != nil {
		t.Fatalf("rendezvous:memory_test - DeletePending failed: %v", err)
	}
	got, err = s.GetPending(ctx, "c1")
	if err != nil {
		t.Fatalf("rendezvous:memory_test - GetPending after delete failed: %v", err)
	}
	if got != nil {
		t.Errorf("rendezvous:memory_test - pending still present after delete")
	}
}

func TestMemoryStore_PendingExpiresLazily(t *testing.T) {
	mock := clock.NewMock()
	s := NewMemoryStore(mock)
	ctx := context.Background()

	inv := PendingInvocation{CorrelationID: "c1", ExpiresAt: mock.Now().Add(time.Second)}
	if err := s.PutPending(ctx, inv, time.Second); err != nil {
		t.Fatalf("rendezvous:memory_test - PutPending failed: %v", err)
	}

	mock.Add(2 * time.Second)
	got, err := s.GetPending(ctx, "c1")
	if err != nil {
		t.Fatalf("rendezvous:memory_test - GetPending failed: %v", err)
	}
	if got != nil {
		t.Errorf("rendezvous:memory_test - expired pending still readable")
	}
}

func TestMemoryStore_TakeResponseAtMostOnce(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.PutResponse(ctx, "c1", []byte(`{"ok":true}`), 30*time.Second); err != nil {
		t.Fatalf("rendezvous:memory_test - PutResponse failed: %v", err)
	}

	const takers = 16
	var wg sync.WaitGroup
	wins := make(chan []byte, takers)
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := s.TakeResponse(ctx, "c1")
			if err != nil {
				t.Errorf("rendezvous:memory_test - TakeResponse failed: %v", err)
				return
			}
			if payload != nil {
				wins <- payload
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for payload := range wins {
		count++
		if string(payload) != `{"ok":true}` {
			t.Errorf("rendezvous:memory_test - payload = %s", payload)
		}
	}
	if count != 1 {
		t.Errorf("rendezvous:memory_test - %d takers consumed the response, want exactly 1", count)
	}
	if s.ResponseCount() != 0 {
		t.Errorf("rendezvous:memory_test - %d responses left after take", s.ResponseCount())
	}
}

func TestMemoryStore_ResponseTTL(t *testing.T) {
	mock := clock.NewMock()
	s := NewMemoryStore(mock)
	ctx := context.Background()

	if err := s.PutResponse(ctx, "c1", []byte("x"), 30*time.Second); err != nil {
		t.Fatalf("rendezvous:memory_test - PutResponse failed: %v", err)
	}
	mock.Add(31 * time.Second)

	payload, err := s.TakeResponse(ctx, "c1")
	if err != nil {
		t.Fatalf("rendezvous:memory_test - TakeResponse failed: %v", err)
	}
	if payload != nil {
		t.Errorf("rendezvous:memory_test - expired response still consumable")
	}
}

func TestMemoryStore_ExpiredPending(t *testing.T) {
	mock := clock.NewMock()
	s := NewMemoryStore(mock)
	ctx := context.Background()

	now := mock.Now()
	fresh := PendingInvocation{CorrelationID: "fresh", ExpiresAt: now.Add(time.Minute)}
	stale := PendingInvocation{CorrelationID: "stale", ExpiresAt: now.Add(time.Second)}
	if err := s.PutPending(ctx, fresh, time.Minute); err != nil {
		t.Fatalf("rendezvous:memory_test - PutPending failed: %v", err)
	}
	if err := s.PutPending(ctx, stale, time.Minute); err != nil {
		t.Fatalf("rendezvous:memory_test - PutPending failed: %v", err)
	}

	expired, err := s.ExpiredPending(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("rendezvous:memory_test - ExpiredPending failed: %v", err)
	}
	if len(expired) != 1 || expired[0] != "stale" {
		t.Errorf("rendezvous:memory_test - ExpiredPending = %v, want [stale]", expired)
	}
}
