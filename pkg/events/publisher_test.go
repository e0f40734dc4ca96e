package events

import (
	"context"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishChanged(context.Background(), &CoordinatorChangedEvent{
		Kind:     KindInstance,
		App:      "billing",
		Revision: 1,
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *CoordinatorChangedEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *CoordinatorChangedEvent) error {
		captured = event
		return nil
	})

	event := &CoordinatorChangedEvent{
		Kind:          KindConfig,
		App:           "billing",
		ConfigKey:     "rate-limit",
		ChangedFields: []string{"value"},
		Revision:      5,
		Timestamp:     "2025-01-01T00:00:00Z",
	}

	err := pub.PublishChanged(context.Background(), event)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.App != "billing" {
		t.Errorf("expected app billing, got %s", captured.App)
	}
	if captured.Kind != KindConfig {
		t.Errorf("expected kind %s, got %s", KindConfig, captured.Kind)
	}
	if captured.Revision != 5 {
		t.Errorf("expected revision 5, got %d", captured.Revision)
	}
}
