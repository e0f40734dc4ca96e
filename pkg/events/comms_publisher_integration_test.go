package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:comms_publisher_integration_test - server failed to start")
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:comms_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestCommsPublisher_PublishChanged_GranularSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	// Subscribe to granular subject
	received := make(chan *CoordinatorChangedEvent, 1)
	sub, err := nc.Subscribe("coordinator.changed.instance.billing", func(msg *comms.Msg) {
		var event CoordinatorChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("events:comms_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	event := &CoordinatorChangedEvent{
		Kind:          KindInstance,
		App:           "billing",
		InstanceID:    "billing-7f9c",
		ChangedFields: []string{"status"},
		Revision:      5,
		Timestamp:     "2025-01-01T00:00:00Z",
	}

	err = publisher.PublishChanged(context.Background(), event)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishChanged failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.App != "billing" {
			t.Errorf("events:comms_publisher_integration_test - App = %q, want %q", got.App, "billing")
		}
		if got.InstanceID != "billing-7f9c" {
			t.Errorf("events:comms_publisher_integration_test - InstanceID = %q, want %q", got.InstanceID, "billing-7f9c")
		}
		if got.Revision != 5 {
			t.Errorf("events:comms_publisher_integration_test - Revision = %d, want 5", got.Revision)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for granular event")
	}
}

func TestCommsPublisher_PublishChanged_GlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	// Subscribe to global change subject
	received := make(chan *CoordinatorChangedEvent, 1)
	sub, err := nc.Subscribe("coordinator.changed", func(msg *comms.Msg) {
		var event CoordinatorChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	event := &CoordinatorChangedEvent{
		Kind:          KindApproval,
		App:           "payments",
		ApprovalID:    "apr-456",
		ChangedFields: []string{"status"},
		Revision:      2,
		Timestamp:     "2025-02-01T00:00:00Z",
	}

	err = publisher.PublishChanged(context.Background(), event)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishChanged failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.App != "payments" {
			t.Errorf("events:comms_publisher_integration_test - App = %q, want %q", got.App, "payments")
		}
		if got.ApprovalID != "apr-456" {
			t.Errorf("events:comms_publisher_integration_test - ApprovalID = %q, want %q", got.ApprovalID, "apr-456")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for global event")
	}
}

func TestCommsPublisher_PublishChanged_BothSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14232)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	granularReceived := make(chan bool, 1)
	globalReceived := make(chan bool, 1)

	sub1, err := nc.Subscribe("coordinator.changed.config.billing", func(msg *comms.Msg) {
		granularReceived <- true
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - subscribe granular failed: %v", err)
	}
	defer sub1.Unsubscribe()

	sub2, err := nc.Subscribe("coordinator.changed", func(msg *comms.Msg) {
		globalReceived <- true
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - subscribe global failed: %v", err)
	}
	defer sub2.Unsubscribe()

	event := &CoordinatorChangedEvent{
		Kind:          KindConfig,
		App:           "billing",
		ConfigKey:     "rate-limit",
		ChangedFields: []string{"value"},
		Revision:      1,
		Timestamp:     "2025-01-01T00:00:00Z",
	}

	err = publisher.PublishChanged(context.Background(), event)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishChanged failed: %v", err)
	}
	nc.Flush()

	// Both subjects should receive the event
	for _, ch := range []struct {
		name string
		ch   chan bool
	}{
		{"granular", granularReceived},
		{"global", globalReceived},
	} {
		select {
		case <-ch.ch:
			// OK
		case <-time.After(5 * time.Second):
			t.Errorf("events:comms_publisher_integration_test - timeout waiting for %s event", ch.name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14233)
	defer cleanup()

	customSubject := "custom.events.changed"
	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{
		GlobalChangeSubject: customSubject,
	})

	received := make(chan *CoordinatorChangedEvent, 1)
	sub, err := nc.Subscribe(customSubject, func(msg *comms.Msg) {
		var event CoordinatorChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	event := &CoordinatorChangedEvent{
		Kind:          KindInstance,
		App:           "billing",
		InstanceID:    "billing-1",
		ChangedFields: []string{"status"},
		Revision:      1,
		Timestamp:     "2025-01-01T00:00:00Z",
	}

	err = publisher.PublishChanged(context.Background(), event)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishChanged failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.App != "billing" {
			t.Errorf("events:comms_publisher_integration_test - App = %q, want %q", got.App, "billing")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for custom subject event")
	}
}

func TestCommsPublisher_EventFieldsPreserved(t *testing.T) {
	nc, cleanup := startTestServer(t, 14234)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	received := make(chan *CoordinatorChangedEvent, 1)
	sub, err := nc.Subscribe("coordinator.changed", func(msg *comms.Msg) {
		var event CoordinatorChangedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	event := &CoordinatorChangedEvent{
		Kind:          KindApproval,
		App:           "doc.ingest",
		ApprovalID:    "apr-abc",
		ChangedFields: []string{"status", "decidedBy"},
		Revision:      10,
		Timestamp:     "2025-06-15T12:30:00Z",
		Env:           "production",
	}

	err = publisher.PublishChanged(context.Background(), event)
	if err != nil {
		t.Fatalf("events:comms_publisher_integration_test - PublishChanged failed: %v", err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.Kind != KindApproval {
			t.Errorf("events:comms_publisher_integration_test - Kind = %q, want %q", got.Kind, KindApproval)
		}
		if got.App != "doc.ingest" {
			t.Errorf("events:comms_publisher_integration_test - App = %q, want %q", got.App, "doc.ingest")
		}
		if got.ApprovalID != "apr-abc" {
			t.Errorf("events:comms_publisher_integration_test - ApprovalID = %q, want %q", got.ApprovalID, "apr-abc")
		}
		if len(got.ChangedFields) != 2 {
			t.Errorf("events:comms_publisher_integration_test - ChangedFields len = %d, want 2", len(got.ChangedFields))
		}
		if got.Revision != 10 {
			t.Errorf("events:comms_publisher_integration_test - Revision = %d, want 10", got.Revision)
		}
		if got.Env != "production" {
			t.Errorf("events:comms_publisher_integration_test - Env = %q, want %q", got.Env, "production")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:comms_publisher_integration_test - timeout waiting for event")
	}
}

func TestNewCommsPublisher_NilOpts(t *testing.T) {
	nc, cleanup := startTestServer(t, 14235)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	if publisher == nil {
		t.Fatal("events:comms_publisher_integration_test - expected non-nil publisher")
	}
	// Default global subject should be used
	if publisher.globalChangeSubject != "coordinator.changed" {
		t.Errorf("events:comms_publisher_integration_test - globalChangeSubject = %q, want %q",
			publisher.globalChangeSubject, "coordinator.changed")
	}
}

func TestNewCommsPublisher_EmptyGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14236)
	defer cleanup()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{
		GlobalChangeSubject: "",
	})

	// Empty string should use default
	if publisher.globalChangeSubject != "coordinator.changed" {
		t.Errorf("events:comms_publisher_integration_test - globalChangeSubject = %q, want %q",
			publisher.globalChangeSubject, "coordinator.changed")
	}
}
