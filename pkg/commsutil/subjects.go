package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectCoordinator = "coordinator.api.v1"
	SubjectChangeEvent = "coordinator.changed"
)

// Envelope header names. Request envelopes carry the reply channel and
// correlation id out of band; the deadline header propagates the caller's
// absolute expiry.
const (
	HeaderReplyChannel  = "Reply-Channel"
	HeaderCorrelationID = "Correlation-Id"
	HeaderDeadline      = "X-Deadline"
)

// BuildChangeSubject builds a granular change event subject.
func BuildChangeSubject(kind, app string) string {
	return fmt.Sprintf("coordinator.changed.%s.%s", kind, app)
}

// BuildWorkerSubject builds the request channel for an app's worker
// instances.
func BuildWorkerSubject(app string) string {
	safe := strings.ReplaceAll(app, ".", "_")
	return fmt.Sprintf("coordinator.worker.%s", safe)
}

// BuildReplySubject builds the per-process reply channel. Each coordinator
// instance listens on its own channel; correlation ids route replies to the
// right waiter.
func BuildReplySubject(instanceID string) string {
	return fmt.Sprintf("coordinator.reply.%s", instanceID)
}
