// Package rendezvous implements the shared mailbox between an RPC initiator
// and the reply handler. The store is the single source of truth for
// correlation: a pending record authorizes a reply to be accepted, and a
// response record is consumed by exactly one waiter. Per-key TTLs reclaim
// entries left behind by crashed callers.
package rendezvous

import (
	"context"
	"time"
)

// Key prefixes under the store's configured namespace.
const (
	PendingKeyPrefix  = "pending:"
	ResponseKeyPrefix = "response:"
)

// PendingInvocation marks an in-flight remote call awaiting a reply. Its
// presence is the authorization for the reply handler to accept a response.
type PendingInvocation struct {
	CorrelationID string    `json:"correlationId"`
	ResponseType  string    `json:"responseType"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Store is the rendezvous key/value contract. Implementations must provide
// atomic per-key operations; TakeResponse in particular must guarantee that
// at most one caller ever consumes a given response.
type Store interface {
	// PutPending stores a pending invocation under its correlation id.
	PutPending(ctx context.Context, inv PendingInvocation, ttl time.Duration) error

	// GetPending returns the pending invocation, or nil when absent.
	GetPending(ctx context.Context, correlationID string) (*PendingInvocation, error)

	// DeletePending removes the pending invocation. Deleting an absent key
	// is not an error.
	DeletePending(ctx context.Context, correlationID string) error

	// PutResponse stages a reply payload for the waiting caller.
	PutResponse(ctx context.Context, correlationID string, payload []byte, ttl time.Duration) error

	// TakeResponse atomically reads and deletes the staged reply. Returns
	// nil when absent. Read-then-delete: the payload is never lost to a
	// concurrent sweep between the two steps.
	TakeResponse(ctx context.Context, correlationID string) ([]byte, error)

	// ExpiredPending returns correlation ids of pending invocations past
	// their expiry, for the periodic sweep.
	ExpiredPending(ctx context.Context, now time.Time) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
