package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/controlplane-coordinator/pkg/commsutil"
)

const replyLogPrefix = "bridge:reply"

// HandleReply processes one inbound reply envelope. The pending invocation
// is the authorization to accept: a reply with no matching pending record is
// stale (late, duplicate, or swept) and is counted and dropped without error.
func (b *Bridge) HandleReply(ctx context.Context, correlationID string, payload []byte) error {
	if correlationID == "" {
		b.staleReplies.Inc()
		slog.Debug(fmt.Sprintf("%s - dropping reply without correlation id", replyLogPrefix))
		return nil
	}

	inv, err := b.store.GetPending(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("%s - lookup pending %s: %w", replyLogPrefix, correlationID, err)
	}
	if inv == nil {
		b.staleReplies.Inc()
		slog.Debug(fmt.Sprintf("%s - dropping stale reply correlation=%s", replyLogPrefix, correlationID))
		return nil
	}

	if err := b.store.PutResponse(ctx, correlationID, payload, b.responseTTL); err != nil {
		return fmt.Errorf("%s - stage response %s: %w", replyLogPrefix, correlationID, err)
	}
	if err := b.store.DeletePending(ctx, correlationID); err != nil {
		// The staged response is what the waiter needs; the sweep reclaims
		// the pending record.
		slog.Warn(fmt.Sprintf("%s - delete pending %s: %v", replyLogPrefix, correlationID, err))
	}
	slog.Debug(fmt.Sprintf("%s - staged reply correlation=%s type=%s", replyLogPrefix, correlationID, inv.ResponseType))
	return nil
}

// Subscribe binds the reply handler to the bridge's reply channel on nc.
func (b *Bridge) Subscribe(nc *comms.Conn) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(b.replyChannel, func(msg *comms.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id := msg.Header.Get(commsutil.HeaderCorrelationID)
		if err := b.HandleReply(ctx, id, msg.Data); err != nil {
			slog.Error(fmt.Sprintf("%s - handle reply correlation=%s: %v", replyLogPrefix, id, err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe to %s: %w", replyLogPrefix, b.replyChannel, err)
	}
	slog.Info(fmt.Sprintf("%s - listening for replies on %s", replyLogPrefix, b.replyChannel))
	return sub, nil
}
