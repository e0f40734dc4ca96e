// Package bridge turns the one-way COMMS bus into synchronous-looking remote
// calls. An invoke publishes a request envelope tagged with a reply channel
// and a fresh correlation id, then polls the rendezvous store until the reply
// handler stages a matching response or the timeout elapses. The store is
// authoritative: multiple coordinator processes share one correlation id
// space with no local coordination state.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/morezero/controlplane-coordinator/pkg/commsutil"
	"github.com/morezero/controlplane-coordinator/pkg/rendezvous"
)

const logPrefix = "bridge:bridge"

// Defaults for bridge timing.
const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultGrace         = 10 * time.Second
	DefaultResponseTTL   = 30 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

var (
	// ErrRPCTimeout means no reply arrived within the invoke timeout.
	ErrRPCTimeout = errors.New("rpc timeout")

	// ErrSerialization means a request or reply payload could not be
	// encoded or decoded.
	ErrSerialization = errors.New("serialization failure")
)

// Publisher publishes request envelopes. *comms.Conn satisfies it.
type Publisher interface {
	PublishMsg(msg *comms.Msg) error
}

// Options configures a Bridge. Zero values use defaults.
type Options struct {
	// ReplyChannel is this process's inbound reply subject.
	ReplyChannel string
	// PollInterval is how often the waiter checks the rendezvous store.
	PollInterval time.Duration
	// Grace extends the pending record's TTL past the invoke timeout so a
	// reply racing the timeout is still classified correctly.
	Grace time.Duration
	// ResponseTTL bounds how long an unconsumed staged reply survives.
	ResponseTTL time.Duration
	// Clock injects a test clock. Nil uses the wall clock.
	Clock clock.Clock
	// Registerer receives the bridge's Prometheus counters. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Bridge is the correlation RPC bridge.
type Bridge struct {
	pub          Publisher
	store        rendezvous.Store
	replyChannel string
	pollInterval time.Duration
	grace        time.Duration
	responseTTL  time.Duration
	clock        clock.Clock

	staleReplies prometheus.Counter
	sweptPending prometheus.Counter
}

// New creates a Bridge over the given publisher and rendezvous store.
func New(pub Publisher, store rendezvous.Store, opts Options) *Bridge {
	if opts.ReplyChannel == "" {
		opts.ReplyChannel = commsutil.BuildReplySubject(xid.New().String())
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.ResponseTTL <= 0 {
		opts.ResponseTTL = DefaultResponseTTL
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	b := &Bridge{
		pub:          pub,
		store:        store,
		replyChannel: opts.ReplyChannel,
		pollInterval: opts.PollInterval,
		grace:        opts.Grace,
		responseTTL:  opts.ResponseTTL,
		clock:        clk,
		staleReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_bridge_stale_replies_total",
			Help: "Replies discarded because no pending invocation matched.",
		}),
		sweptPending: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_bridge_swept_pending_total",
			Help: "Expired pending invocations removed by the sweep.",
		}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(b.staleReplies, b.sweptPending)
	}
	return b
}

// ReplyChannel returns the subject the bridge's reply handler listens on.
func (b *Bridge) ReplyChannel() string {
	return b.replyChannel
}

// Invoke publishes payload to requestChannel and waits for the correlated
// reply, returning its raw bytes. responseType is recorded on the pending
// invocation as the deserialization tag for the caller. The wait suspends
// only the calling goroutine; no lock is held while polling.
func (b *Bridge) Invoke(ctx context.Context, requestChannel string, payload interface{}, responseType string, timeout time.Duration) ([]byte, error) {
	data, err := commsutil.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - encode request for %s: %w: %v", logPrefix, requestChannel, ErrSerialization, err)
	}

	id := xid.New().String()
	now := b.clock.Now()
	inv := rendezvous.PendingInvocation{
		CorrelationID: id,
		ResponseType:  responseType,
		CreatedAt:     now,
		ExpiresAt:     now.Add(timeout + b.grace),
	}
	if err := b.store.PutPending(ctx, inv, timeout+b.grace); err != nil {
		return nil, fmt.Errorf("%s - record pending %s: %w", logPrefix, id, err)
	}

	msg := commsutil.NewRequestMsg(requestChannel, b.replyChannel, id, data)
	if err := b.pub.PublishMsg(msg); err != nil {
		b.cleanupPending(id)
		return nil, fmt.Errorf("%s - publish to %s: %w", logPrefix, requestChannel, err)
	}
	slog.Debug(fmt.Sprintf("%s - published request channel=%s correlation=%s timeout=%s", logPrefix, requestChannel, id, timeout))

	return b.await(ctx, id, requestChannel, timeout)
}

// InvokeAs is Invoke plus decoding of the reply into out.
func (b *Bridge) InvokeAs(ctx context.Context, requestChannel string, payload, out interface{}, timeout time.Duration) error {
	data, err := b.Invoke(ctx, requestChannel, payload, fmt.Sprintf("%T", out), timeout)
	if err != nil {
		return err
	}
	if err := commsutil.DecodePayload(data, out); err != nil {
		return fmt.Errorf("%s - decode reply from %s: %w: %v", logPrefix, requestChannel, ErrSerialization, err)
	}
	return nil
}

// await polls the rendezvous store until the response appears, the timeout
// elapses, or ctx is done. All exits clean up the pending invocation.
func (b *Bridge) await(ctx context.Context, id, requestChannel string, timeout time.Duration) ([]byte, error) {
	timer := b.clock.Timer(timeout)
	defer timer.Stop()
	ticker := b.clock.Ticker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload, err := b.store.TakeResponse(ctx, id)
			if err != nil {
				b.cleanupPending(id)
				return nil, fmt.Errorf("%s - take response %s: %w", logPrefix, id, err)
			}
			if payload != nil {
				if err := b.store.DeletePending(ctx, id); err != nil {
					// The sweep reclaims it; the reply is already in hand.
					slog.Warn(fmt.Sprintf("%s - delete pending %s: %v", logPrefix, id, err))
				}
				return payload, nil
			}
		case <-timer.C:
			b.cleanupPending(id)
			return nil, fmt.Errorf("%s - no reply on %s for %s within %s: %w", logPrefix, b.replyChannel, requestChannel, timeout, ErrRPCTimeout)
		case <-ctx.Done():
			b.cleanupPending(id)
			return nil, ctx.Err()
		}
	}
}

// cleanupPending removes the pending record on a fresh context, since the
// caller's ctx may already be expired or canceled.
func (b *Bridge) cleanupPending(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.store.DeletePending(ctx, id); err != nil {
		slog.Warn(fmt.Sprintf("%s - cleanup pending %s: %v", logPrefix, id, err))
	}
}
