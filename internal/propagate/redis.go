package propagate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentforge/govern/pkg/types"
)

// channelPrefix namespaces governance change events in Redis
const channelPrefix = "govern:changes:"

// RedisBus carries change events across processes over Redis pub/sub.
// Semantics match the in-process bus: at-most-once delivery to live
// subscribers, no replay. Redis pub/sub itself provides exactly that.
type RedisBus struct {
	client     redis.UniversalClient
	logger     *zap.Logger
	bufferSize int
	onDrop     func()

	mu     sync.Mutex
	cancel []context.CancelFunc
	closed bool
}

// RedisBusOption configures a RedisBus
type RedisBusOption func(*RedisBus)

// WithRedisBufferSize sets the per-subscriber op buffer size
func WithRedisBufferSize(n int) RedisBusOption {
	return func(b *RedisBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithRedisDropHook registers a callback invoked when a slow subscriber
// drops an op
func WithRedisDropHook(fn func()) RedisBusOption {
	return func(b *RedisBus) { b.onDrop = fn }
}

// NewRedisBus creates a change bus over an existing Redis client
func NewRedisBus(client redis.UniversalClient, logger *zap.Logger, opts ...RedisBusOption) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RedisBus{
		client:     client,
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func channelFor(tenantID uuid.UUID) string {
	return channelPrefix + tenantID.String()
}

// Publish emits one event to the tenant's channel. Errors are logged,
// never surfaced: the mutation has already committed and propagation is
// a best-effort companion to it.
func (b *RedisBus) Publish(event *types.ChangeEvent) {
	if event == nil || event.Agent == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshal change event", zap.Error(err))
		return
	}
	if err := b.client.Publish(context.Background(), channelFor(event.TenantID), payload).Err(); err != nil {
		b.logger.Error("publish change event",
			zap.String("tenant_id", event.TenantID.String()),
			zap.Error(err),
		)
	}
}

// Subscribe registers a subscriber for one tenant's events
func (b *RedisBus) Subscribe(tenantID uuid.UUID, activeOnly bool) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, types.ErrInternal
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, channelFor(tenantID))
	// Wait for the subscription to be established so callers do not
	// miss events published immediately after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe tenant %s: %w", tenantID, err)
	}

	sub := &Subscription{
		tenantID:   tenantID,
		activeOnly: activeOnly,
		ops:        make(chan types.ReconciliationOp, b.bufferSize),
		forwarded:  true,
	}
	sub.unregister = func() {
		cancel()
		pubsub.Close()
	}

	go b.forward(ctx, pubsub, sub)
	return sub, nil
}

// forward decodes events from Redis and applies the subscriber's filter.
// It owns sub.ops: the channel is closed here, never from Close, so a
// disconnect arriving mid-delivery cannot hit a closed channel.
func (b *RedisBus) forward(ctx context.Context, pubsub *redis.PubSub, sub *Subscription) {
	defer close(sub.ops)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event types.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("decode change event", zap.Error(err))
				continue
			}
			op := Reconcile(&event, sub.activeOnly)
			if op == nil {
				continue
			}
			if !sub.deliver(*op) {
				if b.onDrop != nil {
					b.onDrop()
				}
				b.logger.Warn("dropped op for slow subscriber",
					zap.String("tenant_id", sub.tenantID.String()),
					zap.String("agent_id", op.AgentID.String()),
				)
			}
		}
	}
}

// Close shuts the bus down; active subscriptions stop receiving
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancel {
		cancel()
	}
	return nil
}
