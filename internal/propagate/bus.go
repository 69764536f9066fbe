// Package propagate fans accepted mutations out to subscribers as
// reconciliation ops, applying each subscriber's visibility filter.
//
// Delivery is at-most-once per event per connected subscriber: a slow
// subscriber's buffer overflow drops the event, and a reconnecting
// subscriber must perform a full list call rather than assume any
// buffered events. There is no durable replay log for this stream.
package propagate

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentforge/govern/pkg/types"
)

// DefaultBufferSize is the per-subscriber op buffer
const DefaultBufferSize = 64

// Bus is the change propagation channel between the mutation path and
// live subscribers
type Bus interface {
	// Publish emits one event. It never blocks the mutation path: the
	// mutating transaction has already committed by the time Publish is
	// invoked, and a delivery failure never rolls anything back.
	Publish(event *types.ChangeEvent)

	// Subscribe registers a subscriber for one tenant's events
	Subscribe(tenantID uuid.UUID, activeOnly bool) (*Subscription, error)

	// Close shuts the bus down and closes all subscriptions
	Close() error
}

// Reconcile translates a change event into the apply instruction for a
// subscriber with the given activeOnly filter. A nil result means the
// event is invisible under the filter.
//
// An update that leaves (or lands) an entity inactive under an
// activeOnly filter becomes a Remove, so the subscriber's active-only
// view does not show a now-inactive entity even though the row exists.
func Reconcile(event *types.ChangeEvent, activeOnly bool) *types.ReconciliationOp {
	switch event.Kind {
	case types.EventDeleted:
		return &types.ReconciliationOp{Kind: types.OpRemove, AgentID: event.Agent.ID}

	case types.EventCreated:
		if activeOnly && !event.Agent.Active {
			return nil
		}
		return &types.ReconciliationOp{Kind: types.OpUpsert, AgentID: event.Agent.ID, Agent: event.Agent}

	case types.EventUpdated:
		if activeOnly && !event.Agent.Active {
			return &types.ReconciliationOp{Kind: types.OpRemove, AgentID: event.Agent.ID}
		}
		return &types.ReconciliationOp{Kind: types.OpUpsert, AgentID: event.Agent.ID, Agent: event.Agent}
	}
	return nil
}

// Subscription is one subscriber's live op stream
type Subscription struct {
	tenantID   uuid.UUID
	activeOnly bool
	ops        chan types.ReconciliationOp
	closeOnce  sync.Once
	unregister func()
	// forwarded marks subscriptions fed by a dedicated goroutine; that
	// goroutine closes ops when it exits, so Close must not. Closing
	// from Close would race an in-flight deliver.
	forwarded bool
}

// Ops returns the reconciliation op stream. The channel is closed when
// the subscription or the bus closes.
func (s *Subscription) Ops() <-chan types.ReconciliationOp {
	return s.ops
}

// Close detaches the subscription from the bus. For forwarded
// subscriptions the op channel is closed by the forwarding goroutine
// once it has drained; for in-process subscriptions unregister has
// already excluded the subscription from any future Publish.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.unregister != nil {
			s.unregister()
		}
		if !s.forwarded {
			close(s.ops)
		}
	})
}

// deliver enqueues an op without blocking; reports whether it was kept
func (s *Subscription) deliver(op types.ReconciliationOp) bool {
	select {
	case s.ops <- op:
		return true
	default:
		return false
	}
}

// MemoryBus is the in-process bus implementation
type MemoryBus struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[*Subscription]struct{} // tenant -> subscriptions
	bufferSize int
	closed     bool
	logger     *zap.Logger
	onDrop     func() // metrics hook, may be nil
}

// MemoryBusOption configures a MemoryBus
type MemoryBusOption func(*MemoryBus)

// WithBufferSize sets the per-subscriber op buffer size
func WithBufferSize(n int) MemoryBusOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropHook registers a callback invoked when a slow subscriber
// drops an op
func WithDropHook(fn func()) MemoryBusOption {
	return func(b *MemoryBus) { b.onDrop = fn }
}

// NewMemoryBus creates an in-process change bus
func NewMemoryBus(logger *zap.Logger, opts ...MemoryBusOption) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MemoryBus{
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish fans one event out to the tenant's connected subscribers
func (b *MemoryBus) Publish(event *types.ChangeEvent) {
	if event == nil || event.Agent == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs[event.TenantID] {
		op := Reconcile(event, sub.activeOnly)
		if op == nil {
			continue
		}
		if !sub.deliver(*op) {
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Warn("dropped op for slow subscriber",
				zap.String("tenant_id", event.TenantID.String()),
				zap.String("agent_id", event.Agent.ID.String()),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}

// Subscribe registers a subscriber for one tenant's events
func (b *MemoryBus) Subscribe(tenantID uuid.UUID, activeOnly bool) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, types.ErrInternal
	}

	sub := &Subscription{
		tenantID:   tenantID,
		activeOnly: activeOnly,
		ops:        make(chan types.ReconciliationOp, b.bufferSize),
	}
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[*Subscription]struct{})
	}
	b.subs[tenantID][sub] = struct{}{}

	sub.unregister = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[tenantID], sub)
	}
	return sub, nil
}

// SubscriberCount returns the number of connected subscribers for a tenant
func (b *MemoryBus) SubscriberCount(tenantID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenantID])
}

// Close shuts the bus down and closes all subscriptions
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	b.mu.Unlock()

	// unregister finds an already-reset map and is a no-op; the lock is
	// released so it does not self-deadlock.
	for _, sub := range all {
		sub.Close()
	}
	return nil
}
