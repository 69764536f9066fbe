package propagate

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/govern/pkg/types"
)

func testAgent(tenantID uuid.UUID, active bool) *types.Agent {
	return &types.Agent{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "Agent",
		Slug:     "agent",
		Active:   active,
	}
}

func TestReconcile(t *testing.T) {
	tenantID := uuid.New()

	tests := []struct {
		name       string
		kind       types.EventKind
		active     bool
		activeOnly bool
		wantKind   types.OpKind
		wantNil    bool
	}{
		{"deleted always removes", types.EventDeleted, true, false, types.OpRemove, false},
		{"deleted removes under filter", types.EventDeleted, false, true, types.OpRemove, false},
		{"created upserts", types.EventCreated, true, false, types.OpUpsert, false},
		{"created inactive visible without filter", types.EventCreated, false, false, types.OpUpsert, false},
		{"created inactive invisible under filter", types.EventCreated, false, true, "", true},
		{"updated upserts", types.EventUpdated, true, true, types.OpUpsert, false},
		{"updated inactive removes under filter", types.EventUpdated, false, true, types.OpRemove, false},
		{"updated inactive upserts without filter", types.EventUpdated, false, false, types.OpUpsert, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := testAgent(tenantID, tt.active)
			op := Reconcile(&types.ChangeEvent{Kind: tt.kind, TenantID: tenantID, Agent: agent}, tt.activeOnly)

			if tt.wantNil {
				assert.Nil(t, op)
				return
			}
			require.NotNil(t, op)
			assert.Equal(t, tt.wantKind, op.Kind)
			assert.Equal(t, agent.ID, op.AgentID)
			if op.Kind == types.OpUpsert {
				assert.Equal(t, agent, op.Agent)
			}
		})
	}
}

func receiveOp(t *testing.T, sub *Subscription) types.ReconciliationOp {
	t.Helper()
	select {
	case op := <-sub.Ops():
		return op
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for op")
		return types.ReconciliationOp{}
	}
}

func TestMemoryBusDelivers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	tenantID := uuid.New()

	sub, err := bus.Subscribe(tenantID, false)
	require.NoError(t, err)
	defer sub.Close()

	agent := testAgent(tenantID, true)
	bus.Publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: tenantID, Agent: agent})

	op := receiveOp(t, sub)
	assert.Equal(t, types.OpUpsert, op.Kind)
	assert.Equal(t, agent.ID, op.AgentID)
}

func TestMemoryBusTenantIsolation(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	tenantA, tenantB := uuid.New(), uuid.New()

	subA, err := bus.Subscribe(tenantA, false)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := bus.Subscribe(tenantB, false)
	require.NoError(t, err)
	defer subB.Close()

	bus.Publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: tenantA, Agent: testAgent(tenantA, true)})

	receiveOp(t, subA)
	select {
	case op := <-subB.Ops():
		t.Fatalf("tenant B received tenant A's op: %+v", op)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusActiveOnlyFilter(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	tenantID := uuid.New()

	filtered, err := bus.Subscribe(tenantID, true)
	require.NoError(t, err)
	defer filtered.Close()
	unfiltered, err := bus.Subscribe(tenantID, false)
	require.NoError(t, err)
	defer unfiltered.Close()

	inactive := testAgent(tenantID, false)
	bus.Publish(&types.ChangeEvent{Kind: types.EventUpdated, TenantID: tenantID, Agent: inactive})

	// Filtered view converts the update to a removal; unfiltered upserts.
	op := receiveOp(t, filtered)
	assert.Equal(t, types.OpRemove, op.Kind)

	op = receiveOp(t, unfiltered)
	assert.Equal(t, types.OpUpsert, op.Kind)
}

func TestMemoryBusDropsWhenFull(t *testing.T) {
	drops := 0
	bus := NewMemoryBus(nil, WithBufferSize(1), WithDropHook(func() { drops++ }))
	defer bus.Close()
	tenantID := uuid.New()

	sub, err := bus.Subscribe(tenantID, false)
	require.NoError(t, err)
	defer sub.Close()

	// Nothing reads the subscription, so the second publish overflows.
	bus.Publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: tenantID, Agent: testAgent(tenantID, true)})
	bus.Publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: tenantID, Agent: testAgent(tenantID, true)})

	assert.Equal(t, 1, drops)
	assert.Len(t, sub.Ops(), 1, "only the first op is buffered")
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	tenantID := uuid.New()

	sub, err := bus.Subscribe(tenantID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(tenantID))

	sub.Close()
	assert.Zero(t, bus.SubscriberCount(tenantID))

	// Publishing after close must not panic or deliver.
	bus.Publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: tenantID, Agent: testAgent(tenantID, true)})

	_, open := <-sub.Ops()
	assert.False(t, open, "channel closes with the subscription")
}

// Bus shutdown and per-subscription closes may overlap; every op
// channel still closes exactly once.
func TestMemoryBusCloseConcurrentWithSubscriptions(t *testing.T) {
	bus := NewMemoryBus(nil)
	tenantID := uuid.New()

	subs := make([]*Subscription, 0, 50)
	for i := 0; i < 50; i++ {
		sub, err := bus.Subscribe(tenantID, false)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	var wg sync.WaitGroup
	wg.Add(len(subs) + 1)
	go func() {
		defer wg.Done()
		require.NoError(t, bus.Close())
	}()
	for _, sub := range subs {
		go func(s *Subscription) {
			defer wg.Done()
			s.Close()
		}(sub)
	}
	wg.Wait()

	for _, sub := range subs {
		_, open := <-sub.Ops()
		assert.False(t, open)
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus(nil)
	tenantID := uuid.New()

	sub, err := bus.Subscribe(tenantID, false)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "idempotent")

	_, open := <-sub.Ops()
	assert.False(t, open)

	_, err = bus.Subscribe(tenantID, false)
	assert.Error(t, err)
}
