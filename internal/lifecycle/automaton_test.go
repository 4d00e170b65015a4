package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
	"campusRobotDelivery/repository/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []events.OrderStatusChanged
}

func (r *recorder) Publish(_ context.Context, _ string, payload any) error {
	if ev, ok := payload.(events.OrderStatusChanged); ok {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
	return nil
}

func (r *recorder) targets() []models.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.OrderStatus, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// assignedOrder creates a robot and a READY order and binds them.
func assignedOrder(t *testing.T, st *memory.Store) (*models.Order, *models.Robot) {
	t.Helper()
	ctx := context.Background()
	rb, err := st.CreateRobot(ctx, models.Robot{RobotID: "RB-01", BatteryPercent: 90, Location: models.Location{Lat: 35.7700, Lng: -78.6700}})
	require.NoError(t, err)
	o, err := st.CreateOrder(ctx, models.Order{
		UserID:           1,
		VendorID:         1,
		Items:            []models.OrderItem{{Name: "Burrito", Quantity: 1, Price: 9.5}},
		DeliveryLocation: "Talley Student Union",
		DeliveryLat:      ptr(35.7840),
		DeliveryLng:      ptr(-78.6760),
		Status:           models.OrderStatusReady,
	})
	require.NoError(t, err)
	require.NoError(t, st.AssignRobot(ctx, o.ID, rb.ID))
	o, err = st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	return o, rb
}

func newAutomaton(st *memory.Store, pub events.Publisher, first, second time.Duration) *Automaton {
	return NewAutomaton(st, Options{
		AssignedToEnRoute:  first,
		EnRouteToDelivered: second,
		ReconcileInterval:  time.Hour,
		Timers:             st,
		Publisher:          pub,
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.OrderStatus
		ok       bool
	}{
		{models.OrderStatusCreated, models.OrderStatusPreparing, true},
		{models.OrderStatusPreparing, models.OrderStatusReady, true},
		{models.OrderStatusReady, models.OrderStatusAssigned, true},
		{models.OrderStatusAssigned, models.OrderStatusEnRoute, true},
		{models.OrderStatusEnRoute, models.OrderStatusDelivered, true},
		{models.OrderStatusAssigned, models.OrderStatusCancelled, true},
		{models.OrderStatusEnRoute, models.OrderStatusAssigned, false},
		{models.OrderStatusDelivered, models.OrderStatusCancelled, false},
		{models.OrderStatusCancelled, models.OrderStatusReady, false},
		{models.OrderStatusCreated, models.OrderStatusDelivered, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
	require.ErrorIs(t, ValidateTransition(models.OrderStatusDelivered, models.OrderStatusReady), ErrIllegalTransition)
	require.ErrorIs(t, ValidateTransition(models.OrderStatusReady, "SHIPPED"), ErrIllegalTransition)
	require.NoError(t, ValidateTransition(models.OrderStatusReady, models.OrderStatusCancelled))
}

func TestAutomatonDeliversAndReleasesRobot(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rec := &recorder{}
	a := newAutomaton(st, rec, 20*time.Millisecond, 40*time.Millisecond)
	a.Start(ctx)
	defer a.Stop()

	o, rb := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))

	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusEnRoute
	}, time.Second, 5*time.Millisecond)

	robot, err := st.GetRobot(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RobotStatusEnRoute, robot.Status)

	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusDelivered
	}, time.Second, 5*time.Millisecond)

	cur, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, cur.RobotID)

	robot, err = st.GetRobot(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RobotStatusIdle, robot.Status)
	assert.InDelta(t, 35.7840, robot.Location.Lat, 1e-9)
	assert.InDelta(t, -78.6760, robot.Location.Lng, 1e-9)

	assert.Equal(t, []models.OrderStatus{models.OrderStatusEnRoute, models.OrderStatusDelivered}, rec.targets())
	assert.False(t, a.Pending(o.ID))

	timers, err := st.ListTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func TestAutomatonCancelStopsTimers(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := newAutomaton(st, nil, 30*time.Millisecond, 30*time.Millisecond)
	a.Start(ctx)
	defer a.Stop()

	o, _ := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))
	require.True(t, a.Pending(o.ID))

	_, err := st.AdvanceOrder(ctx, o.ID, models.OrderStatusAssigned, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, a.Cancel(ctx, o.ID))
	assert.False(t, a.Cancel(ctx, o.ID))

	time.Sleep(100 * time.Millisecond)
	cur, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cur.Status)

	timers, err := st.ListTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func TestAutomatonSkipsOrderThatMovedOn(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rec := &recorder{}
	a := newAutomaton(st, rec, 20*time.Millisecond, 20*time.Millisecond)
	a.Start(ctx)
	defer a.Stop()

	o, rb := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))
	// Cancelled behind the automaton's back; the timer must not resurrect it.
	_, err := st.AdvanceOrder(ctx, o.ID, models.OrderStatusAssigned, models.OrderStatusCancelled)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !a.Pending(o.ID) }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	cur, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cur.Status)
	robot, err := st.GetRobot(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RobotStatusAssigned, robot.Status)
	assert.Empty(t, rec.targets())
}

func TestAutomatonScheduleReplacesPendingTimer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := newAutomaton(st, nil, time.Hour, 20*time.Millisecond)
	a.Start(ctx)
	defer a.Stop()

	o, _ := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))

	// A manual EN_ROUTE swaps the hour-long timer for the delivery timer.
	en, err := st.AdvanceOrder(ctx, o.ID, models.OrderStatusAssigned, models.OrderStatusEnRoute)
	require.NoError(t, err)
	require.True(t, a.Schedule(ctx, *en))

	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusDelivered
	}, time.Second, 5*time.Millisecond)
}

func TestAutomatonIgnoresInactiveStatuses(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := newAutomaton(st, nil, time.Millisecond, time.Millisecond)

	o := models.Order{ID: 7, Status: models.OrderStatusAssigned}
	assert.False(t, a.Schedule(ctx, o), "stopped automaton arms nothing")

	a.Start(ctx)
	a.Start(ctx)
	defer a.Stop()
	for _, s := range []models.OrderStatus{models.OrderStatusReady, models.OrderStatusDelivered, models.OrderStatusCancelled} {
		o.Status = s
		assert.False(t, a.Schedule(ctx, o), "status %s", s)
	}
}

func TestAutomatonReconcileCoversUntimedOrders(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	o, _ := assignedOrder(t, st)

	a := newAutomaton(st, nil, time.Hour, time.Hour)
	a.Start(ctx)
	defer a.Stop()

	assert.True(t, a.Pending(o.ID), "start-up reconciliation arms active orders")
	assert.Equal(t, 0, a.Reconcile(ctx), "already covered orders are skipped")

	timers, err := st.ListTimers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, models.OrderStatusEnRoute, timers[0].TargetStatus)
}

func TestAutomatonRestoresPersistedTimers(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	o, _ := assignedOrder(t, st)
	require.NoError(t, st.SaveTimer(ctx, models.OrderTimer{
		ID:           "t-1",
		OrderID:      o.ID,
		FromStatus:   models.OrderStatusAssigned,
		TargetStatus: models.OrderStatusEnRoute,
		FireAt:       time.Now().Add(-time.Second),
	}))

	a := newAutomaton(st, nil, time.Hour, time.Hour)
	a.Start(ctx)
	defer a.Stop()

	// An overdue timer fires right away instead of waiting a full delay.
	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusEnRoute
	}, time.Second, 5*time.Millisecond)
	assert.True(t, a.Pending(o.ID), "delivery timer armed after the restored one fired")
}

func TestAutomatonStopKeepsPersistedTimers(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := newAutomaton(st, nil, time.Hour, time.Hour)
	a.Start(ctx)

	o, _ := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))
	a.Stop()
	a.Stop()

	assert.False(t, a.Running())
	assert.False(t, a.Pending(o.ID))
	timers, err := st.ListTimers(ctx)
	require.NoError(t, err)
	assert.Len(t, timers, 1)
}

// cancelAfterDispatch cancels the order and frees its robot right after the
// automaton's ASSIGNED to EN_ROUTE write, the way the status hook would.
type cancelAfterDispatch struct {
	*memory.Store
	once sync.Once
}

func (c *cancelAfterDispatch) AdvanceOrder(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	out, err := c.Store.AdvanceOrder(ctx, id, from, to)
	if err != nil || to != models.OrderStatusEnRoute {
		return out, err
	}
	c.once.Do(func() {
		cur, _ := c.Store.AdvanceOrder(ctx, id, models.OrderStatusEnRoute, models.OrderStatusCancelled)
		if cur != nil && cur.RobotID != nil {
			_, _ = c.Store.ReleaseRobot(ctx, *cur.RobotID, nil)
			_, _ = c.Store.UpdateOrder(ctx, id, repository.OrderPatch{ClearRobot: true})
		}
	})
	return out, nil
}

func TestAutomatonDoesNotStrandRobotCancelledMidAdvance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	racy := &cancelAfterDispatch{Store: st}
	a := NewAutomaton(racy, Options{
		AssignedToEnRoute:  10 * time.Millisecond,
		EnRouteToDelivered: 10 * time.Millisecond,
		ReconcileInterval:  time.Hour,
		Timers:             st,
	})
	a.Start(ctx)
	defer a.Stop()

	o, rb := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))

	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusCancelled && !a.Pending(o.ID)
	}, time.Second, 5*time.Millisecond)
	// Stop waits for the in-flight transition, so the robot state below is final.
	a.Stop()

	robot, err := st.GetRobot(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RobotStatusIdle, robot.Status)
	cur, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cur.Status)
	assert.Nil(t, cur.RobotID)
}

type failingRelease struct {
	*memory.Store
}

func (failingRelease) ReleaseRobot(context.Context, int64, *models.Location) (bool, error) {
	return false, errors.New("robots table locked")
}

func TestAutomatonKeepsBindingWhenReleaseFails(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := NewAutomaton(failingRelease{Store: st}, Options{
		AssignedToEnRoute:  5 * time.Millisecond,
		EnRouteToDelivered: 5 * time.Millisecond,
		ReconcileInterval:  time.Hour,
		Timers:             st,
	})
	a.Start(ctx)
	defer a.Stop()

	o, rb := assignedOrder(t, st)
	require.True(t, a.Schedule(ctx, *o))

	require.Eventually(t, func() bool {
		cur, err := st.GetOrder(ctx, o.ID)
		return err == nil && cur.Status == models.OrderStatusDelivered && !a.Pending(o.ID)
	}, time.Second, 5*time.Millisecond)
	a.Stop()

	cur, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, cur.RobotID, "order must keep pointing at the robot it could not free")
	assert.Equal(t, rb.ID, *cur.RobotID)
	robot, err := st.GetRobot(ctx, rb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RobotStatusEnRoute, robot.Status)
}
