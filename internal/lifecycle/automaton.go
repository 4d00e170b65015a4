package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// Source tags events emitted by the automaton.
const Source = "automation"

// FleetRefresher mirrors robot state changes into the telemetry fleet.
type FleetRefresher interface {
	Refresh(ctx context.Context)
}

// Options configures an Automaton. Zero durations fall back to the defaults.
type Options struct {
	AssignedToEnRoute  time.Duration
	EnRouteToDelivered time.Duration
	ReconcileInterval  time.Duration
	// Timers persists pending transitions so they survive a restart; may be nil.
	Timers    repository.TimerStore
	Publisher events.Publisher
	Fleet     FleetRefresher
	Logger    logrus.FieldLogger
}

const (
	DefaultAssignedToEnRoute  = 30 * time.Second
	DefaultEnRouteToDelivered = 60 * time.Second
	DefaultReconcileInterval  = 30 * time.Second
)

type pendingTimer struct {
	id      string
	orderID int64
	from    models.OrderStatus
	to      models.OrderStatus
	fireAt  time.Time
	timer   *time.Timer
}

// Automaton advances ASSIGNED orders to EN_ROUTE and EN_ROUTE orders to
// DELIVERED after fixed delays. At most one timer is pending per order; the
// persisted timer rows mirror the in-memory registry and both change under mu.
type Automaton struct {
	store DispatchStore
	opts  Options
	log   logrus.FieldLogger

	mu      sync.Mutex
	pending map[int64]*pendingTimer
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	timerWG sync.WaitGroup
	loopWG  sync.WaitGroup
}

// DispatchStore is the subset of the Entity Store the automaton writes through.
type DispatchStore interface {
	repository.OrderStore
	repository.RobotStore
}

// NewAutomaton creates a stopped automaton.
func NewAutomaton(store DispatchStore, opts Options) *Automaton {
	if opts.AssignedToEnRoute <= 0 {
		opts.AssignedToEnRoute = DefaultAssignedToEnRoute
	}
	if opts.EnRouteToDelivered <= 0 {
		opts.EnRouteToDelivered = DefaultEnRouteToDelivered
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetAppLogger()
	}
	return &Automaton{
		store:   store,
		opts:    opts,
		log:     log.WithField("component", "lifecycle"),
		pending: map[int64]*pendingTimer{},
	}
}

// Start re-arms persisted timers, schedules any active order left without
// one and starts the reconciliation loop. Calling Start twice is a no-op.
func (a *Automaton) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	runCtx := a.ctx
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"assigned_to_en_route":  a.opts.AssignedToEnRoute.String(),
		"en_route_to_delivered": a.opts.EnRouteToDelivered.String(),
		"reconcile_interval":    a.opts.ReconcileInterval.String(),
	}).Info("order automation started")

	a.restore(runCtx)

	a.loopWG.Add(1)
	go a.reconcileLoop(runCtx)
}

// Stop cancels every pending timer and waits for in-flight transitions.
// Persisted timers are kept so the next Start resumes them.
func (a *Automaton) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.cancel()
	for id, pt := range a.pending {
		if pt.timer.Stop() {
			a.timerWG.Done()
		}
		delete(a.pending, id)
	}
	a.mu.Unlock()

	a.loopWG.Wait()
	a.timerWG.Wait()
	a.log.Info("order automation stopped")
}

// Running reports whether the automaton has been started.
func (a *Automaton) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Schedule arms the next transition for an ASSIGNED or EN_ROUTE order,
// replacing any timer already pending for it. It reports whether a timer was
// armed; other statuses and a stopped automaton arm nothing.
func (a *Automaton) Schedule(ctx context.Context, order models.Order) bool {
	return a.schedule(ctx, order, true)
}

func (a *Automaton) schedule(ctx context.Context, order models.Order, replace bool) bool {
	to, ok := Next(order.Status)
	if !ok {
		return false
	}
	delay := a.opts.AssignedToEnRoute
	if order.Status == models.OrderStatusEnRoute {
		delay = a.opts.EnRouteToDelivered
	}
	return a.arm(ctx, "", order.ID, order.Status, to, time.Now().Add(delay), replace)
}

// Cancel drops the pending timer of an order, if any, and its persisted row.
func (a *Automaton) Cancel(ctx context.Context, orderID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pt, ok := a.pending[orderID]
	if ok {
		if pt.timer.Stop() {
			a.timerWG.Done()
		}
		delete(a.pending, orderID)
	}
	a.deletePersisted(ctx, orderID)
	if ok {
		a.log.WithFields(logrus.Fields{"order_id": orderID, "target": pt.to}).Debug("order timer cancelled")
	}
	return ok
}

// Pending reports whether a timer is armed for the order.
func (a *Automaton) Pending(orderID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[orderID]
	return ok
}

// arm registers a timer; an empty id gets a fresh one. Without replace an
// order that already has a pending timer keeps it.
func (a *Automaton) arm(ctx context.Context, id string, orderID int64, from, to models.OrderStatus, fireAt time.Time, replace bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	if old, ok := a.pending[orderID]; ok {
		if !replace {
			return false
		}
		if old.timer.Stop() {
			a.timerWG.Done()
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	pt := &pendingTimer{id: id, orderID: orderID, from: from, to: to, fireAt: fireAt}
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	a.timerWG.Add(1)
	pt.timer = time.AfterFunc(delay, func() { a.fire(pt) })
	a.pending[orderID] = pt

	if a.opts.Timers != nil {
		err := a.opts.Timers.SaveTimer(ctx, models.OrderTimer{
			ID:           id,
			OrderID:      orderID,
			FromStatus:   from,
			TargetStatus: to,
			FireAt:       fireAt.UTC(),
		})
		if err != nil {
			a.log.WithError(err).WithField("order_id", orderID).Warn("persist order timer failed")
		}
	}
	a.log.WithFields(logrus.Fields{
		"timer_id": id,
		"order_id": orderID,
		"from":     from,
		"target":   to,
		"fire_at":  fireAt.UTC().Format(time.RFC3339),
	}).Debug("order timer armed")
	return true
}

// deletePersisted must be called with mu held.
func (a *Automaton) deletePersisted(ctx context.Context, orderID int64) {
	if a.opts.Timers == nil {
		return
	}
	if err := a.opts.Timers.DeleteTimer(ctx, orderID); err != nil {
		a.log.WithError(err).WithField("order_id", orderID).Warn("delete order timer failed")
	}
}

func (a *Automaton) fire(pt *pendingTimer) {
	defer a.timerWG.Done()

	a.mu.Lock()
	if cur, ok := a.pending[pt.orderID]; !ok || cur != pt || !a.running {
		a.mu.Unlock()
		return
	}
	delete(a.pending, pt.orderID)
	ctx := a.ctx
	a.deletePersisted(ctx, pt.orderID)
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			a.log.WithFields(logrus.Fields{"order_id": pt.orderID, "panic": r}).Error("order transition panicked")
		}
	}()

	if err := a.advance(ctx, pt); err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"order_id": pt.orderID,
			"target":   pt.to,
		}).Error("automatic order transition failed")
	}
}

// advance applies one timed transition. An order that moved on in the
// meantime is left alone.
func (a *Automaton) advance(ctx context.Context, pt *pendingTimer) error {
	order, err := a.store.GetOrder(ctx, pt.orderID)
	if err != nil {
		return err
	}
	if order.Status != pt.from || !CanTransition(pt.from, pt.to) {
		a.log.WithFields(logrus.Fields{
			"order_id": pt.orderID,
			"status":   order.Status,
			"expected": pt.from,
		}).Debug("order moved on before its timer fired")
		return nil
	}
	updated, err := a.store.AdvanceOrder(ctx, pt.orderID, pt.from, pt.to)
	if errors.Is(err, repository.ErrStatusMismatch) {
		return nil
	}
	if err != nil {
		return err
	}

	robotChanged := false
	switch pt.to {
	case models.OrderStatusEnRoute:
		if order.RobotID != nil {
			// Conditional: a cancel that already freed the robot wins.
			changed, err := a.store.MarkRobotEnRoute(ctx, pt.orderID, *order.RobotID)
			if err != nil {
				a.log.WithError(err).WithField("robot_id", *order.RobotID).Warn("mark robot en route failed")
			}
			robotChanged = changed
		}
		a.Schedule(ctx, *updated)
	case models.OrderStatusDelivered:
		if order.RobotID != nil {
			changed, err := a.store.ReleaseRobot(ctx, *order.RobotID, order.DeliveryPoint())
			if err != nil {
				// Keep the binding so the stuck robot stays traceable to its order.
				return fmt.Errorf("release robot %d: %w", *order.RobotID, err)
			}
			robotChanged = changed
			if _, err := a.store.UpdateOrder(ctx, pt.orderID, repository.OrderPatch{ClearRobot: true}); err != nil {
				return err
			}
		}
	}

	a.log.WithFields(logrus.Fields{
		"order_id": pt.orderID,
		"from":     pt.from,
		"to":       pt.to,
	}).Info("order advanced automatically")

	if err := a.opts.Publisher.Publish(ctx, events.TopicOrderStatusChanged, events.OrderStatusChanged{
		OrderID: pt.orderID,
		From:    pt.from,
		To:      pt.to,
		RobotID: order.RobotID,
		Source:  Source,
		At:      time.Now().UTC(),
	}); err != nil {
		a.log.WithError(err).Warn("publish status change failed")
	}
	if robotChanged && a.opts.Fleet != nil {
		a.opts.Fleet.Refresh(ctx)
	}
	return nil
}
