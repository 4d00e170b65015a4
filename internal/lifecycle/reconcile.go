package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

func activeStatuses() []models.OrderStatus {
	return []models.OrderStatus{models.OrderStatusAssigned, models.OrderStatusEnRoute}
}

// restore re-arms persisted timers at their original fire time, then
// schedules whatever active order is still uncovered.
func (a *Automaton) restore(ctx context.Context) {
	if a.opts.Timers != nil {
		timers, err := a.opts.Timers.ListTimers(ctx)
		if err != nil {
			a.log.WithError(err).Error("load persisted order timers failed")
		}
		for _, t := range timers {
			a.arm(ctx, t.ID, t.OrderID, t.FromStatus, t.TargetStatus, t.FireAt, true)
		}
		if len(timers) > 0 {
			a.log.WithField("count", len(timers)).Info("restored order timers")
		}
	}
	a.Reconcile(ctx)
}

func (a *Automaton) reconcileLoop(ctx context.Context) {
	defer a.loopWG.Done()
	ticker := time.NewTicker(a.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Reconcile(ctx)
		}
	}
}

// Reconcile arms a timer for every ASSIGNED or EN_ROUTE order that has none.
// It returns the number of timers armed. Failures are logged, never raised.
func (a *Automaton) Reconcile(ctx context.Context) (armed int) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("order reconciliation panicked")
		}
	}()

	orders, err := a.store.ListOrders(ctx, repository.OrderFilter{Statuses: activeStatuses()})
	if err != nil {
		a.log.WithError(err).Error("list active orders failed")
		return 0
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		if a.schedule(ctx, o, false) {
			armed++
		}
	}
	if armed > 0 {
		a.log.WithFields(logrus.Fields{"armed": armed, "active": len(orders)}).Info("reconciled order timers")
	}
	return armed
}
