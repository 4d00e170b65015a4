package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// Start runs a dispatch pass immediately and then every poll interval until
// Stop or ctx cancellation. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
	d.log.WithField("interval", d.interval.String()).Info("robot assignment polling started")
}

// Stop halts the loop and waits for the pass in progress to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.log.Info("robot assignment polling stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	d.tick(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("dispatch pass panicked")
		}
	}()
	if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
		d.log.WithError(err).Error("dispatch pass failed")
	}
}

// RunOnce assigns robots to every READY, unassigned order with delivery
// coordinates, oldest first. A failure on one order does not stop the pass.
// It returns the number of orders assigned.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	unassigned, withCoords := true, true
	orders, err := d.store.ListOrders(ctx, repository.OrderFilter{
		Statuses:       []models.OrderStatus{models.OrderStatusReady},
		RobotIDIsNull:  &unassigned,
		HasCoordinates: &withCoords,
	})
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		robot, err := d.TryAssign(ctx, o, SourcePoller)
		if err != nil {
			d.log.WithError(err).WithField("order_id", o.ID).Error("assign robot failed")
			continue
		}
		if robot != nil {
			assigned++
		}
	}
	if assigned > 0 {
		d.log.WithFields(logrus.Fields{"assigned": assigned, "ready": len(orders)}).Info("dispatch pass assigned robots")
		d.refreshFleet(ctx)
	}
	return assigned, nil
}
