package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// OnOrderStatusChanged reacts to a status the Entity Store has already
// persisted. READY triggers an immediate assignment attempt, EN_ROUTE moves
// the robot and arms the delivery timer, DELIVERED and CANCELLED cancel any
// timer and free the robot. A missing order is reported as an error.
func (d *Dispatcher) OnOrderStatusChanged(ctx context.Context, orderID int64, status models.OrderStatus) error {
	order, err := d.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	log := d.log.WithFields(logrus.Fields{"order_id": orderID, "status": status})

	switch status {
	case models.OrderStatusReady:
		if order.RobotID != nil || !order.HasCoordinates() {
			log.Debug("order ready but not eligible for assignment")
			return nil
		}
		robot, err := d.TryAssign(ctx, *order, SourceHook)
		if err != nil {
			return err
		}
		if robot != nil {
			d.refreshFleet(ctx)
		}

	case models.OrderStatusEnRoute:
		if order.RobotID != nil {
			changed, err := d.store.MarkRobotEnRoute(ctx, orderID, *order.RobotID)
			if err != nil {
				return err
			}
			if changed {
				d.refreshFleet(ctx)
			}
		}
		if d.scheduler != nil && order.Status == models.OrderStatusEnRoute {
			d.scheduler.Schedule(ctx, *order)
		}

	case models.OrderStatusDelivered, models.OrderStatusCancelled:
		if d.scheduler != nil {
			d.scheduler.Cancel(ctx, orderID)
		}
		if order.RobotID == nil {
			return nil
		}
		// A delivered robot is parked at the drop-off; a cancelled one stays put.
		var loc *models.Location
		if status == models.OrderStatusDelivered {
			loc = order.DeliveryPoint()
		}
		if err := d.release(ctx, order, loc); err != nil {
			return err
		}
		log.WithField("robot_id", *order.RobotID).Info("robot released")
		d.refreshFleet(ctx)
	}
	return nil
}

// release frees the robot of an order and clears the binding. Releasing an
// already IDLE robot changes nothing.
func (d *Dispatcher) release(ctx context.Context, order *models.Order, loc *models.Location) error {
	if _, err := d.store.ReleaseRobot(ctx, *order.RobotID, loc); err != nil {
		return err
	}
	if _, err := d.store.UpdateOrder(ctx, order.ID, repository.OrderPatch{ClearRobot: true}); err != nil {
		return err
	}
	d.publish(ctx, events.TopicOrderStatusChanged, events.OrderStatusChanged{
		OrderID: order.ID,
		To:      order.Status,
		RobotID: order.RobotID,
		Source:  SourceHook,
		At:      time.Now().UTC(),
	})
	return nil
}
