// Package orders applies manual order status changes and hands them to the
// dispatch core once they are persisted.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/lifecycle"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// ErrManualAssignment is returned for a manual READY -> ASSIGNED change;
// only the dispatcher binds robots.
var ErrManualAssignment = errors.New("orders are assigned by the dispatcher")

// StatusHook is notified after a status change has been persisted.
type StatusHook interface {
	OnOrderStatusChanged(ctx context.Context, orderID int64, status models.OrderStatus) error
}

// maxStatusRetries bounds re-reads when a timer moves the order concurrently.
const maxStatusRetries = 3

type Service struct {
	store repository.OrderStore
	hook  StatusHook
	log   logrus.FieldLogger
}

// NewService wires the order store to the status hook; hook may be nil.
func NewService(store repository.OrderStore, hook StatusHook, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logger.GetAppLogger()
	}
	return &Service{store: store, hook: hook, log: log.WithField("component", "orders")}
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (*models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ChangeStatus moves an order to status when the transition table allows it
// and then runs the status hook. If the order moves concurrently (a lifecycle
// timer fired) the change is re-validated against the new status.
// A hook failure is returned, but the new status stays persisted.
func (s *Service) ChangeStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if status == models.OrderStatusAssigned {
		return nil, ErrManualAssignment
	}
	var updated *models.Order
	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := lifecycle.ValidateTransition(cur.Status, status); err != nil {
			return nil, fmt.Errorf("order %d: %w", id, err)
		}
		updated, err = s.store.AdvanceOrder(ctx, id, cur.Status, status)
		if err == nil {
			s.log.WithFields(logrus.Fields{"order_id": id, "from": cur.Status, "to": status}).Info("order status changed")
			break
		}
		if !errors.Is(err, repository.ErrStatusMismatch) || attempt+1 >= maxStatusRetries {
			return nil, err
		}
	}

	if s.hook != nil {
		if err := s.hook.OnOrderStatusChanged(ctx, id, status); err != nil {
			s.log.WithError(err).WithField("order_id", id).Error("status hook failed")
			return updated, fmt.Errorf("status hook: %w", err)
		}
		// The hook may have bound or released a robot.
		if fresh, err := s.store.GetOrder(ctx, id); err == nil {
			updated = fresh
		}
	}
	return updated, nil
}
