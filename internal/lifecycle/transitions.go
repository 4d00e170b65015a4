// Package lifecycle drives orders through the robot-delivery half of their
// lifecycle and owns the table of legal status transitions.
package lifecycle

import (
	"errors"
	"fmt"

	"campusRobotDelivery/models"
)

// ErrIllegalTransition is returned when a status change is not in the table.
var ErrIllegalTransition = errors.New("illegal order status transition")

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusCreated:   {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:     {models.OrderStatusAssigned, models.OrderStatusCancelled},
	models.OrderStatusAssigned:  {models.OrderStatusEnRoute, models.OrderStatusCancelled},
	models.OrderStatusEnRoute:   {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
// Statuses only move forward; DELIVERED and CANCELLED are final.
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition wraps ErrIllegalTransition with both statuses.
func ValidateTransition(from, to models.OrderStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown order status %q: %w", to, ErrIllegalTransition)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrIllegalTransition)
	}
	return nil
}

// Next returns the status the automaton advances an active order to.
func Next(s models.OrderStatus) (models.OrderStatus, bool) {
	switch s {
	case models.OrderStatusAssigned:
		return models.OrderStatusEnRoute, true
	case models.OrderStatusEnRoute:
		return models.OrderStatusDelivered, true
	}
	return "", false
}
