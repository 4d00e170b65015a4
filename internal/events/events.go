// Package events carries dispatch and telemetry notifications between
// components, and optionally out of the process to Kafka.
package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"campusRobotDelivery/models"
)

const (
	TopicOrderAssigned      = "dispatch.order_assigned"
	TopicOrderStatusChanged = "dispatch.order_status_changed"
	TopicFleetUpdated       = "telemetry.fleet_updated"
	TopicFleetTick          = "telemetry.fleet_tick"
)

// Publisher publishes a JSON-encodable payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Keyed payloads provide a partition key for brokers that use one.
type Keyed interface {
	EventKey() string
}

// OrderAssigned is emitted after a robot is bound to an order.
type OrderAssigned struct {
	OrderID int64     `json:"orderId"`
	RobotID int64     `json:"robotId"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

func (e OrderAssigned) EventKey() string { return strconv.FormatInt(e.OrderID, 10) }

// OrderStatusChanged is emitted for every status change the core makes or observes.
type OrderStatusChanged struct {
	OrderID int64              `json:"orderId"`
	From    models.OrderStatus `json:"from,omitempty"`
	To      models.OrderStatus `json:"to"`
	RobotID *int64             `json:"robotId,omitempty"`
	Source  string             `json:"source"`
	At      time.Time          `json:"at"`
}

func (e OrderStatusChanged) EventKey() string { return strconv.FormatInt(e.OrderID, 10) }

// Multi fans a publish out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
