package models

import "time"

// OrderTimer is a durable record of a pending automatic order transition.
// At most one exists per order.
type OrderTimer struct {
	ID           string      `db:"id" json:"id"`
	OrderID      int64       `db:"order_id" json:"orderId"`
	FromStatus   OrderStatus `db:"from_status" json:"fromStatus"`
	TargetStatus OrderStatus `db:"target_status" json:"targetStatus"`
	FireAt       time.Time   `db:"fire_at" json:"fireAt"`
}
