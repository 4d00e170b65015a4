package models

import "time"

// OrderStatus represents the current progress of an order.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusAssigned  OrderStatus = "ASSIGNED"
	OrderStatusEnRoute   OrderStatus = "EN_ROUTE"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPreparing, OrderStatusReady, OrderStatusAssigned,
		OrderStatusEnRoute, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Active reports whether an order in this status holds a robot.
func (s OrderStatus) Active() bool {
	return s == OrderStatusAssigned || s == OrderStatusEnRoute
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderItem is a single line of an order.
type OrderItem struct {
	Name     string  `json:"name" validate:"required"`
	Quantity int     `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gte=0"`
}

// Order represents a food order placed by a user at a vendor (restaurant).
// RobotID is set only while the order is ASSIGNED or EN_ROUTE.
type Order struct {
	ID               int64       `db:"id" json:"id"`
	UserID           int64       `db:"user_id" json:"userId" validate:"gt=0"`
	VendorID         int64       `db:"vendor_id" json:"vendorId" validate:"gt=0"`
	RobotID          *int64      `db:"robot_id" json:"robotId"`
	Items            []OrderItem `db:"items" json:"items" validate:"required,min=1,dive"`
	Total            float64     `db:"total" json:"total"`
	DeliveryLocation string      `db:"delivery_location" json:"deliveryLocation" validate:"required"`
	// Delivery coordinates are nullable in DB; pointers distinguish null vs zero.
	DeliveryLat *float64    `db:"delivery_lat" json:"deliveryLocationLat,omitempty" validate:"omitempty,latitude"`
	DeliveryLng *float64    `db:"delivery_lng" json:"deliveryLocationLng,omitempty" validate:"omitempty,longitude"`
	Status      OrderStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

// HasCoordinates reports whether both delivery coordinates are present.
func (o *Order) HasCoordinates() bool {
	return o != nil && o.DeliveryLat != nil && o.DeliveryLng != nil
}

// DeliveryPoint returns the drop-off location, or nil when coordinates are missing.
func (o *Order) DeliveryPoint() *Location {
	if !o.HasCoordinates() {
		return nil
	}
	return &Location{Lat: *o.DeliveryLat, Lng: *o.DeliveryLng}
}

// ComputeTotal returns the sum of item subtotals.
func ComputeTotal(items []OrderItem) float64 {
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * it.Price
	}
	return total
}
