package models

import "time"

// Restaurant is a campus vendor that orders are placed at.
type Restaurant struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name" validate:"required"`
	Location  string    `db:"location" json:"location"`
	Lat       *float64  `db:"lat" json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng       *float64  `db:"lng" json:"lng,omitempty" validate:"omitempty,longitude"`
	OwnerID   *int64    `db:"owner_id" json:"ownerId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// MenuItem is something a restaurant sells.
type MenuItem struct {
	ID           int64     `db:"id" json:"id"`
	RestaurantID int64     `db:"restaurant_id" json:"restaurantId" validate:"gt=0"`
	Name         string    `db:"name" json:"name" validate:"required"`
	Description  string    `db:"description" json:"description"`
	Price        float64   `db:"price" json:"price" validate:"gte=0"`
	Available    bool      `db:"available" json:"available"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
