package repository

import (
	"context"
	"errors"
	"time"

	"campusRobotDelivery/models"
)

var (
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRobotUnavailable is returned when a robot is no longer IDLE with enough battery.
	ErrRobotUnavailable = errors.New("robot is not available")
	// ErrOrderNotAssignable is returned when an order is no longer READY and unbound.
	ErrOrderNotAssignable = errors.New("order is not assignable")
	// ErrStatusMismatch is returned by conditional transitions when the order moved on.
	ErrStatusMismatch = errors.New("order status does not match")
)

// OrderFilter selects orders. Nil fields do not filter.
type OrderFilter struct {
	Statuses       []models.OrderStatus
	RobotIDIsNull  *bool
	HasCoordinates *bool
	UserID         *int64
	VendorID       *int64
}

// OrderPatch is a partial order update. Nil fields are left unchanged.
type OrderPatch struct {
	Status           *models.OrderStatus
	RobotID          *int64
	ClearRobot       bool
	DeliveryLocation *string
	DeliveryLat      *float64
	DeliveryLng      *float64
}

// RobotPatch is a partial robot update. Nil fields are left unchanged.
type RobotPatch struct {
	Status         *models.RobotStatus
	BatteryPercent *int
	Location       *models.Location
}

// OrderStore defines operations on Order entities used by the dispatch core.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, id int64, p OrderPatch) (*models.Order, error)
	// AdvanceOrder moves an order from one status to another only if it is
	// still in from, failing with ErrStatusMismatch otherwise. The robot
	// binding is untouched; releasing it is the caller's follow-up write.
	AdvanceOrder(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error)
}

// RobotStore defines operations on Robot entities used by the dispatch core.
type RobotStore interface {
	GetRobot(ctx context.Context, id int64) (*models.Robot, error)
	ListRobots(ctx context.Context) ([]models.Robot, error)
	// ListAvailableRobots returns IDLE robots with battery above the threshold, battery desc.
	ListAvailableRobots(ctx context.Context) ([]models.Robot, error)
	UpdateRobot(ctx context.Context, id int64, p RobotPatch) (*models.Robot, error)
	// ReleaseRobot sets an ASSIGNED or EN_ROUTE robot IDLE, moving it to loc
	// when non-nil. Robots in any other status are left alone. It reports
	// whether anything changed.
	ReleaseRobot(ctx context.Context, id int64, loc *models.Location) (bool, error)
	// MarkRobotEnRoute moves robotID from ASSIGNED to EN_ROUTE only while
	// orderID is EN_ROUTE and still bound to it. It reports false without
	// writing when either side moved on.
	MarkRobotEnRoute(ctx context.Context, orderID, robotID int64) (bool, error)
}

// DispatchStore is the Entity Store contract consumed by the dispatch core.
type DispatchStore interface {
	OrderStore
	RobotStore
	// AssignRobot binds robotID to orderID atomically. It fails with
	// ErrRobotUnavailable or ErrOrderNotAssignable without writing anything
	// when either side lost a race.
	AssignRobot(ctx context.Context, orderID, robotID int64) error
}

// TimerStore persists pending lifecycle transitions.
type TimerStore interface {
	SaveTimer(ctx context.Context, t models.OrderTimer) error
	DeleteTimer(ctx context.Context, orderID int64) error
	ListTimers(ctx context.Context) ([]models.OrderTimer, error)
}

func now() time.Time { return time.Now().UTC() }
