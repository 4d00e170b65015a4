package models

import "time"

// RobotStatus represents the operational state of a delivery robot.
type RobotStatus string

const (
	RobotStatusIdle        RobotStatus = "IDLE"
	RobotStatusAssigned    RobotStatus = "ASSIGNED"
	RobotStatusEnRoute     RobotStatus = "EN_ROUTE"
	RobotStatusCharging    RobotStatus = "CHARGING"
	RobotStatusMaintenance RobotStatus = "MAINTENANCE"
	RobotStatusOffline     RobotStatus = "OFFLINE"
)

// LowBatteryThreshold is the battery level (percent) a robot must exceed to be dispatched.
const LowBatteryThreshold = 20

// Valid reports whether s is one of the known robot statuses.
func (s RobotStatus) Valid() bool {
	switch s {
	case RobotStatusIdle, RobotStatusAssigned, RobotStatusEnRoute,
		RobotStatusCharging, RobotStatusMaintenance, RobotStatusOffline:
		return true
	}
	return false
}

// Location is a WGS84 coordinate pair in degrees.
type Location struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// Robot represents a campus delivery robot.
type Robot struct {
	ID             int64       `db:"id" json:"id"`
	RobotID        string      `db:"robot_id" json:"robotId" validate:"required"` // external label, e.g. "RB-07"
	Status         RobotStatus `db:"status" json:"status"`
	BatteryPercent int         `db:"battery_percent" json:"batteryPercent" validate:"gte=0,lte=100"`
	Location       Location    `json:"location"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updatedAt"`
}

// Available reports whether the robot may be dispatched.
func (r *Robot) Available() bool {
	return r != nil && r.Status == RobotStatusIdle && r.BatteryPercent > LowBatteryThreshold
}
