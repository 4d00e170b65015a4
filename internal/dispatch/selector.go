// Package dispatch matches READY orders with available robots and reacts to
// order status changes made outside the core.
package dispatch

import (
	"context"
	"math"

	"campusRobotDelivery/internal/geo"
	"campusRobotDelivery/models"
)

// RobotLister lists robots eligible for a new order.
type RobotLister interface {
	ListAvailableRobots(ctx context.Context) ([]models.Robot, error)
}

// Selector picks the closest available robot to a delivery point.
type Selector struct {
	robots RobotLister
}

func NewSelector(robots RobotLister) *Selector {
	return &Selector{robots: robots}
}

// FindNearestAvailable returns nil, nil when no robot is available.
func (s *Selector) FindNearestAvailable(ctx context.Context, lat, lng float64) (*models.Robot, error) {
	robots, err := s.robots.ListAvailableRobots(ctx)
	if err != nil {
		return nil, err
	}
	return Nearest(robots, lat, lng), nil
}

// Nearest returns the robot with the smallest great-circle distance to the
// point. On equal distance the robot listed first wins.
func Nearest(robots []models.Robot, lat, lng float64) *models.Robot {
	var best *models.Robot
	bestDist := math.Inf(1)
	for i := range robots {
		d := geo.HaversineKm(lat, lng, robots[i].Location.Lat, robots[i].Location.Lng)
		if d < bestDist {
			bestDist = d
			rb := robots[i]
			best = &rb
		}
	}
	return best
}
