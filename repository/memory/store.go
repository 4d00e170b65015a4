// Package memory is a map-backed Entity Store satisfying the same contract
// as the SQLite repositories. It is used in tests and for database-less demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

// Store keeps orders, robots and timers in maps guarded by a single mutex.
// Every method copies values in and out so callers never share memory with the store.
type Store struct {
	mu          sync.Mutex
	orders      map[int64]models.Order
	robots      map[int64]models.Robot
	timers      map[int64]models.OrderTimer
	nextOrderID int64
	nextRobotID int64
	now         func() time.Time
}

var (
	_ repository.DispatchStore = (*Store)(nil)
	_ repository.TimerStore    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		orders: map[int64]models.Order{},
		robots: map[int64]models.Robot{},
		timers: map[int64]models.OrderTimer{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates and stores an order, computing its total.
func (s *Store) CreateOrder(_ context.Context, o models.Order) (*models.Order, error) {
	if o.Status == "" {
		o.Status = models.OrderStatusCreated
	}
	if !o.Status.Valid() {
		return nil, fmt.Errorf("invalid order status %q", o.Status)
	}
	if err := models.Validate(&o); err != nil {
		return nil, err
	}
	o.Total = models.ComputeTotal(o.Items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	o.ID = s.nextOrderID
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt
	o = cloneOrder(o)
	s.orders[o.ID] = o
	out := cloneOrder(o)
	return &out, nil
}

// CreateRobot stores a robot. Status defaults to IDLE.
func (s *Store) CreateRobot(_ context.Context, rb models.Robot) (*models.Robot, error) {
	if rb.Status == "" {
		rb.Status = models.RobotStatusIdle
	}
	if !rb.Status.Valid() {
		return nil, fmt.Errorf("invalid robot status %q", rb.Status)
	}
	if err := models.Validate(&rb); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRobotID++
	rb.ID = s.nextRobotID
	rb.CreatedAt = s.now()
	rb.UpdatedAt = rb.CreatedAt
	s.robots[rb.ID] = rb
	return &rb, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, repository.ErrNotFound)
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, f repository.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if matches(o, f) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matches(o models.Order, f repository.OrderFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if o.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RobotIDIsNull != nil && (o.RobotID == nil) != *f.RobotIDIsNull {
		return false
	}
	if f.HasCoordinates != nil && o.HasCoordinates() != *f.HasCoordinates {
		return false
	}
	if f.UserID != nil && o.UserID != *f.UserID {
		return false
	}
	if f.VendorID != nil && o.VendorID != *f.VendorID {
		return false
	}
	return true
}

func (s *Store) UpdateOrder(_ context.Context, id int64, p repository.OrderPatch) (*models.Order, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("invalid order status %q", *p.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, repository.ErrNotFound)
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	switch {
	case p.ClearRobot:
		o.RobotID = nil
	case p.RobotID != nil:
		v := *p.RobotID
		o.RobotID = &v
	}
	if p.DeliveryLocation != nil {
		o.DeliveryLocation = *p.DeliveryLocation
	}
	if p.DeliveryLat != nil {
		v := *p.DeliveryLat
		o.DeliveryLat = &v
	}
	if p.DeliveryLng != nil {
		v := *p.DeliveryLng
		o.DeliveryLng = &v
	}
	o.UpdatedAt = s.now()
	s.orders[id] = o
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) AdvanceOrder(_ context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("invalid order status %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, repository.ErrNotFound)
	}
	if o.Status != from {
		return nil, fmt.Errorf("order %d is %s, expected %s: %w", id, o.Status, from, repository.ErrStatusMismatch)
	}
	o.Status = to
	o.UpdatedAt = s.now()
	s.orders[id] = o
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) GetRobot(_ context.Context, id int64) (*models.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, repository.ErrNotFound)
	}
	return &rb, nil
}

func (s *Store) ListRobots(_ context.Context) ([]models.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Robot, 0, len(s.robots))
	for _, rb := range s.robots {
		out = append(out, rb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListAvailableRobots(_ context.Context) ([]models.Robot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Robot
	for _, rb := range s.robots {
		if rb.Available() {
			out = append(out, rb)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BatteryPercent != out[j].BatteryPercent {
			return out[i].BatteryPercent > out[j].BatteryPercent
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateRobot(_ context.Context, id int64, p repository.RobotPatch) (*models.Robot, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("invalid robot status %q", *p.Status)
	}
	if p.BatteryPercent != nil && (*p.BatteryPercent < 0 || *p.BatteryPercent > 100) {
		return nil, fmt.Errorf("battery percent %d out of range", *p.BatteryPercent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.robots[id]
	if !ok {
		return nil, fmt.Errorf("robot %d: %w", id, repository.ErrNotFound)
	}
	if p.Status != nil {
		rb.Status = *p.Status
	}
	if p.BatteryPercent != nil {
		rb.BatteryPercent = *p.BatteryPercent
	}
	if p.Location != nil {
		rb.Location = *p.Location
	}
	rb.UpdatedAt = s.now()
	s.robots[id] = rb
	return &rb, nil
}

func (s *Store) ReleaseRobot(_ context.Context, id int64, loc *models.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.robots[id]
	if !ok {
		return false, fmt.Errorf("robot %d: %w", id, repository.ErrNotFound)
	}
	if rb.Status != models.RobotStatusAssigned && rb.Status != models.RobotStatusEnRoute {
		return false, nil
	}
	rb.Status = models.RobotStatusIdle
	if loc != nil {
		rb.Location = *loc
	}
	rb.UpdatedAt = s.now()
	s.robots[id] = rb
	return true, nil
}

func (s *Store) MarkRobotEnRoute(_ context.Context, orderID, robotID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.robots[robotID]
	if !ok {
		return false, fmt.Errorf("robot %d: %w", robotID, repository.ErrNotFound)
	}
	o, ok := s.orders[orderID]
	if !ok || rb.Status != models.RobotStatusAssigned || o.Status != models.OrderStatusEnRoute ||
		o.RobotID == nil || *o.RobotID != robotID {
		return false, nil
	}
	rb.Status = models.RobotStatusEnRoute
	rb.UpdatedAt = s.now()
	s.robots[robotID] = rb
	return true, nil
}

// AssignRobot checks both sides under the lock before writing either.
func (s *Store) AssignRobot(_ context.Context, orderID, robotID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.robots[robotID]
	if !ok {
		return fmt.Errorf("robot %d: %w", robotID, repository.ErrNotFound)
	}
	if !rb.Available() {
		return fmt.Errorf("robot %d: %w", robotID, repository.ErrRobotUnavailable)
	}
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, repository.ErrNotFound)
	}
	if o.Status != models.OrderStatusReady || o.RobotID != nil {
		return fmt.Errorf("order %d: %w", orderID, repository.ErrOrderNotAssignable)
	}
	ts := s.now()
	rb.Status = models.RobotStatusAssigned
	rb.UpdatedAt = ts
	s.robots[robotID] = rb
	id := robotID
	o.RobotID = &id
	o.Status = models.OrderStatusAssigned
	o.UpdatedAt = ts
	s.orders[orderID] = o
	return nil
}

func (s *Store) SaveTimer(_ context.Context, t models.OrderTimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[t.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", t.OrderID, repository.ErrNotFound)
	}
	s.timers[t.OrderID] = t
	return nil
}

func (s *Store) DeleteTimer(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, orderID)
	return nil
}

func (s *Store) ListTimers(_ context.Context) ([]models.OrderTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OrderTimer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func cloneOrder(o models.Order) models.Order {
	if o.RobotID != nil {
		v := *o.RobotID
		o.RobotID = &v
	}
	if o.DeliveryLat != nil {
		v := *o.DeliveryLat
		o.DeliveryLat = &v
	}
	if o.DeliveryLng != nil {
		v := *o.DeliveryLng
		o.DeliveryLng = &v
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}
