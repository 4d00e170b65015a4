package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusRobotDelivery/internal/testutil"
	"campusRobotDelivery/models"
)

func seedStore(t *testing.T, name string) (*SQLStore, *models.Order, *models.Robot) {
	t.Helper()
	s := NewSQLStore(testutil.OpenInMemoryDB(t, name))
	ctx := context.Background()
	rb := testutil.IdleRobot("RB-01", 80, 35.77, -78.67)
	robot, err := s.Robots.Create(ctx, &rb)
	if err != nil {
		t.Fatalf("create robot: %v", err)
	}
	o := testutil.ReadyOrder(35.78, -78.68)
	order, err := s.Orders.Create(ctx, &o)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return s, order, robot
}

func TestAssignRobotBindsBothSides(t *testing.T) {
	s, order, robot := seedStore(t, "storeassign")
	ctx := context.Background()

	if err := s.AssignRobot(ctx, order.ID, robot.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	o, _ := s.GetOrder(ctx, order.ID)
	if o.Status != models.OrderStatusAssigned || o.RobotID == nil || *o.RobotID != robot.ID {
		t.Fatalf("order after assign = %+v", o)
	}
	r, _ := s.GetRobot(ctx, robot.ID)
	if r.Status != models.RobotStatusAssigned {
		t.Fatalf("robot after assign = %+v", r)
	}

	// The robot is taken: a second order must fail without being touched.
	o2 := testutil.ReadyOrder(35.78, -78.68)
	second, err := s.Orders.Create(ctx, &o2)
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	if err := s.AssignRobot(ctx, second.ID, robot.ID); !errors.Is(err, ErrRobotUnavailable) {
		t.Fatalf("assign taken robot err = %v", err)
	}
	after, _ := s.GetOrder(ctx, second.ID)
	if after.Status != models.OrderStatusReady || after.RobotID != nil {
		t.Fatalf("second order modified: %+v", after)
	}
}

func TestAssignRobotRollsBackWhenOrderNotAssignable(t *testing.T) {
	s, order, robot := seedStore(t, "storerollback")
	ctx := context.Background()

	if _, err := s.AdvanceOrder(ctx, order.ID, models.OrderStatusReady, models.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.AssignRobot(ctx, order.ID, robot.ID); !errors.Is(err, ErrOrderNotAssignable) {
		t.Fatalf("assign cancelled order err = %v", err)
	}
	r, _ := s.GetRobot(ctx, robot.ID)
	if r.Status != models.RobotStatusIdle {
		t.Fatalf("robot claim not rolled back: %+v", r)
	}

	if err := s.AssignRobot(ctx, 404, robot.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assign missing order err = %v", err)
	}
	if err := s.AssignRobot(ctx, order.ID, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assign missing robot err = %v", err)
	}
}

func TestAssignRobotRejectsLowBattery(t *testing.T) {
	s, order, robot := seedStore(t, "storelowbattery")
	ctx := context.Background()
	low := 20
	if _, err := s.UpdateRobot(ctx, robot.ID, RobotPatch{BatteryPercent: &low}); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := s.AssignRobot(ctx, order.ID, robot.ID); !errors.Is(err, ErrRobotUnavailable) {
		t.Fatalf("assign low battery err = %v", err)
	}
}

func TestTimerStore(t *testing.T) {
	s, order, _ := seedStore(t, "storetimers")
	ctx := context.Background()

	fire := time.Now().Add(30 * time.Second).UTC().Truncate(time.Millisecond)
	tm := models.OrderTimer{ID: "a", OrderID: order.ID, FromStatus: models.OrderStatusAssigned, TargetStatus: models.OrderStatusEnRoute, FireAt: fire}
	if err := s.SaveTimer(ctx, tm); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again replaces the row for the order.
	tm.ID, tm.FromStatus, tm.TargetStatus = "b", models.OrderStatusEnRoute, models.OrderStatusDelivered
	if err := s.SaveTimer(ctx, tm); err != nil {
		t.Fatalf("replace: %v", err)
	}
	timers, err := s.ListTimers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(timers) != 1 || timers[0].ID != "b" || timers[0].TargetStatus != models.OrderStatusDelivered || !timers[0].FireAt.Equal(fire) {
		t.Fatalf("timers = %+v", timers)
	}

	if err := s.DeleteTimer(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTimer(ctx, order.ID); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	timers, _ = s.ListTimers(ctx)
	if len(timers) != 0 {
		t.Fatalf("timers after delete = %+v", timers)
	}

	if err := s.SaveTimer(ctx, models.OrderTimer{ID: "x", OrderID: 404, FromStatus: models.OrderStatusAssigned, TargetStatus: models.OrderStatusEnRoute, FireAt: fire}); err == nil {
		t.Fatalf("expected foreign key error for missing order")
	}
}

func TestMarkRobotEnRoute(t *testing.T) {
	s, order, robot := seedStore(t, "storeenroute")
	ctx := context.Background()

	if err := s.AssignRobot(ctx, order.ID, robot.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// The order has not left ASSIGNED yet.
	if ok, err := s.MarkRobotEnRoute(ctx, order.ID, robot.ID); err != nil || ok {
		t.Fatalf("mark before order en route ok=%v err=%v", ok, err)
	}
	if _, err := s.AdvanceOrder(ctx, order.ID, models.OrderStatusAssigned, models.OrderStatusEnRoute); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if ok, err := s.MarkRobotEnRoute(ctx, order.ID, robot.ID); err != nil || !ok {
		t.Fatalf("mark ok=%v err=%v", ok, err)
	}
	r, _ := s.GetRobot(ctx, robot.ID)
	if r.Status != models.RobotStatusEnRoute {
		t.Fatalf("robot after mark = %+v", r)
	}
	// Repeating is a no-op.
	if ok, err := s.MarkRobotEnRoute(ctx, order.ID, robot.ID); err != nil || ok {
		t.Fatalf("second mark ok=%v err=%v", ok, err)
	}

	if _, err := s.MarkRobotEnRoute(ctx, order.ID, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark missing robot err = %v", err)
	}
}

func TestMarkRobotEnRouteAfterCancelLeavesRobotIdle(t *testing.T) {
	s, order, robot := seedStore(t, "storeenroutecancel")
	ctx := context.Background()

	if err := s.AssignRobot(ctx, order.ID, robot.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.AdvanceOrder(ctx, order.ID, models.OrderStatusAssigned, models.OrderStatusEnRoute); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// A cancel lands between the order write and the robot write.
	if _, err := s.AdvanceOrder(ctx, order.ID, models.OrderStatusEnRoute, models.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.ReleaseRobot(ctx, robot.ID, nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.UpdateOrder(ctx, order.ID, OrderPatch{ClearRobot: true}); err != nil {
		t.Fatalf("clear robot: %v", err)
	}

	if ok, err := s.MarkRobotEnRoute(ctx, order.ID, robot.ID); err != nil || ok {
		t.Fatalf("mark after cancel ok=%v err=%v", ok, err)
	}
	r, _ := s.GetRobot(ctx, robot.ID)
	if r.Status != models.RobotStatusIdle {
		t.Fatalf("robot after stale mark = %+v", r)
	}

	// Reassigned to a new order, the robot must not follow the old one.
	o2 := testutil.ReadyOrder(35.78, -78.68)
	second, err := s.Orders.Create(ctx, &o2)
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	if err := s.AssignRobot(ctx, second.ID, robot.ID); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if ok, err := s.MarkRobotEnRoute(ctx, order.ID, robot.ID); err != nil || ok {
		t.Fatalf("mark for old order ok=%v err=%v", ok, err)
	}
	r, _ = s.GetRobot(ctx, robot.ID)
	if r.Status != models.RobotStatusAssigned {
		t.Fatalf("reassigned robot = %+v", r)
	}
}
