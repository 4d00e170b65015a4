package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/models"
)

// SQLStore is the SQLite-backed Entity Store used by the dispatch core.
// It wraps the per-table repositories and owns the cross-table assignment transaction.
type SQLStore struct {
	db     *sql.DB
	Orders *OrderRepository
	Robots *RobotRepository
	Timers *TimerRepository
}

// NewSQLStore builds the store and its repositories over d.
func NewSQLStore(d *sql.DB) *SQLStore {
	return &SQLStore{
		db:     d,
		Orders: NewOrderRepository(d),
		Robots: NewRobotRepository(d),
		Timers: NewTimerRepository(d),
	}
}

var (
	_ DispatchStore = (*SQLStore)(nil)
	_ TimerStore    = (*SQLStore)(nil)
)

func (s *SQLStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.Orders.GetByID(ctx, id)
}

func (s *SQLStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	return s.Orders.List(ctx, f)
}

func (s *SQLStore) UpdateOrder(ctx context.Context, id int64, p OrderPatch) (*models.Order, error) {
	return s.Orders.Update(ctx, id, p)
}

func (s *SQLStore) AdvanceOrder(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	return s.Orders.Advance(ctx, id, from, to)
}

func (s *SQLStore) GetRobot(ctx context.Context, id int64) (*models.Robot, error) {
	return s.Robots.GetByID(ctx, id)
}

func (s *SQLStore) ListRobots(ctx context.Context) ([]models.Robot, error) {
	return s.Robots.List(ctx)
}

func (s *SQLStore) ListAvailableRobots(ctx context.Context) ([]models.Robot, error) {
	return s.Robots.ListAvailable(ctx)
}

func (s *SQLStore) UpdateRobot(ctx context.Context, id int64, p RobotPatch) (*models.Robot, error) {
	return s.Robots.Update(ctx, id, p)
}

func (s *SQLStore) ReleaseRobot(ctx context.Context, id int64, loc *models.Location) (bool, error) {
	return s.Robots.Release(ctx, id, loc)
}

func (s *SQLStore) SaveTimer(ctx context.Context, t models.OrderTimer) error {
	return s.Timers.Save(ctx, t)
}

func (s *SQLStore) DeleteTimer(ctx context.Context, orderID int64) error {
	return s.Timers.Delete(ctx, orderID)
}

func (s *SQLStore) ListTimers(ctx context.Context) ([]models.OrderTimer, error) {
	return s.Timers.List(ctx)
}

func (s *SQLStore) MarkRobotEnRoute(ctx context.Context, orderID, robotID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE robots SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
  AND EXISTS (SELECT 1 FROM orders WHERE orders.id = ? AND orders.robot_id = robots.id AND orders.status = ?)`,
		string(models.RobotStatusEnRoute), db.FormatTime(now()), robotID, string(models.RobotStatusAssigned),
		orderID, string(models.OrderStatusEnRoute))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Robots.GetByID(ctx, robotID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AssignRobot claims the robot with a conditional update on its status and
// binds it to the order in the same transaction. Either both rows change or neither.
func (s *SQLStore) AssignRobot(ctx context.Context, orderID, robotID int64) error {
	ts := db.FormatTime(now())
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE robots SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND battery_percent > ?`,
			string(models.RobotStatusAssigned), ts, robotID, string(models.RobotStatusIdle), models.LowBatteryThreshold)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := existsTx(ctx, tx, "robots", robotID); err != nil {
				return err
			}
			return fmt.Errorf("robot %d: %w", robotID, ErrRobotUnavailable)
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE orders SET robot_id = ?, status = ?, updated_at = ? WHERE id = ? AND status = ? AND robot_id IS NULL`,
			robotID, string(models.OrderStatusAssigned), ts, orderID, string(models.OrderStatusReady))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := existsTx(ctx, tx, "orders", orderID); err != nil {
				return err
			}
			return fmt.Errorf("order %d: %w", orderID, ErrOrderNotAssignable)
		}
		return nil
	})
}

// existsTx returns ErrNotFound when the row is missing.
func existsTx(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return err
}
