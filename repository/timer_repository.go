package repository

import (
	"context"
	"database/sql"
	"time"

	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/models"
)

// TimerRepository stores pending lifecycle transitions in order_timers.
type TimerRepository struct {
	db *sql.DB
}

func NewTimerRepository(db *sql.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

// Save inserts or replaces the timer for t.OrderID.
func (r *TimerRepository) Save(ctx context.Context, t models.OrderTimer) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO order_timers (id, order_id, from_status, target_status, fire_at) VALUES (?,?,?,?,?)
ON CONFLICT(order_id) DO UPDATE SET
  id = excluded.id,
  from_status = excluded.from_status,
  target_status = excluded.target_status,
  fire_at = excluded.fire_at`,
		t.ID, t.OrderID, string(t.FromStatus), string(t.TargetStatus), db.FormatTime(t.FireAt))
	return err
}

// Delete removes the timer for the order; a missing row is not an error.
func (r *TimerRepository) Delete(ctx context.Context, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM order_timers WHERE order_id = ?`, orderID)
	return err
}

// List returns all pending timers, earliest first.
func (r *TimerRepository) List(ctx context.Context) ([]models.OrderTimer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT id, order_id, from_status, target_status, fire_at FROM order_timers ORDER BY fire_at ASC, order_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.OrderTimer
	for rows.Next() {
		var t models.OrderTimer
		var from, target, fireAt string
		if err := rows.Scan(&t.ID, &t.OrderID, &from, &target, &fireAt); err != nil {
			return nil, err
		}
		t.FromStatus = models.OrderStatus(from)
		t.TargetStatus = models.OrderStatus(target)
		if t.FireAt, err = db.ParseTime(fireAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
