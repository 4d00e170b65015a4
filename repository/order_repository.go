package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/models"
)

const orderColumns = `id, user_id, vendor_id, robot_id, items, total, delivery_location, delivery_lat, delivery_lng, status, created_at, updated_at`

// OrderRepository is the SQL repository for Order entities.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (*models.Order, error) {
	var o models.Order
	var robotID sql.NullInt64
	var items, status, created, updated string
	var lat, lng sql.NullFloat64
	if err := s.Scan(&o.ID, &o.UserID, &o.VendorID, &robotID, &items, &o.Total, &o.DeliveryLocation, &lat, &lng, &status, &created, &updated); err != nil {
		return nil, err
	}
	if robotID.Valid {
		v := robotID.Int64
		o.RobotID = &v
	}
	if lat.Valid {
		v := lat.Float64
		o.DeliveryLat = &v
	}
	if lng.Valid {
		v := lng.Float64
		o.DeliveryLng = &v
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %d: %w", o.ID, err)
	}
	o.Status = models.OrderStatus(status)
	var err error
	if o.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &o, nil
}

// Create validates and inserts a new order. Status defaults to CREATED and
// the total is computed from the items; it is not recomputed later.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	if o.Status == "" {
		o.Status = models.OrderStatusCreated
	}
	if !o.Status.Valid() {
		return nil, fmt.Errorf("invalid order status %q", o.Status)
	}
	if err := models.Validate(o); err != nil {
		return nil, err
	}
	o.Total = models.ComputeTotal(o.Items)
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ts := db.FormatTime(now())
	res, err := r.db.ExecContext(ctx, `INSERT INTO orders (user_id, vendor_id, robot_id, items, total, delivery_location, delivery_lat, delivery_lng, status, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.UserID, o.VendorID, o.RobotID, string(items), o.Total, o.DeliveryLocation, o.DeliveryLat, o.DeliveryLng, string(o.Status), ts, ts)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByID fetches an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return o, nil
}

// List returns orders matching the filter ordered by id asc.
func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var where []string
	var args []any

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.RobotIDIsNull != nil {
		if *f.RobotIDIsNull {
			where = append(where, "robot_id IS NULL")
		} else {
			where = append(where, "robot_id IS NOT NULL")
		}
	}
	if f.HasCoordinates != nil {
		if *f.HasCoordinates {
			where = append(where, "delivery_lat IS NOT NULL AND delivery_lng IS NOT NULL")
		} else {
			where = append(where, "(delivery_lat IS NULL OR delivery_lng IS NULL)")
		}
	}
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.VendorID != nil {
		where = append(where, "vendor_id = ?")
		args = append(args, *f.VendorID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Update applies a partial update and returns the stored order.
func (r *OrderRepository) Update(ctx context.Context, id int64, p OrderPatch) (*models.Order, error) {
	sets := []string{"updated_at = ?"}
	args := []any{db.FormatTime(now())}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, fmt.Errorf("invalid order status %q", *p.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	switch {
	case p.ClearRobot:
		sets = append(sets, "robot_id = NULL")
	case p.RobotID != nil:
		sets = append(sets, "robot_id = ?")
		args = append(args, *p.RobotID)
	}
	if p.DeliveryLocation != nil {
		sets = append(sets, "delivery_location = ?")
		args = append(args, *p.DeliveryLocation)
	}
	if p.DeliveryLat != nil {
		sets = append(sets, "delivery_lat = ?")
		args = append(args, *p.DeliveryLat)
	}
	if p.DeliveryLng != nil {
		sets = append(sets, "delivery_lng = ?")
		args = append(args, *p.DeliveryLng)
	}
	args = append(args, id)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

// Advance is a compare-and-swap on the order status.
func (r *OrderRepository) Advance(ctx context.Context, id int64, from, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("invalid order status %q", to)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), db.FormatTime(now()), id, string(from))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("order %d is %s, expected %s: %w", id, cur.Status, from, ErrStatusMismatch)
	}
	return r.GetByID(ctx, id)
}

// Delete removes an order by ID.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	return err
}
