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

const (
	restaurantColumns = `id, name, location, lat, lng, owner_id, created_at, updated_at`
	menuItemColumns   = `id, restaurant_id, name, description, price, available, created_at, updated_at`
)

// RestaurantRepository handles restaurants and their menu items.
type RestaurantRepository struct {
	db *sql.DB
}

func NewRestaurantRepository(db *sql.DB) *RestaurantRepository {
	return &RestaurantRepository{db: db}
}

func scanRestaurant(s rowScanner) (*models.Restaurant, error) {
	var rs models.Restaurant
	var lat, lng sql.NullFloat64
	var owner sql.NullInt64
	var created, updated string
	if err := s.Scan(&rs.ID, &rs.Name, &rs.Location, &lat, &lng, &owner, &created, &updated); err != nil {
		return nil, err
	}
	if lat.Valid {
		v := lat.Float64
		rs.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		rs.Lng = &v
	}
	if owner.Valid {
		v := owner.Int64
		rs.OwnerID = &v
	}
	var err error
	if rs.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if rs.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (r *RestaurantRepository) Create(ctx context.Context, rs *models.Restaurant) (*models.Restaurant, error) {
	if rs == nil {
		return nil, errors.New("restaurant is nil")
	}
	if err := models.Validate(rs); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ts := db.FormatTime(now())
	res, err := r.db.ExecContext(ctx, `INSERT INTO restaurants (name, location, lat, lng, owner_id, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		rs.Name, rs.Location, rs.Lat, rs.Lng, rs.OwnerID, ts, ts)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *RestaurantRepository) GetByID(ctx context.Context, id int64) (*models.Restaurant, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rs, err := scanRestaurant(r.db.QueryRowContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("restaurant %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return rs, nil
}

func (r *RestaurantRepository) List(ctx context.Context) ([]models.Restaurant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Restaurant
	for rows.Next() {
		rs, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rs)
	}
	return out, rows.Err()
}

// Update overwrites the editable fields of a restaurant.
func (r *RestaurantRepository) Update(ctx context.Context, rs *models.Restaurant) error {
	if rs == nil {
		return errors.New("restaurant is nil")
	}
	if err := models.Validate(rs); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE restaurants SET name = ?, location = ?, lat = ?, lng = ?, owner_id = ?, updated_at = ? WHERE id = ?`,
		rs.Name, rs.Location, rs.Lat, rs.Lng, rs.OwnerID, db.FormatTime(now()), rs.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("restaurant %d: %w", rs.ID, ErrNotFound)
	}
	return nil
}

func (r *RestaurantRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM restaurants WHERE id = ?`, id)
	return err
}

func scanMenuItem(s rowScanner) (*models.MenuItem, error) {
	var m models.MenuItem
	var created, updated string
	if err := s.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Description, &m.Price, &m.Available, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddMenuItem inserts a menu item for an existing restaurant.
func (r *RestaurantRepository) AddMenuItem(ctx context.Context, m *models.MenuItem) (*models.MenuItem, error) {
	if m == nil {
		return nil, errors.New("menu item is nil")
	}
	if err := models.Validate(m); err != nil {
		return nil, err
	}
	if _, err := r.GetByID(ctx, m.RestaurantID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ts := db.FormatTime(now())
	res, err := r.db.ExecContext(ctx, `INSERT INTO menu_items (restaurant_id, name, description, price, available, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		m.RestaurantID, m.Name, m.Description, m.Price, m.Available, ts, ts)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetMenuItem(ctx, id)
}

func (r *RestaurantRepository) GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	m, err := scanMenuItem(r.db.QueryRowContext(ctx, `SELECT `+menuItemColumns+` FROM menu_items WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("menu item %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

// ListMenu returns the menu of a restaurant; availableOnly hides sold-out items.
func (r *RestaurantRepository) ListMenu(ctx context.Context, restaurantID int64, availableOnly bool) ([]models.MenuItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	query := `SELECT ` + menuItemColumns + ` FROM menu_items WHERE restaurant_id = ?`
	if availableOnly {
		query += ` AND available = 1`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MenuItem
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetMenuItemAvailability toggles whether a menu item can be ordered.
func (r *RestaurantRepository) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE menu_items SET available = ?, updated_at = ? WHERE id = ?`, available, db.FormatTime(now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("menu item %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *RestaurantRepository) DeleteMenuItem(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id = ?`, id)
	return err
}
