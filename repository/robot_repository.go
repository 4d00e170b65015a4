package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/models"
)

const robotColumns = `id, robot_id, status, battery_percent, lat, lng, created_at, updated_at`

type RobotRepository struct {
	db *sql.DB
}

func NewRobotRepository(db *sql.DB) *RobotRepository {
	return &RobotRepository{db: db}
}

func scanRobot(s rowScanner) (*models.Robot, error) {
	var rb models.Robot
	var status, created, updated string
	if err := s.Scan(&rb.ID, &rb.RobotID, &status, &rb.BatteryPercent, &rb.Location.Lat, &rb.Location.Lng, &created, &updated); err != nil {
		return nil, err
	}
	rb.Status = models.RobotStatus(status)
	var err error
	if rb.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if rb.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &rb, nil
}

// Create inserts a new robot. Status defaults to IDLE if empty.
func (r *RobotRepository) Create(ctx context.Context, rb *models.Robot) (*models.Robot, error) {
	if rb == nil {
		return nil, errors.New("robot is nil")
	}
	if rb.Status == "" {
		rb.Status = models.RobotStatusIdle
	}
	if !rb.Status.Valid() {
		return nil, fmt.Errorf("invalid robot status %q", rb.Status)
	}
	if err := models.Validate(rb); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ts := db.FormatTime(now())
	res, err := r.db.ExecContext(ctx, `INSERT INTO robots (robot_id, status, battery_percent, lat, lng, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		rb.RobotID, string(rb.Status), rb.BatteryPercent, rb.Location.Lat, rb.Location.Lng, ts, ts)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *RobotRepository) GetByID(ctx context.Context, id int64) (*models.Robot, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rb, err := scanRobot(r.db.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return rb, nil
}

// GetByLabel fetches a robot by its external label (robot_id column).
func (r *RobotRepository) GetByLabel(ctx context.Context, label string) (*models.Robot, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rb, err := scanRobot(r.db.QueryRowContext(ctx, `SELECT `+robotColumns+` FROM robots WHERE robot_id = ?`, label))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("robot %q: %w", label, ErrNotFound)
		}
		return nil, err
	}
	return rb, nil
}

// List returns all robots ordered by id asc.
func (r *RobotRepository) List(ctx context.Context) ([]models.Robot, error) {
	return r.query(ctx, `SELECT `+robotColumns+` FROM robots ORDER BY id ASC`)
}

// ListAvailable returns IDLE robots above the battery threshold, fullest first.
func (r *RobotRepository) ListAvailable(ctx context.Context) ([]models.Robot, error) {
	return r.query(ctx, `SELECT `+robotColumns+` FROM robots WHERE status = ? AND battery_percent > ? ORDER BY battery_percent DESC, id ASC`,
		string(models.RobotStatusIdle), models.LowBatteryThreshold)
}

func (r *RobotRepository) query(ctx context.Context, query string, args ...any) ([]models.Robot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Robot
	for rows.Next() {
		rb, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rb)
	}
	return out, rows.Err()
}

// Update applies a partial update and returns the stored robot.
func (r *RobotRepository) Update(ctx context.Context, id int64, p RobotPatch) (*models.Robot, error) {
	sets := []string{"updated_at = ?"}
	args := []any{db.FormatTime(now())}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, fmt.Errorf("invalid robot status %q", *p.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.BatteryPercent != nil {
		if *p.BatteryPercent < 0 || *p.BatteryPercent > 100 {
			return nil, fmt.Errorf("battery percent %d out of range", *p.BatteryPercent)
		}
		sets = append(sets, "battery_percent = ?")
		args = append(args, *p.BatteryPercent)
	}
	if p.Location != nil {
		sets = append(sets, "lat = ?", "lng = ?")
		args = append(args, p.Location.Lat, p.Location.Lng)
	}
	args = append(args, id)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE robots SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

// Release sets an ASSIGNED or EN_ROUTE robot IDLE, optionally relocating it.
// IDLE robots and robots an operator put in CHARGING, MAINTENANCE or OFFLINE
// are left untouched.
func (r *RobotRepository) Release(ctx context.Context, id int64, loc *models.Location) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var res sql.Result
	var err error
	ts := db.FormatTime(now())
	if loc != nil {
		res, err = r.db.ExecContext(ctx, `UPDATE robots SET status = ?, lat = ?, lng = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			string(models.RobotStatusIdle), loc.Lat, loc.Lng, ts, id, string(models.RobotStatusAssigned), string(models.RobotStatusEnRoute))
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE robots SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			string(models.RobotStatusIdle), ts, id, string(models.RobotStatusAssigned), string(models.RobotStatusEnRoute))
	}
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *RobotRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM robots WHERE id = ?`, id)
	return err
}
