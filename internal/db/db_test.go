package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func openMem(t *testing.T, name string) *sql.DB {
	t.Helper()
	d, err := Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func tableExists(t *testing.T, d *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	d := openMem(t, "dbmigrate")
	for _, table := range []string{"users", "restaurants", "menu_items", "robots", "orders", "order_timers"} {
		if !tableExists(t, d, table) {
			t.Fatalf("table %s missing after migrations", table)
		}
	}
	// A second pass must be a no-op.
	if err := applyMigrations(d); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("schema_migrations rows = %d err=%v", n, err)
	}
}

func TestRollbackLast(t *testing.T) {
	d := openMem(t, "dbrollback")
	if err := RollbackLast(d); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if tableExists(t, d, "orders") {
		t.Fatalf("orders table survived rollback")
	}
	// Nothing left to roll back.
	if err := RollbackLast(d); err != nil {
		t.Fatalf("rollback on empty history: %v", err)
	}
	if err := RollbackLast(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := openMem(t, "dbtx")
	ctx := context.Background()
	ts := FormatTime(time.Now())
	boom := errors.New("boom")
	err := WithTx(ctx, d, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO robots (robot_id, status, battery_percent, lat, lng, created_at, updated_at) VALUES ('RB-01','IDLE',90,0,0,?,?)`, ts, ts); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM robots`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("robots after rollback = %d err=%v", n, err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.FixedZone("EST", -5*3600))
	got, err := ParseTime(FormatTime(now))
	if err != nil || !got.Equal(now) {
		t.Fatalf("round trip = %v err=%v", got, err)
	}
	zero, err := ParseTime("")
	if err != nil || !zero.IsZero() {
		t.Fatalf("empty string = %v err=%v", zero, err)
	}
}
