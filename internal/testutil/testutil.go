package testutil

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/models"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// Each name is a separate database; it is closed on test cleanup.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	d, err := db.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT string with the claims the auth layer reads.
func GenerateJWTHS256(t *testing.T, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxWithBearer returns a context containing gRPC metadata Authorization header with the given token.
func CtxWithBearer(ctx context.Context, token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(ctx, md)
}

// ReadyOrder builds a READY order for one item delivered to lat/lng.
func ReadyOrder(lat, lng float64) models.Order {
	return models.Order{
		UserID:           1,
		VendorID:         1,
		Items:            []models.OrderItem{{Name: "Falafel wrap", Quantity: 2, Price: 6.25}},
		DeliveryLocation: "Hunt Library",
		DeliveryLat:      &lat,
		DeliveryLng:      &lng,
		Status:           models.OrderStatusReady,
	}
}

// IdleRobot builds an IDLE robot parked at lat/lng.
func IdleRobot(label string, battery int, lat, lng float64) models.Robot {
	return models.Robot{
		RobotID:        label,
		Status:         models.RobotStatusIdle,
		BatteryPercent: battery,
		Location:       models.Location{Lat: lat, Lng: lng},
	}
}
