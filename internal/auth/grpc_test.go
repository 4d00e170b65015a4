package auth

import (
	"context"
	"testing"

	"campusRobotDelivery/internal/testutil"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRequireKindAndHelpers(t *testing.T) {
	ctx := WithPrincipal(context.Background(), &Principal{Name: "v@campus.edu", Kind: "vendor"})
	if _, err := RequireKind(ctx, "VENDOR"); err != nil {
		t.Fatalf("RequireKind: %v", err)
	}
	if _, err := RequireAnyKind(ctx, models.RoleAdmin, models.RoleVendor); err != nil {
		t.Fatalf("RequireAnyKind: %v", err)
	}
	_, err := RequireAnyKind(ctx, models.RoleAdmin)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if _, err := RequirePrincipal(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestRequireAdmin_WithDBRoleCheck(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "authadmin")
	users := repository.NewUserRepository(d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := users.Create(ctx, &models.User{Email: "alice@campus.edu", Name: "Alice"}, "pw"); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	// Spoofed principal kind=admin but DB role is customer
	pctx := WithPrincipal(context.Background(), &Principal{Name: "alice@campus.edu", Kind: "admin"})
	if _, err := RequireAdmin(pctx, users); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for non-admin role, got %v", err)
	}

	ghost := WithPrincipal(context.Background(), &Principal{Name: "ghost@campus.edu", Kind: "admin"})
	if _, err := RequireAdmin(ghost, users); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for unknown user, got %v", err)
	}

	if err := users.UpdateRoleByEmail(ctx, "alice@campus.edu", models.RoleAdmin); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if _, err := RequireAdmin(pctx, users); err != nil {
		t.Fatalf("RequireAdmin real admin: %v", err)
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	secret := "s3cr3t"
	interceptor := NewUnaryAuthInterceptor(secret, "/grpc.health.v1.Health/Check")

	hCalled := false
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, func(ctx context.Context, req any) (any, error) {
		hCalled = true
		if p, ok := FromContext(ctx); ok && p != nil {
			t.Fatalf("expected no principal on allowlisted path")
		}
		return 123, nil
	})
	if err != nil || !hCalled {
		t.Fatalf("allowlisted handler err=%v called=%v", err, hCalled)
	}

	tok := testutil.GenerateJWTHS256(t, secret, "bob@campus.edu", "vendor")
	ctx := testutil.CtxWithBearer(context.Background(), tok)
	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/dispatch.v1.DispatchService/GetOrder"}, func(ctx context.Context, req any) (any, error) {
		p, ok := FromContext(ctx)
		if !ok || p == nil || p.Name != "bob@campus.edu" || p.Kind != "vendor" {
			t.Fatalf("principal not injected: %+v ok=%v", p, ok)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor auth path: %v", err)
	}

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/dispatch.v1.DispatchService/GetOrder"}, func(ctx context.Context, req any) (any, error) {
		t.Fatalf("handler must not run without a token")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
