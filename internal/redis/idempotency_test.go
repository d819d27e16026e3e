package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIdempotencyService_NewKey(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())

	rec, err := svc.LookupOrReserve(context.Background(), "tenant-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for new key, got %+v", rec)
	}
}

func TestIdempotencyService_InFlight(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.LookupOrReserve(ctx, "tenant-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.LookupOrReserve(ctx, "tenant-1", "key-1"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
}

func TestIdempotencyService_CompleteThenLookup(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.LookupOrReserve(ctx, "tenant-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Complete(ctx, "tenant-1", "key-1", "item-42"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	rec, err := svc.LookupOrReserve(ctx, "tenant-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.ItemID != "item-42" {
		t.Fatalf("expected item-42, got %+v", rec)
	}
	if rec.CreatedAt == 0 {
		t.Error("expected created_at to be set")
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	svc.LookupOrReserve(ctx, "tenant-1", "key-1")
	if err := svc.Release(ctx, "tenant-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	rec, err := svc.LookupOrReserve(ctx, "tenant-1", "key-1")
	if err != nil || rec != nil {
		t.Fatalf("expected fresh reservation after release, got %+v, %v", rec, err)
	}
}

func TestIdempotencyService_TenantIsolation(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	svc.LookupOrReserve(ctx, "tenant-1", "shared")
	svc.Complete(ctx, "tenant-1", "shared", "item-1")

	rec, err := svc.LookupOrReserve(ctx, "tenant-2", "shared")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("tenant-2 should not see tenant-1's record, got %+v", rec)
	}
}
