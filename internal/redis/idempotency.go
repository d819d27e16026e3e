package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EnqueueKeyTTL is how long a client-provided Idempotency-Key maps to the
	// item it created.
	EnqueueKeyTTL = 24 * time.Hour

	// reservationTTL bounds how long a crashed request can block its key.
	reservationTTL = 2 * time.Minute

	reservedMarker = "reserved"
)

// ErrRequestInFlight means another request holding the same key has not finished.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

// EnqueueRecord is what a finished enqueue leaves behind under its key.
type EnqueueRecord struct {
	ItemID    string `json:"item_id"`
	CreatedAt int64  `json:"created_at"`
}

// IdempotencyService deduplicates enqueue requests that carry an
// Idempotency-Key header. The outbox itself never dedups.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
		ttl:    EnqueueKeyTTL,
	}
}

func (s *IdempotencyService) buildKey(tenantID, key string) string {
	return fmt.Sprintf("idem:enqueue:%s:%s", tenantID, key)
}

// Lookup returns the record for key, (nil, nil) when unknown, or
// ErrRequestInFlight while the key is reserved.
func (s *IdempotencyService) Lookup(ctx context.Context, tenantID, key string) (*EnqueueRecord, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(tenantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if val == reservedMarker {
		return nil, ErrRequestInFlight
	}

	var rec EnqueueRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		s.logger.Error("failed to unmarshal idempotency record", zap.Error(err))
		return nil, fmt.Errorf("invalid idempotency record: %w", err)
	}

	s.logger.Debug("idempotency hit",
		zap.String("tenant_id", tenantID),
		zap.String("item_id", rec.ItemID),
	)
	return &rec, nil
}

// Reserve claims key with SET NX. false means someone else holds it.
func (s *IdempotencyService) Reserve(ctx context.Context, tenantID, key string) (bool, error) {
	ok, err := s.client.rdb.SetNX(ctx, s.buildKey(tenantID, key), reservedMarker, reservationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// LookupOrReserve returns an existing record, or reserves the key and
// returns (nil, nil) so the caller may proceed.
func (s *IdempotencyService) LookupOrReserve(ctx context.Context, tenantID, key string) (*EnqueueRecord, error) {
	rec, err := s.Lookup(ctx, tenantID, key)
	if err != nil || rec != nil {
		return rec, err
	}

	ok, err := s.Reserve(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost the race between GET and SETNX
		return nil, ErrRequestInFlight
	}
	return nil, nil
}

// Complete replaces the reservation with the created item's id.
func (s *IdempotencyService) Complete(ctx context.Context, tenantID, key, itemID string) error {
	data, err := json.Marshal(EnqueueRecord{ItemID: itemID, CreatedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := s.client.rdb.Set(ctx, s.buildKey(tenantID, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed enqueue so the client can retry
// with the same key.
func (s *IdempotencyService) Release(ctx context.Context, tenantID, key string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(tenantID, key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
