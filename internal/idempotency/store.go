// Package idempotency deduplicates retried usage reports. A request hash
// is reserved before the guarded work runs and completed with the
// outcome afterwards; reservations for failed work are released so a
// legitimate retry is not treated as a duplicate.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pendingMarker = "__pending__"

var (
	ErrPending = errors.New("idempotency_request_in_flight")
)

type Store struct {
	redis *redis.Client
	log   *zap.Logger
	ttl   time.Duration
}

func NewStore(client *redis.Client, log *zap.Logger, ttl time.Duration) *Store {
	return &Store{
		redis: client,
		log:   log.Named("idempotency"),
		ttl:   ttl,
	}
}

// Hash derives the dedup key for a usage report.
func Hash(customerID, featureSlug string, usage float64, idempotenceKey string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%g|%s", customerID, featureSlug, usage, idempotenceKey))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the stored outcome for hash, unmarshaled into out.
// found is false when no completed entry exists. A pending reservation
// returns ErrPending.
func (s *Store) Lookup(ctx context.Context, hash string, out any) (found bool, err error) {
	raw, err := s.redis.Get(ctx, s.key(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if raw == pendingMarker {
		return false, ErrPending
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

// Reserve claims the hash before the guarded work runs. Returns false
// when the hash is already reserved or completed.
func (s *Store) Reserve(ctx context.Context, hash string) (bool, error) {
	return s.redis.SetNX(ctx, s.key(hash), pendingMarker, s.ttl).Result()
}

// Complete replaces the reservation with the outcome. The TTL restarts
// so replays within the window see the stored result.
func (s *Store) Complete(ctx context.Context, hash string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key(hash), raw, s.ttl).Err()
}

// Release drops the reservation after a failure so a retry re-executes
// instead of being absorbed as a duplicate.
func (s *Store) Release(ctx context.Context, hash string) {
	if err := s.redis.Del(ctx, s.key(hash)).Err(); err != nil {
		s.log.Error("failed to release idempotency reservation",
			zap.String("hash", hash),
			zap.Error(err),
		)
	}
}

func (s *Store) key(hash string) string {
	return "idem:usage:" + hash
}
