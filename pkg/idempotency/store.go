package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a TTL-bounded dedup marker on provider event references. It is a
// fast path only; the ledger's provider-reference check is the
// authoritative idempotency key. Seen and Mark are split so an event is
// only marked after its ledger application succeeded, keeping the
// provider's re-delivery path open for failed applications.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(provider, reference string) string {
	return fmt.Sprintf("evt:%s:%s", provider, reference)
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
