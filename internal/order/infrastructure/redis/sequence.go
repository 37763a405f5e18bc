package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequence issues the per-day counter behind order numbers with a
// single INCR, so two commits on the same day can never mint the same
// number regardless of interleaving. Keys outlive their day by 48h and
// expire; the counter restarts at 1 each day.
type Sequence struct {
	rdb    *redis.Client
	prefix string
}

func NewSequence(rdb *redis.Client) *Sequence {
	return &Sequence{rdb: rdb, prefix: "orderseq"}
}

func (s *Sequence) Next(ctx context.Context, day time.Time) (int64, error) {
	key := fmt.Sprintf("%s:%s", s.prefix, day.UTC().Format("20060102"))
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		// Best effort; a counter without TTL only costs memory.
		_ = s.rdb.Expire(ctx, key, 48*time.Hour).Err()
	}
	return n, nil
}
