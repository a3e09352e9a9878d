package scarcity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dayStateTTL = 48 * time.Hour

// RedisStore keeps one JSON blob per trading day so admission counters
// survive a process restart. Keys expire two days out; old days are never
// read again.
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, keyPrefix: "tapewatch:scarcity:"}
}

// Load fetches the day's state; (nil, nil) when the day has no record yet.
func (s *RedisStore) Load(ctx context.Context, day string) (*DayState, error) {
	raw, err := s.rdb.Get(ctx, s.keyPrefix+day).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scarcity state get: %w", err)
	}

	var state DayState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("scarcity state decode: %w", err)
	}
	return &state, nil
}

// Save writes the day's state with a rolling TTL.
func (s *RedisStore) Save(ctx context.Context, day string, state *DayState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("scarcity state encode: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keyPrefix+day, raw, dayStateTTL).Err(); err != nil {
		return fmt.Errorf("scarcity state set: %w", err)
	}
	return nil
}
