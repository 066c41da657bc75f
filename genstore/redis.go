package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares generations across processes and survives restarts.
// With a TTL, generation keys expire after inactivity; an expired key reads as
// 0, which the store treats as "no delete seen".
type RedisGenStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore stores generations under "gen:<prefix>:<storageKey>".
// ttl <= 0 disables expiry.
func NewRedisGenStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, prefix: prefix, ttl: ttl}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.prefix + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, storageKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(storageKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation. With a TTL, INCR and EXPIRE share one
// pipelined round-trip.
func (s *RedisGenStore) Bump(ctx context.Context, storageKey string) (uint64, error) {
	k := s.key(storageKey)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Cleanup is not applicable; Redis expires keys itself when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

// Close leaves the client open; it is owned by the caller.
func (s *RedisGenStore) Close(context.Context) error { return nil }
