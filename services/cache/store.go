package cache

import (
	"context"
	"time"
)

// Store is the backing key-value surface the cache service runs on. A miss is
// (nil, false, nil); errors are reserved for backend failures so the service
// can tell "not there" from "backend down".
//
// Sets (SAdd, SMembers) exist for tag invalidation: each tag owns a set of
// the cache keys written under it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}
