// Package cache provides the unified cache surface the feed pipeline relies
// on: namespaced JSON get/set with TTL, pattern deletion constrained to our
// own namespace, and tag-set invalidation for user- and title-scoped
// entries.
//
// Every operation is best effort. Backend failures are logged and reads
// degrade to misses; the callers stay correct with the cache gone entirely.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// keyPrefix namespaces everything this process writes so pattern
	// deletes can never touch another system's keys.
	keyPrefix = "cino:"
	tagPrefix = "tag:"

	// Tag sets outlive the entries they index; invalidation of an already
	// expired member is a no-op.
	tagSetTTL = 24 * time.Hour
)

// Service wraps a Store with namespacing, JSON serialization and tag
// bookkeeping.
type Service struct {
	store   Store
	backend string

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errs    atomic.Int64
}

// Stats is a snapshot of cache service counters.
type Stats struct {
	Backend string `json:"backend"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Sets    int64  `json:"sets"`
	Deletes int64  `json:"deletes"`
	Errors  int64  `json:"errors"`
}

// NewService creates the cache service on top of a backend store.
func NewService(store Store, backend string) *Service {
	return &Service{store: store, backend: backend}
}

// Key builds a deterministic cache key from its parts.
func Key(parts ...string) string {
	h := sha1.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h[:])
}

// Get loads and decodes a cached value into dest. Returns false on a miss,
// on a backend error, or on a decode failure. A cached JSON null still
// returns true; miss and cached-nothing are different answers.
func (s *Service) Get(ctx context.Context, key string, dest interface{}) bool {
	value, found, err := s.store.Get(ctx, s.namespaced(key))
	if err != nil {
		s.errs.Add(1)
		log.Printf("[cache] get %s failed: %v", key, err)
		return false
	}
	if !found {
		s.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(value, dest); err != nil {
		s.errs.Add(1)
		log.Printf("[cache] decode %s failed: %v", key, err)
		return false
	}
	s.hits.Add(1)
	return true
}

// Set serializes and stores a value with a TTL.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.errs.Add(1)
		log.Printf("[cache] encode %s failed: %v", key, err)
		return
	}
	if err := s.store.SetEx(ctx, s.namespaced(key), data, ttl); err != nil {
		s.errs.Add(1)
		log.Printf("[cache] set %s failed: %v", key, err)
		return
	}
	s.sets.Add(1)
}

// SetWithTags stores a value and records its key in the set of every given
// tag, so InvalidateByTags can evict it later.
func (s *Service) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) {
	s.Set(ctx, key, value, ttl)
	full := s.namespaced(key)
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		tagKey := s.tagKey(tag)
		if err := s.store.SAdd(ctx, tagKey, full); err != nil {
			s.errs.Add(1)
			log.Printf("[cache] tagging %s with %s failed: %v", key, tag, err)
			continue
		}
		if err := s.store.Expire(ctx, tagKey, tagSetTTL); err != nil {
			log.Printf("[cache] refreshing tag %s failed: %v", tag, err)
		}
	}
}

// Delete removes specific keys.
func (s *Service) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.namespaced(key)
	}
	if err := s.store.Del(ctx, full...); err != nil {
		s.errs.Add(1)
		log.Printf("[cache] delete failed: %v", err)
		return
	}
	s.deletes.Add(int64(len(keys)))
}

// DeletePattern removes every key matching a glob pattern. The pattern is
// forced into our namespace, so "feed:*" can only ever expand to this
// process's own keys.
func (s *Service) DeletePattern(ctx context.Context, pattern string) {
	if !strings.HasPrefix(pattern, keyPrefix) {
		pattern = keyPrefix + pattern
	}
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		s.errs.Add(1)
		log.Printf("[cache] pattern %s failed: %v", pattern, err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		s.errs.Add(1)
		log.Printf("[cache] pattern delete failed: %v", err)
		return
	}
	s.deletes.Add(int64(len(keys)))
}

// InvalidateByTags evicts every entry recorded under any of the tags, then
// drops the tag sets themselves.
func (s *Service) InvalidateByTags(ctx context.Context, tags ...string) {
	var victims []string
	var tagKeys []string
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		tagKey := s.tagKey(tag)
		tagKeys = append(tagKeys, tagKey)
		members, err := s.store.SMembers(ctx, tagKey)
		if err != nil {
			s.errs.Add(1)
			log.Printf("[cache] reading tag %s failed: %v", tag, err)
			continue
		}
		victims = append(victims, members...)
	}
	if len(victims) > 0 {
		if err := s.store.Del(ctx, victims...); err != nil {
			s.errs.Add(1)
			log.Printf("[cache] invalidating tags failed: %v", err)
		} else {
			s.deletes.Add(int64(len(victims)))
		}
	}
	if len(tagKeys) > 0 {
		if err := s.store.Del(ctx, tagKeys...); err != nil {
			log.Printf("[cache] clearing tag sets failed: %v", err)
		}
	}
}

// IncrBy atomically adjusts a numeric entry, creating it at delta. Returns 0
// when the backend fails.
func (s *Service) IncrBy(ctx context.Context, key string, delta int64) int64 {
	n, err := s.store.IncrBy(ctx, s.namespaced(key), delta)
	if err != nil {
		s.errs.Add(1)
		log.Printf("[cache] incrby %s failed: %v", key, err)
		return 0
	}
	return n
}

// Expire resets a key's TTL.
func (s *Service) Expire(ctx context.Context, key string, ttl time.Duration) {
	if err := s.store.Expire(ctx, s.namespaced(key), ttl); err != nil {
		s.errs.Add(1)
		log.Printf("[cache] expire %s failed: %v", key, err)
	}
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Backend: s.backend,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
		Errors:  s.errs.Load(),
	}
}

// Maintain runs backend housekeeping when the store supports it. Badger
// compacts its value log here; the memory backend sweeps itself.
func (s *Service) Maintain() {
	if m, ok := s.store.(interface{ Maintain() }); ok {
		m.Maintain()
	}
}

// Close closes the backend store.
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) namespaced(key string) string {
	if strings.HasPrefix(key, keyPrefix) {
		return key
	}
	return keyPrefix + key
}

func (s *Service) tagKey(tag string) string {
	return s.namespaced(tagPrefix + tag)
}
