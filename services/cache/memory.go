package cache

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process Store used when no durable backend is
// configured, and as the fallback in tests. Entries carry their own expiry
// and a background sweep removes the stale ones.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a memory store and starts its cleanup goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		return nil, false, nil
	}
	if entry.value == nil {
		return nil, false, nil
	}
	val := make([]byte, len(entry.value))
	copy(val, entry.value)
	return val, true, nil
}

func (s *MemoryStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	val := make([]byte, len(value))
	copy(val, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{value: val, expiresAt: expiry(ttl)}
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Keys returns the live keys matching a glob pattern ("prefix:*").
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) || entry.members == nil {
		entry = &memoryEntry{members: make(map[string]struct{})}
		s.entries[key] = entry
	}
	for _, m := range members {
		entry.members[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) || entry.members == nil {
		return nil, nil
	}
	members := make([]string, 0, len(entry.members))
	for m := range entry.members {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	entry, ok := s.entries[key]
	if ok && !entry.expired(time.Now()) && entry.value != nil {
		n, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		current = n
	}
	current += delta
	var expiresAt time.Time
	if ok {
		expiresAt = entry.expiresAt
	}
	s.entries[key] = &memoryEntry{value: []byte(strconv.FormatInt(current, 10)), expiresAt: expiresAt}
	return current, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && !entry.expired(time.Now()) {
		entry.expiresAt = expiry(ttl)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Len reports the number of live entries, for the status endpoint.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, entry := range s.entries {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// cleanupLoop periodically removes expired entries.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
