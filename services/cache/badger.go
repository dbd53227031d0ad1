package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the durable Store backend. Values survive restarts, which
// keeps feed and prefetch caches warm across deploys.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger database under dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return value, true, nil
}

func (s *BadgerStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *BadgerStore) Del(ctx context.Context, keys ...string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Keys scans the fixed prefix of the glob pattern and matches the remainder
// in memory.
func (s *BadgerStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix := []byte(literalPrefix(pattern))

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ok, err := path.Match(pattern, key)
			if err != nil {
				return fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if ok {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *BadgerStore) SAdd(ctx context.Context, key string, members ...string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, ttl, err := readWithTTL(txn, key)
		if err != nil {
			return err
		}

		set := make(map[string]struct{})
		if existing != nil {
			var current []string
			if err := json.Unmarshal(existing, &current); err != nil {
				return fmt.Errorf("decoding set %q: %w", key, err)
			}
			for _, m := range current {
				set[m] = struct{}{}
			}
		}
		for _, m := range members {
			set[m] = struct{}{}
		}

		merged := make([]string, 0, len(set))
		for m := range set {
			merged = append(merged, m)
		}
		sort.Strings(merged)
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger sadd: %w", err)
	}
	return nil
}

func (s *BadgerStore) SMembers(ctx context.Context, key string) ([]string, error) {
	value, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(value, &members); err != nil {
		return nil, fmt.Errorf("decoding set %q: %w", key, err)
	}
	return members, nil
}

func (s *BadgerStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var result int64
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, ttl, err := readWithTTL(txn, key)
		if err != nil {
			return err
		}
		var current int64
		if existing != nil {
			current, err = strconv.ParseInt(string(existing), 10, 64)
			if err != nil {
				return fmt.Errorf("value at %q is not an integer", key)
			}
		}
		result = current + delta

		entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(result, 10)))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("badger incrby: %w", err)
	}
	return result, nil
}

func (s *BadgerStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger expire: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Maintain runs value-log garbage collection. Called from the scheduled
// cache maintenance task.
func (s *BadgerStore) Maintain() {
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

// readWithTTL returns a key's current value and remaining TTL inside a
// transaction, or (nil, 0, nil) when the key does not exist.
func readWithTTL(txn *badger.Txn, key string) ([]byte, time.Duration, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, 0, err
	}
	var ttl time.Duration
	if exp := item.ExpiresAt(); exp > 0 {
		ttl = time.Until(time.Unix(int64(exp), 0))
		if ttl <= 0 {
			return nil, 0, nil
		}
	}
	return value, ttl, nil
}

// literalPrefix returns the pattern text before the first glob metacharacter.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
