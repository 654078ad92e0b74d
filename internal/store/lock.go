package store

import (
	"context"
	"hash/fnv"
	"sync"
)

// lockKey hashes a prospect ID into the int64 keyspace used by
// pg_try_advisory_lock.
func lockKey(prospectID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(prospectID)) //nolint:errcheck
	return int64(h.Sum64())
}

// keyedMutex provides in-process per-prospect locking. Used by the SQLite
// backend and as the fallback when no dedicated database connection is
// available.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]bool
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]bool)}
}

// tryLock attempts a non-blocking acquisition of the key.
func (k *keyedMutex) tryLock(key string) (UnlockFunc, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held[key] {
		return nil, false
	}
	k.held[key] = true
	return func(context.Context) error {
		k.mu.Lock()
		delete(k.held, key)
		k.mu.Unlock()
		return nil
	}, true
}
