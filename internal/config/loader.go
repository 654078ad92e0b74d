package config

import (
	"sync"
	"time"
)

// Loader caches configuration with a bounded time-to-live and an explicit
// refresh operation. Components hold a *Loader instead of reading global
// state, so credential rotation propagates without a restart.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	loadedAt time.Time
	ttl      time.Duration
	loadFn   func() (*Config, error)
}

// DefaultConfigTTL is how long a loaded config is served before re-reading.
const DefaultConfigTTL = 5 * time.Minute

// NewLoader creates a Loader around the given load function. A zero ttl
// uses DefaultConfigTTL.
func NewLoader(loadFn func() (*Config, error), ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	return &Loader{loadFn: loadFn, ttl: ttl}
}

// Get returns the cached config, reloading it when the TTL has elapsed.
// A reload failure keeps serving the previously loaded config.
func (l *Loader) Get() (*Config, error) {
	l.mu.RLock()
	cfg, fresh := l.cfg, time.Since(l.loadedAt) < l.ttl
	l.mu.RUnlock()

	if cfg != nil && fresh {
		return cfg, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another caller may have reloaded while we waited for the lock.
	if l.cfg != nil && time.Since(l.loadedAt) < l.ttl {
		return l.cfg, nil
	}

	loaded, err := l.loadFn()
	if err != nil {
		if l.cfg != nil {
			return l.cfg, nil
		}
		return nil, err
	}
	l.cfg = loaded
	l.loadedAt = time.Now()
	return l.cfg, nil
}

// Refresh forces a reload on the next Get.
func (l *Loader) Refresh() {
	l.mu.Lock()
	l.loadedAt = time.Time{}
	l.mu.Unlock()
}
