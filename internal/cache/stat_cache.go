// Package cache keeps short-lived file attributes so a mounted filesystem
// does not issue a storage request for every kernel lookup.
package cache

import (
	"os"
	"strings"
	"sync"
	"time"
)

// StatCacheEntry is one cached lookup. A nil Info records a path known not
// to exist.
type StatCacheEntry struct {
	Path       string
	Info       os.FileInfo
	ExpiresAt  time.Time
	LastAccess time.Time
}

// StatCache maps paths to file attributes for a fixed TTL. A nil *StatCache
// caches nothing.
type StatCache struct {
	mu            sync.Mutex
	entries       map[string]*StatCacheEntry
	maxSize       int
	ttl           time.Duration
	now           func() time.Time
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewStatCache creates a cache holding at most maxSize entries. A ttl of zero
// or less returns nil, which disables caching.
func NewStatCache(maxSize int, ttl time.Duration) *StatCache {
	if ttl <= 0 {
		return nil
	}
	if maxSize < 1 {
		maxSize = 1
	}
	sc := &StatCache{
		entries:     make(map[string]*StatCacheEntry),
		maxSize:     maxSize,
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	sc.cleanupTicker = time.NewTicker(ttl)
	go sc.cleanupExpired()

	return sc
}

// Get returns the cached attributes for path. found is false on a miss or
// an expired entry; a hit with a nil info is a cached not-exist.
func (sc *StatCache) Get(path string) (info os.FileInfo, found bool) {
	if sc == nil {
		return nil, false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.entries[path]
	if !ok {
		return nil, false
	}
	now := sc.now()
	if now.After(entry.ExpiresAt) {
		delete(sc.entries, path)
		return nil, false
	}
	entry.LastAccess = now
	return entry.Info, true
}

// Set stores info for path. Pass nil to cache a missing path.
func (sc *StatCache) Set(path string, info os.FileInfo) {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, ok := sc.entries[path]; !ok {
		sc.truncateIfNeeded()
	}
	now := sc.now()
	sc.entries[path] = &StatCacheEntry{
		Path:       path,
		Info:       info,
		ExpiresAt:  now.Add(sc.ttl),
		LastAccess: now,
	}
}

// Delete drops path and its parent directory, whose listing changed.
func (sc *StatCache) Delete(path string) {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.entries, path)
	delete(sc.entries, parent(path))
}

// DeleteTree drops path and everything below it.
func (sc *StatCache) DeleteTree(path string) {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range sc.entries {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(sc.entries, p)
		}
	}
	delete(sc.entries, parent(path))
}

// Clear removes all entries.
func (sc *StatCache) Clear() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string]*StatCacheEntry)
}

// Size returns the current number of cached entries.
func (sc *StatCache) Size() int {
	if sc == nil {
		return 0
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.entries)
}

// truncateIfNeeded evicts the least recently used entry when full.
func (sc *StatCache) truncateIfNeeded() {
	if len(sc.entries) < sc.maxSize {
		return
	}
	var oldest *StatCacheEntry
	for _, entry := range sc.entries {
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		delete(sc.entries, oldest.Path)
	}
}

// cleanupExpired periodically removes expired entries.
func (sc *StatCache) cleanupExpired() {
	for {
		select {
		case <-sc.cleanupTicker.C:
			sc.mu.Lock()
			now := sc.now()
			for path, entry := range sc.entries {
				if now.After(entry.ExpiresAt) {
					delete(sc.entries, path)
				}
			}
			sc.mu.Unlock()
		case <-sc.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (sc *StatCache) Close() {
	if sc == nil {
		return
	}
	sc.closeOnce.Do(func() {
		sc.cleanupTicker.Stop()
		close(sc.stopCleanup)
	})
}

func parent(path string) string {
	i := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
