package heatmap

import (
	"sync"
	"time"
)

type cacheKey struct {
	videoID     string
	duration    int
	hasDuration bool
}

type cacheEntry struct {
	segments   []ClipSegment
	insertedAt time.Time
}

// Cache is a time-bounded memoization of discovery results keyed by
// (video id, known total duration). One mutex guards the whole map;
// contention is low and every operation is O(1) map access. Only non-empty
// discovery results are ever inserted, so a transient anti-bot block is
// never cached.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

func newKey(videoID string, durationSeconds *int) cacheKey {
	k := cacheKey{videoID: videoID}
	if durationSeconds != nil {
		k.duration = *durationSeconds
		k.hasDuration = true
	}
	return k
}

// Get returns the cached segments and their age. An entry older than ttl,
// or with a negative age (clock skew), is evicted and reported as a miss.
func (c *Cache) Get(videoID string, durationSeconds *int, ttl time.Duration) ([]ClipSegment, time.Duration, bool) {
	key := newKey(videoID, durationSeconds)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	age := c.now().Sub(entry.insertedAt)
	if age < 0 || age > ttl {
		delete(c.entries, key)
		return nil, 0, false
	}

	segments := make([]ClipSegment, len(entry.segments))
	copy(segments, entry.segments)
	return segments, age, true
}

// Put stores a discovery result. Empty results are ignored.
func (c *Cache) Put(videoID string, durationSeconds *int, segments []ClipSegment) {
	if len(segments) == 0 {
		return
	}
	stored := make([]ClipSegment, len(segments))
	copy(stored, segments)

	c.mu.Lock()
	c.entries[newKey(videoID, durationSeconds)] = cacheEntry{
		segments:   stored,
		insertedAt: c.now(),
	}
	c.mu.Unlock()
}
