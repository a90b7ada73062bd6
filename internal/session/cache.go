package session

import (
	"sync"

	"weatherbot/internal/common/metrics"
)

const cacheShards = 32

// Cache is a sharded in-memory map from user id to session record. Per-key
// mutations run under a single shard lock, so a read-modify-write for one
// user can never interleave with another writer for the same user. Scans
// take one shard at a time and never hold a global lock.
type Cache struct {
	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu    sync.RWMutex
	items map[int64]Record
}

func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].items = make(map[int64]Record)
	}
	return c
}

func (c *Cache) shard(userID int64) *cacheShard {
	return &c.shards[uint64(userID)%cacheShards]
}

// Get returns a copy of the cached record, if present.
func (c *Cache) Get(userID int64) (Record, bool) {
	s := c.shard(userID)
	s.mu.RLock()
	rec, ok := s.items[userID]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Put stores a copy of the record, replacing any existing entry.
func (c *Cache) Put(rec Record) {
	s := c.shard(rec.UserID)
	s.mu.Lock()
	s.items[rec.UserID] = rec.Clone()
	s.mu.Unlock()
	c.observeSize()
}

// PutIfAbsent stores the record only when no entry exists for the user.
// Used when seeding the cache from the durable store so that fresher cached
// state is never overwritten by a stale row.
func (c *Cache) PutIfAbsent(rec Record) bool {
	s := c.shard(rec.UserID)
	s.mu.Lock()
	_, exists := s.items[rec.UserID]
	if !exists {
		s.items[rec.UserID] = rec.Clone()
	}
	s.mu.Unlock()
	if !exists {
		c.observeSize()
	}
	return !exists
}

// Update applies fn to the record under the shard lock and returns the
// updated copy. Returns false without calling fn when the user is absent.
func (c *Cache) Update(userID int64, fn func(r *Record)) (Record, bool) {
	s := c.shard(userID)
	s.mu.Lock()
	rec, ok := s.items[userID]
	if !ok {
		s.mu.Unlock()
		return Record{}, false
	}
	fn(&rec)
	s.items[userID] = rec
	out := rec.Clone()
	s.mu.Unlock()
	return out, true
}

// Upsert inserts seed when the user is absent, then applies fn under the
// shard lock and returns the updated copy.
func (c *Cache) Upsert(userID int64, seed Record, fn func(r *Record)) Record {
	s := c.shard(userID)
	s.mu.Lock()
	rec, ok := s.items[userID]
	if !ok {
		rec = seed.Clone()
	}
	fn(&rec)
	s.items[userID] = rec
	out := rec.Clone()
	s.mu.Unlock()
	c.observeSize()
	return out
}

// Delete removes the record for the user.
func (c *Cache) Delete(userID int64) {
	s := c.shard(userID)
	s.mu.Lock()
	delete(s.items, userID)
	s.mu.Unlock()
	c.observeSize()
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot returns copies of all cached records. Consistency is per shard,
// not global; concurrent writers may land before or after the scan.
func (c *Cache) Snapshot() []Record {
	out := make([]Record, 0, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, rec := range s.items {
			out = append(out, rec.Clone())
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *Cache) observeSize() {
	metrics.SessionCacheSize.Set(float64(c.Len()))
}
