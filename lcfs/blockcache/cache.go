// Package blockcache is a fixed capacity LRU cache of 256-byte blocks keyed
// by bus address.
package blockcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/frame"
)

var ErrPayloadSize = errors.New("cached payload must be 256 bytes")

// Stats holds hit counters of a cache.
type Stats struct {
	Hits     uint64
	Misses   uint64
	HitRatio float64
}

func (s Stats) String() string {
	return fmt.Sprintf("hits=%d misses=%d ratio=%.3f", s.Hits, s.Misses, s.HitRatio)
}

func newStats(hits, misses uint64) Stats {
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	return s
}

type CacheTable struct {
	sync.Mutex
	// slots in insertion order, never more than capacity
	slots []*CacheItem
	// block key to slot index
	index    map[uint64]int
	capacity int
	// logical clock bumped by every put and hit
	clock  uint64
	hits   uint64
	misses uint64
}

// New creates a cache holding at most capacity blocks. A capacity below one
// is raised to one.
func New(capacity int) *CacheTable {
	if capacity < 1 {
		capacity = 1
	}
	return &CacheTable{
		slots:    make([]*CacheItem, 0, capacity),
		index:    make(map[uint64]int, capacity),
		capacity: capacity,
	}
}

// Get returns a copy of the cached block at addr.
func (t *CacheTable) Get(addr devreg.Address) ([]byte, bool) {
	t.Lock()
	defer t.Unlock()
	i, ok := t.index[addr.Key()]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	t.clock++
	return t.slots[i].GetData(t.clock), true
}

// Put stores a copy of data for addr, evicting the least recently used
// block when the cache is full. Ties go to the lowest slot.
func (t *CacheTable) Put(addr devreg.Address, data []byte) error {
	if len(data) != frame.BlockSize {
		return fmt.Errorf("put %s with %d bytes: %w", addr, len(data), ErrPayloadSize)
	}
	t.Lock()
	defer t.Unlock()
	t.clock++
	key := addr.Key()
	if i, ok := t.index[key]; ok {
		t.slots[i].SetData(data, t.clock)
		return nil
	}
	if len(t.slots) < t.capacity {
		t.index[key] = len(t.slots)
		t.slots = append(t.slots, NewCacheItem(addr, data, t.clock))
		return nil
	}
	victim := 0
	for i, item := range t.slots {
		if item.LastUsed < t.slots[victim].LastUsed {
			victim = i
		}
	}
	delete(t.index, t.slots[victim].Addr.Key())
	t.slots[victim].Reset(addr, data, t.clock)
	t.index[key] = victim
	return nil
}

// Contains reports whether addr is cached without touching recency or stats.
func (t *CacheTable) Contains(addr devreg.Address) bool {
	t.Lock()
	defer t.Unlock()
	_, ok := t.index[addr.Key()]
	return ok
}

// Len returns number of blocks in cache
func (t *CacheTable) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.slots)
}

// Capacity returns the maximum number of blocks
func (t *CacheTable) Capacity() int {
	return t.capacity
}

// Stats returns the counters without resetting them.
func (t *CacheTable) Stats() Stats {
	t.Lock()
	defer t.Unlock()
	return newStats(t.hits, t.misses)
}

// Close drops every cached block and returns the final counters.
func (t *CacheTable) Close() Stats {
	t.Lock()
	defer t.Unlock()
	s := newStats(t.hits, t.misses)
	t.slots = t.slots[:0]
	t.index = make(map[uint64]int, t.capacity)
	t.hits, t.misses, t.clock = 0, 0, 0
	return s
}
