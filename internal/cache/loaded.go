package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/voxel"
)

// EvictFunc is called after a chunk has been evicted to make room.
type EvictFunc func(coord gridmap.Coord, chunk *voxel.Chunk)

// Options configures a LoadedChunks cache.
type Options struct {
	// Capacity is the maximum number of chunks held. Must be positive.
	Capacity int
	// TouchOnLookup makes Contains and Get count as a use. By default only
	// Insert updates recency.
	TouchOnLookup bool
	// OnEvict, if set, is called for each evicted chunk.
	OnEvict EvictFunc
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Len           int    `json:"len"`
	Capacity      int    `json:"capacity"`
	TouchOnLookup bool   `json:"touch_on_lookup"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Inserts       uint64 `json:"inserts"`
	Replaces      uint64 `json:"replaces"`
	Evictions     uint64 `json:"evictions"`
}

// LoadedChunks is a bounded LRU map of generated chunks keyed by coordinate.
// Only the tick loop mutates it; readers such as HTTP handlers may inspect it
// concurrently.
type LoadedChunks struct {
	lru      *lru.Cache[gridmap.Coord, *voxel.Chunk]
	capacity int
	touch    bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	replaces  atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache with the given options.
func New(opts Options) (*LoadedChunks, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", opts.Capacity)
	}

	c := &LoadedChunks{
		capacity: opts.Capacity,
		touch:    opts.TouchOnLookup,
	}
	onEvict := opts.OnEvict
	inner, err := lru.NewWithEvict(opts.Capacity, func(coord gridmap.Coord, chunk *voxel.Chunk) {
		c.evictions.Add(1)
		if onEvict != nil {
			onEvict(coord, chunk)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.lru = inner
	return c, nil
}

// Contains reports whether coord is loaded. It only updates recency when
// TouchOnLookup is enabled.
func (c *LoadedChunks) Contains(coord gridmap.Coord) bool {
	if c.touch {
		_, ok := c.lru.Get(coord)
		return ok
	}
	return c.lru.Contains(coord)
}

// Insert adds or replaces the chunk at coord and marks it most recently used.
// Inserting a new key at capacity evicts the least recently used entry first;
// replacing an existing key never evicts.
func (c *LoadedChunks) Insert(coord gridmap.Coord, chunk *voxel.Chunk) (evicted bool) {
	if c.lru.Contains(coord) {
		c.replaces.Add(1)
	} else {
		c.inserts.Add(1)
	}
	return c.lru.Add(coord, chunk)
}

// Get returns the chunk at coord. Recency changes only with TouchOnLookup.
func (c *LoadedChunks) Get(coord gridmap.Coord) (*voxel.Chunk, bool) {
	var (
		chunk *voxel.Chunk
		ok    bool
	)
	if c.touch {
		chunk, ok = c.lru.Get(coord)
	} else {
		chunk, ok = c.lru.Peek(coord)
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return chunk, ok
}

// Peek returns the chunk at coord without touching recency or counters.
func (c *LoadedChunks) Peek(coord gridmap.Coord) (*voxel.Chunk, bool) {
	return c.lru.Peek(coord)
}

// Keys returns the loaded coordinates from least to most recently used.
func (c *LoadedChunks) Keys() []gridmap.Coord {
	return c.lru.Keys()
}

// Len returns the number of loaded chunks.
func (c *LoadedChunks) Len() int {
	return c.lru.Len()
}

// Capacity returns the configured capacity.
func (c *LoadedChunks) Capacity() int {
	return c.capacity
}

// Stats returns a snapshot of the cache counters.
func (c *LoadedChunks) Stats() Stats {
	return Stats{
		Len:           c.lru.Len(),
		Capacity:      c.capacity,
		TouchOnLookup: c.touch,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Inserts:       c.inserts.Load(),
		Replaces:      c.replaces.Load(),
		Evictions:     c.evictions.Load(),
	}
}
