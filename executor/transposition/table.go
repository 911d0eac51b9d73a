// Package transposition caches expectimax values keyed by board hash,
// remaining depth and node kind.
package transposition

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the entry count above which the table evicts.
const DefaultCapacity = 10_000_000

// evictFraction of the entries is dropped when the table overflows.
const evictFraction = 10

// Bound says how a stored score relates to the true value of the node.
type Bound uint8

const (
	Exact Bound = iota
	LowerBound
	UpperBound
)

func (b Bound) String() string {
	switch b {
	case Exact:
		return "exact"
	case LowerBound:
		return "lower"
	case UpperBound:
		return "upper"
	default:
		return "unknown"
	}
}

// Entry is a cached search value.
type Entry struct {
	Score float64
	Depth int
	Bound Bound
}

type key struct {
	hash  uint64
	depth int8
	max   bool
}

// Stats are cumulative counters, safe to read while the table is in use.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Stores    uint64
	Evictions uint64
}

// HitRate is hits over lookups, 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Table is a transposition table shared by every worker of a search. One
// mutex guards the map.
type Table struct {
	mu       sync.Mutex
	entries  map[key]Entry
	capacity int
	maxDepth atomic.Int32

	hits      atomic.Uint64
	misses    atomic.Uint64
	stores    atomic.Uint64
	evictions atomic.Uint64
}

// New returns a table that evicts once it holds more than capacity entries.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		entries:  make(map[key]Entry),
		capacity: capacity,
	}
}

// Store records the value of board hash h searched to depth.
func (t *Table) Store(h uint64, depth int, isMax bool, e Entry) {
	e.Depth = depth
	k := key{hash: h, depth: int8(depth), max: isMax}

	t.mu.Lock()
	t.entries[k] = e
	if len(t.entries) > t.capacity {
		t.evictLocked()
	}
	t.mu.Unlock()

	t.stores.Add(1)
	for {
		cur := t.maxDepth.Load()
		if int32(depth) <= cur || t.maxDepth.CompareAndSwap(cur, int32(depth)) {
			break
		}
	}
}

// Lookup returns an entry for hash h searched at least as deep as depth with
// the same node kind. Shallower entries are never returned.
func (t *Table) Lookup(h uint64, depth int, isMax bool) (Entry, bool) {
	deepest := int(t.maxDepth.Load())

	t.mu.Lock()
	for d := depth; d <= deepest; d++ {
		if e, ok := t.entries[key{hash: h, depth: int8(d), max: isMax}]; ok {
			t.mu.Unlock()
			t.hits.Add(1)
			return e, true
		}
	}
	t.mu.Unlock()

	t.misses.Add(1)
	return Entry{}, false
}

// evictLocked drops roughly a tenth of the table. Map iteration order
// decides which entries go.
func (t *Table) evictLocked() {
	n := len(t.entries) / evictFraction
	if n == 0 {
		n = 1
	}
	for k := range t.entries {
		if n == 0 {
			break
		}
		delete(t.entries, k)
		n--
		t.evictions.Add(1)
	}
}

// Len returns the number of stored entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear empties the table. Counters are kept.
func (t *Table) Clear() {
	t.mu.Lock()
	clear(t.entries)
	t.maxDepth.Store(0)
	t.mu.Unlock()
}

// Stats snapshots the counters.
func (t *Table) Stats() Stats {
	return Stats{
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Stores:    t.stores.Load(),
		Evictions: t.evictions.Load(),
	}
}
