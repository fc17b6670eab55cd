package cache

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// MergeFunc combines a cached value with a newer partial one.
type MergeFunc[V any] func(old, newer V) V

// Recorder receives cache hit/miss notifications. Implementations must be safe for concurrent use.
type Recorder interface {
	Hit(kind string)
	Miss(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Hit(string)  {}
func (nopRecorder) Miss(string) {}

// Collection is a concurrent keyed store with merge-on-put and an optional
// positional index used to serve paginated windows. Once a short page has
// shown where the listing ends, windows reaching past that end are served
// without it.
//
// Stored values are treated as immutable: Put stores the merged copy and
// readers receive copies, so no lock is held while callers use them.
type Collection[K comparable, V any] struct {
	kind    string
	entries *xsync.Map[K, V]
	merge   MergeFunc[V]
	rec     Recorder

	mu        sync.RWMutex
	positions map[int]K
	end       int // listing length, -1 when unknown
}

// NewCollection returns an empty collection. A nil merge makes Put overwrite.
func NewCollection[K comparable, V any](kind string, merge MergeFunc[V], rec Recorder) *Collection[K, V] {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Collection[K, V]{
		kind:      kind,
		entries:   xsync.NewMap[K, V](),
		merge:     merge,
		rec:       rec,
		positions: map[int]K{},
		end:       -1,
	}
}

// Kind is the entity kind label used for metrics.
func (c *Collection[K, V]) Kind() string { return c.kind }

// Get returns the cached value without touching hit/miss counters.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	return c.entries.Load(key)
}

// Lookup is Get under a completeness policy: a present but incomplete value is a miss.
// The cached value is still returned so callers can fall back to it.
func (c *Collection[K, V]) Lookup(key K, complete func(V) bool) (V, bool) {
	v, ok := c.entries.Load(key)
	if ok && (complete == nil || complete(v)) {
		c.rec.Hit(c.kind)
		return v, true
	}
	c.rec.Miss(c.kind)
	return v, false
}

// Put merges v into whatever is cached under key and returns the stored result.
func (c *Collection[K, V]) Put(key K, v V) V {
	stored, _ := c.entries.Compute(key, func(old V, loaded bool) (V, xsync.ComputeOp) {
		if loaded && c.merge != nil {
			return c.merge(old, v), xsync.UpdateOp
		}
		return v, xsync.UpdateOp
	})
	return stored
}

// PutAt is Put plus recording key at position pos of the listing order.
// A position at or past the known end forgets that end.
func (c *Collection[K, V]) PutAt(pos int, key K, v V) V {
	stored := c.Put(key, v)
	c.mu.Lock()
	c.positions[pos] = key
	if c.end >= 0 && pos >= c.end {
		c.end = -1
	}
	c.mu.Unlock()
	return stored
}

// SetEnd records that the listing holds exactly n entries.
func (c *Collection[K, V]) SetEnd(n int) {
	if n < 0 {
		n = -1
	}
	c.mu.Lock()
	c.end = n
	c.mu.Unlock()
}

// ResetEnd forgets the listing length, e.g. after an entry was appended.
func (c *Collection[K, V]) ResetEnd() {
	c.SetEnd(-1)
}

// Update applies fn atomically to the entry under key. Returning false from fn leaves the entry untouched.
func (c *Collection[K, V]) Update(key K, fn func(old V, loaded bool) (V, bool)) (V, bool) {
	return c.entries.Compute(key, func(old V, loaded bool) (V, xsync.ComputeOp) {
		next, ok := fn(old, loaded)
		if !ok {
			return old, xsync.CancelOp
		}
		return next, xsync.UpdateOp
	})
}

// Invalidate drops the entry and the known listing length. Its listing
// position is kept so the window reads as incomplete and gets refilled from
// the ledger.
func (c *Collection[K, V]) Invalidate(key K) {
	c.entries.Delete(key)
	c.ResetEnd()
}

// Clear drops every entry and position.
func (c *Collection[K, V]) Clear() {
	c.entries.Clear()
	c.mu.Lock()
	c.positions = map[int]K{}
	c.end = -1
	c.mu.Unlock()
}

// Window returns the cached values at positions [skip, skip+limit) in order,
// and whether every position in that range was present. Positions at or past
// a known end count as present.
func (c *Collection[K, V]) Window(skip, limit int) ([]V, bool) {
	if skip < 0 || limit <= 0 {
		return nil, limit == 0
	}
	c.mu.RLock()
	upper := skip + limit
	if c.end >= 0 && c.end < upper {
		upper = max(c.end, skip)
	}
	keys := make([]K, 0, upper-skip)
	complete := true
	for i := skip; i < upper; i++ {
		k, ok := c.positions[i]
		if !ok {
			complete = false
			continue
		}
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		v, ok := c.entries.Load(k)
		if !ok {
			complete = false
			continue
		}
		out = append(out, v)
	}
	if complete {
		c.rec.Hit(c.kind)
	} else {
		c.rec.Miss(c.kind)
	}
	return out, complete
}

// Head returns the cached values from position skip up to the first missing
// one, at most limit of them. It does not count as a hit or a miss.
func (c *Collection[K, V]) Head(skip, limit int) []V {
	if skip < 0 || limit <= 0 {
		return nil
	}
	c.mu.RLock()
	keys := make([]K, 0, limit)
	for i := skip; i < skip+limit; i++ {
		k, ok := c.positions[i]
		if !ok {
			break
		}
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		v, ok := c.entries.Load(k)
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// Len is the number of cached entries.
func (c *Collection[K, V]) Len() int {
	return c.entries.Size()
}

// Range calls fn for every entry until it returns false.
func (c *Collection[K, V]) Range(fn func(K, V) bool) {
	c.entries.Range(fn)
}
