package mask

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/falcon/internal/bitset"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/resource"
)

// ErrFilterKind is returned when a filter does not fit its dimension, e.g. a
// Range on a categorical dimension.
var ErrFilterKind = errors.New("mask: filter kind does not match dimension")

// Column is the read side of a dataset column.
type Column interface {
	Len() int
	IsNull(i int) bool
	Float(i int) float64
	String(i int) string
}

// ColumnFunc returns the column backing a dimension.
type ColumnFunc func(d *model.Dimension) (Column, error)

type key struct {
	dim    *model.Dimension
	filter string
}

type entry struct {
	mask *bitset.BitSet
	res  *resource.Reservation
}

// Stats are cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the cache to n masks, evicting the least recently
// used. Zero keeps the cache unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithResourceController charges mask memory against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Cache) { c.rc = rc }
}

// WithObserver is called on every lookup with whether it hit.
func WithObserver(fn func(hit bool)) Option {
	return func(c *Cache) { c.observe = fn }
}

// Cache maps (dimension, filter) to an exclusion mask. Masks are built lazily
// by scanning the dimension's column once and are shared read-only.
//
// Unbounded by default: the cache grows with the number of distinct filter
// values seen, which is the accepted cost of never rescanning a column for a
// filter it has seen before.
type Cache struct {
	rows       int
	columns    ColumnFunc
	maxEntries int
	rc         *resource.Controller
	observe    func(hit bool)

	mu      sync.RWMutex
	entries map[key]*entry
	lru     *lru.Cache[key, *entry]

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache for a dataset of rows rows.
func New(rows int, columns ColumnFunc, opts ...Option) (*Cache, error) {
	c := &Cache{
		rows:    rows,
		columns: columns,
		entries: make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEntries > 0 {
		l, err := lru.NewWithEvict(c.maxEntries, func(_ key, e *entry) { e.res.Release() })
		if err != nil {
			return nil, err
		}
		c.lru = l
	}
	return c, nil
}

// MaskFor returns the exclusion mask of filter on dim. Identical filter
// values return the identical *BitSet.
func (c *Cache) MaskFor(dim *model.Dimension, filter model.Filter) (*bitset.BitSet, error) {
	k := key{dim: dim, filter: filter.Key()}

	if e, ok := c.lookup(k); ok {
		c.hits.Add(1)
		c.notify(true)
		return e.mask, nil
	}
	c.misses.Add(1)
	c.notify(false)

	v, err, _ := c.group.Do(flightKey(k), func() (any, error) {
		if e, ok := c.lookup(k); ok {
			return e.mask, nil
		}
		m, err := c.build(dim, filter)
		if err != nil {
			return nil, err
		}
		res, err := c.rc.Reserve(maskBytes(m))
		if err != nil {
			return nil, err
		}
		c.store(k, &entry{mask: m, res: res})
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bitset.BitSet), nil
}

// Masks resolves every filter in filters.
func (c *Cache) Masks(filters model.Filters) (map[*model.Dimension]*bitset.BitSet, error) {
	out := make(map[*model.Dimension]*bitset.BitSet, len(filters))
	for _, d := range filters.Sorted() {
		m, err := c.MaskFor(d, filters[d])
		if err != nil {
			return nil, err
		}
		out[d] = m
	}
	return out, nil
}

// Invalidate drops every mask of dim.
func (c *Cache) Invalidate(dim *model.Dimension) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru != nil {
		for _, k := range c.lru.Keys() {
			if k.dim == dim {
				c.lru.Remove(k)
			}
		}
		return
	}
	for k, e := range c.entries {
		if k.dim == dim {
			e.res.Release()
			delete(c.entries, k)
		}
	}
}

// Purge drops every mask.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru != nil {
		c.lru.Purge()
		return
	}
	for k, e := range c.entries {
		e.res.Release()
		delete(c.entries, k)
	}
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	if c.lru != nil {
		n = c.lru.Len()
	}
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

func (c *Cache) lookup(k key) (*entry, bool) {
	if c.lru != nil {
		return c.lru.Get(k)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	return e, ok
}

func (c *Cache) store(k key, e *entry) {
	if c.lru != nil {
		c.lru.Add(k, e)
		return
	}
	c.mu.Lock()
	c.entries[k] = e
	c.mu.Unlock()
}

func (c *Cache) notify(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// build scans the column once. Null and NaN values never pass a filter.
func (c *Cache) build(dim *model.Dimension, filter model.Filter) (*bitset.BitSet, error) {
	col, err := c.columns(dim)
	if err != nil {
		return nil, err
	}
	if col.Len() != c.rows {
		return nil, fmt.Errorf("mask: column %q has %d rows, dataset has %d", dim.Name, col.Len(), c.rows)
	}

	m := bitset.New(c.rows)

	switch f := filter.(type) {
	case model.Range:
		if dim.Kind != model.Continuous {
			return nil, fmt.Errorf("%w: range on %s dimension %q", ErrFilterKind, dim.Kind, dim.Name)
		}
		r := model.Interval(f).Normalize()
		for i := 0; i < c.rows; i++ {
			if col.IsNull(i) {
				m.Set(i, true)
				continue
			}
			v := col.Float(i)
			if math.IsNaN(v) || v < r.Lo || v >= r.Hi {
				m.Set(i, true)
			}
		}
	case model.Set:
		if dim.Kind != model.Categorical {
			return nil, fmt.Errorf("%w: set on %s dimension %q", ErrFilterKind, dim.Kind, dim.Name)
		}
		accepts := f.Matcher()
		for i := 0; i < c.rows; i++ {
			if col.IsNull(i) || !accepts(col.String(i)) {
				m.Set(i, true)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported filter %T", ErrFilterKind, filter)
	}

	return m, nil
}

func flightKey(k key) string {
	return fmt.Sprintf("%p|%s", k.dim, k.filter)
}

func maskBytes(m *bitset.BitSet) int64 {
	return int64((m.Len() + 63) / 64 * 8)
}
