package columnar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/bitset"
	"github.com/hupe1980/falcon/internal/cube"
	"github.com/hupe1980/falcon/internal/mask"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/resource"
)

// ErrClosed is returned by a closed backend.
var ErrClosed = errors.New("columnar: backend closed")

// cancelCheckRows is how often a scan polls its context.
const cancelCheckRows = 1 << 16

var (
	_ backend.DB     = (*Backend)(nil)
	_ backend.Closer = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*options)

type options struct {
	maskCacheSize int
	logger        *slog.Logger
	rc            *resource.Controller
	onMask        func(hit bool)
}

// WithMaskCacheSize bounds the filter mask cache to n masks. Zero, the
// default, keeps every mask.
func WithMaskCacheSize(n int) Option {
	return func(o *options) { o.maskCacheSize = n }
}

// WithLogger sets the logger for scan diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResourceController bounds build concurrency and the memory held by
// cubes and masks.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithMaskCacheObserver is called on every mask lookup with whether it hit.
func WithMaskCacheObserver(fn func(hit bool)) Option {
	return func(o *options) { o.onMask = fn }
}

// Backend answers Falcon queries by scanning an in-memory Table.
//
// It owns a filter mask cache and the most recent cube index: the memory of
// an index is returned to the resource controller when the next index is
// built or the backend is closed.
type Backend struct {
	table   Table
	masks   *mask.Cache
	builder *cube.Builder
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	seq     uint64
	last    *cube.Index
	lastSeq uint64
	entries struct {
		key string
		rows *roaring.Bitmap
	}
}

// New creates a backend over table.
func New(table Table, opts ...Option) (*Backend, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Backend{table: table, logger: o.logger}

	cacheOpts := []mask.Option{mask.WithResourceController(o.rc)}
	if o.maskCacheSize > 0 {
		cacheOpts = append(cacheOpts, mask.WithMaxEntries(o.maskCacheSize))
	}
	if o.onMask != nil {
		cacheOpts = append(cacheOpts, mask.WithObserver(o.onMask))
	}
	c, err := mask.New(table.NumRows(), b.Column, cacheOpts...)
	if err != nil {
		return nil, err
	}
	b.masks = c

	b.builder = cube.NewBuilder(b,
		cube.WithResourceController(o.rc),
		cube.WithLogger(o.logger),
	)
	return b, nil
}

// Rows returns the number of rows of the table.
func (b *Backend) Rows() int { return b.table.NumRows() }

// Column returns the column backing d.
func (b *Backend) Column(d *model.Dimension) (mask.Column, error) {
	col, err := b.table.Column(d.Name)
	if errors.Is(err, ErrNoColumn) {
		return nil, backend.NotFound(d.Name)
	}
	if err != nil {
		return nil, &backend.DimensionError{Dimension: d.Name, Err: err}
	}
	if col.Len() != b.table.NumRows() {
		return nil, &backend.DimensionError{
			Dimension: d.Name,
			Err:       fmt.Errorf("%w: %d rows, table has %d", ErrLength, col.Len(), b.table.NumRows()),
		}
	}
	return col, nil
}

// Invalidate drops the cached masks of d. Masks are keyed by filter value and
// never go stale; this only frees memory, for example after a dimension is no
// longer shown.
func (b *Backend) Invalidate(d *model.Dimension) { b.masks.Invalidate(d) }

// MaskStats returns the filter mask cache counters.
func (b *Backend) MaskStats() mask.Stats { return b.masks.Stats() }

// Length implements backend.DB.
func (b *Backend) Length(context.Context) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	return b.table.NumRows(), nil
}

// Count implements backend.DB.
func (b *Backend) Count(ctx context.Context, filters model.Filters) (int, error) {
	rows, err := b.included(ctx, filters)
	if err != nil {
		return 0, err
	}
	return int(rows.GetCardinality()), nil
}

// Range implements backend.DB. A continuous column without values reports an
// empty extent at zero.
func (b *Backend) Range(ctx context.Context, d *model.Dimension) (model.DimensionRange, error) {
	if err := b.check(); err != nil {
		return model.DimensionRange{}, err
	}
	col, err := b.Column(d)
	if err != nil {
		return model.DimensionRange{}, err
	}

	n := col.Len()
	switch d.Kind {
	case model.Continuous:
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			if i%cancelCheckRows == 0 {
				if err := ctx.Err(); err != nil {
					return model.DimensionRange{}, err
				}
			}
			if col.IsNull(i) {
				continue
			}
			v := col.Float(i)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo, hi = min(lo, v), max(hi, v)
		}
		if lo > hi {
			return model.DimensionRange{}, nil
		}
		return model.DimensionRange{Extent: model.Interval{Lo: lo, Hi: hi}}, nil
	case model.Categorical:
		seen := make(map[string]struct{})
		for i := 0; i < n; i++ {
			if i%cancelCheckRows == 0 {
				if err := ctx.Err(); err != nil {
					return model.DimensionRange{}, err
				}
			}
			if col.IsNull(i) {
				continue
			}
			seen[col.String(i)] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		slices.Sort(values)
		return model.DimensionRange{Values: values}, nil
	default:
		return model.DimensionRange{}, fmt.Errorf("%w: %q has unknown kind %v", model.ErrInvalidDimension, d.Name, d.Kind)
	}
}

// Histogram implements backend.DB.
func (b *Backend) Histogram(ctx context.Context, d *model.Dimension, filters model.Filters) (model.BinnedCounts, error) {
	return b.histogram(ctx, model.ViewSpec{Dimensions: []*model.Dimension{d}}, filters)
}

// Heatmap implements backend.DB.
func (b *Backend) Heatmap(ctx context.Context, x, y *model.Dimension, filters model.Filters) (model.BinnedCounts, error) {
	return b.histogram(ctx, model.ViewSpec{Dimensions: []*model.Dimension{x, y}}, filters)
}

func (b *Backend) histogram(ctx context.Context, view model.ViewSpec, filters model.Filters) (model.BinnedCounts, error) {
	if err := b.check(); err != nil {
		return model.BinnedCounts{}, err
	}
	masks, err := b.masks.Masks(filters.Without(view.Dimensions...))
	if err != nil {
		return model.BinnedCounts{}, err
	}
	return cube.Histogram(ctx, b, view, masks)
}

// Index1D implements backend.DB.
func (b *Backend) Index1D(ctx context.Context, active *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error) {
	return b.index(ctx, []*model.Dimension{active}, passive, filters)
}

// Index2D implements backend.DB.
func (b *Backend) Index2D(ctx context.Context, x, y *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error) {
	return b.index(ctx, []*model.Dimension{x, y}, passive, filters)
}

func (b *Backend) index(ctx context.Context, active []*model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	masks, err := b.masks.Masks(filters.Without(active...))
	if err != nil {
		return nil, err
	}

	seq := b.begin()
	ix, err := b.builder.Build(ctx, active, passive, masks)
	if err != nil {
		return nil, err
	}
	if err := b.install(seq, ix); err != nil {
		return nil, err
	}
	return ix.Cubes, nil
}

// begin numbers a new build and frees the budget of the installed index,
// which the new build supersedes.
func (b *Backend) begin() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.last.Release()
	return b.seq
}

// install keeps ix as the last index unless a later build is already
// installed, in which case ix only gives its memory back.
func (b *Backend) install(seq uint64, ix *cube.Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		ix.Release()
		return ErrClosed
	case seq < b.lastSeq:
		ix.Release()
		return nil
	}
	b.last.Release()
	b.last, b.lastSeq = ix, seq
	return nil
}

// Entries implements backend.DB. Rows are returned in ascending order.
func (b *Backend) Entries(ctx context.Context, offset, length int, filters model.Filters) ([]int, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("columnar: negative offset %d or length %d", offset, length)
	}
	rows, err := b.included(ctx, filters)
	if err != nil {
		return nil, err
	}
	if uint64(offset) >= rows.GetCardinality() || length == 0 {
		return []int{}, nil
	}

	first, err := rows.Select(uint32(offset))
	if err != nil {
		return nil, err
	}
	it := rows.Iterator()
	it.AdvanceIfNeeded(first)

	out := make([]int, 0, min(length, int(rows.GetCardinality())-offset))
	for it.HasNext() && len(out) < length {
		out = append(out, int(it.Next()))
	}
	return out, nil
}

// included returns the rows passing all filters. The result of the last
// filter combination is kept.
func (b *Backend) included(ctx context.Context, filters model.Filters) (*roaring.Bitmap, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	key := filtersKey(filters)

	b.mu.Lock()
	if b.entries.rows != nil && b.entries.key == key {
		rows := b.entries.rows
		b.mu.Unlock()
		return rows, nil
	}
	b.mu.Unlock()

	masks, err := b.masks.Masks(filters)
	if err != nil {
		return nil, err
	}
	ms := make([]*bitset.BitSet, 0, len(masks))
	for _, m := range masks {
		ms = append(ms, m)
	}
	excluded := bitset.Union(ms...)

	n := b.table.NumRows()
	rows := roaring.New()
	if excluded == nil {
		rows.AddRange(0, uint64(n))
	} else {
		for i := excluded.NextClear(0); i >= 0 && i < n; i = excluded.NextClear(i + 1) {
			if i%cancelCheckRows == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			rows.Add(uint32(i))
		}
	}
	rows.RunOptimize()

	b.mu.Lock()
	b.entries.key, b.entries.rows = key, rows
	b.mu.Unlock()
	return rows, nil
}

// Close releases the last cube index and every cached mask.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.last.Release()
	b.last = nil
	b.entries.key, b.entries.rows = "", nil
	b.masks.Purge()
	b.logger.Debug("columnar backend closed", slog.Int("rows", b.table.NumRows()))
	return nil
}

func (b *Backend) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func filtersKey(filters model.Filters) string {
	var sb strings.Builder
	for _, d := range filters.Sorted() {
		fmt.Fprintf(&sb, "%p=%s;", d, filters[d].Key())
	}
	return sb.String()
}
