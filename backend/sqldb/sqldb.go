package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/cube"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

var _ backend.DB = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithDialect sets the SQL dialect. The default is ANSI.
func WithDialect(d Dialect) Option {
	return func(b *Backend) { b.gen.dialect = d }
}

// WithLogger logs every query with its duration at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithColumn maps a dimension name to a different column name.
func WithColumn(dimension, column string) Option {
	return func(b *Backend) { b.gen.columns[dimension] = column }
}

// WithRowID names the column that identifies rows. Entries needs it.
func WithRowID(column string) Option {
	return func(b *Backend) { b.rowID = column }
}

// WithMaxConcurrency bounds the number of queries in flight while building
// an index.
func WithMaxConcurrency(n int) Option {
	return func(b *Backend) { b.maxConcurrency = n }
}

// Backend pushes Falcon queries down to a SQL engine as grouped counts and
// reassembles the cubes from the results.
type Backend struct {
	exec           Executor
	gen            generator
	logger         *slog.Logger
	rowID          string
	maxConcurrency int
}

// New creates a backend over table, queried through exec.
func New(exec Executor, table string, opts ...Option) *Backend {
	b := &Backend{
		exec:           exec,
		gen:            generator{dialect: ANSI, table: table, columns: make(map[string]string)},
		logger:         slog.New(slog.DiscardHandler),
		maxConcurrency: 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Length implements backend.DB.
func (b *Backend) Length(ctx context.Context) (int, error) {
	return b.Count(ctx, nil)
}

// Count implements backend.DB.
func (b *Backend) Count(ctx context.Context, filters model.Filters) (int, error) {
	where, err := b.gen.where(filters)
	if err != nil {
		return 0, err
	}
	q := b.gen.render(query{selects: []string{"count(*) AS cnt"}, where: where})

	var n int64
	err = b.each(ctx, q, func(scan func(...any) error) error {
		return scan(&n)
	})
	return int(n), err
}

// Range implements backend.DB.
func (b *Backend) Range(ctx context.Context, d *model.Dimension) (model.DimensionRange, error) {
	col := b.gen.col(d)
	switch d.Kind {
	case model.Continuous:
		q := b.gen.render(query{selects: []string{"min(" + col + ") AS lo", "max(" + col + ") AS hi"}})
		var lo, hi sql.NullFloat64
		if err := b.each(ctx, q, func(scan func(...any) error) error {
			return scan(&lo, &hi)
		}); err != nil {
			return model.DimensionRange{}, b.dimErr(d, err)
		}
		if !lo.Valid || !hi.Valid {
			return model.DimensionRange{}, nil
		}
		return model.DimensionRange{Extent: model.Interval{Lo: lo.Float64, Hi: hi.Float64}}, nil
	case model.Categorical:
		q := b.gen.render(query{
			selects: []string{"DISTINCT " + col + " AS v"},
			where:   []string{col + " IS NOT NULL"},
			orderBy: "v",
		})
		var values []string
		if err := b.each(ctx, q, func(scan func(...any) error) error {
			var v string
			if err := scan(&v); err != nil {
				return err
			}
			values = append(values, v)
			return nil
		}); err != nil {
			return model.DimensionRange{}, b.dimErr(d, err)
		}
		if values == nil {
			values = []string{}
		}
		return model.DimensionRange{Values: values}, nil
	default:
		return model.DimensionRange{}, fmt.Errorf("%w: %q has unknown kind %v", model.ErrInvalidDimension, d.Name, d.Kind)
	}
}

// Histogram implements backend.DB.
func (b *Backend) Histogram(ctx context.Context, d *model.Dimension, filters model.Filters) (model.BinnedCounts, error) {
	return b.binned(ctx, model.ViewSpec{Dimensions: []*model.Dimension{d}}, filters)
}

// Heatmap implements backend.DB.
func (b *Backend) Heatmap(ctx context.Context, x, y *model.Dimension, filters model.Filters) (model.BinnedCounts, error) {
	return b.binned(ctx, model.ViewSpec{Dimensions: []*model.Dimension{x, y}}, filters)
}

func (b *Backend) binned(ctx context.Context, view model.ViewSpec, filters model.Filters) (model.BinnedCounts, error) {
	q, err := b.gen.viewQuery(nil, view, filters.Without(view.Dimensions...))
	if err != nil {
		return model.BinnedCounts{}, err
	}

	shape := view.Shape()
	out := model.BinnedCounts{
		Filter:   ndarray.New[int64](shape...),
		NoFilter: ndarray.New[int64](shape...),
	}
	dec := newDecoder(nil, view)
	err = b.each(ctx, q, func(scan func(...any) error) error {
		r, err := dec.scan(scan)
		if err != nil || !r.ok {
			return err
		}
		out.NoFilter.Increment(r.cnt, r.keys...)
		out.Filter.Increment(r.fcnt, r.keys...)
		return nil
	})
	if err != nil {
		return model.BinnedCounts{}, err
	}
	return out, nil
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
	for _, d := range active {
		if err := backend.CheckIndexable(d); err != nil {
			return nil, err
		}
		if d.Extent == nil || d.Resolution <= 0 {
			return nil, fmt.Errorf("sqldb: active dimension %q is not initialized", d.Name)
		}
	}
	if err := backend.CheckPassive(passive); err != nil {
		return nil, err
	}
	filters = filters.Without(active...)

	cubes := make([]model.Cube, len(passive))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.maxConcurrency, 1))
	for i, view := range passive {
		g.Go(func() error {
			c, err := b.cube(gctx, active, view, filters.Without(view.Dimensions...))
			if err != nil {
				return fmt.Errorf("sqldb: view %s: %w", view.Name(), err)
			}
			cubes[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int]model.Cube, len(cubes))
	for i, c := range cubes {
		out[i] = c
	}
	return out, nil
}

func (b *Backend) cube(ctx context.Context, active []*model.Dimension, view model.ViewSpec, filters model.Filters) (model.Cube, error) {
	q, err := b.gen.viewQuery(active, view, filters)
	if err != nil {
		return model.Cube{}, err
	}

	pixelShape := make([]int, len(active))
	for i, d := range active {
		pixelShape[i] = d.Resolution + 1
	}
	var passiveShape []int
	if view.Arity() > 0 {
		passiveShape = view.Shape()
	}

	filter := ndarray.New[float64](append(append([]int{}, pixelShape...), passiveShape...)...)
	noFilter := ndarray.New[int64](view.Shape()...)

	dec := newDecoder(active, view)
	err = b.each(ctx, q, func(scan func(...any) error) error {
		r, err := dec.scan(scan)
		if err != nil || !r.ok {
			return err
		}
		if view.Arity() == 0 {
			noFilter.Increment(r.cnt, 0)
		} else {
			noFilter.Increment(r.cnt, r.keys[len(active):]...)
		}
		if r.onScreen {
			filter.Increment(float64(r.cnt), r.keys...)
		}
		return nil
	})
	if err != nil {
		return model.Cube{}, err
	}

	cube.Cumulate(filter, len(active), passiveShape)
	return model.Cube{Filter: filter, NoFilter: noFilter}, nil
}

// Entries implements backend.DB. It needs a row id column, see WithRowID.
func (b *Backend) Entries(ctx context.Context, offset, length int, filters model.Filters) ([]int, error) {
	if b.rowID == "" {
		return nil, fmt.Errorf("%w: entries without a row id column", backend.ErrNotImplemented)
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("sqldb: negative offset %d or length %d", offset, length)
	}
	where, err := b.gen.where(filters)
	if err != nil {
		return nil, err
	}
	id := b.gen.dialect.QuoteIdent(b.rowID)
	q := b.gen.render(query{
		selects: []string{id},
		where:   where,
		orderBy: id,
		limit:   fmt.Sprintf("LIMIT %d OFFSET %d", length, offset),
	})

	out := []int{}
	err = b.each(ctx, q, func(scan func(...any) error) error {
		var v int64
		if err := scan(&v); err != nil {
			return err
		}
		out = append(out, int(v))
		return nil
	})
	return out, err
}

// each runs q and calls fn once per result row.
func (b *Backend) each(ctx context.Context, q string, fn func(scan func(...any) error) error) error {
	start := time.Now()
	rows, err := b.exec.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("sqldb: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqldb: %w", err)
	}

	b.logger.DebugContext(ctx, "query",
		slog.String("dialect", b.gen.dialect.Name()),
		slog.String("sql", q),
		slog.Int("rows", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (b *Backend) dimErr(d *model.Dimension, err error) error {
	return &backend.DimensionError{Dimension: d.Name, Err: err}
}

// decoder turns result rows of viewQuery into array coordinates.
type decoder struct {
	active []*model.Dimension
	view   model.ViewSpec

	cats    []map[string]int
	pixels  []float64
	keys    []float64
	strKeys []string
	dest    []any
	row     decodedRow
}

type decodedRow struct {
	keys     []int
	cnt      int64
	fcnt     int64
	ok       bool
	onScreen bool
}

func newDecoder(active []*model.Dimension, view model.ViewSpec) *decoder {
	d := &decoder{
		active:  active,
		view:    view,
		cats:    make([]map[string]int, view.Arity()),
		pixels:  make([]float64, len(active)),
		keys:    make([]float64, view.Arity()),
		strKeys: make([]string, view.Arity()),
	}
	for i := range d.pixels {
		d.dest = append(d.dest, &d.pixels[i])
	}
	for i, dim := range view.Dimensions {
		if dim.Kind == model.Categorical {
			d.cats[i] = dim.CategoryIndex()
			d.dest = append(d.dest, &d.strKeys[i])
		} else {
			d.dest = append(d.dest, &d.keys[i])
		}
	}
	d.dest = append(d.dest, &d.row.cnt, &d.row.fcnt)
	d.row.keys = make([]int, len(active)+view.Arity())
	return d
}

// scan decodes one row. The returned row is reused by the next call. Rows
// whose passive keys are out of range are reported with ok unset.
func (d *decoder) scan(scan func(...any) error) (*decodedRow, error) {
	if err := scan(d.dest...); err != nil {
		return nil, err
	}
	r := &d.row
	r.ok, r.onScreen = true, true

	for i, dim := range d.active {
		p := int(math.Floor(d.pixels[i]))
		last := dim.Resolution
		if p == last+1 {
			// rows on the closing edge belong to the last pixel
			p = last
		}
		if p < 0 || p > last {
			r.onScreen = false
			p = 0
		}
		r.keys[i] = p
	}

	na := len(d.active)
	for i, dim := range d.view.Dimensions {
		var k int
		if d.cats[i] != nil {
			v, ok := d.cats[i][d.strKeys[i]]
			if !ok {
				r.ok = false
				return r, nil
			}
			k = v
		} else {
			n := dim.NumBins()
			k = int(math.Floor(d.keys[i]))
			if k == n {
				k = n - 1
			}
			if k < 0 || k >= n {
				r.ok = false
				return r, nil
			}
		}
		r.keys[na+i] = k
	}
	return r, nil
}
