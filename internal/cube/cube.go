package cube

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/bitset"
	"github.com/hupe1980/falcon/internal/mask"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
	"github.com/hupe1980/falcon/resource"
)

// cancelCheckRows is how often a scan polls its context.
const cancelCheckRows = 1 << 16

// Source gives the builder row access to a dataset.
type Source interface {
	Rows() int
	Column(d *model.Dimension) (mask.Column, error)
}

// Masks holds the exclusion mask of every filtered dimension.
type Masks map[*model.Dimension]*bitset.BitSet

// Relevant unions the masks of all dimensions the view does not aggregate
// over. A nil result excludes nothing.
func (m Masks) Relevant(view model.ViewSpec) *bitset.BitSet {
	var ms []*bitset.BitSet
	for d, bs := range m {
		if !view.Has(d) {
			ms = append(ms, bs)
		}
	}
	return bitset.Union(ms...)
}

// Option configures a Builder.
type Option func(*Builder)

// WithResourceController bounds build concurrency and cube memory.
func WithResourceController(rc *resource.Controller) Option {
	return func(b *Builder) { b.rc = rc }
}

// WithLogger sets the logger for build diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// Builder computes Falcon cubes by scanning a Source.
type Builder struct {
	src    Source
	rc     *resource.Controller
	logger *slog.Logger
}

// NewBuilder creates a builder over src.
func NewBuilder(src Source, opts ...Option) *Builder {
	b := &Builder{
		src:    src,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Index is the result of a build. It holds memory reserved for its cubes
// until Release is called.
type Index struct {
	Cubes map[int]model.Cube

	res []*resource.Reservation
}

// Release returns the index's memory to the resource controller. The cubes
// stay readable.
func (ix *Index) Release() {
	if ix == nil {
		return
	}
	for _, r := range ix.res {
		r.Release()
	}
	ix.res = nil
}

// Build computes one cube per passive view, keyed by position in passive.
// masks must not contain the active dimensions: a brushed dimension never
// filters against itself.
//
// Passive views are built in parallel and share the masks read-only.
func (b *Builder) Build(ctx context.Context, active []*model.Dimension, passive []model.ViewSpec, masks Masks) (*Index, error) {
	if len(active) < 1 || len(active) > 2 {
		return nil, fmt.Errorf("%w: %d active dimensions", backend.ErrNotImplemented, len(active))
	}
	for _, d := range active {
		if err := backend.CheckIndexable(d); err != nil {
			return nil, err
		}
	}
	if err := backend.CheckPassive(passive); err != nil {
		return nil, err
	}

	ix := &Index{Cubes: make(map[int]model.Cube, len(passive))}
	if len(passive) == 0 {
		return ix, nil
	}

	start := time.Now()

	pixels := make([][]int32, len(active))
	pixelShape := make([]int, len(active))
	for k, d := range active {
		px, err := b.pixelBins(ctx, d)
		if err != nil {
			return nil, err
		}
		pixels[k] = px
		pixelShape[k] = d.Resolution + 1
	}

	cubes := make([]model.Cube, len(passive))
	reservations := make([]*resource.Reservation, len(passive))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, view := range passive {
		g.Go(func() error {
			if err := b.rc.AcquireBuild(gctx); err != nil {
				return err
			}
			defer b.rc.ReleaseBuild()

			c, res, err := b.buildView(gctx, view, pixels, pixelShape, masks.Relevant(view))
			if err != nil {
				return fmt.Errorf("cube: view %s: %w", view.Name(), err)
			}
			cubes[i], reservations[i] = c, res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range reservations {
			r.Release()
		}
		return nil, err
	}

	for i, c := range cubes {
		ix.Cubes[i] = c
	}
	ix.res = reservations

	b.logger.DebugContext(ctx, "cubes built",
		slog.Int("views", len(passive)),
		slog.Int("rows", b.src.Rows()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return ix, nil
}

// pixelBins maps every row to its pixel on d, or -1 when the row is null or
// outside [extent.lo - step, extent.hi].
func (b *Builder) pixelBins(ctx context.Context, d *model.Dimension) ([]int32, error) {
	if d.Extent == nil || d.Resolution <= 0 {
		return nil, fmt.Errorf("cube: active dimension %q is not initialized", d.Name)
	}
	col, err := b.src.Column(d)
	if err != nil {
		return nil, err
	}

	n := b.src.Rows()
	cfg := d.Pixels()
	last := d.Resolution

	out := make([]int32, n)
	for i := 0; i < n; i++ {
		if i%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = -1
		if col.IsNull(i) {
			continue
		}
		v := col.Float(i)
		p := cfg.Index(v)
		if p == last+1 && v <= d.Extent.Hi {
			p = last
		}
		if p >= 0 && p <= last {
			out[i] = int32(p)
		}
	}
	return out, nil
}

func (b *Builder) buildView(ctx context.Context, view model.ViewSpec, pixels [][]int32, pixelShape []int, relevant *bitset.BitSet) (model.Cube, *resource.Reservation, error) {
	binners, passiveShape, err := binnersFor(b.src, view)
	if err != nil {
		return model.Cube{}, nil, err
	}

	filterShape := append(append([]int{}, pixelShape...), passiveShape...)
	noFilterShape := view.Shape()

	res, err := b.rc.Reserve(int64(8 * (product(filterShape) + product(noFilterShape))))
	if err != nil {
		return model.Cube{}, nil, err
	}

	filter := ndarray.New[float64](filterShape...)
	noFilter := ndarray.New[int64](noFilterShape...)

	na := len(pixels)
	idx := make([]int, len(filterShape))
	nidx := make([]int, len(noFilterShape))

	rows := b.src.Rows()
	for row := 0; row < rows; row++ {
		if row%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				res.Release()
				return model.Cube{}, nil, err
			}
		}
		if bitset.Excluded(relevant, row) {
			continue
		}

		inRange := true
		for k, bin := range binners {
			v := bin(row)
			if v < 0 {
				inRange = false
				break
			}
			idx[na+k] = v
			nidx[k] = v
		}
		if !inRange {
			continue
		}

		// The unbrushed baseline counts the row whatever its pixel.
		noFilter.Increment(1, nidx...)

		onScreen := true
		for k, px := range pixels {
			p := px[row]
			if p < 0 {
				onScreen = false
				break
			}
			idx[k] = int(p)
		}
		if onScreen {
			filter.Increment(1, idx...)
		}
	}

	Cumulate(filter, na, passiveShape)

	return model.Cube{Filter: filter, NoFilter: noFilter}, res, nil
}

// Cumulate prefix-sums filter along its leading pixel axes, separately for
// every passive bin.
func Cumulate(filter *ndarray.Cumulative, pixelAxes int, passiveShape []int) {
	if len(passiveShape) == 0 {
		filter.CumulativeSum()
		return
	}
	if product(passiveShape) == 0 {
		return
	}

	sel := make([]int, pixelAxes+len(passiveShape))
	for k := 0; k < pixelAxes; k++ {
		sel[k] = ndarray.All
	}
	coord := sel[pixelAxes:]
	for {
		filter.Slice(sel...).CumulativeSum()

		k := len(coord) - 1
		for ; k >= 0; k-- {
			coord[k]++
			if coord[k] < passiveShape[k] {
				break
			}
			coord[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
