package falcon

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/resolve"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

// Falcon coordinates the views of one dataset. At most one 1D or 2D view is
// active; while it is, every other view is answered from the index built for
// it, so brushing never rescans the data.
//
// Falcon is safe for concurrent use. Listeners run on the calling goroutine
// after the state lock is released and may call back into the instance.
type Falcon struct {
	db      backend.DB
	opts    options
	logger  *Logger
	metrics MetricsCollector

	// ctx scopes index builds; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	views   []View
	filters model.Filters
	active  View
	build   *build
	gen     uint64
	seq     uint64
	closed  bool
}

// build is one index build. Its fields are written before done is closed and
// are read-only afterwards.
type build struct {
	gen     uint64
	active  View
	passive []View
	done    chan struct{}

	cubes map[View]model.Cube
	err   error
}

func (b *build) finished() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// New creates a Falcon instance over db.
func New(db backend.DB, optFns ...Option) *Falcon {
	o := applyOptions(optFns)
	ctx, cancel := context.WithCancel(context.Background())
	return &Falcon{
		db:      db,
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
		ctx:     ctx,
		cancel:  cancel,
		filters: model.Filters{},
	}
}

// Count adds the count view. There is at most one; later calls return it and
// register the extra listeners.
func (f *Falcon) Count(listeners ...Listener) *View0D {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.views {
		if c, ok := v.(*View0D); ok {
			c.state.addListeners(listeners)
			return c
		}
	}
	v := &View0D{}
	f.addLocked(v, model.ViewSpec{}, listeners)
	return v
}

// View1D adds a histogram over d. Adding the same dimension twice returns the
// existing view.
func (f *Falcon) View1D(d *model.Dimension, listeners ...Listener) *View1D {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.views {
		if h, ok := v.(*View1D); ok && h.Dimension() == d {
			h.state.addListeners(listeners)
			return h
		}
	}
	v := &View1D{}
	f.addLocked(v, model.ViewSpec{Dimensions: []*model.Dimension{d}}, listeners)
	return v
}

// Link is an alias of View1D.
func (f *Falcon) Link(d *model.Dimension, listeners ...Listener) *View1D {
	return f.View1D(d, listeners...)
}

// View2D adds a heatmap over x and y.
func (f *Falcon) View2D(x, y *model.Dimension, listeners ...Listener) *View2D {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.views {
		if h, ok := v.(*View2D); ok {
			if hx, hy := h.Dimensions(); hx == x && hy == y {
				h.state.addListeners(listeners)
				return h
			}
		}
	}
	v := &View2D{}
	f.addLocked(v, model.ViewSpec{Dimensions: []*model.Dimension{x, y}}, listeners)
	return v
}

func (f *Falcon) addLocked(v View, spec model.ViewSpec, listeners []Listener) {
	s := v.view()
	s.f = f
	s.spec = spec
	s.addListeners(listeners)
	f.views = append(f.views, v)
	if f.active != nil && !f.closed {
		// the index lacks the new passive view
		f.rebuildLocked()
	}
}

// Views returns the views in the order they were added.
func (f *Falcon) Views() []View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.views)
}

// View looks a view up by name.
func (f *Falcon) View(name string) (View, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.views {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}

// Active returns the active view, or nil.
func (f *Falcon) Active() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Filters returns a copy of the current filters.
func (f *Falcon) Filters() model.Filters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filters.Clone()
}

// PassiveFilters returns the filters without those on the active view's own
// dimensions. These are the filters the index is built with.
func (f *Falcon) PassiveFilters() (model.Filters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, configErr("passive filters", "no active view")
	}
	return f.passiveFiltersLocked(), nil
}

func (f *Falcon) passiveFiltersLocked() model.Filters {
	return f.filters.Without(activeDims(f.active)...)
}

// Init derives the binning of every uninitialized dimension from the
// backend, then computes and pushes the initial aggregates.
func (f *Falcon) Init(ctx context.Context) (map[View]Aggregate, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	views := slices.Clone(f.views)
	f.mu.Unlock()

	seen := make(map[*model.Dimension]bool)
	for _, v := range views {
		for _, d := range v.Spec().Dimensions {
			if seen[d] {
				continue
			}
			seen[d] = true

			var r model.DimensionRange
			if !d.Initialized() {
				var err error
				if r, err = f.db.Range(ctx, d); err != nil {
					return nil, translateError("init", err)
				}
			}
			if err := d.Init(r); err != nil {
				return nil, &ConfigurationError{Op: "init", Reason: "invalid dimension", cause: err}
			}
		}
	}
	return f.InitialAggregates(ctx)
}

// InitialAggregates computes every view's counts under the current filters
// without consulting the index, and pushes them to the listeners.
func (f *Falcon) InitialAggregates(ctx context.Context) (map[View]Aggregate, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	views := slices.Clone(f.views)
	filters := f.filters.Clone()
	gen := f.gen
	f.mu.Unlock()

	aggs := make([]Aggregate, len(views))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers())
	for i, v := range views {
		g.Go(func() error {
			a, err := f.initial(gctx, v, filters)
			if err != nil {
				return fmt.Errorf("view %s: %w", v.Name(), err)
			}
			a.Generation = gen
			aggs[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, translateError("initial aggregates", err)
	}

	out := make(map[View]Aggregate, len(views))
	for i, v := range views {
		out[v] = aggs[i]
	}
	f.deliver(out, views)
	return out, nil
}

// All is an alias of InitialAggregates.
func (f *Falcon) All(ctx context.Context) (map[View]Aggregate, error) {
	return f.InitialAggregates(ctx)
}

func (f *Falcon) initial(ctx context.Context, v View, filters model.Filters) (Aggregate, error) {
	for _, d := range v.Spec().Dimensions {
		if !d.Initialized() {
			return Aggregate{}, configErr("initial aggregates", "dimension %q is not initialized", d.Name)
		}
	}

	var h model.BinnedCounts
	switch v := v.(type) {
	case *View0D:
		total, err := f.db.Length(ctx)
		if err != nil {
			return Aggregate{}, err
		}
		n, err := f.db.Count(ctx, filters)
		if err != nil {
			return Aggregate{}, err
		}
		h.Filter, h.NoFilter = ndarray.New[int64](1), ndarray.New[int64](1)
		h.Filter.Set(int64(n), 0)
		h.NoFilter.Set(int64(total), 0)
	case *View1D:
		var err error
		if h, err = f.db.Histogram(ctx, v.Dimension(), filters); err != nil {
			return Aggregate{}, err
		}
	case *View2D:
		x, y := v.Dimensions()
		var err error
		if h, err = f.db.Heatmap(ctx, x, y, filters); err != nil {
			return Aggregate{}, err
		}
	}
	return Aggregate{View: v, Data: ndarray.Convert[float64](h.Filter), NoFilter: h.NoFilter}, nil
}

// Activate makes v the active view and builds its index with every other view
// as passive. It returns once the index is built or ctx is done; in the latter
// case the build continues and ResolveBrush waits for it.
func (f *Falcon) Activate(ctx context.Context, v View) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if !slices.Contains(f.views, v) {
		f.mu.Unlock()
		return configErr("activate", "view %s does not belong to this instance", v.Name())
	}
	if _, ok := v.(*View0D); ok {
		f.mu.Unlock()
		return configErr("activate", "count views cannot be active")
	}
	for _, d := range activeDims(v) {
		if err := backend.CheckIndexable(d); err != nil {
			f.mu.Unlock()
			return err
		}
		if !d.Initialized() || d.Resolution <= 0 {
			f.mu.Unlock()
			return configErr("activate", "dimension %q is not initialized", d.Name)
		}
	}

	b := f.build
	if f.active != v || b == nil || (b.finished() && b.err != nil) {
		if f.active != nil {
			f.active.view().active.Store(false)
		}
		f.active = v
		v.view().active.Store(true)
		b = f.rebuildLocked()
		f.logger.LogActivate(ctx, v, len(b.passive), b.gen)
	}
	f.mu.Unlock()

	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rebuildLocked supersedes the current index with a new build.
func (f *Falcon) rebuildLocked() *build {
	f.gen++
	b := &build{gen: f.gen, active: f.active, done: make(chan struct{})}
	for _, v := range f.views {
		if v != f.active {
			b.passive = append(b.passive, v)
		}
	}
	f.build = b

	f.wg.Add(1)
	go f.runBuild(b, f.passiveFiltersLocked())
	return b
}

func (f *Falcon) runBuild(b *build, filters model.Filters) {
	defer f.wg.Done()
	defer close(b.done)

	specs := make([]model.ViewSpec, len(b.passive))
	for i, v := range b.passive {
		specs[i] = v.Spec()
	}

	start := time.Now()
	var (
		cubes map[int]model.Cube
		err   error
	)
	switch a := b.active.(type) {
	case *View1D:
		cubes, err = f.db.Index1D(f.ctx, a.Dimension(), specs, filters)
	case *View2D:
		x, y := a.Dimensions()
		cubes, err = f.db.Index2D(f.ctx, x, y, specs, filters)
	default:
		err = fmt.Errorf("%w: %T cannot be active", ErrUnsupported, a)
	}
	elapsed := time.Since(start)

	if err == nil {
		b.cubes = make(map[View]model.Cube, len(b.passive))
		for i, v := range b.passive {
			c, ok := cubes[i]
			if !ok {
				err = fmt.Errorf("falcon: backend returned no cube for view %s", v.Name())
				break
			}
			b.cubes[v] = c
		}
	}
	if err != nil {
		b.cubes = nil
		b.err = translateError("build index", err)
	}
	f.metrics.RecordBuild(len(b.passive), elapsed, err)
	f.logger.LogBuild(f.ctx, b.active, len(b.passive), b.gen, elapsed, err)

	f.mu.Lock()
	if f.build != b {
		b.cubes = nil
		f.logger.DebugContext(f.ctx, "discarding superseded index", "generation", b.gen)
	}
	f.mu.Unlock()
}

// SetFilter sets the filter of d. A change on any dimension other than the
// active view's own invalidates the index; it is rebuilt in the background
// and the next ResolveBrush waits for it. A nil filter clears d.
func (f *Falcon) SetFilter(ctx context.Context, d *model.Dimension, flt model.Filter) error {
	if flt == nil {
		return f.ClearFilter(ctx, d)
	}
	switch flt := flt.(type) {
	case model.Range:
		if d.Kind != model.Continuous {
			return configErr("set filter", "range filter on %s dimension %q", d.Kind, d.Name)
		}
		if math.IsNaN(flt.Lo) || math.IsNaN(flt.Hi) {
			return configErr("set filter", "NaN bound on %q", d.Name)
		}
	case model.Set:
		if d.Kind != model.Categorical {
			return configErr("set filter", "set filter on %s dimension %q", d.Kind, d.Name)
		}
	default:
		return configErr("set filter", "unsupported filter %T", flt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.filterChangedLocked(ctx, d, flt, f.setFilterLocked(d, flt))
	return nil
}

// ClearFilter removes the filter of d.
func (f *Falcon) ClearFilter(ctx context.Context, d *model.Dimension) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.filterChangedLocked(ctx, d, nil, f.setFilterLocked(d, nil))
	return nil
}

// setFilterLocked stores flt and reports whether it differs from the old
// filter of d.
func (f *Falcon) setFilterLocked(d *model.Dimension, flt model.Filter) bool {
	old, had := f.filters[d]
	switch {
	case flt == nil && !had:
		return false
	case flt != nil && had && old.Key() == flt.Key():
		return false
	}
	if flt == nil {
		delete(f.filters, d)
	} else {
		f.filters[d] = flt
	}
	return true
}

func (f *Falcon) filterChangedLocked(ctx context.Context, d *model.Dimension, flt model.Filter, changed bool) {
	rebuild := changed && f.active != nil && !slices.Contains(activeDims(f.active), d)
	if rebuild {
		f.rebuildLocked()
	}
	f.metrics.RecordFilter(d.Name, rebuild)
	f.logger.LogFilter(ctx, d, flt, rebuild)
}

// ResolveBrush answers every passive view for brush on the active view and
// pushes the results to their listeners. brush must match the active view: a
// Brush1D for a View1D, a Brush2D for a View2D. A nil brush clears the
// selection and yields the unbrushed counts.
//
// The brush becomes the filter of the active view's dimensions. If the index
// is being rebuilt, ResolveBrush waits for it.
func (f *Falcon) ResolveBrush(ctx context.Context, brush model.Brush) (map[View]Aggregate, error) {
	start := time.Now()
	b, out, err := f.resolve(ctx, brush)
	f.metrics.RecordResolve(len(out), time.Since(start), err)
	if b != nil {
		f.logger.LogResolve(ctx, b.active, brush, b.gen, err)
	}
	if err != nil {
		return nil, err
	}
	f.deliver(out, b.passive)
	return out, nil
}

func (f *Falcon) resolve(ctx context.Context, brush model.Brush) (*build, map[View]Aggregate, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, nil, ErrClosed
	}
	active := f.active
	if active == nil {
		f.mu.Unlock()
		return nil, nil, configErr("resolve brush", "no active view")
	}
	if err := checkBrush(active, brush); err != nil {
		f.mu.Unlock()
		return nil, nil, err
	}
	f.brushLocked(active, brush)
	b := f.build
	f.mu.Unlock()

	// Wait until the build we hold is the current one.
	for {
		select {
		case <-b.done:
		case <-ctx.Done():
			return b, nil, ctx.Err()
		}
		f.mu.Lock()
		cur := f.build
		f.mu.Unlock()
		if cur == nil {
			return b, nil, ErrClosed
		}
		if cur == b {
			break
		}
		b = cur
	}
	if b.active != active {
		return b, nil, configErr("resolve brush", "active view changed to %s", b.active.Name())
	}
	if b.err != nil {
		return b, nil, b.err
	}

	dims := activeDims(active)
	out := make(map[View]Aggregate, len(b.passive))
	for _, v := range b.passive {
		c := b.cubes[v]
		var (
			data *ndarray.Cumulative
			err  error
		)
		switch br := brush.(type) {
		case model.Brush1D:
			data, err = resolve.Resolve1D(c, dims[0], br, f.opts.interpolate)
		case model.Brush2D:
			data, err = resolve.Resolve2D(c, dims[0], dims[1], br, f.opts.interpolate)
		default:
			data = resolve.Unbrushed(c)
		}
		if err != nil {
			return b, nil, translateError("resolve brush", fmt.Errorf("view %s: %w", v.Name(), err))
		}
		out[v] = Aggregate{View: v, Data: data, NoFilter: c.NoFilter, Generation: b.gen}
	}
	return b, out, nil
}

func checkBrush(active View, brush model.Brush) error {
	switch brush.(type) {
	case nil:
		return nil
	case model.Brush1D:
		if _, ok := active.(*View1D); !ok {
			return configErr("resolve brush", "1D brush on 2D view %s", active.Name())
		}
	case model.Brush2D:
		if _, ok := active.(*View2D); !ok {
			return configErr("resolve brush", "2D brush on 1D view %s", active.Name())
		}
	default:
		return configErr("resolve brush", "unsupported brush %T", brush)
	}
	return nil
}

// brushLocked records brush as the filter of the active dimensions. It never
// invalidates the index, which is built without these filters.
func (f *Falcon) brushLocked(active View, brush model.Brush) {
	dims := activeDims(active)
	switch br := brush.(type) {
	case model.Brush1D:
		f.setFilterLocked(dims[0], model.Range(model.Interval(br).Normalize()))
	case model.Brush2D:
		f.setFilterLocked(dims[0], model.Range(br.X.Normalize()))
		f.setFilterLocked(dims[1], model.Range(br.Y.Normalize()))
	default:
		for _, d := range dims {
			f.setFilterLocked(d, nil)
		}
	}
}

// Entries returns up to length indices of rows passing every filter, the
// brush included, skipping the first offset.
func (f *Falcon) Entries(ctx context.Context, offset, length int) ([]int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	filters := f.filters.Clone()
	f.mu.Unlock()

	rows, err := f.db.Entries(ctx, offset, length, filters)
	return rows, translateError("entries", err)
}

// Close drops the index, waits for running builds and closes the backend if
// it holds resources. Close is idempotent.
func (f *Falcon) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.active != nil {
		f.active.view().active.Store(false)
		f.active = nil
	}
	f.build = nil
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	if c, ok := f.db.(backend.Closer); ok {
		return c.Close()
	}
	return nil
}

// deliver pushes aggregates to their views in view order.
func (f *Falcon) deliver(aggs map[View]Aggregate, order []View) {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	for _, v := range order {
		if a, ok := aggs[v]; ok {
			v.view().push(a, seq)
		}
	}
}

func (f *Falcon) workers() int {
	if n := f.opts.rc.BuildWorkers(); n > 0 {
		return n
	}
	return -1
}
