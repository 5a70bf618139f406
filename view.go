package falcon

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

// Aggregate is the data a view shows at one point in time.
type Aggregate struct {
	View View

	// Data holds the counts of rows passing every filter and, for a passive
	// view, the brush. Its shape is the view's shape. Counts are exact unless
	// the instance interpolates brushes.
	Data *ndarray.Array[float64]

	// NoFilter holds the counts without the brush of the active view. For
	// initial aggregates it ignores every filter.
	NoFilter *ndarray.Counts

	// Generation is the index generation the data was resolved from.
	// Initial aggregates carry the generation current at the time.
	Generation uint64
}

// Total returns the sum of Data.
func (a Aggregate) Total() float64 {
	if a.Data == nil {
		return 0
	}
	return a.Data.Sum()
}

// Listener receives the aggregates of a view.
type Listener func(Aggregate)

// View is one of *View0D, *View1D or *View2D.
type View interface {
	// Name identifies the view, e.g. "count" or "delayxdistance".
	Name() string

	// Spec returns the dimensions of the view.
	Spec() model.ViewSpec

	// IsActive reports whether the view is the one being brushed.
	IsActive() bool

	// Aggregate returns the last aggregate pushed to the view.
	Aggregate() (Aggregate, bool)

	// OnChange registers a listener. Listeners run in registration order.
	OnChange(l Listener)

	view() *viewState
}

type viewState struct {
	f      *Falcon
	spec   model.ViewSpec
	active atomic.Bool

	mu        sync.Mutex
	listeners []Listener
	last      *Aggregate
	seq       uint64
}

func (s *viewState) addListeners(ls []Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range ls {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// push stores a and hands it to the listeners. seq orders the results of
// concurrent calls; a result older than the stored one is dropped.
func (s *viewState) push(a Aggregate, seq uint64) {
	s.mu.Lock()
	if seq < s.seq {
		s.mu.Unlock()
		return
	}
	s.seq = seq
	s.last = &a
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range ls {
		l(a)
	}
}

func (s *viewState) aggregate() (Aggregate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Aggregate{}, false
	}
	return *s.last, true
}

// View0D counts rows. It is never active.
type View0D struct {
	state viewState
}

func (v *View0D) Name() string                 { return v.state.spec.Name() }
func (v *View0D) Spec() model.ViewSpec         { return v.state.spec }
func (v *View0D) IsActive() bool               { return false }
func (v *View0D) Aggregate() (Aggregate, bool) { return v.state.aggregate() }
func (v *View0D) OnChange(l Listener)          { v.state.addListeners([]Listener{l}) }
func (v *View0D) view() *viewState             { return &v.state }

// View1D is a histogram over one dimension.
type View1D struct {
	state viewState
}

func (v *View1D) Name() string                 { return v.state.spec.Name() }
func (v *View1D) Spec() model.ViewSpec         { return v.state.spec }
func (v *View1D) IsActive() bool               { return v.state.active.Load() }
func (v *View1D) Aggregate() (Aggregate, bool) { return v.state.aggregate() }
func (v *View1D) OnChange(l Listener)          { v.state.addListeners([]Listener{l}) }
func (v *View1D) view() *viewState             { return &v.state }

// Dimension returns the binned dimension.
func (v *View1D) Dimension() *model.Dimension { return v.state.spec.Dimensions[0] }

// Activate makes the view the active one.
func (v *View1D) Activate(ctx context.Context) error { return v.state.f.Activate(ctx, v) }

// Select activates the view if needed and brushes iv.
func (v *View1D) Select(ctx context.Context, iv model.Interval) (map[View]Aggregate, error) {
	if err := v.Activate(ctx); err != nil {
		return nil, err
	}
	return v.state.f.ResolveBrush(ctx, model.Brush1D(iv))
}

// View2D is a heatmap over two dimensions.
type View2D struct {
	state viewState
}

func (v *View2D) Name() string                 { return v.state.spec.Name() }
func (v *View2D) Spec() model.ViewSpec         { return v.state.spec }
func (v *View2D) IsActive() bool               { return v.state.active.Load() }
func (v *View2D) Aggregate() (Aggregate, bool) { return v.state.aggregate() }
func (v *View2D) OnChange(l Listener)          { v.state.addListeners([]Listener{l}) }
func (v *View2D) view() *viewState             { return &v.state }

// Dimensions returns the x and y dimensions.
func (v *View2D) Dimensions() (x, y *model.Dimension) {
	return v.state.spec.Dimensions[0], v.state.spec.Dimensions[1]
}

// Activate makes the view the active one.
func (v *View2D) Activate(ctx context.Context) error { return v.state.f.Activate(ctx, v) }

// Select activates the view if needed and brushes the rectangle x by y.
func (v *View2D) Select(ctx context.Context, x, y model.Interval) (map[View]Aggregate, error) {
	if err := v.Activate(ctx); err != nil {
		return nil, err
	}
	return v.state.f.ResolveBrush(ctx, model.Brush2D{X: x, Y: y})
}

func activeDims(v View) []*model.Dimension {
	switch v := v.(type) {
	case *View1D:
		return []*model.Dimension{v.Dimension()}
	case *View2D:
		x, y := v.Dimensions()
		return []*model.Dimension{x, y}
	default:
		return nil
	}
}
