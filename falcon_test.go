package falcon_test

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/falcon"
	"github.com/hupe1980/falcon/backend/columnar"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
	"github.com/hupe1980/falcon/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// table is x = 0..9 and c alternating a/b.
func table(t *testing.T) *columnar.Store {
	t.Helper()
	s := columnar.NewStore()
	require.NoError(t, s.AddFloat64("x", []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, nil))
	require.NoError(t, s.AddString("c", []string{"a", "b", "a", "b", "a", "b", "a", "b", "a", "b"}, nil))
	return s
}

type fixture struct {
	f       *falcon.Falcon
	metrics *falcon.BasicMetricsCollector
	x, c    *model.Dimension
	count   *falcon.View0D
	hx      *falcon.View1D
	hc      *falcon.View1D
}

func newFixture(t *testing.T, opts ...falcon.Option) *fixture {
	t.Helper()
	db, err := columnar.New(table(t))
	require.NoError(t, err)

	fx := &fixture{
		metrics: &falcon.BasicMetricsCollector{},
		x:       &model.Dimension{Name: "x", Binning: &model.BinConfig{Start: 0, Step: 1, Stop: 10}, Resolution: 10},
		c:       &model.Dimension{Name: "c", Kind: model.Categorical},
	}
	fx.f = falcon.New(db, append([]falcon.Option{falcon.WithMetricsCollector(fx.metrics)}, opts...)...)
	t.Cleanup(func() { require.NoError(t, fx.f.Close()) })

	fx.count = fx.f.Count()
	fx.hx = fx.f.View1D(fx.x)
	fx.hc = fx.f.View1D(fx.c)

	_, err = fx.f.Init(context.Background())
	require.NoError(t, err)
	return fx
}

func values(a falcon.Aggregate) []float64 { return a.Data.Values() }

func TestInit(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, []string{"a", "b"}, fx.c.Range)
	assert.Equal(t, model.Interval{Lo: 0, Hi: 10}, *fx.x.Extent)

	a, ok := fx.count.Aggregate()
	require.True(t, ok)
	assert.Equal(t, 10.0, a.Total())
	assert.Equal(t, []int64{10}, a.NoFilter.Values())

	a, ok = fx.hc.Aggregate()
	require.True(t, ok)
	assert.Equal(t, []float64{5, 5}, values(a))

	a, ok = fx.hx.Aggregate()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, values(a))
	assert.Zero(t, a.Generation)
}

func TestViews(t *testing.T) {
	fx := newFixture(t)

	assert.Same(t, fx.count, fx.f.Count())
	assert.Same(t, fx.hx, fx.f.View1D(fx.x))
	assert.Same(t, fx.hx, fx.f.Link(fx.x))
	assert.Len(t, fx.f.Views(), 3)

	v, ok := fx.f.View("c")
	require.True(t, ok)
	assert.Same(t, fx.hc, v)
	_, ok = fx.f.View("nope")
	assert.False(t, ok)

	assert.Equal(t, "count", fx.count.Name())
	assert.Same(t, fx.x, fx.hx.Dimension())
}

func TestBrush(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	var got []falcon.Aggregate
	fx.count.OnChange(func(a falcon.Aggregate) { got = append(got, a) })

	out, err := fx.hx.Select(ctx, model.Interval{Lo: 2, Hi: 5})
	require.NoError(t, err)

	assert.True(t, fx.hx.IsActive())
	assert.Same(t, fx.hx, fx.f.Active())
	assert.NotContains(t, out, falcon.View(fx.hx))

	assert.Equal(t, []float64{3}, values(out[fx.count]))
	assert.Equal(t, []float64{2, 1}, values(out[fx.hc]))
	assert.Equal(t, []int64{5, 5}, out[fx.hc].NoFilter.Values())
	assert.Equal(t, uint64(1), out[fx.hc].Generation)

	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Total())

	filters := fx.f.Filters()
	assert.Equal(t, model.Range{Lo: 2, Hi: 5}, filters[fx.x])

	passive, err := fx.f.PassiveFilters()
	require.NoError(t, err)
	assert.Empty(t, passive)
}

func TestBrushFullDomainEqualsNoFilter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	out, err := fx.hx.Select(ctx, model.Interval{Lo: 0, Hi: 10})
	require.NoError(t, err)
	for v, a := range out {
		assert.Equal(t, ndarray.Convert[float64](a.NoFilter).Values(), values(a), v.Name())
	}
}

func TestBrushClamped(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	out, err := fx.hx.Select(ctx, model.Interval{Lo: -100, Hi: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(out[fx.count]))

	// reversed bounds are normalized
	out, err = fx.hx.Select(ctx, model.Interval{Lo: 7, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values(out[fx.count]))
}

func TestCrossFilter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.hx.Activate(ctx))
	require.NoError(t, fx.f.SetFilter(ctx, fx.c, model.Set{Values: []string{"a"}}))

	out, err := fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values(out[fx.count]))
	assert.Equal(t, uint64(2), out[fx.count].Generation)

	// the c view does not filter against itself
	assert.Equal(t, []float64{2, 1}, values(out[fx.hc]))

	passive, err := fx.f.PassiveFilters()
	require.NoError(t, err)
	assert.Equal(t, model.Filters{fx.c: model.Set{Values: []string{"a"}}}, passive)

	rows, err := fx.f.Entries(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, rows)

	stats := fx.metrics.GetStats()
	assert.Equal(t, int64(1), stats.FilterRebuilds)
	assert.Equal(t, int64(2), stats.BuildCount)
	assert.Zero(t, stats.BuildErrors)

	require.NoError(t, fx.f.ClearFilter(ctx, fx.c))
	out, err = fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(out[fx.count]))
	assert.Equal(t, uint64(3), out[fx.count].Generation)
}

func TestSameFilterDoesNotRebuild(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.hx.Activate(ctx))
	require.NoError(t, fx.f.SetFilter(ctx, fx.c, model.Set{Values: []string{"a", "b"}}))
	require.NoError(t, fx.f.SetFilter(ctx, fx.c, model.Set{Values: []string{"b", "a"}}))

	stats := fx.metrics.GetStats()
	assert.Equal(t, int64(2), stats.FilterCount)
	assert.Equal(t, int64(1), stats.FilterRebuilds)
}

func TestFilterActiveDimensionDoesNotRebuild(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.hx.Activate(ctx))
	require.NoError(t, fx.f.SetFilter(ctx, fx.x, model.Range{Lo: 1, Hi: 2}))

	assert.Zero(t, fx.metrics.GetStats().FilterRebuilds)
	assert.Equal(t, int64(1), fx.metrics.GetStats().BuildCount)

	require.NoError(t, fx.f.SetFilter(ctx, fx.x, nil))
	assert.NotContains(t, fx.f.Filters(), fx.x)
}

func TestRevisitedFilterHitsMaskCache(t *testing.T) {
	ctx := context.Background()
	db, err := columnar.New(table(t))
	require.NoError(t, err)
	f := falcon.New(db)
	defer f.Close()

	x := &model.Dimension{Name: "x", Binning: &model.BinConfig{Start: 0, Step: 1, Stop: 10}, Resolution: 10}
	c := &model.Dimension{Name: "c", Kind: model.Categorical}
	count := f.Count()
	hx := f.View1D(x)
	f.View1D(c)
	_, err = f.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, hx.Activate(ctx))

	want := map[string]float64{"a": 2, "b": 1}
	for _, v := range []string{"a", "b", "a", "b"} {
		require.NoError(t, f.SetFilter(ctx, c, model.Set{Values: []string{v}}))
		out, err := f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
		require.NoError(t, err)
		assert.Equal(t, []float64{want[v]}, values(out[count]), v)
	}

	stats := db.MaskStats()
	assert.Equal(t, int64(2), stats.Misses, "each value is scanned once")
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, 2, stats.Entries)
}

func TestFilterBeforeActivation(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.f.SetFilter(ctx, fx.c, model.Set{Values: []string{"b"}}))
	aggs, err := fx.f.InitialAggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, values(aggs[fx.count]))
	assert.Equal(t, []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}, values(aggs[fx.hx]))
	assert.Equal(t, []float64{5, 5}, values(aggs[fx.hc]))
	assert.Zero(t, fx.metrics.GetStats().FilterRebuilds)
}

func TestNilBrush(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.hx.Select(ctx, model.Interval{Lo: 2, Hi: 5})
	require.NoError(t, err)

	out, err := fx.f.ResolveBrush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{10}, values(out[fx.count]))
	assert.Equal(t, []float64{5, 5}, values(out[fx.hc]))
	assert.NotContains(t, fx.f.Filters(), fx.x)
}

func TestInterpolation(t *testing.T) {
	ctx := context.Background()

	fx := newFixture(t)
	out, err := fx.hx.Select(ctx, model.Interval{Lo: 2.5, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(out[fx.count]))

	fx = newFixture(t, falcon.WithInterpolation(true))
	out, err = fx.hx.Select(ctx, model.Interval{Lo: 2.5, Hi: 5})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, out[fx.count].Total(), 1e-9)
}

func TestAddViewWhileActive(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	require.NoError(t, fx.hx.Activate(ctx))

	// a second histogram over the active column with coarser bins
	coarse := &model.Dimension{Name: "x", Extent: &model.Interval{Lo: 0, Hi: 10}, Binning: &model.BinConfig{Start: 0, Step: 5, Stop: 10}}
	hy := fx.f.View1D(coarse)

	out, err := fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 3, Hi: 7})
	require.NoError(t, err)
	require.Contains(t, out, falcon.View(hy))
	assert.Equal(t, []float64{2, 2}, values(out[hy]))
	assert.Equal(t, int64(2), fx.metrics.GetStats().BuildCount)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	t.Run("count cannot be active", func(t *testing.T) {
		assert.ErrorIs(t, fx.f.Activate(ctx, fx.count), falcon.ErrConfiguration)
	})

	t.Run("no active view", func(t *testing.T) {
		_, err := fx.f.PassiveFilters()
		assert.ErrorIs(t, err, falcon.ErrConfiguration)

		_, err = fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 0, Hi: 1})
		assert.ErrorIs(t, err, falcon.ErrConfiguration)
	})

	t.Run("categorical active", func(t *testing.T) {
		assert.ErrorIs(t, fx.hc.Activate(ctx), falcon.ErrUnsupported)
	})

	t.Run("foreign view", func(t *testing.T) {
		other := newFixture(t)
		assert.ErrorIs(t, fx.f.Activate(ctx, other.hx), falcon.ErrConfiguration)
	})

	t.Run("brush shape", func(t *testing.T) {
		require.NoError(t, fx.hx.Activate(ctx))
		_, err := fx.f.ResolveBrush(ctx, model.Brush2D{X: model.Interval{Lo: 0, Hi: 1}, Y: model.Interval{Lo: 0, Hi: 1}})
		assert.ErrorIs(t, err, falcon.ErrConfiguration)
		assert.Equal(t, int64(2), fx.metrics.GetStats().ResolveErrors)
	})

	t.Run("filter kind", func(t *testing.T) {
		assert.ErrorIs(t, fx.f.SetFilter(ctx, fx.c, model.Range{Lo: 0, Hi: 1}), falcon.ErrConfiguration)
		assert.ErrorIs(t, fx.f.SetFilter(ctx, fx.x, model.Set{Values: []string{"a"}}), falcon.ErrConfiguration)
	})
}

func TestInitUnknownDimension(t *testing.T) {
	db, err := columnar.New(table(t))
	require.NoError(t, err)
	f := falcon.New(db)
	defer f.Close()

	f.View1D(&model.Dimension{Name: "nope"})
	_, err = f.Init(context.Background())
	require.ErrorIs(t, err, falcon.ErrConfiguration)

	var ce *falcon.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "init", ce.Op)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	require.NoError(t, fx.hx.Activate(ctx))

	require.NoError(t, fx.f.Close())
	require.NoError(t, fx.f.Close())

	assert.False(t, fx.hx.IsActive())
	assert.Nil(t, fx.f.Active())
	assert.ErrorIs(t, fx.hx.Activate(ctx), falcon.ErrClosed)
	_, err := fx.f.ResolveBrush(ctx, nil)
	assert.ErrorIs(t, err, falcon.ErrClosed)
	assert.ErrorIs(t, fx.f.SetFilter(ctx, fx.x, model.Range{Lo: 0, Hi: 1}), falcon.ErrClosed)
	_, err = fx.f.Entries(ctx, 0, 1)
	assert.ErrorIs(t, err, falcon.ErrClosed)
	_, err = fx.f.InitialAggregates(ctx)
	assert.ErrorIs(t, err, falcon.ErrClosed)
}

func TestCrossFilterMatchesScan(t *testing.T) {
	ctx := context.Background()
	tbl, err := testutil.Flights(testutil.NewRNG(42), 2000)
	require.NoError(t, err)
	db, err := columnar.New(tbl)
	require.NoError(t, err)

	f := falcon.New(db)
	defer f.Close()

	delay := &model.Dimension{Name: "delay", Binning: &model.BinConfig{Start: -20, Step: 10, Stop: 180}, Resolution: 800}
	distance := &model.Dimension{Name: "distance", Binning: &model.BinConfig{Start: 0, Step: 100, Stop: 2500}, Resolution: 250}
	hour := &model.Dimension{Name: "hour", Binning: &model.BinConfig{Start: 0, Step: 1, Stop: 24}, Resolution: 24}
	carrier := &model.Dimension{Name: "carrier", Kind: model.Categorical}

	f.Count()
	hDelay := f.View1D(delay)
	f.View1D(carrier)
	f.View1D(hour)
	heat := f.View2D(distance, hour)

	_, err = f.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, f.SetFilter(ctx, carrier, model.Set{Values: []string{"WN"}, Exclude: true}))

	check := func(t *testing.T, out map[falcon.View]falcon.Aggregate) {
		t.Helper()
		filters := f.Filters()
		var brushed []*model.Dimension
		switch a := f.Active().(type) {
		case *falcon.View1D:
			brushed = append(brushed, a.Dimension())
		case *falcon.View2D:
			x, y := a.Dimensions()
			brushed = append(brushed, x, y)
		}
		for v, a := range out {
			// a view ignores its own filter but not the brush
			own := model.Filters{}
			for _, d := range v.Spec().Dimensions {
				if _, ok := filters[d]; ok && !slices.Contains(brushed, d) {
					own[d] = filters[d]
				}
			}
			var drop []*model.Dimension
			for d := range own {
				drop = append(drop, d)
			}
			want, err := testutil.ScanHistogram(tbl, v.Spec(), filters.Without(drop...))
			require.NoError(t, err)
			assert.Equal(t, ndarray.Convert[float64](want).Values(), values(a), v.Name())
		}
	}

	t.Run("1D", func(t *testing.T) {
		prev := -1.0
		for _, hi := range []float64{-20, 12.5, 30, 75.25, 179} {
			out, err := hDelay.Select(ctx, model.Interval{Lo: -20, Hi: hi})
			require.NoError(t, err)
			check(t, out)

			var total float64
			for v, a := range out {
				if v.Spec().Arity() == 0 {
					total = a.Total()
				}
			}
			assert.GreaterOrEqual(t, total, prev, "widening a brush never removes rows")
			prev = total
		}
	})

	t.Run("2D", func(t *testing.T) {
		out, err := heat.Select(ctx, model.Interval{Lo: 500, Hi: 1730}, model.Interval{Lo: 6, Hi: 18})
		require.NoError(t, err)
		check(t, out)

		require.NoError(t, f.SetFilter(ctx, delay, model.Range{Lo: 0, Hi: 60}))
		out, err = f.ResolveBrush(ctx, model.Brush2D{X: model.Interval{Lo: 200, Hi: 2400}, Y: model.Interval{Lo: 0, Hi: 9}})
		require.NoError(t, err)
		check(t, out)

		_, err = f.ResolveBrush(ctx, model.Brush1D{Lo: 0, Hi: 1})
		assert.ErrorIs(t, err, falcon.ErrConfiguration)
	})
}

// blockingDB holds index builds until release is closed.
type blockingDB struct {
	*columnar.Backend
	started chan struct{}
	release chan struct{}
}

func (b *blockingDB) Index1D(ctx context.Context, active *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Backend.Index1D(ctx, active, passive, filters)
}

func newBlocking(t *testing.T) (*blockingDB, *fixture) {
	t.Helper()
	db, err := columnar.New(table(t))
	require.NoError(t, err)
	bdb := &blockingDB{Backend: db, started: make(chan struct{}, 8), release: make(chan struct{})}

	fx := &fixture{
		metrics: &falcon.BasicMetricsCollector{},
		x:       &model.Dimension{Name: "x", Binning: &model.BinConfig{Start: 0, Step: 1, Stop: 10}, Resolution: 10},
		c:       &model.Dimension{Name: "c", Kind: model.Categorical},
	}
	fx.f = falcon.New(bdb, falcon.WithMetricsCollector(fx.metrics))
	fx.count = fx.f.Count()
	fx.hx = fx.f.View1D(fx.x)
	fx.hc = fx.f.View1D(fx.c)
	_, err = fx.f.Init(context.Background())
	require.NoError(t, err)
	return bdb, fx
}

func TestPendingBuild(t *testing.T) {
	db, fx := newBlocking(t)
	defer fx.f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, fx.hx.Activate(ctx), context.DeadlineExceeded)
	assert.True(t, fx.hx.IsActive())

	type result struct {
		out map[falcon.View]falcon.Aggregate
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fx.f.ResolveBrush(context.Background(), model.Brush1D{Lo: 2, Hi: 5})
		done <- result{out, err}
	}()

	select {
	case <-done:
		t.Fatal("resolved before the index was built")
	case <-time.After(20 * time.Millisecond):
	}

	close(db.release)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []float64{3}, values(r.out[fx.count]))
}

func TestSupersededBuild(t *testing.T) {
	ctx := context.Background()
	db, fx := newBlocking(t)
	defer fx.f.Close()

	go func() { _ = fx.hx.Activate(ctx) }()
	<-db.started

	// invalidates the pending build before it finished
	require.NoError(t, fx.f.SetFilter(ctx, fx.c, model.Set{Values: []string{"a"}}))
	close(db.release)

	out, err := fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values(out[fx.count]))
	assert.Equal(t, uint64(2), out[fx.count].Generation)
}

func TestResolveCanceled(t *testing.T) {
	db, fx := newBlocking(t)
	defer fx.f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = fx.hx.Activate(context.Background()) }()
	<-db.started

	cancel()
	_, err := fx.f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseDuringBuild(t *testing.T) {
	db, fx := newBlocking(t)

	errc := make(chan error, 1)
	go func() { errc <- fx.hx.Activate(context.Background()) }()
	<-db.started

	require.NoError(t, fx.f.Close())
	assert.Error(t, <-errc)
}

type flakyDB struct {
	*columnar.Backend
	failures atomic.Int32
}

var errFlaky = errors.New("index unavailable")

func (d *flakyDB) Index1D(ctx context.Context, active *model.Dimension, passive []model.ViewSpec, filters model.Filters) (map[int]model.Cube, error) {
	if d.failures.Add(-1) >= 0 {
		return nil, errFlaky
	}
	return d.Backend.Index1D(ctx, active, passive, filters)
}

func TestFailedBuild(t *testing.T) {
	ctx := context.Background()
	db, err := columnar.New(table(t))
	require.NoError(t, err)
	fdb := &flakyDB{Backend: db}
	fdb.failures.Store(1)

	metrics := &falcon.BasicMetricsCollector{}
	f := falcon.New(fdb, falcon.WithMetricsCollector(metrics))
	defer f.Close()
	x := &model.Dimension{Name: "x", Binning: &model.BinConfig{Start: 0, Step: 1, Stop: 10}, Resolution: 10}
	count := f.Count()
	hx := f.View1D(x)
	_, err = f.Init(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, hx.Activate(ctx), errFlaky)
	_, err = f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	assert.ErrorIs(t, err, errFlaky, "no partial index is served")

	// activating again retries the build
	require.NoError(t, hx.Activate(ctx))
	out, err := f.ResolveBrush(ctx, model.Brush1D{Lo: 2, Hi: 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(out[count]))
}
