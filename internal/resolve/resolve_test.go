package resolve

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/falcon/backend"
	"github.com/hupe1980/falcon/internal/cube"
	"github.com/hupe1980/falcon/internal/mask"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

type floats []float64

func (f floats) Len() int { return len(f) }
func (f floats) IsNull(i int) bool { return math.IsNaN(f[i]) }
func (f floats) Float(i int) float64 { return f[i] }
func (f floats) String(int) string { return "" }

type strs []string

func (s strs) Len() int { return len(s) }
func (s strs) IsNull(i int) bool { return s[i] == "" }
func (s strs) Float(int) float64 { return math.NaN() }
func (s strs) String(i int) string { return s[i] }

type source struct {
	rows int
	cols map[*model.Dimension]mask.Column
}

func (s *source) Rows() int { return s.rows }

func (s *source) Column(d *model.Dimension) (mask.Column, error) {
	c, ok := s.cols[d]
	if !ok {
		return nil, backend.NotFound(d.Name)
	}
	return c, nil
}

func dim(name string, lo, hi float64, resolution int) *model.Dimension {
	d := &model.Dimension{
		Name:       name,
		Extent:     &model.Interval{Lo: lo, Hi: hi},
		Bins:       int(hi - lo),
		Resolution: resolution,
	}
	if err := d.Init(model.DimensionRange{}); err != nil {
		panic(err)
	}
	return d
}

// pixelCube builds a 1D count cube from per-pixel counts.
func pixelCube(perPixel ...float64) model.Cube {
	f, err := ndarray.FromSlice(append([]float64{}, perPixel...), nil, nil, 0)
	if err != nil {
		panic(err)
	}
	f.CumulativeSum()
	total := ndarray.New[int64](1)
	total.Set(int64(f.Get(len(perPixel)-1)), 0)
	return model.Cube{Filter: f, NoFilter: total}
}

func TestResolve1D(t *testing.T) {
	// F = [0, 1, 3, 6, 10]
	c := pixelCube(0, 1, 2, 3, 4)

	out, err := Resolve(c, []model.Interval{{Lo: 1, Hi: 3}}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out.Shape())
	assert.Equal(t, 5.0, out.Get(0))

	out, err = Resolve(c, []model.Interval{{Lo: 0, Hi: 4}}, false)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.Get(0))

	// reversed edges are normalized
	out, err = Resolve(c, []model.Interval{{Lo: 3, Hi: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.Get(0))

	// empty brush
	out, err = Resolve(c, []model.Interval{{Lo: 2, Hi: 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Get(0))
}

func TestResolveFloorsFractionalEdges(t *testing.T) {
	c := pixelCube(0, 1, 2, 3, 4)

	out, err := Resolve(c, []model.Interval{{Lo: 1.5, Hi: 3.9}}, false)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.Get(0))
}

func TestResolveInterpolated(t *testing.T) {
	c := pixelCube(0, 1, 2, 3, 4)

	// F[3] - (F[1] + F[2]) / 2
	out, err := Resolve(c, []model.Interval{{Lo: 1.5, Hi: 3}}, true)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, out.Get(0), 1e-12)

	// whole-pixel edges agree with floor mode
	exact, err := Resolve(c, []model.Interval{{Lo: 1, Hi: 3}}, true)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, exact.Get(0), 1e-12)

	// the last pixel has no right neighbour
	out, err = Resolve(c, []model.Interval{{Lo: 0, Hi: 4}}, true)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, out.Get(0), 1e-12)
}

func TestResolveClipsToCube(t *testing.T) {
	c := pixelCube(0, 1, 2, 3, 4)

	out, err := Resolve(c, []model.Interval{{Lo: -10, Hi: 100}}, false)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.Get(0))

	out, err = Resolve(c, []model.Interval{{Lo: math.NaN(), Hi: 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Get(0))
}

func TestResolveSummedAreaTable(t *testing.T) {
	f := ndarray.New[float64](3, 3)
	f.Fill(1)
	f.CumulativeSum()
	total := ndarray.New[int64](1)
	total.Set(9, 0)
	c := model.Cube{Filter: f, NoFilter: total}

	// F[2,2] - F[2,1] - F[0,2] + F[0,1] = 9 - 6 - 3 + 2
	out, err := Resolve(c, []model.Interval{{Lo: 0, Hi: 2}, {Lo: 1, Hi: 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Get(0))

	out, err = Resolve(c, []model.Interval{{Lo: 0, Hi: 2}, {Lo: 0, Hi: 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.Get(0))
}

func TestResolvePassiveAxis(t *testing.T) {
	// two passive bins over pixels [0, 1, 2]
	f := ndarray.New[float64](3, 2)
	for p := 0; p < 3; p++ {
		f.Set(float64(p), p, 0)
		f.Set(float64(10*p), p, 1)
	}
	for b := 0; b < 2; b++ {
		f.Slice(ndarray.All, b).CumulativeSum()
	}
	nf := ndarray.New[int64](2)
	nf.Set(3, 0)
	nf.Set(30, 1)
	c := model.Cube{Filter: f, NoFilter: nf}

	out, err := Resolve(c, []model.Interval{{Lo: 1, Hi: 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 20}, out.Values())
}

func TestResolveShapeErrors(t *testing.T) {
	c := pixelCube(0, 1, 2)

	_, err := Resolve(c, nil, false)
	assert.ErrorIs(t, err, ErrBrushShape)

	_, err = Resolve(c, []model.Interval{{Lo: 0, Hi: 1}, {Lo: 0, Hi: 1}}, false)
	assert.ErrorIs(t, err, ErrBrushShape)

	_, err = Resolve(model.Cube{}, []model.Interval{{Lo: 0, Hi: 1}}, false)
	assert.ErrorIs(t, err, ErrBrushShape)

	// a 1D brush on a cube with two pixel axes leaves a pixel axis behind
	f := ndarray.New[float64](3, 3)
	_, err = Resolve(model.Cube{Filter: f, NoFilter: ndarray.New[int64](1)}, []model.Interval{{Lo: 0, Hi: 1}}, false)
	assert.ErrorIs(t, err, ErrBrushShape)
}

func TestPixels(t *testing.T) {
	x := dim("x", 0, 10, 10)

	px := Pixels(x, model.Interval{Lo: 2, Hi: 5})
	assert.Equal(t, model.Interval{Lo: 2, Hi: 5}, px)

	px = Pixels(x, model.Interval{Lo: 12, Hi: -3})
	assert.Equal(t, model.Interval{Lo: 0, Hi: 10}, px)

	// 0.3 / 0.1 is not exactly 3 in floating point
	y := dim("y", 0, 1, 10)
	px = Pixels(y, model.Interval{Lo: 0.3, Hi: 1})
	assert.Equal(t, 3.0, px.Lo)
	assert.Equal(t, 10.0, px.Hi)
}

func TestUnbrushed(t *testing.T) {
	nf := ndarray.New[int64](2)
	nf.Set(4, 1)
	out := Unbrushed(model.Cube{NoFilter: nf})
	assert.Equal(t, []float64{0, 4}, out.Values())
}

func TestResolveBuiltCube(t *testing.T) {
	x := dim("x", 0, 10, 10)
	src := &source{rows: 10, cols: map[*model.Dimension]mask.Column{
		x: floats{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	}}

	ix, err := cube.NewBuilder(src).Build(context.Background(), []*model.Dimension{x}, []model.ViewSpec{{}}, nil)
	require.NoError(t, err)
	defer ix.Release()
	c := ix.Cubes[0]

	out, err := Resolve1D(c, x, model.Brush1D{Lo: 2, Hi: 5}, false)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Get(0))

	// a brush over the whole extent equals the unbrushed count
	out, err = Resolve1D(c, x, model.Brush1D{Lo: 0, Hi: 10}, false)
	require.NoError(t, err)
	assert.Equal(t, Unbrushed(c).Values(), out.Values())
}

// TestResolveMatchesScan compares brushes on random grid data against a
// direct count of the rows inside the brush.
func TestResolveMatchesScan(t *testing.T) {
	const rows = 2000
	rng := rand.New(rand.NewPCG(7, 11))

	x := dim("x", 0, 10, 10)
	y := dim("y", 0, 10, 10)
	c := &model.Dimension{Name: "c", Kind: model.Categorical, Range: []string{"a", "b", "c"}}

	xs, ys := make(floats, rows), make(floats, rows)
	cs := make(strs, rows)
	for i := range xs {
		// quarter steps are exact in binary, keeping pixel edges unambiguous
		xs[i] = float64(rng.IntN(40)) / 4
		ys[i] = float64(rng.IntN(40)) / 4
		cs[i] = c.Range[rng.IntN(3)]
	}
	src := &source{rows: rows, cols: map[*model.Dimension]mask.Column{x: xs, y: ys, c: cs}}

	passive := []model.ViewSpec{{Dimensions: []*model.Dimension{c}}}

	ix1, err := cube.NewBuilder(src).Build(context.Background(), []*model.Dimension{x}, passive, nil)
	require.NoError(t, err)
	defer ix1.Release()

	ix2, err := cube.NewBuilder(src).Build(context.Background(), []*model.Dimension{x, y}, passive, nil)
	require.NoError(t, err)
	defer ix2.Release()

	for trial := 0; trial < 50; trial++ {
		a, b := rng.IntN(11), rng.IntN(11)
		u, v := rng.IntN(11), rng.IntN(11)
		bx := model.Interval{Lo: float64(a), Hi: float64(b)}.Normalize()
		by := model.Interval{Lo: float64(u), Hi: float64(v)}.Normalize()

		want1 := make([]float64, 3)
		want2 := make([]float64, 3)
		for i := range xs {
			if !bx.Contains(xs[i]) {
				continue
			}
			k := c.CategoryIndex()[cs[i]]
			want1[k]++
			if by.Contains(ys[i]) {
				want2[k]++
			}
		}

		got1, err := Resolve1D(ix1.Cubes[0], x, model.Brush1D(bx), false)
		require.NoError(t, err)
		assert.Equal(t, want1, got1.Values(), "brush %v", bx)

		got2, err := Resolve2D(ix2.Cubes[0], x, y, model.Brush2D{X: bx, Y: by}, false)
		require.NoError(t, err)
		assert.Equal(t, want2, got2.Values(), "brush %v x %v", bx, by)
	}
}
