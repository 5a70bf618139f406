// Package resolve answers brush queries against Falcon cubes.
//
// A brush is evaluated in pixel space, where pixel k of an active dimension
// is the left edge of its k-th pixel. The cumulative filter array holds at
// F[k] the count of rows strictly left of that edge, so a 1D brush [a, b) is
// F[b] - F[a] and a 2D brush is the four-corner difference of a summed-area
// table. Both cost one pass over the passive bins, independent of the number
// of rows.
package resolve

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

// ErrBrushShape is returned when a brush does not have one interval per
// pixel axis of the cube.
var ErrBrushShape = errors.New("resolve: brush does not match cube")

// snapEpsilon absorbs rounding when a brush edge sits on a pixel edge.
const snapEpsilon = 1e-9

// Unbrushed returns the passive counts of a cube when nothing is brushed.
func Unbrushed(c model.Cube) *ndarray.Cumulative {
	return ndarray.Convert[float64](c.NoFilter)
}

// Pixels converts the data-space interval iv on d into fractional pixel
// space, clamped to [0, Resolution]. Brush parts outside the extent are
// clipped.
func Pixels(d *model.Dimension, iv model.Interval) model.Interval {
	iv = iv.Normalize()
	last := float64(d.Resolution)
	return model.Interval{
		Lo: clamp(snap(d.PixelPosition(iv.Lo)), 0, last),
		Hi: clamp(snap(d.PixelPosition(iv.Hi)), 0, last),
	}
}

// Resolve1D evaluates a brush on a cube with one active dimension d.
func Resolve1D(c model.Cube, d *model.Dimension, b model.Brush1D, interpolate bool) (*ndarray.Cumulative, error) {
	px := Pixels(d, model.Interval(b))
	return Resolve(c, []model.Interval{px}, interpolate)
}

// Resolve2D evaluates a brush on a cube with active dimensions x and y.
func Resolve2D(c model.Cube, x, y *model.Dimension, b model.Brush2D, interpolate bool) (*ndarray.Cumulative, error) {
	return Resolve(c, []model.Interval{Pixels(x, b.X), Pixels(y, b.Y)}, interpolate)
}

// Resolve evaluates a brush given in pixel space, one interval per pixel axis
// of c. Without interpolation the brush edges snap down to whole pixels;
// with it, fractional edges blend the neighbouring prefix sums linearly.
//
// The result has the shape of c.NoFilter.
func Resolve(c model.Cube, brush []model.Interval, interpolate bool) (*ndarray.Cumulative, error) {
	if c.Filter == nil || c.NoFilter == nil {
		return nil, fmt.Errorf("%w: empty cube", ErrBrushShape)
	}
	fshape := c.Filter.Shape()
	na := len(brush)
	if na < 1 || na > len(fshape) {
		return nil, fmt.Errorf("%w: %d brush axes for filter shape %v", ErrBrushShape, na, fshape)
	}

	out := ndarray.New[float64](fshape[na:]...)

	// Inclusion-exclusion over the 2^na brush corners: a corner contributes
	// with a negative sign for every axis on which it takes the low edge.
	corner := make([]float64, na)
	for mask := 0; mask < 1<<na; mask++ {
		sign := 1.0
		for k := 0; k < na; k++ {
			last := float64(fshape[k] - 1)
			iv := brush[k].Normalize()
			if mask&(1<<k) != 0 {
				corner[k] = clamp(iv.Lo, 0, last)
				sign = -sign
			} else {
				corner[k] = clamp(iv.Hi, 0, last)
			}
		}
		if err := sample(out, c.Filter, fshape, corner, sign, interpolate); err != nil {
			return nil, err
		}
	}

	if len(fshape) == na {
		// A count view resolves to a scalar; report it with the [1] shape of
		// its NoFilter.
		v := out.Get()
		out = ndarray.New[float64](1)
		out.Set(v, 0)
	}

	if !slices.Equal(out.Shape(), c.NoFilter.Shape()) {
		return nil, fmt.Errorf("%w: filter shape %v does not extend %v", ErrBrushShape, fshape, c.NoFilter.Shape())
	}
	return out, nil
}

// sample adds sign times F at the fractional pixel coordinate pos to acc.
// Without interpolation pos is floored; with it, F is blended over the
// 2^len(pos) surrounding whole pixels.
func sample(acc, f *ndarray.Cumulative, fshape []int, pos []float64, sign float64, interpolate bool) error {
	na := len(pos)
	lo := make([]int, na)
	frac := make([]float64, na)
	for k, p := range pos {
		lo[k] = int(math.Floor(p))
		if interpolate {
			frac[k] = p - float64(lo[k])
		}
	}

	idx := make([]int, na)
	for mask := 0; mask < 1<<na; mask++ {
		w := sign
		for k := 0; k < na; k++ {
			idx[k] = lo[k]
			if mask&(1<<k) != 0 {
				w *= frac[k]
				if idx[k] < fshape[k]-1 {
					idx[k]++
				}
			} else {
				w *= 1 - frac[k]
			}
		}
		if w == 0 {
			continue
		}
		if err := acc.AddScaled(f.Slice(idx...), w); err != nil {
			return err
		}
	}
	return nil
}

func snap(p float64) float64 {
	if r := math.Round(p); math.Abs(p-r) < snapEpsilon {
		return r
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
