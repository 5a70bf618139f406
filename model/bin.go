package model

import (
	"fmt"
	"math"
)

// Interval is a numeric range [Lo, Hi).
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Normalize returns the interval with Lo <= Hi.
func (i Interval) Normalize() Interval {
	if i.Lo > i.Hi {
		return Interval{Lo: i.Hi, Hi: i.Lo}
	}
	return i
}

// Span returns Hi - Lo.
func (i Interval) Span() float64 { return i.Hi - i.Lo }

// Contains reports whether Lo <= v < Hi.
func (i Interval) Contains(v float64) bool { return v >= i.Lo && v < i.Hi }

func (i Interval) String() string { return fmt.Sprintf("[%g, %g)", i.Lo, i.Hi) }

// BinConfig describes regular bins of width Step covering [Start, Stop).
type BinConfig struct {
	Start float64 `json:"start"`
	Step  float64 `json:"step"`
	Stop  float64 `json:"stop"`
}

// NumBins returns the number of bins. A trailing partial bin counts as a bin.
func (b BinConfig) NumBins() int {
	if b.Step <= 0 {
		return 0
	}
	n := (b.Stop - b.Start) / b.Step
	return int(math.Ceil(n - 1e-9))
}

// Index returns the bin number for v. It may be negative or >= NumBins for
// values outside the configuration; callers bin-check.
func (b BinConfig) Index(v float64) int {
	return int(math.Floor((v - b.Start) / b.Step))
}

// Bin returns the bin of v and whether it falls into [Start, Stop]. A value
// equal to Stop belongs to the last bin.
func (b BinConfig) Bin(v float64) (int, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	i := b.Index(v)
	n := b.NumBins()
	if i == n && v <= b.Stop {
		i = n - 1
	}
	return i, i >= 0 && i < n
}

// Position returns the fractional bin position of v.
func (b BinConfig) Position(v float64) float64 {
	return (v - b.Start) / b.Step
}

// BinStart returns the start of bin i in data space.
func (b BinConfig) BinStart(i int) float64 {
	return b.Start + float64(i)*b.Step
}

// Validate reports an invalid configuration.
func (b BinConfig) Validate() error {
	if !(b.Step > 0) || math.IsInf(b.Step, 0) {
		return fmt.Errorf("model: bin step must be positive, got %g", b.Step)
	}
	if !(b.Stop > b.Start) {
		return fmt.Errorf("model: bin stop %g must exceed start %g", b.Stop, b.Start)
	}
	return nil
}

// StepSize returns the width of one of n equal parts of extent.
func StepSize(extent Interval, n int) float64 {
	return extent.Span() / float64(n)
}

// PixelBinConfig returns the pixel binning for a dimension drawn at the given
// resolution. The start is shifted one pixel left so that Index maps values
// below the extent to pixel 0 and the first in-extent pixel to 1; pixel 0 is
// the sentinel that makes a brush starting at the left edge resolve to zero.
func PixelBinConfig(extent Interval, pixels int) BinConfig {
	step := StepSize(extent, pixels)
	return BinConfig{
		Start: extent.Lo - step,
		Step:  step,
		Stop:  extent.Hi,
	}
}

// Bin derives a "nice" binning of extent with at most maxBins bins. Steps are
// powers of ten, optionally divided by 5 or 2, and the bounds snap outwards to
// multiples of the step.
func Bin(maxBins int, extent Interval) BinConfig {
	const base = 10.0

	extent = extent.Normalize()
	if maxBins < 1 {
		maxBins = 1
	}
	lo, hi := extent.Lo, extent.Hi
	span := hi - lo
	if span == 0 {
		if lo == 0 {
			span = 1
		} else {
			span = math.Abs(lo)
		}
	}

	logb := math.Log(base)
	maxb := float64(maxBins)
	level := math.Ceil(math.Log(maxb) / logb)
	step := math.Pow(base, math.Round(math.Log(span)/logb)-level)

	// increase step size if too many bins
	for math.Ceil(span/step) > maxb {
		step *= base
	}

	// decrease step size if allowed
	for _, div := range []float64{5, 2} {
		if v := step / div; span/v <= maxb {
			step = v
		}
	}

	precision := 0.0
	if v := math.Log(step); v < 0 {
		precision = math.Trunc(-v/logb) + 1
	}
	eps := math.Pow(base, -precision-1)

	v := math.Floor(lo/step+eps) * step
	if lo < v {
		lo = v - step
	} else {
		lo = v
	}
	hi = math.Ceil(hi/step) * step
	if hi == lo {
		hi = lo + step
	}

	return BinConfig{Start: lo, Step: step, Stop: hi}
}
