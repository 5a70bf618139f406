package model

import (
	"errors"
	"fmt"
)

// Kind distinguishes continuous from categorical dimensions.
type Kind int

const (
	// Continuous dimensions hold numbers and are binned by a BinConfig.
	Continuous Kind = iota
	// Categorical dimensions hold strings drawn from an ordered Range.
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	// DefaultMaxBins is the bin-count hint used when Dimension.Bins is zero.
	DefaultMaxBins = 20
	// DefaultResolution is the pixel resolution used when Dimension.Resolution is zero.
	DefaultResolution = 100
)

// ErrInvalidDimension is returned for dimensions that cannot be binned.
var ErrInvalidDimension = errors.New("model: invalid dimension")

// DimensionRange is what a backend reports about a column: the numeric extent
// for continuous dimensions, the distinct values for categorical ones.
type DimensionRange struct {
	Extent Interval
	Values []string
}

// Dimension is a column that views aggregate over. Dimensions are compared by
// identity: two *Dimension values with the same Name are different dimensions.
//
// Extent, Binning and Range may be supplied up front; whatever is missing is
// filled in by Init. Once set they are never re-derived.
type Dimension struct {
	Name string
	Kind Kind

	// Extent is the continuous domain. Nil means infer from the backend.
	Extent *Interval
	// Bins is the maximum number of bins used to derive Binning.
	Bins int
	// Binning is the continuous bin configuration. Nil means derive from Extent.
	Binning *BinConfig
	// Resolution is the number of pixels used when the dimension is brushed.
	Resolution int

	// Range is the ordered set of categorical values. Nil means infer.
	Range []string
}

// Initialized reports whether the dimension can be binned without a backend.
func (d *Dimension) Initialized() bool {
	switch d.Kind {
	case Categorical:
		return d.Range != nil
	default:
		return d.Extent != nil && d.Binning != nil
	}
}

// Init fills in missing binning information from r. Fields that are already
// set are left untouched.
func (d *Dimension) Init(r DimensionRange) error {
	switch d.Kind {
	case Continuous:
		inferred := false
		if d.Extent == nil {
			inferred = d.Binning == nil
			if d.Binning != nil {
				d.Extent = &Interval{Lo: d.Binning.Start, Hi: d.Binning.Stop}
			} else {
				e := r.Extent.Normalize()
				d.Extent = &e
			}
		}
		if d.Binning == nil {
			bins := d.Bins
			if bins <= 0 {
				bins = DefaultMaxBins
			}
			b := Bin(bins, *d.Extent)
			d.Binning = &b
			// A constant column has no span; widen it to its single bin.
			if inferred && d.Extent.Span() == 0 {
				d.Extent = &Interval{Lo: b.Start, Hi: b.Stop}
			}
		}
		if d.Resolution <= 0 {
			d.Resolution = DefaultResolution
		}
		return d.Validate()
	case Categorical:
		if d.Range == nil {
			d.Range = append([]string{}, r.Values...)
		}
		return d.Validate()
	default:
		return fmt.Errorf("%w: %q has unknown kind %v", ErrInvalidDimension, d.Name, d.Kind)
	}
}

// Validate checks that the dimension is fully initialized and consistent.
func (d *Dimension) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDimension)
	}
	switch d.Kind {
	case Continuous:
		if d.Extent == nil || d.Binning == nil {
			return fmt.Errorf("%w: %q is not initialized", ErrInvalidDimension, d.Name)
		}
		if err := d.Binning.Validate(); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidDimension, d.Name, err)
		}
		if !(d.Extent.Span() > 0) {
			return fmt.Errorf("%w: %q has empty extent %v", ErrInvalidDimension, d.Name, *d.Extent)
		}
	case Categorical:
		if d.Range == nil {
			return fmt.Errorf("%w: %q is not initialized", ErrInvalidDimension, d.Name)
		}
	default:
		return fmt.Errorf("%w: %q has unknown kind %v", ErrInvalidDimension, d.Name, d.Kind)
	}
	return nil
}

// NumBins returns the number of passive bins of the dimension.
func (d *Dimension) NumBins() int {
	if d.Kind == Categorical {
		return len(d.Range)
	}
	if d.Binning == nil {
		return 0
	}
	return d.Binning.NumBins()
}

// Pixels returns the pixel binning used when the dimension is active.
func (d *Dimension) Pixels() BinConfig {
	return PixelBinConfig(*d.Extent, d.Resolution)
}

// PixelPosition converts a data value into fractional pixel space, where 0 is
// the left edge of the extent.
func (d *Dimension) PixelPosition(v float64) float64 {
	return (v - d.Extent.Lo) / StepSize(*d.Extent, d.Resolution)
}

// CategoryIndex returns a lookup from categorical value to bin.
func (d *Dimension) CategoryIndex() map[string]int {
	idx := make(map[string]int, len(d.Range))
	for i, v := range d.Range {
		idx[v] = i
	}
	return idx
}

func (d *Dimension) String() string { return d.Name }
