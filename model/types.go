package model

import (
	"slices"
	"strings"

	"github.com/hupe1980/falcon/ndarray"
)

// ViewSpec lists the dimensions a view aggregates over: none for a count,
// one for a histogram, two for a heatmap.
type ViewSpec struct {
	Dimensions []*Dimension
}

// Arity returns the number of dimensions.
func (v ViewSpec) Arity() int { return len(v.Dimensions) }

// Has reports whether d is one of the view's dimensions.
func (v ViewSpec) Has(d *Dimension) bool { return slices.Contains(v.Dimensions, d) }

// Shape returns the bin count of every dimension, or [1] for a count view.
func (v ViewSpec) Shape() []int {
	if len(v.Dimensions) == 0 {
		return []int{1}
	}
	shape := make([]int, len(v.Dimensions))
	for i, d := range v.Dimensions {
		shape[i] = d.NumBins()
	}
	return shape
}

// Name derives a readable view name from its dimensions.
func (v ViewSpec) Name() string {
	if len(v.Dimensions) == 0 {
		return "count"
	}
	names := make([]string, len(v.Dimensions))
	for i, d := range v.Dimensions {
		names[i] = d.Name
	}
	return strings.Join(names, "x")
}

// Cube is the index entry of one passive view.
//
// Filter has one leading pixel axis per active dimension (Resolution+1 each)
// followed by the passive bin axes, and is cumulative along the pixel axes.
// NoFilter is the plain histogram of the passive view, unaffected by the brush.
type Cube struct {
	Filter   *ndarray.Cumulative
	NoFilter *ndarray.Counts
}

// BinnedCounts are per-bin counts for one view. Filter counts rows passing all
// filters other than the view's own; NoFilter counts every row.
type BinnedCounts struct {
	Filter   *ndarray.Counts
	NoFilter *ndarray.Counts
}

// Brush is a selection on the active view, in data space.
type Brush interface {
	isBrush()
}

// Brush1D selects an interval on a one-dimensional active view.
type Brush1D Interval

func (Brush1D) isBrush() {}

// Brush2D selects a rectangle on a two-dimensional active view.
type Brush2D struct {
	X Interval
	Y Interval
}

func (Brush2D) isBrush() {}
