// Package model defines the core types shared by the Falcon index, its
// backends and callers.
//
// # Dimensions
//
//   - Dimension: a named column, either Continuous (binned numeric) or
//     Categorical (ordered distinct values)
//   - BinConfig: regular binning {Start, Step, Stop}, derived once per dimension
//   - Interval: closed-open numeric range [Lo, Hi)
//
// # Filters
//
//   - Range: continuous filter, rows with Lo <= v < Hi pass
//   - Set: categorical filter over included (or excluded) values
//   - Filters: at most one Filter per Dimension
//
// # Views and results
//
//   - ViewSpec: the dimensions a view aggregates over (0, 1 or 2)
//   - Cube: cumulative counts per active pixel plus the unbrushed histogram
//   - BinnedCounts: filtered and unfiltered counts for one view
//   - Brush1D / Brush2D: brush intervals in data space
//
// Binning a dimension:
//
//	d := &model.Dimension{Name: "delay", Kind: model.Continuous, Bins: 25, Resolution: 400}
//	err := d.Init(model.DimensionRange{Extent: model.Interval{Lo: -20, Hi: 140}})
//	// d.Binning == {Start: -20, Step: 10, Stop: 140}
package model
