// Package ndarray provides strided N-dimensional numeric arrays.
//
// An Array is a view over one contiguous buffer described by a shape, a stride
// per axis and an offset. Slicing never copies: the returned Array shares the
// buffer with its parent, so mutating a slice mutates the parent. Arithmetic
// (Add, Sub) always allocates a new contiguous buffer.
//
// Two kinds are used by the Falcon index:
//
//   - Counts (int64): histogram bins and totals
//   - Cumulative (float64): prefix-summed cubes indexed by pixel
//
// Memory layout of a [3, 4] row-major array:
//
//	stride = [4, 1], offset = 0
//	┌────┬────┬────┬────┐
//	│ 0  │ 1  │ 2  │ 3  │  row 0
//	│ 4  │ 5  │ 6  │ 7  │  row 1
//	│ 8  │ 9  │ 10 │ 11 │  row 2
//	└────┴────┴────┴────┘
//
// Slice(All, 2) selects column 2: shape = [3], stride = [4], offset = 2.
//
// Indices outside an array's shape panic with *IndexError. Callers are expected
// to bin-check before indexing; At is the checked variant.
package ndarray
