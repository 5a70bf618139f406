// Package backend defines the contract between the Falcon index and the data
// it aggregates.
//
// Two implementations ship with the module:
//
//   - backend/columnar scans an in-memory table (Arrow records or Go slices)
//   - backend/sqldb pushes grouped aggregates down to a SQL engine
//
// Cube shape contract (P = active resolution, B = passive bin counts):
//
//	active   passive   Filter shape              NoFilter shape
//	1D       count     [P+1]                     [1]
//	1D       1D        [P+1, B]                  [B]
//	1D       2D        [P+1, Bx, By]             [Bx, By]
//	2D       count     [Px+1, Py+1]              [1]
//	2D       1D        [Px+1, Py+1, B]           [B]
//	2D       2D        [Px+1, Py+1, Bx, By]      [Bx, By]
//
// Filter is cumulative along the pixel axes. Pixel 0 holds rows left of the
// active extent so that a brush starting at the left edge resolves to zero.
package backend
