// Package cube builds the cumulative count cubes that answer brushes.
//
// For every passive view a single pass over the rows not excluded by the
// other dimensions' masks counts each row at (pixel, passive bin) of the
// active dimension. The pixel grid starts one step before the extent, so
// pixel 0 is always empty and F[hi] - F[lo] counts [lo, hi). The counts are
// then prefix-summed along the pixel axes only.
//
// Passive views are built in parallel. A resource.Controller bounds the
// number of concurrent builds and the memory reserved for cubes.
package cube
