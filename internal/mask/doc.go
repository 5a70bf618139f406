// Package mask caches per-dimension filter masks.
//
// A mask is a bitset over all rows where a set bit means the row fails the
// dimension's filter. Masks are keyed by (dimension identity, filter key), so
// re-applying a filter value that was seen before costs a map lookup instead
// of a column scan. Concurrent misses on the same key are collapsed into one
// scan.
package mask
