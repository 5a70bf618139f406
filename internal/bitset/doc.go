// Package bitset provides fixed-length row-exclusion bitsets.
//
// Semantics:
//   - One bit per dataset row; length is fixed at the row count
//   - Bit set = row excluded by a filter
//   - Union = OR of exclusions; an empty union is nil ("include everything")
//
// Used internally for:
//   - Per-dimension filter masks (see internal/mask)
//   - Relevant-row masks during cube builds
package bitset
