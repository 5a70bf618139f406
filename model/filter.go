package model

import (
	"slices"
	"strconv"
	"strings"
)

// Filter restricts the rows of one dimension.
type Filter interface {
	// Key identifies the filter value; equal filters have equal keys.
	Key() string

	isFilter()
}

// Range keeps rows whose value lies in [Lo, Hi).
type Range Interval

func (Range) isFilter() {}

// Key implements Filter.
func (r Range) Key() string {
	return "range:" + strconv.FormatFloat(r.Lo, 'g', -1, 64) + ":" + strconv.FormatFloat(r.Hi, 'g', -1, 64)
}

// Accepts reports whether v passes the filter.
func (r Range) Accepts(v float64) bool { return Interval(r).Normalize().Contains(v) }

// Set keeps rows whose value is in Values, or not in Values when Exclude is set.
type Set struct {
	Values  []string
	Exclude bool
}

func (Set) isFilter() {}

// Key implements Filter. Value order does not matter.
func (s Set) Key() string {
	vals := slices.Clone(s.Values)
	slices.Sort(vals)
	vals = slices.Compact(vals)
	prefix := "in:"
	if s.Exclude {
		prefix = "out:"
	}
	return prefix + strings.Join(vals, "\x1f")
}

// Matcher returns a membership test equivalent to the filter.
func (s Set) Matcher() func(v string) bool {
	m := make(map[string]struct{}, len(s.Values))
	for _, v := range s.Values {
		m[v] = struct{}{}
	}
	return func(v string) bool {
		_, ok := m[v]
		return ok != s.Exclude
	}
}

// Filters maps each filtered dimension to its filter.
type Filters map[*Dimension]Filter

// Without returns a copy of f that omits the given dimensions.
func (f Filters) Without(dims ...*Dimension) Filters {
	out := make(Filters, len(f))
	for d, flt := range f {
		if !slices.Contains(dims, d) {
			out[d] = flt
		}
	}
	return out
}

// Clone returns a shallow copy.
func (f Filters) Clone() Filters { return f.Without() }

// Sorted returns the filtered dimensions ordered by name for deterministic
// iteration.
func (f Filters) Sorted() []*Dimension {
	dims := make([]*Dimension, 0, len(f))
	for d := range f {
		dims = append(dims, d)
	}
	slices.SortStableFunc(dims, func(a, b *Dimension) int { return strings.Compare(a.Name, b.Name) })
	return dims
}
