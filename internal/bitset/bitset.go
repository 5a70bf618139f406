package bitset

import (
	"fmt"
	"math/bits"
)

// BitSet is a fixed-length bit vector. A set bit marks an excluded row.
//
// Bits are written only while a mask is being built; afterwards a BitSet is
// shared read-only between concurrent cube builders.
type BitSet struct {
	words []uint64
	size  int
}

// New creates a BitSet of size bits, all clear.
func New(size int) *BitSet {
	if size < 0 {
		size = 0
	}
	return &BitSet{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

func (b *BitSet) check(i int) {
	if i < 0 || i >= b.size {
		panic(fmt.Sprintf("bitset: index %d out of range [0, %d)", i, b.size))
	}
}

// Get reports whether bit i is set.
func (b *BitSet) Get(i int) bool {
	b.check(i)
	return b.words[i>>6]&(uint64(1)<<(uint(i)&63)) != 0
}

// Set sets bit i to v.
func (b *BitSet) Set(i int, v bool) {
	b.check(i)
	mask := uint64(1) << (uint(i) & 63)
	if v {
		b.words[i>>6] |= mask
	} else {
		b.words[i>>6] &^= mask
	}
}

// Len returns the size of the bitset in bits.
func (b *BitSet) Len() int { return b.size }

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	count := 0
	for _, w := range b.words {
		count += bits.OnesCount64(w)
	}
	return count
}

// NextClear returns the index of the first clear bit at or after i, or -1.
func (b *BitSet) NextClear(i int) int {
	if i < 0 {
		i = 0
	}
	for i < b.size {
		wordIdx := i >> 6
		// Invert so clear bits become set; mask out bits below i.
		val := ^b.words[wordIdx] &^ ((uint64(1) << (uint(i) & 63)) - 1)
		if val != 0 {
			next := wordIdx*64 + bits.TrailingZeros64(val)
			if next >= b.size {
				return -1
			}
			return next
		}
		i = (wordIdx + 1) * 64
	}
	return -1
}

// Clone returns an independent copy.
func (b *BitSet) Clone() *BitSet {
	return &BitSet{words: append([]uint64(nil), b.words...), size: b.size}
}

// Union ORs the given masks into a new BitSet. Nil masks are skipped. When no
// non-nil mask is given Union returns nil, meaning no row is excluded.
//
// All masks must have the same length.
func Union(masks ...*BitSet) *BitSet {
	var out *BitSet
	for _, m := range masks {
		if m == nil {
			continue
		}
		if out == nil {
			out = m.Clone()
			continue
		}
		if m.size != out.size {
			panic(fmt.Sprintf("bitset: union of lengths %d and %d", out.size, m.size))
		}
		for i, w := range m.words {
			out.words[i] |= w
		}
	}
	return out
}

// Excluded reports whether row i is excluded by mask. A nil mask excludes nothing.
func Excluded(mask *BitSet, i int) bool {
	return mask != nil && mask.Get(i)
}
