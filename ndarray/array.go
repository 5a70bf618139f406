package ndarray

import (
	"errors"
	"fmt"
)

// All keeps an axis when passed to Slice.
const All = -1

var (
	// ErrOutOfRange is returned (or carried by an IndexError panic) when an index
	// falls outside an array's shape.
	ErrOutOfRange = errors.New("ndarray: index out of range")

	// ErrShapeMismatch is returned when element-wise operands differ in shape.
	ErrShapeMismatch = errors.New("ndarray: shape mismatch")

	// ErrInvalidLayout is returned when shape, stride and offset would address
	// memory outside the buffer.
	ErrInvalidLayout = errors.New("ndarray: invalid layout")
)

// IndexError describes an out-of-range access.
type IndexError struct {
	Index []int
	Shape []int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("ndarray: index %v out of range for shape %v", e.Index, e.Shape)
}

func (e *IndexError) Unwrap() error { return ErrOutOfRange }

// Number is the set of element types an Array can hold.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Array is a strided view over a numeric buffer.
type Array[T Number] struct {
	data   []T
	shape  []int
	stride []int
	offset int
}

// Counts holds integer histogram counts.
type Counts = Array[int64]

// Cumulative holds prefix-summed counts.
type Cumulative = Array[float64]

// New allocates a zero-filled, row-major array with the given shape.
// An empty shape yields a scalar (size 1).
func New[T Number](shape ...int) *Array[T] {
	size := product(shape)
	return &Array[T]{
		data:   make([]T, size),
		shape:  append([]int(nil), shape...),
		stride: rowMajor(shape),
	}
}

// AllocCounts allocates a zero-filled Counts buffer of length elements.
// Without a shape the array is one-dimensional.
func AllocCounts(length int, shape ...int) *Counts {
	return alloc[int64](length, shape)
}

// AllocCumulative allocates a zero-filled Cumulative buffer of length elements.
// Without a shape the array is one-dimensional.
func AllocCumulative(length int, shape ...int) *Cumulative {
	return alloc[float64](length, shape)
}

func alloc[T Number](length int, shape []int) *Array[T] {
	if len(shape) == 0 {
		shape = []int{length}
	}
	if n := product(shape); n > length {
		panic(fmt.Sprintf("ndarray: shape %v needs %d elements, buffer has %d", shape, n, length))
	}
	return &Array[T]{
		data:   make([]T, length),
		shape:  append([]int(nil), shape...),
		stride: rowMajor(shape),
	}
}

// FromSlice wraps data without copying. A nil shape means [len(data)], a nil
// stride means row-major.
func FromSlice[T Number](data []T, shape, stride []int, offset int) (*Array[T], error) {
	if shape == nil {
		shape = []int{len(data)}
	}
	if stride == nil {
		stride = rowMajor(shape)
	}
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("%w: %d strides for %d axes", ErrInvalidLayout, len(stride), len(shape))
	}
	a := &Array[T]{
		data:   data,
		shape:  append([]int(nil), shape...),
		stride: append([]int(nil), stride...),
		offset: offset,
	}
	if err := a.checkLayout(); err != nil {
		return nil, err
	}
	return a, nil
}

// checkLayout verifies that every valid index maps into the buffer.
func (a *Array[T]) checkLayout() error {
	lo, hi := a.offset, a.offset
	for k, n := range a.shape {
		if n < 0 {
			return fmt.Errorf("%w: negative extent %d on axis %d", ErrInvalidLayout, n, k)
		}
		if n == 0 {
			return nil
		}
		span := a.stride[k] * (n - 1)
		if span < 0 {
			lo += span
		} else {
			hi += span
		}
	}
	if lo < 0 || hi >= len(a.data) {
		return fmt.Errorf("%w: addresses [%d, %d] outside buffer of %d", ErrInvalidLayout, lo, hi, len(a.data))
	}
	return nil
}

// Shape returns a copy of the array's shape.
func (a *Array[T]) Shape() []int { return append([]int(nil), a.shape...) }

// Stride returns a copy of the array's strides.
func (a *Array[T]) Stride() []int { return append([]int(nil), a.stride...) }

// Offset returns the buffer offset of the first element.
func (a *Array[T]) Offset() int { return a.offset }

// Dim returns the number of axes.
func (a *Array[T]) Dim() int { return len(a.shape) }

// Size returns the number of addressable elements.
func (a *Array[T]) Size() int { return product(a.shape) }

// Data returns the underlying buffer, shared with every view of it.
func (a *Array[T]) Data() []T { return a.data }

func (a *Array[T]) index(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(&IndexError{Index: append([]int(nil), idx...), Shape: a.Shape()})
	}
	off := a.offset
	for k, i := range idx {
		if i < 0 || i >= a.shape[k] {
			panic(&IndexError{Index: append([]int(nil), idx...), Shape: a.Shape()})
		}
		off += i * a.stride[k]
	}
	return off
}

// Get returns the element at idx.
func (a *Array[T]) Get(idx ...int) T {
	return a.data[a.index(idx)]
}

// At is the checked variant of Get.
func (a *Array[T]) At(idx ...int) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*IndexError)
			if !ok {
				panic(r)
			}
			err = ie
		}
	}()
	return a.Get(idx...), nil
}

// Set stores v at idx.
func (a *Array[T]) Set(v T, idx ...int) {
	a.data[a.index(idx)] = v
}

// Increment adds by to the element at idx.
func (a *Array[T]) Increment(by T, idx ...int) {
	a.data[a.index(idx)] += by
}

// Fill sets every addressable element to v.
func (a *Array[T]) Fill(v T) {
	a.each(func(off int) { a.data[off] = v })
}

// Slice returns a view over the same buffer. All keeps an axis, any other
// value fixes it and drops it from the result. Missing trailing indices keep
// their axes.
func (a *Array[T]) Slice(idx ...int) *Array[T] {
	if len(idx) > len(a.shape) {
		panic(&IndexError{Index: append([]int(nil), idx...), Shape: a.Shape()})
	}
	out := &Array[T]{data: a.data, offset: a.offset}
	for k := range a.shape {
		i := All
		if k < len(idx) {
			i = idx[k]
		}
		if i == All {
			out.shape = append(out.shape, a.shape[k])
			out.stride = append(out.stride, a.stride[k])
			continue
		}
		if i < 0 || i >= a.shape[k] {
			panic(&IndexError{Index: append([]int(nil), idx...), Shape: a.Shape()})
		}
		out.offset += i * a.stride[k]
	}
	return out
}

// CumulativeSum replaces the array in place by its prefix sum along every
// axis, in row-major order. For a 1D array a[k] becomes a[0]+...+a[k]; for a
// 2D array it becomes a summed-area table.
func (a *Array[T]) CumulativeSum() *Array[T] {
	if a.Size() == 0 {
		return a
	}
	idx := make([]int, len(a.shape))
	for axis := range a.shape {
		if a.shape[axis] < 2 {
			continue
		}
		step := a.stride[axis]
		clear(idx)
		off := a.offset
		for {
			if idx[axis] > 0 {
				a.data[off] += a.data[off-step]
			}
			var ok bool
			off, ok = a.next(idx, off)
			if !ok {
				break
			}
		}
	}
	return a
}

// Add returns a new array holding a + other.
func (a *Array[T]) Add(other *Array[T]) (*Array[T], error) {
	return a.combine(other, func(x, y T) T { return x + y })
}

// Sub returns a new array holding a - other.
func (a *Array[T]) Sub(other *Array[T]) (*Array[T], error) {
	return a.combine(other, func(x, y T) T { return x - y })
}

// AddInPlace overwrites a with a + other.
func (a *Array[T]) AddInPlace(other *Array[T]) error {
	return a.update(other, func(x, y T) T { return x + y })
}

// SubInPlace overwrites a with a - other.
func (a *Array[T]) SubInPlace(other *Array[T]) error {
	return a.update(other, func(x, y T) T { return x - y })
}

// AddScaled overwrites a with a + f*other.
func (a *Array[T]) AddScaled(other *Array[T], f float64) error {
	return a.update(other, func(x, y T) T { return x + T(f*float64(y)) })
}

// Scale multiplies every element by f in place.
func (a *Array[T]) Scale(f float64) *Array[T] {
	a.each(func(off int) { a.data[off] = T(float64(a.data[off]) * f) })
	return a
}

// Sum returns the sum of all addressable elements.
func (a *Array[T]) Sum() T {
	var s T
	a.each(func(off int) { s += a.data[off] })
	return s
}

// Values returns the addressable elements in row-major order.
func (a *Array[T]) Values() []T {
	out := make([]T, 0, a.Size())
	a.each(func(off int) { out = append(out, a.data[off]) })
	return out
}

// Clone returns a contiguous copy.
func (a *Array[T]) Clone() *Array[T] {
	out := New[T](a.shape...)
	copy(out.data, a.Values())
	return out
}

// Convert returns a contiguous copy of a with elements converted to U.
func Convert[U, T Number](a *Array[T]) *Array[U] {
	out := New[U](a.shape...)
	i := 0
	a.each(func(off int) {
		out.data[i] = U(a.data[off])
		i++
	})
	return out
}

func (a *Array[T]) combine(other *Array[T], fn func(x, y T) T) (*Array[T], error) {
	if !sameShape(a.shape, other.shape) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.shape, other.shape)
	}
	out := New[T](a.shape...)
	x, y := a.Values(), other.Values()
	for i := range out.data {
		out.data[i] = fn(x[i], y[i])
	}
	return out, nil
}

func (a *Array[T]) update(other *Array[T], fn func(x, y T) T) error {
	if !sameShape(a.shape, other.shape) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.shape, other.shape)
	}
	y := other.Values()
	i := 0
	a.each(func(off int) {
		a.data[off] = fn(a.data[off], y[i])
		i++
	})
	return nil
}

// each visits the buffer offset of every element in row-major order.
func (a *Array[T]) each(fn func(off int)) {
	if a.Size() == 0 {
		return
	}
	idx := make([]int, len(a.shape))
	off := a.offset
	for {
		fn(off)
		var ok bool
		off, ok = a.next(idx, off)
		if !ok {
			return
		}
	}
}

// next advances the odometer idx and returns the matching buffer offset.
func (a *Array[T]) next(idx []int, off int) (int, bool) {
	for k := len(idx) - 1; k >= 0; k-- {
		idx[k]++
		off += a.stride[k]
		if idx[k] < a.shape[k] {
			return off, true
		}
		off -= a.stride[k] * idx[k]
		idx[k] = 0
	}
	return off, false
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func rowMajor(shape []int) []int {
	stride := make([]int, len(shape))
	s := 1
	for k := len(shape) - 1; k >= 0; k-- {
		stride[k] = s
		s *= shape[k]
	}
	return stride
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
