package ndarray

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRowMajor(t *testing.T) {
	a := New[int64](3, 4)
	assert.Equal(t, []int{3, 4}, a.Shape())
	assert.Equal(t, []int{4, 1}, a.Stride())
	assert.Equal(t, 12, a.Size())
	assert.Equal(t, 2, a.Dim())

	a.Set(7, 2, 3)
	assert.Equal(t, int64(7), a.Data()[11])
	a.Increment(1, 2, 3)
	assert.Equal(t, int64(8), a.Get(2, 3))
}

func TestScalar(t *testing.T) {
	a := New[float64]()
	assert.Equal(t, 1, a.Size())
	a.Set(3)
	assert.Equal(t, 3.0, a.Get())
}

func TestAllocCounts(t *testing.T) {
	a := AllocCounts(5)
	assert.Equal(t, []int{5}, a.Shape())

	b := AllocCounts(6, 2, 3)
	assert.Equal(t, []int{2, 3}, b.Shape())

	assert.Panics(t, func() { AllocCounts(5, 2, 3) })
}

func TestOutOfRangePanics(t *testing.T) {
	a := New[int64](3)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*IndexError)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrOutOfRange))
		assert.Equal(t, []int{3}, err.Index)
	}()
	a.Get(3)
}

func TestAt(t *testing.T) {
	a := New[int64](2, 2)
	a.Set(5, 1, 1)

	v, err := a.At(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = a.At(-1, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = a.At(0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFromSlice(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5}

	a, err := FromSlice(data, []int{2, 3}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.Get(1, 2))

	// column view via explicit stride
	col, err := FromSlice(data, []int{2}, []int{3}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4}, col.Values())

	_, err = FromSlice(data, []int{3, 3}, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = FromSlice(data, []int{2}, []int{1, 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestSliceSharesBuffer(t *testing.T) {
	a := New[float64](3, 4)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}

	col := a.Slice(All, 2)
	assert.Equal(t, []int{3}, col.Shape())
	assert.Equal(t, []int{4}, col.Stride())
	assert.Equal(t, 2, col.Offset())
	assert.Equal(t, []float64{2, 6, 10}, col.Values())

	row := a.Slice(1)
	assert.Equal(t, []float64{4, 5, 6, 7}, row.Values())

	col.Set(100, 1)
	assert.Equal(t, 100.0, a.Get(1, 2))
	assert.Equal(t, 100.0, row.Get(2))
}

func TestSliceChained(t *testing.T) {
	a := New[int64](2, 3, 4)
	a.Set(9, 1, 2, 3)

	s := a.Slice(1).Slice(All, 3)
	assert.Equal(t, []int{3}, s.Shape())
	assert.Equal(t, int64(9), s.Get(2))

	scalar := a.Slice(1, 2, 3)
	assert.Equal(t, 0, scalar.Dim())
	assert.Equal(t, int64(9), scalar.Get())
}

func TestSliceOutOfRange(t *testing.T) {
	a := New[int64](2, 2)
	assert.Panics(t, func() { a.Slice(2) })
	assert.Panics(t, func() { a.Slice(0, 0, 0) })
}

func TestCumulativeSum1D(t *testing.T) {
	a, err := FromSlice([]int64{1, 2, 3, 4}, nil, nil, 0)
	require.NoError(t, err)

	a.CumulativeSum()
	assert.Equal(t, []int64{1, 3, 6, 10}, a.Values())
}

func TestCumulativeSumSummedAreaTable(t *testing.T) {
	a := New[int64](3, 3)
	a.Fill(1)

	a.CumulativeSum()
	assert.Equal(t, []int64{
		1, 2, 3,
		2, 4, 6,
		3, 6, 9,
	}, a.Values())
}

func TestCumulativeSumOnStridedSlice(t *testing.T) {
	// prefix sum of one column must leave the other column untouched
	a := New[int64](3, 2)
	for i := range a.Data() {
		a.Data()[i] = 1
	}

	a.Slice(All, 0).CumulativeSum()
	assert.Equal(t, []int64{1, 1, 2, 1, 3, 1}, a.Values())
}

func TestAddSub(t *testing.T) {
	x, _ := FromSlice([]float64{5, 7, 9}, nil, nil, 0)
	y, _ := FromSlice([]float64{1, 2, 3}, nil, nil, 0)

	d, err := x.Sub(y)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, d.Values())

	s, err := x.Add(y)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 9, 12}, s.Values())

	// operands unchanged
	assert.Equal(t, []float64{5, 7, 9}, x.Values())

	z := New[float64](2)
	_, err = x.Sub(z)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorIs(t, x.AddInPlace(z), ErrShapeMismatch)
}

func TestSubOfSlices(t *testing.T) {
	a := New[float64](3, 2)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}

	d, err := a.Slice(2).Sub(a.Slice(0))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4}, d.Values())
	assert.Equal(t, []int{1}, d.Stride())
}

func TestInPlace(t *testing.T) {
	x, _ := FromSlice([]int64{5, 7}, nil, nil, 0)
	y, _ := FromSlice([]int64{1, 2}, nil, nil, 0)

	require.NoError(t, x.SubInPlace(y))
	assert.Equal(t, []int64{4, 5}, x.Values())
	require.NoError(t, x.AddInPlace(y))
	assert.Equal(t, []int64{5, 7}, x.Values())

	f, _ := FromSlice([]float64{1, 1}, nil, nil, 0)
	g, _ := FromSlice([]float64{2, 4}, nil, nil, 0)
	require.NoError(t, f.AddScaled(g, 0.25))
	assert.Equal(t, []float64{1.5, 2}, f.Values())
	assert.ErrorIs(t, f.AddScaled(New[float64](3), 1), ErrShapeMismatch)
}

func TestHelpers(t *testing.T) {
	a := New[int64](2, 2)
	a.Fill(3)
	assert.Equal(t, int64(12), a.Sum())

	c := a.Clone()
	c.Set(0, 0, 0)
	assert.Equal(t, int64(3), a.Get(0, 0))

	f := Convert[float64](a)
	assert.Equal(t, []float64{3, 3, 3, 3}, f.Values())

	f.Scale(0.5)
	assert.Equal(t, 1.5, f.Get(1, 1))
}
