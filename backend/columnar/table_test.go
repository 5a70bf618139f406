package columnar

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.NumRows())

	require.NoError(t, s.AddFloat64("x", []float64{1, math.NaN(), 3}, nil))
	require.NoError(t, s.AddInt64("n", []int64{4, 5, 6}, []bool{true, false, true}))
	require.NoError(t, s.AddString("c", []string{"a", "b", "7"}, nil))
	assert.Equal(t, 3, s.NumRows())
	assert.Equal(t, []string{"x", "n", "c"}, s.ColumnNames())

	x, err := s.Column("x")
	require.NoError(t, err)
	assert.False(t, x.IsNull(0))
	assert.True(t, x.IsNull(1))
	assert.Equal(t, 3.0, x.Float(2))
	assert.Equal(t, "3", x.String(2))

	n, _ := s.Column("n")
	assert.True(t, n.IsNull(1))
	assert.Equal(t, 6.0, n.Float(2))

	c, _ := s.Column("c")
	assert.Equal(t, "b", c.String(1))
	assert.Equal(t, 7.0, c.Float(2))
	assert.True(t, math.IsNaN(c.Float(0)))

	_, err = s.Column("missing")
	assert.ErrorIs(t, err, ErrNoColumn)
}

func TestStoreErrors(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddFloat64("x", []float64{1, 2}, nil))

	assert.ErrorIs(t, s.AddFloat64("x", []float64{1, 2}, nil), ErrDuplicateColumn)
	assert.ErrorIs(t, s.AddFloat64("y", []float64{1}, nil), ErrLength)
	assert.ErrorIs(t, s.AddString("z", []string{"a", "b"}, []bool{true}), ErrLength)
}

func buildRecord(t *testing.T, mem memory.Allocator) arrow.RecordBatch {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "i", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "d", Type: &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int8, ValueType: arrow.BinaryTypes.String}},
		{Name: "b", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)

	fb := array.NewFloat64Builder(mem)
	defer fb.Release()
	fb.AppendValues([]float64{0.5, 1.5, 2.5}, []bool{true, false, true})

	ib := array.NewInt32Builder(mem)
	defer ib.Release()
	ib.AppendValues([]int32{1, 2, 3}, nil)

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.Append("x")
	sb.AppendNull()
	sb.Append("z")

	db := array.NewDictionaryBuilder(mem, schema.Field(3).Type.(*arrow.DictionaryType)).(*array.BinaryDictionaryBuilder)
	defer db.Release()
	require.NoError(t, db.AppendString("AA"))
	require.NoError(t, db.AppendString("DL"))
	require.NoError(t, db.AppendString("AA"))

	bb := array.NewBooleanBuilder(mem)
	defer bb.Release()
	bb.AppendValues([]bool{true, false, true}, nil)

	cols := []arrow.Array{fb.NewArray(), ib.NewArray(), sb.NewArray(), db.NewArray(), bb.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(schema, cols, 3)
}

func TestFromArrow(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := buildRecord(t, mem)
	tbl, err := FromArrow(rec)
	rec.Release()
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{"f", "i", "s", "d", "b"}, tbl.ColumnNames())

	f, err := tbl.Column("f")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.True(t, f.IsNull(1))
	assert.Equal(t, 2.5, f.Float(2))

	i, err := tbl.Column("i")
	require.NoError(t, err)
	assert.Equal(t, 2.0, i.Float(1))
	assert.Equal(t, "2", i.String(1))

	s, err := tbl.Column("s")
	require.NoError(t, err)
	assert.True(t, s.IsNull(1))
	assert.Equal(t, "z", s.String(2))

	d, err := tbl.Column("d")
	require.NoError(t, err)
	assert.Equal(t, "DL", d.String(1))
	assert.Equal(t, "AA", d.String(2))

	_, err = tbl.Column("b")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = tbl.Column("missing")
	assert.ErrorIs(t, err, ErrNoColumn)
}

func TestFromRecords(t *testing.T) {
	mem := memory.NewGoAllocator()
	a := buildRecord(t, mem)
	defer a.Release()
	b := buildRecord(t, mem)
	defer b.Release()

	tbl, err := FromRecords(a.Schema(), []arrow.RecordBatch{a, b})
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, 6, tbl.NumRows())
	d, err := tbl.Column("d")
	require.NoError(t, err)
	assert.Equal(t, "DL", d.String(4))

	empty, err := FromRecords(a.Schema(), nil)
	require.NoError(t, err)
	defer empty.Release()
	assert.Equal(t, 0, empty.NumRows())
}
