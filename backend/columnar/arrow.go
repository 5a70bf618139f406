package columnar

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowTable is a Table over a single Arrow record batch. Numeric, temporal,
// string and dictionary-encoded string columns are supported; other columns
// report ErrUnsupportedType when requested.
//
// Timestamp and Date32 columns read as their raw integer ticks.
type ArrowTable struct {
	rec         arrow.RecordBatch
	cols        map[string]Column
	unsupported map[string]arrow.DataType
	names       []string
}

// FromArrow wraps rec without copying. The table retains rec until Release.
func FromArrow(rec arrow.RecordBatch) (*ArrowTable, error) {
	t := &ArrowTable{
		rec:         rec,
		cols:        make(map[string]Column, rec.NumCols()),
		unsupported: make(map[string]arrow.DataType),
	}
	for i := 0; i < int(rec.NumCols()); i++ {
		name := rec.ColumnName(i)
		if slices.Contains(t.names, name) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		t.names = append(t.names, name)

		col, ok := arrowColumn(rec.Column(i))
		if !ok {
			t.unsupported[name] = rec.Column(i).DataType()
			continue
		}
		t.cols[name] = col
	}
	rec.Retain()
	return t, nil
}

// FromRecords concatenates recs, which must share schema, into one table.
func FromRecords(schema *arrow.Schema, recs []arrow.RecordBatch) (*ArrowTable, error) {
	mem := memory.DefaultAllocator

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	var rows int64
	for _, r := range recs {
		if !r.Schema().Equal(schema) {
			return nil, fmt.Errorf("columnar: record schema %v differs from %v", r.Schema(), schema)
		}
		rows += r.NumRows()
	}

	for i, f := range schema.Fields() {
		if len(recs) == 0 {
			b := array.NewBuilder(mem, f.Type)
			cols[i] = b.NewArray()
			b.Release()
			continue
		}
		parts := make([]arrow.Array, len(recs))
		for j, r := range recs {
			parts[j] = r.Column(i)
		}
		merged, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, fmt.Errorf("columnar: concatenating %q: %w", f.Name, err)
		}
		cols[i] = merged
	}

	rec := array.NewRecordBatch(schema, cols, rows)
	defer rec.Release()
	return FromArrow(rec)
}

// NumRows implements Table.
func (t *ArrowTable) NumRows() int { return int(t.rec.NumRows()) }

// Column implements Table.
func (t *ArrowTable) Column(name string) (Column, error) {
	if c, ok := t.cols[name]; ok {
		return c, nil
	}
	if dt, ok := t.unsupported[name]; ok {
		return nil, fmt.Errorf("%w: %q is %s", ErrUnsupportedType, name, dt)
	}
	return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
}

// ColumnNames implements Table.
func (t *ArrowTable) ColumnNames() []string { return slices.Clone(t.names) }

// Record returns the wrapped record batch.
func (t *ArrowTable) Record() arrow.RecordBatch { return t.rec }

// Release releases the wrapped record batch.
func (t *ArrowTable) Release() { t.rec.Release() }

func arrowColumn(arr arrow.Array) (Column, bool) {
	switch a := arr.(type) {
	case *array.Float64:
		return numericColumn[float64]{a}, true
	case *array.Float32:
		return numericColumn[float32]{a}, true
	case *array.Int64:
		return numericColumn[int64]{a}, true
	case *array.Int32:
		return numericColumn[int32]{a}, true
	case *array.Int16:
		return numericColumn[int16]{a}, true
	case *array.Int8:
		return numericColumn[int8]{a}, true
	case *array.Uint64:
		return numericColumn[uint64]{a}, true
	case *array.Uint32:
		return numericColumn[uint32]{a}, true
	case *array.Uint16:
		return numericColumn[uint16]{a}, true
	case *array.Uint8:
		return numericColumn[uint8]{a}, true
	case *array.Timestamp:
		return numericColumn[arrow.Timestamp]{a}, true
	case *array.Date32:
		return numericColumn[arrow.Date32]{a}, true
	case *array.String:
		return stringArrayColumn{a}, true
	case *array.LargeString:
		return stringArrayColumn{a}, true
	case *array.Dictionary:
		dict, ok := arrowColumn(a.Dictionary())
		if !ok {
			return nil, false
		}
		return dictColumn{arr: a, dict: dict}, true
	default:
		return nil, false
	}
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

type numericColumn[T number] struct {
	arr interface {
		arrow.Array
		Value(i int) T
	}
}

func (c numericColumn[T]) Len() int { return c.arr.Len() }

func (c numericColumn[T]) IsNull(i int) bool {
	return c.arr.IsNull(i) || math.IsNaN(float64(c.arr.Value(i)))
}

func (c numericColumn[T]) Float(i int) float64 { return float64(c.arr.Value(i)) }

func (c numericColumn[T]) String(i int) string { return formatFloat(c.Float(i)) }

type stringArrayColumn struct {
	arr interface {
		arrow.Array
		Value(i int) string
	}
}

func (c stringArrayColumn) Len() int { return c.arr.Len() }

func (c stringArrayColumn) IsNull(i int) bool { return c.arr.IsNull(i) }

func (c stringArrayColumn) Float(i int) float64 { return parseFloat(c.arr.Value(i)) }

func (c stringArrayColumn) String(i int) string { return c.arr.Value(i) }

type dictColumn struct {
	arr  *array.Dictionary
	dict Column
}

func (c dictColumn) Len() int { return c.arr.Len() }

func (c dictColumn) IsNull(i int) bool {
	return c.arr.IsNull(i) || c.dict.IsNull(c.arr.GetValueIndex(i))
}

func (c dictColumn) Float(i int) float64 { return c.dict.Float(c.arr.GetValueIndex(i)) }

func (c dictColumn) String(i int) string { return c.dict.String(c.arr.GetValueIndex(i)) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
