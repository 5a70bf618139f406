package dataset

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"

	"github.com/hupe1980/falcon/backend/columnar"
)

const parquetRowBatch = 1024

// parquetColumn accumulates one flat leaf column into an Arrow builder.
type parquetColumn struct {
	field   arrow.Field
	kind    parquet.Kind
	builder array.Builder
}

func (c *parquetColumn) append(v parquet.Value) {
	if v.IsNull() {
		c.builder.AppendNull()
		return
	}
	switch b := c.builder.(type) {
	case *array.Float64Builder:
		if c.kind == parquet.Float {
			b.Append(float64(v.Float()))
		} else {
			b.Append(v.Double())
		}
	case *array.Int64Builder:
		switch c.kind {
		case parquet.Boolean:
			if v.Boolean() {
				b.Append(1)
			} else {
				b.Append(0)
			}
		case parquet.Int32:
			b.Append(int64(v.Int32()))
		default:
			b.Append(v.Int64())
		}
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	}
}

// readParquet decodes the flat columns of a Parquet file. Repeated,
// nested and INT96 columns are skipped.
func readParquet(r io.ReaderAt, size int64, opts *Options) (*columnar.ArrowTable, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, err
	}
	schema := f.Schema()

	byLeaf := make(map[int]*parquetColumn)
	var cols []*parquetColumn
	defer func() {
		for _, c := range cols {
			c.builder.Release()
		}
	}()

	for _, field := range schema.Fields() {
		name := field.Name()
		if len(opts.Columns) > 0 && !slices.Contains(opts.Columns, name) {
			continue
		}
		if !field.Leaf() || field.Repeated() {
			opts.Logger.Debug("skipping parquet column", "column", name, "reason", "not flat")
			continue
		}
		leaf, ok := schema.Lookup(name)
		if !ok {
			continue
		}

		c := &parquetColumn{kind: field.Type().Kind()}
		var dt arrow.DataType
		switch c.kind {
		case parquet.Float, parquet.Double:
			dt = arrow.PrimitiveTypes.Float64
			c.builder = array.NewFloat64Builder(opts.Allocator)
		case parquet.Boolean, parquet.Int32, parquet.Int64:
			dt = arrow.PrimitiveTypes.Int64
			c.builder = array.NewInt64Builder(opts.Allocator)
		case parquet.ByteArray, parquet.FixedLenByteArray:
			dt = arrow.BinaryTypes.String
			c.builder = array.NewStringBuilder(opts.Allocator)
		default:
			opts.Logger.Debug("skipping parquet column", "column", name, "kind", c.kind.String())
			continue
		}
		c.field = arrow.Field{Name: name, Type: dt, Nullable: field.Optional()}
		byLeaf[leaf.ColumnIndex] = c
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	for _, name := range opts.Columns {
		if !slices.ContainsFunc(cols, func(c *parquetColumn) bool { return c.field.Name == name }) {
			return nil, fmt.Errorf("%w: column %q not loadable", ErrNoColumns, name)
		}
	}

	rdr := parquet.NewReader(f)
	defer rdr.Close()

	rows := make([]parquet.Row, parquetRowBatch)
	for {
		n, err := rdr.ReadRows(rows)
		for _, row := range rows[:n] {
			for _, v := range row {
				if c := byLeaf[v.Column()]; c != nil {
					c.append(v)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	fields := make([]arrow.Field, len(cols))
	arrs := make([]arrow.Array, len(cols))
	for i, c := range cols {
		fields[i] = c.field
		arrs[i] = c.builder.NewArray()
	}
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()

	rec := array.NewRecordBatch(arrow.NewSchema(fields, nil), arrs, f.NumRows())
	defer rec.Release()
	return columnar.FromArrow(rec)
}
