package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/hupe1980/falcon/backend/columnar"
)

func readIPCFile(r randomReader, opts *Options) (*columnar.ArrowTable, error) {
	rdr, err := ipc.NewFileReader(r, ipc.WithAllocator(opts.Allocator))
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	recs := make([]arrow.RecordBatch, 0, rdr.NumRecords())
	defer releaseAll(&recs)
	for i := 0; i < rdr.NumRecords(); i++ {
		rec, err := rdr.RecordAt(i)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return collect(rdr.Schema(), recs, opts.Columns)
}

func readIPCStream(r io.Reader, opts *Options) (*columnar.ArrowTable, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(opts.Allocator))
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	var recs []arrow.RecordBatch
	defer releaseAll(&recs)
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return collect(rdr.Schema(), recs, opts.Columns)
}

// collect projects recs onto cols and concatenates them into one table.
func collect(schema *arrow.Schema, recs []arrow.RecordBatch, cols []string) (*columnar.ArrowTable, error) {
	if len(cols) == 0 {
		if schema.NumFields() == 0 {
			return nil, ErrNoColumns
		}
		return columnar.FromRecords(schema, recs)
	}

	idx := make([]int, 0, len(cols))
	fields := make([]arrow.Field, 0, len(cols))
	for _, name := range cols {
		ii := schema.FieldIndices(name)
		if len(ii) == 0 {
			return nil, fmt.Errorf("%w: column %q not in %v", ErrNoColumns, name, schema)
		}
		idx = append(idx, ii[0])
		fields = append(fields, schema.Field(ii[0]))
	}
	projected := arrow.NewSchema(fields, nil)

	out := make([]arrow.RecordBatch, 0, len(recs))
	defer releaseAll(&out)
	for _, rec := range recs {
		arrs := make([]arrow.Array, len(idx))
		for k, i := range idx {
			arrs[k] = rec.Column(i)
		}
		out = append(out, array.NewRecordBatch(projected, arrs, rec.NumRows()))
	}
	return columnar.FromRecords(projected, out)
}

func releaseAll(recs *[]arrow.RecordBatch) {
	for _, r := range *recs {
		r.Release()
	}
}
