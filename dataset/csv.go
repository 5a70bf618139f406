package dataset

import (
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"

	"github.com/hupe1980/falcon/backend/columnar"
)

// nullTokens are the CSV cells read as null.
var nullTokens = []string{"", "NA", "NaN", "null", "NULL"}

func readCSV(r io.Reader, opts *Options) (*columnar.ArrowTable, error) {
	csvOpts := []csv.Option{
		csv.WithHeader(true),
		csv.WithComma(opts.Comma),
		csv.WithChunk(opts.ChunkRows),
		csv.WithAllocator(opts.Allocator),
		csv.WithNullReader(true, nullTokens...),
	}
	if len(opts.Columns) > 0 {
		csvOpts = append(csvOpts, csv.WithIncludeColumns(opts.Columns))
	}

	rdr := csv.NewInferringReader(r, csvOpts...)
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

	schema := rdr.Schema()
	if schema == nil {
		return nil, ErrNoColumns
	}
	return collect(schema, recs, nil)
}
