// Package dataset loads tables from a blobstore.BlobStore into memory.
//
// Supported formats are Arrow IPC (file and stream), Parquet and CSV. The
// format and an optional whole-blob compression (gzip, zstd, lz4) are
// detected from the blob name:
//
//	tbl, err := dataset.Load(ctx, store, "flights-1m.csv.zst")
//	if err != nil {
//	    return err
//	}
//	defer tbl.Release()
//
//	db, err := columnar.New(tbl)
//
// Uncompressed Arrow files and Parquet files are read with positional
// reads, so a remote store fetches only the footer and the column chunks
// that are needed. Everything else is streamed. Pass
// WithResourceController to throttle reads.
package dataset
