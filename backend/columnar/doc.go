// Package columnar implements the Falcon backend over an in-memory table.
//
// A Table is either an Arrow record batch (FromArrow, FromRecords) or a
// Store of Go slices. Every query is a scan: filters become cached exclusion
// masks, histograms and cubes are counted in one pass over the rows.
//
// Usage:
//
//	store := columnar.NewStore()
//	_ = store.AddFloat64("delay", delays, nil)
//	_ = store.AddString("carrier", carriers, nil)
//
//	db, err := columnar.New(store, columnar.WithMaskCacheSize(256))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
package columnar
