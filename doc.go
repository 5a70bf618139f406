// Package falcon provides linked, cross-filtered views over large tables with
// constant-time brushing.
//
// A Falcon instance owns a set of views: a count (View0D), histograms
// (View1D) and heatmaps (View2D). When a histogram or heatmap becomes active,
// Falcon builds an index with one cube per passive view. A cube counts the
// rows of the passive view cumulatively along the pixels of the active view,
// so every brush resolves to a difference of two slices (or four corners of
// a summed-area table for a heatmap) without touching the data again.
//
// # Quick Start
//
//	tbl, _ := columnar.FromArrow(rec)
//	db, _ := columnar.New(tbl)
//
//	f := falcon.New(db)
//	defer f.Close()
//
//	delay := &model.Dimension{Name: "delay", Bins: 25, Resolution: 400}
//	dist := &model.Dimension{Name: "distance", Bins: 20}
//
//	count := f.Count(func(a falcon.Aggregate) { fmt.Println("rows:", a.Total()) })
//	hist := f.View1D(delay)
//	f.View1D(dist, render)
//
//	f.Init(ctx)                                   // extents, bins, initial counts
//	hist.Select(ctx, model.Interval{Lo: 10, Hi: 60}) // activates and brushes
//
// # Backends
//
// The data lives behind backend.DB. The columnar backend scans Arrow records
// or Go slices in memory; the sqldb backend pushes grouped counts down to a
// SQL engine. The dataset package loads Arrow IPC, Parquet and CSV files from
// a blob store into a columnar table.
//
// # Filters
//
// SetFilter restricts any dimension. Brushing the active view sets the filter
// of its own dimensions, which never invalidates the index. Any other filter
// change rebuilds the index in the background; ResolveBrush waits for the
// rebuild and never answers from a stale index.
//
// # Precision
//
// Brushes are snapped down to the pixel grid of the active dimension, so an
// answer is exact for brushes on pixel boundaries. WithInterpolation trades
// exactness for smooth counts between pixels.
package falcon
