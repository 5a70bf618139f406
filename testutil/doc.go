// Package testutil generates flight-like tables and answers queries by
// scanning them row by row. Tests compare what an index returns with
// these answers.
//
//	rng := testutil.NewRNG(42)
//	tbl, _ := testutil.Flights(rng, 10_000)
//	want, _ := testutil.ScanHistogram(tbl, view, filters)
//
// Nothing here is meant for production code.
package testutil
