// Package mmap maps dataset files read-only into memory.
//
// Arrow IPC files and CSV are decoded front to back, Parquet files are read
// footer first and then column chunk by column chunk. A File carries a
// whole-file Hint for the first case and Prefetch for the second:
//
//	f, err := mmap.Map("flights.parquet")
//	if err != nil { ... }
//	defer f.Close()
//
//	_ = f.Hint(mmap.HintRandom)
//	_ = f.Prefetch(chunkOffset, chunkLen)
//	chunk, err := f.Slice(chunkOffset, chunkLen)
//
// Hints are best effort. On Windows they are ignored.
package mmap
