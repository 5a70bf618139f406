package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

var (
	// ErrUnmapped is returned by every accessor once the File is closed.
	ErrUnmapped = errors.New("mmap: file is unmapped")
	// ErrTooLarge is returned for files that do not fit the address space.
	ErrTooLarge = errors.New("mmap: file too large to map")
	// ErrOutOfRange is returned for negative offsets and ranges past the end.
	ErrOutOfRange = errors.New("mmap: range out of bounds")
)

// Hint tells the kernel how a dataset file is going to be read.
type Hint uint8

const (
	// HintNone leaves readahead to the kernel.
	HintNone Hint = iota
	// HintSequential is for Arrow IPC and CSV decoding.
	HintSequential
	// HintRandom is for Parquet, where the footer decides what is read.
	HintRandom
)

func (h Hint) String() string {
	switch h {
	case HintSequential:
		return "sequential"
	case HintRandom:
		return "random"
	default:
		return "none"
	}
}

// File is a read-only mapping of a dataset file. Reads are safe for
// concurrent use; slices handed out become invalid after Close.
type File struct {
	name     string
	data     []byte
	unmapped atomic.Bool
	release  func() error
}

// Map maps the file at path. Empty files are valid and map to no bytes.
func Map(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	st, err := fd.Stat()
	if err != nil {
		return nil, err
	}
	n := st.Size()
	if int64(int(n)) != n {
		return nil, ErrTooLarge
	}

	f := &File{name: path}
	if n == 0 {
		return f, nil
	}
	f.data, f.release, err = mapReadOnly(fd, int(n))
	if err != nil {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: err}
	}
	return f, nil
}

// Name returns the path the file was mapped from.
func (f *File) Name() string { return f.name }

// Len returns the mapped length in bytes.
func (f *File) Len() int64 { return int64(len(f.data)) }

// Data returns the whole mapping, or nil once closed.
func (f *File) Data() []byte {
	if f.unmapped.Load() {
		return nil
	}
	return f.data
}

// Slice returns n bytes at off without copying.
func (f *File) Slice(off, n int64) ([]byte, error) {
	if f.unmapped.Load() {
		return nil, ErrUnmapped
	}
	if off < 0 || n < 0 || off+n > int64(len(f.data)) {
		return nil, ErrOutOfRange
	}
	return f.data[off : off+n : off+n], nil
}

// Hint applies h to the whole file.
func (f *File) Hint(h Hint) error {
	if f.unmapped.Load() {
		return ErrUnmapped
	}
	if len(f.data) == 0 {
		return nil
	}
	return advise(f.data, h)
}

// Prefetch asks the kernel to page in [off, off+n). The range is widened
// to page boundaries and clipped to the file.
func (f *File) Prefetch(off, n int64) error {
	if f.unmapped.Load() {
		return ErrUnmapped
	}
	if off < 0 || n < 0 {
		return ErrOutOfRange
	}
	lo, hi := pageSpan(off, n, int64(len(f.data)))
	if lo >= hi {
		return nil
	}
	return willNeed(f.data[lo:hi])
}

// ReadAt copies from the mapping with io.ReaderAt semantics.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.unmapped.Load() {
		return 0, ErrUnmapped
	}
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Later calls are no-ops.
func (f *File) Close() error {
	if f.unmapped.Swap(true) || f.release == nil {
		return nil
	}
	return f.release()
}

var pageSize = int64(os.Getpagesize())

func pageSpan(off, n, size int64) (lo, hi int64) {
	if off >= size {
		return size, size
	}
	lo = off &^ (pageSize - 1)
	hi = min(off+n, size)
	if rem := hi % pageSize; rem != 0 && hi < size {
		hi = min(hi+pageSize-rem, size)
	}
	return lo, hi
}
