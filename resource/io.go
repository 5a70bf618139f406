package resource

import (
	"context"
	"io"
)

// Reader throttles reads through the controller's read limit.
type Reader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewReader wraps r. With a nil controller reads pass straight through.
func NewReader(ctx context.Context, r io.Reader, c *Controller) *Reader {
	return &Reader{ctx: ctx, r: r, c: c}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		// Charge after the fact so short reads are not over-billed.
		if werr := r.c.WaitRead(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// ReaderAt throttles positional reads.
type ReaderAt struct {
	ctx context.Context
	r   io.ReaderAt
	c   *Controller
}

// NewReaderAt wraps r.
func NewReaderAt(ctx context.Context, r io.ReaderAt, c *Controller) *ReaderAt {
	return &ReaderAt{ctx: ctx, r: r, c: c}
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := r.c.WaitRead(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.ReadAt(p, off)
}
