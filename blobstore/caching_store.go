package blobstore

import (
	"context"
	"errors"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the cache block size used when none is given.
const DefaultBlockSize = 64 << 10

type blockKey struct {
	name  string
	block int64
}

// CachingStore wraps a remote BlobStore and caches fixed-size blocks of the
// blobs read through it. Loading the same dataset twice then costs no
// round trips.
type CachingStore struct {
	inner     BlobStore
	cache     *lru.Cache[blockKey, []byte]
	blockSize int64
}

// NewCachingStore creates a CachingStore holding up to blocks blocks of
// blockSize bytes. blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, blocks int, blockSize int64) (*CachingStore, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	c, err := lru.New[blockKey, []byte](blocks)
	if err != nil {
		return nil, err
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}, nil
}

// Open opens name on the inner store.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner: b,
		store: s,
		name:  name,
	}, nil
}

// List passes through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Invalidate drops every cached block of name.
func (s *CachingStore) Invalidate(name string) {
	for _, k := range s.cache.Keys() {
		if k.name == name {
			s.cache.Remove(k)
		}
	}
}

// Len returns the number of cached blocks.
func (s *CachingStore) Len() int { return s.cache.Len() }

// CachingBlob reads through the block cache of its store.
type CachingBlob struct {
	inner Blob
	store *CachingStore
	name  string
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *CachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := b.Size()
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	bs := b.store.blockSize
	end := min(off+int64(len(p)), size)
	first, last := off/bs, (end-1)/bs

	if err := b.fill(ctx, first, last); err != nil {
		return 0, err
	}

	n := 0
	for blk := first; blk <= last; blk++ {
		data, err := b.block(ctx, blk)
		if err != nil {
			return n, err
		}
		start := max(blk*bs, off)
		stop := min((blk+1)*bs, end)
		src := start - blk*bs
		if src >= int64(len(data)) {
			break
		}
		n += copy(p[start-off:stop-off], data[src:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fill loads the missing blocks in [first, last], one request per
// contiguous run.
func (b *CachingBlob) fill(ctx context.Context, first, last int64) error {
	type run struct{ start, count int64 }
	var runs []run
	for blk := first; blk <= last; blk++ {
		if b.store.cache.Contains(blockKey{b.name, blk}) {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].start+runs[n-1].count == blk {
			runs[n-1].count++
			continue
		}
		runs = append(runs, run{blk, 1})
	}

	bs := b.store.blockSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, r := range runs {
		g.Go(func() error {
			start := r.start * bs
			buf := make([]byte, min(r.count*bs, b.Size()-start))
			n, err := b.inner.ReadAt(gctx, buf, start)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]
			for i := int64(0); i < r.count && i*bs < int64(len(buf)); i++ {
				// copy so a block does not pin the whole run
				chunk := append([]byte(nil), buf[i*bs:min((i+1)*bs, int64(len(buf)))]...)
				b.store.cache.Add(blockKey{b.name, r.start + i}, chunk)
			}
			return nil
		})
	}
	return g.Wait()
}

// block returns a cached block, reading it again if it was evicted since
// fill.
func (b *CachingBlob) block(ctx context.Context, blk int64) ([]byte, error) {
	key := blockKey{b.name, blk}
	if data, ok := b.store.cache.Get(key); ok {
		return data, nil
	}

	bs := b.store.blockSize
	buf := make([]byte, min(bs, b.Size()-blk*bs))
	n, err := b.inner.ReadAt(ctx, buf, blk*bs)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n > 0 {
		b.store.cache.Add(key, buf[:n])
	}
	return buf[:n], nil
}

// ReadRange streams through ReadAt and therefore through the cache.
func (b *CachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(ReaderAt(ctx, b), off, length)), nil
}
