package blobstore

import (
	"context"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/falcon/internal/mmap"
)

// LocalStore serves dataset files from a directory, memory-mapped.
type LocalStore struct {
	root string
}

// NewLocalStore returns a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

// Open maps name read-only. Parquet files get random-access readahead,
// every other format is decoded front to back.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := mmap.Map(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	_ = f.Hint(hintFor(name))
	return &localBlob{f: f}, nil
}

func hintFor(name string) mmap.Hint {
	if strings.EqualFold(path.Ext(name), ".parquet") {
		return mmap.HintRandom
	}
	return mmap.HintSequential
}

// List walks the directory tree. Names use forward slashes.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case d.IsDir():
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

type localBlob struct {
	f *mmap.File
}

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.f.ReadAt(p, off)
}

// ReadRange pages the range in ahead of the reader; Parquet column chunks
// are read this way.
func (b *localBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	_ = b.f.Prefetch(off, length)
	return sliceRange(b.f.Data(), off, length), nil
}

func (b *localBlob) Size() int64 { return b.f.Len() }

func (b *localBlob) Bytes() ([]byte, error) {
	if data := b.f.Data(); data != nil || b.f.Len() == 0 {
		return data, nil
	}
	return nil, mmap.ErrUnmapped
}

func (b *localBlob) Close() error { return b.f.Close() }
