package blobstore

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemStore keeps dataset files in memory. Tests load fixtures from it and
// the server can hold uploaded datasets in one.
type MemStore struct {
	mu    sync.RWMutex
	files map[string]bytesReaderAt
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{files: map[string]bytesReaderAt{}}
}

// Put stores a private copy of data as name.
func (s *MemStore) Put(_ context.Context, name string, data []byte) error {
	file := bytes.Clone(data)
	s.mu.Lock()
	s.files[name] = file
	s.mu.Unlock()
	return nil
}

// Remove forgets name. Blobs already open keep their contents.
func (s *MemStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.files, name)
	s.mu.Unlock()
	return nil
}

// Open returns a handle on the current contents of name.
func (s *MemStore) Open(_ context.Context, name string) (Blob, error) {
	s.mu.RLock()
	file, ok := s.files[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &notFoundError{name: name}
	}
	return memBlob{file}, nil
}

// List returns the sorted names starting with prefix.
func (s *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	names := slices.Sorted(maps.Keys(s.files))
	s.mu.RUnlock()
	return slices.DeleteFunc(names, func(n string) bool {
		return !strings.HasPrefix(n, prefix)
	}), nil
}

type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "blobstore: " + e.name + " not found" }

func (e *notFoundError) Unwrap() error { return ErrNotFound }

// memBlob shares the stored slice, Put never writes into one.
type memBlob struct{ file bytesReaderAt }

func (b memBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b memBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	return sliceRange(b.file, off, length), nil
}

func (b memBlob) Size() int64 { return int64(len(b.file)) }

func (b memBlob) Bytes() ([]byte, error) { return b.file, nil }

func (memBlob) Close() error { return nil }
