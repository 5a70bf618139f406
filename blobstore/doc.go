// Package blobstore provides read access to the files datasets are loaded
// from.
//
// BlobStore is the interface the dataset loaders read through.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, memory-mapped
//   - MemStore: in-memory dataset files, for tests and uploads
//   - CachingStore: block cache in front of any remote store
//   - s3.Store: Amazon S3 with range reads
//   - minio.Store: MinIO and other S3-compatible storage
//
// Use ReaderAt or NewReader to hand a Blob to decoders that expect
// io.ReaderAt or io.Reader.
package blobstore
