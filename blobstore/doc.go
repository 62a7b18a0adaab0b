// Package blobstore provides the storage abstraction for FISHDBC snapshots.
//
// BlobStore stores immutable named blobs. Snapshots are written once with Put
// and located again with List; implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic writes via rename, mmap reads
//   - MemoryStore: in-process, for tests and ephemeral engines
//   - CachingStore: read-through LRU in front of any other store
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
