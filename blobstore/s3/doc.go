// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.Connect(ctx, s3.Options{
//	    Bucket: "my-bucket",
//	    Prefix: "fishdbc/",
//	    Region: "us-east-1",
//	})
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads with CRC32C checksums for large snapshots
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
