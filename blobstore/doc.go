// Package blobstore abstracts storage for snapshot blobs.
//
// The default implementations cover the local file system (LocalStore),
// memory (MemoryStore, for tests), and S3-compatible object storage via
// the minio and s3 subpackages.
package blobstore
