// Package s3 provides a blobstore.BlobStore backed by Amazon S3.
package s3
