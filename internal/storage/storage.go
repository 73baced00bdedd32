// Package storage provides object storage abstractions for the raw,
// silver, gold, and report artifacts.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts cloud object storage operations.
// Implementations include S3 and local filesystem for testing.
// All artifact writes are full-object replacements: a PUT to an existing
// key overwrites it, which is what makes the pipeline stages idempotent.
type ObjectStorage interface {
	// Upload uploads a local file to object storage.
	// localPath is the path to the local file to upload.
	// objectPath is the destination key in object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download downloads an object to a local file.
	// objectPath is the source key in object storage.
	// localPath is the destination path on the local filesystem.
	// Returns ErrObjectNotFound when the key does not exist.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object from storage. Deleting a missing
	// object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object keys under the given prefix.
	// Used by the reporter to discover a day's gold partitions.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
