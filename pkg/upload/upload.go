// Package upload publishes exported API documents to remote storage.
package upload

import "context"

// Uploader uploads a local export directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir under the configured remote
	// prefix joined with name, and returns the number of files written.
	Upload(ctx context.Context, localDir, name string) (int, error)
}
