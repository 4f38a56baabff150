package upload

import "context"

// Uploader uploads a finished run directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in runDir. The directory basename (the run id)
	// is used as a sub-prefix under the configured remote prefix.
	Upload(ctx context.Context, runDir string) error
}
