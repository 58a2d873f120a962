package workspace

import "context"

// Manager governs per-template workspace directories.
//
// A workspace is a throwaway copy of a template's seed files that terraform
// runs against. Workspaces can disappear underneath the service (operators
// clean temp dirs, the OS reaps them); callers re-ensure before every run
// rather than trusting an earlier Ensure.
type Manager interface {
	// Ensure creates path (and parents) if absent and copies each listed
	// seed file that exists under sourceDir into it. A seed file missing at
	// the source is skipped, and an individual copy failure is logged and
	// skipped; only directory creation failure is an error.
	Ensure(ctx context.Context, path, sourceDir string, seedFiles []string) error

	// Remove recursively deletes path. A nonexistent path counts as
	// success. Failures are logged and reported via the return value so
	// callers can continue other cleanup steps.
	Remove(path string) bool

	// Exists reports whether path is an existing directory.
	Exists(path string) bool
}
