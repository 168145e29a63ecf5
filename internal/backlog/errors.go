package backlog

import "errors"

// Run-level errors. Per-file faults never surface here; they become
// status=error entries in the run log.

var (
	// Setup errors
	ErrFolderEnumeration = errors.New("failed to enumerate daily folders")
	ErrNoFolders         = errors.New("no daily folders found")

	// Log artifact errors
	ErrLogWrite    = errors.New("failed to write processing log")
	ErrLogNotFound = errors.New("processing log not found")
	ErrInvalidRun  = errors.New("invalid run id")
)
