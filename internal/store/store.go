package store

// Store persists extraction runs.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a run or artifact doesn't exist
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically writes the manifest and its raw artifacts.
	// An existing run with the same ID is overwritten.
	SaveRun(manifest *RunManifest, artifacts map[string][]byte) error

	// LoadRun returns the manifest of a stored run.
	LoadRun(runID string) (*RunManifest, error)

	// ReadArtifact returns the raw bytes of one artifact of a run.
	ReadArtifact(runID, name string) ([]byte, error)

	// ListRuns returns metadata for all stored runs, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run directory including artifacts and trace.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run or artifact does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run or artifact.
type NotFoundError struct {
	RunID    string
	Artifact string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Artifact != "":
		return "artifact not found: " + e.RunID + "/" + e.Artifact
	case e.RunID != "":
		return "run not found: " + e.RunID
	default:
		return "run not found"
	}
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
