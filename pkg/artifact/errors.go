package artifact

import "errors"

var (
	// ErrHashConflict is returned when PutArtifact is called with an
	// explicit artifactID that already exists under a different content
	// hash — per spec §4.5, content-addressed dedupe only applies when the
	// bytes actually match.
	ErrHashConflict = errors.New("artifact: artifact id exists with a different content hash")
	// ErrNotFound mirrors store.ErrArtifactNotFound at this layer.
	ErrNotFound = errors.New("artifact: not found")
)
