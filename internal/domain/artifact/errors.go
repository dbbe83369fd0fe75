package artifact

import "errors"

var (
	// ErrMaterialization wraps every failure to turn a provider output into a stored artifact.
	ErrMaterialization = errors.New("materialization failed")

	ErrPayloadTooSmall = errors.New("payload below minimum size")
	ErrNotFound        = errors.New("artifact not found")
	// ErrArtifactClosed means the job's artifact was already marked failed or discarded.
	ErrArtifactClosed = errors.New("artifact already closed")
)
