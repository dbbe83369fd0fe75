package workflow

import "errors"

var (
	ErrNotFound = errors.New("workflow not found")
	ErrNotOwner = errors.New("workflow belongs to another user")
	// ErrLeaseLost means the caller's claim is no longer current: the lease expired and
	// another worker re-claimed the workflow, or the persisted units moved past the
	// caller's snapshot. The caller must stop without writing anything else.
	ErrLeaseLost = errors.New("workflow lease lost")
)
