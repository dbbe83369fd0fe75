package reconcile

import "errors"

// ErrSweepInProgress is returned when another sweep holds the lock.
var ErrSweepInProgress = errors.New("reconciliation sweep already in progress")
