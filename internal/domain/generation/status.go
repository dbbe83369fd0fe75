package generation

import "strings"

// Status is the closed set of job states. Every provider string is mapped onto it once,
// in ParseProviderStatus, and every state change goes through Transition.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Transition validates from -> to. Processing may move anywhere; a terminal status only
// accepts itself, reported as unchanged, so a job goes terminal at most once.
func Transition(from, to Status) (changed bool, err error) {
	if !from.Valid() || !to.Valid() {
		return false, ErrInvalidTransition
	}
	if from == StatusProcessing {
		return to != StatusProcessing, nil
	}
	if from == to {
		return false, nil
	}
	return false, ErrInvalidTransition
}

// ParseProviderStatus maps a raw provider status. Unknown values are treated as still running.
func ParseProviderStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "done":
		return StatusSucceeded
	case "failed", "error", "errored":
		return StatusFailed
	case "canceled", "cancelled", "aborted":
		return StatusCanceled
	default:
		return StatusProcessing
	}
}
