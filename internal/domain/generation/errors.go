package generation

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("generation job not found")
	ErrJobTerminal       = errors.New("generation job already finished")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalProviderFailure marks a job the provider reported as failed or canceled.
	ErrTerminalProviderFailure = errors.New("provider reported terminal failure")

	// ErrPollTimeout is returned when server-driven polling exceeds its attempt ceiling.
	ErrPollTimeout = errors.New("job did not finish within the polling ceiling")
)

// Submission failure reasons.
const (
	ReasonInvalidRequest   = "invalid_request"
	ReasonTooManyAssets    = "too_many_assets"
	ReasonAssetUnreachable = "asset_unreachable"
	ReasonProviderRejected = "provider_rejected"
	ReasonProviderError    = "provider_error"
)

// SubmissionError is any failure before the provider accepted a job.
type SubmissionError struct {
	Reason string
	Msg    string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission failed (%s): %s: %v", e.Reason, e.Msg, e.Err)
	}
	return fmt.Sprintf("submission failed (%s): %s", e.Reason, e.Msg)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// RefundedError wraps a failure whose reservation was returned. Balance is the balance
// after the refund.
type RefundedError struct {
	Err     error
	Balance int
}

func (e *RefundedError) Error() string {
	return e.Err.Error()
}

func (e *RefundedError) Unwrap() error {
	return e.Err
}
