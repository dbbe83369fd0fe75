package credit

import "errors"

var (
	// ErrInsufficientCredits is returned when the balance cannot cover a reservation.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrDuplicateReference is returned when a generation reference is already charged.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrReferenceNotFound is returned by Rebind when no generation row carries the old reference.
	ErrReferenceNotFound = errors.New("reference not found")

	ErrInternal = errors.New("internal error")
)
