package models

import "errors"

// Domain errors shared by the store, lifecycle and service layers.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrNotFound indicates the referenced order, stock item or payment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is a business rejection: available quantity is below the request.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict means a version or status guard rejected a write.
	// The whole operation must be re-read and re-applied.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalidTransition means the order state machine has no edge for (status, event).
	ErrInvalidTransition = errors.New("invalid order transition")

	// ErrNoTransaction is returned when an outbox row is recorded outside a transaction.
	ErrNoTransaction = errors.New("outbox event must be recorded inside a transaction")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

// IsBusinessRejection reports whether err is a terminal business outcome that must not be
// retried by a message consumer.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidInput)
}
