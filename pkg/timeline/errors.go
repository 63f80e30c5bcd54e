package timeline

import "errors"

var (
	// ErrNotFound is returned when a referenced node does not exist
	ErrNotFound = errors.New("node not found")

	// ErrInvalidParent is returned when a parent id does not exist or
	// belongs to a different owner
	ErrInvalidParent = errors.New("invalid parent node")

	// ErrCycleDetected is returned when a move would make a node its
	// own ancestor
	ErrCycleDetected = errors.New("move would create a cycle")

	// ErrValidation is returned when node input is malformed
	ErrValidation = errors.New("invalid node")
)

// IsNotFound checks if the error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidParent checks if the error is or wraps ErrInvalidParent
func IsInvalidParent(err error) bool {
	return errors.Is(err, ErrInvalidParent)
}

// IsCycle checks if the error is or wraps ErrCycleDetected
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycleDetected)
}

// IsValidation checks if the error is or wraps ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
