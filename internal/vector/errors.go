package vector

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCorruptIndex is returned when a persisted index or id map fails structural validation.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrNonFiniteVector is returned when a vector holds a NaN or infinite component.
	ErrNonFiniteVector = errors.New("non-finite vector component")
)
