package nvs

import "errors"

// Domain errors for the nvs package.
var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("nvs: key not found")

	// ErrKeyTooLong is returned when a key or namespace exceeds MaxKeyLen.
	ErrKeyTooLong = errors.New("nvs: key too long")

	// ErrEmptyKey is returned when a key or namespace is empty.
	ErrEmptyKey = errors.New("nvs: key is empty")
)
