package temperature

import "errors"

// Domain errors for the temperature package.
var (
	// ErrSensorNotFound is returned when no sensor matches a key or index.
	ErrSensorNotFound = errors.New("temperature: sensor not found")

	// ErrNameTooLong is returned when a friendly name exceeds MaxNameLen.
	ErrNameTooLong = errors.New("temperature: friendly name too long")

	// ErrEmptyName is returned for an empty friendly name.
	ErrEmptyName = errors.New("temperature: friendly name is empty")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("temperature: poll loop already started")
)
