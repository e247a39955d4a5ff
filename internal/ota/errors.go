package ota

import "errors"

// Domain errors for the ota package.
//
//	if errors.Is(err, ota.ErrAlreadyActive) {
//	    // a session is already running; retry later
//	}
var (
	// ErrAlreadyActive is returned by Start while another session runs.
	ErrAlreadyActive = errors.New("ota: update already running")

	// ErrEmptyImageName is returned by Start for an empty image name.
	ErrEmptyImageName = errors.New("ota: image name is empty")

	// ErrURLTooLong is returned by Start when the resolved URL exceeds MaxURLLen.
	ErrURLTooLong = errors.New("ota: image url too long")

	// ErrInProgress is returned by Session.Perform while more data is expected.
	ErrInProgress = errors.New("ota: transfer in progress")

	// ErrSameVersion aborts a session whose image matches the running version.
	ErrSameVersion = errors.New("ota: image version equals running version")

	// ErrIncomplete aborts a session that ended before the full image arrived.
	ErrIncomplete = errors.New("ota: image not completely received")

	// ErrValidateFailed is returned by Session.Finish for a corrupt image.
	ErrValidateFailed = errors.New("ota: image validation failed")
)
