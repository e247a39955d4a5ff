package ota

import (
	"bytes"
	"context"
)

// VersionLen is the size of the fixed version field of an image descriptor.
const VersionLen = 32

// Descriptor identifies a firmware image.
type Descriptor struct {
	Version [VersionLen]byte
	Project [32]byte
}

// VersionString returns the version with trailing NUL padding removed.
func (d Descriptor) VersionString() string {
	return string(bytes.TrimRight(d.Version[:], "\x00"))
}

// ProjectString returns the project name with trailing NUL padding removed.
func (d Descriptor) ProjectString() string {
	return string(bytes.TrimRight(d.Project[:], "\x00"))
}

// NewDescriptor builds a descriptor, truncating fields that do not fit.
func NewDescriptor(project, version string) Descriptor {
	var d Descriptor
	copy(d.Version[:], version)
	copy(d.Project[:], project)
	return d
}

// Updater opens download sessions.
type Updater interface {
	// Begin connects to url and prepares the inactive slot. The returned
	// session is bound to ctx for all of its network I/O.
	Begin(ctx context.Context, url string) (Session, error)
}

// Session is one open image transfer.
type Session interface {
	// ImageDescriptor reads the candidate image's descriptor from the stream.
	ImageDescriptor() (Descriptor, error)

	// Perform reads and writes the next chunk. It returns ErrInProgress
	// while more data is expected, nil once the transfer ended cleanly,
	// or any other error on failure.
	Perform() error

	// BytesRead returns the cumulative number of image bytes received.
	BytesRead() int64

	// IsComplete reports whether the full expected payload was received.
	IsComplete() bool

	// Finish validates the written image and switches the boot slot to it.
	// It releases the session whether or not it succeeds; a corrupt image
	// yields ErrValidateFailed.
	Finish() error

	// Abort discards the partially written image and releases the session.
	Abort() error
}

// Stage is a lifecycle point reported by an Updater.
type Stage int

const (
	StageStart Stage = iota
	StageConnected
	StageImageDescriptor
	StageWrite
	StageBootSlotUpdated
	StageFinish
	StageAbort
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageConnected:
		return "connected"
	case StageImageDescriptor:
		return "image_descriptor"
	case StageWrite:
		return "write"
	case StageBootSlotUpdated:
		return "boot_slot_updated"
	case StageFinish:
		return "finish"
	case StageAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// StageObserver receives lifecycle notifications. detail is stage specific
// (bytes written for StageWrite, slot index for StageBootSlotUpdated).
type StageObserver func(stage Stage, detail int64)

// StageNotifier is implemented by updaters that report lifecycle stages.
type StageNotifier interface {
	OnStage(StageObserver)
}

// Partitions exposes the boot slot bookkeeping of the running image.
type Partitions interface {
	// Running returns the descriptor of the running image.
	Running() (Descriptor, error)

	// RunningPendingVerify reports whether the running image still awaits
	// confirmation and would be rolled back on the next restart.
	RunningPendingVerify() (bool, error)

	// MarkRunningValid confirms the running image and cancels the rollback.
	MarkRunningValid() error
}

// Restarter reboots the device. On real hardware Restart does not return.
type Restarter interface {
	Restart()
}
