package firmware

import "errors"

// Domain errors for the firmware package.
var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("firmware: image header truncated")

	// ErrBadMagic is returned for data that does not start with the image magic.
	ErrBadMagic = errors.New("firmware: bad image magic")

	// ErrUnsupportedFormat is returned for an unknown header format version.
	ErrUnsupportedFormat = errors.New("firmware: unsupported image format")

	// ErrImageTooLarge is returned when the server sends more than the header announced.
	ErrImageTooLarge = errors.New("firmware: image larger than announced")

	// ErrBadStatus is returned when the update server answers with a non-200 status.
	ErrBadStatus = errors.New("firmware: unexpected http status")

	// ErrNoImage is returned when a slot holds no image.
	ErrNoImage = errors.New("firmware: slot holds no image")

	// ErrSessionClosed is returned by session calls after Finish or Abort.
	ErrSessionClosed = errors.New("firmware: session closed")
)
