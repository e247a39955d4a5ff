package firmware

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nerrad567/homeapp-node/internal/ota"
)

// HeaderSize is the fixed size of the image header preceding the payload.
const HeaderSize = 128

// FormatVersion is the only header format this package reads and writes.
const FormatVersion = 1

// Magic identifies a homeapp firmware image.
var Magic = [4]byte{'H', 'A', 'F', 'W'}

// Header layout (little endian):
//
//	0   magic        [4]byte "HAFW"
//	4   format       uint16
//	6   reserved     [2]byte
//	8   payload_len  uint64
//	16  sha256       [32]byte of the payload
//	48  version      [32]byte NUL padded
//	80  project      [32]byte NUL padded
//	112 reserved     [16]byte
type Header struct {
	PayloadLen uint64
	SHA256     [sha256.Size]byte
	Version    [ota.VersionLen]byte
	Project    [32]byte
}

// NewHeader builds a header describing payload.
func NewHeader(project, version string, payload []byte) Header {
	d := ota.NewDescriptor(project, version)
	return Header{
		PayloadLen: uint64(len(payload)),
		SHA256:     sha256.Sum256(payload),
		Version:    d.Version,
		Project:    d.Project,
	}
}

// Descriptor returns the image descriptor carried by the header.
func (h Header) Descriptor() ota.Descriptor {
	return ota.Descriptor{Version: h.Version, Project: h.Project}
}

// MarshalBinary encodes the header into HeaderSize bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	copy(b[0:4], Magic[:])
	binary.LittleEndian.PutUint16(b[4:6], FormatVersion)
	binary.LittleEndian.PutUint64(b[8:16], h.PayloadLen)
	copy(b[16:48], h.SHA256[:])
	copy(b[48:80], h.Version[:])
	copy(b[80:112], h.Project[:])
	return b, nil
}

// UnmarshalBinary decodes a header from the first HeaderSize bytes of b.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	if [4]byte(b[0:4]) != Magic {
		return fmt.Errorf("%w: %q", ErrBadMagic, b[0:4])
	}
	if f := binary.LittleEndian.Uint16(b[4:6]); f != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedFormat, f)
	}
	h.PayloadLen = binary.LittleEndian.Uint64(b[8:16])
	copy(h.SHA256[:], b[16:48])
	copy(h.Version[:], b[48:80])
	copy(h.Project[:], b[80:112])
	return nil
}

// ReadHeader reads and decodes a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Header{}, ErrShortHeader
		}
		return Header{}, fmt.Errorf("reading image header: %w", err)
	}
	var h Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return Header{}, err
	}
	return h, nil
}

// BuildImage returns a complete image (header followed by payload).
func BuildImage(project, version string, payload []byte) []byte {
	h := NewHeader(project, version, payload)
	b, _ := h.MarshalBinary()
	return append(b, payload...)
}
