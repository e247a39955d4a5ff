// Package node describes the identity of this device on the message bus.
package node

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoHardwareID is returned when no usable hardware address can be found.
var ErrNoHardwareID = errors.New("node: no hardware id available")

// Identity names the device.
type Identity struct {
	// Name is the device name (second topic level).
	Name string

	// Prefix is the first topic level.
	Prefix string

	// HardwareID is the 6-byte MAC-style identifier.
	HardwareID net.HardwareAddr
}

// ShortID returns bytes 3..5 of the hardware id as six lowercase hex digits.
// It is used both as the third topic level and as the "dev" field of every
// status record. Each byte is zero padded so the id always has six digits.
func (id Identity) ShortID() string {
	hw := id.HardwareID
	if len(hw) < 6 {
		return "000000"
	}
	return fmt.Sprintf("%02x%02x%02x", hw[3], hw[4], hw[5])
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Prefix, id.Name, id.ShortID())
}

// Resolve builds the identity from configuration. An empty hardwareID
// selects the first up, non-loopback interface with a 6-byte address,
// optionally restricted to the interface named iface.
func Resolve(prefix, name, hardwareID, iface string) (Identity, error) {
	id := Identity{Name: name, Prefix: prefix}

	if hardwareID != "" {
		hw, err := net.ParseMAC(hardwareID)
		if err != nil {
			return Identity{}, fmt.Errorf("parsing hardware id %q: %w", hardwareID, err)
		}
		if len(hw) != 6 {
			return Identity{}, fmt.Errorf("%w: %q is not a 6-byte address", ErrNoHardwareID, hardwareID)
		}
		id.HardwareID = hw
		return id, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return Identity{}, fmt.Errorf("listing interfaces: %w", err)
	}
	hw := pickHardwareAddr(ifaces, iface)
	if hw == nil {
		return Identity{}, ErrNoHardwareID
	}
	id.HardwareID = hw
	return id, nil
}

func pickHardwareAddr(ifaces []net.Interface, want string) net.HardwareAddr {
	for _, ifc := range ifaces {
		if want != "" && ifc.Name != want {
			continue
		}
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) != 6 {
			continue
		}
		if want == "" && ifc.Flags&net.FlagUp == 0 {
			continue
		}
		return ifc.HardwareAddr
	}
	return nil
}
