// Package onewire adapts a periph.io one-wire bus with DS18B20 sensors to
// the temperature.Bus interface.
package onewire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ds18b20"
	"periph.io/x/host/v3"

	"github.com/nerrad567/homeapp-node/internal/temperature"
)

// Adapter drives DS18B20 sensors on one bus. Devices are opened lazily on
// first read, which also programs their resolution.
type Adapter struct {
	bus  onewire.Bus
	bits int

	mu   sync.Mutex
	devs map[temperature.Address]*ds18b20.Dev
}

// Open initialises the periph host drivers and opens the named one-wire
// bus. An empty name opens the first registered bus.
func Open(name string, resolutionBits int) (*Adapter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}
	bus, err := onewirereg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening one-wire bus %q: %w", name, err)
	}
	return New(bus, resolutionBits), nil
}

// New wraps an open bus.
func New(bus onewire.Bus, resolutionBits int) *Adapter {
	return &Adapter{
		bus:  bus,
		bits: resolutionBits,
		devs: make(map[temperature.Address]*ds18b20.Dev),
	}
}

// String returns the bus name.
func (a *Adapter) String() string { return a.bus.String() }

// Close closes the underlying bus if it supports closing.
func (a *Adapter) Close() error {
	if c, ok := a.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Search implements temperature.Bus. Only DS18B20 and DS18S20 devices
// are returned.
func (a *Adapter) Search(ctx context.Context) ([]temperature.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := a.bus.Search(false)
	if err != nil {
		return nil, fmt.Errorf("searching one-wire bus: %w", err)
	}
	var out []temperature.Address
	for _, addr := range found {
		switch ds18b20.Family(addr & 0xff) {
		case ds18b20.DS18B20, ds18b20.DS18S20:
			out = append(out, toAddress(addr))
		}
	}
	return out, nil
}

// Convert implements temperature.Bus. It blocks for the conversion time of
// the configured resolution.
func (a *Adapter) Convert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ds18b20.ConvertAll(a.bus, a.bits); err != nil {
		return fmt.Errorf("converting temperatures: %w", err)
	}
	return nil
}

// Read implements temperature.Bus.
func (a *Adapter) Read(ctx context.Context, addr temperature.Address) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, ok := a.devs[addr]
	if !ok {
		var err error
		dev, err = ds18b20.New(a.bus, fromAddress(addr), a.bits)
		if err != nil {
			return 0, fmt.Errorf("opening sensor %s: %w", addr, err)
		}
		a.devs[addr] = dev
	}

	t, err := dev.LastTemp()
	if err != nil {
		// A device that stopped answering is probed again on the next read.
		var busErr onewire.BusError
		if errors.As(err, &busErr) && busErr.BusError() {
			delete(a.devs, addr)
		}
		return 0, fmt.Errorf("reading sensor %s: %w", addr, err)
	}
	return celsius(t), nil
}

func celsius(t physic.Temperature) float64 {
	return float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
}

// toAddress converts a periph address (family code in the low byte) to ROM
// byte order.
func toAddress(addr onewire.Address) temperature.Address {
	var a temperature.Address
	binary.LittleEndian.PutUint64(a[:], uint64(addr))
	return a
}

func fromAddress(a temperature.Address) onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(a[:]))
}

var _ temperature.Bus = (*Adapter)(nil)
