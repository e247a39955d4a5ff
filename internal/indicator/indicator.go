// Package indicator drives the activity LED that lights while the node
// searches for sensors or publishes a record.
package indicator

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is the part of gpio.PinOut the indicator uses.
type Pin interface {
	Out(l gpio.Level) error
}

// Indicator lights an LED for the duration of an activity. A nil or
// pinless Indicator does nothing.
//
// Overlapping activities keep the LED on until the last one ends.
type Indicator struct {
	pin Pin

	mu     sync.Mutex
	active int
}

// Open looks up the named GPIO pin. An empty name returns a no-op indicator.
func Open(name string) (*Indicator, error) {
	if name == "" {
		return &Indicator{}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	ind := New(p)
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configuring gpio pin %q: %w", name, err)
	}
	return ind, nil
}

// New wraps an already configured pin.
func New(pin Pin) *Indicator {
	return &Indicator{pin: pin}
}

// Begin switches the LED on and returns the function that ends the
// activity. The returned function is safe to call more than once.
func (i *Indicator) Begin() (end func()) {
	if i == nil || i.pin == nil {
		return func() {}
	}

	i.mu.Lock()
	i.active++
	if i.active == 1 {
		_ = i.pin.Out(gpio.High)
	}
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			defer i.mu.Unlock()
			i.active--
			if i.active == 0 {
				_ = i.pin.Out(gpio.Low)
			}
		})
	}
}

// Off forces the LED off.
func (i *Indicator) Off() error {
	if i == nil || i.pin == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = 0
	return i.pin.Out(gpio.Low)
}
