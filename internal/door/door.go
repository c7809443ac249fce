// Package door drives the lock actuator through a GPIO output.
package door

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrPinNotFound is returned when the configured GPIO name is unknown.
var ErrPinNotFound = errors.New("door: GPIO pin not found")

// State is the lock position.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Actuator owns the lock output. A nil pin gives an actuator that only
// tracks state, for benches without a strike wired.
type Actuator struct {
	mu        sync.Mutex
	pin       gpio.PinOut
	activeLow bool
	state     State
}

// Open initialises the periph host drivers, looks up pinName and returns a
// locked actuator. An empty pinName yields a state-only actuator.
func Open(pinName string, activeLow bool) (*Actuator, error) {
	if pinName == "" {
		return New(nil, activeLow)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, pinName)
	}
	return New(p, activeLow)
}

// New wraps pin and drives it to Locked.
func New(pin gpio.PinOut, activeLow bool) (*Actuator, error) {
	a := &Actuator{pin: pin, activeLow: activeLow, state: Unlocked}
	if err := a.Lock(); err != nil {
		return nil, err
	}
	return a, nil
}

// Lock de-energises the strike.
func (a *Actuator) Lock() error {
	return a.set(Locked)
}

// Unlock energises the strike.
func (a *Actuator) Unlock() error {
	return a.set(Unlocked)
}

// State returns the last commanded position.
func (a *Actuator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actuator) set(s State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pin != nil {
		if err := a.pin.Out(a.level(s)); err != nil {
			return fmt.Errorf("driving %s to %s: %w", a.pin, s, err)
		}
	}
	a.state = s
	return nil
}

func (a *Actuator) level(s State) gpio.Level {
	energised := s == Unlocked
	if a.activeLow {
		energised = !energised
	}
	return gpio.Level(energised)
}
