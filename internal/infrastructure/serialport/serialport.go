// Package serialport opens the UART links to the card reader and keypad.
//
// Both devices run 8N1. The returned port is owned by exactly one driver;
// nothing else may read or write it.
package serialport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrNoPort is returned when no device path is configured.
var ErrNoPort = errors.New("serialport: no device configured")

// Port is the subset of serial.Port the drivers use.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Open opens name at baud, 8N1, with an initial read timeout.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	if name == "" {
		return nil, ErrNoPort
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}

	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close() //nolint:errcheck // best-effort cleanup on setup failure
			return nil, fmt.Errorf("setting read timeout on %s: %w", name, err)
		}
	}

	return port, nil
}

// List returns the serial device paths present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
