// Package keypad drives the PIN pad controller over its serial link.
//
// The controller takes single ASCII command bytes and streams key presses
// back as ASCII characters.
package keypad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Command bytes understood by the controller.
const (
	cmdReset          byte = 'F'
	cmdEnableFeedback byte = 'Q'
	cmdGranted        byte = 'H'
	cmdDenied         byte = 'S'
)

// LED selects the status LED colour.
type LED byte

const (
	LEDGreen LED = 'G'
	LEDRed   LED = 'R'
)

// Defaults for PIN collection.
const (
	DefaultPINTimeout   = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	PINLength           = 4
)

var ErrShortWrite = errors.New("keypad: short write")

// Port is the serial link to the controller. go.bug.st/serial.Port
// satisfies it.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Config configures PIN collection.
type Config struct {
	PINTimeout   time.Duration
	PollInterval time.Duration
}

// Keypad owns its port.
type Keypad struct {
	port   Port
	config Config
}

// New creates a keypad driver.
func New(port Port, cfg Config) *Keypad {
	if cfg.PINTimeout <= 0 {
		cfg.PINTimeout = DefaultPINTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Keypad{port: port, config: cfg}
}

// Reset returns the controller to idle.
func (k *Keypad) Reset() error { return k.send(cmdReset) }

// EnableFeedback turns on key click feedback.
func (k *Keypad) EnableFeedback() error { return k.send(cmdEnableFeedback) }

// SetLED switches the status LED.
func (k *Keypad) SetLED(c LED) error { return k.send(byte(c)) }

// SignalGranted plays the accept pattern.
func (k *Keypad) SignalGranted() error { return k.send(cmdGranted) }

// SignalDenied plays the reject pattern.
func (k *Keypad) SignalDenied() error { return k.send(cmdDenied) }

// CollectPIN gathers up to PINLength digits. It returns early once all
// digits are in; otherwise it returns whatever arrived before the timeout,
// possibly nothing. A short result is not an error.
//
// Non-digit keys are ignored. Input buffered before the call is discarded.
func (k *Keypad) CollectPIN(ctx context.Context) ([]byte, error) {
	if err := k.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("discarding keypad input: %w", err)
	}
	if err := k.EnableFeedback(); err != nil {
		return nil, err
	}
	if err := k.SetLED(LEDGreen); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(k.config.PINTimeout)
	pin := make([]byte, 0, PINLength)
	buf := make([]byte, 16)

	for len(pin) < PINLength {
		if err := ctx.Err(); err != nil {
			return pin, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		if err := k.port.SetReadTimeout(min(remaining, k.config.PollInterval)); err != nil {
			return pin, fmt.Errorf("setting keypad read timeout: %w", err)
		}
		n, err := k.port.Read(buf)
		if err != nil {
			return pin, fmt.Errorf("reading keypad: %w", err)
		}

		for _, c := range buf[:n] {
			if c >= '0' && c <= '9' {
				pin = append(pin, c)
				if len(pin) == PINLength {
					break
				}
			}
		}
	}

	return pin, nil
}

func (k *Keypad) send(b byte) error {
	n, err := k.port.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("writing keypad command %q: %w", b, err)
	}
	if n != 1 {
		return ErrShortWrite
	}
	return nil
}
