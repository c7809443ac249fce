package pn532

import (
	"io"
	"time"
)

// Transport is the byte link to the reader. go.bug.st/serial.Port
// satisfies it directly.
//
// Read must return (0, nil) when the read timeout elapses with no data.
type Transport interface {
	io.ReadWriter

	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}
