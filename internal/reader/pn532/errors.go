package pn532

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadSize     = errors.New("pn532: payload must be 2 to 254 bytes")
	ErrFraming         = errors.New("pn532: malformed frame")
	ErrChecksum        = errors.New("pn532: checksum mismatch")
	ErrAck             = errors.New("pn532: missing or invalid ACK")
	ErrTimeout         = errors.New("pn532: read timeout")
	ErrResponse        = errors.New("pn532: unexpected response")
	ErrMultipleTargets = errors.New("pn532: more than one target detected")
	ErrOversizedUID    = errors.New("pn532: UID longer than 7 bytes")
	ErrShortWrite      = errors.New("pn532: short write")
)

// ProtocolError reports a failed exchange with the reader. Err is one of
// the sentinel errors above, possibly wrapped with detail.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("pn532 %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func protocolError(cmd byte, err error) error {
	return &ProtocolError{Op: commandName(cmd), Err: err}
}
