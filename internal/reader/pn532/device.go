package pn532

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// FirmwareVersion is the GetFirmwareVersion response.
type FirmwareVersion struct {
	IC       byte
	Version  byte
	Revision byte
	Support  byte
}

func (f FirmwareVersion) String() string {
	return fmt.Sprintf("PN5%02x v%d.%d", f.IC, f.Version, f.Revision)
}

// Config tunes the driver.
type Config struct {
	// ReadTimeout bounds each read (ACK, response header, response body).
	ReadTimeout time.Duration
}

var DefaultConfig = Config{
	ReadTimeout: DefaultReadTimeout,
}

// Device talks to a PN532 over a Transport it exclusively owns.
type Device struct {
	config    Config
	transport Transport
}

// New creates a driver. The transport must already be opened at the
// reader's baud rate.
func New(config Config, transport Transport) *Device {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	return &Device{
		config:    config,
		transport: transport,
	}
}

// SendCommand performs one command/response exchange and returns the
// response data after the D5 CMD+1 prefix.
//
// The exchange is: wake-up preamble, discard stale input, write frame,
// wait for ACK, read response frame. Each read has its own deadline, so a
// slow reader that keeps trickling bytes is not cut off mid-frame.
//
// Parameters:
//   - cmd: the PN532 command code (0x4A InListPassiveTarget, 0x16 PowerDown, ...)
//   - params: command parameters, sent after the D4 CMD prefix
//
// Returns:
//   - []byte: response data, possibly empty
//   - error: a *ProtocolError wrapping ErrPayloadSize, ErrAck,
//     ErrFraming, ErrChecksum or ErrResponse (a late ACK or response also
//     wraps ErrTimeout), or the transport's own error
//
// Example:
//
//	data, err := dev.SendCommand(0x4A, 0x01, 0x00) // InListPassiveTarget, one type A target
//	if pn532.IsProtocolError(err) {
//	    // reader present but the exchange failed; retry on the next poll
//	}
func (d *Device) SendCommand(cmd byte, params ...byte) ([]byte, error) {
	payload := make([]byte, 0, len(params)+2)
	payload = append(payload, frameHostToPN532, cmd)
	payload = append(payload, params...)

	frame, err := EncodeFrame(payload)
	if err != nil {
		return nil, protocolError(cmd, err)
	}

	if err := d.write(frameWakeUp[:]); err != nil {
		return nil, fmt.Errorf("writing wake-up: %w", err)
	}
	if err := d.transport.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("discarding stale input: %w", err)
	}
	if err := d.write(frame); err != nil {
		return nil, fmt.Errorf("writing %s frame: %w", commandName(cmd), err)
	}

	var ack [len(frameAck)]byte
	if err := d.readFull(ack[:]); err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, protocolError(cmd, fmt.Errorf("%w: %w", ErrAck, err))
		}
		return nil, err
	}
	if ack != frameAck {
		return nil, protocolError(cmd, fmt.Errorf("%w: got % x", ErrAck, ack[:]))
	}

	resp, err := d.readFrame()
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, protocolError(cmd, fmt.Errorf("%w: %w", ErrResponse, err))
		}
		if errors.Is(err, ErrFraming) || errors.Is(err, ErrChecksum) {
			return nil, protocolError(cmd, err)
		}
		return nil, err
	}

	if len(resp) < 2 {
		return nil, protocolError(cmd, fmt.Errorf("%w: %d-byte payload", ErrResponse, len(resp)))
	}
	if resp[0] != framePN532ToHost || resp[1] != cmd+1 {
		return nil, protocolError(cmd, fmt.Errorf("%w: header % x, want d5 %02x", ErrResponse, resp[:2], cmd+1))
	}

	return resp[2:], nil
}

// Configure puts the SAM in normal mode, switches the RF field on and
// limits passive activation to a single attempt so that ReadPassiveTarget
// returns immediately when no card is present.
func (d *Device) Configure() error {
	if _, err := d.SendCommand(cmdSAMConfiguration, samModeNormal); err != nil {
		return err
	}
	if err := d.setField(rfFieldOn); err != nil {
		return err
	}
	// MxRtyATR, MxRtyPSL, MxRtyPassiveActivation
	_, err := d.SendCommand(cmdRFConfiguration, rfItemMaxRetries, 0x00, 0x00, 0x00)
	return err
}

// FirmwareVersion queries the IC and firmware revision. Used at boot to
// confirm the reader is present.
func (d *Device) FirmwareVersion() (FirmwareVersion, error) {
	data, err := d.SendCommand(cmdGetFirmwareVersion)
	if err != nil {
		return FirmwareVersion{}, err
	}
	if len(data) < 4 {
		return FirmwareVersion{}, protocolError(cmdGetFirmwareVersion,
			fmt.Errorf("%w: %d data bytes, want 4", ErrResponse, len(data)))
	}
	return FirmwareVersion{
		IC:       data[0],
		Version:  data[1],
		Revision: data[2],
		Support:  data[3],
	}, nil
}

// ReadPassiveTarget looks for one ISO14443A target and returns its UID, or
// nil if nothing is in the field.
func (d *Device) ReadPassiveTarget() ([]byte, error) {
	if err := d.setField(rfFieldOn); err != nil {
		return nil, err
	}
	return d.listTarget()
}

// SelectApplication re-detects the target and sends SELECT AID. It returns
// the application's answer without the trailing 90 00, or nil when no
// target answers or the exchange fails at protocol level. Phones without
// the app and plain cards both land in the nil case.
func (d *Device) SelectApplication(aid []byte) ([]byte, error) {
	if err := d.setField(rfFieldOn); err != nil {
		if IsProtocolError(err) {
			return nil, nil
		}
		return nil, err
	}

	uid, err := d.listTarget()
	if err != nil {
		if IsProtocolError(err) {
			return nil, nil
		}
		return nil, err
	}
	if uid == nil {
		return nil, nil
	}

	params := make([]byte, 0, len(aid)+6)
	params = append(params, targetNumber)
	params = append(params, apduSelectHeader[:]...)
	params = append(params, byte(len(aid)))
	params = append(params, aid...)

	data, err := d.SendCommand(cmdInDataExchange, params...)
	if err != nil {
		if IsProtocolError(err) {
			return nil, nil
		}
		return nil, err
	}

	// data[0] is the InDataExchange status byte; low 6 bits are the error code.
	if len(data) < 2 || data[0]&0x3F != 0 {
		return nil, nil
	}
	answer := data[1:]
	if len(answer) >= 2 && bytes.Equal(answer[len(answer)-2:], statusWordOK[:]) {
		answer = answer[:len(answer)-2]
	}
	if len(answer) == 0 {
		return nil, nil
	}

	out := make([]byte, len(answer))
	copy(out, answer)
	return out, nil
}

// ReleaseTargets ends the session with every activated target.
func (d *Device) ReleaseTargets() error {
	_, err := d.SendCommand(cmdInRelease, releaseAllTargets)
	return err
}

// PowerDown switches the RF field off and puts the reader into low-power
// mode, waking on the next HSU byte.
func (d *Device) PowerDown() error {
	if err := d.setField(rfFieldOff); err != nil {
		return err
	}
	_, err := d.SendCommand(cmdPowerDown, wakeOnHSU)
	return err
}

func (d *Device) setField(state byte) error {
	_, err := d.SendCommand(cmdRFConfiguration, rfItemField, state)
	return err
}

// listTarget issues InListPassiveTarget for a single 106 kbps type A target.
//
// Response: NbTg, Tg, SENS_RES(2), SEL_RES, NFCIDLength, NFCID1...
func (d *Device) listTarget() ([]byte, error) {
	data, err := d.SendCommand(cmdInListPassiveTarget, maxTargets, baudISO14443A)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, protocolError(cmdInListPassiveTarget, fmt.Errorf("%w: empty target list", ErrResponse))
	}
	switch {
	case data[0] == 0x00:
		return nil, nil
	case data[0] > 0x01:
		return nil, protocolError(cmdInListPassiveTarget, fmt.Errorf("%w: %d", ErrMultipleTargets, data[0]))
	}

	if len(data) < 6 {
		return nil, protocolError(cmdInListPassiveTarget, fmt.Errorf("%w: target record too short", ErrResponse))
	}
	uidLen := int(data[5])
	if uidLen > MaxUIDLen {
		return nil, protocolError(cmdInListPassiveTarget, fmt.Errorf("%w: %d bytes", ErrOversizedUID, uidLen))
	}
	if len(data) < 6+uidLen {
		return nil, protocolError(cmdInListPassiveTarget, fmt.Errorf("%w: UID truncated", ErrResponse))
	}

	uid := make([]byte, uidLen)
	copy(uid, data[6:6+uidLen])
	return uid, nil
}

// readFrame reads header then body, each under its own deadline.
func (d *Device) readFrame() ([]byte, error) {
	var header [frameHeaderLen]byte
	if err := d.readFull(header[:]); err != nil {
		return nil, err
	}
	n, err := decodeHeader(header[:])
	if err != nil {
		return nil, err
	}

	body := make([]byte, n+2)
	if err := d.readFull(body); err != nil {
		return nil, err
	}
	return decodeBody(body, n)
}

// readFull fills buf before an absolute deadline.
func (d *Device) readFull(buf []byte) error {
	deadline := time.Now().Add(d.config.ReadTimeout)

	for got := 0; got < len(buf); {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %d of %d bytes after %v", ErrTimeout, got, len(buf), d.config.ReadTimeout)
		}
		if err := d.transport.SetReadTimeout(remaining); err != nil {
			return fmt.Errorf("setting read timeout: %w", err)
		}

		n, err := d.transport.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("reading transport: %w", err)
		}
		got += n
	}
	return nil
}

func (d *Device) write(data []byte) error {
	n, err := d.transport.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return ErrShortWrite
	}
	return nil
}
