package pn532

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport answers each command frame written to it using respond.
// Wake-up writes are recorded but not answered.
type fakeTransport struct {
	mu       sync.Mutex
	rx       []byte
	commands [][]byte
	resets   int
	respond  func(payload []byte) []byte
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(p) > 0 && p[0] == 0x55 {
		return len(p), nil
	}
	payload, err := DecodeFrame(p)
	if err != nil {
		return 0, err
	}
	f.commands = append(f.commands, payload)
	if f.respond != nil {
		f.rx = append(f.rx, f.respond(payload)...)
	}
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.rx) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		f.mu.Lock()
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeTransport) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeTransport) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.rx = nil
	return nil
}

// reply builds ACK + response frame for cmd.
func reply(cmd byte, data ...byte) []byte {
	payload := append([]byte{0xD5, cmd + 1}, data...)
	frame, err := EncodeFrame(payload)
	if err != nil {
		panic(err)
	}
	return append(frameAck[:], frame...)
}

// okRF answers RFConfiguration and delegates everything else.
func okRF(next func(payload []byte) []byte) func([]byte) []byte {
	return func(payload []byte) []byte {
		if payload[1] == cmdRFConfiguration {
			return reply(cmdRFConfiguration)
		}
		return next(payload)
	}
}

func newTestDevice(respond func([]byte) []byte) (*Device, *fakeTransport) {
	ft := &fakeTransport{respond: respond}
	return New(Config{ReadTimeout: 30 * time.Millisecond}, ft), ft
}

// =============================================================================
// SendCommand
// =============================================================================

func TestSendCommand_Success(t *testing.T) {
	d, ft := newTestDevice(func(payload []byte) []byte {
		return reply(payload[1], 0xAA, 0xBB)
	})

	got, err := d.SendCommand(0x02)
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Errorf("SendCommand() = % x, want aa bb", got)
	}
	if ft.resets != 1 {
		t.Errorf("ResetInputBuffer calls = %d, want 1", ft.resets)
	}
	if len(ft.commands) != 1 || !bytes.Equal(ft.commands[0], []byte{0xD4, 0x02}) {
		t.Errorf("commands = % x, want [d4 02]", ft.commands)
	}
}

func TestSendCommand_NoAck(t *testing.T) {
	d, _ := newTestDevice(nil)

	_, err := d.SendCommand(0x02)
	if !errors.Is(err, ErrAck) {
		t.Errorf("SendCommand() error = %v, want ErrAck", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("SendCommand() error = %v, want wrapped ErrTimeout", err)
	}
	if !IsProtocolError(err) {
		t.Error("IsProtocolError() = false, want true")
	}
}

func TestSendCommand_BadAck(t *testing.T) {
	d, _ := newTestDevice(func([]byte) []byte {
		return []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
	})

	_, err := d.SendCommand(0x02)
	if !errors.Is(err, ErrAck) {
		t.Errorf("SendCommand() error = %v, want ErrAck", err)
	}
}

func TestSendCommand_AckWithoutResponse(t *testing.T) {
	d, _ := newTestDevice(func([]byte) []byte {
		return frameAck[:]
	})

	_, err := d.SendCommand(0x02)
	if !errors.Is(err, ErrResponse) || !errors.Is(err, ErrTimeout) {
		t.Errorf("SendCommand() error = %v, want ErrResponse wrapping ErrTimeout", err)
	}
}

func TestSendCommand_WrongOpcode(t *testing.T) {
	d, _ := newTestDevice(func([]byte) []byte {
		return reply(0x10)
	})

	_, err := d.SendCommand(0x02)
	if !errors.Is(err, ErrResponse) {
		t.Errorf("SendCommand() error = %v, want ErrResponse", err)
	}

	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As(*ProtocolError) = false")
	}
	if pe.Op != "GetFirmwareVersion" {
		t.Errorf("Op = %q, want %q", pe.Op, "GetFirmwareVersion")
	}
}

func TestSendCommand_CorruptResponse(t *testing.T) {
	d, _ := newTestDevice(func([]byte) []byte {
		r := reply(0x02, 0x01)
		r[len(r)-2]++ // DCS
		return r
	})

	_, err := d.SendCommand(0x02)
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("SendCommand() error = %v, want ErrChecksum", err)
	}
	if !IsProtocolError(err) {
		t.Error("IsProtocolError() = false, want true")
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestFirmwareVersion(t *testing.T) {
	d, _ := newTestDevice(func(payload []byte) []byte {
		return reply(cmdGetFirmwareVersion, 0x32, 0x01, 0x06, 0x07)
	})

	fw, err := d.FirmwareVersion()
	if err != nil {
		t.Fatalf("FirmwareVersion() error = %v", err)
	}
	want := FirmwareVersion{IC: 0x32, Version: 1, Revision: 6, Support: 7}
	if fw != want {
		t.Errorf("FirmwareVersion() = %+v, want %+v", fw, want)
	}
	if fw.String() != "PN532 v1.6" {
		t.Errorf("String() = %q, want %q", fw.String(), "PN532 v1.6")
	}
}

func TestConfigure(t *testing.T) {
	d, ft := newTestDevice(func(payload []byte) []byte {
		return reply(payload[1])
	})

	if err := d.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	want := [][]byte{
		{0xD4, cmdSAMConfiguration, samModeNormal},
		{0xD4, cmdRFConfiguration, rfItemField, rfFieldOn},
		{0xD4, cmdRFConfiguration, rfItemMaxRetries, 0x00, 0x00, 0x00},
	}
	if len(ft.commands) != len(want) {
		t.Fatalf("sent %d commands, want %d", len(ft.commands), len(want))
	}
	for i := range want {
		if !bytes.Equal(ft.commands[i], want[i]) {
			t.Errorf("command[%d] = % x, want % x", i, ft.commands[i], want[i])
		}
	}
}

func TestReadPassiveTarget(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr error
	}{
		{
			name: "no target",
			data: []byte{0x00},
			want: nil,
		},
		{
			name: "four byte UID",
			data: []byte{0x01, 0x01, 0x00, 0x04, 0x08, 0x04, 0x01, 0x02, 0x03, 0x04},
			want: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "seven byte UID",
			data: []byte{0x01, 0x01, 0x00, 0x44, 0x00, 0x07, 1, 2, 3, 4, 5, 6, 7},
			want: []byte{1, 2, 3, 4, 5, 6, 7},
		},
		{
			name:    "multiple targets",
			data:    []byte{0x02, 0x01, 0x00, 0x04, 0x08, 0x04, 0x01, 0x02, 0x03, 0x04},
			wantErr: ErrMultipleTargets,
		},
		{
			name:    "oversized UID",
			data:    []byte{0x01, 0x01, 0x00, 0x04, 0x08, 0x0A, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantErr: ErrOversizedUID,
		},
		{
			name:    "truncated UID",
			data:    []byte{0x01, 0x01, 0x00, 0x04, 0x08, 0x04, 0x01},
			wantErr: ErrResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDevice(okRF(func([]byte) []byte {
				return reply(cmdInListPassiveTarget, tt.data...)
			}))

			got, err := d.ReadPassiveTarget()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadPassiveTarget() error = %v, want %v", err, tt.wantErr)
				}
				if !IsProtocolError(err) {
					t.Error("IsProtocolError() = false, want true")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadPassiveTarget() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReadPassiveTarget() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestSelectApplication(t *testing.T) {
	aid := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	target := []byte{0x01, 0x01, 0x00, 0x04, 0x08, 0x04, 0x01, 0x02, 0x03, 0x04}

	tests := []struct {
		name     string
		list     []byte
		exchange []byte
		noReply  bool
		badRF    bool
		want     []byte
	}{
		{
			name:     "token answered",
			list:     target,
			exchange: []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0x90, 0x00},
			want:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
		},
		{
			name: "no target",
			list: []byte{0x00},
			want: nil,
		},
		{
			name:     "exchange status error",
			list:     target,
			exchange: []byte{0x01},
			want:     nil,
		},
		{
			name:     "only status word",
			list:     target,
			exchange: []byte{0x00, 0x90, 0x00},
			want:     nil,
		},
		{
			name:    "exchange times out",
			list:    target,
			noReply: true,
			want:    nil,
		},
		{
			name:  "field setup answers wrong opcode",
			list:  target,
			badRF: true,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exchanged []byte
			d, _ := newTestDevice(func(payload []byte) []byte {
				switch payload[1] {
				case cmdRFConfiguration:
					if tt.badRF {
						return reply(cmdInDataExchange)
					}
					return reply(cmdRFConfiguration)
				case cmdInListPassiveTarget:
					return reply(cmdInListPassiveTarget, tt.list...)
				case cmdInDataExchange:
					exchanged = payload[2:]
					if tt.noReply {
						return nil
					}
					return reply(cmdInDataExchange, tt.exchange...)
				}
				return nil
			})

			got, err := d.SelectApplication(aid)
			if err != nil {
				t.Fatalf("SelectApplication() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("SelectApplication() = % x, want % x", got, tt.want)
			}

			if exchanged != nil {
				wantAPDU := append([]byte{0x01, 0x00, 0xA4, 0x04, 0x00, byte(len(aid))}, aid...)
				if !bytes.Equal(exchanged, wantAPDU) {
					t.Errorf("InDataExchange params = % x, want % x", exchanged, wantAPDU)
				}
			}
		})
	}
}

func TestPowerDown(t *testing.T) {
	d, ft := newTestDevice(func(payload []byte) []byte {
		return reply(payload[1])
	})

	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown() error = %v", err)
	}
	if len(ft.commands) != 2 {
		t.Fatalf("sent %d commands, want 2", len(ft.commands))
	}
	if !bytes.Equal(ft.commands[0], []byte{0xD4, cmdRFConfiguration, rfItemField, rfFieldOff}) {
		t.Errorf("command[0] = % x, want RF off", ft.commands[0])
	}
	if !bytes.Equal(ft.commands[1], []byte{0xD4, cmdPowerDown, wakeOnHSU}) {
		t.Errorf("command[1] = % x, want PowerDown", ft.commands[1])
	}
}

func TestReleaseTargets(t *testing.T) {
	d, ft := newTestDevice(func(payload []byte) []byte {
		return reply(payload[1], 0x00)
	})

	if err := d.ReleaseTargets(); err != nil {
		t.Fatalf("ReleaseTargets() error = %v", err)
	}
	if !bytes.Equal(ft.commands[0], []byte{0xD4, cmdInRelease, releaseAllTargets}) {
		t.Errorf("command = % x, want InRelease 00", ft.commands[0])
	}
}
