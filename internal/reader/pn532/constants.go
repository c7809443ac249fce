package pn532

import "time"

// Command opcodes (PN532 user manual §7).
const (
	cmdGetFirmwareVersion  byte = 0x02
	cmdSAMConfiguration    byte = 0x14
	cmdPowerDown           byte = 0x16
	cmdRFConfiguration     byte = 0x32
	cmdInDataExchange      byte = 0x40
	cmdInListPassiveTarget byte = 0x4A
	cmdInRelease           byte = 0x52
)

// RFConfiguration items.
const (
	rfItemField      byte = 0x01
	rfItemMaxRetries byte = 0x05

	rfFieldOn  byte = 0x03 // AutoRFCA on, RF on
	rfFieldOff byte = 0x00
)

const (
	samModeNormal     byte = 0x01
	baudISO14443A     byte = 0x00
	wakeOnHSU         byte = 0x10
	maxTargets        byte = 0x01
	targetNumber      byte = 0x01
	releaseAllTargets byte = 0x00
)

// Frame layout (§6.2.1.1).
const (
	framePreamble    byte = 0x00
	frameStartCode1  byte = 0x00
	frameStartCode2  byte = 0xFF
	framePostamble   byte = 0x00
	frameHostToPN532 byte = 0xD4
	framePN532ToHost byte = 0xD5

	// frameHeaderLen covers preamble, start code, LEN and LCS.
	frameHeaderLen = 5

	minPayloadLen = 2
	maxPayloadLen = 254
)

// MaxUIDLen is the longest UID accepted from InListPassiveTarget.
const MaxUIDLen = 7

// DefaultReadTimeout bounds every individual read from the transport.
const DefaultReadTimeout = 1 * time.Second

// ISO 7816-4 SELECT by name and the success status word.
var (
	apduSelectHeader = [4]byte{0x00, 0xA4, 0x04, 0x00}
	statusWordOK     = [2]byte{0x90, 0x00}
)

var frameAck = [6]byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}

var frameWakeUp = [14]byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

var commandNames = map[byte]string{
	cmdGetFirmwareVersion:  "GetFirmwareVersion",
	cmdSAMConfiguration:    "SAMConfiguration",
	cmdPowerDown:           "PowerDown",
	cmdRFConfiguration:     "RFConfiguration",
	cmdInDataExchange:      "InDataExchange",
	cmdInListPassiveTarget: "InListPassiveTarget",
	cmdInRelease:           "InRelease",
}

func commandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return "command"
}
