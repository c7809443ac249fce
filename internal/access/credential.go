package access

import (
	"encoding/hex"
	"unicode/utf8"
)

// Credential is what the card watcher detected. The concrete type is fixed
// at detection time: Physical for a plain card UID, AppToken when the
// phone app answered the SELECT AID exchange.
type Credential interface {
	// Kind names the variant for logs, events and metrics.
	Kind() string

	// HashBytes returns the bytes fed to Hash.
	HashBytes() []byte

	credential()
}

// Credential kinds.
const (
	KindPhysical = "physical"
	KindAppToken = "app"
)

// Physical is a card identified by its anticollision UID (1 to 7 bytes).
type Physical struct {
	UID []byte
}

func (Physical) Kind() string { return KindPhysical }

func (p Physical) HashBytes() []byte { return p.UID }

func (p Physical) String() string { return hex.EncodeToString(p.UID) }

func (Physical) credential() {}

// AppToken is the application answer returned by the phone app, with the
// status word already stripped.
type AppToken struct {
	Raw []byte
}

func (AppToken) Kind() string { return KindAppToken }

// Text is the token as the app meant it: the ASCII answer if it is ASCII,
// otherwise its hex encoding.
func (a AppToken) Text() string {
	if isASCII(a.Raw) {
		return string(a.Raw)
	}
	return hex.EncodeToString(a.Raw)
}

// HashBytes decodes a hex token (the app sends its identifier as hex
// text). Non-hex ASCII is used as is.
func (a AppToken) HashBytes() []byte {
	if !isASCII(a.Raw) {
		return a.Raw
	}
	if b, err := hex.DecodeString(string(a.Raw)); err == nil {
		return b
	}
	return a.Raw
}

func (a AppToken) String() string { return a.Text() }

func (AppToken) credential() {}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
