package access

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// PINLength is the number of digits a complete PIN entry has.
const PINLength = 4

// ErrInvalidPIN is returned for a PIN that is not all decimal digits.
var ErrInvalidPIN = errors.New("access: PIN must be decimal digits")

// Hash computes the authorization digest.
//
// The first four credential bytes are reversed and hex encoded, the PIN is
// formatted as eight zero-padded hex digits, and the string
// "PPPPPPPP:UUUUUUUU" is hashed with SHA-256. The result is lowercase hex.
func Hash(cred Credential, pin []byte) (string, error) {
	if len(pin) == 0 {
		return "", ErrInvalidPIN
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return "", ErrInvalidPIN
		}
	}
	value, err := strconv.ParseUint(string(pin), 10, 32)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPIN, err)
	}

	b := cred.HashBytes()
	if len(b) > 4 {
		b = b[:4]
	}
	reversed := make([]byte, len(b))
	for i := range b {
		reversed[i] = b[len(b)-1-i]
	}

	sum := sha256.Sum256([]byte(digestInput(uint32(value), reversed)))
	return hex.EncodeToString(sum[:]), nil
}

func digestInput(pin uint32, reversedID []byte) string {
	return fmt.Sprintf("%08x:%s", pin, hex.EncodeToString(reversedID))
}
