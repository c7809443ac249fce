// Package pn532 drives an NXP PN532 contactless reader over a HSU (UART)
// link.
//
// Only the operations the door controller needs are implemented:
// firmware query, SAM/RF configuration, single-target ISO14443A detection,
// a SELECT AID exchange for Android host-card emulation, target release and
// power-down.
//
// # Wire format
//
// Every command travels in a normal information frame:
//
//	00 | 00 FF | LEN | LCS | D4 CMD PARAMS... | DCS | 00
//
// LCS is the two's complement of LEN and DCS the two's complement of the
// payload sum. The reader answers with a fixed ACK frame followed by a
// response frame whose payload starts with D5 CMD+1.
//
// # Errors
//
// Every protocol-level failure (checksum, framing, ACK, timeout, unexpected
// opcode, multiple targets, oversized UID) is returned as a *ProtocolError.
// Callers that poll in a loop should log these and continue:
//
//	uid, err := dev.ReadPassiveTarget()
//	if pn532.IsProtocolError(err) {
//	    log.Warn("poll failed", "error", err)
//	}
package pn532
