package pn532

import "fmt"

// EncodeFrame wraps payload in a normal information frame.
func EncodeFrame(payload []byte) ([]byte, error) {
	n := len(payload)
	if n < minPayloadLen || n > maxPayloadLen {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadSize, n)
	}

	frame := make([]byte, 0, n+frameHeaderLen+2)
	frame = append(frame,
		framePreamble,
		frameStartCode1,
		frameStartCode2,
		byte(n),
		checksum([]byte{byte(n)}),
	)
	frame = append(frame, payload...)
	frame = append(frame, checksum(payload), framePostamble)

	return frame, nil
}

// DecodeFrame validates a complete frame and returns a copy of its payload.
// Bytes after the postamble are ignored.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrFraming, len(frame))
	}

	n, err := decodeHeader(frame[:frameHeaderLen])
	if err != nil {
		return nil, err
	}

	end := frameHeaderLen + n + 2
	if len(frame) < end {
		return nil, fmt.Errorf("%w: truncated, want %d bytes, got %d", ErrFraming, end, len(frame))
	}

	return decodeBody(frame[frameHeaderLen:end], n)
}

// decodeHeader checks preamble, start code and length checksum, and returns
// the payload length.
func decodeHeader(h []byte) (int, error) {
	if h[0] != framePreamble || h[1] != frameStartCode1 || h[2] != frameStartCode2 {
		return 0, fmt.Errorf("%w: bad start marker % x", ErrFraming, h[:3])
	}
	if h[3]+h[4] != 0 {
		return 0, fmt.Errorf("%w: LEN=%#02x LCS=%#02x", ErrChecksum, h[3], h[4])
	}
	if h[3] == 0 {
		return 0, fmt.Errorf("%w: zero-length information frame", ErrFraming)
	}
	return int(h[3]), nil
}

// decodeBody validates payload+DCS+postamble (n+2 bytes).
func decodeBody(body []byte, n int) ([]byte, error) {
	var sum byte
	for _, b := range body[:n+1] {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("%w: payload sum %#02x", ErrChecksum, sum)
	}
	if body[n+1] != framePostamble {
		return nil, fmt.Errorf("%w: missing postamble", ErrFraming)
	}

	payload := make([]byte, n)
	copy(payload, body[:n])
	return payload, nil
}

// checksum returns the two's complement of the byte sum of data.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
