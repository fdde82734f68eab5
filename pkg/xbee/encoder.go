// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"fmt"
)

// Encoder encodes frames for transmission.
// Handles length, checksum and API mode 2 escaping.
type Encoder struct{}

// NewEncoder creates a new frame encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode encodes a Frame to wire format.
func (e *Encoder) Encode(f *Frame) ([]byte, error) {
	return EncodeFrameFromValues(f.Type(), f.Data())
}

// EncodeFrameFromValues creates a complete wire-formatted API frame.
// Returns the bytes ready for transmission, including the start delimiter
// and escaping.
func EncodeFrameFromValues(frameType byte, data []byte) ([]byte, error) {
	length := 1 + len(data)
	if length > MaxFrameDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", length, MaxFrameDataSize)
	}

	// Length, frame data and checksum are escaped; the start delimiter is not
	body := make([]byte, 0, 2+length+1)
	body = append(body, byte(length>>8), byte(length&0xFF))
	body = append(body, frameType)
	body = append(body, data...)
	body = append(body, CalculateChecksum(body[2:]))

	stuffed := stuffBytes(body)

	out := make([]byte, 0, len(stuffed)+1)
	out = append(out, StartByte)
	out = append(out, stuffed...)
	return out, nil
}

// EncodeFrame encodes an existing Frame to wire format.
// Panics on encoding error (use Encoder.Encode for error handling).
func EncodeFrame(f *Frame) []byte {
	data, err := EncodeFrameFromValues(f.Type(), f.Data())
	if err != nil {
		panic(fmt.Sprintf("xbee: encode error: %v", err))
	}
	return data
}

// needsEscape reports whether b must be escaped in API mode 2
func needsEscape(b byte) bool {
	return b == StartByte || b == EscByte || b == XON || b == XOFF
}

// stuffBytes applies API mode 2 escaping.
// Special bytes are replaced with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if needsEscape(b) {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnstuffBytes removes escaping from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
