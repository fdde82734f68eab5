// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChecksum is returned when a frame's checksum does not verify
	ErrChecksum = errors.New("checksum mismatch")

	// ErrInvalidLength is returned for a zero or oversized length field
	ErrInvalidLength = errors.New("invalid frame length")
)

// Decoder implements the API mode 2 frame decoder state machine
type Decoder struct {
	state      int
	length     int
	buffer     []byte
	escapeNext bool
	rawBuffer  []byte // Accumulate raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxFrameDataSize),
		rawBuffer: make([]byte, 0, (MaxFrameDataSize+HeaderSize+1)*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.length = 0
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes of the frame in progress,
// or of the last rejected frame until the next start delimiter
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// abort returns to idle but keeps the rejected frame's raw bytes
func (d *Decoder) abort() {
	d.state = stateIdle
	d.length = 0
	d.buffer = d.buffer[:0]
	d.escapeNext = false
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if decoding fails; the decoder is then back to idle.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	// An unescaped start delimiter always begins a new frame
	if b == StartByte {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLengthMSB
		return nil, nil
	}

	if d.state == stateIdle {
		// Noise between frames
		return nil, nil
	}

	d.rawBuffer = append(d.rawBuffer, b)

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateLengthMSB:
		d.length = int(b) << 8
		d.state = stateLengthLSB
		return nil, nil

	case stateLengthLSB:
		d.length |= int(b)
		if d.length == 0 || d.length > MaxFrameDataSize {
			length := d.length
			d.abort()
			return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, length, MaxFrameDataSize)
		}
		d.state = stateData
		return nil, nil

	case stateData:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) >= d.length {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		if !VerifyChecksum(d.buffer, b) {
			expected := CalculateChecksum(d.buffer)
			d.abort()
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, expected, b)
		}

		data := make([]byte, len(d.buffer)-1)
		copy(data, d.buffer[1:])
		frame := &Frame{
			frameType: d.buffer[0],
			data:      data,
			checksum:  b,
			timestamp: time.Now(),
		}

		d.Reset()
		return frame, nil

	default:
		d.abort()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// DecodeBytes feeds a buffer through the decoder, returning all completed
// frames and any decode errors in arrival order. Errors carry the raw bytes
// of the rejected frame.
func (d *Decoder) DecodeBytes(data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if err != nil {
			if raw := d.GetRawBytes(); len(raw) > 0 {
				err = fmt.Errorf("%w (raw: %s)", err, FormatHex(raw))
			}
			errs = append(errs, err)
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames, errs
}
