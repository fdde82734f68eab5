// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import "time"

// Frame represents a decoded (unescaped) XBee API frame
type Frame struct {
	frameType byte
	data      []byte // frame data following the type byte
	checksum  byte
	timestamp time.Time
}

// NewFrame creates a frame from its type and the bytes following the type.
// The checksum is computed automatically.
func NewFrame(frameType byte, data []byte) *Frame {
	f := &Frame{
		frameType: frameType,
		data:      data,
		timestamp: time.Now(),
	}
	f.checksum = CalculateChecksum(f.frameData())
	return f
}

// frameData returns the type byte followed by the frame data, the section
// covered by the length field and the checksum
func (f *Frame) frameData() []byte {
	out := make([]byte, 0, 1+len(f.data))
	out = append(out, f.frameType)
	return append(out, f.data...)
}

// Type returns the API frame type
func (f *Frame) Type() byte {
	return f.frameType
}

// Data returns the bytes following the type byte
func (f *Frame) Data() []byte {
	return f.data
}

// Length returns the value of the frame's length field
func (f *Frame) Length() int {
	return 1 + len(f.data)
}

// Checksum returns the frame's checksum
func (f *Frame) Checksum() byte {
	return f.checksum
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// FrameID returns the frame id of request and status frames, or 0 for
// frame types that carry none
func (f *Frame) FrameID() byte {
	switch f.frameType {
	case FrameATCommand, FrameExplicitTx, FrameRemoteATCommand,
		FrameATResponse, FrameTxStatus, FrameRemoteATResponse:
		if len(f.data) > 0 {
			return f.data[0]
		}
	}
	return 0
}

// Kind classifies the frame for subscription dispatch
func (f *Frame) Kind() Kind {
	switch f.frameType {
	case FrameExplicitRx:
		return KindExplicitRx
	case FrameTxStatus:
		return KindTxStatus
	case FrameModemStatus:
		return KindModemStatus
	case FrameRemoteATResponse:
		return KindRemoteATResponse
	case FrameATResponse:
		if len(f.data) >= 3 && f.data[1] == 'N' && f.data[2] == 'D' {
			return KindNodeDiscover
		}
		return KindATResponse
	default:
		return KindUnknown
	}
}
