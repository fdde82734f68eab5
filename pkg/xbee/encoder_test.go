// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"bytes"
	"testing"
)

func TestEncodeFrame_KnownWire(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		expected []byte
	}{
		{
			name:     "AT ND",
			frame:    NewNodeDiscover(1),
			expected: []byte{0x7E, 0x00, 0x04, 0x08, 0x01, 0x4E, 0x44, 0x64},
		},
		{
			name:     "escaped XON in data",
			frame:    NewFrame(0x23, []byte{0x11}),
			expected: []byte{0x7E, 0x00, 0x02, 0x23, 0x7D, 0x31, 0xCB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeFrame(tt.frame)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("wire mismatch:\nexpected %X\ngot      %X", tt.expected, got)
			}
		})
	}
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"explicit tx", NewExplicitTx(0x10, 0x0013A20040A1B2C3, []byte{0x10, 0x00, 0x00, 0x19})},
		{"explicit tx with special bytes", NewExplicitTx(0x7E, 0x0013A2004011137D, []byte{0x7E, 0x7D, 0x11, 0x13})},
		{"remote at", NewRemoteATCommand(3, 0x0013A20040000001, "D0", []byte{0x05}, true)},
		{"at no param", NewATCommand(9, "VR", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := EncodeFrame(tt.frame)
			frames := decodeAll(t, wire)
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			got := frames[0]
			if got.Type() != tt.frame.Type() {
				t.Errorf("type: expected 0x%02X, got 0x%02X", tt.frame.Type(), got.Type())
			}
			if !bytes.Equal(got.Data(), tt.frame.Data()) {
				t.Errorf("data mismatch:\nexpected %X\ngot      %X", tt.frame.Data(), got.Data())
			}
			if got.Checksum() != tt.frame.Checksum() {
				t.Errorf("checksum: expected 0x%02X, got 0x%02X", tt.frame.Checksum(), got.Checksum())
			}
		})
	}
}

func TestEncodeFrame_NoUnescapedSpecialBytes(t *testing.T) {
	f := NewExplicitTx(0x11, 0x7E7D11137E7D1113, []byte{0x7E, 0x7D, 0x11, 0x13})
	wire := EncodeFrame(f)
	for i, b := range wire[1:] {
		if b == StartByte || b == XON || b == XOFF {
			t.Errorf("unescaped special byte 0x%02X at offset %d", b, i+1)
		}
	}
}

func TestEncodeFrameFromValues_TooLarge(t *testing.T) {
	_, err := EncodeFrameFromValues(FrameExplicitTx, make([]byte, MaxFrameDataSize))
	if err == nil {
		t.Error("expected error for oversized frame")
	}
}

func TestStuffUnstuff_RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x7E, 0x7D, 0x11, 0x13, 0xFF}
	stuffed := stuffBytes(data)
	if len(stuffed) != len(data)+4 {
		t.Errorf("expected 4 escapes, got %d extra bytes", len(stuffed)-len(data))
	}
	got, err := UnstuffBytes(stuffed)
	if err != nil {
		t.Fatalf("unstuff: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: %X != %X", got, data)
	}

	if _, err := UnstuffBytes([]byte{0x01, EscByte}); err == nil {
		t.Error("expected error for dangling escape")
	}
}
