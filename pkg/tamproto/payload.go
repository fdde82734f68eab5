// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tamproto

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyPayload is returned for a payload without a type byte
	ErrEmptyPayload = errors.New("empty payload")

	// ErrUnknownType is returned for an unrecognised type byte
	ErrUnknownType = errors.New("unknown payload type")

	// ErrProtocolMismatch is returned when a body has an unexpected length
	ErrProtocolMismatch = errors.New("payload length mismatch")
)

// Message is a payload split into its type byte and body
type Message struct {
	Type byte
	Body []byte
}

// Parse splits a payload and checks the body length for its type
func Parse(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, ErrEmptyPayload
	}
	msg := Message{Type: payload[0], Body: payload[1:]}

	want, ok := bodySize(msg.Type)
	if !ok {
		return msg, fmt.Errorf("%w: 0x%02X", ErrUnknownType, msg.Type)
	}
	if len(msg.Body) != want {
		return msg, fmt.Errorf("%w: %s body is %d bytes, expected %d",
			ErrProtocolMismatch, FormatType(msg.Type), len(msg.Body), want)
	}
	return msg, nil
}

func bodySize(payloadType byte) (int, bool) {
	switch payloadType {
	case TypeStatus:
		return StatusBodySize, true
	case TypeSetLeds:
		return SetLedsBodySize, true
	case TypeWriteRobot:
		return WriteRobotBodySize, true
	case TypeSetLedsAck, TypeWriteRobotAck, TypeHeartbeat:
		return 0, true
	default:
		return 0, false
	}
}

// Status is the state a TAM reports in a STATUS payload
type Status struct {
	LED          Color
	RobotPresent bool
	RobotData    uint8
	Millivolts   uint16
}

// Voltage returns the supply voltage in volts
func (s Status) Voltage() float64 {
	return MillivoltsToVolts(s.Millivolts)
}

// DecodeStatus decodes a STATUS body (type byte already stripped)
func DecodeStatus(body []byte) (Status, error) {
	if len(body) != StatusBodySize {
		return Status{}, fmt.Errorf("%w: STATUS body is %d bytes, expected %d",
			ErrProtocolMismatch, len(body), StatusBodySize)
	}
	return Status{
		LED:          RGB(body[2], body[1], body[0]),
		RobotPresent: body[3]&FlagRobotPresent != 0,
		RobotData:    body[4],
		Millivolts:   uint16(body[5]) | uint16(body[6])<<8,
	}, nil
}

// EncodeStatus builds a complete STATUS payload
func EncodeStatus(s Status) []byte {
	var flags byte
	if s.RobotPresent {
		flags |= FlagRobotPresent
	}
	return []byte{
		TypeStatus,
		s.LED.B(), s.LED.G(), s.LED.R(),
		flags,
		s.RobotData,
		byte(s.Millivolts), byte(s.Millivolts >> 8),
	}
}

// EncodeSetLeds builds a SET_LEDS payload; the reserved color byte is dropped
func EncodeSetLeds(c Color) []byte {
	c = c.RGB24()
	return []byte{TypeSetLeds, c.B(), c.G(), c.R()}
}

// EncodeWriteRobot builds a WRITE_ROBOT payload
func EncodeWriteRobot(data uint8) []byte {
	return []byte{TypeWriteRobot, data}
}

// DecodeSetLeds decodes a SET_LEDS body
func DecodeSetLeds(body []byte) (Color, error) {
	if len(body) != SetLedsBodySize {
		return 0, fmt.Errorf("%w: SET_LEDS body is %d bytes", ErrProtocolMismatch, len(body))
	}
	return RGB(body[2], body[1], body[0]), nil
}

// MillivoltsToVolts converts the wire voltage field to volts
func MillivoltsToVolts(mv uint16) float64 {
	return float64(mv) / 1000.0
}

// VoltsToMillivolts converts volts to the wire field, rounding to the
// nearest millivolt and clamping to the field range
func VoltsToMillivolts(v float64) uint16 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= MaxVoltage {
		return math.MaxUint16
	}
	return uint16(math.Round(v * 1000))
}
