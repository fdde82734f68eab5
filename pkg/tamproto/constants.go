// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tamproto encodes and decodes the application payloads exchanged
// with TAMs inside XBee explicit frames.
//
// The first payload byte is a type discriminator; the remaining bytes are a
// fixed-size body per type.
package tamproto

// Payload types - TAM → coordinator
const (
	TypeStatus        = 0x01
	TypeSetLedsAck    = 0x11
	TypeWriteRobotAck = 0x21
	TypeHeartbeat     = 0x70
)

// Payload types - coordinator → TAM
const (
	TypeSetLeds    = 0x10
	TypeWriteRobot = 0x20
)

// Body sizes (excluding the type byte)
const (
	StatusBodySize     = 7
	SetLedsBodySize    = 3
	WriteRobotBodySize = 1
)

// Status flags
const (
	FlagRobotPresent = 0x01
)

// Voltage limits
const (
	MaxVoltage        = 65.535
	DefaultLowVoltage = 3.2
)

// CommandKind identifies a retriable coordinator → TAM command
type CommandKind int

const (
	CommandSetLeds CommandKind = iota
	CommandWriteRobot

	// NumCommandKinds is the number of command kinds, for per-kind arrays
	NumCommandKinds
)

func (k CommandKind) String() string {
	switch k {
	case CommandSetLeds:
		return "SET_LEDS"
	case CommandWriteRobot:
		return "WRITE_ROBOT"
	default:
		return "UNKNOWN"
	}
}

// RequestType returns the payload type used to send the command
func (k CommandKind) RequestType() byte {
	switch k {
	case CommandSetLeds:
		return TypeSetLeds
	case CommandWriteRobot:
		return TypeWriteRobot
	default:
		return 0
	}
}

// AckKind maps an acknowledgement payload type to the command it confirms
func AckKind(payloadType byte) (CommandKind, bool) {
	switch payloadType {
	case TypeSetLedsAck:
		return CommandSetLeds, true
	case TypeWriteRobotAck:
		return CommandWriteRobot, true
	default:
		return 0, false
	}
}
