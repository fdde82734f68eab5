// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tamproto

import "fmt"

// FormatType returns the human-readable name for a payload type
func FormatType(payloadType byte) string {
	switch payloadType {
	case TypeStatus:
		return "STATUS"
	case TypeSetLeds:
		return "SET_LEDS"
	case TypeSetLedsAck:
		return "SET_LEDS_ACK"
	case TypeWriteRobot:
		return "WRITE_ROBOT"
	case TypeWriteRobotAck:
		return "WRITE_ROBOT_ACK"
	case TypeHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// FormatPayload formats a TAM payload on one line
func FormatPayload(payload []byte) string {
	msg, err := Parse(payload)
	if err != nil {
		return fmt.Sprintf("(invalid: %v)", err)
	}

	switch msg.Type {
	case TypeStatus:
		s, _ := DecodeStatus(msg.Body)
		return fmt.Sprintf("STATUS led=%s robot=%t data=0x%02X voltage=%.3fV",
			s.LED, s.RobotPresent, s.RobotData, s.Voltage())
	case TypeSetLeds:
		c, _ := DecodeSetLeds(msg.Body)
		return fmt.Sprintf("SET_LEDS color=%s", c)
	case TypeWriteRobot:
		return fmt.Sprintf("WRITE_ROBOT data=0x%02X", msg.Body[0])
	default:
		return FormatType(msg.Type)
	}
}
