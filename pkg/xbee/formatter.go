// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	frameType := FormatFrameType(f.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, frameType, f.Type(), f.Length())
	result += FormatFrameBody(f)

	return result
}

// FormatFrameType returns the human-readable name for a frame type
func FormatFrameType(frameType byte) string {
	switch frameType {
	case FrameATCommand:
		return "AT_COMMAND"
	case FrameExplicitTx:
		return "EXPLICIT_TX"
	case FrameRemoteATCommand:
		return "REMOTE_AT_COMMAND"
	case FrameATResponse:
		return "AT_RESPONSE"
	case FrameModemStatus:
		return "MODEM_STATUS"
	case FrameTxStatus:
		return "TX_STATUS"
	case FrameExplicitRx:
		return "EXPLICIT_RX"
	case FrameRemoteATResponse:
		return "REMOTE_AT_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// FormatFrameBody formats the decoded fields of a frame, one field group per line
func FormatFrameBody(f *Frame) string {
	switch f.Type() {
	case FrameExplicitRx:
		rx, err := ParseExplicitRx(f)
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  From: %016X, Endpoints: 0x%02X->0x%02X, Cluster: 0x%04X, Profile: 0x%04X, Payload: %d bytes\n",
			rx.Source64, rx.SourceEndpoint, rx.DestEndpoint, rx.Cluster, rx.Profile, len(rx.Data))

	case FrameTxStatus:
		st, err := ParseTxStatus(f)
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  Frame ID: %d, Retries: %d, Delivery: %s (0x%02X)\n",
			st.FrameID, st.Retries, FormatDeliveryStatus(st.Delivery), st.Delivery)

	case FrameATResponse:
		if f.Kind() == KindNodeDiscover {
			nd, err := ParseNodeDiscover(f)
			if err != nil {
				return fmt.Sprintf("  (node discover: %v)\n", err)
			}
			return fmt.Sprintf("  Node: %016X, NI: %q, Type: %d\n", nd.Address64, nd.Identifier, nd.DeviceType)
		}
		resp, err := ParseATResponse(f)
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  Frame ID: %d, Command: %s, Status: %s, Data: %s\n",
			resp.FrameID, resp.Command, FormatATStatus(resp.Status), FormatHex(resp.Data))

	case FrameModemStatus:
		ms, err := ParseModemStatus(f)
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  Status: %s (0x%02X)\n", FormatModemStatus(ms.Status), ms.Status)

	case FrameRemoteATResponse:
		resp, err := ParseRemoteATResponse(f)
		if err != nil {
			return fmt.Sprintf("  (malformed: %v)\n", err)
		}
		return fmt.Sprintf("  From: %016X, Command: %s, Status: %s, Data: %s\n",
			resp.Source64, resp.Command, FormatATStatus(resp.Status), FormatHex(resp.Data))

	case FrameATCommand:
		d := f.Data()
		if len(d) < 3 {
			return "  (malformed)\n"
		}
		return fmt.Sprintf("  Frame ID: %d, Command: %s, Param: %s\n", d[0], string(d[1:3]), FormatHex(d[3:]))

	default:
		return fmt.Sprintf("  Data: %s\n", FormatHex(f.Data()))
	}
}

// FormatDeliveryStatus returns a name for a transmit status delivery code
func FormatDeliveryStatus(code byte) string {
	switch code {
	case DeliverySuccess:
		return "SUCCESS"
	case DeliveryMACAckFailure:
		return "MAC_ACK_FAILURE"
	case DeliveryCCAFailure:
		return "CCA_FAILURE"
	case DeliveryNetworkAckFailed:
		return "NETWORK_ACK_FAILURE"
	case DeliveryRouteNotFound:
		return "ROUTE_NOT_FOUND"
	case DeliveryPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return "UNKNOWN"
	}
}

// FormatATStatus returns a name for an AT command status code
func FormatATStatus(code byte) string {
	switch code {
	case ATStatusOK:
		return "OK"
	case ATStatusError:
		return "ERROR"
	case ATStatusInvalidCommand:
		return "INVALID_COMMAND"
	case ATStatusInvalidParameter:
		return "INVALID_PARAMETER"
	case ATStatusTxFailure:
		return "TX_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// FormatModemStatus returns a name for a modem status code
func FormatModemStatus(code byte) string {
	switch code {
	case ModemHardwareReset:
		return "HARDWARE_RESET"
	case ModemWatchdogReset:
		return "WATCHDOG_RESET"
	case ModemNetworkWoke:
		return "NETWORK_WOKE"
	case ModemNetworkAsleep:
		return "NETWORK_ASLEEP"
	case ModemVoltageExceeded:
		return "VOLTAGE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// FormatHex renders bytes as space separated hex pairs
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
