// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package xbee implements the XBee API mode 2 (escaped) frame format used to
// talk to a local DigiMesh radio over a serial link.
//
// The package provides frame encoding/decoding, checksum validation, typed
// builders for the outbound frames the coordinator sends and parsers for the
// inbound frames it consumes.
package xbee

// Framing bytes
const (
	StartByte = 0x7E
	EscByte   = 0x7D
	EscXor    = 0x20
	XON       = 0x11
	XOFF      = 0x13
)

// Frame size limits
const (
	MaxFrameDataSize = 256
	HeaderSize       = 3 // start + 2 length bytes
)

// Frame types - requests (host → radio)
const (
	FrameATCommand       = 0x08
	FrameExplicitTx      = 0x11
	FrameRemoteATCommand = 0x17
)

// Frame types - responses (radio → host)
const (
	FrameATResponse       = 0x88
	FrameModemStatus      = 0x8A
	FrameTxStatus         = 0x8B
	FrameExplicitRx       = 0x91
	FrameRemoteATResponse = 0x97
)

// Addressing
const (
	Address16Unknown = 0xFFFE
	AddressBroadcast = 0x000000000000FFFF
)

// DigiMesh explicit addressing defaults used by the TAM firmware
const (
	DefaultEndpoint = 0xE8
	DefaultCluster  = 0x0011
	DefaultProfile  = 0xC105
)

// AT command status codes
const (
	ATStatusOK               = 0x00
	ATStatusError            = 0x01
	ATStatusInvalidCommand   = 0x02
	ATStatusInvalidParameter = 0x03
	ATStatusTxFailure        = 0x04
)

// Transmit status delivery codes (subset)
const (
	DeliverySuccess          = 0x00
	DeliveryMACAckFailure    = 0x01
	DeliveryCCAFailure       = 0x02
	DeliveryNetworkAckFailed = 0x21
	DeliveryRouteNotFound    = 0x25
	DeliveryPayloadTooLarge  = 0x74
)

// Modem status codes (subset)
const (
	ModemHardwareReset   = 0x00
	ModemWatchdogReset   = 0x01
	ModemNetworkWoke     = 0x0B
	ModemNetworkAsleep   = 0x0C
	ModemVoltageExceeded = 0x0D
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLengthMSB
	stateLengthLSB
	stateData
	stateChecksum
)

// Kind is the tagged-variant view of a frame used for subscription
type Kind int

const (
	KindUnknown Kind = iota
	KindExplicitRx
	KindTxStatus
	KindATResponse
	KindNodeDiscover
	KindModemStatus
	KindRemoteATResponse
)

func (k Kind) String() string {
	switch k {
	case KindExplicitRx:
		return "explicit_rx"
	case KindTxStatus:
		return "tx_status"
	case KindATResponse:
		return "at_response"
	case KindNodeDiscover:
		return "node_discover"
	case KindModemStatus:
		return "modem_status"
	case KindRemoteATResponse:
		return "remote_at_response"
	default:
		return "unknown"
	}
}
