// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShortFrame is returned when a frame is too short for its type
	ErrShortFrame = errors.New("frame too short")

	// ErrWrongType is returned when a parser is handed a frame of another type
	ErrWrongType = errors.New("unexpected frame type")
)

// ExplicitRx is a decoded Explicit RX Indicator frame (0x91)
type ExplicitRx struct {
	Source64       uint64
	Source16       uint16
	SourceEndpoint byte
	DestEndpoint   byte
	Cluster        uint16
	Profile        uint16
	Options        byte
	Data           []byte
}

// ParseExplicitRx decodes an Explicit RX Indicator frame
func ParseExplicitRx(f *Frame) (ExplicitRx, error) {
	if f.Type() != FrameExplicitRx {
		return ExplicitRx{}, fmt.Errorf("%w: 0x%02X", ErrWrongType, f.Type())
	}
	d := f.Data()
	if len(d) < 17 {
		return ExplicitRx{}, fmt.Errorf("%w: explicit rx has %d bytes", ErrShortFrame, len(d))
	}
	return ExplicitRx{
		Source64:       binary.BigEndian.Uint64(d[0:8]),
		Source16:       binary.BigEndian.Uint16(d[8:10]),
		SourceEndpoint: d[10],
		DestEndpoint:   d[11],
		Cluster:        binary.BigEndian.Uint16(d[12:14]),
		Profile:        binary.BigEndian.Uint16(d[14:16]),
		Options:        d[16],
		Data:           d[17:],
	}, nil
}

// TxStatus is a decoded Transmit Status frame (0x8B)
type TxStatus struct {
	FrameID   byte
	Dest16    uint16
	Retries   byte
	Delivery  byte
	Discovery byte
}

// OK reports whether the radio delivered the frame
func (s TxStatus) OK() bool {
	return s.Delivery == DeliverySuccess
}

// ParseTxStatus decodes a Transmit Status frame
func ParseTxStatus(f *Frame) (TxStatus, error) {
	if f.Type() != FrameTxStatus {
		return TxStatus{}, fmt.Errorf("%w: 0x%02X", ErrWrongType, f.Type())
	}
	d := f.Data()
	if len(d) < 6 {
		return TxStatus{}, fmt.Errorf("%w: tx status has %d bytes", ErrShortFrame, len(d))
	}
	return TxStatus{
		FrameID:   d[0],
		Dest16:    binary.BigEndian.Uint16(d[1:3]),
		Retries:   d[3],
		Delivery:  d[4],
		Discovery: d[5],
	}, nil
}

// ATResponse is a decoded local AT Command Response frame (0x88)
type ATResponse struct {
	FrameID byte
	Command string
	Status  byte
	Data    []byte
}

// OK reports whether the command succeeded
func (r ATResponse) OK() bool {
	return r.Status == ATStatusOK
}

// ParseATResponse decodes an AT Command Response frame
func ParseATResponse(f *Frame) (ATResponse, error) {
	if f.Type() != FrameATResponse {
		return ATResponse{}, fmt.Errorf("%w: 0x%02X", ErrWrongType, f.Type())
	}
	d := f.Data()
	if len(d) < 4 {
		return ATResponse{}, fmt.Errorf("%w: at response has %d bytes", ErrShortFrame, len(d))
	}
	return ATResponse{
		FrameID: d[0],
		Command: string(d[1:3]),
		Status:  d[3],
		Data:    d[4:],
	}, nil
}

// NodeDiscoverReply is one node reported in response to AT ND
type NodeDiscoverReply struct {
	FrameID      byte
	Address16    uint16
	Address64    uint64
	Identifier   string
	Parent       uint16
	DeviceType   byte
	Status       byte
	Profile      uint16
	Manufacturer uint16
}

// ParseNodeDiscover decodes an AT ND response.
// Fields after the node identifier are optional on the wire.
func ParseNodeDiscover(f *Frame) (NodeDiscoverReply, error) {
	resp, err := ParseATResponse(f)
	if err != nil {
		return NodeDiscoverReply{}, err
	}
	if resp.Command != "ND" {
		return NodeDiscoverReply{}, fmt.Errorf("%w: AT %s is not ND", ErrWrongType, resp.Command)
	}
	if !resp.OK() {
		return NodeDiscoverReply{}, fmt.Errorf("node discover failed: status 0x%02X", resp.Status)
	}
	d := resp.Data
	if len(d) < 10 {
		return NodeDiscoverReply{}, fmt.Errorf("%w: node discover reply has %d bytes", ErrShortFrame, len(d))
	}

	reply := NodeDiscoverReply{
		FrameID:   resp.FrameID,
		Address16: binary.BigEndian.Uint16(d[0:2]),
		Address64: binary.BigEndian.Uint64(d[2:10]),
	}

	rest := d[10:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		reply.Identifier = cleanIdentifier(rest)
		return reply, nil
	}
	reply.Identifier = cleanIdentifier(rest[:end])
	rest = rest[end+1:]

	if len(rest) >= 2 {
		reply.Parent = binary.BigEndian.Uint16(rest[0:2])
	}
	if len(rest) >= 3 {
		reply.DeviceType = rest[2]
	}
	if len(rest) >= 4 {
		reply.Status = rest[3]
	}
	if len(rest) >= 6 {
		reply.Profile = binary.BigEndian.Uint16(rest[4:6])
	}
	if len(rest) >= 8 {
		reply.Manufacturer = binary.BigEndian.Uint16(rest[6:8])
	}
	return reply, nil
}

func cleanIdentifier(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}

// ModemStatus is a decoded Modem Status frame (0x8A)
type ModemStatus struct {
	Status byte
}

// ParseModemStatus decodes a Modem Status frame
func ParseModemStatus(f *Frame) (ModemStatus, error) {
	if f.Type() != FrameModemStatus {
		return ModemStatus{}, fmt.Errorf("%w: 0x%02X", ErrWrongType, f.Type())
	}
	if len(f.Data()) < 1 {
		return ModemStatus{}, fmt.Errorf("%w: modem status is empty", ErrShortFrame)
	}
	return ModemStatus{Status: f.Data()[0]}, nil
}

// RemoteATResponse is a decoded Remote AT Command Response frame (0x97)
type RemoteATResponse struct {
	FrameID  byte
	Source64 uint64
	Source16 uint16
	Command  string
	Status   byte
	Data     []byte
}

// ParseRemoteATResponse decodes a Remote AT Command Response frame
func ParseRemoteATResponse(f *Frame) (RemoteATResponse, error) {
	if f.Type() != FrameRemoteATResponse {
		return RemoteATResponse{}, fmt.Errorf("%w: 0x%02X", ErrWrongType, f.Type())
	}
	d := f.Data()
	if len(d) < 14 {
		return RemoteATResponse{}, fmt.Errorf("%w: remote at response has %d bytes", ErrShortFrame, len(d))
	}
	return RemoteATResponse{
		FrameID:  d[0],
		Source64: binary.BigEndian.Uint64(d[1:9]),
		Source16: binary.BigEndian.Uint16(d[9:11]),
		Command:  string(d[11:13]),
		Status:   d[13],
		Data:     d[14:],
	}, nil
}
