// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package xbee

import "encoding/binary"

// Command builder functions create Frame structs ready for encoding.
// Frame id 0 asks the radio not to send a response frame.

// NewExplicitTx creates an Explicit Addressing Command frame (0x11) using the
// DigiMesh endpoint, cluster and profile the TAM firmware listens on.
func NewExplicitTx(frameID byte, dest uint64, payload []byte) *Frame {
	return NewExplicitTxWith(frameID, dest, DefaultEndpoint, DefaultEndpoint, DefaultCluster, DefaultProfile, payload)
}

// NewExplicitTxWith creates an Explicit Addressing Command frame (0x11) with
// explicit endpoints, cluster and profile.
// Broadcast radius and transmit options are left at the radio defaults.
func NewExplicitTxWith(frameID byte, dest uint64, srcEndpoint, dstEndpoint byte, cluster, profile uint16, payload []byte) *Frame {
	data := make([]byte, 19, 19+len(payload))
	data[0] = frameID
	binary.BigEndian.PutUint64(data[1:9], dest)
	binary.BigEndian.PutUint16(data[9:11], Address16Unknown)
	data[11] = srcEndpoint
	data[12] = dstEndpoint
	binary.BigEndian.PutUint16(data[13:15], cluster)
	binary.BigEndian.PutUint16(data[15:17], profile)
	data[17] = 0 // broadcast radius
	data[18] = 0 // transmit options
	data = append(data, payload...)
	return NewFrame(FrameExplicitTx, data)
}

// NewATCommand creates a local AT Command frame (0x08).
// The command must be a two-character AT mnemonic.
func NewATCommand(frameID byte, command string, param []byte) *Frame {
	data := make([]byte, 0, 3+len(param))
	data = append(data, frameID)
	data = append(data, atMnemonic(command)...)
	data = append(data, param...)
	return NewFrame(FrameATCommand, data)
}

// NewNodeDiscover creates the AT ND command that makes the radio report
// every reachable mesh node.
func NewNodeDiscover(frameID byte) *Frame {
	return NewATCommand(frameID, "ND", nil)
}

// NewRemoteATCommand creates a Remote AT Command frame (0x17).
// When apply is set the remote radio applies the change immediately.
func NewRemoteATCommand(frameID byte, dest uint64, command string, param []byte, apply bool) *Frame {
	data := make([]byte, 14, 14+len(param))
	data[0] = frameID
	binary.BigEndian.PutUint64(data[1:9], dest)
	binary.BigEndian.PutUint16(data[9:11], Address16Unknown)
	if apply {
		data[11] = 0x02
	}
	copy(data[12:14], atMnemonic(command))
	data = append(data, param...)
	return NewFrame(FrameRemoteATCommand, data)
}

// atMnemonic returns the two command bytes, padding short input with spaces
func atMnemonic(command string) []byte {
	m := []byte{' ', ' '}
	copy(m, command)
	return m
}
