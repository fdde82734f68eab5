// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package feed publishes the coordinator's TAM view to websocket clients
// as CBOR snapshots, and reads them back for remote monitoring.
package feed

import (
	"fmt"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/fxamacker/cbor/v2"
)

// Snapshot is one published copy of every TAM record
type Snapshot struct {
	RunID string      `cbor:"0,keyasint"`
	At    int64       `cbor:"1,keyasint"` // unix milliseconds
	TAMs  []TAMStatus `cbor:"2,keyasint"`
}

// TAMStatus is the wire form of a registry view
type TAMStatus struct {
	Address        uint64  `cbor:"0,keyasint"`
	ID             string  `cbor:"1,keyasint"`
	Resolved       bool    `cbor:"2,keyasint"`
	LastSeen       int64   `cbor:"3,keyasint"`
	Stale          bool    `cbor:"4,keyasint"`
	LedColor       uint32  `cbor:"5,keyasint"`
	RobotPresent   bool    `cbor:"6,keyasint"`
	RobotData      uint8   `cbor:"7,keyasint"`
	Voltage        float64 `cbor:"8,keyasint"`
	PendingLeds    bool    `cbor:"9,keyasint"`
	PendingRobot   bool    `cbor:"10,keyasint"`
	Controller     string  `cbor:"11,keyasint,omitempty"`
	DecodeErrors   uint64  `cbor:"12,keyasint"`
	MismatchErrors uint64  `cbor:"13,keyasint"`
	FailedCommands uint64  `cbor:"14,keyasint"`
}

// Color returns the confirmed LED color
func (s TAMStatus) Color() tamproto.Color {
	return tamproto.Color(s.LedColor)
}

// StatusOf converts a registry view
func StatusOf(v registry.View) TAMStatus {
	return TAMStatus{
		Address:        v.Address,
		ID:             v.ID,
		Resolved:       v.Resolved,
		LastSeen:       v.LastSeen,
		Stale:          v.Stale,
		LedColor:       uint32(v.LedColor),
		RobotPresent:   v.RobotPresent,
		RobotData:      v.RobotData,
		Voltage:        v.Voltage,
		PendingLeds:    v.PendingSetLeds,
		PendingRobot:   v.PendingWriteRobot,
		Controller:     v.Controller,
		DecodeErrors:   v.DecodeErrors,
		MismatchErrors: v.MismatchErrors,
		FailedCommands: v.FailedCommands,
	}
}

// NewSnapshot builds a snapshot from registry views
func NewSnapshot(runID string, at int64, views []registry.View) Snapshot {
	s := Snapshot{RunID: runID, At: at, TAMs: make([]TAMStatus, 0, len(views))}
	for _, v := range views {
		s.TAMs = append(s.TAMs, StatusOf(v))
	}
	return s
}

// Capture takes a snapshot of src at the clock's current time
func Capture(src Source, clock scheduler.Clock) Snapshot {
	return NewSnapshot(src.RunID(), scheduler.Millis(clock), src.View())
}

// Encode serialises a snapshot
func Encode(s Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return s, nil
}
