// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coordinator

import (
	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
)

// TAM is the controller-facing handle to one device. Its methods must be
// called from the scheduler goroutine, which is where controllers, timer
// tasks and event subscribers run.
type TAM struct {
	rec *registry.TAM
	c   *Coordinator
}

// ID returns the symbolic id, or the address placeholder before discovery
// resolves one
func (t *TAM) ID() string { return t.rec.ID() }

// Address returns the 64-bit mesh address
func (t *TAM) Address() uint64 { return t.rec.Address() }

// Resolved reports whether the id came from node discovery
func (t *TAM) Resolved() bool { return t.rec.Resolved() }

// FirstSeen returns when the TAM was first observed
func (t *TAM) FirstSeen() int64 { return t.rec.FirstSeen() }

// LastSeen returns the timestamp of the latest evidence from the TAM
func (t *TAM) LastSeen() int64 { return t.rec.LastSeen() }

// Stale reports whether the last liveness audit found the TAM silent
func (t *TAM) Stale() bool { return t.rec.Stale() }

// RobotPresent reports whether a robot sits in the TAM
func (t *TAM) RobotPresent() bool { return t.rec.RobotPresent() }

// RobotPresentLastUpdated returns when robot presence last changed
func (t *TAM) RobotPresentLastUpdated() int64 { return t.rec.RobotPresentLastUpdated() }

// RobotData returns the last byte the robot sent over IR
func (t *TAM) RobotData() uint8 { return t.rec.RobotData() }

// RobotDataLastUpdated returns when the robot byte last changed
func (t *TAM) RobotDataLastUpdated() int64 { return t.rec.RobotDataLastUpdated() }

// LedColor returns the last confirmed LED color
func (t *TAM) LedColor() tamproto.Color { return t.rec.LedColor() }

// LedColorLastUpdated returns when the LED color last changed
func (t *TAM) LedColorLastUpdated() int64 { return t.rec.LedColorLastUpdated() }

// Voltage returns the last reported supply voltage
func (t *TAM) Voltage() float64 { return t.rec.Voltage() }

// Controller returns the bound controller, or nil
func (t *TAM) Controller() registry.Controller { return t.rec.Controller() }

// SetLedColor asks the TAM to show c. Nothing is sent when the TAM already
// confirmed c and no other color is in flight.
func (t *TAM) SetLedColor(c tamproto.Color) {
	c = c.RGB24()
	if t.rec.Pending(tamproto.CommandSetLeds) == nil &&
		t.rec.LedColorLastUpdated() != 0 && t.rec.LedColor().Equal(c) {
		return
	}
	if err := t.c.proto.SendSetLeds(t.rec, c); err != nil {
		t.c.logger.Warn().Err(err).Str("tam", t.ID()).Msg("Set LED color")
	}
}

// SetRobotDataToSend asks the TAM to pass data to the robot over IR.
// Nothing is sent when the TAM already acknowledged data and nothing else
// is in flight.
func (t *TAM) SetRobotDataToSend(data uint8) {
	if t.rec.Pending(tamproto.CommandWriteRobot) == nil {
		if sent, ok := t.rec.RobotDataSent(); ok && sent == data {
			return
		}
	}
	if err := t.c.proto.SendWriteRobot(t.rec, data); err != nil {
		t.c.logger.Warn().Err(err).Str("tam", t.ID()).Msg("Write robot data")
	}
}

func (t *TAM) String() string {
	return t.rec.String()
}
