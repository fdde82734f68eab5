// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package registry

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
)

// Controller is the per-TAM state machine advanced by the step tick
type Controller interface {
	Step()
}

// Source names the evidence that led to observing a TAM
type Source int

const (
	SourceStatus Source = iota
	SourceHeartbeat
	SourceAck
	SourceDiscovery
)

func (s Source) String() string {
	switch s {
	case SourceStatus:
		return "status"
	case SourceHeartbeat:
		return "heartbeat"
	case SourceAck:
		return "ack"
	case SourceDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

// Pending is an in-flight command awaiting acknowledgement
type Pending struct {
	Kind    tamproto.CommandKind
	FrameID byte
	Attempt int
	Value   uint32 // color or robot byte
	SentAt  int64
	Timer   *scheduler.Handle
}

// TAM is the coordinator's record of one device.
// Records are owned by the scheduler goroutine; other goroutines read View
// copies instead.
type TAM struct {
	address64 uint64
	id        string
	resolved  bool

	firstSeen int64
	lastSeen  int64

	ledColor            tamproto.Color
	ledColorLastUpdated int64

	robotPresent            bool
	robotPresentLastUpdated int64

	robotData            uint8
	robotDataLastUpdated int64

	voltage    float64
	lowVoltage bool

	// robotDataSent is the last WRITE_ROBOT value the TAM acknowledged
	robotDataSent      uint8
	robotDataSentValid bool

	pending [tamproto.NumCommandKinds]*Pending

	controller Controller

	stale          bool
	decodeErrors   uint64
	mismatchErrors uint64
	failedCommands uint64
	lastMismatchAt int64
}

// PlaceholderID returns the id used before node discovery resolves one:
// the last five hex digits of the address
func PlaceholderID(address64 uint64) string {
	s := fmt.Sprintf("%016X", address64)
	return s[len(s)-5:]
}

// Address returns the 64-bit mesh address
func (t *TAM) Address() uint64 { return t.address64 }

// ID returns the symbolic id
func (t *TAM) ID() string { return t.id }

// Resolved reports whether the id came from node discovery
func (t *TAM) Resolved() bool { return t.resolved }

// FirstSeen returns the creation timestamp
func (t *TAM) FirstSeen() int64 { return t.firstSeen }

// LastSeen returns the timestamp of the latest evidence
func (t *TAM) LastSeen() int64 { return t.lastSeen }

// LedColor returns the last confirmed LED color
func (t *TAM) LedColor() tamproto.Color { return t.ledColor }

// LedColorLastUpdated returns when the LED color last changed
func (t *TAM) LedColorLastUpdated() int64 { return t.ledColorLastUpdated }

// RobotPresent reports whether a robot sits in the TAM
func (t *TAM) RobotPresent() bool { return t.robotPresent }

// RobotPresentLastUpdated returns when robot presence last changed
func (t *TAM) RobotPresentLastUpdated() int64 { return t.robotPresentLastUpdated }

// RobotData returns the last byte received from a robot
func (t *TAM) RobotData() uint8 { return t.robotData }

// RobotDataLastUpdated returns when the robot byte last changed
func (t *TAM) RobotDataLastUpdated() int64 { return t.robotDataLastUpdated }

// Voltage returns the last reported supply voltage
func (t *TAM) Voltage() float64 { return t.voltage }

// RobotDataSent returns the last acknowledged WRITE_ROBOT value
func (t *TAM) RobotDataSent() (uint8, bool) { return t.robotDataSent, t.robotDataSentValid }

// Pending returns the in-flight command of a kind, or nil
func (t *TAM) Pending(kind tamproto.CommandKind) *Pending { return t.pending[kind] }

// Controller returns the bound controller, or nil
func (t *TAM) Controller() Controller { return t.controller }

// Stale reports whether the last liveness audit found the TAM silent
func (t *TAM) Stale() bool { return t.stale }

// DecodeErrors returns the number of undecodable payloads from this TAM
func (t *TAM) DecodeErrors() uint64 { return t.decodeErrors }

// MismatchErrors returns the number of payloads with an unexpected length
func (t *TAM) MismatchErrors() uint64 { return t.mismatchErrors }

// FailedCommands returns the number of commands that exhausted their retries
func (t *TAM) FailedCommands() uint64 { return t.failedCommands }

func (t *TAM) String() string {
	return fmt.Sprintf("%s (%016X)", t.id, t.address64)
}

// stamp returns a change timestamp strictly after prev, so that a field's
// last-updated time increases on every change
func stamp(now, prev int64) int64 {
	if prev != 0 && now <= prev {
		return prev + 1
	}
	return now
}

// touch records liveness evidence
func (t *TAM) touch(now int64) {
	if now > t.lastSeen {
		t.lastSeen = now
	}
}

// bumpLastSeen keeps the update timestamps within last_seen
func (t *TAM) bumpLastSeen(ts int64) {
	if ts > t.lastSeen {
		t.lastSeen = ts
	}
}

// SetLedColor records a confirmed LED color. The timestamp advances only
// when the color changes or has never been set; returns whether it moved.
func (t *TAM) SetLedColor(c tamproto.Color, now int64) bool {
	c = c.RGB24()
	if t.ledColorLastUpdated != 0 && t.ledColor.Equal(c) {
		return false
	}
	t.ledColor = c
	t.ledColorLastUpdated = stamp(now, t.ledColorLastUpdated)
	t.bumpLastSeen(t.ledColorLastUpdated)
	return true
}

// SetRobotPresent records robot presence with the same change rule
func (t *TAM) SetRobotPresent(present bool, now int64) bool {
	if t.robotPresentLastUpdated != 0 && t.robotPresent == present {
		return false
	}
	t.robotPresent = present
	t.robotPresentLastUpdated = stamp(now, t.robotPresentLastUpdated)
	t.bumpLastSeen(t.robotPresentLastUpdated)
	return true
}

// SetRobotData records the robot byte with the same change rule
func (t *TAM) SetRobotData(data uint8, now int64) bool {
	if t.robotDataLastUpdated != 0 && t.robotData == data {
		return false
	}
	t.robotData = data
	t.robotDataLastUpdated = stamp(now, t.robotDataLastUpdated)
	t.bumpLastSeen(t.robotDataLastUpdated)
	return true
}

// SetVoltage records the supply voltage and reports whether it just
// crossed below threshold
func (t *TAM) SetVoltage(v, threshold float64) (crossedLow bool) {
	t.voltage = v
	low := v < threshold
	crossedLow = low && !t.lowVoltage
	t.lowVoltage = low
	return crossedLow
}

// SetRobotDataSent records an acknowledged WRITE_ROBOT value
func (t *TAM) SetRobotDataSent(data uint8) {
	t.robotDataSent = data
	t.robotDataSentValid = true
}

// SetPending installs or clears (p == nil) the in-flight command of a kind
func (t *TAM) SetPending(kind tamproto.CommandKind, p *Pending) {
	t.pending[kind] = p
}

// SetStale records the liveness audit result and reports whether it changed
func (t *TAM) SetStale(stale bool) bool {
	changed := t.stale != stale
	t.stale = stale
	return changed
}

// CountDecodeError counts an undecodable payload
func (t *TAM) CountDecodeError() { t.decodeErrors++ }

// CountMismatch counts a payload with an unexpected length and reports
// whether a warning is due, at most once per interval milliseconds
func (t *TAM) CountMismatch(now, interval int64) bool {
	t.mismatchErrors++
	if t.lastMismatchAt != 0 && now-t.lastMismatchAt < interval {
		return false
	}
	t.lastMismatchAt = now
	return true
}

// CountFailedCommand counts a command that exhausted its retries
func (t *TAM) CountFailedCommand() { t.failedCommands++ }

// setID applies a discovered id; empty ids fall back to the placeholder
func (t *TAM) setID(id string) {
	id = strings.TrimSpace(strings.TrimRight(id, "\x00"))
	if id == "" {
		t.id = PlaceholderID(t.address64)
		t.resolved = false
		return
	}
	t.id = id
	t.resolved = true
}
