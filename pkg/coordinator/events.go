// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coordinator

import "github.com/Thermoquad/tamcoord/pkg/tamproto"

// EventKind identifies a coordinator event
type EventKind int

const (
	EventNewTAM EventKind = iota
	EventIDResolved
	EventCommandFailed
	EventLowVoltage
	EventStale
	EventAlive
)

func (k EventKind) String() string {
	switch k {
	case EventNewTAM:
		return "new_tam"
	case EventIDResolved:
		return "id_resolved"
	case EventCommandFailed:
		return "command_failed"
	case EventLowVoltage:
		return "low_voltage"
	case EventStale:
		return "stale"
	case EventAlive:
		return "alive"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on the scheduler goroutine
type Event struct {
	Kind EventKind
	TAM  *TAM
	At   int64 // coordinator clock, milliseconds

	// EventCommandFailed
	Command tamproto.CommandKind
	Value   uint32

	// EventLowVoltage
	Voltage float64
}

// Subscribe registers fn for every event. Call before Run.
func (c *Coordinator) Subscribe(fn func(Event)) {
	c.subscribers = append(c.subscribers, fn)
}

func (c *Coordinator) emit(ev Event) {
	ev.At = c.now()
	for _, fn := range c.subscribers {
		fn(ev)
	}
}
