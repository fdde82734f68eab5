// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package registry keeps the coordinator's records of the TAMs on the mesh.
//
// A Registry is mutated only from the scheduler goroutine. Observers on
// other goroutines use View, which returns the copy last published with
// Publish.
package registry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownTAM is returned for an address with no record
	ErrUnknownTAM = errors.New("unknown TAM")

	// ErrControllerAssigned is returned when binding a second controller
	ErrControllerAssigned = errors.New("controller already assigned")
)

// Registry maps 64-bit addresses to TAM records
type Registry struct {
	clock  scheduler.Clock
	logger zerolog.Logger

	tams  map[uint64]*TAM
	order []*TAM // creation order

	onNew []func(*TAM)

	view atomic.Pointer[[]View]
}

// New creates an empty registry
func New(clock scheduler.Clock, logger zerolog.Logger) *Registry {
	r := &Registry{
		clock:  clock,
		logger: logger.With().Str("component", "registry").Logger(),
		tams:   make(map[uint64]*TAM),
	}
	empty := []View{}
	r.view.Store(&empty)
	return r
}

// OnNew registers fn to run when a record is created
func (r *Registry) OnNew(fn func(*TAM)) {
	r.onNew = append(r.onNew, fn)
}

// Observe returns the record for address64, creating it on first evidence
func (r *Registry) Observe(address64 uint64, source Source) *TAM {
	if t, ok := r.tams[address64]; ok {
		return t
	}

	now := scheduler.Millis(r.clock)
	t := &TAM{
		address64: address64,
		id:        PlaceholderID(address64),
		firstSeen: now,
		lastSeen:  now,
	}
	r.tams[address64] = t
	r.order = append(r.order, t)

	r.logger.Info().
		Str("tam", t.id).
		Str("address", fmt.Sprintf("%016X", address64)).
		Stringer("source", source).
		Msg("New TAM")

	for _, fn := range r.onNew {
		fn(t)
	}
	return t
}

// Lookup returns the record for address64 if one exists
func (r *Registry) Lookup(address64 uint64) (*TAM, bool) {
	t, ok := r.tams[address64]
	return t, ok
}

// ResolveID applies a node discovery id. An empty id restores the
// placeholder. Reports whether the id changed.
func (r *Registry) ResolveID(address64 uint64, id string) (bool, error) {
	t, ok := r.tams[address64]
	if !ok {
		return false, fmt.Errorf("%w: %016X", ErrUnknownTAM, address64)
	}
	old := t.id
	t.setID(id)
	if old == t.id {
		return false, nil
	}
	r.logger.Info().
		Str("tam", t.id).
		Str("previous", old).
		Str("address", fmt.Sprintf("%016X", address64)).
		Msg("TAM id resolved")
	return true, nil
}

// Touch sets last_seen to now
func (r *Registry) Touch(address64 uint64) error {
	t, ok := r.tams[address64]
	if !ok {
		return fmt.Errorf("%w: %016X", ErrUnknownTAM, address64)
	}
	t.touch(scheduler.Millis(r.clock))
	return nil
}

// SetController binds c to t. A TAM is bound at most once.
func (r *Registry) SetController(t *TAM, c Controller) error {
	if t.controller != nil {
		return fmt.Errorf("%w: %s", ErrControllerAssigned, t.id)
	}
	t.controller = c
	return nil
}

// Snapshot returns the live records in creation order. Records are never
// removed, so the slice stays valid while fields keep changing.
func (r *Registry) Snapshot() []*TAM {
	out := make([]*TAM, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of records
func (r *Registry) Len() int {
	return len(r.order)
}

// View is a read-only copy of a TAM record
type View struct {
	Address                 uint64
	ID                      string
	Resolved                bool
	FirstSeen               int64
	LastSeen                int64
	LedColor                tamproto.Color
	LedColorLastUpdated     int64
	RobotPresent            bool
	RobotPresentLastUpdated int64
	RobotData               uint8
	RobotDataLastUpdated    int64
	Voltage                 float64
	PendingSetLeds          bool
	PendingWriteRobot       bool
	Controller              string
	Stale                   bool
	DecodeErrors            uint64
	MismatchErrors          uint64
	FailedCommands          uint64
}

// ViewOf copies a record
func ViewOf(t *TAM) View {
	v := View{
		Address:                 t.address64,
		ID:                      t.id,
		Resolved:                t.resolved,
		FirstSeen:               t.firstSeen,
		LastSeen:                t.lastSeen,
		LedColor:                t.ledColor,
		LedColorLastUpdated:     t.ledColorLastUpdated,
		RobotPresent:            t.robotPresent,
		RobotPresentLastUpdated: t.robotPresentLastUpdated,
		RobotData:               t.robotData,
		RobotDataLastUpdated:    t.robotDataLastUpdated,
		Voltage:                 t.voltage,
		PendingSetLeds:          t.pending[tamproto.CommandSetLeds] != nil,
		PendingWriteRobot:       t.pending[tamproto.CommandWriteRobot] != nil,
		Stale:                   t.stale,
		DecodeErrors:            t.decodeErrors,
		MismatchErrors:          t.mismatchErrors,
		FailedCommands:          t.failedCommands,
	}
	if t.controller != nil {
		v.Controller = fmt.Sprintf("%T", t.controller)
	}
	return v
}

// Publish copies every record into the view returned by View
func (r *Registry) Publish() {
	views := make([]View, len(r.order))
	for i, t := range r.order {
		views[i] = ViewOf(t)
	}
	r.view.Store(&views)
}

// View returns the last published copy. Safe from any goroutine.
func (r *Registry) View() []View {
	return *r.view.Load()
}
