// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package experiments holds the experiments the coordinator can run and
// the controllers they attach to TAMs.
package experiments

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

// ErrUnknownExperiment is returned by New for an unregistered name
var ErrUnknownExperiment = errors.New("unknown experiment")

// Station is the part of a TAM handle a controller drives.
// *coordinator.TAM implements it.
type Station interface {
	ID() string
	RobotPresent() bool
	RobotData() uint8
	LedColor() tamproto.Color
	SetLedColor(c tamproto.Color)
	SetRobotDataToSend(data uint8)
}

// Timers schedules deferred work on the scheduler goroutine.
// *coordinator.Coordinator implements it.
type Timers interface {
	After(d time.Duration, task func()) *scheduler.Handle
	Cancel(h *scheduler.Handle) bool
}

// Options are shared by every experiment
type Options struct {
	// Duration ends the experiment after this long; 0 runs until stopped
	Duration time.Duration
	Logger   zerolog.Logger
}

// Factory builds an experiment
type Factory func(opts Options) coordinator.Experiment

var factories = map[string]Factory{
	"calibration": func(o Options) coordinator.Experiment { return NewCalibration(o) },
	"robotcomm":   func(o Options) coordinator.Experiment { return NewRobotComm(o) },
	"sequencing":  func(o Options) coordinator.Experiment { return NewSequencing(o) },
	"task":        func(o Options) coordinator.Experiment { return NewTask(o) },
}

// Names returns the registered experiment names, sorted
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is registered
func Known(name string) bool {
	_, ok := factories[name]
	return ok
}

// New builds the experiment registered under name
func New(name string, opts Options) (coordinator.Experiment, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownExperiment, name, Names())
	}
	return f(opts), nil
}

// Base carries what every experiment shares: the finished flag, the
// optional duration timer and a seeded random source for controllers
type Base struct {
	opts     Options
	logger   zerolog.Logger
	timers   Timers
	rng      *rand.Rand
	finished atomic.Bool
}

func newBase(name string, opts Options) *Base {
	return &Base{
		opts:   opts,
		logger: opts.Logger.With().Str("experiment", name).Logger(),
		rng:    rand.New(rand.NewPCG(0, 0)),
	}
}

// Init is called by the coordinator before the first tick
func (b *Base) Init(c *coordinator.Coordinator) {
	b.begin(c, c.Seed())
}

func (b *Base) begin(timers Timers, seed int64) {
	b.timers = timers
	b.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))

	if b.opts.Duration > 0 {
		timers.After(b.opts.Duration, func() {
			b.logger.Info().Dur("duration", b.opts.Duration).Msg("Experiment duration is over")
			b.SetFinished()
		})
	}
}

// Finished reports whether the experiment asked to stop
func (b *Base) Finished() bool {
	return b.finished.Load()
}

// SetFinished asks the coordinator to stop after the current tick
func (b *Base) SetFinished() {
	b.finished.Store(true)
}

// controllerSeed draws a seed for a new controller
func (b *Base) controllerSeed() int64 {
	return b.rng.Int64()
}
