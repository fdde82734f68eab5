// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package coordinator ties the link, registry, protocol and scheduler into
// one explicit Coordinator value and drives an experiment's controllers.
//
// All TAM state lives on the scheduler goroutine. The link's receive
// goroutine only posts decoded frames to the scheduler inbox, so controller
// steps, timer tasks and inbound reconciliation never overlap.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/link"
	"github.com/Thermoquad/tamcoord/pkg/protocol"
	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults
const (
	DefaultStepInterval      = 100 * time.Millisecond
	DefaultDiscoveryInterval = 30 * time.Second
	DefaultLivenessInterval  = 5 * time.Second
	DefaultStaleAfter        = 30 * time.Second
	DefaultPublishInterval   = time.Second
	DefaultInboxSize         = 256
)

// ErrControllerAssigned is returned when a TAM already has a controller
var ErrControllerAssigned = registry.ErrControllerAssigned

// Controller is a per-TAM state machine advanced every step tick
type Controller = registry.Controller

// Experiment attaches controllers to TAMs and decides when the run ends
type Experiment interface {
	// AttachController is called once for each new TAM, and again after its
	// id resolves if it returned nil the first time
	AttachController(t *TAM) Controller

	// Finished is checked after every step tick
	Finished() bool
}

// Initializer is implemented by experiments that need the coordinator
// before the first tick (timers, seed)
type Initializer interface {
	Init(c *Coordinator)
}

// CommandFailureHandler is implemented by controllers that want to hear
// about commands that exhausted their retries
type CommandFailureHandler interface {
	CommandFailed(kind tamproto.CommandKind, value uint32)
}

// Link is the radio connection the coordinator drives
type Link interface {
	protocol.Sender
	Subscribe(kind xbee.Kind, h link.Handler)
	Start()
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Options configure a Coordinator
type Options struct {
	StepInterval      time.Duration
	DiscoveryInterval time.Duration
	LivenessInterval  time.Duration
	StaleAfter        time.Duration
	PublishInterval   time.Duration
	InboxSize         int
	Seed              int64 // 0 derives one from the clock
	Protocol          protocol.Config
	Clock             scheduler.Clock // nil means the system clock
}

// DefaultOptions returns the standard timings
func DefaultOptions() Options {
	return Options{
		StepInterval:      DefaultStepInterval,
		DiscoveryInterval: DefaultDiscoveryInterval,
		LivenessInterval:  DefaultLivenessInterval,
		StaleAfter:        DefaultStaleAfter,
		PublishInterval:   DefaultPublishInterval,
		InboxSize:         DefaultInboxSize,
		Protocol:          protocol.DefaultConfig(),
	}
}

// Coordinator owns one run of an experiment
type Coordinator struct {
	opts   Options
	runID  string
	seed   int64
	clock  scheduler.Clock
	logger zerolog.Logger

	link  Link
	exp   Experiment
	sched *scheduler.Scheduler
	reg   *registry.Registry
	proto *protocol.Protocol

	handles     map[uint64]*TAM
	subscribers []func(Event)

	steps          uint64
	controllerBugs uint64
}

// New wires a coordinator around a link and an experiment
func New(l Link, exp Experiment, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = scheduler.SystemClock{}
	}
	def := DefaultOptions()
	if opts.StepInterval <= 0 {
		opts.StepInterval = def.StepInterval
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = def.DiscoveryInterval
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = def.LivenessInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = def.PublishInterval
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = def.InboxSize
	}
	if opts.Protocol.Timeout <= 0 {
		opts.Protocol = def.Protocol
	}

	runID := uuid.NewString()
	logger = logger.With().Str("run", runID).Logger()

	seed := opts.Seed
	if seed == 0 {
		seed = opts.Clock.Now().UnixNano()
	}

	c := &Coordinator{
		opts:    opts,
		runID:   runID,
		seed:    seed,
		clock:   opts.Clock,
		logger:  logger.With().Str("component", "coordinator").Logger(),
		link:    l,
		exp:     exp,
		handles: make(map[uint64]*TAM),
	}
	c.sched = scheduler.New(opts.Clock, opts.InboxSize, logger)
	c.reg = registry.New(opts.Clock, logger)
	c.proto = protocol.New(opts.Protocol, opts.Clock, c.reg, l, c.sched, logger)

	c.reg.OnNew(c.onNewTAM)
	c.proto.SetHooks(protocol.Hooks{
		CommandFailed: c.onCommandFailed,
		LowVoltage:    c.onLowVoltage,
		IDResolved:    c.onIDResolved,
	})

	for _, kind := range []xbee.Kind{
		xbee.KindExplicitRx,
		xbee.KindTxStatus,
		xbee.KindATResponse,
		xbee.KindNodeDiscover,
		xbee.KindModemStatus,
	} {
		l.Subscribe(kind, c.enqueue)
	}
	return c
}

// RunID identifies this run in logs and the status feed
func (c *Coordinator) RunID() string { return c.runID }

// Seed is the experiment's random seed
func (c *Coordinator) Seed() int64 { return c.seed }

// Clock returns the coordinator's time source
func (c *Coordinator) Clock() scheduler.Clock { return c.clock }

// Logger returns the coordinator's logger for experiments to derive from
func (c *Coordinator) Logger() zerolog.Logger { return c.logger }

// View returns the last published copy of every TAM record. Safe from any
// goroutine.
func (c *Coordinator) View() []registry.View { return c.reg.View() }

// Counters returns the protocol counters. Scheduler goroutine only.
func (c *Coordinator) Counters() protocol.Counters { return c.proto.Counters() }

// TAMs returns the handles of every known TAM in discovery order.
// Scheduler goroutine only.
func (c *Coordinator) TAMs() []*TAM {
	recs := c.reg.Snapshot()
	out := make([]*TAM, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.handles[rec.Address()])
	}
	return out
}

// After runs task on the scheduler goroutine d from now.
// Scheduler goroutine only.
func (c *Coordinator) After(d time.Duration, task func()) *scheduler.Handle {
	return c.sched.After(d, task)
}

// Cancel cancels a task scheduled with After. Idempotent.
func (c *Coordinator) Cancel(h *scheduler.Handle) bool {
	return c.sched.Cancel(h)
}

// Post runs fn on the scheduler goroutine. Safe from any goroutine.
func (c *Coordinator) Post(fn func()) error {
	return c.sched.Post(fn)
}

// Shutdown ends the run after the work in progress. Idempotent and safe
// from any goroutine.
func (c *Coordinator) Shutdown() {
	c.sched.Stop()
}

func (c *Coordinator) now() int64 {
	return scheduler.Millis(c.clock)
}

// enqueue hands a frame from the receive goroutine to the scheduler
func (c *Coordinator) enqueue(f *xbee.Frame) {
	if err := c.sched.Post(func() { c.proto.HandleFrame(f) }); err != nil {
		c.logger.Debug().Err(err).Msg("Dropping frame after shutdown")
	}
}

// start prepares the run: experiment init, tickers, first discovery
func (c *Coordinator) start() {
	if ini, ok := c.exp.(Initializer); ok {
		ini.Init(c)
	}

	c.sched.Every("step_tams", c.opts.StepInterval, c.stepTAMs)
	c.sched.Every("discovery", c.opts.DiscoveryInterval, func(time.Time) { c.discover() })
	c.sched.Every("liveness", c.opts.LivenessInterval, c.auditLiveness)
	c.sched.Every("publish", c.opts.PublishInterval, func(time.Time) { c.reg.Publish() })

	c.link.Start()
	c.discover()
}

// Run drives the experiment until it finishes, ctx is cancelled, Shutdown
// is called or the link fails. A link failure is returned; every other
// ending is a clean shutdown and returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int64("seed", c.seed).
		Dur("step", c.opts.StepInterval).
		Msg("Coordinator starting")

	c.start()

	go func() {
		select {
		case <-c.link.Done():
			if err := c.link.Err(); err != nil {
				c.logger.Error().Err(err).Msg("Link failed, shutting down")
			}
			c.Shutdown()
		case <-c.sched.Done():
		}
	}()

	err := c.sched.Run(ctx)
	c.reg.Publish()

	if cerr := c.link.Close(); cerr != nil {
		c.logger.Debug().Err(cerr).Msg("Closing link")
	}
	<-c.link.Done()

	counters := c.proto.Counters()
	c.logger.Info().
		Int("tams", c.reg.Len()).
		Uint64("steps", c.steps).
		Uint64("commands", counters.CommandsSent).
		Uint64("failed", counters.Failed).
		Uint64("controller_bugs", c.controllerBugs).
		Msg("Coordinator stopped")

	if lerr := c.link.Err(); lerr != nil {
		return lerr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (c *Coordinator) discover() {
	if err := c.proto.Discover(); err != nil {
		c.logger.Warn().Err(err).Msg("Node discovery failed")
	}
}

// stepTAMs advances every bound controller once, in discovery order
func (c *Coordinator) stepTAMs(time.Time) {
	for _, rec := range c.reg.Snapshot() {
		ctrl := rec.Controller()
		if ctrl == nil {
			continue
		}
		c.step(rec, ctrl)
	}
	c.steps++

	if c.exp.Finished() {
		c.logger.Info().Uint64("steps", c.steps).Msg("Experiment finished")
		c.Shutdown()
	}
}

// step runs one controller step, containing any panic to this TAM
func (c *Coordinator) step(rec *registry.TAM, ctrl Controller) {
	defer func() {
		if r := recover(); r != nil {
			c.controllerBugs++
			c.logger.Error().
				Str("tam", rec.ID()).
				Str("controller", fmt.Sprintf("%T", ctrl)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Controller step panicked")
		}
	}()
	ctrl.Step()
}

// auditLiveness marks TAMs silent for StaleAfter as stale
func (c *Coordinator) auditLiveness(now time.Time) {
	nowMs := now.UnixMilli()
	limit := c.opts.StaleAfter.Milliseconds()

	for _, rec := range c.reg.Snapshot() {
		silent := nowMs - rec.LastSeen()
		stale := silent >= limit
		changed := rec.SetStale(stale)

		switch {
		case stale:
			c.logger.Warn().
				Str("tam", rec.ID()).
				Str("address", fmt.Sprintf("%016X", rec.Address())).
				Int64("silent_ms", silent).
				Msg("TAM stale")
			if changed {
				c.emit(Event{Kind: EventStale, TAM: c.handles[rec.Address()]})
			}
		case changed:
			c.logger.Info().Str("tam", rec.ID()).Msg("TAM reporting again")
			c.emit(Event{Kind: EventAlive, TAM: c.handles[rec.Address()]})
		}
	}
}

func (c *Coordinator) onNewTAM(rec *registry.TAM) {
	h := &TAM{rec: rec, c: c}
	c.handles[rec.Address()] = h
	c.attach(h)
	c.emit(Event{Kind: EventNewTAM, TAM: h})
}

func (c *Coordinator) onIDResolved(rec *registry.TAM) {
	h := c.handles[rec.Address()]
	if rec.Controller() == nil {
		c.attach(h)
	}
	c.emit(Event{Kind: EventIDResolved, TAM: h})
}

// attach asks the experiment for a controller and binds it
func (c *Coordinator) attach(h *TAM) {
	ctrl := c.exp.AttachController(h)
	if ctrl == nil {
		return
	}
	if err := c.reg.SetController(h.rec, ctrl); err != nil {
		c.logger.Error().Err(err).Msg("Attaching controller")
		return
	}
	c.logger.Info().
		Str("tam", h.ID()).
		Str("controller", fmt.Sprintf("%T", ctrl)).
		Msg("Controller attached")
}

func (c *Coordinator) onCommandFailed(rec *registry.TAM, kind tamproto.CommandKind, value uint32) {
	if handler, ok := rec.Controller().(CommandFailureHandler); ok {
		handler.CommandFailed(kind, value)
	}
	c.emit(Event{
		Kind:    EventCommandFailed,
		TAM:     c.handles[rec.Address()],
		Command: kind,
		Value:   value,
	})
}

func (c *Coordinator) onLowVoltage(rec *registry.TAM, volts float64) {
	c.emit(Event{Kind: EventLowVoltage, TAM: c.handles[rec.Address()], Voltage: volts})
}
