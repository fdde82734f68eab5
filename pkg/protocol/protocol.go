// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol translates between TAM semantics (set LED color, write to
// the robot, observe status) and XBee explicit frames.
//
// A Protocol is driven from the scheduler goroutine: inbound frames are
// handed to it through the scheduler inbox and retry timers fire on the same
// goroutine, so command state never needs locking.
package protocol

import (
	"fmt"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/rs/zerolog"
)

// Defaults
const (
	DefaultTimeout              = 500 * time.Millisecond
	DefaultRetries              = 3
	DefaultMismatchWarnInterval = 10 * time.Second
)

// Sender hands frames to the radio
type Sender interface {
	Send(f *xbee.Frame) error
	NextFrameID() byte
}

// Timers schedules one-shot tasks on the scheduler goroutine
type Timers interface {
	After(d time.Duration, task func()) *scheduler.Handle
	Cancel(h *scheduler.Handle) bool
}

// Config holds protocol parameters
type Config struct {
	Timeout              time.Duration // per-attempt deadline
	Retries              int           // sends per command before it fails
	LowVoltage           float64
	MismatchWarnInterval time.Duration
}

// DefaultConfig returns the standard parameters
func DefaultConfig() Config {
	return Config{
		Timeout:              DefaultTimeout,
		Retries:              DefaultRetries,
		LowVoltage:           tamproto.DefaultLowVoltage,
		MismatchWarnInterval: DefaultMismatchWarnInterval,
	}
}

// Hooks are called on the scheduler goroutine when protocol events occur.
// Nil hooks are skipped.
type Hooks struct {
	CommandFailed func(t *registry.TAM, kind tamproto.CommandKind, value uint32)
	LowVoltage    func(t *registry.TAM, volts float64)
	IDResolved    func(t *registry.TAM)
}

// Counters summarise protocol activity
type Counters struct {
	ExplicitRx       uint64
	Statuses         uint64
	Heartbeats       uint64
	Acks             uint64
	UnsolicitedAcks  uint64
	CommandsSent     uint64
	Retries          uint64
	Superseded       uint64
	Absorbed         uint64
	Failed           uint64
	DeliveryFailures uint64
	DecodeErrors     uint64
	Mismatches       uint64
	ForeignFrames    uint64
	Discoveries      uint64
	NodesReported    uint64
}

type inflightRef struct {
	address uint64
	kind    tamproto.CommandKind
}

// Protocol runs the per-TAM command state machines
type Protocol struct {
	cfg      Config
	clock    scheduler.Clock
	registry *registry.Registry
	link     Sender
	timers   Timers
	logger   zerolog.Logger
	hooks    Hooks

	inflight map[byte]inflightRef
	counters Counters
}

// New creates a protocol bound to a registry, a sender and a timer service
func New(cfg Config, clock scheduler.Clock, reg *registry.Registry, link Sender, timers Timers, logger zerolog.Logger) *Protocol {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Protocol{
		cfg:      cfg,
		clock:    clock,
		registry: reg,
		link:     link,
		timers:   timers,
		logger:   logger.With().Str("component", "protocol").Logger(),
		inflight: make(map[byte]inflightRef),
	}
}

// SetHooks installs event hooks
func (p *Protocol) SetHooks(h Hooks) {
	p.hooks = h
}

// Counters returns a copy of the activity counters
func (p *Protocol) Counters() Counters {
	return p.counters
}

func (p *Protocol) now() int64 {
	return scheduler.Millis(p.clock)
}

func tamLogger(l zerolog.Logger, t *registry.TAM) zerolog.Logger {
	return l.With().
		Str("tam", t.ID()).
		Str("address", fmt.Sprintf("%016X", t.Address())).
		Logger()
}

// HandleFrame dispatches an inbound frame by kind
func (p *Protocol) HandleFrame(f *xbee.Frame) {
	switch f.Kind() {
	case xbee.KindExplicitRx:
		rx, err := xbee.ParseExplicitRx(f)
		if err != nil {
			p.counters.DecodeErrors++
			p.logger.Warn().Err(err).Msg("Dropping explicit rx frame")
			return
		}
		p.HandleExplicitRx(rx)

	case xbee.KindTxStatus:
		st, err := xbee.ParseTxStatus(f)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Dropping tx status frame")
			return
		}
		p.HandleTxStatus(st)

	case xbee.KindNodeDiscover:
		if len(f.Data()) <= 4 {
			// An empty reply closes the discovery window
			p.logger.Debug().Uint8("frame_id", f.FrameID()).Msg("Node discovery complete")
			return
		}
		nd, err := xbee.ParseNodeDiscover(f)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Dropping node discover reply")
			return
		}
		p.HandleNodeDiscover(nd)

	case xbee.KindModemStatus:
		ms, err := xbee.ParseModemStatus(f)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Dropping modem status frame")
			return
		}
		p.HandleModemStatus(ms)

	case xbee.KindATResponse:
		resp, err := xbee.ParseATResponse(f)
		if err != nil {
			return
		}
		p.logger.Debug().
			Str("command", resp.Command).
			Str("status", xbee.FormatATStatus(resp.Status)).
			Msg("AT response")

	default:
		p.logger.Warn().
			Str("frame_type", fmt.Sprintf("0x%02X", f.Type())).
			Msg("Dropping unknown frame kind")
	}
}

// HandleNodeDiscover records a node reported by AT ND
func (p *Protocol) HandleNodeDiscover(nd xbee.NodeDiscoverReply) {
	p.counters.NodesReported++

	t := p.registry.Observe(nd.Address64, registry.SourceDiscovery)
	_ = p.registry.Touch(nd.Address64)

	changed, err := p.registry.ResolveID(nd.Address64, nd.Identifier)
	if err != nil {
		p.logger.Error().Err(err).Msg("Resolving node id")
		return
	}
	if changed && p.hooks.IDResolved != nil {
		p.hooks.IDResolved(t)
	}
}

// HandleModemStatus logs radio state changes
func (p *Protocol) HandleModemStatus(ms xbee.ModemStatus) {
	ev := p.logger.Info()
	switch ms.Status {
	case xbee.ModemHardwareReset, xbee.ModemWatchdogReset, xbee.ModemVoltageExceeded:
		ev = p.logger.Warn()
	}
	ev.Str("status", xbee.FormatModemStatus(ms.Status)).
		Str("code", fmt.Sprintf("0x%02X", ms.Status)).
		Msg("Modem status")
}

// Discover asks the local radio to enumerate mesh nodes
func (p *Protocol) Discover() error {
	p.counters.Discoveries++
	id := p.link.NextFrameID()
	if err := p.link.Send(xbee.NewNodeDiscover(id)); err != nil {
		return fmt.Errorf("send node discover: %w", err)
	}
	p.logger.Debug().Uint8("frame_id", id).Msg("Node discovery issued")
	return nil
}
