// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
)

// sourceFor names the evidence an inbound payload provides
func sourceFor(payload []byte) registry.Source {
	if len(payload) == 0 {
		return registry.SourceStatus
	}
	switch payload[0] {
	case tamproto.TypeHeartbeat:
		return registry.SourceHeartbeat
	case tamproto.TypeSetLedsAck, tamproto.TypeWriteRobotAck:
		return registry.SourceAck
	default:
		return registry.SourceStatus
	}
}

// HandleExplicitRx reconciles one application payload from a TAM
func (p *Protocol) HandleExplicitRx(rx xbee.ExplicitRx) {
	p.counters.ExplicitRx++

	if rx.Cluster != xbee.DefaultCluster || rx.Profile != xbee.DefaultProfile {
		p.counters.ForeignFrames++
		p.logger.Debug().
			Str("address", fmt.Sprintf("%016X", rx.Source64)).
			Str("cluster", fmt.Sprintf("0x%04X", rx.Cluster)).
			Str("profile", fmt.Sprintf("0x%04X", rx.Profile)).
			Msg("Ignoring frame outside the TAM cluster")
		return
	}

	t := p.registry.Observe(rx.Source64, sourceFor(rx.Data))
	_ = p.registry.Touch(rx.Source64)
	log := tamLogger(p.logger, t)

	msg, err := tamproto.Parse(rx.Data)
	if err != nil {
		if errors.Is(err, tamproto.ErrProtocolMismatch) {
			p.counters.Mismatches++
			interval := p.cfg.MismatchWarnInterval.Milliseconds()
			if t.CountMismatch(p.now(), interval) {
				log.Warn().
					Err(err).
					Uint64("count", t.MismatchErrors()).
					Msg("Dropping payload with unexpected length")
			}
			return
		}
		p.counters.DecodeErrors++
		t.CountDecodeError()
		log.Warn().Err(err).Msg("Dropping undecodable payload")
		return
	}

	switch msg.Type {
	case tamproto.TypeStatus:
		p.counters.Statuses++
		status, err := tamproto.DecodeStatus(msg.Body)
		if err != nil {
			// Parse already checked the length
			return
		}
		p.applyStatus(t, status)

	case tamproto.TypeHeartbeat:
		p.counters.Heartbeats++

	case tamproto.TypeSetLedsAck, tamproto.TypeWriteRobotAck:
		kind, _ := tamproto.AckKind(msg.Type)
		p.acknowledge(t, kind)

	default:
		// Coordinator → TAM types arriving inbound
		p.counters.DecodeErrors++
		t.CountDecodeError()
		log.Warn().
			Str("type", tamproto.FormatType(msg.Type)).
			Msg("Dropping payload sent in the wrong direction")
	}
}

// applyStatus reconciles a STATUS report field by field
func (p *Protocol) applyStatus(t *registry.TAM, s tamproto.Status) {
	now := p.now()
	log := tamLogger(p.logger, t)

	if t.SetLedColor(s.LED, now) {
		log.Debug().Stringer("led", s.LED).Msg("LED color changed")
	}
	if t.SetRobotPresent(s.RobotPresent, now) {
		log.Debug().Bool("robot_present", s.RobotPresent).Msg("Robot presence changed")
	}
	if t.SetRobotData(s.RobotData, now) {
		log.Debug().Str("robot_data", fmt.Sprintf("0x%02X", s.RobotData)).Msg("Robot data changed")
	}

	volts := s.Voltage()
	if t.SetVoltage(volts, p.cfg.LowVoltage) {
		log.Warn().
			Float64("voltage", volts).
			Float64("threshold", p.cfg.LowVoltage).
			Msg("TAM voltage low")
		if p.hooks.LowVoltage != nil {
			p.hooks.LowVoltage(t, volts)
		}
	}
}
