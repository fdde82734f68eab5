// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
)

// Each (TAM, command kind) pair runs this state machine:
//
//	IDLE      --send-->              IN_FLIGHT(frame id, attempt 1)
//	IN_FLIGHT --ack-->               IDLE
//	IN_FLIGHT --delivery fail/timeout--> IN_FLIGHT(new frame id, attempt+1)
//	                                 or IDLE + CommandFailed after Retries sends
//	IN_FLIGHT --send same value-->   absorbed
//	IN_FLIGHT --send new value-->    IN_FLIGHT(new frame id, attempt 1), old dropped

// SendSetLeds sets the TAM's LED color
func (p *Protocol) SendSetLeds(t *registry.TAM, c tamproto.Color) error {
	return p.send(t, tamproto.CommandSetLeds, uint32(c.RGB24()))
}

// SendWriteRobot sends a byte to the robot in the TAM over IR
func (p *Protocol) SendWriteRobot(t *registry.TAM, data uint8) error {
	return p.send(t, tamproto.CommandWriteRobot, uint32(data))
}

func payloadFor(kind tamproto.CommandKind, value uint32) []byte {
	switch kind {
	case tamproto.CommandSetLeds:
		return tamproto.EncodeSetLeds(tamproto.Color(value))
	case tamproto.CommandWriteRobot:
		return tamproto.EncodeWriteRobot(uint8(value))
	default:
		return nil
	}
}

func (p *Protocol) send(t *registry.TAM, kind tamproto.CommandKind, value uint32) error {
	log := tamLogger(p.logger, t)

	if old := t.Pending(kind); old != nil {
		if old.Value == value {
			p.counters.Absorbed++
			return nil
		}
		p.drop(t, old)
		p.counters.Superseded++
		log.Debug().
			Stringer("command", kind).
			Uint32("old", old.Value).
			Uint32("new", value).
			Msg("Superseding in-flight command")
	}

	pend := &registry.Pending{Kind: kind, Value: value}
	t.SetPending(kind, pend)
	return p.transmit(t, pend)
}

// transmit sends the next attempt of pend and arms its deadline
func (p *Protocol) transmit(t *registry.TAM, pend *registry.Pending) error {
	pend.Attempt++
	pend.FrameID = p.link.NextFrameID()
	pend.SentAt = p.now()
	p.inflight[pend.FrameID] = inflightRef{address: t.Address(), kind: pend.Kind}

	address := t.Address()
	pend.Timer = p.timers.After(p.cfg.Timeout, func() {
		p.expire(address, pend, "timeout")
	})

	p.counters.CommandsSent++
	frame := xbee.NewExplicitTx(pend.FrameID, address, payloadFor(pend.Kind, pend.Value))
	if err := p.link.Send(frame); err != nil {
		// The deadline stays armed; the next attempt goes out when it fires
		return fmt.Errorf("send %s to %s: %w", pend.Kind, t.ID(), err)
	}

	log := tamLogger(p.logger, t)
	log.Debug().
		Stringer("command", pend.Kind).
		Str("type", tamproto.FormatType(pend.Kind.RequestType())).
		Uint32("value", pend.Value).
		Uint8("frame_id", pend.FrameID).
		Int("attempt", pend.Attempt).
		Msg("Command sent")
	return nil
}

// drop clears pend without surfacing a failure
func (p *Protocol) drop(t *registry.TAM, pend *registry.Pending) {
	p.timers.Cancel(pend.Timer)
	delete(p.inflight, pend.FrameID)
	if t.Pending(pend.Kind) == pend {
		t.SetPending(pend.Kind, nil)
	}
}

// expire handles a missed deadline or a failed delivery for pend
func (p *Protocol) expire(address uint64, pend *registry.Pending, reason string) {
	t, ok := p.registry.Lookup(address)
	if !ok || t.Pending(pend.Kind) != pend {
		// Acknowledged or superseded meanwhile
		return
	}

	p.timers.Cancel(pend.Timer)
	delete(p.inflight, pend.FrameID)
	log := tamLogger(p.logger, t)

	if pend.Attempt >= p.cfg.Retries {
		t.SetPending(pend.Kind, nil)
		t.CountFailedCommand()
		p.counters.Failed++
		log.Warn().
			Stringer("command", pend.Kind).
			Uint32("value", pend.Value).
			Int("attempts", pend.Attempt).
			Str("reason", reason).
			Msg("Command failed")
		if p.hooks.CommandFailed != nil {
			p.hooks.CommandFailed(t, pend.Kind, pend.Value)
		}
		return
	}

	p.counters.Retries++
	log.Debug().
		Stringer("command", pend.Kind).
		Int("attempt", pend.Attempt).
		Str("reason", reason).
		Msg("Retrying command")
	if err := p.transmit(t, pend); err != nil {
		log.Error().Err(err).Msg("Retry send failed")
	}
}

// acknowledge completes the in-flight command of kind
func (p *Protocol) acknowledge(t *registry.TAM, kind tamproto.CommandKind) {
	p.counters.Acks++
	log := tamLogger(p.logger, t)

	pend := t.Pending(kind)
	if pend == nil {
		p.counters.UnsolicitedAcks++
		log.Debug().Stringer("command", kind).Msg("Ack with nothing in flight")
		return
	}
	// ACKs carry no body: a late ACK for a superseded value completes the
	// newest one, and the next STATUS corrects the color if it was wrong.
	p.drop(t, pend)

	switch kind {
	case tamproto.CommandSetLeds:
		t.SetLedColor(tamproto.Color(pend.Value), p.now())
	case tamproto.CommandWriteRobot:
		t.SetRobotDataSent(uint8(pend.Value))
	}

	log.Debug().
		Stringer("command", kind).
		Uint32("value", pend.Value).
		Int("attempts", pend.Attempt).
		Int64("latency_ms", p.now()-pend.SentAt).
		Msg("Command acknowledged")
}

// HandleTxStatus correlates a delivery report with the command it belongs to
func (p *Protocol) HandleTxStatus(st xbee.TxStatus) {
	ref, ok := p.inflight[st.FrameID]
	if !ok {
		p.logger.Debug().Uint8("frame_id", st.FrameID).Msg("Tx status for no in-flight command")
		return
	}

	t, ok := p.registry.Lookup(ref.address)
	if !ok {
		delete(p.inflight, st.FrameID)
		return
	}
	pend := t.Pending(ref.kind)
	if pend == nil || pend.FrameID != st.FrameID {
		delete(p.inflight, st.FrameID)
		return
	}

	if st.OK() {
		log := tamLogger(p.logger, t)
		log.Debug().
			Stringer("command", pend.Kind).
			Uint8("frame_id", st.FrameID).
			Uint8("retries", st.Retries).
			Msg("Command delivered")
		return
	}

	p.counters.DeliveryFailures++
	p.expire(ref.address, pend, "delivery "+xbee.FormatDeliveryStatus(st.Delivery))
}
