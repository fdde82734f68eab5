// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/registry"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/Thermoquad/tamcoord/pkg/xbee"
	"github.com/rs/zerolog"
)

const tamAddress = 0x0013A20040ABCDEF

// fakeSender records frames instead of writing them to a radio
type fakeSender struct {
	ids  xbee.FrameIDAllocator
	sent []*xbee.Frame
	err  error
}

func (f *fakeSender) Send(frame *xbee.Frame) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSender) NextFrameID() byte {
	return f.ids.Next()
}

func (f *fakeSender) last(t *testing.T) *xbee.Frame {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	clock *scheduler.ManualClock
	sched *scheduler.Scheduler
	reg   *registry.Registry
	link  *fakeSender
	proto *Protocol

	failed []uint32
	low    []float64
}

func newHarness() *harness {
	return newHarnessWithLogger(zerolog.Nop())
}

func newHarnessWithLogger(logger zerolog.Logger) *harness {
	h := &harness{
		clock: scheduler.NewManualClock(time.UnixMilli(1000)),
		link:  &fakeSender{},
	}
	h.sched = scheduler.New(h.clock, 16, zerolog.Nop())
	h.reg = registry.New(h.clock, zerolog.Nop())
	h.proto = New(DefaultConfig(), h.clock, h.reg, h.link, h.sched, logger)
	h.proto.SetHooks(Hooks{
		CommandFailed: func(_ *registry.TAM, _ tamproto.CommandKind, value uint32) {
			h.failed = append(h.failed, value)
		},
		LowVoltage: func(_ *registry.TAM, volts float64) {
			h.low = append(h.low, volts)
		},
	})
	return h
}

// advance moves the clock and runs whatever became due
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.sched.RunPending()
}

func (h *harness) receive(payload []byte) {
	h.proto.HandleExplicitRx(xbee.ExplicitRx{
		Source64: tamAddress,
		Cluster:  xbee.DefaultCluster,
		Profile:  xbee.DefaultProfile,
		Data:     payload,
	})
}

func (h *harness) status(s tamproto.Status) {
	h.receive(tamproto.EncodeStatus(s))
}

func (h *harness) tam(t *testing.T) *registry.TAM {
	t.Helper()
	tam, ok := h.reg.Lookup(tamAddress)
	if !ok {
		t.Fatal("TAM not registered")
	}
	return tam
}

// sentPayload returns the application payload of an explicit tx frame
func sentPayload(t *testing.T, f *xbee.Frame) []byte {
	t.Helper()
	if f.Type() != xbee.FrameExplicitTx {
		t.Fatalf("expected explicit tx, got 0x%02X", f.Type())
	}
	return f.Data()[19:]
}

// ============================================================
// Inbound Tests
// ============================================================

func TestStatus_ReconcilesFields(t *testing.T) {
	h := newHarness()
	h.status(tamproto.Status{LED: tamproto.ColorGreen, RobotPresent: true, RobotData: 0x2A, Millivolts: 3700})

	tam := h.tam(t)
	if tam.LedColor() != tamproto.ColorGreen {
		t.Errorf("led: got %s", tam.LedColor())
	}
	if !tam.RobotPresent() || tam.RobotData() != 0x2A {
		t.Errorf("robot: present=%t data=0x%02X", tam.RobotPresent(), tam.RobotData())
	}
	if tam.Voltage() != 3.7 {
		t.Errorf("voltage: got %v", tam.Voltage())
	}
	if tam.LedColorLastUpdated() != 1000 {
		t.Errorf("led timestamp: got %d", tam.LedColorLastUpdated())
	}

	// Unchanged report keeps the timestamps but refreshes last_seen
	h.clock.Advance(200 * time.Millisecond)
	h.status(tamproto.Status{LED: tamproto.ColorGreen, RobotPresent: true, RobotData: 0x2A, Millivolts: 3700})
	if tam.LedColorLastUpdated() != 1000 || tam.RobotDataLastUpdated() != 1000 {
		t.Error("timestamps moved without a change")
	}
	if tam.LastSeen() != 1200 {
		t.Errorf("last seen: got %d", tam.LastSeen())
	}

	if c := h.proto.Counters(); c.Statuses != 2 || c.ExplicitRx != 2 {
		t.Errorf("counters: %+v", c)
	}
}

func TestHeartbeat_CreatesRecord(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})

	tam := h.tam(t)
	if tam.ID() != "BCDEF" {
		t.Errorf("id: got %s", tam.ID())
	}
	if tam.LedColorLastUpdated() != 0 {
		t.Error("heartbeat must not set fields")
	}
	if h.proto.Counters().Heartbeats != 1 {
		t.Error("heartbeat not counted")
	}
}

func TestLowVoltage_HookOnCrossing(t *testing.T) {
	h := newHarness()

	h.status(tamproto.Status{Millivolts: 3300})
	h.status(tamproto.Status{Millivolts: 3199})
	h.status(tamproto.Status{Millivolts: 3000})

	if len(h.low) != 1 {
		t.Fatalf("expected one low-voltage event, got %d", len(h.low))
	}
	if h.low[0] != 3.199 {
		t.Errorf("voltage: got %v", h.low[0])
	}
}

func TestInbound_Errors(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		decode     uint64
		mismatches uint64
	}{
		{"unknown type", []byte{0x55}, 1, 0},
		{"short status", []byte{tamproto.TypeStatus, 0x00, 0x00}, 0, 1},
		{"ack with body", []byte{tamproto.TypeSetLedsAck, 0x01}, 0, 1},
		{"wrong direction", tamproto.EncodeSetLeds(tamproto.ColorRed), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.receive(tt.payload)

			tam := h.tam(t)
			if tam.DecodeErrors() != tt.decode {
				t.Errorf("decode errors: expected %d, got %d", tt.decode, tam.DecodeErrors())
			}
			if tam.MismatchErrors() != tt.mismatches {
				t.Errorf("mismatches: expected %d, got %d", tt.mismatches, tam.MismatchErrors())
			}
			if tam.LedColorLastUpdated() != 0 {
				t.Error("bad payload must not touch fields")
			}
		})
	}
}

func TestForeignCluster_Ignored(t *testing.T) {
	h := newHarness()
	h.proto.HandleExplicitRx(xbee.ExplicitRx{
		Source64: tamAddress,
		Cluster:  0x0012,
		Profile:  xbee.DefaultProfile,
		Data:     []byte{tamproto.TypeHeartbeat},
	})

	if h.reg.Len() != 0 {
		t.Error("foreign frame must not create a record")
	}
	if h.proto.Counters().ForeignFrames != 1 {
		t.Error("foreign frame not counted")
	}
}

func TestHandleFrame_ExplicitRx(t *testing.T) {
	h := newHarness()

	data := make([]byte, 17)
	data[0], data[1], data[2], data[3] = 0x00, 0x13, 0xA2, 0x00
	data[4], data[5], data[6], data[7] = 0x40, 0xAB, 0xCD, 0xEF
	data[10], data[11] = xbee.DefaultEndpoint, xbee.DefaultEndpoint
	data[12], data[13] = 0x00, 0x11
	data[14], data[15] = 0xC1, 0x05
	data = append(data, tamproto.TypeHeartbeat)

	h.proto.HandleFrame(xbee.NewFrame(xbee.FrameExplicitRx, data))
	h.tam(t)
}

// ============================================================
// Node Discovery Tests
// ============================================================

func TestNodeDiscover_ResolvesID(t *testing.T) {
	h := newHarness()
	resolved := 0
	h.proto.hooks.IDResolved = func(*registry.TAM) { resolved++ }

	h.receive([]byte{tamproto.TypeHeartbeat})
	h.proto.HandleNodeDiscover(xbee.NodeDiscoverReply{Address64: tamAddress, Identifier: "TAM07"})

	tam := h.tam(t)
	if tam.ID() != "TAM07" || !tam.Resolved() {
		t.Errorf("id: got %s resolved=%t", tam.ID(), tam.Resolved())
	}
	if resolved != 1 {
		t.Errorf("expected one resolve event, got %d", resolved)
	}

	// Repeated reports with the same id are quiet
	h.proto.HandleNodeDiscover(xbee.NodeDiscoverReply{Address64: tamAddress, Identifier: "TAM07"})
	if resolved != 1 {
		t.Errorf("repeat resolve fired an event")
	}
}

func TestNodeDiscover_UnknownNodeCreatesRecord(t *testing.T) {
	h := newHarness()
	h.proto.HandleNodeDiscover(xbee.NodeDiscoverReply{Address64: tamAddress, Identifier: "TAM09"})

	if h.tam(t).ID() != "TAM09" {
		t.Errorf("id: got %s", h.tam(t).ID())
	}
}

func TestDiscover_SendsND(t *testing.T) {
	h := newHarness()
	if err := h.proto.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}
	f := h.link.last(t)
	if f.Type() != xbee.FrameATCommand || string(f.Data()[1:3]) != "ND" {
		t.Errorf("unexpected frame %s", xbee.FormatFrame(f))
	}
}

// ============================================================
// Command Tests
// ============================================================

func TestSetLeds_AckConfirmsColor(t *testing.T) {
	h := newHarness()
	h.status(tamproto.Status{LED: tamproto.ColorOff, Millivolts: 3700})
	tam := h.tam(t)

	if err := h.proto.SendSetLeds(tam, tamproto.ColorRed); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload := sentPayload(t, h.link.last(t))
	if payload[0] != tamproto.TypeSetLeds {
		t.Fatalf("type: got 0x%02X", payload[0])
	}
	c, err := tamproto.DecodeSetLeds(payload[1:])
	if err != nil || c != tamproto.ColorRed {
		t.Fatalf("color: got %s err=%v", c, err)
	}
	if tam.Pending(tamproto.CommandSetLeds) == nil {
		t.Fatal("command should be in flight")
	}
	// Only an acknowledgement confirms the color
	if tam.LedColor() != tamproto.ColorOff {
		t.Error("color changed before ack")
	}

	h.clock.Advance(40 * time.Millisecond)
	h.receive([]byte{tamproto.TypeSetLedsAck})

	if tam.Pending(tamproto.CommandSetLeds) != nil {
		t.Error("ack should clear the pending command")
	}
	if tam.LedColor() != tamproto.ColorRed {
		t.Errorf("color: got %s", tam.LedColor())
	}
	if tam.LedColorLastUpdated() != 1040 {
		t.Errorf("timestamp: got %d", tam.LedColorLastUpdated())
	}
	if h.sched.Pending() != 0 {
		t.Errorf("retry timer left queued: %d", h.sched.Pending())
	}

	// Nothing further goes out once acknowledged
	h.advance(2 * time.Second)
	if len(h.link.sent) != 1 {
		t.Errorf("expected 1 frame, got %d", len(h.link.sent))
	}
}

func TestWriteRobot_AckRecordsSent(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	if err := h.proto.SendWriteRobot(tam, 0x42); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload := sentPayload(t, h.link.last(t))
	if len(payload) != 2 || payload[0] != tamproto.TypeWriteRobot || payload[1] != 0x42 {
		t.Fatalf("payload: % X", payload)
	}

	h.receive([]byte{tamproto.TypeWriteRobotAck})
	if v, ok := tam.RobotDataSent(); !ok || v != 0x42 {
		t.Errorf("robot data sent: got 0x%02X ok=%t", v, ok)
	}
}

func TestCommand_RetriesThenFails(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorBlue)

	var ids []byte
	ids = append(ids, h.link.last(t).FrameID())
	for i := 0; i < 2; i++ {
		h.advance(DefaultTimeout)
		ids = append(ids, h.link.last(t).FrameID())
	}
	if len(h.link.sent) != DefaultRetries {
		t.Fatalf("expected %d sends, got %d", DefaultRetries, len(h.link.sent))
	}
	if ids[0] == ids[1] || ids[1] == ids[2] {
		t.Errorf("each attempt needs a fresh frame id: %v", ids)
	}
	if len(h.failed) != 0 {
		t.Fatal("failed before the last attempt timed out")
	}

	h.advance(DefaultTimeout)
	if len(h.failed) != 1 || h.failed[0] != uint32(tamproto.ColorBlue) {
		t.Fatalf("failure hook: %v", h.failed)
	}
	if tam.Pending(tamproto.CommandSetLeds) != nil {
		t.Error("failed command should be cleared")
	}
	if tam.FailedCommands() != 1 {
		t.Errorf("failed count: got %d", tam.FailedCommands())
	}
	if len(h.link.sent) != DefaultRetries {
		t.Errorf("no send after exhaustion, got %d", len(h.link.sent))
	}
}

func TestCommand_SameValueAbsorbed(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)
	first := tam.Pending(tamproto.CommandSetLeds)
	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)

	if len(h.link.sent) != 1 {
		t.Errorf("duplicate send went out: %d frames", len(h.link.sent))
	}
	if tam.Pending(tamproto.CommandSetLeds) != first {
		t.Error("in-flight command replaced")
	}
	if h.proto.Counters().Absorbed != 1 {
		t.Error("absorbed send not counted")
	}
}

func TestCommand_NewValueSupersedes(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)
	h.advance(200 * time.Millisecond)
	_ = h.proto.SendSetLeds(tam, tamproto.ColorGreen)

	pend := tam.Pending(tamproto.CommandSetLeds)
	if pend == nil || pend.Value != uint32(tamproto.ColorGreen) || pend.Attempt != 1 {
		t.Fatalf("pending: %+v", pend)
	}
	if h.sched.Pending() != 1 {
		t.Errorf("superseded timer still queued: %d", h.sched.Pending())
	}

	// The old command's deadline passes without a failure
	h.advance(300 * time.Millisecond)
	if len(h.failed) != 0 {
		t.Error("superseded command reported as failed")
	}

	h.receive([]byte{tamproto.TypeSetLedsAck})
	if tam.LedColor() != tamproto.ColorGreen {
		t.Errorf("color: got %s", tam.LedColor())
	}
}

func TestCommand_KindsIndependent(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)
	_ = h.proto.SendWriteRobot(tam, 0x01)

	h.receive([]byte{tamproto.TypeWriteRobotAck})
	if tam.Pending(tamproto.CommandWriteRobot) != nil {
		t.Error("write robot still pending")
	}
	if tam.Pending(tamproto.CommandSetLeds) == nil {
		t.Error("set leds cleared by the wrong ack")
	}
}

func TestUnsolicitedAck_Ignored(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeSetLedsAck})

	tam := h.tam(t)
	if tam.LedColorLastUpdated() != 0 {
		t.Error("unsolicited ack set the color")
	}
	if h.proto.Counters().UnsolicitedAcks != 1 {
		t.Error("unsolicited ack not counted")
	}
}

func TestSend_LinkErrorKeepsDeadline(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	h.link.err = errors.New("queue full")
	if err := h.proto.SendSetLeds(tam, tamproto.ColorRed); err == nil {
		t.Fatal("expected send error")
	}
	if tam.Pending(tamproto.CommandSetLeds) == nil {
		t.Fatal("command should stay in flight")
	}

	h.link.err = nil
	h.advance(DefaultTimeout)
	if len(h.link.sent) != 1 {
		t.Errorf("retry should go out, got %d frames", len(h.link.sent))
	}
}

// ============================================================
// Transmit Status Tests
// ============================================================

func TestTxStatus_FailureRetriesImmediately(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)
	id := h.link.last(t).FrameID()

	h.proto.HandleTxStatus(xbee.TxStatus{FrameID: id, Delivery: xbee.DeliveryRouteNotFound})
	if len(h.link.sent) != 2 {
		t.Fatalf("expected a retry, got %d frames", len(h.link.sent))
	}
	if pend := tam.Pending(tamproto.CommandSetLeds); pend == nil || pend.Attempt != 2 {
		t.Fatalf("pending: %+v", pend)
	}
	if h.sched.Pending() != 1 {
		t.Errorf("expected one armed deadline, got %d", h.sched.Pending())
	}

	// A late status for the replaced frame id changes nothing
	h.proto.HandleTxStatus(xbee.TxStatus{FrameID: id, Delivery: xbee.DeliveryRouteNotFound})
	if len(h.link.sent) != 2 {
		t.Errorf("stale tx status caused a send")
	}
}

func TestTxStatus_SuccessKeepsPending(t *testing.T) {
	h := newHarness()
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	_ = h.proto.SendSetLeds(tam, tamproto.ColorRed)
	id := h.link.last(t).FrameID()
	h.proto.HandleTxStatus(xbee.TxStatus{FrameID: id, Delivery: xbee.DeliverySuccess})

	if tam.Pending(tamproto.CommandSetLeds) == nil {
		t.Error("radio delivery is not an application ack")
	}
	if tam.LedColorLastUpdated() != 0 {
		t.Error("color set without ack")
	}
}

func TestCommand_DebugLogging(t *testing.T) {
	var buf bytes.Buffer
	h := newHarnessWithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	h.receive([]byte{tamproto.TypeHeartbeat})
	tam := h.tam(t)

	if err := h.proto.SendSetLeds(tam, tamproto.ColorBlue); err != nil {
		t.Fatalf("send: %v", err)
	}
	id := h.link.last(t).FrameID()
	h.proto.HandleTxStatus(xbee.TxStatus{FrameID: id, Delivery: xbee.DeliverySuccess})

	out := buf.String()
	for _, want := range []string{
		`"message":"Command sent"`,
		`"type":"SET_LEDS"`,
		`"message":"Command delivered"`,
		`"tam":"` + tam.ID() + `"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestMismatch_CountedEveryTime(t *testing.T) {
	h := newHarness()
	for i := 0; i < 5; i++ {
		h.receive([]byte{tamproto.TypeStatus, 0x01})
		h.clock.Advance(time.Second)
	}
	if got := h.tam(t).MismatchErrors(); got != 5 {
		t.Errorf("expected 5 mismatches, got %d", got)
	}
	if got := h.proto.Counters().Mismatches; got != 5 {
		t.Errorf("counter: got %d", got)
	}
}
