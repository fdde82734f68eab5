// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package experiments

import (
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

// fakeStation records what a controller asks of a TAM
type fakeStation struct {
	id      string
	present bool
	data    uint8
	color   tamproto.Color
	colors  []tamproto.Color
	sent    []uint8
}

func (s *fakeStation) ID() string { return s.id }
func (s *fakeStation) RobotPresent() bool { return s.present }
func (s *fakeStation) RobotData() uint8 { return s.data }
func (s *fakeStation) LedColor() tamproto.Color { return s.color }
func (s *fakeStation) SetRobotDataToSend(d uint8) { s.sent = append(s.sent, d) }

func (s *fakeStation) SetLedColor(c tamproto.Color) {
	s.color = c
	s.colors = append(s.colors, c)
}

func (s *fakeStation) lastSent() (uint8, bool) {
	if len(s.sent) == 0 {
		return 0, false
	}
	return s.sent[len(s.sent)-1], true
}

func newTimers() (*scheduler.Scheduler, *scheduler.ManualClock) {
	clock := scheduler.NewManualClock(time.UnixMilli(1_000_000))
	return scheduler.New(clock, 16, zerolog.Nop()), clock
}

func advance(s *scheduler.Scheduler, clock *scheduler.ManualClock, d time.Duration) {
	clock.Advance(d)
	s.RunPending()
}

// ============================================================
// Registry Tests
// ============================================================

func TestNew_KnownNames(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			if !Known(name) {
				t.Fatalf("%s not known", name)
			}
			exp, err := New(name, Options{Logger: zerolog.Nop()})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exp.Finished() {
				t.Error("new experiment is already finished")
			}
		})
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("nope", Options{})
	if !errors.Is(err, ErrUnknownExperiment) {
		t.Errorf("expected ErrUnknownExperiment, got %v", err)
	}
}

func TestNames_Sorted(t *testing.T) {
	names := Names()
	want := []string{"calibration", "robotcomm", "sequencing", "task"}
	if len(names) != len(want) {
		t.Fatalf("names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestExperiments_ImplementInitializer(t *testing.T) {
	var _ coordinator.Initializer = NewCalibration(Options{})
	var _ coordinator.Initializer = NewTask(Options{})
	var _ Station = (*coordinator.TAM)(nil)
	var _ Timers = (*coordinator.Coordinator)(nil)
}

// ============================================================
// Base Tests
// ============================================================

func TestBase_DurationFinishes(t *testing.T) {
	sched, clock := newTimers()
	b := newBase("test", Options{Duration: time.Minute, Logger: zerolog.Nop()})
	b.begin(sched, 42)

	advance(sched, clock, 59*time.Second)
	if b.Finished() {
		t.Fatal("finished early")
	}
	advance(sched, clock, time.Second)
	if !b.Finished() {
		t.Error("expected finished after the duration")
	}
}

func TestBase_NoDuration(t *testing.T) {
	sched, _ := newTimers()
	b := newBase("test", Options{Logger: zerolog.Nop()})
	b.begin(sched, 1)
	if sched.Pending() != 0 {
		t.Error("no timer expected without a duration")
	}
}

func TestBase_SeedIsReproducible(t *testing.T) {
	sched, _ := newTimers()
	a := newBase("a", Options{})
	b := newBase("b", Options{})
	a.begin(sched, 7)
	b.begin(sched, 7)
	for i := 0; i < 4; i++ {
		if a.controllerSeed() != b.controllerSeed() {
			t.Fatal("same seed must give the same controller seeds")
		}
	}
}

// ============================================================
// Calibration Tests
// ============================================================

func TestSolidController(t *testing.T) {
	s := &fakeStation{id: "TAM01"}
	c := &SolidController{Station: s, Color: tamproto.ColorRed}
	c.Step()
	if s.color != tamproto.ColorRed {
		t.Errorf("color %s", s.color)
	}
}

// ============================================================
// Robot Communication Tests
// ============================================================

func TestRobotComm_FullExchange(t *testing.T) {
	s := &fakeStation{id: "TAM01"}
	c := NewRobotCommController(s, 3, zerolog.Nop())

	if v := c.Value(); v < 10 || v >= 110 {
		t.Fatalf("test value out of range: %d", v)
	}

	// Nothing happens without a robot
	c.Step()
	if c.State() != RobotCommReadID {
		t.Fatalf("state %v", c.State())
	}

	s.present = true
	s.data = 9
	c.Step()
	if c.State() != RobotCommReadID {
		t.Fatal("wrong robot id advanced the test")
	}

	s.data = RobotIDTest
	c.Step()
	if c.State() != RobotCommWrite {
		t.Fatalf("state %v", c.State())
	}

	c.Step()
	if got, ok := s.lastSent(); !ok || got != c.Value() {
		t.Fatalf("expected %d sent, got %d (%t)", c.Value(), got, ok)
	}
	if c.State() != RobotCommReadBack {
		t.Fatalf("state %v", c.State())
	}

	c.Step()
	if s.color == tamproto.ColorGreen {
		t.Fatal("passed before the echo")
	}

	s.data = c.Value()
	c.Step()
	if c.State() != RobotCommDone || s.color != tamproto.ColorGreen {
		t.Errorf("expected done and green, got %v and %s", c.State(), s.color)
	}
}

// ============================================================
// Sequencing Tests
// ============================================================

func TestSequencing_DefaultSequence(t *testing.T) {
	e := NewSequencing(Options{Logger: zerolog.Nop()})
	if len(e.Sequence) != 3 || e.Sequence["TAM05"] != 2 {
		t.Errorf("sequence: %v", e.Sequence)
	}
}

func TestSequencing_IdleColors(t *testing.T) {
	tests := []struct {
		position int
		want     tamproto.Color
	}{
		{1, SequenceRed},
		{2, SequenceGreen},
		{3, SequenceBlue},
		{9, SequenceTest},
	}

	for _, tt := range tests {
		s := &fakeStation{id: "TAM"}
		c := NewSequencingController(s, tt.position, zerolog.Nop())
		c.Step()
		if s.color != tt.want {
			t.Errorf("position %d: expected %s, got %s", tt.position, tt.want, s.color)
		}
	}
}

func TestSequencing_Dialogue(t *testing.T) {
	tests := []struct {
		name     string
		action   uint8
		feedback uint8
	}{
		{"correct action", 2, msgFeedback | feedbackPositive},
		{"wrong action", 3, msgFeedback | feedbackNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStation{id: "TAM05"}
			c := NewSequencingController(s, 2, zerolog.Nop())

			s.present = true
			s.data = robotIDHeader | 0x2A
			c.Step()
			if s.color != tamproto.ColorOff {
				t.Errorf("LED should be off with a robot inside, got %s", s.color)
			}
			if c.State() != ReceiveAction || c.RobotID() != 0x2A {
				t.Fatalf("state %v robot %d", c.State(), c.RobotID())
			}

			c.Step()
			if got, _ := s.lastSent(); got != msgResponse {
				t.Fatalf("expected response 0x%02X, got 0x%02X", msgResponse, got)
			}

			s.data = msgAction | tt.action
			c.Step()
			if c.State() != GiveFeedback {
				t.Fatalf("state %v", c.State())
			}

			c.Step()
			if got, _ := s.lastSent(); got != tt.feedback {
				t.Errorf("expected feedback 0x%02X, got 0x%02X", tt.feedback, got)
			}
		})
	}
}

func TestSequencing_RobotLeavesResets(t *testing.T) {
	s := &fakeStation{id: "TAM04"}
	c := NewSequencingController(s, 1, zerolog.Nop())

	s.present = true
	s.data = robotIDHeader | 1
	c.Step()

	s.present = false
	c.Step()
	if c.State() != ReceiveRobotID || c.RobotID() != 0 {
		t.Errorf("expected reset, got %v robot %d", c.State(), c.RobotID())
	}
	if s.color != SequenceRed {
		t.Errorf("expected idle color, got %s", s.color)
	}
}

// ============================================================
// Task Tests
// ============================================================

func newTask(t *testing.T) (*TaskController, *fakeStation, *scheduler.Scheduler, *scheduler.ManualClock) {
	t.Helper()
	sched, clock := newTimers()
	s := &fakeStation{id: "TAM01"}
	c := NewTaskController(s, sched, 10*time.Second, 5*time.Second, zerolog.Nop())
	return c, s, sched, clock
}

func TestTask_Cycle(t *testing.T) {
	c, s, sched, clock := newTask(t)

	c.Step()
	if c.State() != TaskAvailable || s.color != tamproto.ColorBlue {
		t.Fatalf("expected available/blue, got %v/%s", c.State(), s.color)
	}

	s.present = true
	c.Step()
	if c.State() != TaskWorking || s.color != tamproto.ColorGreen {
		t.Fatalf("expected working/green, got %v/%s", c.State(), s.color)
	}

	advance(sched, clock, 9*time.Second)
	c.Step()
	if c.State() != TaskWorking {
		t.Fatalf("work ended early: %v", c.State())
	}

	advance(sched, clock, time.Second)
	c.Step()
	if c.State() != TaskWaitLeave || s.color != tamproto.ColorRed {
		t.Fatalf("expected wait-leave/red, got %v/%s", c.State(), s.color)
	}
	if c.Completed() != 1 {
		t.Errorf("completed %d", c.Completed())
	}

	s.present = false
	c.Step()
	if c.State() != TaskDeadTime || s.color != tamproto.ColorOff {
		t.Fatalf("expected dead-time/off, got %v/%s", c.State(), s.color)
	}

	advance(sched, clock, 5*time.Second)
	c.Step()
	if c.State() != TaskAvailable || s.color != tamproto.ColorBlue {
		t.Errorf("expected available/blue, got %v/%s", c.State(), s.color)
	}
}

func TestTask_EarlyLeaveAborts(t *testing.T) {
	c, s, sched, clock := newTask(t)

	s.present = true
	c.Step()
	advance(sched, clock, 3*time.Second)

	s.present = false
	c.Step()
	if c.State() != TaskDeadTime {
		t.Fatalf("expected dead-time, got %v", c.State())
	}
	if c.Aborted() != 1 || c.Completed() != 0 {
		t.Errorf("aborted %d completed %d", c.Aborted(), c.Completed())
	}
	if sched.Pending() != 1 {
		t.Errorf("work timer should be cancelled, pending %d", sched.Pending())
	}

	// The cancelled work timer must not end the dead time early
	advance(sched, clock, 4*time.Second)
	c.Step()
	if c.State() != TaskDeadTime {
		t.Fatalf("dead time ended early: %v", c.State())
	}
	advance(sched, clock, time.Second)
	c.Step()
	if c.State() != TaskAvailable {
		t.Errorf("expected available, got %v", c.State())
	}
}

func TestTaskState_String(t *testing.T) {
	tests := []struct {
		s    TaskState
		want string
	}{
		{TaskAvailable, "AVAILABLE"},
		{TaskWorking, "WORKING"},
		{TaskWaitLeave, "WAIT_LEAVE"},
		{TaskDeadTime, "DEAD_TIME"},
		{TaskState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
