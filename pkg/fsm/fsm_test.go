// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fsm

import (
	"testing"
)

type state int

const (
	idle state = iota
	waiting
	working
	done
	failed
)

func always() bool { return true }
func never() bool  { return false }

// ============================================================
// Transition Tests
// ============================================================

func TestTransition_Ready(t *testing.T) {
	tests := []struct {
		name        string
		typ         Type
		fallThrough bool
		conds       []Condition
		want        bool
	}{
		{"no conditions, fall through", And, true, nil, true},
		{"no conditions, no fall through", Or, false, nil, false},
		{"and, all true", And, true, []Condition{always, always}, true},
		{"and, one false", And, true, []Condition{always, never}, false},
		{"or, one true", Or, false, []Condition{never, always}, true},
		{"or, all false", Or, false, []Condition{never, never}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(idle)
			tr := m.AddWith(idle, waiting, tt.typ, tt.fallThrough).When(tt.conds...)
			if got := tr.Ready(); got != tt.want {
				t.Errorf("expected %t, got %t", tt.want, got)
			}
		})
	}
}

// ============================================================
// Machine Tests
// ============================================================

func TestStep_ChainsThroughReadyStates(t *testing.T) {
	m := New(idle)
	robot := false

	m.Add(idle, waiting)
	m.Add(waiting, working).When(func() bool { return robot })
	m.Add(working, done)

	if n := m.Step(); n != 1 || m.State() != waiting {
		t.Fatalf("expected one hop to waiting, got %d hops to %v", n, m.State())
	}
	if n := m.Step(); n != 0 {
		t.Fatalf("blocked transition fired: %d", n)
	}

	robot = true
	if n := m.Step(); n != 2 || m.State() != done {
		t.Errorf("expected two hops to done, got %d hops to %v", n, m.State())
	}
}

func TestStep_FirstReadyTransitionWins(t *testing.T) {
	m := New(waiting)
	m.AddWith(waiting, failed, Or, false).When(always)
	m.Add(waiting, working).When(always)

	m.Step()
	if m.State() != failed {
		t.Errorf("expected the first added transition, got %v", m.State())
	}
}

func TestStep_ActionsRunInOrder(t *testing.T) {
	m := New(idle)
	var log []string
	m.Add(idle, waiting).
		Do(func() { log = append(log, "a") }).
		Do(func() { log = append(log, "b") })

	m.Step()
	if len(log) != 2 || log[0] != "a" || log[1] != "b" {
		t.Errorf("actions: %v", log)
	}
}

func TestStep_BoundedOnCycles(t *testing.T) {
	m := New(idle)
	m.Add(idle, waiting)
	m.Add(waiting, idle)
	m.MaxChain = 5

	if n := m.Step(); n != 5 {
		t.Errorf("expected the chain bound, got %d", n)
	}
}

func TestOnChange(t *testing.T) {
	m := New(idle)
	m.Add(idle, waiting)

	var from, to state
	calls := 0
	m.OnChange(func(f, t state) { from, to = f, t; calls++ })

	m.Step()
	if calls != 1 || from != idle || to != waiting {
		t.Errorf("calls=%d from=%v to=%v", calls, from, to)
	}

	m.Set(waiting)
	if calls != 1 {
		t.Error("setting the same state should not notify")
	}
}

func TestAddWith_ExistingEdge(t *testing.T) {
	m := New(idle)
	a := m.Add(idle, waiting)
	b := m.AddWith(idle, waiting, Or, false)
	if a != b || len(m.Outgoing(idle)) != 1 {
		t.Error("edges must be unique")
	}
	if m.Get(idle, waiting) != a || m.Get(waiting, idle) != nil {
		t.Error("lookup by edge")
	}
}
