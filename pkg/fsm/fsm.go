// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fsm interprets transition tables for task controllers.
//
// A transition moves the machine from one state to another when its
// conditions hold: all of them for an AND transition, any of them for an
// OR transition. A transition without conditions fires only if it falls
// through. Actions run in order when the transition fires. Step keeps
// firing transitions until none is ready, so a machine can pass through
// several states in one tick.
package fsm

// DefaultMaxChain bounds the transitions fired by a single Step
const DefaultMaxChain = 32

// Type selects how a transition combines its conditions
type Type int

const (
	And Type = iota
	Or
)

func (t Type) String() string {
	if t == Or {
		return "OR"
	}
	return "AND"
}

// Condition reports whether a transition may fire
type Condition func() bool

// Action runs when a transition fires
type Action func()

// Transition is one edge of the table
type Transition[S comparable] struct {
	From        S
	To          S
	Type        Type
	FallThrough bool

	conditions []Condition
	actions    []Action
}

// When adds conditions
func (t *Transition[S]) When(conds ...Condition) *Transition[S] {
	t.conditions = append(t.conditions, conds...)
	return t
}

// Do adds actions
func (t *Transition[S]) Do(actions ...Action) *Transition[S] {
	t.actions = append(t.actions, actions...)
	return t
}

// Ready reports whether the transition would fire now
func (t *Transition[S]) Ready() bool {
	if len(t.conditions) == 0 {
		return t.FallThrough
	}
	if t.Type == Or {
		for _, c := range t.conditions {
			if c() {
				return true
			}
		}
		return false
	}
	for _, c := range t.conditions {
		if !c() {
			return false
		}
	}
	return true
}

func (t *Transition[S]) fire() {
	for _, a := range t.actions {
		a()
	}
}

type edge[S comparable] struct {
	from, to S
}

// Machine is a transition-table interpreter
type Machine[S comparable] struct {
	state    S
	out      map[S][]*Transition[S]
	edges    map[edge[S]]*Transition[S]
	onChange func(from, to S)

	// MaxChain bounds the transitions fired by one Step
	MaxChain int
}

// New creates a machine in the initial state
func New[S comparable](initial S) *Machine[S] {
	return &Machine[S]{
		state:    initial,
		out:      make(map[S][]*Transition[S]),
		edges:    make(map[edge[S]]*Transition[S]),
		MaxChain: DefaultMaxChain,
	}
}

// Add adds an AND transition that falls through when it has no conditions
func (m *Machine[S]) Add(from, to S) *Transition[S] {
	return m.AddWith(from, to, And, true)
}

// AddWith adds a transition. Outgoing transitions are tried in the order
// they were added. Adding an existing edge returns it unchanged.
func (m *Machine[S]) AddWith(from, to S, typ Type, fallThrough bool) *Transition[S] {
	key := edge[S]{from, to}
	if t, ok := m.edges[key]; ok {
		return t
	}
	t := &Transition[S]{From: from, To: to, Type: typ, FallThrough: fallThrough}
	m.edges[key] = t
	m.out[from] = append(m.out[from], t)
	return t
}

// Get returns the transition between two states, or nil
func (m *Machine[S]) Get(from, to S) *Transition[S] {
	return m.edges[edge[S]{from, to}]
}

// Outgoing returns the transitions leaving a state
func (m *Machine[S]) Outgoing(from S) []*Transition[S] {
	return m.out[from]
}

// State returns the current state
func (m *Machine[S]) State() S {
	return m.state
}

// Set forces the current state without running actions
func (m *Machine[S]) Set(s S) {
	m.change(s)
}

// OnChange registers fn to run after every state change
func (m *Machine[S]) OnChange(fn func(from, to S)) {
	m.onChange = fn
}

func (m *Machine[S]) change(to S) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
}

// Step fires ready transitions until none is left or MaxChain is reached,
// and returns how many fired
func (m *Machine[S]) Step() int {
	fired := 0
	for fired < m.MaxChain {
		t := m.ready()
		if t == nil {
			break
		}
		t.fire()
		m.change(t.To)
		fired++
	}
	return fired
}

// ready returns the first ready outgoing transition of the current state
func (m *Machine[S]) ready() *Transition[S] {
	for _, t := range m.out[m.state] {
		if t.Ready() {
			return t
		}
	}
	return nil
}
