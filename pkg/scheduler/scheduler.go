// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scheduler runs periodic ticks, one-shot timers and posted work on
// a single goroutine.
//
// Everything executed by a Scheduler (ticker callbacks, timer tasks and
// functions posted to its inbox) runs sequentially on the goroutine that
// called Run, so the work never needs its own locking.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when posting to a stopped scheduler
var ErrStopped = errors.New("scheduler stopped")

// idleWait bounds the sleep when nothing is scheduled
const idleWait = time.Hour

// Ticker fires a callback at fixed absolute deadlines
type Ticker struct {
	name      string
	period    time.Duration
	next      time.Time
	fn        func(now time.Time)
	runs      uint64
	coalesced uint64
}

// Name returns the ticker's name
func (t *Ticker) Name() string { return t.name }

// Runs returns how many times the ticker fired
func (t *Ticker) Runs() uint64 { return t.runs }

// Coalesced returns how many missed deadlines were folded into later runs
func (t *Ticker) Coalesced() uint64 { return t.coalesced }

// Next returns the next deadline
func (t *Ticker) Next() time.Time { return t.next }

// advance moves the deadline past a firing at now. Deadlines stay on the
// fixed grid (prev + period); deadlines already missed are skipped.
func (t *Ticker) advance(now time.Time) {
	t.next = t.next.Add(t.period)
	if now.Before(t.next) {
		return
	}
	missed := uint64(now.Sub(t.next)/t.period) + 1
	t.next = t.next.Add(time.Duration(missed) * t.period)
	t.coalesced += missed
}

// Scheduler drives tickers, timers and posted work from one goroutine
type Scheduler struct {
	clock   Clock
	logger  zerolog.Logger
	timers  Timers
	tickers []*Ticker
	inbox   chan func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a scheduler; inboxSize bounds the number of queued posts
func New(clock Clock, inboxSize int, logger zerolog.Logger) *Scheduler {
	if inboxSize <= 0 {
		inboxSize = 1
	}
	return &Scheduler{
		clock:  clock,
		logger: logger.With().Str("component", "scheduler").Logger(),
		inbox:  make(chan func(), inboxSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Clock returns the scheduler's time source
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Every registers fn to run every period, first at now+period.
// Must be called before Run or from the scheduler goroutine.
func (s *Scheduler) Every(name string, period time.Duration, fn func(now time.Time)) *Ticker {
	t := &Ticker{
		name:   name,
		period: period,
		next:   s.clock.Now().Add(period),
		fn:     fn,
	}
	s.tickers = append(s.tickers, t)
	return t
}

// After schedules task to run once, d from now.
// Must be called from the scheduler goroutine.
func (s *Scheduler) After(d time.Duration, task func()) *Handle {
	return s.timers.Schedule(s.clock.Now().Add(d), task)
}

// Cancel cancels a scheduled task. Idempotent.
// Must be called from the scheduler goroutine.
func (s *Scheduler) Cancel(h *Handle) bool {
	return s.timers.Cancel(h)
}

// Pending returns the number of queued timer tasks
func (s *Scheduler) Pending() int {
	return s.timers.Len()
}

// Post queues fn for the scheduler goroutine. Safe from any goroutine;
// blocks while the inbox is full.
func (s *Scheduler) Post(fn func()) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.stop:
		return ErrStopped
	}
}

// RunPending drains the inbox, then runs every due timer and ticker at
// the current clock reading
func (s *Scheduler) RunPending() {
	s.drainInbox()

	now := s.clock.Now()
	for {
		task, ok := s.timers.PopDue(now)
		if !ok {
			break
		}
		s.runTask("timer", task)
	}

	for _, t := range s.tickers {
		if now.Before(t.next) {
			continue
		}
		t.advance(now)
		t.runs++
		fn := t.fn
		s.runTask(t.name, func() { fn(now) })
		if s.Stopped() {
			return
		}
	}
}

func (s *Scheduler) drainInbox() {
	for n := len(s.inbox); n > 0; n-- {
		select {
		case fn := <-s.inbox:
			s.runTask("inbox", fn)
		default:
			return
		}
	}
}

// runTask runs fn, logging instead of propagating a panic
func (s *Scheduler) runTask(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", name).
				Interface("panic", r).
				Msg("Scheduled task panicked")
		}
	}()
	fn()
}

// untilNext returns how long to sleep before the next deadline
func (s *Scheduler) untilNext() time.Duration {
	now := s.clock.Now()
	wait := idleWait
	if at, ok := s.timers.Next(); ok {
		wait = min(wait, at.Sub(now))
	}
	for _, t := range s.tickers {
		wait = min(wait, t.next.Sub(now))
	}
	return max(wait, 0)
}

// Run executes scheduled work until Stop is called or ctx is cancelled.
// Pending timers are dropped on return.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.timers.CancelAll()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		s.RunPending()
		if s.Stopped() {
			return nil
		}

		timer.Reset(s.untilNext())

		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-s.stop:
			return nil
		case fn := <-s.inbox:
			s.runTask("inbox", fn)
		case <-timer.C:
		}
	}
}

// Stop asks Run to return after the work in progress. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Stopped reports whether Stop has been called
func (s *Scheduler) Stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
