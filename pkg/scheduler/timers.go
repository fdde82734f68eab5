// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"container/heap"
	"time"
)

// Handle is an opaque reference to a scheduled task.
// A handle becomes inert once its task fires or is cancelled.
type Handle struct {
	fireAt time.Time
	seq    uint64
	task   func()
	index  int // position in the heap, -1 when not queued
}

// Active reports whether the task is still waiting to fire
func (h *Handle) Active() bool {
	return h != nil && h.index >= 0
}

// FireAt returns the time the task is due
func (h *Handle) FireAt() time.Time {
	return h.fireAt
}

// timerHeap orders handles by fire time, then by scheduling order
type timerHeap []*Handle

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*Handle)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timers is a priority queue of one-shot tasks.
// Not safe for concurrent use; owned by the scheduler goroutine.
type Timers struct {
	h   timerHeap
	seq uint64
}

// Schedule queues task to fire at the given time
func (t *Timers) Schedule(at time.Time, task func()) *Handle {
	t.seq++
	h := &Handle{fireAt: at, seq: t.seq, task: task}
	heap.Push(&t.h, h)
	return h
}

// Cancel removes a queued task. Idempotent; returns false if the handle
// had already fired or been cancelled.
func (t *Timers) Cancel(h *Handle) bool {
	if !h.Active() || h.index >= len(t.h) || t.h[h.index] != h {
		return false
	}
	heap.Remove(&t.h, h.index)
	h.task = nil
	return true
}

// Next returns the fire time of the earliest queued task
func (t *Timers) Next() (time.Time, bool) {
	if len(t.h) == 0 {
		return time.Time{}, false
	}
	return t.h[0].fireAt, true
}

// Len returns the number of queued tasks
func (t *Timers) Len() int {
	return len(t.h)
}

// PopDue removes and returns the earliest task due at or before now
func (t *Timers) PopDue(now time.Time) (func(), bool) {
	if len(t.h) == 0 || t.h[0].fireAt.After(now) {
		return nil, false
	}
	h := heap.Pop(&t.h).(*Handle)
	task := h.task
	h.task = nil
	return task, true
}

// CancelAll drops every queued task
func (t *Timers) CancelAll() {
	for _, h := range t.h {
		h.index = -1
		h.task = nil
	}
	t.h = nil
}
