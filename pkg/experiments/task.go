// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package experiments

import (
	"time"

	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/fsm"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

// Task timings
const (
	DefaultWorkTime = 10 * time.Second
	DefaultDeadTime = 5 * time.Second
)

// Task runs the task-allocation experiment: a free TAM is a task that a
// robot completes by staying inside for the work time
type Task struct {
	*Base
	WorkTime time.Duration
	DeadTime time.Duration
}

// NewTask creates a task-allocation experiment with the default timings
func NewTask(opts Options) *Task {
	return &Task{
		Base:     newBase("task", opts),
		WorkTime: DefaultWorkTime,
		DeadTime: DefaultDeadTime,
	}
}

// AttachController gives every TAM a task controller
func (e *Task) AttachController(t *coordinator.TAM) coordinator.Controller {
	e.logger.Info().Str("tam", t.ID()).Msg("Creating task controller")
	return NewTaskController(t, e.timers, e.WorkTime, e.DeadTime, e.logger)
}

// TaskState is the state of one task TAM
type TaskState int

const (
	TaskAvailable TaskState = iota
	TaskWorking
	TaskWaitLeave
	TaskDeadTime
)

func (s TaskState) String() string {
	switch s {
	case TaskAvailable:
		return "AVAILABLE"
	case TaskWorking:
		return "WORKING"
	case TaskWaitLeave:
		return "WAIT_LEAVE"
	case TaskDeadTime:
		return "DEAD_TIME"
	default:
		return "UNKNOWN"
	}
}

// TaskController drives one TAM through the task cycle:
//
//	AVAILABLE (blue)   -> WORKING    when a robot enters
//	WORKING (green)    -> WAIT_LEAVE when the work time elapses
//	WORKING            -> DEAD_TIME  when the robot leaves early
//	WAIT_LEAVE (red)   -> DEAD_TIME  when the robot leaves
//	DEAD_TIME (off)    -> AVAILABLE  when the dead time elapses
type TaskController struct {
	station Station
	timers  Timers
	logger  zerolog.Logger
	machine *fsm.Machine[TaskState]

	workTime time.Duration
	deadTime time.Duration

	timer   *scheduler.Handle
	expired bool
	color   tamproto.Color

	completed int
	aborted   int
}

// NewTaskController builds the task state machine for a TAM
func NewTaskController(s Station, timers Timers, work, dead time.Duration, logger zerolog.Logger) *TaskController {
	c := &TaskController{
		station:  s,
		timers:   timers,
		logger:   logger.With().Str("tam", s.ID()).Logger(),
		machine:  fsm.New(TaskAvailable),
		workTime: work,
		deadTime: dead,
		color:    tamproto.ColorBlue,
	}

	present := func() bool { return c.station.RobotPresent() }
	absent := func() bool { return !c.station.RobotPresent() }
	elapsed := func() bool { return c.expired }

	c.machine.Add(TaskAvailable, TaskWorking).
		When(present).
		Do(func() { c.arm(c.workTime) })

	// Leaving early aborts the task; checked before the timer so an abort
	// on the tick the timer fires is still an abort
	c.machine.AddWith(TaskWorking, TaskDeadTime, fsm.Or, false).
		When(absent).
		Do(func() {
			c.disarm()
			c.aborted++
			c.logger.Info().Msg("Robot left before the task was done")
			c.arm(c.deadTime)
		})

	c.machine.Add(TaskWorking, TaskWaitLeave).
		When(elapsed).
		Do(func() {
			c.completed++
			c.logger.Info().Int("completed", c.completed).Msg("Task completed")
		})

	c.machine.Add(TaskWaitLeave, TaskDeadTime).
		When(absent).
		Do(func() { c.arm(c.deadTime) })

	c.machine.Add(TaskDeadTime, TaskAvailable).
		When(elapsed)

	c.machine.OnChange(func(from, to TaskState) {
		c.color = taskColor(to)
		c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Task state changed")
	})

	return c
}

// State returns the current task state
func (c *TaskController) State() TaskState { return c.machine.State() }

// Completed returns how many tasks robots finished on this TAM
func (c *TaskController) Completed() int { return c.completed }

// Aborted returns how many tasks were left unfinished
func (c *TaskController) Aborted() int { return c.aborted }

func (c *TaskController) Step() {
	c.machine.Step()
	c.station.SetLedColor(c.color)
}

func (c *TaskController) arm(d time.Duration) {
	c.expired = false
	c.timer = c.timers.After(d, func() { c.expired = true })
}

func (c *TaskController) disarm() {
	if c.timer != nil {
		c.timers.Cancel(c.timer)
		c.timer = nil
	}
	c.expired = false
}

func taskColor(s TaskState) tamproto.Color {
	switch s {
	case TaskAvailable:
		return tamproto.ColorBlue
	case TaskWorking:
		return tamproto.ColorGreen
	case TaskWaitLeave:
		return tamproto.ColorRed
	default:
		return tamproto.ColorOff
	}
}
