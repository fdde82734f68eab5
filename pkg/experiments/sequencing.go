// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package experiments

import (
	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

// IR message layout used by the sequencing robots
const (
	robotIDHeader    = 0x80
	robotIDMask      = 0x7F
	messageTypeMask  = 0xF0
	messageValueMask = 0x0F

	msgResponse      = 0x10
	msgAction        = 0x20
	msgFeedback      = 0x70
	feedbackPositive = 0x0F
	feedbackNegative = 0x00
)

// Sequencing colors, dimmed for the camera
var (
	SequenceRed   = tamproto.RGB(0x11, 0x00, 0x07)
	SequenceGreen = tamproto.RGB(0x07, 0x0C, 0x00)
	SequenceBlue  = tamproto.RGB(0x07, 0x00, 0x09)
	SequenceTest  = tamproto.RGB(0x00, 0x00, 0xFF)
)

// DefaultSequence maps TAM ids to their position in the task sequence
var DefaultSequence = map[string]int{
	"TAM04": 1,
	"TAM05": 2,
	"TAM06": 3,
}

// Sequencing runs the task-sequencing experiment: each TAM is one step of a
// sequence, and robots must perform the action matching the TAM's position
type Sequencing struct {
	*Base
	Sequence map[string]int
}

// NewSequencing creates a task-sequencing experiment over DefaultSequence
func NewSequencing(opts Options) *Sequencing {
	return &Sequencing{
		Base:     newBase("sequencing", opts),
		Sequence: DefaultSequence,
	}
}

// AttachController binds TAMs that are part of the sequence. TAMs whose id
// is not resolved yet are left for the coordinator to offer again.
func (e *Sequencing) AttachController(t *coordinator.TAM) coordinator.Controller {
	pos, ok := e.Sequence[t.ID()]
	if !ok {
		e.logger.Debug().Str("tam", t.ID()).Msg("TAM not in sequence")
		return nil
	}
	e.logger.Info().Str("tam", t.ID()).Int("position", pos).Msg("Creating sequencing controller")
	return NewSequencingController(t, pos, e.logger)
}

// FeedbackState is the robot dialogue step of a sequencing TAM
type FeedbackState int

const (
	ReceiveRobotID FeedbackState = iota
	ReceiveAction
	GiveFeedback
)

func (s FeedbackState) String() string {
	switch s {
	case ReceiveRobotID:
		return "RECEIVE_ROBOT_ID"
	case ReceiveAction:
		return "RECEIVE_ACTION"
	case GiveFeedback:
		return "GIVE_FEEDBACK"
	default:
		return "UNKNOWN"
	}
}

// SequencingController talks to a robot in the TAM: it reads the robot's
// id, answers, reads the action the robot chose and gives positive feedback
// when the action matches the TAM's position
type SequencingController struct {
	station  Station
	logger   zerolog.Logger
	position int

	state    FeedbackState
	robotID  uint8
	feedback uint8
}

// NewSequencingController creates a controller for the TAM at position
func NewSequencingController(s Station, position int, logger zerolog.Logger) *SequencingController {
	return &SequencingController{
		station:  s,
		logger:   logger.With().Str("tam", s.ID()).Int("position", position).Logger(),
		position: position,
		feedback: feedbackNegative,
	}
}

// State returns the dialogue step
func (c *SequencingController) State() FeedbackState { return c.state }

// RobotID returns the id of the robot in the TAM, or 0
func (c *SequencingController) RobotID() uint8 { return c.robotID }

func (c *SequencingController) Step() {
	if c.station.RobotPresent() {
		c.station.SetLedColor(tamproto.ColorOff)
		c.converse(c.station.RobotData())
		return
	}

	c.feedback = feedbackNegative
	c.robotID = 0
	if c.state != ReceiveRobotID {
		c.logger.Info().Msg("Robot left, restarting dialogue")
		c.state = ReceiveRobotID
	}
	c.station.SetLedColor(c.idleColor())
}

func (c *SequencingController) converse(data uint8) {
	switch c.state {
	case ReceiveRobotID:
		if data&robotIDHeader == robotIDHeader {
			c.robotID = data & robotIDMask
			c.logger.Info().Uint8("robot", c.robotID).Msg("Robot identified")
			c.state = ReceiveAction
		}

	case ReceiveAction:
		c.station.SetRobotDataToSend(msgResponse)
		if data&messageTypeMask != msgAction {
			return
		}
		action := int(data & messageValueMask)
		if action == c.position {
			c.feedback = feedbackPositive
		} else {
			c.feedback = feedbackNegative
		}
		c.logger.Info().
			Uint8("robot", c.robotID).
			Int("action", action).
			Bool("correct", action == c.position).
			Msg("Robot chose action")
		c.state = GiveFeedback

	case GiveFeedback:
		c.station.SetRobotDataToSend(msgFeedback | c.feedback)
	}
}

func (c *SequencingController) idleColor() tamproto.Color {
	switch c.position {
	case 1:
		return SequenceRed
	case 2:
		return SequenceGreen
	case 3:
		return SequenceBlue
	default:
		return SequenceTest
	}
}
