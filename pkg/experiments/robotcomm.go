// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package experiments

import (
	"math/rand/v2"

	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
	"github.com/rs/zerolog"
)

// RobotIDTest is the id a test robot announces over IR
const RobotIDTest = 5

// RobotComm tests the IR channel to and from robots
type RobotComm struct {
	*Base
}

// NewRobotComm creates a robot communication test experiment
func NewRobotComm(opts Options) *RobotComm {
	return &RobotComm{Base: newBase("robotcomm", opts)}
}

// AttachController gives every TAM a communication test controller
func (e *RobotComm) AttachController(t *coordinator.TAM) coordinator.Controller {
	return NewRobotCommController(t, e.controllerSeed(), e.logger)
}

// RobotCommState is a step of the communication test
type RobotCommState int

const (
	RobotCommReadID RobotCommState = iota
	RobotCommWrite
	RobotCommReadBack
	RobotCommDone
)

func (s RobotCommState) String() string {
	switch s {
	case RobotCommReadID:
		return "READ_ID"
	case RobotCommWrite:
		return "WRITE_RAND"
	case RobotCommReadBack:
		return "READ_RAND"
	case RobotCommDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// RobotCommController waits for the test robot's id, writes a random value
// to it and waits for the robot to echo the value back
type RobotCommController struct {
	station Station
	logger  zerolog.Logger
	state   RobotCommState
	value   uint8
}

// NewRobotCommController creates a controller; seed picks the test value
func NewRobotCommController(s Station, seed int64, logger zerolog.Logger) *RobotCommController {
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	return &RobotCommController{
		station: s,
		logger:  logger.With().Str("tam", s.ID()).Logger(),
		// Stay clear of the id value so an echo cannot be confused with it
		value: uint8(10 + rng.IntN(100)),
	}
}

// State returns the current test step
func (c *RobotCommController) State() RobotCommState { return c.state }

// Value returns the byte written to the robot
func (c *RobotCommController) Value() uint8 { return c.value }

func (c *RobotCommController) Step() {
	if !c.station.RobotPresent() {
		return
	}

	switch c.state {
	case RobotCommReadID:
		if c.station.RobotData() == RobotIDTest {
			c.logger.Info().Uint8("robot", RobotIDTest).Msg("Test robot arrived")
			c.state = RobotCommWrite
		}

	case RobotCommWrite:
		c.logger.Info().Uint8("value", c.value).Msg("Sending test value to robot")
		c.station.SetRobotDataToSend(c.value)
		c.state = RobotCommReadBack

	case RobotCommReadBack:
		if c.station.RobotData() == c.value {
			c.logger.Info().Msg("Robot communication test passed")
			c.station.SetLedColor(tamproto.ColorGreen)
			c.state = RobotCommDone
		}

	case RobotCommDone:
	}
}
