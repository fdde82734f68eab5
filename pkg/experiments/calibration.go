// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package experiments

import (
	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/Thermoquad/tamcoord/pkg/tamproto"
)

// Calibration keeps every TAM lit in one color so robot cameras can be
// calibrated against it
type Calibration struct {
	*Base
	Color tamproto.Color
}

// NewCalibration creates a calibration experiment showing solid red
func NewCalibration(opts Options) *Calibration {
	return &Calibration{
		Base:  newBase("calibration", opts),
		Color: tamproto.ColorRed,
	}
}

// AttachController gives every TAM a solid-color controller
func (e *Calibration) AttachController(t *coordinator.TAM) coordinator.Controller {
	e.logger.Info().Str("tam", t.ID()).Msg("Creating calibration controller")
	return &SolidController{Station: t, Color: e.Color}
}

// SolidController holds a TAM at one color
type SolidController struct {
	Station Station
	Color   tamproto.Color
}

// Step re-asserts the color; the TAM handle sends only when it differs
func (c *SolidController) Step() {
	c.Station.SetLedColor(c.Color)
}
