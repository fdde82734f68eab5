// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tamproto

import "fmt"

// Color is a 24-bit RGB LED color laid out as 0x00RRGGBB.
// The top byte is reserved: cleared on send, ignored on compare.
type Color uint32

// Brightness used by the standard palette
const Brightness = 0x19

// Standard palette
const (
	ColorOff   Color = 0x000000
	ColorRed   Color = Brightness << 16
	ColorGreen Color = Brightness << 8
	ColorBlue  Color = Brightness
	ColorWhite Color = ColorRed | ColorGreen | ColorBlue
)

// RGB builds a color from its components
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// R returns the red component
func (c Color) R() uint8 { return uint8(c >> 16) }

// G returns the green component
func (c Color) G() uint8 { return uint8(c >> 8) }

// B returns the blue component
func (c Color) B() uint8 { return uint8(c) }

// RGB24 returns the color with the reserved byte cleared
func (c Color) RGB24() Color {
	return c & 0x00FFFFFF
}

// Equal compares two colors on their 24 color bits
func (c Color) Equal(o Color) bool {
	return c.RGB24() == o.RGB24()
}

func (c Color) String() string {
	return fmt.Sprintf("#%06X", uint32(c.RGB24()))
}
