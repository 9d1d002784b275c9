package rimage

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Color is an opaque RGB color that also remembers its HSV coordinates.
type Color struct {
	R, G, B uint8
	H, S, V float64
}

func (c Color) String() string {
	return fmt.Sprintf("%s (%3d,%4.2f,%4.2f)", c.Hex(), int(c.H), c.S, c.V)
}

// Hex returns the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%.2x%.2x%.2x", c.R, c.G, c.B)
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	return c.ToRGBA().RGBA()
}

// ToRGBA returns the color as an opaque color.RGBA.
func (c Color) ToRGBA() color.RGBA {
	return color.RGBA{c.R, c.G, c.B, 255}
}

// NewColor returns a color from its 8 bit RGB components.
func NewColor(r, g, b uint8) Color {
	cc := colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}
	h, s, v := cc.Hsv()

	return Color{R: r, G: g, B: b, H: h, S: s, V: v}
}

// NewColorFromHex parses a #rrggbb string.
func NewColorFromHex(hex string) (Color, error) {
	cc, err := colorful.Hex(hex)
	if err != nil {
		return Color{}, errors.Wrapf(err, "couldn't parse hex (%s)", hex)
	}
	r, g, b := cc.RGB255()
	return NewColor(r, g, b), nil
}

// NewColorFromHSV returns a color from hue in degrees, and saturation and value in [0,1].
func NewColorFromHSV(h, s, v float64) Color {
	cc := colorful.Hsv(h, s, v)
	r, g, b := cc.Clamped().RGB255()
	return Color{R: r, G: g, B: b, H: h, S: s, V: v}
}

// NewColorFromColor converts any color.Color, dropping alpha.
func NewColorFromColor(c color.Color) Color {
	if cc, ok := c.(Color); ok {
		return cc
	}
	cc, ok := colorful.MakeColor(c)
	if !ok {
		// fully transparent
		return Black
	}
	r, g, b := cc.RGB255()
	return NewColor(r, g, b)
}

// Some well known colors.
var (
	Red   = NewColor(255, 0, 0)
	Green = NewColor(0, 255, 0)
	Blue  = NewColor(0, 0, 255)
	White = NewColor(255, 255, 255)
	Black = NewColor(0, 0, 0)
)
