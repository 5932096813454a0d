// Package colorutil provides shared overlay colors for the calibration views.
package colorutil

import (
	"image/color"
)

// Common overlay colors used throughout the application.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Blue   = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Gray   = color.RGBA{R: 96, G: 96, B: 96, A: 255}
)

// AxisColors are the colors of the board x, y and z axes.
var AxisColors = [3]color.RGBA{Red, Green, Blue}

// Target board colors. The green channel carries the board coverage, so the
// dark squares keep a non-zero green value.
var (
	TargetLight = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	TargetDark  = color.RGBA{R: 64, G: 128, B: 64, A: 255}
)

// ToScalarBGR returns the channel values in OpenCV's BGR order.
func ToScalarBGR(c color.RGBA) (b, g, r float64) {
	return float64(c.B), float64(c.G), float64(c.R)
}
