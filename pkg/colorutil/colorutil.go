// Package colorutil provides color conversions for glyph rendering.
package colorutil

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// HSVToRGBA converts HSV in OpenCV convention (H 0-180, S 0-255, V 0-255) to RGBA.
func HSVToRGBA(h, s, v float64) color.RGBA {
	h = math.Mod(h, 180)
	if h < 0 {
		h += 180
	}
	c := colorful.Hsv(h*2, clamp01(s/255), clamp01(v/255))
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
