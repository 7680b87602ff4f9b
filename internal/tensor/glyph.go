package tensor

import (
	"image"
	"image/color"
	"math"

	"evm-stress/pkg/colorutil"
	"evm-stress/pkg/geometry"
)

// GlyphScale is the glyph length as a fraction of the image diagonal.
const GlyphScale = 0.1

// Glyph is a directional arrow drawn at a significant point.
type Glyph struct {
	From, To image.Point
	Color    color.RGBA
	// HSV in OpenCV units (H 0-180, S and V 0-255).
	Hue, Sat, Val int
	Critical      bool
}

// Glyphs converts a point set into arrows for an image of the given size. Each
// arrow points along the eigenvector and is 0.1 of the image diagonal long. Color
// runs from hue 120 at the set's smallest magnitude to hue 0 at its largest; when
// every magnitude is equal the whole set is drawn at hue 0. The critical point is
// always pure red at full saturation and value. Points with a zero vector draw no
// glyph.
func Glyphs(set PointSet, height, width int) []Glyph {
	if len(set.Points) == 0 {
		return nil
	}
	length := GlyphScale * math.Hypot(float64(height), float64(width))
	lo, hi := set.MagnitudeRange()

	glyphs := make([]Glyph, 0, len(set.Points))
	for j, p := range set.Points {
		if math.Hypot(p.Vector[0], p.Vector[1]) == 0 {
			continue
		}
		t := 1.0
		if hi > lo {
			t = (p.Magnitude - lo) / (hi - lo)
		}
		g := Glyph{
			From: image.Point{X: p.X, Y: p.Y},
			To: geometry.Point2D{
				X: float64(p.X) + p.Vector[0]*length,
				Y: float64(p.Y) + p.Vector[1]*length,
			}.Round(),
			Hue: int(120 * (1 - t)),
			Sat: int(200 + 55*t),
			Val: int(200 + 55*t),
		}
		if j == set.Critical {
			g.Hue, g.Sat, g.Val = 0, 255, 255
			g.Critical = true
		}
		g.Color = colorutil.HSVToRGBA(float64(g.Hue), float64(g.Sat), float64(g.Val))
		glyphs = append(glyphs, g)
	}
	return glyphs
}
