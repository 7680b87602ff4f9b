// Package geometry provides the small set of planar types used by frame registration.
package geometry

import (
	"image"
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Round returns the nearest integer pixel position.
func (p Point2D) Round() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{A: 1, D: 1}
}

// Similarity returns a rotation + uniform scale + translation transform.
func Similarity(scale, radians, tx, ty float64) AffineTransform {
	cos := scale * math.Cos(radians)
	sin := scale * math.Sin(radians)
	return AffineTransform{A: cos, B: -sin, TX: tx, C: sin, D: cos, TY: ty}
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Scale returns the uniform scale factor of a similarity transform.
func (t AffineTransform) Scale() float64 {
	return math.Sqrt(t.A*t.A + t.C*t.C)
}

// Angle returns the rotation of a similarity transform in degrees.
func (t AffineTransform) Angle() float64 {
	return math.Atan2(t.C, t.A) * 180 / math.Pi
}

// IsFinite reports whether every coefficient is a finite number.
func (t AffineTransform) IsFinite() bool {
	for _, v := range t.ToMatrix() {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// ToMatrix returns the transform as a [2][3]float64 array.
func (t AffineTransform) ToMatrix() [2][3]float64 {
	return [2][3]float64{
		{t.A, t.B, t.TX},
		{t.C, t.D, t.TY},
	}
}
