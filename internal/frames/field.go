package frames

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Field is an H×W real-valued map stored row-major.
type Field struct {
	Width  int
	Height int
	Data   []float64
}

// NewField allocates a zeroed field.
func NewField(height, width int) *Field {
	return &Field{Width: width, Height: height, Data: make([]float64, width*height)}
}

// At returns the value at row y, column x.
func (f *Field) At(y, x int) float64 {
	return f.Data[y*f.Width+x]
}

// Set stores v at row y, column x.
func (f *Field) Set(y, x int, v float64) {
	f.Data[y*f.Width+x] = v
}

// Row returns a view of row y.
func (f *Field) Row(y int) []float64 {
	return f.Data[y*f.Width : (y+1)*f.Width]
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{Width: f.Width, Height: f.Height, Data: append([]float64(nil), f.Data...)}
}

// Scaled returns a copy multiplied by k.
func (f *Field) Scaled(k float64) *Field {
	out := f.Clone()
	floats.Scale(k, out.Data)
	return out
}

// Abs returns a copy holding absolute values.
func (f *Field) Abs() *Field {
	out := f.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Abs(v)
	}
	return out
}

// Max returns the largest value, or 0 for an empty field.
func (f *Field) Max() float64 {
	if len(f.Data) == 0 {
		return 0
	}
	return floats.Max(f.Data)
}

// Min returns the smallest value, or 0 for an empty field.
func (f *Field) Min() float64 {
	if len(f.Data) == 0 {
		return 0
	}
	return floats.Min(f.Data)
}

// Sanitize replaces NaN with nan, +Inf with posInf and -Inf with negInf in place.
func (f *Field) Sanitize(nan, posInf, negInf float64) *Field {
	for i, v := range f.Data {
		switch {
		case math.IsNaN(v):
			f.Data[i] = nan
		case math.IsInf(v, 1):
			f.Data[i] = posInf
		case math.IsInf(v, -1):
			f.Data[i] = negInf
		}
	}
	return f
}

