// Package tensor extracts the principal deformation direction of a scalar energy
// map. Every pixel gets a symmetric 2x2 tensor built from the map's gradients, and
// the eigenpair with the largest absolute eigenvalue is kept.
package tensor

import (
	"fmt"
	"math"

	"evm-stress/internal/frames"
	"evm-stress/internal/workers"

	"gonum.org/v1/gonum/mat"
)

// Field holds the principal eigenpair of every pixel.
type Field struct {
	Width   int
	Height  int
	Values  []float64    // eigenvalue with the largest magnitude
	Vectors [][2]float64 // matching unit eigenvector (x, y)
}

// Value returns the principal eigenvalue at row y, column x.
func (f *Field) Value(y, x int) float64 { return f.Values[y*f.Width+x] }

// Vector returns the principal eigenvector at row y, column x.
func (f *Field) Vector(y, x int) [2]float64 { return f.Vectors[y*f.Width+x] }

// Magnitudes returns |eigenvalue| as a scalar field.
func (f *Field) Magnitudes() *frames.Field {
	out := frames.NewField(f.Height, f.Width)
	for i, v := range f.Values {
		out.Data[i] = math.Abs(v)
	}
	return out
}

// Options tunes the analysis.
type Options struct {
	Workers int // 0 = all CPUs
	// Canonicalize flips every eigenvector into the upper half plane (y > 0, or
	// x > 0 when y == 0). Off, vectors keep the sign the decomposition returns.
	Canonicalize bool
}

// Gradient returns the horizontal and vertical derivatives of field using central
// differences in the interior and one-sided differences on the borders. An axis of
// length 1 has a zero derivative.
func Gradient(field *frames.Field) (gx, gy *frames.Field) {
	h, w := field.Height, field.Width
	gx = frames.NewField(h, w)
	gy = frames.NewField(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx.Set(y, x, diff(w, x, func(i int) float64 { return field.At(y, i) }))
			gy.Set(y, x, diff(h, y, func(i int) float64 { return field.At(i, x) }))
		}
	}
	return gx, gy
}

func diff(n, i int, at func(int) float64) float64 {
	switch {
	case n < 2:
		return 0
	case i == 0:
		return at(1) - at(0)
	case i == n-1:
		return at(n-1) - at(n-2)
	default:
		return (at(i+1) - at(i-1)) / 2
	}
}

// Analyze builds the tensor [[gx, (gx+gy)/2], [(gx+gy)/2, gy]] at every pixel and
// keeps its eigenpair of largest absolute eigenvalue. Rows are independent and are
// decomposed in parallel.
func Analyze(field *frames.Field, opts Options) (*Field, error) {
	if field == nil || field.Width <= 0 || field.Height <= 0 {
		return nil, fmt.Errorf("%w: empty scalar field", frames.ErrShape)
	}
	if len(field.Data) != field.Width*field.Height {
		return nil, fmt.Errorf("%w: field has %d values, want %d", frames.ErrShape, len(field.Data), field.Width*field.Height)
	}

	gx, gy := Gradient(field)
	n := field.Width * field.Height
	out := &Field{
		Width:   field.Width,
		Height:  field.Height,
		Values:  make([]float64, n),
		Vectors: make([][2]float64, n),
	}

	errs := make([]error, field.Height)
	workers.Stripes(field.Height, opts.Workers, func(start, end int) {
		var (
			eig  mat.EigenSym
			sym  = mat.NewSymDense(2, nil)
			vecs mat.Dense
		)
		for y := start; y < end; y++ {
			for x := 0; x < field.Width; x++ {
				i := y*field.Width + x
				a, d := gx.Data[i], gy.Data[i]
				b := (a + d) / 2
				sym.SetSym(0, 0, a)
				sym.SetSym(0, 1, b)
				sym.SetSym(1, 1, d)
				if ok := eig.Factorize(sym, true); !ok {
					errs[y] = fmt.Errorf("eigen decomposition failed at (%d, %d)", x, y)
					return
				}
				vals := eig.Values(nil)
				eig.VectorsTo(&vecs)

				// Ascending eigenvalues; the first wins a magnitude tie.
				k := 0
				if math.Abs(vals[1]) > math.Abs(vals[0]) {
					k = 1
				}
				v := [2]float64{vecs.At(0, k), vecs.At(1, k)}
				if opts.Canonicalize {
					v = canonical(v)
				}
				out.Values[i] = vals[k]
				out.Vectors[i] = v
			}
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func canonical(v [2]float64) [2]float64 {
	if v[1] < 0 || (v[1] == 0 && v[0] < 0) {
		return [2]float64{-v[0], -v[1]}
	}
	return v
}
