package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State is the transposed direct-form II delay line of every section.
type State [][2]float64

// SteadyState returns initial conditions for a unit step input, so that a signal
// starting at x0 can be filtered from state SteadyState()*x0 without a start-up
// transient.
func (s SOS) SteadyState() (State, error) {
	zi := make(State, len(s))
	scale := 1.0
	for i, sec := range s {
		z, err := sectionSteadyState(sec)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		zi[i] = [2]float64{z[0] * scale, z[1] * scale}
		scale *= (sec[0] + sec[1] + sec[2]) / (sec[3] + sec[4] + sec[5])
	}
	return zi, nil
}

// sectionSteadyState solves (I - A^T) z = b[1:] - a[1:]*b0 for one biquad, where A
// is the companion matrix of the denominator.
func sectionSteadyState(sec Section) ([2]float64, error) {
	b0, b1, b2 := sec[0]/sec[3], sec[1]/sec[3], sec[2]/sec[3]
	a1, a2 := sec[4]/sec[3], sec[5]/sec[3]

	lhs := mat.NewDense(2, 2, []float64{
		1 + a1, -1,
		a2, 1,
	})
	rhs := mat.NewVecDense(2, []float64{b1 - a1*b0, b2 - a2*b0})

	var z mat.VecDense
	if err := z.SolveVec(lhs, rhs); err != nil {
		return [2]float64{}, err
	}
	return [2]float64{z.AtVec(0), z.AtVec(1)}, nil
}

// Filter runs x through the cascade in place, starting from zi (which is updated
// to the final state). A nil zi starts from rest.
func (s SOS) Filter(x []float64, zi State) {
	if zi == nil {
		zi = make(State, len(s))
	}
	for i, sec := range s {
		b0, b1, b2 := sec[0], sec[1], sec[2]
		a1, a2 := sec[4], sec[5]
		z0, z1 := zi[i][0], zi[i][1]
		for n, v := range x {
			y := b0*v + z0
			z0 = b1*v - a1*y + z1
			z1 = b2*v - a2*y
			x[n] = y
		}
		zi[i] = [2]float64{z0, z1}
	}
}

// PadLen returns the odd-extension length used by FiltFilt for a signal of n samples:
// three times the cascade's effective tap count, capped at n-1 so short signals can
// still be filtered.
func (s SOS) PadLen(n int) int {
	ntaps := 2*len(s) + 1
	zb, za := 0, 0
	for _, sec := range s {
		if sec[2] == 0 {
			zb++
		}
		if sec[5] == 0 {
			za++
		}
	}
	ntaps -= min(zb, za)
	pad := 3 * ntaps
	if pad > n-1 {
		pad = n - 1
	}
	if pad < 0 {
		pad = 0
	}
	return pad
}

// Filterer holds a designed cascade and its steady-state conditions so that many
// series can be filtered without recomputing them. It is safe for concurrent use.
type Filterer struct {
	sos SOS
	zi  State
}

// NewFilterer precomputes the steady-state initial conditions for sos.
func NewFilterer(sos SOS) (*Filterer, error) {
	zi, err := sos.SteadyState()
	if err != nil {
		return nil, err
	}
	return &Filterer{sos: sos, zi: zi}, nil
}

// SOS returns the cascade.
func (f *Filterer) SOS() SOS { return f.sos }

// FiltFilt applies the cascade forward and then backward over x, producing a
// zero-phase result of the same length. The signal is extended at both ends by
// odd reflection and each pass starts from steady state scaled to the first sample
// it sees. buf is scratch space that is grown as needed and returned for reuse.
func (f *Filterer) FiltFilt(x []float64, buf []float64) (out []float64, scratch []float64) {
	n := len(x)
	if n == 0 {
		return nil, buf
	}
	pad := f.sos.PadLen(n)
	total := n + 2*pad
	if cap(buf) < total {
		buf = make([]float64, total)
	}
	ext := buf[:total]

	// Odd extension: 2*x[0] - x[pad..1], x, 2*x[n-1] - x[n-2..n-1-pad].
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	zi := f.scaledState(ext[0])
	f.sos.Filter(ext, zi)

	reverse(ext)
	zi = f.scaledState(ext[0])
	f.sos.Filter(ext, zi)
	reverse(ext)

	out = make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out, buf
}

func (f *Filterer) scaledState(x0 float64) State {
	zi := make(State, len(f.zi))
	for i, z := range f.zi {
		zi[i] = [2]float64{z[0] * x0, z[1] * x0}
	}
	return zi
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// FiltFilt zero-phase filters a single series with an already designed cascade.
func FiltFilt(sos SOS, x []float64) ([]float64, error) {
	f, err := NewFilterer(sos)
	if err != nil {
		return nil, err
	}
	out, _ := f.FiltFilt(x, nil)
	return out, nil
}
