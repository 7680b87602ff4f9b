// Package dsp implements the temporal band-pass filter: Butterworth design in
// second-order sections and zero-phase (forward-backward) filtering.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"evm-stress/internal/config"
)

// ErrInvalidBand is the ConfigError raised for a band that cannot be filtered at the
// given sample rate.
var ErrInvalidBand = fmt.Errorf("%w: invalid frequency band", config.ErrConfig)

// BandError carries the offending values of an invalid band.
type BandError struct {
	Low, High float64
	Order     int
	FS        float64
	Reason    string
}

func (e *BandError) Error() string {
	return fmt.Sprintf("invalid band [%g, %g] Hz (order %d) at %g fps, Nyquist %g Hz: %s",
		e.Low, e.High, e.Order, e.FS, e.FS/2, e.Reason)
}

func (e *BandError) Unwrap() error { return ErrInvalidBand }

// FilterSpec describes a fixed-order band-pass filter.
type FilterSpec struct {
	Low   float64 // Hz
	High  float64 // Hz
	Order int
}

// Validate checks 0 < Low < High < fs/2 and a sane order.
func (s FilterSpec) Validate(fs float64) error {
	fail := func(reason string) error {
		return &BandError{Low: s.Low, High: s.High, Order: s.Order, FS: fs, Reason: reason}
	}
	switch {
	case !(fs > 0) || math.IsInf(fs, 0):
		return fail("sample rate must be positive")
	case s.High >= fs/2:
		return fail(fmt.Sprintf("f_high (%g Hz) must be below the Nyquist frequency (%g Hz)", s.High, fs/2))
	case !(s.Low > 0):
		return fail("f_low must be positive")
	case !(s.Low < s.High):
		return fail("f_low must be below f_high")
	case s.Order < 1:
		return fail("order must be at least 1")
	}
	return nil
}

// Section is one biquad: b0 b1 b2 / a0 a1 a2, with a0 normalized to 1.
type Section [6]float64

// SOS is a cascade of second-order sections.
type SOS []Section

// Design builds a digital Butterworth band-pass filter of the given order as
// second-order sections. The band edges are normalized by the Nyquist frequency and
// prewarped for the bilinear transform; the resulting cascade has 2*Order poles.
func Design(spec FilterSpec, fs float64) (SOS, error) {
	if err := spec.Validate(fs); err != nil {
		return nil, err
	}
	n := spec.Order
	nyq := fs / 2

	// Bilinear transform with fs=2 (normalized frequencies), so 2*fs = 4.
	const fs2 = 4.0
	warpLow := fs2 * math.Tan(math.Pi*(spec.Low/nyq)/2)
	warpHigh := fs2 * math.Tan(math.Pi*(spec.High/nyq)/2)
	bw := warpHigh - warpLow
	wo := math.Sqrt(warpLow * warpHigh)

	// Analog low-pass prototype: poles on the left half of the unit circle, gain 1.
	proto := make([]complex128, 0, n)
	for m := -n + 1; m < n; m += 2 {
		proto = append(proto, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*n))))
	}

	// Low-pass to band-pass: each prototype pole splits into two; n zeros land at s=0.
	analog := make([]complex128, 0, 2*n)
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pl*pl - complex(wo*wo, 0))
		analog = append(analog, pl+d, pl-d)
	}
	gain := complex(math.Pow(bw, float64(n)), 0)

	// Bilinear transform. The n zeros at s=0 map to z=+1; the n zeros at infinity
	// map to z=-1.
	digital := make([]complex128, len(analog))
	num := complex(math.Pow(fs2, float64(n)), 0)
	den := complex(1, 0)
	for i, p := range analog {
		digital[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	k := real(gain * num / den)

	pairs, err := pairPoles(digital)
	if err != nil {
		return nil, err
	}

	// Every section carries one zero at +1 and one at -1: b = [1, 0, -1].
	sos := make(SOS, len(pairs))
	for i, pr := range pairs {
		sos[i] = Section{1, 0, -1, 1, pr[0], pr[1]}
	}
	sos[0][0] *= k
	sos[0][2] *= k
	return sos, nil
}

// pairPoles groups poles into conjugate (or real) pairs and returns, for each pair,
// the denominator coefficients a1, a2 of (1 - p z^-1)(1 - q z^-1).
func pairPoles(poles []complex128) ([][2]float64, error) {
	const tol = 1e-10
	var upper []complex128
	var reals []float64
	lower := 0
	for _, p := range poles {
		switch {
		case imag(p) > tol:
			upper = append(upper, p)
		case imag(p) < -tol:
			lower++
		default:
			reals = append(reals, real(p))
		}
	}
	if lower != len(upper) || len(reals)%2 != 0 {
		return nil, errors.New("filter design produced unpaired poles")
	}

	// Order sections by pole radius, furthest from the unit circle first.
	sort.Slice(upper, func(i, j int) bool { return cmplx.Abs(upper[i]) < cmplx.Abs(upper[j]) })
	sort.Float64s(reals)

	out := make([][2]float64, 0, len(upper)+len(reals)/2)
	for i := 0; i+1 < len(reals); i += 2 {
		p, q := reals[i], reals[i+1]
		out = append(out, [2]float64{-(p + q), p * q})
	}
	for _, p := range upper {
		out = append(out, [2]float64{-2 * real(p), real(p)*real(p) + imag(p)*imag(p)})
	}
	return out, nil
}

// Response evaluates the magnitude of the cascade at frequency f (Hz) for sample rate fs.
func (s SOS) Response(f, fs float64) float64 {
	w := 2 * math.Pi * f / fs
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, sec := range s {
		num := complex(sec[0], 0) + complex(sec[1], 0)*z1 + complex(sec[2], 0)*z2
		den := complex(sec[3], 0) + complex(sec[4], 0)*z1 + complex(sec[5], 0)*z2
		h *= num / den
	}
	return cmplx.Abs(h)
}
