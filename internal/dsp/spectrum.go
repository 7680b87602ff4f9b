package dsp

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// DominantFrequency returns the frequency (Hz) of the strongest non-DC bin of the
// series' spectrum and its magnitude. Series shorter than 4 samples yield zero.
func DominantFrequency(series []float64, fs float64) (freq, magnitude float64) {
	n := len(series)
	if n < 4 || !(fs > 0) {
		return 0, 0
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range series {
		centered[i] = v - mean
	}

	spectrum := fft.FFTReal(centered)
	best := 0
	for k := 1; k <= n/2; k++ {
		if m := cmplx.Abs(spectrum[k]); m > magnitude {
			magnitude = m
			best = k
		}
	}
	if best == 0 {
		return 0, 0
	}
	return float64(best) * fs / float64(n), magnitude
}
