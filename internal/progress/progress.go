// Package progress is the side-channel stages use to report completion.
// A nil Func is valid everywhere and simply drops updates.
package progress

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Func receives a completion fraction in [0,1].
type Func func(fraction float64)

// Report forwards fraction to f if f is set.
func (f Func) Report(fraction float64) {
	if f != nil {
		f(fraction)
	}
}

// Monotonic wraps f so that it only ever sees non-decreasing values clamped to [0,1].
func Monotonic(f Func) Func {
	if f == nil {
		return nil
	}
	var (
		mu   sync.Mutex
		last = -1.0
	)
	return func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		mu.Lock()
		defer mu.Unlock()
		if fraction <= last {
			return
		}
		last = fraction
		f(fraction)
	}
}

// Span maps a stage's own [0,1] progress into [lo,hi] of the parent.
func Span(f Func, lo, hi float64) Func {
	if f == nil {
		return nil
	}
	return func(fraction float64) {
		f(lo + (hi-lo)*fraction)
	}
}

// NewBar returns a Func that drives a terminal progress bar, plus a finish function.
func NewBar(w io.Writer, description string) (Func, func()) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	f := Monotonic(func(fraction float64) {
		_ = bar.Set(int(fraction * 100))
	})
	return f, func() { _ = bar.Finish() }
}
