package dsp

import (
	"fmt"
	"log/slog"

	"evm-stress/internal/frames"
	"evm-stress/internal/logging"
	"evm-stress/internal/progress"
	"evm-stress/internal/workers"
)

// Bandpass filters every pixel of a frame stack along the time axis.
type Bandpass struct {
	Spec    FilterSpec
	FS      float64
	Workers int // 0 = all CPUs
	Log     *slog.Logger
}

// Apply returns a new stack in which each pixel/channel time series has been
// zero-phase band-pass filtered. Rows are dispatched to a worker pool purely to
// bound latency and report progress; every series is filtered independently and
// sequentially in time, so the result does not depend on the batching.
func (b Bandpass) Apply(stack *frames.Stack, report progress.Func) (*frames.Stack, error) {
	sos, err := Design(b.Spec, b.FS)
	if err != nil {
		return nil, err
	}
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("bandpass input: %w", err)
	}
	filt, err := NewFilterer(sos)
	if err != nil {
		return nil, fmt.Errorf("bandpass initial conditions: %w", err)
	}

	log := logging.OrDiscard(b.Log)
	log.Debug("bandpass filter",
		"f_low", b.Spec.Low, "f_high", b.Spec.High, "order", b.Spec.Order,
		"fps", b.FS, "sections", len(sos), "padlen", sos.PadLen(stack.Len()),
		"frames", stack.Len(), "width", stack.Width, "height", stack.Height)

	out := frames.NewStack(stack.Len(), stack.Height, stack.Width, stack.Channels)
	workers.Each(stack.Height, b.Workers, report, func(y int) {
		var series, scratch []float64
		for x := 0; x < stack.Width; x++ {
			for c := 0; c < stack.Channels; c++ {
				series = stack.Series(y, x, c, series)
				var filtered []float64
				filtered, scratch = filt.FiltFilt(series, scratch)
				out.SetSeries(y, x, c, filtered)
			}
		}
	})
	return out, nil
}
