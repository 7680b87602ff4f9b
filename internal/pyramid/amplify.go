package pyramid

import (
	"errors"
	"fmt"
	"log/slog"

	"evm-stress/internal/dsp"
	"evm-stress/internal/frames"
	"evm-stress/internal/logging"
	"evm-stress/internal/progress"
	"evm-stress/internal/workers"
)

// DefaultWindow is the width of the temporal moving average applied to each
// filtered level.
const DefaultWindow = 5

// Amplifier magnifies band-limited temporal variation level by level.
type Amplifier struct {
	Levels   int     // detail levels, DefaultLevels when 0
	Window   int     // odd moving-average width, 1 disables smoothing
	Alpha    float64 // gain on the filtered signal
	Bandpass dsp.Bandpass
	Workers  int
	Log      *slog.Logger
}

// Run amplifies a single-channel [0,1] stack and returns the reconstructed frames.
// Each detail level becomes detail + alpha*smooth(bandpass(detail)); the coarse
// residual passes through untouched, so a static stack reconstructs to itself.
func (a Amplifier) Run(stack *frames.Stack, report progress.Func) (*frames.Stack, error) {
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("pyramid input: %w", err)
	}
	if stack.Channels != 1 {
		return nil, fmt.Errorf("%w: pyramid needs a grayscale stack, got %d channels", frames.ErrShape, stack.Channels)
	}
	window := a.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 1 || window%2 == 0 {
		return nil, fmt.Errorf("moving-average window must be odd and positive, got %d", window)
	}
	levels := a.Levels
	if levels == 0 {
		levels = DefaultLevels
	}
	log := logging.OrDiscard(a.Log)

	n := stack.Len()
	pyrs := make([]*Pyramid, n)
	errs := make([]error, n)
	workers.Each(n, a.Workers, progress.Span(report, 0, 0.2), func(t int) {
		pyrs[t], errs[t] = Build(Plane{Width: stack.Width, Height: stack.Height, Data: stack.Frames[t]}, levels)
	})
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build pyramids: %w", err)
	}

	built := len(pyrs[0].Details)
	log.Debug("pyramid built", "frames", n, "levels", built, "alpha", a.Alpha, "window", window)

	for l := 0; l < built; l++ {
		levelStack := gatherLevel(pyrs, l)
		span := progress.Span(report, 0.2+0.6*float64(l)/float64(built), 0.2+0.6*float64(l+1)/float64(built))
		filtered, err := a.Bandpass.Apply(levelStack, span)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		smoothed := MovingAverage(filtered, window)
		scatterLevel(pyrs, l, levelStack, smoothed, float32(a.Alpha))
	}

	out := frames.NewStack(n, stack.Height, stack.Width, 1)
	workers.Each(n, a.Workers, progress.Span(report, 0.8, 1), func(t int) {
		var plane Plane
		plane, errs[t] = Reconstruct(pyrs[t])
		if errs[t] == nil {
			copy(out.Frames[t], plane.Data)
		}
	})
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}
	return out, nil
}

// gatherLevel stacks detail level l of every frame over time.
func gatherLevel(pyrs []*Pyramid, l int) *frames.Stack {
	first := pyrs[0].Details[l]
	s := &frames.Stack{Width: first.Width, Height: first.Height, Channels: 1, Frames: make([][]float32, len(pyrs))}
	for t, p := range pyrs {
		s.Frames[t] = p.Details[l].Data
	}
	return s
}

// scatterLevel writes detail + alpha*signal back into each frame's pyramid.
func scatterLevel(pyrs []*Pyramid, l int, detail, signal *frames.Stack, alpha float32) {
	for t, p := range pyrs {
		amplified := make([]float32, len(detail.Frames[t]))
		for i, v := range detail.Frames[t] {
			amplified[i] = v + alpha*signal.Frames[t][i]
		}
		p.Details[l].Data = amplified
	}
}

// MovingAverage smooths every pixel over time with a centered window of odd width,
// padding both ends by repeating the edge frames. A width of 1 returns a copy.
func MovingAverage(stack *frames.Stack, width int) *frames.Stack {
	if width <= 1 {
		return stack.Clone()
	}
	n := stack.Len()
	half := width / 2
	out := frames.NewStack(n, stack.Height, stack.Width, stack.Channels)
	inv := 1 / float32(width)

	workers.Stripes(stack.FrameLen(), 0, func(start, end int) {
		for t := 0; t < n; t++ {
			dst := out.Frames[t]
			for k := -half; k <= half; k++ {
				src := stack.Frames[clampIndex(t+k, n)]
				for i := start; i < end; i++ {
					dst[i] += src[i]
				}
			}
			for i := start; i < end; i++ {
				dst[i] *= inv
			}
		}
	})
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
