// Package energy aggregates band-passed frame stacks into per-pixel energy maps and
// normalizes them into the [0,1] range used for display.
package energy

import (
	"fmt"
	"math"
	"sort"

	"evm-stress/internal/frames"
	"evm-stress/internal/workers"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/stat"
)

// Precision selects how RMS samples are accumulated.
type Precision int

const (
	// Full accumulates in float64.
	Full Precision = iota
	// Half quantizes every sample and its square through IEEE-754 binary16 and
	// accumulates in float32, trading accuracy for a smaller working set.
	Half
)

func (p Precision) String() string {
	if p == Half {
		return "half"
	}
	return "full"
}

// PrecisionFor maps the half-precision config flag to a Precision.
func PrecisionFor(half bool) Precision {
	if half {
		return Half
	}
	return Full
}

// ComputeRMS returns sqrt(mean(x^2)) over time for every pixel of a single-channel
// stack. Rows are computed in parallel stripes.
func ComputeRMS(stack *frames.Stack, prec Precision, numWorkers int) (*frames.Field, error) {
	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("rms input: %w", err)
	}
	if stack.Channels != 1 {
		return nil, fmt.Errorf("%w: rms needs a single-channel stack, got %d channels", frames.ErrShape, stack.Channels)
	}

	out := frames.NewField(stack.Height, stack.Width)
	n := stack.Len()
	w := stack.Width
	workers.Stripes(stack.Height, numWorkers, func(start, end int) {
		for i := start * w; i < end*w; i++ {
			if prec == Half {
				out.Data[i] = halfRMS(stack.Frames, i, n)
			} else {
				out.Data[i] = fullRMS(stack.Frames, i, n)
			}
		}
	})
	return out, nil
}

func fullRMS(fs [][]float32, i, n int) float64 {
	sum := 0.0
	for _, f := range fs {
		v := float64(f[i])
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func halfRMS(fs [][]float32, i, n int) float64 {
	var sum float32
	for _, f := range fs {
		v := float16.Fromfloat32(f[i]).Float32()
		sum += float16.Fromfloat32(v * v).Float32()
	}
	mean := float16.Fromfloat32(sum / float32(n)).Float32()
	return float64(float16.Fromfloat32(float32(math.Sqrt(float64(mean)))).Float32())
}

// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. Any NaN in values yields NaN.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	for _, v := range sorted {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	sort.Float64s(sorted)

	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

const spreadTolerance = 1e-8

// Normalize maps field into [0,1] by clipping between its pLow and pHigh
// percentiles. When the percentile spread is ~0 or not finite the field is divided
// by its maximum instead, or zeroed when that maximum is not positive.
// NaN becomes 0, +Inf becomes 1 and -Inf becomes 0.
func Normalize(field *frames.Field, pLow, pHigh float64) *frames.Field {
	out := frames.NewField(field.Height, field.Width)
	lo := Percentile(field.Data, pLow)
	hi := Percentile(field.Data, pHigh)
	denom := hi - lo

	if math.Abs(denom) <= spreadTolerance || math.IsNaN(denom) || math.IsInf(denom, 0) {
		m := maxOf(field.Data)
		if m > 0 {
			for i, v := range field.Data {
				out.Data[i] = v / m
			}
		}
	} else {
		for i, v := range field.Data {
			out.Data[i] = (v - lo) / denom
		}
	}

	out.Sanitize(0, 1, 0)
	for i, v := range out.Data {
		out.Data[i] = math.Max(0, math.Min(1, v))
	}
	return out
}

// maxOf returns NaN if any value is NaN.
func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			return math.NaN()
		}
		if v > m {
			m = v
		}
	}
	return m
}

// Summary describes the distribution of a field.
type Summary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Stats summarizes the finite values of field.
func Stats(field *frames.Field) Summary {
	finite := make([]float64, 0, len(field.Data))
	for _, v := range field.Data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(finite, nil)
	s := Summary{Min: finite[0], Max: finite[0], Mean: mean, Std: std}
	for _, v := range finite[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}
