package energy

import (
	"math"
	"testing"

	"evm-stress/internal/dsp"
	"evm-stress/internal/frames"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRMS(t *testing.T) {
	stack := frames.NewStack(4, 1, 2, 1)
	for i, v := range []float32{1, -1, 1, -1} {
		stack.Frames[i][0] = v
		stack.Frames[i][1] = 3 * float32(i%2)
	}

	rms, err := ComputeRMS(stack, Full, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rms.At(0, 0), 1e-12)
	assert.InDelta(t, math.Sqrt(4.5), rms.At(0, 1), 1e-12)

	half, err := ComputeRMS(stack, Half, 2)
	require.NoError(t, err)
	assert.InDelta(t, rms.At(0, 0), half.At(0, 0), 1e-3)
	assert.InDelta(t, rms.At(0, 1), half.At(0, 1), 1e-2)
}

func TestComputeRMSRejectsColor(t *testing.T) {
	_, err := ComputeRMS(frames.NewStack(3, 2, 2, 3), Full, 0)
	assert.ErrorIs(t, err, frames.ErrShape)
	_, err = ComputeRMS(&frames.Stack{}, Full, 0)
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 5.0, Percentile(values, 100))
	assert.Equal(t, 3.0, Percentile(values, 50))
	assert.InDelta(t, 1.2, Percentile(values, 5), 1e-12)
	assert.InDelta(t, 4.8, Percentile(values, 95), 1e-12)
	assert.True(t, math.IsNaN(Percentile([]float64{1, math.NaN()}, 50)))
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
	// Input order untouched.
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values)
}

func rampField(h, w int) *frames.Field {
	f := frames.NewField(h, w)
	for i := range f.Data {
		f.Data[i] = math.Sin(float64(i)*0.37)*10 + float64(i%7)
	}
	return f
}

func TestNormalizeRange(t *testing.T) {
	out := Normalize(rampField(9, 11), 5, 95)
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 0.0, out.Min())
	assert.Equal(t, 1.0, out.Max())
}

func TestNormalizeIdempotent(t *testing.T) {
	// 201 samples put the 5th and 95th percentiles exactly on ranks.
	once := Normalize(rampField(3, 67), 5, 95)
	twice := Normalize(once, 5, 95)
	assert.InDeltaSlice(t, once.Data, twice.Data, 1e-12)
}

func TestNormalizeConstantField(t *testing.T) {
	f := frames.NewField(4, 5)
	for i := range f.Data {
		f.Data[i] = 5
	}
	out := Normalize(f, 5, 95)
	for _, v := range out.Data {
		assert.Equal(t, 1.0, v)
	}

	for i := range f.Data {
		f.Data[i] = -2
	}
	out = Normalize(f, 5, 95)
	for _, v := range out.Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestNormalizeSanitizesNonFinite(t *testing.T) {
	f := frames.NewField(4, 10)
	for i := range f.Data {
		f.Data[i] = float64(i)
	}
	f.Data[7] = math.Inf(1)
	f.Data[20] = math.Inf(-1)

	out := Normalize(f, 5, 95)
	for _, v := range out.Data {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 1.0, out.Data[7])
	assert.Equal(t, 0.0, out.Data[20])

	f.Data[0] = math.NaN()
	out = Normalize(f, 5, 95)
	for _, v := range out.Data {
		assert.Equal(t, 0.0, v)
	}
}

func TestStats(t *testing.T) {
	f := &frames.Field{Width: 2, Height: 2, Data: []float64{1, 2, 3, math.NaN()}}
	s := Stats(f)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), s.Std, 1e-12)
	assert.Equal(t, Summary{}, Stats(frames.NewField(0, 0)))
}

// A single oscillating pixel in an otherwise static 64x64 scene must dominate the
// energy map after band-pass filtering.
func TestOscillatingPixelDominatesEnergy(t *testing.T) {
	const (
		n    = 10
		size = 64
		fs   = 30.0
	)
	stack := frames.NewStack(n, size, size, 1)
	for ti, f := range stack.Frames {
		for i := range f {
			f[i] = 0.5
		}
		f[32*size+32] = float32(0.5 + 0.2*math.Sin(2*math.Pi*2*float64(ti)/fs))
	}

	filtered, err := dsp.Bandpass{Spec: dsp.FilterSpec{Low: 1, High: 3, Order: 4}, FS: fs}.Apply(stack, nil)
	require.NoError(t, err)
	rms, err := ComputeRMS(filtered, Full, 0)
	require.NoError(t, err)

	moving := rms.At(32, 32)
	static := rms.At(5, 5)
	assert.Greater(t, moving, 0.0)
	assert.Greater(t, moving, 5*static)

	norm := Normalize(rms, 5, 95)
	for _, v := range norm.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
