package pyramid

import (
	"math"
	"math/rand"
	"testing"

	"evm-stress/internal/dsp"
	"evm-stress/internal/frames"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPlane(h, w int, seed int64) Plane {
	rng := rand.New(rand.NewSource(seed))
	p := Plane{Width: w, Height: h, Data: make([]float32, w*h)}
	for i := range p.Data {
		p.Data[i] = 0.1 + 0.8*rng.Float32()
	}
	return p
}

func TestEffectiveLevels(t *testing.T) {
	assert.Equal(t, 4, EffectiveLevels(64, 64, 4))
	assert.Equal(t, 4, EffectiveLevels(360, 640, 4))
	assert.Equal(t, 2, EffectiveLevels(3, 100, 4))
	assert.Equal(t, 0, EffectiveLevels(1, 100, 4))
}

func TestBuildShapes(t *testing.T) {
	pyr, err := Build(randomPlane(45, 64, 1), DefaultLevels)
	require.NoError(t, err)
	require.Len(t, pyr.Details, 4)

	wantW := []int{64, 32, 16, 8}
	wantH := []int{45, 23, 12, 6}
	for l, d := range pyr.Details {
		assert.Equal(t, wantW[l], d.Width, "level %d", l)
		assert.Equal(t, wantH[l], d.Height, "level %d", l)
		assert.Len(t, d.Data, d.Width*d.Height)
	}
	assert.Equal(t, 4, pyr.Residual.Width)
	assert.Equal(t, 3, pyr.Residual.Height)
}

func TestReconstructInvertsBuild(t *testing.T) {
	in := randomPlane(37, 53, 2)
	pyr, err := Build(in, DefaultLevels)
	require.NoError(t, err)
	out, err := Reconstruct(pyr)
	require.NoError(t, err)

	require.Equal(t, in.Width, out.Width)
	require.Equal(t, in.Height, out.Height)
	for i := range in.Data {
		assert.InDelta(t, in.Data[i], out.Data[i], 1e-5)
	}
}

func TestReconstructClips(t *testing.T) {
	pyr, err := Build(randomPlane(16, 16, 3), 2)
	require.NoError(t, err)
	for i := range pyr.Details[0].Data {
		pyr.Details[0].Data[i] += 5
	}
	out, err := Reconstruct(pyr)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, float32(1), v)
	}
}

func TestMovingAverageEdgePadded(t *testing.T) {
	s := frames.NewStack(5, 1, 1, 1)
	for i := range s.Frames {
		s.Frames[i][0] = float32(3 * i)
	}
	out := MovingAverage(s, 3)
	var got []float32
	for _, f := range out.Frames {
		got = append(got, f[0])
	}
	assert.InDeltaSlice(t, []float32{1, 3, 6, 9, 11}, got, 1e-6)

	same := MovingAverage(s, 1)
	assert.Equal(t, s.Frames, same.Frames)
}

func bandpass() dsp.Bandpass {
	return dsp.Bandpass{Spec: dsp.FilterSpec{Low: 1, High: 3, Order: 4}, FS: 30}
}

func TestAmplifyStaticStackReconstructsInput(t *testing.T) {
	frame := randomPlane(32, 40, 4)
	stack := frames.NewStack(12, 32, 40, 1)
	for _, f := range stack.Frames {
		copy(f, frame.Data)
	}

	out, err := Amplifier{Alpha: 1, Bandpass: bandpass()}.Run(stack, nil)
	require.NoError(t, err)
	require.True(t, out.SameShape(stack))
	for ti := range out.Frames {
		for i := range out.Frames[ti] {
			assert.InDelta(t, stack.Frames[ti][i], out.Frames[ti][i], 1e-4)
		}
	}
}

func temporalStd(s *frames.Stack, idx int) float64 {
	var sum, sq float64
	for _, f := range s.Frames {
		v := float64(f[idx])
		sum += v
		sq += v * v
	}
	n := float64(s.Len())
	mean := sum / n
	return math.Sqrt(sq/n - mean*mean)
}

func TestAmplifyMagnifiesInBandMotion(t *testing.T) {
	const size = 32
	stack := frames.NewStack(60, size, size, 1)
	idx := 16*size + 16
	for ti, f := range stack.Frames {
		for i := range f {
			f[i] = 0.5
		}
		f[idx] = float32(0.5 + 0.01*math.Sin(2*math.Pi*2*float64(ti)/30))
	}

	var last float64
	out, err := Amplifier{Alpha: 10, Bandpass: bandpass()}.Run(stack, func(f float64) { last = f })
	require.NoError(t, err)
	assert.InDelta(t, 1.0, last, 1e-12)
	assert.Greater(t, temporalStd(out, idx), 3*temporalStd(stack, idx))
}

func TestAmplifyRejectsBadInput(t *testing.T) {
	stack := frames.NewStack(10, 8, 8, 1)
	_, err := Amplifier{Alpha: 1, Window: 4, Bandpass: bandpass()}.Run(stack, nil)
	assert.Error(t, err)

	_, err = Amplifier{Alpha: 1, Bandpass: bandpass()}.Run(frames.NewStack(10, 8, 8, 3), nil)
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestDisplacementMask(t *testing.T) {
	recon := make([]float32, 100)
	for i := range recon {
		recon[i] = float32(i) / 100
	}
	mask := DisplacementMask(recon, DefaultMaskPercentile)
	count := 0
	for i, m := range mask {
		if m {
			count++
			assert.GreaterOrEqual(t, i, 89)
		}
	}
	assert.Equal(t, 10, count)
}

func TestHighlight(t *testing.T) {
	out := Highlight([]float32{0.5, 0.2, 2}, []bool{false, true, false})
	assert.Equal(t, []float32{127, 127, 127, 0, 0, 255, 255, 255, 255}, out)
}

func TestDisplacementShape(t *testing.T) {
	gray := frames.NewStack(3, 4, 5, 1)
	out, err := Displacement(gray.Clone(), gray, DefaultMaskPercentile)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Channels)
	assert.NoError(t, out.Validate())

	_, err = Displacement(frames.NewStack(2, 4, 5, 1), gray, DefaultMaskPercentile)
	assert.ErrorIs(t, err, frames.ErrShape)
	_, err = Displacement(frames.NewStack(3, 4, 5, 3), frames.NewStack(3, 4, 5, 3), DefaultMaskPercentile)
	assert.ErrorIs(t, err, frames.ErrShape)
}
