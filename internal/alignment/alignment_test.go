package alignment

import (
	"math"
	"math/rand"
	"testing"

	"evm-stress/internal/frames"
	"evm-stress/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func uniformStack(t, h, w int, v float32) *frames.Stack {
	s := frames.NewStack(t, h, w, 1)
	for _, f := range s.Frames {
		for i := range f {
			f[i] = v
		}
	}
	return s
}

func TestStabilizeDisabledIsIdentity(t *testing.T) {
	stack := uniformStack(4, 16, 20, 0.25)
	stack.Frames[2][7] = 0.9

	out, rep, err := New(Options{Enabled: false}).Stabilize(stack, nil)
	require.NoError(t, err)
	assert.Equal(t, stack.Frames, out.Frames)
	assert.False(t, rep.Enabled)
	assert.Empty(t, rep.Frames)

	// A copy, not an alias.
	out.Frames[0][0] = 1
	assert.Equal(t, float32(0.25), stack.Frames[0][0])
}

func TestStabilizeSkipsFeaturelessReference(t *testing.T) {
	stack := uniformStack(5, 48, 64, 0.5)

	var last float64
	out, rep, err := New(DefaultOptions()).Stabilize(stack, func(f float64) { last = f })
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.NotEmpty(t, rep.SkipReason)
	assert.Less(t, rep.RefKeypoints, 10)
	assert.Equal(t, stack.Frames, out.Frames)
	assert.Equal(t, 1.0, last)
}

// blockTexture returns h x w frames cut from one random 8 px block texture at the
// given offsets, so frame i equals frame 0 translated by offsets[i]-offsets[0].
func blockTexture(h, w int, offsets [][2]int) *frames.Stack {
	const pad, block = 16, 8
	rng := rand.New(rand.NewSource(7))
	th, tw := h+2*pad, w+2*pad
	levels := make([]float32, (th/block+1)*(tw/block+1))
	for i := range levels {
		levels[i] = float32(rng.Intn(256)) / 255
	}
	tex := func(x, y int) float32 {
		return levels[(y/block)*(tw/block+1)+x/block]
	}

	s := frames.NewStack(len(offsets), h, w, 1)
	for t, o := range offsets {
		f := s.Frames[t]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f[y*w+x] = tex(x+pad+o[0], y+pad+o[1])
			}
		}
	}
	return s
}

// interiorDiff is the mean absolute difference between frames a and b away from
// the borders.
func interiorDiff(s *frames.Stack, a, b []float32, margin int) float64 {
	var sum float64
	var n int
	for y := margin; y < s.Height-margin; y++ {
		for x := margin; x < s.Width-margin; x++ {
			i := y*s.Width + x
			sum += math.Abs(float64(a[i] - b[i]))
			n++
		}
	}
	return sum / float64(n)
}

func TestStabilizeRemovesKnownTranslation(t *testing.T) {
	offsets := [][2]int{{0, 0}, {3, 2}, {-2, 3}, {4, -1}}
	stack := blockTexture(240, 320, offsets)

	out, rep, err := New(DefaultOptions()).Stabilize(stack, nil)
	require.NoError(t, err)
	require.False(t, rep.Skipped, rep.SkipReason)
	require.Len(t, rep.Frames, len(offsets)-1)
	assert.Zero(t, rep.Failures)
	assert.Equal(t, stack.Len(), out.Len())

	ref := stack.Frames[0]
	for i, f := range rep.Frames {
		o := offsets[i+1]
		require.NoError(t, f.Err, "frame %d", f.Index)
		assert.InDelta(t, 1, f.Transform.Scale(), 0.02, "frame %d scale", f.Index)
		assert.InDelta(t, 0, f.Transform.Angle(), 0.5, "frame %d rotation", f.Index)
		assert.InDelta(t, math.Hypot(float64(o[0]), float64(o[1])),
			math.Hypot(f.Transform.TX, f.Transform.TY), 1, "frame %d shift", f.Index)

		before := interiorDiff(stack, stack.Frames[f.Index], ref, 16)
		after := interiorDiff(stack, out.Frames[f.Index], ref, 16)
		assert.Greater(t, before, 0.1, "frame %d should start misaligned", f.Index)
		assert.Less(t, after, 0.35*before, "frame %d", f.Index)
		assert.Less(t, after, 0.06, "frame %d", f.Index)
	}
	assert.Equal(t, ref, out.Frames[0])
}

func TestStabilizeRejectsColor(t *testing.T) {
	_, _, err := New(DefaultOptions()).Stabilize(frames.NewStack(2, 4, 4, 3), nil)
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestEstimateSimilarityRecoversTransform(t *testing.T) {
	want := geometry.Similarity(1.05, 3*math.Pi/180, 4.5, -2.25)
	rng := rand.New(rand.NewSource(1))

	var src, dst []geometry.Point2D
	for i := 0; i < 40; i++ {
		p := geometry.Point2D{X: rng.Float64() * 640, Y: rng.Float64() * 360}
		src = append(src, p)
		dst = append(dst, want.Apply(p))
	}
	// Gross outliers.
	for i := 0; i < 8; i++ {
		src = append(src, geometry.Point2D{X: rng.Float64() * 640, Y: rng.Float64() * 360})
		dst = append(dst, geometry.Point2D{X: rng.Float64() * 640, Y: rng.Float64() * 360})
	}

	got, inliers, err := EstimateSimilarity(src, dst, DefaultRANSAC())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(inliers), 40)
	assert.InDelta(t, want.Scale(), got.Scale(), 1e-9)
	assert.InDelta(t, want.Angle(), got.Angle(), 1e-9)
	assert.InDelta(t, want.TX, got.TX, 1e-6)
	assert.InDelta(t, want.TY, got.TY, 1e-6)
	// No shear: a partial affine has A == D and B == -C.
	assert.InDelta(t, got.A, got.D, 1e-12)
	assert.InDelta(t, got.B, -got.C, 1e-12)

	again, inliers2, err := EstimateSimilarity(src, dst, DefaultRANSAC())
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, inliers, inliers2)

	assert.InDelta(t, 0, MeanResidual(src[:40], dst[:40], got), 1e-6)
}

func TestEstimateSimilarityErrors(t *testing.T) {
	_, _, err := EstimateSimilarity([]geometry.Point2D{{X: 1, Y: 1}}, []geometry.Point2D{{X: 1, Y: 1}}, DefaultRANSAC())
	assert.ErrorIs(t, err, ErrEstimate)

	_, _, err = EstimateSimilarity(make([]geometry.Point2D, 3), make([]geometry.Point2D, 2), DefaultRANSAC())
	assert.ErrorIs(t, err, ErrEstimate)

	// All points coincide: every 2-point sample is degenerate.
	same := []geometry.Point2D{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}}
	_, _, err = EstimateSimilarity(same, same, RANSACOptions{Iterations: 20})
	assert.ErrorIs(t, err, ErrEstimate)
}

func TestSimilarityFrom2(t *testing.T) {
	want := geometry.Similarity(2, math.Pi/2, 10, 20)
	s0, s1 := geometry.Point2D{X: 1, Y: 2}, geometry.Point2D{X: 7, Y: -3}
	got, err := similarityFrom2(s0, s1, want.Apply(s0), want.Apply(s1))
	require.NoError(t, err)
	for _, v := range [][2]float64{{got.A, want.A}, {got.B, want.B}, {got.C, want.C}, {got.D, want.D}, {got.TX, want.TX}, {got.TY, want.TY}} {
		assert.InDelta(t, v[1], v[0], 1e-9)
	}
}

func TestWarpAffineTranslates(t *testing.T) {
	src := gocv.NewMatWithSize(8, 10, gocv.MatTypeCV32FC1)
	defer src.Close()
	src.SetTo(gocv.NewScalar(0, 0, 0, 0))
	src.SetFloatAt(3, 4, 1)

	dst := WarpAffine(src, geometry.AffineTransform{A: 1, D: 1, TX: 2, TY: 1}, 10, 8)
	defer dst.Close()
	require.Equal(t, 8, dst.Rows())
	require.Equal(t, 10, dst.Cols())
	assert.InDelta(t, 1.0, dst.GetFloatAt(4, 6), 1e-6)
	assert.InDelta(t, 0.0, dst.GetFloatAt(3, 4), 1e-6)
}
