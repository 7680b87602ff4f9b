package image

import (
	stdimage "image"
	"image/color"
	"testing"

	"evm-stress/internal/config"
	"evm-stress/internal/frames"
	"evm-stress/internal/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		cm, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, cm.Name)
	}

	cm, err := Lookup(" Inferno ")
	require.NoError(t, err)
	assertColor(t, color.RGBA{R: 0, G: 0, B: 4, A: 255}, cm.At(0))
	assertColor(t, color.RGBA{R: 0xfc, G: 0xff, B: 0xa4, A: 255}, cm.At(1))
	assert.Equal(t, cm.At(0), cm.At(-3))
	assert.Equal(t, cm.Index(128), cm.At(0.5))

	_, err = Lookup("rainbow-unicorn")
	assert.ErrorIs(t, err, config.ErrConfig)
}

func assertColor(t *testing.T, want, got color.RGBA) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 1, "R")
	assert.InDelta(t, want.G, got.G, 1, "G")
	assert.InDelta(t, want.B, got.B, 1, "B")
	assert.Equal(t, uint8(255), got.A)
}

func TestPerceptualMapsAreDense(t *testing.T) {
	viridis, err := Lookup("viridis")
	require.NoError(t, err)
	// Entry 128 of the 256-entry matplotlib table.
	assertColor(t, color.RGBA{R: 31, G: 151, B: 139, A: 255}, viridis.Index(128))

	for _, name := range []string{"viridis", "inferno", "plasma", "magma", "turbo", "cividis"} {
		cm, err := Lookup(name)
		require.NoError(t, err, name)
		distinct := map[color.RGBA]bool{}
		for i := 0; i < 256; i++ {
			distinct[cm.Index(byte(i))] = true
		}
		assert.Greater(t, len(distinct), 200, name)
	}
}

func TestOpenCVColormap(t *testing.T) {
	jet, err := Lookup("jet")
	require.NoError(t, err)
	low, high := jet.At(0), jet.At(1)
	assert.Greater(t, low.B, low.R)
	assert.Greater(t, high.R, high.B)
}

func solidFrame(h, w int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestOverlayOpacity(t *testing.T) {
	frame := solidFrame(4, 6, 10, 20, 30)
	defer frame.Close()
	heat := frames.NewField(4, 6)
	cm, err := Lookup("inferno")
	require.NoError(t, err)

	zero, err := Overlay(frame, heat, cm, 0)
	require.NoError(t, err)
	defer zero.Close()
	assert.Equal(t, frame.ToBytes(), zero.ToBytes())

	full, err := Overlay(frame, heat, cm, 7) // clamped to 1
	require.NoError(t, err)
	defer full.Close()
	px := full.ToBytes()[:3]
	assert.Equal(t, []byte{4, 0, 0}, px)
}

func TestOverlayRejectsMismatch(t *testing.T) {
	frame := solidFrame(4, 6, 0, 0, 0)
	defer frame.Close()
	cm, err := Lookup("viridis")
	require.NoError(t, err)
	_, err = Overlay(frame, frames.NewField(5, 6), cm, 0.5)
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestColorize8(t *testing.T) {
	cm, err := Lookup("magma")
	require.NoError(t, err)
	f := &frames.Field{Width: 2, Height: 1, Data: []float64{0, 1}}

	img, err := cm.Colorize8(f)
	require.NoError(t, err)
	defer img.Close()
	px := img.ToBytes()
	last := cm.Index(255)
	assert.Equal(t, []byte{4, 0, 0, last.B, last.G, last.R}, px)
}

func TestPointMask(t *testing.T) {
	mask, err := PointMask([]tensor.Point{{X: 10, Y: 8}, {X: -1, Y: 99}}, 16, 20)
	require.NoError(t, err)
	peak := mask.At(8, 10)
	assert.Greater(t, peak, 0.0)
	assert.Less(t, peak, 1.0)
	assert.Equal(t, peak, mask.Max())
	assert.Equal(t, 0.0, mask.At(0, 0))

	sum := 0.0
	for _, v := range mask.Data {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestAmplifyAtPoints(t *testing.T) {
	mask := frames.NewField(1, 3)
	mask.Data[1] = 0.5
	img, err := AmplifyAtPoints([]float32{0.2, 0.2, 0.2}, []float32{0.1, 0.1, 0.1}, mask, 4)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, []byte{51, 51, 51, 102, 102, 102, 51, 51, 51}, img.ToBytes())

	_, err = AmplifyAtPoints([]float32{0.2}, []float32{0.1, 0.1, 0.1}, mask, 4)
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestDrawGlyphs(t *testing.T) {
	img := solidFrame(20, 20, 0, 0, 0)
	defer img.Close()
	DrawGlyphs(&img, []tensor.Glyph{{
		From:  stdimage.Point{X: 2, Y: 10},
		To:    stdimage.Point{X: 17, Y: 10},
		Color: color.RGBA{R: 255, A: 255},
	}})
	v := img.GetVecbAt(10, 8)
	assert.Equal(t, uint8(0), v[0])
	assert.Equal(t, uint8(255), v[2])
}
