package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"evm-stress/internal/frames"
	"evm-stress/internal/image"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"
)

func ramp(h, w int) *frames.Field {
	f := frames.NewField(h, w)
	for i := range f.Data {
		f.Data[i] = float64(i) / float64(len(f.Data)-1)
	}
	return f
}

func TestWriteCSV(t *testing.T) {
	f := &frames.Field{Width: 3, Height: 2, Data: []float64{0.5, 1, 2, 3, 0.25, 1e-9}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, f))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"0", "1", "2"},
		{"0.5", "1", "2"},
		{"3", "0.25", "1e-09"},
	}, rows)
}

func TestWriteTIFF(t *testing.T) {
	f := &frames.Field{Width: 4, Height: 1, Data: []float64{0, 0.5, 1, math.NaN()}}

	var buf bytes.Buffer
	require.NoError(t, WriteTIFF(&buf, f))

	img, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	r0, _, _, _ := img.At(0, 0).RGBA()
	r1, _, _, _ := img.At(1, 0).RGBA()
	r2, _, _, _ := img.At(2, 0).RGBA()
	r3, _, _, _ := img.At(3, 0).RGBA()
	assert.Equal(t, uint32(0), r0)
	assert.Equal(t, uint32(32768), r1)
	assert.Equal(t, uint32(65535), r2)
	assert.Equal(t, uint32(0), r3)
}

func TestWriteHeatmap(t *testing.T) {
	cm, err := image.Lookup("inferno")
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "out")
	w := &Writer{Dir: dir, Colormap: cm, Figure: true, TIFF: true}

	heat := ramp(12, 16).Scaled(3)
	arts, err := w.WriteHeatmap(heat, ramp(12, 16))
	require.NoError(t, err)
	assert.Len(t, arts, 4)
	for _, p := range arts {
		st, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, st.Size())
	}

	png := gocv.IMRead(arts["png"], gocv.IMReadColor)
	defer png.Close()
	assert.Equal(t, 16, png.Cols())
	assert.Equal(t, 12, png.Rows())

	_, err = w.WriteHeatmap(heat, ramp(4, 4))
	assert.ErrorIs(t, err, frames.ErrShape)
}

func TestWriteFigureConstant(t *testing.T) {
	cm, err := image.Lookup("viridis")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fig.png")
	require.NoError(t, WriteFigure(path, frames.NewField(5, 5), cm))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestColorScale(t *testing.T) {
	cm, err := image.Lookup("magma")
	require.NoError(t, err)
	s := &colorScale{cm: cm, min: 2, max: 4, alpha: 1}

	c, err := s.At(2)
	require.NoError(t, err)
	assert.Equal(t, cm.At(0), c)
	_, err = s.At(5)
	assert.Error(t, err)
	assert.Len(t, s.Palette(10).Colors(), 10)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), SummaryName)
	require.NoError(t, WriteJSON(path, map[string]int{"frames": 3}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 3, got["frames"])
}
