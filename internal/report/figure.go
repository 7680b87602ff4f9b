package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"evm-stress/internal/frames"
	"evm-stress/internal/image"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	figureWidth  = 8 * vg.Inch
	figureHeight = 6 * vg.Inch
	barWidth     = 1.2 * vg.Inch
)

// WriteFigure renders the raw heatmap with a labelled vertical colorbar and saves
// it as PNG.
func WriteFigure(path string, heat *frames.Field, cm *image.Colormap) error {
	lo, hi := finiteRange(heat)
	scale := &colorScale{cm: cm, min: lo, max: hi, alpha: 1}

	hm := plotter.NewHeatMap(fieldGrid{heat}, scale.Palette(256))
	hm.Min, hm.Max = lo, hi
	hm.NaN = color.Black

	p := plot.New()
	p.Title.Text = "RMS stress map"
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	p.Add(hm)

	bar := plot.New()
	bar.Y.Label.Text = "RMS value"
	bar.HideX()
	bar.Add(&plotter.ColorBar{ColorMap: scale, Vertical: true, Colors: 256})

	c := vgimg.New(figureWidth, figureHeight)
	dc := draw.New(c)
	p.Draw(draw.Crop(dc, 0, -barWidth, 0, 0))
	bar.Draw(draw.Crop(dc, figureWidth-barWidth, 0, 0, 0))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}
	return nil
}

// finiteRange returns the finite min and max of f, widened when they coincide.
func finiteRange(f *frames.Field) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range f.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 1
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

// fieldGrid exposes a field as a plotter.GridXYZ with column and row indices as
// coordinates.
type fieldGrid struct{ f *frames.Field }

func (g fieldGrid) Dims() (c, r int)   { return g.f.Width, g.f.Height }
func (g fieldGrid) Z(c, r int) float64 { return g.f.At(r, c) }
func (g fieldGrid) X(c int) float64    { return float64(c) }
func (g fieldGrid) Y(r int) float64    { return float64(r) }

// colorScale adapts a Colormap to palette.ColorMap.
type colorScale struct {
	cm       *image.Colormap
	min, max float64
	alpha    float64
}

func (s *colorScale) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < s.min:
		return nil, palette.ErrUnderflow
	case v > s.max:
		return nil, palette.ErrOverflow
	}
	t := 0.0
	if s.max > s.min {
		t = (v - s.min) / (s.max - s.min)
	}
	c := s.cm.At(t)
	c.A = uint8(math.Round(255 * s.alpha))
	return c, nil
}

func (s *colorScale) Max() float64       { return s.max }
func (s *colorScale) Min() float64       { return s.min }
func (s *colorScale) SetMax(v float64)   { s.max = v }
func (s *colorScale) SetMin(v float64)   { s.min = v }
func (s *colorScale) Alpha() float64     { return s.alpha }
func (s *colorScale) SetAlpha(a float64) { s.alpha = a }

// Palette samples n evenly spaced colors.
func (s *colorScale) Palette(n int) palette.Palette {
	cols := make(colors, n)
	for i := range cols {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		c, err := s.At(s.min + t*(s.max-s.min))
		if err != nil {
			c = s.cm.At(t)
		}
		cols[i] = c
	}
	return cols
}

type colors []color.Color

func (c colors) Colors() []color.Color { return c }
