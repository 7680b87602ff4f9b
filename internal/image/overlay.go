package image

import (
	"fmt"
	"image"

	"evm-stress/internal/frames"
	"evm-stress/internal/tensor"

	"gocv.io/x/gocv"
)

// GlyphThickness is the stroke width of tensor arrows, in pixels.
const GlyphThickness = 2

// Overlay blends a colorized [0,1] field over an 8-bit BGR frame:
// out = frame*(1-opacity) + heat*opacity, with opacity clamped to [0,1].
// The caller owns the returned Mat.
func Overlay(frame gocv.Mat, heat *frames.Field, cm *Colormap, opacity float64) (gocv.Mat, error) {
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), fmt.Errorf("%w: overlay needs an 8-bit BGR frame, got %v", frames.ErrShape, frame.Type())
	}
	if frame.Rows() != heat.Height || frame.Cols() != heat.Width {
		return gocv.NewMat(), fmt.Errorf("%w: frame is %dx%d, heat map %dx%d",
			frames.ErrShape, frame.Cols(), frame.Rows(), heat.Width, heat.Height)
	}
	opacity = clamp(opacity, 0, 1)

	colored, err := frames.BytesToMat(cm.BGR(heat), heat.Height, heat.Width, gocv.MatTypeCV8UC3)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer colored.Close()

	dst := gocv.NewMat()
	gocv.AddWeighted(frame, 1-opacity, colored, opacity, 0, &dst)
	return dst, nil
}

// DrawGlyphs draws each glyph as an arrowed line onto img.
func DrawGlyphs(img *gocv.Mat, glyphs []tensor.Glyph) {
	for _, g := range glyphs {
		gocv.ArrowedLine(img, g.From, g.To, g.Color, GlyphThickness)
	}
}

// PointMask marks the given points with 1 and smooths the mask with a 7x7
// Gaussian so amplification fades out around each point.
func PointMask(points []tensor.Point, height, width int) (*frames.Field, error) {
	mask := frames.NewField(height, width)
	for _, p := range points {
		if p.X >= 0 && p.X < width && p.Y >= 0 && p.Y < height {
			mask.Set(p.Y, p.X, 1)
		}
	}

	src, err := mask.ToMat()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Point{X: 7, Y: 7}, 0, 0, gocv.BorderDefault)
	return frames.FieldFromMat(dst)
}

// AmplifyAtPoints adds alpha times the filtered signal to a [0,1] gray frame only
// where mask is non-zero, clips to [0,1] and returns the frame as 8-bit BGR.
// The caller owns the returned Mat.
func AmplifyAtPoints(gray, filtered []float32, mask *frames.Field, alpha float64) (gocv.Mat, error) {
	if len(gray) != len(mask.Data) || len(filtered) != len(mask.Data) {
		return gocv.NewMat(), fmt.Errorf("%w: gray %d, filtered %d, mask %d values",
			frames.ErrShape, len(gray), len(filtered), len(mask.Data))
	}
	levels := make([]byte, len(gray))
	for i, g := range gray {
		v := float64(g) + float64(filtered[i])*mask.Data[i]*alpha
		levels[i] = byte(clamp(v, 0, 1) * 255)
	}
	return GrayToBGR(levels, mask.Height, mask.Width)
}

// GrayToBGR expands 8-bit gray levels to a 3-channel BGR Mat.
// The caller owns the returned Mat.
func GrayToBGR(levels []byte, height, width int) (gocv.Mat, error) {
	gray, err := frames.BytesToMat(levels, height, width, gocv.MatTypeCV8UC1)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(gray, &dst, gocv.ColorGrayToBGR)
	return dst, nil
}

func clamp(x, lo, hi float64) float64 {
	if x != x || x < lo { // NaN or below
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
