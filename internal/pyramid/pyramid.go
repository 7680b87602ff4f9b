// Package pyramid implements the Laplacian-pyramid path of the magnifier: frames
// are split into spatial frequency bands, each band is filtered and amplified over
// time, and the frames are rebuilt from the amplified bands.
package pyramid

import (
	"fmt"
	"image"

	"evm-stress/internal/frames"

	"gocv.io/x/gocv"
)

// DefaultLevels is the number of detail levels built per frame.
const DefaultLevels = 4

// Plane is one single-channel float image.
type Plane struct {
	Width, Height int
	Data          []float32
}

// Pyramid holds the detail levels (finest first) and the coarse residual of one frame.
type Pyramid struct {
	Details  []Plane
	Residual Plane
}

// EffectiveLevels caps levels so the coarsest level keeps at least one pixel on
// each axis.
func EffectiveLevels(height, width, levels int) int {
	n := 0
	for n < levels && height > 1 && width > 1 {
		height = (height + 1) / 2
		width = (width + 1) / 2
		n++
	}
	return n
}

// Build decomposes a single-channel frame: each level is the frame minus the
// upsampled version of its own downsampled copy.
func Build(p Plane, levels int) (*Pyramid, error) {
	cur, err := frames.PlaneToMat(p.Data, p.Height, p.Width)
	if err != nil {
		return nil, err
	}
	defer func() { cur.Close() }()

	levels = EffectiveLevels(p.Height, p.Width, levels)
	pyr := &Pyramid{Details: make([]Plane, 0, levels)}
	for l := 0; l < levels; l++ {
		down := gocv.NewMat()
		gocv.PyrDown(cur, &down, image.Point{}, gocv.BorderDefault)

		up := gocv.NewMat()
		gocv.PyrUp(down, &up, image.Point{X: cur.Cols(), Y: cur.Rows()}, gocv.BorderDefault)

		lap := gocv.NewMat()
		gocv.Subtract(cur, up, &lap)
		up.Close()

		detail, err := matPlane(lap)
		lap.Close()
		if err != nil {
			down.Close()
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		pyr.Details = append(pyr.Details, detail)

		cur.Close()
		cur = down
	}

	residual, err := matPlane(cur)
	if err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}
	pyr.Residual = residual
	return pyr, nil
}

// Reconstruct rebuilds the frame by upsampling the residual and adding the detail
// levels from coarsest to finest, then clips the result to [0,1].
func Reconstruct(pyr *Pyramid) (Plane, error) {
	cur, err := frames.PlaneToMat(pyr.Residual.Data, pyr.Residual.Height, pyr.Residual.Width)
	if err != nil {
		return Plane{}, err
	}
	defer func() { cur.Close() }()

	for l := len(pyr.Details) - 1; l >= 0; l-- {
		d := pyr.Details[l]
		up := gocv.NewMat()
		gocv.PyrUp(cur, &up, image.Point{X: d.Width, Y: d.Height}, gocv.BorderDefault)

		detail, err := frames.PlaneToMat(d.Data, d.Height, d.Width)
		if err != nil {
			up.Close()
			return Plane{}, fmt.Errorf("level %d: %w", l, err)
		}
		sum := gocv.NewMat()
		gocv.Add(up, detail, &sum)
		up.Close()
		detail.Close()

		cur.Close()
		cur = sum
	}

	out, err := matPlane(cur)
	if err != nil {
		return Plane{}, err
	}
	for i, v := range out.Data {
		out.Data[i] = clamp01(v)
	}
	return out, nil
}

func matPlane(m gocv.Mat) (Plane, error) {
	data, h, w, c, err := frames.MatToFrame(m)
	if err != nil {
		return Plane{}, err
	}
	if c != 1 {
		return Plane{}, fmt.Errorf("%w: pyramid planes are single-channel, got %d", frames.ErrShape, c)
	}
	return Plane{Width: w, Height: h, Data: data}, nil
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
