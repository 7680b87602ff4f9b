package pyramid

import (
	"fmt"
	"math"

	"evm-stress/internal/energy"
	"evm-stress/internal/frames"
)

// DefaultMaskPercentile is the displacement threshold on normalized |recon|.
const DefaultMaskPercentile = 90

// DisplacementMask normalizes |recon| by its maximum and marks the pixels at or
// above the given percentile.
func DisplacementMask(recon []float32, percentile float64) []bool {
	disp := make([]float64, len(recon))
	maxVal := 0.0
	for i, v := range recon {
		disp[i] = math.Abs(float64(v))
		maxVal = math.Max(maxVal, disp[i])
	}
	for i := range disp {
		disp[i] /= maxVal + 1e-8
	}
	threshold := energy.Percentile(disp, percentile)

	mask := make([]bool, len(disp))
	for i, v := range disp {
		mask[i] = v >= threshold
	}
	return mask
}

// Highlight renders a [0,1] gray frame as 8-bit BGR values, painting masked pixels
// pure red (B=0, G=0, R=255) and leaving the rest at their gray luminance.
func Highlight(gray []float32, mask []bool) []float32 {
	out := make([]float32, len(gray)*3)
	for i, v := range gray {
		if mask[i] {
			out[i*3+2] = 255
			continue
		}
		lum := float32(math.Floor(float64(clamp01(v) * 255)))
		out[i*3], out[i*3+1], out[i*3+2] = lum, lum, lum
	}
	return out
}

// Displacement builds the highlighted BGR video: for each frame the mask comes
// from the reconstructed frame and the luminance from the gray frame. Both stacks
// must be single-channel with the same shape.
func Displacement(recon, gray *frames.Stack, percentile float64) (*frames.Stack, error) {
	if gray.Channels != 1 || !recon.SameShape(gray) {
		return nil, fmt.Errorf("%w: displacement needs matching gray stacks, got %dx%dx%d (%d) and %dx%dx%d (%d)",
			frames.ErrShape, recon.Width, recon.Height, recon.Channels, recon.Len(),
			gray.Width, gray.Height, gray.Channels, gray.Len())
	}
	out := frames.NewStack(gray.Len(), gray.Height, gray.Width, 3)
	for t := range gray.Frames {
		out.Frames[t] = Highlight(gray.Frames[t], DisplacementMask(recon.Frames[t], percentile))
	}
	return out, nil
}
