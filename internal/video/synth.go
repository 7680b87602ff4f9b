package video

import (
	"math"
	"math/rand"

	"evm-stress/internal/frames"
)

// SynthOptions describes a synthetic test clip: a static random texture with a
// centered square whose brightness oscillates sinusoidally.
type SynthOptions struct {
	Frames    int
	Width     int
	Height    int
	FPS       float64
	Freq      float64 // Hz
	Amplitude float64 // gray levels, peak
	Square    int     // side in pixels
	Seed      int64
}

// DefaultSynth is a 2 Hz oscillation at 30 fps.
func DefaultSynth() SynthOptions {
	return SynthOptions{
		Frames:    60,
		Width:     160,
		Height:    120,
		FPS:       30,
		Freq:      2,
		Amplitude: 20,
		Square:    32,
		Seed:      42,
	}
}

// Synthetic renders the clip as a BGR stack with values in 0-255.
func Synthetic(o SynthOptions) *frames.Stack {
	rng := rand.New(rand.NewSource(o.Seed))
	texture := make([]float64, o.Width*o.Height)
	for i := range texture {
		texture[i] = 40 + float64(rng.Intn(176))
	}

	x0, y0 := (o.Width-o.Square)/2, (o.Height-o.Square)/2
	out := frames.NewStack(o.Frames, o.Height, o.Width, 3)
	for t, f := range out.Frames {
		delta := o.Amplitude * math.Sin(2*math.Pi*o.Freq*float64(t)/o.FPS)
		for y := 0; y < o.Height; y++ {
			for x := 0; x < o.Width; x++ {
				v := texture[y*o.Width+x]
				if x >= x0 && x < x0+o.Square && y >= y0 && y < y0+o.Square {
					v += delta
				}
				v = math.Max(0, math.Min(255, v))
				i := (y*o.Width + x) * 3
				f[i], f[i+1], f[i+2] = float32(v), float32(v), float32(v)
			}
		}
	}
	return out
}
