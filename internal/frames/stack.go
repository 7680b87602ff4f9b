// Package frames holds the in-memory data model shared by every stage: frame stacks,
// scalar fields, and conversions to and from gocv matrices.
package frames

import (
	"errors"
	"fmt"
)

// ErrShape is returned when frames or fields disagree on their dimensions.
var ErrShape = errors.New("shape mismatch")

// Stack is an ordered sequence of equally sized frames. Each frame is stored
// row-major with interleaved channels (BGR order for color stacks).
type Stack struct {
	Width    int
	Height   int
	Channels int
	Frames   [][]float32
}

// NewStack allocates a zeroed stack of t frames.
func NewStack(t, height, width, channels int) *Stack {
	s := &Stack{Width: width, Height: height, Channels: channels, Frames: make([][]float32, t)}
	for i := range s.Frames {
		s.Frames[i] = make([]float32, s.FrameLen())
	}
	return s
}

// Len returns the number of frames.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Frames)
}

// FrameLen returns the number of values in one frame.
func (s *Stack) FrameLen() int {
	return s.Width * s.Height * s.Channels
}

// At returns the value at frame t, row y, column x, channel c.
func (s *Stack) At(t, y, x, c int) float32 {
	return s.Frames[t][(y*s.Width+x)*s.Channels+c]
}

// Set stores v at frame t, row y, column x, channel c.
func (s *Stack) Set(t, y, x, c int, v float32) {
	s.Frames[t][(y*s.Width+x)*s.Channels+c] = v
}

// Validate checks that the stack is non-empty and that every frame has the same shape.
func (s *Stack) Validate() error {
	if s == nil || len(s.Frames) == 0 {
		return fmt.Errorf("%w: empty frame stack", ErrShape)
	}
	if s.Width <= 0 || s.Height <= 0 || s.Channels <= 0 {
		return fmt.Errorf("%w: invalid frame size %dx%dx%d", ErrShape, s.Width, s.Height, s.Channels)
	}
	want := s.FrameLen()
	for i, f := range s.Frames {
		if len(f) != want {
			return fmt.Errorf("%w: frame %d has %d values, want %d", ErrShape, i, len(f), want)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Stack) Clone() *Stack {
	out := &Stack{Width: s.Width, Height: s.Height, Channels: s.Channels, Frames: make([][]float32, len(s.Frames))}
	for i, f := range s.Frames {
		out.Frames[i] = append([]float32(nil), f...)
	}
	return out
}

// SameShape reports whether two stacks have identical dimensions and length.
func (s *Stack) SameShape(o *Stack) bool {
	return s.Width == o.Width && s.Height == o.Height && s.Channels == o.Channels && len(s.Frames) == len(o.Frames)
}

// Gray converts a BGR stack to single-channel luminance using the ITU-R BT.601
// weights (the same ones OpenCV uses for BGR2GRAY), multiplied by scale.
// A single-channel stack is copied and scaled.
func (s *Stack) Gray(scale float32) (*Stack, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := NewStack(len(s.Frames), s.Height, s.Width, 1)
	n := s.Width * s.Height
	switch s.Channels {
	case 1:
		for t, f := range s.Frames {
			dst := out.Frames[t]
			for i, v := range f {
				dst[i] = v * scale
			}
		}
	case 3:
		for t, f := range s.Frames {
			dst := out.Frames[t]
			for i := 0; i < n; i++ {
				b, g, r := f[i*3], f[i*3+1], f[i*3+2]
				dst[i] = (0.114*b + 0.587*g + 0.299*r) * scale
			}
		}
	default:
		return nil, fmt.Errorf("%w: cannot convert %d channels to gray", ErrShape, s.Channels)
	}
	return out, nil
}

// Series copies the time series of one pixel/channel into dst (allocated if short).
func (s *Stack) Series(y, x, c int, dst []float64) []float64 {
	if cap(dst) < len(s.Frames) {
		dst = make([]float64, len(s.Frames))
	}
	dst = dst[:len(s.Frames)]
	idx := (y*s.Width+x)*s.Channels + c
	for t, f := range s.Frames {
		dst[t] = float64(f[idx])
	}
	return dst
}

// SetSeries writes a time series back into one pixel/channel.
func (s *Stack) SetSeries(y, x, c int, src []float64) {
	idx := (y*s.Width+x)*s.Channels + c
	for t, f := range s.Frames {
		f[idx] = float32(src[t])
	}
}

// Scaled returns a copy with every value multiplied by k.
func (s *Stack) Scaled(k float32) *Stack {
	out := s.Clone()
	for _, f := range out.Frames {
		for i := range f {
			f[i] *= k
		}
	}
	return out
}
