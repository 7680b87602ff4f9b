package frames

import (
	"fmt"
	"math"
	"runtime"

	"evm-stress/internal/workers"

	"gocv.io/x/gocv"
)

// PlaneToMat copies a single-channel float plane into a new CV_32FC1 Mat.
// The caller owns the returned Mat.
func PlaneToMat(data []float32, height, width int) (gocv.Mat, error) {
	return floatsToMat(data, height, width, 1)
}

// FrameToMat copies frame t into a new 32-bit float Mat with the stack's channel
// count. The caller owns the returned Mat.
func (s *Stack) FrameToMat(t int) (gocv.Mat, error) {
	return floatsToMat(s.Frames[t], s.Height, s.Width, s.Channels)
}

// FrameToMat8 converts frame t into an 8-bit Mat. Values are clamped into
// 0-255 and truncated, matching a saturating cast. The caller owns the returned Mat.
func (s *Stack) FrameToMat8(t int) (gocv.Mat, error) {
	var mt gocv.MatType
	switch s.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	default:
		return gocv.NewMat(), fmt.Errorf("%w: unsupported channel count %d", ErrShape, s.Channels)
	}
	return BytesToMat(ToBytes(s.Frames[t]), s.Height, s.Width, mt)
}

// BytesToMat copies raw pixel bytes into a new Mat that does not reference data.
func BytesToMat(data []byte, height, width int, mt gocv.MatType) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(height, width, mt, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap %dx%d pixels: %w", width, height, err)
	}
	defer view.Close()
	out := view.Clone()
	runtime.KeepAlive(data)
	return out, nil
}

// ToBytes clamps values into 0-255 and truncates them to bytes.
func ToBytes(values []float32) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = clampByte(v)
	}
	return out
}

func clampByte(v float32) byte {
	if v != v || v <= 0 { // NaN or negative
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

// MatToFrame copies an 8-bit or 32-bit float Mat into a float32 frame buffer and
// reports its geometry.
func MatToFrame(m gocv.Mat) (data []float32, height, width, channels int, err error) {
	if m.Empty() {
		return nil, 0, 0, 0, fmt.Errorf("%w: empty Mat", ErrShape)
	}
	height, width, channels = m.Rows(), m.Cols(), m.Channels()

	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3:
		raw := m.ToBytes()
		data = make([]float32, len(raw))
		for i, b := range raw {
			data[i] = float32(b)
		}
	case gocv.MatTypeCV32FC1, gocv.MatTypeCV32FC3:
		src := m
		if !m.IsContinuous() {
			src = m.Clone()
			defer src.Close()
		}
		view, perr := src.DataPtrFloat32()
		if perr != nil {
			return nil, 0, 0, 0, fmt.Errorf("read float Mat: %w", perr)
		}
		data = append([]float32(nil), view...)
	default:
		return nil, 0, 0, 0, fmt.Errorf("%w: unsupported Mat type %v", ErrShape, m.Type())
	}
	return data, height, width, channels, nil
}

// ToMat copies the field into a new CV_32FC1 Mat.
func (f *Field) ToMat() (gocv.Mat, error) {
	data := make([]float32, len(f.Data))
	for i, v := range f.Data {
		data[i] = float32(v)
	}
	return floatsToMat(data, f.Height, f.Width, 1)
}

// FieldFromMat reads a single-channel Mat into a field.
func FieldFromMat(m gocv.Mat) (*Field, error) {
	data, h, w, c, err := MatToFrame(m)
	if err != nil {
		return nil, err
	}
	if c != 1 {
		return nil, fmt.Errorf("%w: field needs 1 channel, Mat has %d", ErrShape, c)
	}
	f := NewField(h, w)
	for i, v := range data {
		f.Data[i] = float64(v)
	}
	return f, nil
}

// Bytes8 converts a [0,1] field into 8-bit gray values (v*255, truncated).
func (f *Field) Bytes8() []byte {
	out := make([]byte, len(f.Data))
	for i, v := range f.Data {
		if math.IsNaN(v) {
			continue
		}
		out[i] = clampByte(float32(v * 255))
	}
	return out
}

func floatsToMat(data []float32, height, width, channels int) (gocv.Mat, error) {
	if len(data) != height*width*channels {
		return gocv.NewMat(), fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(data), height, width, channels)
	}
	var mt gocv.MatType
	switch channels {
	case 1:
		mt = gocv.MatTypeCV32FC1
	case 3:
		mt = gocv.MatTypeCV32FC3
	default:
		return gocv.NewMat(), fmt.Errorf("%w: unsupported channel count %d", ErrShape, channels)
	}

	mat := gocv.NewMatWithSize(height, width, mt)
	rowLen := width * channels

	// Parallelize by horizontal stripes
	workers.Stripes(height, 0, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for i, v := range row {
				mat.SetFloatAt(y, i, v)
			}
		}
	})
	return mat, nil
}

// StackFromMats builds a stack from equally sized Mats (8-bit or float).
func StackFromMats(mats []gocv.Mat) (*Stack, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrShape)
	}
	var s *Stack
	for i, m := range mats {
		data, h, w, c, err := MatToFrame(m)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if s == nil {
			s = &Stack{Width: w, Height: h, Channels: c, Frames: make([][]float32, 0, len(mats))}
		} else if w != s.Width || h != s.Height || c != s.Channels {
			return nil, fmt.Errorf("%w: frame %d is %dx%dx%d, want %dx%dx%d", ErrShape, i, w, h, c, s.Width, s.Height, s.Channels)
		}
		s.Frames = append(s.Frames, data)
	}
	return s, nil
}
