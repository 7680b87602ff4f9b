package video

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"evm-stress/internal/frames"
	"evm-stress/internal/logging"

	"gocv.io/x/gocv"
)

var (
	// ErrEncode is returned when no codec could write the video.
	ErrEncode = errors.New("video encode failed")
	// ErrChannelCount is returned for frames that are not 3-channel BGR.
	ErrChannelCount = errors.New("frames must have 3 channels (BGR)")
)

// DefaultOutputName is used when no destination is given.
const DefaultOutputName = "output_final.avi"

// Codec pairs a FourCC with the container extension it is written to.
type Codec struct {
	FourCC string
	Ext    string
}

// Codecs are tried in order until one succeeds.
var Codecs = []Codec{
	{FourCC: "MJPG", Ext: ".avi"},
	{FourCC: "mp4v", Ext: ".mp4"},
}

// Encode writes a BGR stack to dest, trying each codec in turn with the
// destination's extension replaced by the codec's own. Values are clamped into
// 0-255. It returns the path actually written.
func Encode(stack *frames.Stack, fps float64, dest string, log *slog.Logger) (string, error) {
	log = logging.OrDiscard(log)
	if err := stack.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if stack.Channels != 3 {
		return "", fmt.Errorf("%w: got %d", ErrChannelCount, stack.Channels)
	}
	if !(fps > 0) {
		return "", fmt.Errorf("%w: invalid frame rate %g", ErrEncode, fps)
	}

	base, err := outputBase(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var errs []error
	for _, c := range Codecs {
		path := base + c.Ext
		log.Debug("encoding video", "path", path, "codec", c.FourCC, "frames", stack.Len(),
			"width", stack.Width, "height", stack.Height, "fps", fps)
		if err := write(stack, fps, path, c.FourCC); err != nil {
			log.Warn("codec failed", "codec", c.FourCC, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.FourCC, err))
			os.Remove(path)
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %w", ErrEncode, errors.Join(errs...))
}

func outputBase(dest string) (string, error) {
	if dest == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dest = filepath.Join(wd, DefaultOutputName)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(abs, filepath.Ext(abs)), nil
}

func write(stack *frames.Stack, fps float64, path, fourcc string) error {
	vw, err := gocv.VideoWriterFile(path, fourcc, fps, stack.Width, stack.Height, true)
	if err != nil {
		return err
	}
	defer vw.Close()
	if !vw.IsOpened() {
		return fmt.Errorf("cannot open %s for writing", path)
	}

	for t := range stack.Frames {
		m, err := stack.FrameToMat8(t)
		if err != nil {
			return fmt.Errorf("frame %d: %w", t, err)
		}
		err = vw.Write(m)
		m.Close()
		if err != nil {
			return fmt.Errorf("frame %d: %w", t, err)
		}
	}
	return nil
}
