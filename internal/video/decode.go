// Package video reads videos into frame stacks and writes frame stacks back out.
package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"evm-stress/internal/config"
	"evm-stress/internal/frames"
	"evm-stress/internal/logging"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// ErrDecode is returned when no frame can be read from the input.
var ErrDecode = errors.New("video decode failed")

// DecodeOptions bounds what is read.
type DecodeOptions struct {
	MaxFrames int // 0 = read every frame
	// Frames larger than MaxWidth x MaxHeight on either axis are resized to exactly
	// that size with area interpolation. Zero disables the cap.
	MaxWidth  int
	MaxHeight int
	// CheckFPS, when set, vets the sanitized frame rate before any frame is read.
	// Its error is returned unwrapped.
	CheckFPS  func(fps float64) error
	Log       *slog.Logger
}

// Clip is a decoded video.
type Clip struct {
	Stack        *frames.Stack // BGR, values 0-255
	FPS          float64
	SourceWidth  int
	SourceHeight int
	Resized      bool
	Warnings     []string
}

// Decode reads up to opts.MaxFrames frames from path. An implausible frame rate
// (<= 0 or > 1000) is replaced by the default and reported as a warning.
func Decode(path string, opts DecodeOptions) (*Clip, error) {
	log := logging.OrDiscard(opts.Log)

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDecode, path, err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return nil, fmt.Errorf("%w: cannot open %s", ErrDecode, path)
	}

	clip := &Clip{FPS: vc.Get(gocv.VideoCaptureFPS)}
	if clip.FPS <= 0 || clip.FPS > 1000 || clip.FPS != clip.FPS {
		msg := fmt.Sprintf("implausible frame rate %.3f, using %.0f fps", clip.FPS, config.DefaultFPS)
		clip.Warnings = append(clip.Warnings, msg)
		log.Warn("frame rate replaced", "reported", clip.FPS, "fps", config.DefaultFPS)
		clip.FPS = config.DefaultFPS
	}
	if opts.CheckFPS != nil {
		if err := opts.CheckFPS(clip.FPS); err != nil {
			return nil, err
		}
	}

	var mats []gocv.Mat
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	img := gocv.NewMat()
	defer img.Close()
	for opts.MaxFrames <= 0 || len(mats) < opts.MaxFrames {
		if ok := vc.Read(&img); !ok || img.Empty() {
			break
		}
		if len(mats) == 0 {
			clip.SourceWidth, clip.SourceHeight = img.Cols(), img.Rows()
		}
		// Oversized frames are stretched to the cap, so non-16:9 input loses its
		// aspect ratio.
		mats = append(mats, fitFrame(img, opts.MaxWidth, opts.MaxHeight))
	}
	if len(mats) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrDecode, path)
	}

	clip.Resized = mats[0].Cols() != clip.SourceWidth || mats[0].Rows() != clip.SourceHeight
	if clip.Resized {
		msg := fmt.Sprintf("frames resized from %dx%d to %dx%d", clip.SourceWidth, clip.SourceHeight, mats[0].Cols(), mats[0].Rows())
		clip.Warnings = append(clip.Warnings, msg)
		log.Info("frames resized", "from_w", clip.SourceWidth, "from_h", clip.SourceHeight,
			"to_w", mats[0].Cols(), "to_h", mats[0].Rows())
	}

	clip.Stack, err = frames.StackFromMats(mats)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	log.Info("video decoded", "path", path, "frames", clip.Stack.Len(),
		"width", clip.Stack.Width, "height", clip.Stack.Height, "fps", clip.FPS)
	return clip, nil
}

// fitFrame returns a copy of img, resized to maxW x maxH when it exceeds either.
func fitFrame(img gocv.Mat, maxW, maxH int) gocv.Mat {
	if maxW <= 0 || maxH <= 0 || (img.Cols() <= maxW && img.Rows() <= maxH) {
		return img.Clone()
	}
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: maxW, Y: maxH}, 0, 0, gocv.InterpolationArea)
	return dst
}

// DecodeReader spools r into a uniquely named temporary file and decodes it. ext
// is the container extension hint (".mp4", ".avi", ...); the spool file is removed
// before returning.
func DecodeReader(r io.Reader, ext string, opts DecodeOptions) (*Clip, error) {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(os.TempDir(), "evm-stress-"+uuid.NewString()+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	defer os.Remove(path)

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	return Decode(path, opts)
}
