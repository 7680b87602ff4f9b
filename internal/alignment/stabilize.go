// Package alignment registers every frame of a grayscale stack onto its first frame
// to cancel camera shake before temporal filtering.
package alignment

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"evm-stress/internal/frames"
	"evm-stress/internal/logging"
	"evm-stress/internal/progress"
	"evm-stress/pkg/geometry"

	"gocv.io/x/gocv"
)

// Per-frame failure reasons. A failing frame is passed through unmodified.
var (
	ErrFewKeypoints = errors.New("too few keypoints")
	ErrFewMatches   = errors.New("too few matches")
	ErrWarp         = errors.New("warp failed")
)

// Options configures stabilization.
type Options struct {
	Enabled      bool
	MinKeypoints int // keypoints required in the reference and in each frame
	MinMatches   int // cross-checked matches required before fitting
	MaxMatches   int // best matches (by descriptor distance) used for the fit
	RANSAC       RANSACOptions
	Log          *slog.Logger
}

// DefaultOptions returns the standard stabilizer settings. ORB detects up to 500
// features per frame.
func DefaultOptions() Options {
	return Options{
		Enabled:      true,
		MinKeypoints: 10,
		MinMatches:   10,
		MaxMatches:   50,
		RANSAC:       DefaultRANSAC(),
	}
}

// FrameResult records what happened to one frame.
type FrameResult struct {
	Index     int
	Keypoints int
	Matches   int
	Inliers   int
	Transform geometry.AffineTransform
	Residual  float64 // mean inlier reprojection error, pixels
	Err       error   // nil when the frame was warped
}

// Report summarizes a stabilization run.
type Report struct {
	Enabled      bool
	Skipped      bool   // reference frame unusable, stack returned unchanged
	SkipReason   string // set when Skipped
	RefKeypoints int
	Frames       []FrameResult // one per frame after the reference
	Failures     int
}

// Stabilizer aligns frame stacks.
type Stabilizer struct {
	opts Options
	log  *slog.Logger
}

// New returns a stabilizer. Zero thresholds fall back to the defaults.
func New(opts Options) *Stabilizer {
	def := DefaultOptions()
	if opts.MinKeypoints <= 0 {
		opts.MinKeypoints = def.MinKeypoints
	}
	if opts.MinMatches <= 0 {
		opts.MinMatches = def.MinMatches
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = def.MaxMatches
	}
	return &Stabilizer{opts: opts, log: logging.OrDiscard(opts.Log)}
}

// Stabilize warps every frame of a single-channel [0,1] stack onto frame 0 and
// returns a new stack of the same shape. When disabled, or when the reference frame
// has too few features, the result is an unmodified copy.
func (s *Stabilizer) Stabilize(stack *frames.Stack, report progress.Func) (*frames.Stack, *Report, error) {
	if err := stack.Validate(); err != nil {
		return nil, nil, fmt.Errorf("stabilize input: %w", err)
	}
	if stack.Channels != 1 {
		return nil, nil, fmt.Errorf("%w: stabilization needs a grayscale stack, got %d channels", frames.ErrShape, stack.Channels)
	}

	out := stack.Clone()
	rep := &Report{Enabled: s.opts.Enabled}
	if !s.opts.Enabled {
		report.Report(1)
		return out, rep, nil
	}

	det := newDetector()
	defer det.Close()

	ref, err := gray8(stack, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("reference frame: %w", err)
	}
	refKP, refDesc := det.orb.DetectAndCompute(ref, det.mask)
	ref.Close()
	defer refDesc.Close()

	rep.RefKeypoints = len(refKP)
	if refDesc.Empty() || len(refKP) < s.opts.MinKeypoints {
		rep.Skipped = true
		rep.SkipReason = fmt.Sprintf("reference frame has %d keypoints, need %d", len(refKP), s.opts.MinKeypoints)
		s.log.Warn("stabilization skipped", "reason", rep.SkipReason)
		report.Report(1)
		return out, rep, nil
	}

	n := stack.Len()
	for i := 1; i < n; i++ {
		res := s.alignFrame(stack, i, det, refKP, refDesc, out)
		if res.Err != nil {
			rep.Failures++
			s.log.Debug("frame passed through", "frame", i, "keypoints", res.Keypoints,
				"matches", res.Matches, "err", res.Err)
		}
		rep.Frames = append(rep.Frames, res)
		report.Report(float64(i+1) / float64(n))
	}

	s.log.Info("stabilization done", "frames", n, "ref_keypoints", rep.RefKeypoints, "failures", rep.Failures)
	return out, rep, nil
}

// alignFrame writes the warped frame i into out. Any failure, including a panic
// inside OpenCV, leaves out's copy of the original frame untouched.
func (s *Stabilizer) alignFrame(stack *frames.Stack, i int, det *detector,
	refKP []gocv.KeyPoint, refDesc gocv.Mat, out *frames.Stack) (res FrameResult) {
	res.Index = i
	res.Transform = geometry.Identity()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrWarp, r)
			copy(out.Frames[i], stack.Frames[i])
		}
	}()

	cur, err := gray8(stack, i)
	if err != nil {
		res.Err = err
		return res
	}
	curKP, curDesc := det.orb.DetectAndCompute(cur, det.mask)
	cur.Close()
	defer curDesc.Close()

	res.Keypoints = len(curKP)
	if curDesc.Empty() || len(curKP) < s.opts.MinKeypoints {
		res.Err = fmt.Errorf("%w: %d", ErrFewKeypoints, len(curKP))
		return res
	}

	matches := bestMatches(det.matcher.KnnMatch(refDesc, curDesc, 1))
	res.Matches = len(matches)
	if len(matches) < s.opts.MinMatches {
		res.Err = fmt.Errorf("%w: %d", ErrFewMatches, len(matches))
		return res
	}
	if len(matches) > s.opts.MaxMatches {
		matches = matches[:s.opts.MaxMatches]
	}

	// Fit current -> reference so the warp lands on the reference grid.
	src := make([]geometry.Point2D, len(matches))
	dst := make([]geometry.Point2D, len(matches))
	for j, m := range matches {
		src[j] = geometry.Point2D{X: curKP[m.TrainIdx].X, Y: curKP[m.TrainIdx].Y}
		dst[j] = geometry.Point2D{X: refKP[m.QueryIdx].X, Y: refKP[m.QueryIdx].Y}
	}
	transform, inliers, err := EstimateSimilarity(src, dst, s.opts.RANSAC)
	if err != nil {
		res.Err = err
		return res
	}
	res.Transform = transform
	res.Inliers = len(inliers)

	inSrc := make([]geometry.Point2D, len(inliers))
	inDst := make([]geometry.Point2D, len(inliers))
	for j, idx := range inliers {
		inSrc[j], inDst[j] = src[idx], dst[idx]
	}
	res.Residual = MeanResidual(inSrc, inDst, transform)

	plane, err := frames.PlaneToMat(stack.Frames[i], stack.Height, stack.Width)
	if err != nil {
		res.Err = err
		return res
	}
	defer plane.Close()
	warped := WarpAffine(plane, transform, stack.Width, stack.Height)
	defer warped.Close()

	data, h, w, c, err := frames.MatToFrame(warped)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrWarp, err)
		return res
	}
	if h != stack.Height || w != stack.Width || c != 1 {
		res.Err = fmt.Errorf("%w: warped frame is %dx%dx%d", ErrWarp, w, h, c)
		return res
	}
	copy(out.Frames[i], data)
	return res
}

// detector bundles the OpenCV objects reused across frames.
type detector struct {
	orb     gocv.ORB
	matcher gocv.BFMatcher
	mask    gocv.Mat
}

// newDetector builds an ORB detector (500 features) and a cross-checked Hamming
// brute-force matcher.
func newDetector() *detector {
	return &detector{
		orb:     gocv.NewORB(),
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, true),
		mask:    gocv.NewMat(),
	}
}

func (d *detector) Close() {
	d.orb.Close()
	d.matcher.Close()
	d.mask.Close()
}

// bestMatches flattens k=1 matches and sorts them by descriptor distance.
func bestMatches(knn [][]gocv.DMatch) []gocv.DMatch {
	var out []gocv.DMatch
	for _, m := range knn {
		if len(m) > 0 {
			out = append(out, m[0])
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	return out
}

// gray8 converts frame t of a [0,1] grayscale stack to an 8-bit Mat for feature
// detection.
func gray8(stack *frames.Stack, t int) (gocv.Mat, error) {
	src := stack.Frames[t]
	scaled := make([]float32, len(src))
	for i, v := range src {
		scaled[i] = v * 255
	}
	return frames.BytesToMat(frames.ToBytes(scaled), stack.Height, stack.Width, gocv.MatTypeCV8UC1)
}
