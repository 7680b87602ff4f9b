package alignment

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"evm-stress/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// ErrEstimate is returned when no transform can be fitted to the correspondences.
var ErrEstimate = errors.New("transform estimation failed")

// RANSACOptions controls the robust similarity fit.
type RANSACOptions struct {
	Iterations int     // random 2-point samples to try
	Threshold  float64 // reprojection error (pixels) below which a pair is an inlier
	Seed       int64
}

// DefaultRANSAC matches the usual partial-affine settings: 2000 iterations and a
// 3 pixel reprojection threshold.
func DefaultRANSAC() RANSACOptions {
	return RANSACOptions{Iterations: 2000, Threshold: 3.0, Seed: 42}
}

// EstimateSimilarity fits a partial affine transform (rotation, uniform scale and
// translation, no shear) mapping src onto dst with RANSAC, then refits on the
// inliers by least squares. It returns the transform and the inlier indices.
// The same inputs and seed always give the same result.
func EstimateSimilarity(src, dst []geometry.Point2D, opts RANSACOptions) (geometry.AffineTransform, []int, error) {
	if len(src) != len(dst) {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: point count mismatch: %d vs %d", ErrEstimate, len(src), len(dst))
	}
	if len(src) < 2 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrEstimate, len(src))
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultRANSAC().Iterations
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultRANSAC().Threshold
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	n := len(src)
	var bestInliers []int

	for iter := 0; iter < opts.Iterations; iter++ {
		i0 := rng.Intn(n)
		i1 := rng.Intn(n - 1)
		if i1 >= i0 {
			i1++
		}

		transform, err := similarityFrom2(src[i0], src[i1], dst[i0], dst[i1])
		if err != nil {
			continue
		}

		inliers := inliersOf(transform, src, dst, opts.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			if len(bestInliers) == n {
				break
			}
		}
	}

	if len(bestInliers) < 2 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: RANSAC found %d inliers", ErrEstimate, len(bestInliers))
	}

	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}

	final, err := similarityLeastSquares(inlierSrc, inlierDst)
	if err != nil {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: %v", ErrEstimate, err)
	}
	if !final.IsFinite() {
		return geometry.AffineTransform{}, nil, fmt.Errorf("%w: non-finite transform", ErrEstimate)
	}
	return final, bestInliers, nil
}

func inliersOf(t geometry.AffineTransform, src, dst []geometry.Point2D, threshold float64) []int {
	var inliers []int
	for i := range src {
		if t.Apply(src[i]).Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// similarityFrom2 computes the similarity that maps s0->d0 and s1->d1 exactly.
func similarityFrom2(s0, s1, d0, d1 geometry.Point2D) (geometry.AffineTransform, error) {
	sx, sy := s1.X-s0.X, s1.Y-s0.Y
	dx, dy := d1.X-d0.X, d1.Y-d0.Y

	srcLen := math.Hypot(sx, sy)
	dstLen := math.Hypot(dx, dy)
	if srcLen < 0.001 || dstLen < 0.001 {
		return geometry.AffineTransform{}, fmt.Errorf("degenerate points")
	}

	scale := dstLen / srcLen
	theta := math.Atan2(dy, dx) - math.Atan2(sy, sx)
	t := geometry.Similarity(scale, theta, 0, 0)

	// d0 = R*s0 + t  =>  t = d0 - R*s0
	r := t.Apply(s0)
	t.TX = d0.X - r.X
	t.TY = d0.Y - r.Y
	return t, nil
}

// similarityLeastSquares solves x' = a*x - b*y + tx, y' = b*x + a*y + ty over all
// pairs with a QR decomposition.
func similarityLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 2 points")
	}

	A := mat.NewDense(n*2, 4, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, -y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 0, y)
		A.Set(i*2+1, 1, x)
		A.Set(i*2+1, 3, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	a, b := params.AtVec(0), params.AtVec(1)
	return geometry.AffineTransform{
		A: a, B: -b, TX: params.AtVec(2),
		C: b, D: a, TY: params.AtVec(3),
	}, nil
}

// MeanResidual returns the mean distance between transformed src and dst points.
func MeanResidual(src, dst []geometry.Point2D, transform geometry.AffineTransform) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}

	var total float64
	for i := range src {
		total += transform.Apply(src[i]).Distance(dst[i])
	}
	return total / float64(len(src))
}

// WarpAffine applies an affine transform to an image, sampling bilinearly and
// filling uncovered pixels with zero. The caller owns the returned Mat.
func WarpAffine(src gocv.Mat, transform geometry.AffineTransform, width, height int) gocv.Mat {
	transformMat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	m := transform.ToMatrix()
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			transformMat.SetDoubleAt(r, c, m[r][c])
		}
	}

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, transformMat, image.Point{X: width, Y: height},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst
}
