package tensor

import (
	"math"
	"math/rand"
	"sort"

	"evm-stress/internal/energy"
)

// Selection bounds how many significant points are kept.
type Selection struct {
	Percentile float64 // threshold on |eigenvalue|, 0-100
	Max        int     // cap on the number of points
	Seed       int64   // subsampling seed
}

// DefaultSelection keeps at most 30 points from the top percent.
func DefaultSelection() Selection {
	return Selection{Percentile: 99, Max: 30, Seed: 42}
}

// Point is a pixel whose principal eigenvalue is significant.
type Point struct {
	X, Y      int
	Magnitude float64 // |eigenvalue|
	Vector    [2]float64
}

// PointSet is the bounded set of significant pixels. Critical indexes the point
// with the largest magnitude, or is -1 when the set is empty.
type PointSet struct {
	Points    []Point
	Critical  int
	Threshold float64
	// Candidates is how many pixels passed the threshold before subsampling.
	Candidates int
}

// CriticalPoint returns the critical point and whether there is one.
func (s PointSet) CriticalPoint() (Point, bool) {
	if s.Critical < 0 || s.Critical >= len(s.Points) {
		return Point{}, false
	}
	return s.Points[s.Critical], true
}

// MagnitudeRange returns the smallest and largest magnitude in the set.
func (s PointSet) MagnitudeRange() (lo, hi float64) {
	if len(s.Points) == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range s.Points {
		lo = math.Min(lo, p.Magnitude)
		hi = math.Max(hi, p.Magnitude)
	}
	return lo, hi
}

// Significant selects the pixels whose |eigenvalue| is at or above the requested
// percentile. If more than sel.Max qualify, a seeded random subset of sel.Max is
// kept, so the same field always yields the same points. A field whose
// eigenvalues are all zero yields an empty set.
func Significant(field *Field, sel Selection) PointSet {
	set := PointSet{Critical: -1}
	mags := field.Magnitudes()
	if mags.Max() == 0 || sel.Max <= 0 {
		return set
	}
	set.Threshold = energy.Percentile(mags.Data, sel.Percentile)

	var idx []int
	for i, m := range mags.Data {
		if m >= set.Threshold {
			idx = append(idx, i)
		}
	}
	set.Candidates = len(idx)

	if len(idx) > sel.Max {
		rng := rand.New(rand.NewSource(sel.Seed))
		pick := rng.Perm(len(idx))[:sel.Max]
		sort.Ints(pick)
		chosen := make([]int, len(pick))
		for j, p := range pick {
			chosen[j] = idx[p]
		}
		idx = chosen
	}

	set.Points = make([]Point, len(idx))
	for j, i := range idx {
		set.Points[j] = Point{
			X:         i % field.Width,
			Y:         i / field.Width,
			Magnitude: mags.Data[i],
			Vector:    field.Vectors[i],
		}
		if set.Critical < 0 || set.Points[j].Magnitude > set.Points[set.Critical].Magnitude {
			set.Critical = j
		}
	}
	return set
}
