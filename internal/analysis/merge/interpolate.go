package merge

import (
	"sort"
	"time"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// Interpolator evaluates a series at arbitrary instants inside its own range.
// It never extrapolates.
type Interpolator struct {
	knots []timeseries.Point
}

// NewInterpolator builds an interpolator over the points of s, which are
// already sorted by time.
func NewInterpolator(s timeseries.Series) *Interpolator {
	return &Interpolator{knots: s.Points()}
}

// At returns the value at t and whether t is covered. Exact knots return the
// stored value (the first one when several share the instant); other covered
// instants blend the two neighbouring knots linearly.
func (in *Interpolator) At(t time.Time) (float64, bool) {
	n := len(in.knots)
	if n == 0 {
		return 0, false
	}
	if t.Before(in.knots[0].T) || t.After(in.knots[n-1].T) {
		return 0, false
	}

	i := sort.Search(n, func(i int) bool {
		return !in.knots[i].T.Before(t)
	})
	if in.knots[i].T.Equal(t) {
		return in.knots[i].V, true
	}

	lo, hi := in.knots[i-1], in.knots[i]
	gap := hi.T.Sub(lo.T)
	if gap == 0 {
		return lo.V, true
	}
	frac := float64(t.Sub(lo.T)) / float64(gap)
	return lo.V + frac*(hi.V-lo.V), true
}
