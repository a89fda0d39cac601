// Package stats provides running statistics over beam current samples.
package stats

import "math"

// Accumulator computes count, mean, standard deviation, min, and max
// incrementally using Welford's method. The zero value is ready to use.
type Accumulator struct {
	n    int
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Add folds one sample into the accumulator.
func (a *Accumulator) Add(x float64) {
	a.n++
	if a.n == 1 {
		a.min, a.max = x, x
	} else {
		if x < a.min {
			a.min = x
		}
		if x > a.max {
			a.max = x
		}
	}
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
}

// Count returns the number of samples added.
func (a *Accumulator) Count() int {
	return a.n
}

// Mean returns the arithmetic mean, or 0 with no samples.
func (a *Accumulator) Mean() float64 {
	return a.mean
}

// StdDev returns the sample standard deviation, or 0 with fewer than
// two samples.
func (a *Accumulator) StdDev() float64 {
	if a.n < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.n-1))
}

// Min returns the smallest sample, or 0 with no samples.
func (a *Accumulator) Min() float64 {
	return a.min
}

// Max returns the largest sample, or 0 with no samples.
func (a *Accumulator) Max() float64 {
	return a.max
}

// Histogram counts samples into fixed-width bins over [Lo, Hi). Samples
// outside the range land in the first or last bin.
type Histogram struct {
	lo, hi float64
	counts []int
}

// NewHistogram creates a histogram with the given range and bin count.
func NewHistogram(lo, hi float64, bins int) *Histogram {
	if bins < 1 {
		bins = 1
	}
	return &Histogram{lo: lo, hi: hi, counts: make([]int, bins)}
}

// Add counts one sample.
func (h *Histogram) Add(x float64) {
	i := int((x - h.lo) / (h.hi - h.lo) * float64(len(h.counts)))
	if i < 0 {
		i = 0
	}
	if i >= len(h.counts) {
		i = len(h.counts) - 1
	}
	h.counts[i]++
}

// Counts returns the per-bin sample counts.
func (h *Histogram) Counts() []int {
	return h.counts
}

// BinRange returns the [lo, hi) interval covered by bin i.
func (h *Histogram) BinRange(i int) (float64, float64) {
	width := (h.hi - h.lo) / float64(len(h.counts))
	return h.lo + float64(i)*width, h.lo + float64(i+1)*width
}
