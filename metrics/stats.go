package metrics

import (
	"math"
	"time"
)

// Stats is the mergeable statistics record backing one metric entry.
// All time fields are kept in milliseconds; SumOfSquares is in square milliseconds.
// The zero value is an empty accumulator and the identity element of Merge.
type Stats struct {
	Count          int64
	Total          float64
	TotalExclusive float64
	Min            float64
	Max            float64
	SumOfSquares   float64
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Record adds one observation. Durations are expected to be non-negative;
// the segment tree rejects negative values before they reach this point.
func (s *Stats) Record(duration, exclusive time.Duration) {
	s.recordMillis(millis(duration), millis(exclusive))
}

func (s *Stats) recordMillis(d, excl float64) {
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if s.Count == 0 || d > s.Max {
		s.Max = d
	}
	s.Count++
	s.Total += d
	s.TotalExclusive += excl
	s.SumOfSquares += d * d
}

// Merge combines other into s. Sums add pairwise, Min and Max take the
// pairwise extreme. Merging an empty accumulator is a no-op in either direction.
func (s *Stats) Merge(other Stats) {
	if other.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = other
		return
	}
	s.Count += other.Count
	s.Total += other.Total
	s.TotalExclusive += other.TotalExclusive
	s.SumOfSquares += other.SumOfSquares
	s.Min = math.Min(s.Min, other.Min)
	s.Max = math.Max(s.Max, other.Max)
}

// Empty reports whether nothing has been recorded.
func (s Stats) Empty() bool {
	return s.Count == 0
}

// Mean returns the average duration in milliseconds.
func (s Stats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Total / float64(s.Count)
}

// Variance returns the population variance of the recorded durations in
// square milliseconds, derived from the explicit sums.
func (s Stats) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	mean := s.Mean()
	v := s.SumOfSquares/float64(s.Count) - mean*mean
	if v < 0 {
		// rounding on near-constant samples
		return 0
	}
	return v
}

// Values returns the wire representation: count, total, exclusive total, min
// and max in seconds, and the sum of squares in square seconds.
func (s Stats) Values() [6]float64 {
	return [6]float64{
		float64(s.Count),
		s.Total / 1000,
		s.TotalExclusive / 1000,
		s.Min / 1000,
		s.Max / 1000,
		s.SumOfSquares / 1000000,
	}
}
