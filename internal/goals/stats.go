package goals

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// round rounds half to even, matching numpy.
func round(x float64) int {
	return int(math.RoundToEven(x))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// sumFinite adds the non-NaN values.
func sumFinite(xs ...float64) float64 {
	var s float64
	for _, x := range xs {
		if !math.IsNaN(x) {
			s += x
		}
	}
	return s
}

// weeklyTotals buckets value(s) by ISO week and returns the totals of the
// newest n weeks, newest first.
func weeklyTotals(sessions []Session, n int, value func(Session) float64) []float64 {
	totals := make(map[Week]float64)
	for _, s := range sessions {
		totals[s.ISOWeek()] += value(s)
	}
	weeks := make([]Week, 0, len(totals))
	for w := range totals {
		weeks = append(weeks, w)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].after(weeks[j]) })
	if len(weeks) > n {
		weeks = weeks[:n]
	}
	out := make([]float64, len(weeks))
	for i, w := range weeks {
		out[i] = totals[w]
	}
	return out
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
