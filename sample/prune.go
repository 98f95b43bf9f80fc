package sample

import (
	"math"

	Ft "github.com/maroda/fmdrisk/types"
)

// Prune thins a phase sample set against an integrand f.
//
// The reference is the estimate of f over the set as given. Points are
// removed greedily, the one whose removal moves the piecewise-linear
// (trapezoid) estimate least first, while that estimate stays within tol
// of the reference and more than min points remain. The first and last
// points are always kept. If nothing can be removed the set is returned
// unchanged, so the result is never larger and never further than tol
// from the reference.
func Prune(set Ft.SampleSet, f func(t float64) float64, tol float64, min int) Ft.SampleSet {
	if min < 2 {
		min = 2
	}
	if len(set) <= min {
		return set
	}

	vals := make([]float64, len(set))
	for i, s := range set {
		vals[i] = f(s.Time)
	}
	ref := Estimate(set, f)

	keep := make([]int, len(set))
	for i := range keep {
		keep[i] = i
	}
	pruned := false
	for len(keep) > min {
		best, bestErr := -1, math.Inf(1)
		for j := 1; j < len(keep)-1; j++ {
			trial := make([]int, 0, len(keep)-1)
			trial = append(trial, keep[:j]...)
			trial = append(trial, keep[j+1:]...)
			if e := math.Abs(trapezoid(set, vals, trial) - ref); e < bestErr {
				best, bestErr = j, e
			}
		}
		if best < 0 || bestErr > tol {
			break
		}
		keep = append(keep[:best], keep[best+1:]...)
		pruned = true
	}
	if !pruned {
		return set
	}

	w := hatWeights(set, keep)
	out := make(Ft.SampleSet, len(keep))
	for i, idx := range keep {
		out[i] = Ft.Sample{Time: set[idx].Time, Weight: w[i]}
	}
	return out
}

// hatWeights are the normalized trapezoid weights of the kept points:
// each point owns half of the interval on either side.
func hatWeights(set Ft.SampleSet, keep []int) []float64 {
	w := make([]float64, len(keep))
	if len(keep) == 1 {
		w[0] = 1
		return w
	}
	span := set[keep[len(keep)-1]].Time - set[keep[0]].Time
	for i := range keep {
		left, right := 0.0, 0.0
		if i > 0 {
			left = (set[keep[i]].Time - set[keep[i-1]].Time) / 2
		}
		if i < len(keep)-1 {
			right = (set[keep[i+1]].Time - set[keep[i]].Time) / 2
		}
		w[i] = (left + right) / span
	}
	return w
}

func trapezoid(set Ft.SampleSet, vals []float64, keep []int) float64 {
	w := hatWeights(set, keep)
	sum := 0.0
	for i, idx := range keep {
		sum += w[i] * vals[idx]
	}
	return sum
}
