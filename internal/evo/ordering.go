package evo

import (
	"math"

	"golang.org/x/exp/slices"

	"neurowalk/internal/nn"
)

// CompareFitness orders networks ascending by fitness. A nil network ranks
// below any present one. NaN ranks below every number and equal to other NaN,
// so a NaN-scored network can never be ranked champion.
func CompareFitness(a, b *nn.Network) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	fa, fb := a.Fitness(), b.Fitness()
	aNaN, bNaN := isNaN(fa), isNaN(fb)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case fa > fb:
		return 1
	case fa < fb:
		return -1
	default:
		return 0
	}
}

// SortByFitness sorts networks ascending by CompareFitness. Ties keep their
// relative order.
func SortByFitness(networks []*nn.Network) {
	slices.SortStableFunc(networks, CompareFitness)
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}
