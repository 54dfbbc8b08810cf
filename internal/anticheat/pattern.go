package anticheat

import "fmt"

// PatternWeights are the contributions of each detector to the bet-pattern
// score.
type PatternWeights struct {
	Arithmetic float64
	Geometric  float64
	Repetition float64
}

// DefaultPatternWeights make a clean arithmetic or geometric progression
// enough on its own to reach the default 0.95 threshold.
var DefaultPatternWeights = PatternWeights{Arithmetic: 0.95, Geometric: 0.95, Repetition: 0.30}

const patternTolerance = 0.01

// PatternScore scores how mechanical a series of bet amounts looks.
// Series shorter than three score zero. A constant series is not treated as
// a progression.
func PatternScore(amounts []float64, w PatternWeights) float64 {
	n := len(amounts)
	if n < 3 {
		return 0
	}

	var score float64
	if isArithmetic(amounts) {
		score += w.Arithmetic
	}
	if isGeometric(amounts) {
		score += w.Geometric
	}
	if isRepetitive(amounts) {
		score += w.Repetition
	}
	return score
}

func isArithmetic(xs []float64) bool {
	d0 := xs[1] - xs[0]
	if abs(d0) < patternTolerance {
		return false
	}
	for i := 2; i < len(xs); i++ {
		if abs((xs[i]-xs[i-1])-d0) >= patternTolerance {
			return false
		}
	}
	return true
}

func isGeometric(xs []float64) bool {
	for _, x := range xs {
		if x == 0 {
			return false
		}
	}
	r0 := xs[1] / xs[0]
	if abs(r0-1) < patternTolerance {
		return false
	}
	for i := 2; i < len(xs); i++ {
		if abs(xs[i]/xs[i-1]-r0) >= patternTolerance {
			return false
		}
	}
	return true
}

// isRepetitive reports whether the distinct 3-grams are fewer than half of
// all 3-gram windows. At least two windows are required.
func isRepetitive(xs []float64) bool {
	total := len(xs) - 2
	if total < 2 {
		return false
	}
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		seen[fmt.Sprint(xs[i], xs[i+1], xs[i+2])] = struct{}{}
	}
	return float64(len(seen)) < float64(total)/2
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
