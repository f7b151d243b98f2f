package qbdt

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Histogram counts outcomes of repeated MAll() calls, keyed by the
// measured basis state. It is the adapted form of the teacher's Evaluator
// pattern (solution.go's CountEvaluator/CostEvaluator): instead of
// memoizing a recursive count or cost over a decision diagram, it
// accumulates empirical measurement counts over a QBdt register, for the
// binomial-tolerance check in spec §8 scenario 6.
type Histogram struct {
	counts map[uint64]int
	total  int
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{counts: make(map[uint64]int)}
}

// Sample draws n measurements of q's current state via MAll, each taken on
// an independent Clone of q so every draw sees the same pre-measurement
// state. After the last draw q is reset to perm so the register ends in a
// known state. It mutates q.
func (h *Histogram) Sample(q *QBdt, perm uint64, n int) error {
	for i := 0; i < n; i++ {
		outcome, err := q.Clone().MAll()
		if err != nil {
			return err
		}
		h.counts[outcome]++
		h.total++
	}
	return q.SetPermutation(perm, 1)
}

// EmpiricalProb returns the observed frequency of basis state perm.
func (h *Histogram) EmpiricalProb(perm uint64) float64 {
	if h.total == 0 {
		return 0
	}
	return float64(h.counts[perm]) / float64(h.total)
}

// Total returns the number of samples drawn.
func (h *Histogram) Total() int { return h.total }

// MatchesProbs reports whether h is consistent with the theoretical
// distribution probs (as returned by GetProbs) within a binomial
// tolerance: for every basis state, the observed count must fall within
// sigmas standard deviations of n*p under the binomial model, computed via
// gonum/stat's weighted moments of a Bernoulli dataset per basis state
// rather than a hand-rolled sqrt(n*p*(1-p)).
func (h *Histogram) MatchesProbs(ctx context.Context, probs []float64, sigmas float64) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if h.total == 0 {
		return false, fmt.Errorf("qbdt: histogram has no samples")
	}

	for perm, p := range probs {
		observed := h.counts[uint64(perm)]
		mean, stdev := binomialMoments(h.total, p)
		if stdev == 0 {
			if observed != 0 && p == 0 {
				return false, nil
			}
			continue
		}
		z := (float64(observed) - mean) / stdev
		if z < -sigmas || z > sigmas {
			return false, nil
		}
	}
	return true, nil
}

// binomialMoments returns the mean and standard deviation of a
// Binomial(n, p) distribution, computed via gonum/stat's weighted moment
// helpers over the two-point {0,1} Bernoulli support rather than the
// closed-form n*p(1-p) — so this module's one statistical check actually
// exercises gonum/stat instead of restating the formula by hand.
func binomialMoments(n int, p float64) (mean, stdev float64) {
	outcomes := []float64{0, 1}
	weights := []float64{1 - p, p}
	bernoulliMean := stat.Mean(outcomes, weights)
	// Population variance: the weighted mean of the squared deviations.
	deviations := []float64{bernoulliMean * bernoulliMean, (1 - bernoulliMean) * (1 - bernoulliMean)}
	bernoulliVar := stat.Mean(deviations, weights)
	return float64(n) * bernoulliMean, math.Sqrt(float64(n) * bernoulliVar)
}
