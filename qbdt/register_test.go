package qbdt

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantumcore/qbdtsim/engine"
)

var hadamard = engine.Matrix2x2{
	complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0),
	complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0),
}

var pauliX = engine.Matrix2x2{0, 1, 1, 0}

func TestSetPermutationThenGetAmplitude(t *testing.T) {
	q, err := NewQBdt(3)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0b101, 1))

	require.Equal(t, complex128(1), q.GetAmplitude(0b101))
	require.Equal(t, complex128(0), q.GetAmplitude(0b100))
}

func TestHadamardThenCNOTProducesBellProbabilities(t *testing.T) {
	q, err := NewQBdt(3)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0, 1))

	ctx := context.Background()
	require.NoError(t, q.Mtrx(ctx, hadamard, 0))
	require.NoError(t, q.MCMtrx(ctx, []int{0}, pauliX, 1))

	require.InDelta(t, 0.5, q.ProbAll(0b000), 1e-9)
	require.InDelta(t, 0.5, q.ProbAll(0b011), 1e-9)
	require.InDelta(t, 0, q.ProbAll(0b001), 1e-9)
	require.InDelta(t, 0, q.ProbAll(0b010), 1e-9)
}

func TestHHIsIdentityOnOneQubit(t *testing.T) {
	q, err := NewQBdt(1)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Mtrx(ctx, hadamard, 0))
	require.NoError(t, q.Mtrx(ctx, hadamard, 0))

	require.InDelta(t, 1, q.ProbAll(0), 1e-9)
	require.InDelta(t, 0, q.ProbAll(1), 1e-9)
}

func TestSetPermutationThenMAllReturnsSamePermutation(t *testing.T) {
	q, err := NewQBdt(4)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0b1011, 1))

	got, err := q.MAll()
	require.NoError(t, err)
	require.Equal(t, uint64(0b1011), got)
}

func TestSumSqrDiffOfIdenticalRegistersIsZero(t *testing.T) {
	a, err := NewQBdt(2)
	require.NoError(t, err)
	require.NoError(t, a.SetPermutation(0, 1))
	require.NoError(t, a.Mtrx(context.Background(), hadamard, 0))

	b := a.Clone()

	dist, err := a.SumSqrDiff(b)
	require.NoError(t, err)
	require.InDelta(t, 0, dist, 1e-9)
}

func TestSumSqrDiffOfOrthogonalStatesIsOne(t *testing.T) {
	a, err := NewQBdt(1)
	require.NoError(t, err)
	require.NoError(t, a.SetPermutation(0, 1))

	b, err := NewQBdt(1)
	require.NoError(t, err)
	require.NoError(t, b.SetPermutation(1, 1))

	dist, err := a.SumSqrDiff(b)
	require.NoError(t, err)
	require.InDelta(t, 1, dist, 1e-9)
}

func TestGetQuantumStateRoundTripsThroughSetQuantumState(t *testing.T) {
	q, err := NewQBdt(2)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0, 1))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 0))
	require.NoError(t, q.MCMtrx(context.Background(), []int{0}, pauliX, 1))

	state := make([]complex128, 4)
	require.NoError(t, q.GetQuantumState(context.Background(), state))

	q2, err := NewQBdt(2)
	require.NoError(t, err)
	require.NoError(t, q2.SetQuantumState(state))

	roundTrip := make([]complex128, 4)
	require.NoError(t, q2.GetQuantumState(context.Background(), roundTrip))

	for i := range state {
		require.InDelta(t, real(state[i]), real(roundTrip[i]), 1e-9)
		require.InDelta(t, imag(state[i]), imag(roundTrip[i]), 1e-9)
	}
}

func TestDecomposeSeparatesBellPairFromIdentityQubits(t *testing.T) {
	q, err := NewQBdt(4)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0, 1))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 0))
	require.NoError(t, q.MCMtrx(context.Background(), []int{0}, pauliX, 1))

	dest := &QBdt{}
	require.NoError(t, q.Decompose(2, 2, dest))

	probs := make([]float64, 4)
	require.NoError(t, q.GetProbs(context.Background(), probs))
	require.InDelta(t, 1, probs[0], 1e-9)
}

func TestProbAllInvariantSumsToOne(t *testing.T) {
	q, err := NewQBdt(3)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0, 1))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 0))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 1))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 2))

	probs := make([]float64, 8)
	require.NoError(t, q.GetProbs(context.Background(), probs))

	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	require.InDelta(t, 1, sum, 1e-9)
}

func TestHistogramMatchesProbsWithinBinomialTolerance(t *testing.T) {
	q, err := NewQBdt(2)
	require.NoError(t, err)
	require.NoError(t, q.SetPermutation(0, 1))
	require.NoError(t, q.Mtrx(context.Background(), hadamard, 0))
	require.NoError(t, q.MCMtrx(context.Background(), []int{0}, pauliX, 1))

	probs := make([]float64, 4)
	require.NoError(t, q.GetProbs(context.Background(), probs))

	h := NewHistogram()
	require.NoError(t, h.Sample(q, 0, 2000))

	ok, err := h.MatchesProbs(context.Background(), probs, 5)
	require.NoError(t, err)
	require.True(t, ok)
}
