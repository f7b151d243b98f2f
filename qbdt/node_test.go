package qbdt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBranchIsIdempotentInEffect(t *testing.T) {
	shared := newInterior(1, oneNode, zeroNode)
	parent := newInterior(1, shared, shared)

	parent.Branch()
	first := [2]*Node{parent.branches[0], parent.branches[1]}
	require.NotSame(t, shared, first[0])
	require.NotSame(t, shared, first[1])
	require.NotSame(t, first[0], first[1])

	parent.Branch()
	require.True(t, nodesEquivalent(first[0], parent.branches[0]))
	require.True(t, nodesEquivalent(first[1], parent.branches[1]))
}

func TestBranchOnTerminalsIsNoOp(t *testing.T) {
	zeroNode.Branch()
	oneNode.Branch()
	require.Equal(t, complex128(0), zeroNode.scale)
	require.Equal(t, complex128(1), oneNode.scale)
}

func TestPruneCollapsesBothZeroChildren(t *testing.T) {
	n := newInterior(1, zeroNode, zeroNode)
	got := prune(n, 1)
	require.Same(t, zeroNode, got)
}

func TestPruneCollapsesEquivalentChildren(t *testing.T) {
	lo := newInterior(0.5, oneNode, zeroNode)
	hi := newInterior(0.5, oneNode, zeroNode)
	n := newInterior(1, lo, hi)

	got := prune(n, 2)
	require.Same(t, got.branches[0], got.branches[1])
	require.InDelta(t, 1, real(got.branches[0].scale), eps)
}

func TestPruneNormalizesDominantChildToUnitScale(t *testing.T) {
	lo := newInterior(2, oneNode, zeroNode)
	hi := newInterior(1, zeroNode, oneNode)
	n := newInterior(1, lo, hi)

	got := prune(n, 2)
	require.True(t, cmplxAbsDelta(got.branches[0].scale, 1, eps) || cmplxAbsDelta(got.branches[1].scale, 1, eps))
}

func cmplxAbsDelta(c complex128, want float64, tol float64) bool {
	return math.Abs(real(c)-want) < tol && math.Abs(imag(c)) < tol
}

func TestCombineSumAddsHadamardPairCorrectly(t *testing.T) {
	lo := scaledTerminal(1)
	hi := scaledTerminal(0)
	inv := complex(1/math.Sqrt2, 0)

	newLo := combineSum(lo, inv, hi, inv)
	newHi := combineSum(lo, inv, hi, -inv)

	require.InDelta(t, real(inv), real(newLo.scale), 1e-9)
	require.InDelta(t, real(inv), real(newHi.scale), 1e-9)
}

func TestApply2x2PauliXSwapsBasisAmplitudes(t *testing.T) {
	n := newInterior(1, scaledTerminal(1), scaledTerminal(0))
	pauliX := [4]complex128{0, 1, 1, 0}
	n.Apply2x2(pauliX)

	require.InDelta(t, 0, cmplxAbs2(n.branches[0].scale), 1e-9)
	require.InDelta(t, 1, cmplxAbs2(n.branches[1].scale), 1e-9)
}
