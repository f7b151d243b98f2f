package qunit

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quantumcore/qbdtsim/engine"
)

var hadamard = engine.Matrix2x2{
	complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0),
	complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0),
}

var pauliX = engine.Matrix2x2{0, 1, 1, 0}

func newTestRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	return engine.NewRegistry(engine.Device{ID: uuid.New(), MaxSize: 1 << 20})
}

func TestEntangleMergesDistinctShards(t *testing.T) {
	r, err := NewRegister(2, WithRegistry(newTestRegistry(t)))
	require.NoError(t, err)

	unit0 := r.shards[0].unit
	unit1 := r.shards[1].unit
	require.NotSame(t, unit0, unit1)

	merged, err := r.Entangle([]int{0, 1})
	require.NoError(t, err)
	require.Same(t, merged, r.shards[0].unit)
	require.Same(t, merged, r.shards[1].unit)
	require.Equal(t, 2, merged.GetQubitCount())
}

func TestHadamardThenCNOTProducesBellProbabilities(t *testing.T) {
	r, err := NewRegister(2, WithRegistry(newTestRegistry(t)))
	require.NoError(t, err)

	require.NoError(t, r.Mtrx(hadamard, 0))
	require.NoError(t, r.MCMtrx([]int{0}, pauliX, 1))

	state := make([]complex128, 4)
	require.NoError(t, r.GetQuantumState(state))

	require.InDelta(t, 0.5, real(state[0])*real(state[0])+imag(state[0])*imag(state[0]), 1e-9)
	require.InDelta(t, 0.5, real(state[3])*real(state[3])+imag(state[3])*imag(state[3]), 1e-9)
	require.InDelta(t, 0, real(state[1])*real(state[1])+imag(state[1])*imag(state[1]), 1e-9)
	require.InDelta(t, 0, real(state[2])*real(state[2])+imag(state[2])*imag(state[2]), 1e-9)
}

func TestForceMSeparatesShardBackOut(t *testing.T) {
	r, err := NewRegister(2, WithRegistry(newTestRegistry(t)))
	require.NoError(t, err)

	require.NoError(t, r.Mtrx(hadamard, 0))
	require.NoError(t, r.MCMtrx([]int{0}, pauliX, 1))

	_, err = r.ForceM(0, true, true, true)
	require.NoError(t, err)

	require.Equal(t, 1, r.shards[0].unit.GetQubitCount())
	require.Equal(t, 1, r.shards[1].unit.GetQubitCount())
}

func TestMAllReturnsConsistentPermutation(t *testing.T) {
	r, err := NewRegister(3, WithRegistry(newTestRegistry(t)), WithInitialPermutation(0b101))
	require.NoError(t, err)

	perm, err := r.MAll()
	require.NoError(t, err)
	require.Equal(t, uint64(0b101), perm)
}

func TestCloneProducesIndependentRegister(t *testing.T) {
	r, err := NewRegister(2, WithRegistry(newTestRegistry(t)))
	require.NoError(t, err)
	require.NoError(t, r.Mtrx(hadamard, 0))

	c := r.Clone()
	require.NoError(t, c.Mtrx(pauliX, 0))

	p0, err := r.Prob(0)
	require.NoError(t, err)
	require.InDelta(t, 0.5, p0, 1e-9)
}

func TestDetachSplitsOffDestinationRegister(t *testing.T) {
	r, err := NewRegister(3, WithRegistry(newTestRegistry(t)))
	require.NoError(t, err)
	require.NoError(t, r.Mtrx(hadamard, 0))
	require.NoError(t, r.MCMtrx([]int{0}, pauliX, 1))

	dest := &Register{}
	require.NoError(t, r.Detach(2, 1, dest))

	require.Equal(t, 2, r.qubitCount)
	require.Equal(t, 1, dest.qubitCount)
}
