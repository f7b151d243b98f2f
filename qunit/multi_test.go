package qunit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quantumcore/qbdtsim/engine"
)

func twoDeviceRegistry() *engine.Registry {
	return engine.NewRegistry(
		engine.Device{ID: uuid.New(), MaxSize: 1 << 10},
		engine.Device{ID: uuid.New(), MaxSize: 1 << 10},
	)
}

func TestEntangleInCurrentBasisMergesElevenShardsOntoDefaultDevice(t *testing.T) {
	registry := twoDeviceRegistry()
	m, err := NewMulti(11, WithRegistry(registry))
	require.NoError(t, err)

	all := make([]int, 11)
	for i := range all {
		all[i] = i
	}
	unit, err := m.EntangleInCurrentBasis(all)
	require.NoError(t, err)

	require.Equal(t, 11, unit.GetQubitCount())
	require.Equal(t, registry.Default().ID, unit.GetDeviceID())
}

func TestRedistributeQEnginesRespectsDeviceMaxSize(t *testing.T) {
	registry := twoDeviceRegistry()
	m, err := NewMulti(4, WithRegistry(registry), WithQubitThreshold(0))
	require.NoError(t, err)

	require.NoError(t, m.Mtrx(hadamard, 0))
	require.NoError(t, m.MCMtrx([]int{0}, pauliX, 1))
	require.NoError(t, m.Mtrx(hadamard, 2))
	require.NoError(t, m.MCMtrx([]int{2}, pauliX, 3))

	require.NoError(t, m.RedistributeQEngines())

	for _, info := range m.GetQInfos() {
		dev, ok := registry.ByID(info.unit.GetDeviceID())
		require.True(t, ok)
		size := uint64(1) << uint(info.unit.GetQubitCount())
		require.LessOrEqual(t, size, dev.MaxSize)
	}
}

func TestGetQInfosSortsDescendingBySize(t *testing.T) {
	registry := twoDeviceRegistry()
	m, err := NewMulti(3, WithRegistry(registry))
	require.NoError(t, err)

	require.NoError(t, m.Mtrx(hadamard, 0))
	require.NoError(t, m.MCMtrx([]int{0}, pauliX, 1))

	infos := m.GetQInfos()
	for i := 1; i < len(infos); i++ {
		require.GreaterOrEqual(t, infos[i-1].unit.GetQubitCount(), infos[i].unit.GetQubitCount())
	}
}

func TestMultiCloneIsIndependent(t *testing.T) {
	registry := twoDeviceRegistry()
	m, err := NewMulti(2, WithRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, m.Mtrx(hadamard, 0))

	c := m.Clone()
	require.NoError(t, c.Mtrx(pauliX, 0))

	p, err := m.Prob(0)
	require.NoError(t, err)
	require.InDelta(t, 0.5, p, 1e-9)
}

func TestSeparateBitThenDetachRedistributes(t *testing.T) {
	registry := twoDeviceRegistry()
	m, err := NewMulti(3, WithRegistry(registry))
	require.NoError(t, err)

	require.NoError(t, m.Mtrx(hadamard, 0))
	require.NoError(t, m.MCMtrx([]int{0}, pauliX, 1))

	_, err = m.ForceM(0, true, true, true)
	require.NoError(t, err)
	require.NoError(t, m.SeparateBit(true, 0))

	dest := &Register{}
	require.NoError(t, m.Detach(2, 1, dest))
	require.Equal(t, 2, m.qubitCount)
}
