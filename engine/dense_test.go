package engine_test

import (
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

func TestDenseEngineHadamardIsUniform(t *testing.T) {
	e := engine.NewDenseEngine(1, 0, nil)
	e.Mtrx(hadamard, 0)

	require.InDelta(t, 0.5, e.Prob(0), 1e-9)
	require.InDelta(t, 0.5, e.ProbAll(0), 1e-9)
	require.InDelta(t, 0.5, e.ProbAll(1), 1e-9)
}

func TestDenseEnginePauliXFlipsBasisState(t *testing.T) {
	e := engine.NewDenseEngine(2, 0, nil)
	e.Mtrx(pauliX, 0)

	require.Equal(t, complex128(1), e.GetAmplitude(1))
	require.Equal(t, complex128(0), e.GetAmplitude(0))
}

func TestDenseEngineMCMtrxRequiresAllControls(t *testing.T) {
	e := engine.NewDenseEngine(2, 0b01, nil)
	e.MCMtrx([]int{0}, pauliX, 1)

	require.Equal(t, complex128(1), e.GetAmplitude(0b11))
	require.Equal(t, complex128(0), e.GetAmplitude(0b01))
}

func TestDenseEngineForceMCollapsesAndRenormalizes(t *testing.T) {
	e := engine.NewDenseEngine(1, 0, nil)
	e.Mtrx(hadamard, 0)

	got := e.ForceM(0, true, true, true)
	require.True(t, got)
	require.InDelta(t, 1.0, e.ProbAll(1), 1e-9)
	require.InDelta(t, 0.0, e.ProbAll(0), 1e-9)
}

func TestDenseEngineComposeTensorsAmplitudes(t *testing.T) {
	a := engine.NewDenseEngine(1, 1, nil)
	b := engine.NewDenseEngine(1, 0, nil)
	require.NoError(t, a.Compose(b))

	require.Equal(t, 4, 1<<a.GetQubitCount())
	require.Equal(t, complex128(1), a.GetAmplitude(1))
}

func TestInnerProductOfOrthogonalBasisStatesIsZero(t *testing.T) {
	a := engine.NewDenseEngine(1, 0, nil)
	b := engine.NewDenseEngine(1, 1, nil)
	require.Equal(t, complex128(0), engine.InnerProduct(a, b))
}

func TestInnerProductOfIdenticalStateIsOne(t *testing.T) {
	a := engine.NewDenseEngine(2, 2, nil)
	b := a.Clone().(*engine.DenseEngine)
	require.Equal(t, complex128(1), engine.InnerProduct(a, b))
}
