package engine

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
)

// DenseEngine is a reference Engine backed by a full 2^n-entry amplitude
// vector. It is the only concrete Engine this module ships: the gate loop
// structure (iterate basis states, flip the bit under test, apply a 2x2
// unitary to the amplitude pair) follows the style of HershLalwani-q-deck's
// StateVector, and the linear algebra itself — the 2x2 apply and the inner
// product used by fidelity checks — goes through gonum's cblas128 rather
// than hand-rolled complex multiplies, so this module's one dense backend
// exercises the same BLAS-shaped path a real accelerator engine would.
type DenseEngine struct {
	mu       sync.Mutex
	amps     []complex128
	deviceID DeviceID
	registry *Registry
	rng      *rand.Rand
}

// NewDenseEngine builds a DenseEngine of qubitCount qubits initialized to
// the basis state perm, resident on the registry's default device.
func NewDenseEngine(qubitCount int, perm uint64, registry *Registry) *DenseEngine {
	amps := make([]complex128, uint64(1)<<uint(qubitCount))
	amps[perm] = 1
	var dev DeviceID
	if registry != nil {
		dev = registry.Default().ID
	}
	return &DenseEngine{
		amps:     amps,
		deviceID: dev,
		registry: registry,
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (e *DenseEngine) GetQubitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bitLen(uint64(len(e.amps)))
}

func bitLen(n uint64) int {
	c := 0
	for n > 1 {
		n >>= 1
		c++
	}
	return c
}

func (e *DenseEngine) GetAmplitude(perm uint64) complex128 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.amps[perm]
}

func (e *DenseEngine) SetAmplitude(perm uint64, c complex128) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amps[perm] = c
}

func (e *DenseEngine) ProbAll(perm uint64) float64 {
	a := e.GetAmplitude(perm)
	p := real(a)*real(a) + imag(a)*imag(a)
	return clampProb(p)
}

func (e *DenseEngine) Prob(q int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	bit := uint64(1) << uint(q)
	oneChance := 0.0
	for i, a := range e.amps {
		if uint64(i)&bit != 0 {
			oneChance += real(a)*real(a) + imag(a)*imag(a)
		}
	}
	return clampProb(oneChance)
}

func clampProb(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Mtrx applies a 2x2 unitary to target across every amplitude pair that
// differs only in that bit, via gonum's complex Level 2 BLAS Gemv.
func (e *DenseEngine) Mtrx(u Matrix2x2, target int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(u, target)
}

func (e *DenseEngine) applyLocked(u Matrix2x2, target int) {
	bit := uint64(1) << uint(target)
	a := cblas128.General{Rows: 2, Cols: 2, Stride: 2, Data: u[:]}
	for i := range e.amps {
		if uint64(i)&bit != 0 {
			continue
		}
		j := uint64(i) | bit
		x := cblas128.Vector{N: 2, Inc: 1, Data: []complex128{e.amps[i], e.amps[j]}}
		y := cblas128.Vector{N: 2, Inc: 1, Data: make([]complex128, 2)}
		cblas128.Gemv(blas.NoTrans, 1, a, x, 0, y)
		e.amps[i], e.amps[j] = y.Data[0], y.Data[1]
	}
}

func maskFor(qubits []int) uint64 {
	var m uint64
	for _, q := range qubits {
		m |= uint64(1) << uint(q)
	}
	return m
}

// MCMtrx applies u to target on every basis state where all controls read 1.
func (e *DenseEngine) MCMtrx(controls []int, u Matrix2x2, target int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctrlMask := maskFor(controls)
	bit := uint64(1) << uint(target)
	aMat := cblas128.General{Rows: 2, Cols: 2, Stride: 2, Data: u[:]}
	for i := range e.amps {
		if uint64(i)&bit != 0 {
			continue
		}
		if uint64(i)&ctrlMask != ctrlMask {
			continue
		}
		j := uint64(i) | bit
		x := cblas128.Vector{N: 2, Inc: 1, Data: []complex128{e.amps[i], e.amps[j]}}
		y := cblas128.Vector{N: 2, Inc: 1, Data: make([]complex128, 2)}
		cblas128.Gemv(blas.NoTrans, 1, aMat, x, 0, y)
		e.amps[i], e.amps[j] = y.Data[0], y.Data[1]
	}
}

// MCPhase applies a controlled diagonal gate: amplitudes at target==0 are
// scaled by topLeft, target==1 by bottomRight, on controlled basis states.
func (e *DenseEngine) MCPhase(controls []int, topLeft, bottomRight complex128, target int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctrlMask := maskFor(controls)
	bit := uint64(1) << uint(target)
	for i := range e.amps {
		if uint64(i)&ctrlMask != ctrlMask {
			continue
		}
		if uint64(i)&bit != 0 {
			e.amps[i] *= bottomRight
		} else {
			e.amps[i] *= topLeft
		}
	}
}

// MCInvert applies a controlled anti-diagonal gate (a generalized
// controlled-X with arbitrary off-diagonal phases).
func (e *DenseEngine) MCInvert(controls []int, topRight, bottomLeft complex128, target int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctrlMask := maskFor(controls)
	bit := uint64(1) << uint(target)
	for i := range e.amps {
		if uint64(i)&bit != 0 {
			continue
		}
		if uint64(i)&ctrlMask != ctrlMask {
			continue
		}
		j := uint64(i) | bit
		e.amps[i], e.amps[j] = bottomLeft*e.amps[j], topRight*e.amps[i]
	}
}

func (e *DenseEngine) sample(oneChance float64) bool {
	if oneChance >= 1 {
		return true
	}
	if oneChance <= 0 {
		return false
	}
	return e.rng.Float64() <= oneChance
}

func (e *DenseEngine) ForceM(q int, result bool, doForce, doApply bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	bit := uint64(1) << uint(q)
	if !doForce {
		oneChance := 0.0
		for i, a := range e.amps {
			if uint64(i)&bit != 0 {
				oneChance += real(a)*real(a) + imag(a)*imag(a)
			}
		}
		result = e.sample(clampProb(oneChance))
	}

	if !doApply {
		return result
	}

	norm := 0.0
	for i, a := range e.amps {
		keep := uint64(i)&bit != 0
		if keep != result {
			e.amps[i] = 0
			continue
		}
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	if norm > 0 {
		scale := complex(1/math.Sqrt(norm), 0)
		for i := range e.amps {
			e.amps[i] *= scale
		}
	}
	return result
}

func (e *DenseEngine) ForceMParity(mask uint64, result bool, doForce bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !doForce {
		oneChance := 0.0
		for i, a := range e.amps {
			if parity(uint64(i)&mask) {
				oneChance += real(a)*real(a) + imag(a)*imag(a)
			}
		}
		result = e.sample(clampProb(oneChance))
	}

	norm := 0.0
	for i, a := range e.amps {
		if parity(uint64(i)&mask) != result {
			e.amps[i] = 0
			continue
		}
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	if norm > 0 {
		scale := complex(1/math.Sqrt(norm), 0)
		for i := range e.amps {
			e.amps[i] *= scale
		}
	}
	return result
}

func parity(mask uint64) bool {
	p := false
	for mask != 0 {
		p = !p
		mask &= mask - 1
	}
	return p
}

func (e *DenseEngine) MAll() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	probs := make([]float64, len(e.amps))
	total := 0.0
	for i, a := range e.amps {
		probs[i] = real(a)*real(a) + imag(a)*imag(a)
		total += probs[i]
	}

	r := e.rng.Float64() * total
	var chosen uint64
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r <= acc {
			chosen = uint64(i)
			break
		}
		chosen = uint64(i)
	}

	for i := range e.amps {
		if uint64(i) == chosen {
			e.amps[i] = 1
		} else {
			e.amps[i] = 0
		}
	}
	return chosen
}

// Compose appends other's qubits as the high-order bits of this engine's
// basis index, building the tensor product amplitude-by-amplitude. This is
// a straightforward O(2^(n+m)) composition; real accelerator backends
// would do this with a device-resident Kronecker product instead.
func (e *DenseEngine) Compose(other Engine) error {
	o, ok := other.(*DenseEngine)
	if !ok {
		return ErrQubitCountMismatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(e.amps)
	m := len(o.amps)
	out := make([]complex128, n*m)
	for i, a := range e.amps {
		for j, b := range o.amps {
			out[j*n+i] = a * b
		}
	}
	e.amps = out
	return nil
}

func (e *DenseEngine) SetDevice(id DeviceID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceID = id
}

func (e *DenseEngine) GetDeviceID() DeviceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceID
}

func (e *DenseEngine) GetMaxSize() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registry == nil {
		return uint64(len(e.amps))
	}
	if d, ok := e.registry.ByID(e.deviceID); ok {
		return d.MaxSize
	}
	return uint64(len(e.amps))
}

func (e *DenseEngine) Clone() Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &DenseEngine{
		amps:     append([]complex128(nil), e.amps...),
		deviceID: e.deviceID,
		registry: e.registry,
		rng:      rand.New(rand.NewSource(e.rng.Int63())),
	}
}

// DetachQubit removes local qubit q from e, returning a fresh one-qubit
// engine holding the value it factored out to and leaving e holding the
// remaining qubitCount-1 qubits reindexed to close the gap. It requires
// that q's amplitude is already a product factor of the rest of the
// register (true immediately after a ForceM on q) — callers that violate
// this precondition get a result that silently drops the entangled
// correlation, exactly as Qrack's QUnit::Detach does for a shard it
// believes, from its own bookkeeping, to already be separable.
func (e *DenseEngine) DetachQubit(q int) (value bool, rest *DenseEngine) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bit := uint64(1) << uint(q)
	oneMag, zeroMag := 0.0, 0.0
	for i, a := range e.amps {
		m := real(a)*real(a) + imag(a)*imag(a)
		if uint64(i)&bit != 0 {
			oneMag += m
		} else {
			zeroMag += m
		}
	}
	value = oneMag >= zeroMag

	n := len(e.amps) / 2
	out := make([]complex128, n)
	for i, a := range e.amps {
		if (uint64(i)&bit != 0) != value {
			continue
		}
		lo := uint64(i) & (bit - 1)
		hi := (uint64(i) >> uint(q+1)) << uint(q)
		out[hi|lo] = a
	}
	e.amps = out
	rest = &DenseEngine{
		amps:     []complex128{1},
		deviceID: e.deviceID,
		registry: e.registry,
		rng:      rand.New(rand.NewSource(e.rng.Int63())),
	}
	if value {
		rest.amps = []complex128{0, 1}
	} else {
		rest.amps = []complex128{1, 0}
	}
	return value, rest
}

// InnerProduct computes <e|o> using gonum's conjugated complex dot product,
// the building block QBDT's SumSqrDiff uses for attached-leaf engines.
func InnerProduct(e, o *DenseEngine) complex128 {
	e.mu.Lock()
	o.mu.Lock()
	defer e.mu.Unlock()
	defer o.mu.Unlock()

	x := cblas128.Vector{N: len(e.amps), Inc: 1, Data: e.amps}
	y := cblas128.Vector{N: len(o.amps), Inc: 1, Data: o.amps}
	return cblas128.Dotc(x, y)
}
