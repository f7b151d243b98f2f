package engine

// Matrix2x2 is a single-qubit unitary in row-major order:
//
//	[ M[0] M[1] ]
//	[ M[2] M[3] ]
//
// acting on the (|0>, |1>) amplitude pair of the target qubit.
type Matrix2x2 [4]complex128

// Engine is the contract an attached leaf or a shard's backing state holds.
// It is the Go mirror of the backend interface this module treats as an
// external collaborator: gate math, device dispatch, and randomness all
// live behind this boundary. Every method here corresponds to one bullet
// in that interface list; none of them are optional.
type Engine interface {
	// GetAmplitude returns the complex amplitude of basis state perm.
	GetAmplitude(perm uint64) complex128
	// SetAmplitude writes the complex amplitude of basis state perm.
	SetAmplitude(perm uint64, c complex128)

	// Prob returns the marginal probability that qubit q measures to 1.
	Prob(q int) float64
	// ProbAll returns |amplitude(perm)|^2, clamped to [0,1].
	ProbAll(perm uint64) float64

	// ForceM measures qubit q. If doForce, result is taken as given rather
	// than sampled. If doApply, the post-measurement state is written back.
	ForceM(q int, result bool, doForce, doApply bool) bool
	// ForceMParity measures the parity of the qubits selected by mask.
	ForceMParity(mask uint64, result bool, doForce bool) bool
	// MAll performs a full measurement of every qubit and collapses to it.
	MAll() uint64

	// Mtrx applies an arbitrary single-qubit unitary to target.
	Mtrx(u Matrix2x2, target int)
	// MCMtrx applies u to target, controlled on every qubit in controls.
	MCMtrx(controls []int, u Matrix2x2, target int)
	// MCPhase applies a controlled diagonal phase gate to target.
	MCPhase(controls []int, topLeft, bottomRight complex128, target int)
	// MCInvert applies a controlled anti-diagonal (bit-flip-like) gate.
	MCInvert(controls []int, topRight, bottomLeft complex128, target int)

	// Compose appends other's qubits onto this engine, in place.
	Compose(other Engine) error

	// GetQubitCount returns the number of qubits this engine holds.
	GetQubitCount() int

	// SetDevice migrates this engine to the named device.
	SetDevice(id DeviceID)
	// GetDeviceID returns the device this engine currently resides on.
	GetDeviceID() DeviceID
	// GetMaxSize returns the amplitude-count capacity of the engine's
	// current device.
	GetMaxSize() uint64

	// Clone returns an independent deep copy of this engine.
	Clone() Engine
}
