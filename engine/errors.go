// Package engine defines the backend contract that QBDT attached leaves and
// QUnit shards delegate to, plus a reference dense state-vector
// implementation of that contract.
//
// Everything in this package is, in the language of the design this module
// follows, an "opaque dependency": the gate math a real backend runs, the
// accelerator driver it talks to, and its random number source are outside
// this module's concern. DenseEngine exists only so the tree and shard
// layers above it have something real to drive in tests.
package engine

import "errors"

// Errors surfaced by Engine implementations and the device registry.
var (
	// ErrInvalidQubitIndex indicates a qubit index outside [0, GetQubitCount()).
	ErrInvalidQubitIndex = errors.New("engine: invalid qubit index")

	// ErrDeviceCapacityExceeded indicates an engine would not fit on any
	// registered device's MaxSize.
	ErrDeviceCapacityExceeded = errors.New("engine: device capacity exceeded")

	// ErrUnknownDevice indicates a DeviceID not present in the registry.
	ErrUnknownDevice = errors.New("engine: unknown device")

	// ErrQubitCountMismatch indicates a Compose with an operand the engine
	// cannot combine with; DenseEngine.Compose returns it when other is not
	// a *DenseEngine.
	ErrQubitCountMismatch = errors.New("engine: qubit count mismatch")
)
