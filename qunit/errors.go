// Package qunit implements the shard-partitioned multi-device register:
// a QUnit base that keeps qubits separable for as long as algebraically
// possible, and QUnitMulti, which layers bin-packing device placement on
// top of it.
package qunit

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w", err) at call sites,
// the same pattern the qbdt package and the teacher's errors.go use.
var (
	// ErrInvalidQubitIndex is returned for a qubit index outside the
	// register's current qubit count.
	ErrInvalidQubitIndex = errors.New("qunit: invalid qubit index")

	// ErrDeviceCapacityExceeded names the case where an entangle would
	// produce an engine larger than any registered device's MaxSize. No
	// operation in this package returns it: EntangleInCurrentBasis
	// recovers by moving the first engine to the default device and
	// proceeding.
	ErrDeviceCapacityExceeded = errors.New("qunit: entangled engine exceeds every device's capacity")

	// ErrNoDevices is returned by RedistributeQEngines and
	// EntangleInCurrentBasis when the registry has no registered device.
	ErrNoDevices = errors.New("qunit: no devices registered")
)
