// Package qbdt implements the quantum binary decision tree: a compressed
// tree representation of an N-qubit amplitude vector, gates applied
// directly on the compressed form with on-the-fly pruning.
package qbdt

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w", err) at call sites,
// exactly the pattern the teacher's errors.go uses.
var (
	// ErrNotSeparable is returned by Decompose / RemoveSeparableAtDepth
	// when the requested qubit range is not separable within eps.
	ErrNotSeparable = errors.New("qbdt: range is not separable")

	// ErrInvalidQubitIndex is returned for a qubit index outside the
	// register's current qubit count.
	ErrInvalidQubitIndex = errors.New("qbdt: invalid qubit index")

	// ErrNumericalDrift is returned when normalization is off and the
	// post-gate norm has deviated from 1 by more than the configured
	// tolerance.
	ErrNumericalDrift = errors.New("qbdt: numerical drift exceeds tolerance")

	// ErrFlatMode is returned by tree-structural operations that are
	// undefined while the register is in Flat (isStateVec) mode.
	ErrFlatMode = errors.New("qbdt: operation undefined in flat state-vector mode")
)
