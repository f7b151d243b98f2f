package qbdt

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/quantumcore/qbdtsim/engine"
)

// Config holds construction-time parameters recognized by NewQBdt, per
// spec §6's "Configuration recognized at construction" list. It follows
// the teacher's options.go: a plain struct of defaults, mutated by Option
// functions before use.
type Config struct {
	// InitialPermutation is the basis state NewQBdt starts from.
	InitialPermutation uint64
	// GlobalPhase is an optional phase factor applied to the initial
	// scale, for implementations that want a non-1 global phase at
	// construction.
	GlobalPhase complex128
	// RandomGlobalPhase, if set, draws the initial global phase from the
	// register's random source instead of using GlobalPhase verbatim.
	RandomGlobalPhase bool
	// Normalize, when true, auto-renormalizes after a gate whose
	// resulting norm has drifted from 1; when false, drift is surfaced
	// as ErrNumericalDrift instead.
	Normalize bool
	// NormTolerance is the allowed deviation from norm 1 before drift is
	// considered significant.
	NormTolerance float64
	// AmplitudeFloor is ForceM's post-measurement norm floor and the
	// smallest squared norm the post-gate drift check renormalizes. Prune
	// and Node.IsZero do not read it: they always use the package-level
	// amplitudeFloor constant.
	AmplitudeFloor float64
	// AttachedQubitCount is the number of qubits held in an AttachedLeaf
	// engine rather than the tree itself. 0 means a pure tree register.
	AttachedQubitCount int
	// Registry is the device registry consulted when an AttachedLeaf
	// engine is created or migrated.
	Registry *engine.Registry
	// Workers bounds the parallel fan-out's worker count; 0 means
	// runtime.GOMAXPROCS(0).
	Workers int
	// Timeout is advisory only and is not read by any operation;
	// cancellation comes solely from the context.Context a caller passes
	// to each traversal.
	Timeout time.Duration
	// Logger receives gate-call tracing at Debug level. Defaults to
	// zerolog.Nop() so importing this package has no logging side effects.
	Logger zerolog.Logger
}

// Option mutates a Config. The zero value of Option must never be called;
// construct one via the With... functions.
type Option func(*Config)

// WithInitialPermutation sets the basis state the register starts from.
func WithInitialPermutation(perm uint64) Option {
	return func(c *Config) { c.InitialPermutation = perm }
}

// WithGlobalPhase sets a fixed global phase factor at construction.
func WithGlobalPhase(phase complex128) Option {
	return func(c *Config) { c.GlobalPhase = phase }
}

// WithRandomGlobalPhase enables drawing the initial phase from the
// register's random source.
func WithRandomGlobalPhase() Option {
	return func(c *Config) { c.RandomGlobalPhase = true }
}

// WithNormalization turns on auto-renormalization after numerical drift.
func WithNormalization(tolerance float64) Option {
	return func(c *Config) {
		c.Normalize = true
		c.NormTolerance = tolerance
	}
}

// WithAmplitudeFloor sets Config.AmplitudeFloor (ForceM's norm floor); the
// zero-collapse threshold used by Prune is not affected.
func WithAmplitudeFloor(floor float64) Option {
	return func(c *Config) { c.AmplitudeFloor = floor }
}

// WithAttachedQubitCount reserves the high-order attachedCount qubits for
// an AttachedLeaf engine instead of tree structure.
func WithAttachedQubitCount(attachedCount int) Option {
	return func(c *Config) { c.AttachedQubitCount = attachedCount }
}

// WithRegistry sets the device registry consulted for AttachedLeaf
// placement.
func WithRegistry(r *engine.Registry) Option {
	return func(c *Config) { c.Registry = r }
}

// WithWorkers bounds the parallel fan-out's worker count. A value <= 0
// falls back to runtime.GOMAXPROCS(0).
func WithWorkers(workers int) Option {
	return func(c *Config) { c.Workers = workers }
}

// WithTimeout records an advisory timeout in Config; no operation reads it.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the logger gate calls trace to at Debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func newConfig(opts ...Option) *Config {
	c := &Config{
		GlobalPhase:    1,
		Normalize:      true,
		NormTolerance:  1e-6,
		AmplitudeFloor: amplitudeFloor,
		Workers:        0,
		Logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
