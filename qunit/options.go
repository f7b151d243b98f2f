package qunit

import (
	"github.com/rs/zerolog"

	"github.com/quantumcore/qbdtsim/engine"
)

// Config holds construction-time parameters recognized by NewRegister and
// NewMulti, following the same functional-options shape as qbdt.Config.
type Config struct {
	// InitialPermutation is the basis state every per-qubit shard starts
	// from.
	InitialPermutation uint64
	// GlobalPhase is recorded in the Config but not applied: every shard
	// starts with amplitude exactly 1 on its initial basis state.
	GlobalPhase complex128
	// Registry is the device registry QUnitMulti redistributes engines
	// across. Required for NewMulti; NewRegister uses it only to place
	// each shard's initial engine on the registry's default device.
	Registry *engine.Registry
	// QubitThreshold is the "hybrid threshold" from spec §4.3: engines
	// with a qubit count at or below this are left wherever they are
	// (typically the CPU/default device) by RedistributeQEngines.
	QubitThreshold int
	// Logger receives shard lifecycle events (entangle, separate,
	// redistribute) at Debug level. Defaults to zerolog.Nop().
	Logger zerolog.Logger
}

// Option mutates a Config.
type Option func(*Config)

// WithInitialPermutation sets the basis state every shard starts from.
func WithInitialPermutation(perm uint64) Option {
	return func(c *Config) { c.InitialPermutation = perm }
}

// WithGlobalPhase records a global phase factor in Config; shard
// construction does not apply it.
func WithGlobalPhase(phase complex128) Option {
	return func(c *Config) { c.GlobalPhase = phase }
}

// WithRegistry sets the device registry QUnitMulti places engines on.
func WithRegistry(r *engine.Registry) Option {
	return func(c *Config) { c.Registry = r }
}

// WithQubitThreshold sets the hybrid threshold below which
// RedistributeQEngines leaves an engine's device assignment alone.
func WithQubitThreshold(threshold int) Option {
	return func(c *Config) { c.QubitThreshold = threshold }
}

// WithLogger sets the logger shard lifecycle events trace to.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func newConfig(opts ...Option) *Config {
	c := &Config{
		GlobalPhase:    1,
		QubitThreshold: 1,
		Logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
