package qunit

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"

	"github.com/quantumcore/qbdtsim/engine"
)

// Register is the single-device shard-keeping base, spec §3.1/§4.3's
// "QUnit": one Shard per qubit at construction, entangled lazily as gates
// demand it, separated again whenever a measurement or Decompose proves a
// qubit has factored back out.
type Register struct {
	qubitCount int
	shards     shardTable
	config     *Config
	rng        *rand.Rand
	log        zerolog.Logger
}

// NewRegister builds a Register of qubitCount qubits, each its own
// one-qubit shard holding the corresponding bit of perm.
func NewRegister(qubitCount int, opts ...Option) (*Register, error) {
	if qubitCount <= 0 {
		return nil, fmt.Errorf("qunit: %w", ErrInvalidQubitIndex)
	}
	c := newConfig(opts...)
	r := &Register{
		qubitCount: qubitCount,
		shards:     newShardTable(qubitCount, c.InitialPermutation, c.Registry),
		config:     c,
		rng:        rand.New(rand.NewSource(1)),
		log:        c.Logger,
	}
	return r, nil
}

func (r *Register) validateQubit(q int) error {
	if q < 0 || q >= r.qubitCount {
		return fmt.Errorf("qunit: qubit %d: %w", q, ErrInvalidQubitIndex)
	}
	return nil
}

func (r *Register) registry() *engine.Registry { return r.config.Registry }

// GetQubitCount returns the number of logical qubits in the register.
func (r *Register) GetQubitCount() int { return r.qubitCount }

// Entangle merges the distinct backing engines of qubits into one engine
// and remaps their shards onto it, the base-class behavior
// EntangleInCurrentBasis specializes in QUnitMulti. It returns the merged
// engine and is a no-op (besides the lookup) when the requested qubits
// already share one engine.
func (r *Register) Entangle(qubits []int) (*engine.DenseEngine, error) {
	for _, q := range qubits {
		if err := r.validateQubit(q); err != nil {
			return nil, err
		}
	}
	if len(qubits) == 0 {
		return nil, fmt.Errorf("qunit: Entangle called with no qubits")
	}

	first := r.shards[qubits[0]].unit
	allSame := true
	for _, q := range qubits[1:] {
		if r.shards[q].unit != first {
			allSame = false
			break
		}
	}
	if allSame {
		return first, nil
	}

	units := make([]*engine.DenseEngine, 0, len(qubits))
	seen := make(map[*engine.DenseEngine]struct{})
	for _, q := range qubits {
		u := r.shards[q].unit
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		units = append(units, u)
	}

	merged := units[0]
	offsets := map[*engine.DenseEngine]int{merged: 0}
	for _, u := range units[1:] {
		offset := merged.GetQubitCount()
		if err := merged.Compose(u); err != nil {
			return nil, fmt.Errorf("qunit: entangle compose: %w", err)
		}
		offsets[u] = offset
	}

	for q := 0; q < r.qubitCount; q++ {
		s := &r.shards[q]
		if offset, ok := offsets[s.unit]; ok && s.unit != merged {
			s.mapped += offset
			s.unit = merged
		}
	}

	r.log.Debug().Ints("qubits", qubits).Int("size", merged.GetQubitCount()).Msg("qunit: entangled shards")
	return merged, nil
}

func (r *Register) mappedOf(qubits []int) (*engine.DenseEngine, []int, error) {
	unit, err := r.Entangle(qubits)
	if err != nil {
		return nil, nil, err
	}
	mapped := make([]int, len(qubits))
	for i, q := range qubits {
		mapped[i] = r.shards[q].mapped
	}
	return unit, mapped, nil
}

// Mtrx applies a single-qubit unitary, entangling nothing (a single-qubit
// target never needs to merge shards).
func (r *Register) Mtrx(u engine.Matrix2x2, target int) error {
	if err := r.validateQubit(target); err != nil {
		return err
	}
	s := r.shards[target]
	s.unit.Mtrx(u, s.mapped)
	return nil
}

// MCMtrx entangles target with every control into one shard, then applies
// u on that shard's backing engine.
func (r *Register) MCMtrx(controls []int, u engine.Matrix2x2, target int) error {
	unit, mapped, err := r.mappedOf(append(append([]int{}, controls...), target))
	if err != nil {
		return err
	}
	unit.MCMtrx(mapped[:len(controls)], u, mapped[len(controls)])
	return nil
}

// Prob returns the marginal probability that qubit measures to 1.
func (r *Register) Prob(qubit int) (float64, error) {
	if err := r.validateQubit(qubit); err != nil {
		return 0, err
	}
	s := r.shards[qubit]
	return s.unit.Prob(s.mapped), nil
}

// ForceM measures one qubit, separating it back into its own one-qubit
// shard once the measurement resolves it to a product state.
func (r *Register) ForceM(qubit int, result bool, doForce, doApply bool) (bool, error) {
	if err := r.validateQubit(qubit); err != nil {
		return false, err
	}
	s := r.shards[qubit]
	got := s.unit.ForceM(s.mapped, result, doForce, doApply)
	if doApply && s.unit.GetQubitCount() > 1 {
		r.separateBitLocked(got, qubit)
	}
	return got, nil
}

// MAll measures every qubit and returns the resulting basis-state
// permutation.
func (r *Register) MAll() (uint64, error) {
	var perm uint64
	for q := 0; q < r.qubitCount; q++ {
		bit, err := r.ForceM(q, false, false, true)
		if err != nil {
			return 0, err
		}
		if bit {
			perm |= uint64(1) << uint(q)
		}
	}
	return perm, nil
}

// SeparateBit extracts qubit into its own one-qubit shard, given that its
// current backing engine has already collapsed it to a product state
// (true immediately after ForceM, which is the only caller in this base
// implementation — QUnitMulti.SeparateBit calls this then redistributes).
func (r *Register) SeparateBit(value bool, qubit int) error {
	if err := r.validateQubit(qubit); err != nil {
		return err
	}
	r.separateBitLocked(value, qubit)
	return nil
}

func (r *Register) separateBitLocked(value bool, qubit int) {
	s := r.shards[qubit]
	if s.unit.GetQubitCount() <= 1 {
		return
	}
	_, rest := s.unit.DetachQubit(s.mapped)

	for q := 0; q < r.qubitCount; q++ {
		other := &r.shards[q]
		if other.unit != s.unit {
			continue
		}
		if q == qubit {
			other.unit = rest
			other.mapped = 0
			continue
		}
		if other.mapped > s.mapped {
			other.mapped--
		}
	}
	r.log.Debug().Int("qubit", qubit).Bool("value", value).Msg("qunit: separated shard")
}

// Detach removes length qubits starting at start into dest (a fresh
// Register of length qubits), by entangling them together first and then
// handing the merged engine's amplitude data to dest via Compose/Clone
// semantics matching the source's Detach-into-destination contract.
func (r *Register) Detach(start, length int, dest *Register) error {
	qubits := make([]int, length)
	for i := range qubits {
		qubits[i] = start + i
	}
	unit, err := r.Entangle(qubits)
	if err != nil {
		return err
	}

	if dest != nil {
		dest.qubitCount = length
		dest.shards = make(shardTable, length)
		for i := range qubits {
			dest.shards[i] = shard{unit: unit.Clone().(*engine.DenseEngine), mapped: r.shards[qubits[i]].mapped}
		}
		dest.config = r.config
		dest.rng = rand.New(rand.NewSource(r.rng.Int63()))
		dest.log = r.log
	}

	remaining := make([]int, 0, r.qubitCount-length)
	for q := 0; q < r.qubitCount; q++ {
		if q < start || q >= start+length {
			remaining = append(remaining, q)
		}
	}
	newShards := make(shardTable, len(remaining))
	for i, q := range remaining {
		newShards[i] = r.shards[q]
	}
	r.shards = newShards
	r.qubitCount = len(remaining)
	return nil
}

// Clone returns an independent deep copy of the register: every distinct
// backing engine is cloned once and shards are remapped onto the clones,
// preserving shared-entanglement structure.
func (r *Register) Clone() *Register {
	clones := make(map[*engine.DenseEngine]*engine.DenseEngine)
	newShards := make(shardTable, r.qubitCount)
	for q, s := range r.shards {
		c, ok := clones[s.unit]
		if !ok {
			c = s.unit.Clone().(*engine.DenseEngine)
			clones[s.unit] = c
		}
		newShards[q] = shard{unit: c, mapped: s.mapped}
	}
	return &Register{
		qubitCount: r.qubitCount,
		shards:     newShards,
		config:     r.config,
		rng:        rand.New(rand.NewSource(r.rng.Int63())),
		log:        r.log,
	}
}

// GetQuantumState forces full entanglement of every qubit into one engine,
// ordered by logical qubit index, and copies out its amplitude vector.
func (r *Register) GetQuantumState(out []complex128) error {
	all := make([]int, r.qubitCount)
	for i := range all {
		all[i] = i
	}
	unit, err := r.Entangle(all)
	if err != nil {
		return err
	}
	r.orderContiguous(unit)
	for perm := range out {
		out[perm] = unit.GetAmplitude(uint64(perm))
	}
	return nil
}

// GetProbs is GetQuantumState's squared-modulus counterpart.
func (r *Register) GetProbs(out []float64) error {
	state := make([]complex128, len(out))
	if err := r.GetQuantumState(state); err != nil {
		return err
	}
	for i, a := range state {
		out[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	return nil
}

// orderContiguous permutes unit's amplitude index so that local qubit
// positions ascend in the same order as the register's logical qubit
// index, mirroring QUnit::OrderContiguous. After this call, r.shards[q]
// for every q backed by unit has mapped == q's rank among unit's qubits.
func (r *Register) orderContiguous(unit *engine.DenseEngine) {
	type entry struct {
		qubit, mapped int
	}
	var entries []entry
	for q, s := range r.shards {
		if s.unit == unit {
			entries = append(entries, entry{q, s.mapped})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].qubit < entries[j].qubit })

	perm := make([]int, len(entries))
	for want, e := range entries {
		perm[want] = e.mapped
	}
	if isIdentityPerm(perm) {
		return
	}

	n := 1 << len(perm)
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = unit.GetAmplitude(permuteIndex(uint64(i), perm))
	}
	for i, a := range out {
		unit.SetAmplitude(uint64(i), a)
	}
	for want, e := range entries {
		r.shards[e.qubit].mapped = want
	}
}

func isIdentityPerm(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}

// permuteIndex maps a basis index expressed in "wanted" bit order back to
// the engine's current bit order, where perm[want] gives the engine's
// local qubit backing wanted position want.
func permuteIndex(i uint64, perm []int) uint64 {
	var out uint64
	for want, from := range perm {
		bit := (i >> uint(want)) & 1
		out |= bit << uint(from)
	}
	return out
}
