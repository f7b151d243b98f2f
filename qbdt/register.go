package qbdt

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quantumcore/qbdtsim/engine"
)

// matrix shape classification, used by MCMtrx to dispatch between the
// cheap diagonal/anti-diagonal fast paths and the general Apply2x2 combine.
const (
	matrixGeneral = iota
	matrixPhase
	matrixInvert
)

// QBdt is the public quantum-register surface backed by the tree: the Go
// mirror of spec §4.2's QBdt operations, grounded line-for-line against
// original_source/src/qbdt/tree.cpp.
type QBdt struct {
	mu sync.RWMutex

	bdtQubitCount      int
	attachedQubitCount int
	qubitCount         int
	root               *Node
	isStateVec         bool

	config *Config
	rng    *rand.Rand
	log    zerolog.Logger
}

// NewQBdt builds a register of qubitCount qubits, initialized to the basis
// state and options given.
func NewQBdt(qubitCount int, opts ...Option) (*QBdt, error) {
	if qubitCount <= 0 {
		return nil, fmt.Errorf("qbdt: qubit count must be positive: %w", ErrInvalidQubitIndex)
	}
	cfg := newConfig(opts...)
	if cfg.AttachedQubitCount < 0 || cfg.AttachedQubitCount > qubitCount {
		return nil, fmt.Errorf("qbdt: attached qubit count %d out of range: %w", cfg.AttachedQubitCount, ErrInvalidQubitIndex)
	}

	q := &QBdt{
		bdtQubitCount:      qubitCount - cfg.AttachedQubitCount,
		attachedQubitCount: cfg.AttachedQubitCount,
		qubitCount:         qubitCount,
		config:             cfg,
		rng:                rand.New(rand.NewSource(1)),
		log:                cfg.Logger,
	}

	phase := cfg.GlobalPhase
	if cfg.RandomGlobalPhase {
		theta := q.rng.Float64() * 2 * math.Pi
		phase = cmplx.Exp(complex(0, theta))
	}
	if err := q.setPermutationLocked(cfg.InitialPermutation, phase); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QBdt) registry() *engine.Registry { return q.config.Registry }

func cmplxAbs2(c complex128) float64 { return real(c)*real(c) + imag(c)*imag(c) }

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (q *QBdt) sample(oneChance float64) bool {
	if oneChance >= 1 {
		return true
	}
	if oneChance <= 0 {
		return false
	}
	return q.rng.Float64() <= oneChance
}

func (q *QBdt) validateQubit(qubit int) error {
	if qubit < 0 || qubit >= q.qubitCount {
		return ErrInvalidQubitIndex
	}
	return nil
}

func bitAtDepth(perm uint64, bdtQubitCount, depth int) int {
	shift := bdtQubitCount - 1 - depth
	return int((perm >> uint(shift)) & 1)
}

// depthOf converts a raw tree-qubit index into the tree depth that
// indexes it, per spec §6's bit order: depth 0 is the most-significant
// tree qubit (bdtQubitCount-1), depth bdtQubitCount-1 is tree qubit 0.
// Every function that descends the tree by depth (probTreeQubit,
// collapseTreeQubit, collectControlled) must be called with a depth, not
// a raw qubit index — this is the single conversion point.
func depthOf(bdtQubitCount, qubit int) int {
	return bdtQubitCount - 1 - qubit
}

func classifyMatrix(u engine.Matrix2x2) int {
	if cmplx.Abs(u[1]) < eps && cmplx.Abs(u[2]) < eps {
		return matrixPhase
	}
	if cmplx.Abs(u[0]) < eps && cmplx.Abs(u[3]) < eps {
		return matrixInvert
	}
	return matrixGeneral
}

func splitControls(controls []int, bdtQubitCount int) (low, ket []int) {
	for _, c := range controls {
		if c < bdtQubitCount {
			low = append(low, c)
		} else {
			ket = append(ket, c-bdtQubitCount)
		}
	}
	return low, ket
}

// applyControlledSingle mutates n in place for a gate that has already
// survived every control check leading to it — the shape dispatch
// tree.cpp's MCMtrx performs (pure phase, pure bit-flip, or the general
// Apply2x2 combine).
func applyControlledSingle(n *Node, u engine.Matrix2x2) {
	n.Branch()
	switch classifyMatrix(u) {
	case matrixPhase:
		lo, hi := n.branches[0], n.branches[1]
		n.branches[0] = scaledClone(lo, u[0])
		n.branches[1] = scaledClone(hi, u[3])
	case matrixInvert:
		lo, hi := n.branches[0], n.branches[1]
		n.branches[0], n.branches[1] = scaledClone(hi, u[1]), scaledClone(lo, u[2])
	default:
		n.Apply2x2(u)
	}
}

// ---- SetPermutation ----

func (q *QBdt) SetPermutation(initState uint64, phase complex128) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setPermutationLocked(initState, phase)
}

func (q *QBdt) setPermutationLocked(initState uint64, phase complex128) error {
	if phase == 0 {
		phase = 1
	}

	var leaf *Node
	if q.attachedQubitCount > 0 {
		eng := engine.NewDenseEngine(q.attachedQubitCount, initState>>uint(q.bdtQubitCount), q.registry())
		leaf = newAttachedLeaf(1, eng)
	} else {
		leaf = oneNode
	}

	node := leaf
	for d := q.bdtQubitCount - 1; d >= 0; d-- {
		bit := bitAtDepth(initState, q.bdtQubitCount, d)
		branches := [2]*Node{zeroNode, zeroNode}
		branches[bit] = node
		scale := complex128(1)
		if d == 0 {
			scale = phase
		}
		node = &Node{scale: scale, branches: branches}
	}

	q.root = node
	q.isStateVec = false
	q.log.Debug().Uint64("perm", initState).Msg("qbdt: set permutation")
	return nil
}

// ---- GetAmplitude / GetQuantumState / GetProbs ----

func (q *QBdt) GetAmplitude(perm uint64) complex128 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.getAmplitudeLocked(perm)
}

func (q *QBdt) getAmplitudeLocked(perm uint64) complex128 {
	if q.isStateVec {
		return q.root.leaf.engine.GetAmplitude(perm)
	}

	n := q.root
	amp := complex128(1)
	for d := 0; d < q.bdtQubitCount; d++ {
		if n.IsZero() {
			return 0
		}
		amp *= n.scale
		bit := bitAtDepth(perm, q.bdtQubitCount, d)
		n = n.branches[bit]
	}
	if n.IsZero() {
		return 0
	}
	amp *= n.scale
	if n.leaf != nil {
		amp *= n.leaf.engine.GetAmplitude(perm >> uint(q.bdtQubitCount))
	}
	return amp
}

func (q *QBdt) GetQuantumState(ctx context.Context, out []complex128) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	size := uint64(1) << uint(q.qubitCount)
	if uint64(len(out)) != size {
		return fmt.Errorf("qbdt: GetQuantumState buffer size %d, want %d", len(out), size)
	}
	return parForQBDT(ctx, 0, size, q.config.Workers, func(i uint64, _ int) (uint64, error) {
		out[i] = q.getAmplitudeLocked(i)
		return 0, nil
	})
}

func (q *QBdt) GetProbs(ctx context.Context, out []float64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	size := uint64(1) << uint(q.qubitCount)
	if uint64(len(out)) != size {
		return fmt.Errorf("qbdt: GetProbs buffer size %d, want %d", len(out), size)
	}
	return parForQBDT(ctx, 0, size, q.config.Workers, func(i uint64, _ int) (uint64, error) {
		out[i] = clamp01(cmplxAbs2(q.getAmplitudeLocked(i)))
		return 0, nil
	})
}

func buildFromDense(in []complex128, bdtQubitCount, attachedQubitCount int, treeVal uint64, depthRemaining int) *Node {
	if depthRemaining == 0 {
		if attachedQubitCount == 0 {
			return scaledTerminal(in[treeVal])
		}
		eng := engine.NewDenseEngine(attachedQubitCount, 0, nil)
		attachedSize := uint64(1) << uint(attachedQubitCount)
		for a := uint64(0); a < attachedSize; a++ {
			perm := (a << uint(bdtQubitCount)) | treeVal
			eng.SetAmplitude(a, in[perm])
		}
		return newAttachedLeaf(1, eng)
	}
	lo := buildFromDense(in, bdtQubitCount, attachedQubitCount, treeVal<<1, depthRemaining-1)
	hi := buildFromDense(in, bdtQubitCount, attachedQubitCount, treeVal<<1|1, depthRemaining-1)
	return newInterior(1, lo, hi)
}

func (q *QBdt) SetQuantumState(in []complex128) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := uint64(1) << uint(q.qubitCount)
	if uint64(len(in)) != size {
		return fmt.Errorf("qbdt: SetQuantumState buffer size %d, want %d", len(in), size)
	}

	q.root = buildFromDense(in, q.bdtQubitCount, q.attachedQubitCount, 0, q.bdtQubitCount)
	popStateVector(q.root, q.bdtQubitCount)
	q.root = prune(q.root, q.bdtQubitCount)
	q.isStateVec = false
	return nil
}

// ---- Prob / ProbAll ----

// probTreeQubit descends the tree accumulating |path scale|^2 for the
// qubit at tree depth targetDepth. Callers pass a depth, not a raw qubit
// index — convert with depthOf first.
func probTreeQubit(n *Node, pathScale complex128, targetDepth, depth int) float64 {
	if n.IsZero() {
		return 0
	}
	scale := pathScale * n.scale
	if depth == targetDepth {
		one := n.branches[1]
		if one.IsZero() {
			return 0
		}
		return cmplxAbs2(scale * one.scale)
	}
	return probTreeQubit(n.branches[0], scale, targetDepth, depth+1) +
		probTreeQubit(n.branches[1], scale, targetDepth, depth+1)
}

// probAttachedQubit accumulates |path scale|^2 * engine.Prob(attachedTarget)
// per distinct engine, caching so a shared engine reached by many paths is
// not asked for its probability more than once.
//
// Phase effects don't matter, for probability expectation. TODO: Is this
// right? Treating contributions from different paths reaching the same
// attached engine as incoherent is not generally correct for an entangled
// system; this module keeps the behavior of the system it models rather
// than silently changing the math (see DESIGN.md's open question).
func probAttachedQubit(n *Node, pathScale complex128, bdtQubitCount, attachedTarget, depth int, cache map[engine.Engine]float64) float64 {
	if n.IsZero() {
		return 0
	}
	scale := pathScale * n.scale
	if depth == bdtQubitCount {
		eng := n.leaf.engine
		prob, ok := cache[eng]
		if !ok {
			prob = eng.Prob(attachedTarget)
			cache[eng] = prob
		}
		return cmplxAbs2(scale) * prob
	}
	return probAttachedQubit(n.branches[0], scale, bdtQubitCount, attachedTarget, depth+1, cache) +
		probAttachedQubit(n.branches[1], scale, bdtQubitCount, attachedTarget, depth+1, cache)
}

func (q *QBdt) Prob(qubit int) (float64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.probLocked(qubit)
}

func (q *QBdt) probLocked(qubit int) (float64, error) {
	if err := q.validateQubit(qubit); err != nil {
		return 0, err
	}
	if q.isStateVec {
		return q.root.leaf.engine.Prob(qubit), nil
	}
	if qubit < q.bdtQubitCount {
		return clamp01(probTreeQubit(q.root, 1, depthOf(q.bdtQubitCount, qubit), 0)), nil
	}
	cache := map[engine.Engine]float64{}
	return clamp01(probAttachedQubit(q.root, 1, q.bdtQubitCount, qubit-q.bdtQubitCount, 0, cache)), nil
}

func (q *QBdt) ProbAll(perm uint64) float64 {
	return clamp01(cmplxAbs2(q.GetAmplitude(perm)))
}

// ---- ForceM / MAll ----

// collapseTreeQubit forces the qubit at tree depth targetDepth to result.
// Callers pass a depth, not a raw qubit index — convert with depthOf first.
func collapseTreeQubit(n *Node, targetDepth, depth int, result bool, factor complex128) {
	if n.IsZero() {
		return
	}
	n.Branch()
	if depth == targetDepth {
		keep := 0
		if result {
			keep = 1
		}
		n.branches[1-keep] = zeroNode
		if !n.branches[keep].IsZero() {
			n.branches[keep] = scaledClone(n.branches[keep], factor)
		}
		return
	}
	collapseTreeQubit(n.branches[0], targetDepth, depth+1, result, factor)
	collapseTreeQubit(n.branches[1], targetDepth, depth+1, result, factor)
}

func collapseAttachedQubit(n *Node, bdtQubitCount, attachedTarget, depth int, result bool, factor complex128) {
	if n.IsZero() {
		return
	}
	n.Branch()
	if depth == bdtQubitCount {
		n.leaf.engine.ForceM(attachedTarget, result, true, true)
		n.scale *= factor
		return
	}
	collapseAttachedQubit(n.branches[0], bdtQubitCount, attachedTarget, depth+1, result, factor)
	collapseAttachedQubit(n.branches[1], bdtQubitCount, attachedTarget, depth+1, result, factor)
}

func (q *QBdt) ForceM(qubit int, result bool, doForce, doApply bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.validateQubit(qubit); err != nil {
		return false, err
	}

	oneChance, err := q.probLocked(qubit)
	if err != nil {
		return false, err
	}
	if !doForce {
		result = q.sample(oneChance)
	}
	if !doApply {
		return result, nil
	}

	norm := oneChance
	if !result {
		norm = 1 - oneChance
	}
	if norm < q.config.AmplitudeFloor {
		norm = q.config.AmplitudeFloor
	}
	factor := complex(1/math.Sqrt(norm), 0)

	if q.isStateVec {
		q.root.Branch()
		q.root.leaf.engine.ForceM(qubit, result, true, true)
		return result, nil
	}

	if qubit < q.bdtQubitCount {
		collapseTreeQubit(q.root, depthOf(q.bdtQubitCount, qubit), 0, result, factor)
	} else {
		collapseAttachedQubit(q.root, q.bdtQubitCount, qubit-q.bdtQubitCount, 0, result, factor)
	}
	q.root = prune(q.root, q.bdtQubitCount)
	q.log.Debug().Int("qubit", qubit).Bool("result", result).Msg("qbdt: force measured")
	return result, nil
}

func (q *QBdt) MAll() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isStateVec {
		q.root.Branch()
		val := q.root.leaf.engine.MAll()
		if err := q.setPermutationLocked(val, 1); err != nil {
			return 0, err
		}
		return val, nil
	}

	var measured uint64
	n := q.root
	for d := 0; d < q.bdtQubitCount; d++ {
		n.Branch()
		p0 := cmplxAbs2(n.scale * n.branches[0].scale)
		p1 := cmplxAbs2(n.scale * n.branches[1].scale)
		total := p0 + p1

		bit := 0
		if total > 0 && q.rng.Float64()*total <= p1 {
			bit = 1
		}

		n.branches[1-bit] = zeroNode
		n.branches[bit] = scaledClone(n.branches[bit], 1/n.branches[bit].scale)
		n.scale = 1
		measured = measured<<1 | uint64(bit)
		n = n.branches[bit]
	}

	if n.leaf != nil {
		n.Branch()
		attachedVal := n.leaf.engine.MAll()
		measured = (attachedVal << uint(q.bdtQubitCount)) | measured
	}

	if err := q.setPermutationLocked(measured, 1); err != nil {
		return 0, err
	}
	return measured, nil
}

// ---- Mtrx / MCMtrx ----

// collectControlled walks down to tree depth targetDepth, consulting
// lowSet (keyed by depth, not raw qubit index) at every shallower depth to
// restrict the walk to the branch where that control is satisfied, and
// appends every surviving node at targetDepth to out. Callers pass a
// depth for targetDepth and depth keys in lowSet — convert raw qubit
// indices with depthOf first. Controls deeper than targetDepth are not
// handled here; see applyGateThroughDeepControls.
func collectControlled(n *Node, depth, targetDepth int, lowSet map[int]bool, out *[]*Node) {
	if n.IsZero() {
		return
	}
	n.Branch()
	if depth == targetDepth {
		*out = append(*out, n)
		return
	}
	if lowSet[depth] {
		collectControlled(n.branches[1], depth+1, targetDepth, lowSet, out)
		return
	}
	collectControlled(n.branches[0], depth+1, targetDepth, lowSet, out)
	collectControlled(n.branches[1], depth+1, targetDepth, lowSet, out)
}

// mixPair applies u to the (lo, hi) pair directly — the pairwise
// equivalent of applyControlledSingle, used when the gate must be
// threaded past deep controls rather than applied to a single node's own
// branches.
func mixPair(lo, hi *Node, u engine.Matrix2x2) (*Node, *Node) {
	switch classifyMatrix(u) {
	case matrixPhase:
		return scaledClone(lo, u[0]), scaledClone(hi, u[3])
	case matrixInvert:
		return scaledClone(hi, u[1]), scaledClone(lo, u[2])
	default:
		return combineSum(lo, u[0], hi, u[1]), combineSum(lo, u[2], hi, u[3])
	}
}

// treeChild returns n's child i, or zeroNode if n is already a pruned
// zero subtree — zeroNode carries no real branches to descend into.
func treeChild(n *Node, i int) *Node {
	if n.IsZero() {
		return zeroNode
	}
	return n.branches[i]
}

// rebuildChild returns a node carrying n's scale over the (lo, hi) pair,
// collapsing to zeroNode if both children vanished.
func rebuildChild(n *Node, lo, hi *Node) *Node {
	if lo.IsZero() && hi.IsZero() {
		return zeroNode
	}
	scale := complex128(1)
	if !n.IsZero() {
		scale = n.scale
	}
	return newInterior(scale, lo, hi)
}

// applyGateThroughDeepControls threads a 2x2 gate past deep controls —
// tree controls below the target in depth, i.e. whose raw qubit index is
// smaller than the target's — mixing the (lo, hi) pair only along the
// branch where every deep control resolves to 1, and leaving the
// control-unsatisfied branch exactly as it was. This is the explicit
// alternative to the spec's isSwapped swap-to-deepest optimization
// (§4.2/§9): the gate is still logically applied at the target's own
// depth, just threaded down to wherever the deep controls live instead of
// moving the target to meet them.
func applyGateThroughDeepControls(lo, hi *Node, depth, maxDepth int, deepSet map[int]bool, u engine.Matrix2x2) (*Node, *Node) {
	if lo.IsZero() && hi.IsZero() {
		return lo, hi
	}
	if depth > maxDepth {
		return mixPair(lo, hi, u)
	}

	lo0, lo1 := treeChild(lo, 0), treeChild(lo, 1)
	hi0, hi1 := treeChild(hi, 0), treeChild(hi, 1)

	if deepSet[depth] {
		newLo1, newHi1 := applyGateThroughDeepControls(lo1, hi1, depth+1, maxDepth, deepSet, u)
		return rebuildChild(lo, lo0, newLo1), rebuildChild(hi, hi0, newHi1)
	}
	newLo0, newHi0 := applyGateThroughDeepControls(lo0, hi0, depth+1, maxDepth, deepSet, u)
	newLo1, newHi1 := applyGateThroughDeepControls(lo1, hi1, depth+1, maxDepth, deepSet, u)
	return rebuildChild(lo, newLo0, newLo1), rebuildChild(hi, newHi0, newHi1)
}

func (q *QBdt) Mtrx(ctx context.Context, u engine.Matrix2x2, target int) error {
	return q.MCMtrx(ctx, nil, u, target)
}

func (q *QBdt) MCMtrx(ctx context.Context, controls []int, u engine.Matrix2x2, target int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.validateQubit(target); err != nil {
		return err
	}
	for _, c := range controls {
		if err := q.validateQubit(c); err != nil {
			return err
		}
	}

	lowControls, ketControls := splitControls(controls, q.bdtQubitCount)

	if q.isStateVec {
		return q.dispatchLeafControlled(q.root, controls, u, target)
	}

	if len(ketControls) > 0 && target < q.bdtQubitCount {
		// Mixed tree/ket controls straddling the attached boundary: the
		// swap-to-deepest optimization only covers target < bdtQubitCount
		// with purely tree-side controls (spec's isSwapped open question).
		// Collapsing to the dense fallback first is always correct, just
		// not always optimal.
		if err := q.setStateVectorLocked(ctx); err != nil {
			return err
		}
		return q.dispatchLeafControlled(q.root, controls, u, target)
	}

	q.log.Debug().Ints("controls", controls).Int("target", target).Msg("qbdt: gate")

	if target >= q.bdtQubitCount {
		if err := q.applyAttachedControlled(ctx, lowControls, ketControls, u, target-q.bdtQubitCount); err != nil {
			return err
		}
		return q.checkNormDriftLocked()
	}
	if err := q.applyTreeControlled(ctx, lowControls, u, target); err != nil {
		return err
	}
	return q.checkNormDriftLocked()
}

// treeNormSquared sums |amplitude|^2 over every basis state reachable
// through n, in O(nodes) rather than O(2^qubits): each interior node's
// scale multiplies both of its children's contributions, and an attached
// leaf's own engine is trusted to keep itself normalized (an opaque
// dependency, per engine's doc comment).
func treeNormSquared(n *Node) float64 {
	if n.IsZero() {
		return 0
	}
	scale2 := cmplxAbs2(n.scale)
	if n.IsTerminal() {
		return scale2
	}
	return scale2 * (treeNormSquared(n.branches[0]) + treeNormSquared(n.branches[1]))
}

// checkNormDriftLocked enforces spec §7's normalization-recovery policy
// after a gate: if the tree's norm has drifted from 1 by more than
// Config.NormTolerance, it auto-renormalizes when Config.Normalize is
// set, otherwise it surfaces ErrNumericalDrift so the caller can decide
// what to do about it.
func (q *QBdt) checkNormDriftLocked() error {
	if q.isStateVec {
		return nil
	}
	norm2 := treeNormSquared(q.root)
	drift := math.Abs(norm2 - 1)
	if drift <= q.config.NormTolerance {
		return nil
	}
	if !q.config.Normalize {
		return fmt.Errorf("qbdt: norm %.3g drifted by %.3g: %w", math.Sqrt(norm2), drift, ErrNumericalDrift)
	}
	if norm2 < q.config.AmplitudeFloor {
		return nil
	}
	q.root = scaledClone(q.root, complex(1/math.Sqrt(norm2), 0))
	q.log.Debug().Float64("norm", norm2).Msg("qbdt: renormalized after drift")
	return nil
}

// lowControlDepths splits lowControls (raw tree-qubit indices) by depth
// relative to targetDepth: shallow ones (encountered above the target
// during a top-down walk) go in lowSet keyed by depth, deep ones (below
// the target) are returned separately for applyGateThroughDeepControls.
func lowControlDepths(lowControls []int, bdtQubitCount, targetDepth int) (lowSet map[int]bool, deepSet map[int]bool, maxDeepDepth int) {
	lowSet = map[int]bool{}
	maxDeepDepth = targetDepth
	for _, c := range lowControls {
		d := depthOf(bdtQubitCount, c)
		if d < targetDepth {
			lowSet[d] = true
			continue
		}
		if deepSet == nil {
			deepSet = map[int]bool{}
		}
		deepSet[d] = true
		if d > maxDeepDepth {
			maxDeepDepth = d
		}
	}
	return lowSet, deepSet, maxDeepDepth
}

func (q *QBdt) applyTreeControlled(ctx context.Context, lowControls []int, u engine.Matrix2x2, target int) error {
	targetDepth := depthOf(q.bdtQubitCount, target)
	lowSet, deepSet, maxDeepDepth := lowControlDepths(lowControls, q.bdtQubitCount, targetDepth)

	var nodes []*Node
	collectControlled(q.root, 0, targetDepth, lowSet, &nodes)

	apply := func(n *Node) {
		applyControlledSingle(n, u)
	}
	if deepSet != nil {
		apply = func(n *Node) {
			lo, hi := n.branches[0], n.branches[1]
			n.branches[0], n.branches[1] = applyGateThroughDeepControls(lo, hi, targetDepth+1, maxDeepDepth, deepSet, u)
		}
	}

	if err := parForQBDT(ctx, 0, uint64(len(nodes)), q.config.Workers, func(i uint64, _ int) (uint64, error) {
		apply(nodes[i])
		return 0, nil
	}); err != nil {
		return err
	}

	q.root = prune(q.root, q.bdtQubitCount)
	return nil
}

func (q *QBdt) applyAttachedControlled(ctx context.Context, lowControls, ketControls []int, u engine.Matrix2x2, attachedTarget int) error {
	lowSet := map[int]bool{}
	for _, c := range lowControls {
		lowSet[depthOf(q.bdtQubitCount, c)] = true
	}
	var leaves []*Node
	collectControlled(q.root, 0, q.bdtQubitCount, lowSet, &leaves)
	kind := classifyMatrix(u)

	if err := parForQBDT(ctx, 0, uint64(len(leaves)), q.config.Workers, func(i uint64, _ int) (uint64, error) {
		eng := leaves[i].leaf.engine
		switch kind {
		case matrixPhase:
			eng.MCPhase(ketControls, u[0], u[3], attachedTarget)
		case matrixInvert:
			eng.MCInvert(ketControls, u[1], u[2], attachedTarget)
		default:
			eng.MCMtrx(ketControls, u, attachedTarget)
		}
		return 0, nil
	}); err != nil {
		return err
	}

	q.root = prune(q.root, q.bdtQubitCount)
	return nil
}

func (q *QBdt) dispatchLeafControlled(n *Node, controls []int, u engine.Matrix2x2, target int) error {
	n.Branch()
	eng := n.leaf.engine
	switch classifyMatrix(u) {
	case matrixPhase:
		eng.MCPhase(controls, u[0], u[3], target)
	case matrixInvert:
		eng.MCInvert(controls, u[1], u[2], target)
	default:
		eng.MCMtrx(controls, u, target)
	}
	return nil
}

// ---- SetStateVector / ResetStateVector / ForceMParity ----

func (q *QBdt) SetStateVector(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.setStateVectorLocked(ctx)
}

func (q *QBdt) setStateVectorLocked(ctx context.Context) error {
	if q.isStateVec {
		return nil
	}

	size := uint64(1) << uint(q.qubitCount)
	out := make([]complex128, size)
	if err := parForQBDT(ctx, 0, size, q.config.Workers, func(i uint64, _ int) (uint64, error) {
		out[i] = q.getAmplitudeLocked(i)
		return 0, nil
	}); err != nil {
		return err
	}

	eng := engine.NewDenseEngine(q.qubitCount, 0, q.registry())
	for i, a := range out {
		eng.SetAmplitude(uint64(i), a)
	}
	q.root = newAttachedLeaf(1, eng)
	q.isStateVec = true
	q.log.Debug().Int("qubits", q.qubitCount).Msg("qbdt: collapsed to flat state vector")
	return nil
}

func (q *QBdt) ResetStateVector(perm uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.isStateVec {
		return nil
	}
	q.isStateVec = false
	return q.setPermutationLocked(perm, 1)
}

func (q *QBdt) ForceMParity(ctx context.Context, mask uint64, result bool, doForce bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.setStateVectorLocked(ctx); err != nil {
		return false, err
	}
	q.root.Branch()
	return q.root.leaf.engine.ForceMParity(mask, result, doForce), nil
}

// ---- Compose / Attach / Decompose / SumSqrDiff / Clone ----

func attachEngineIntoLeaves(n *Node, depth, bdtQubitCount int, eng engine.Engine) error {
	if n.IsZero() {
		return nil
	}
	if depth == bdtQubitCount {
		n.Branch()
		return n.leaf.engine.Compose(eng.Clone())
	}
	n.Branch()
	if err := attachEngineIntoLeaves(n.branches[0], depth+1, bdtQubitCount, eng); err != nil {
		return err
	}
	return attachEngineIntoLeaves(n.branches[1], depth+1, bdtQubitCount, eng)
}

func replaceTerminalsWithLeaf(n *Node, depth, bdtQubitCount int, eng engine.Engine) *Node {
	if n.IsZero() {
		return zeroNode
	}
	if depth == bdtQubitCount {
		return newAttachedLeaf(n.scale, eng.Clone())
	}
	n.Branch()
	n.branches[0] = replaceTerminalsWithLeaf(n.branches[0], depth+1, bdtQubitCount, eng)
	n.branches[1] = replaceTerminalsWithLeaf(n.branches[1], depth+1, bdtQubitCount, eng)
	return n
}

// Attach splices a dense sub-engine below the tree, per spec §4.2. If the
// register already has attached qubits, eng is composed into every
// reachable existing AttachedLeaf; otherwise every terminal at the current
// tree depth is replaced by a fresh AttachedLeaf wrapping a cloned eng,
// carrying the terminal's prior scale.
func (q *QBdt) Attach(eng engine.Engine) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isStateVec {
		return ErrFlatMode
	}

	if q.attachedQubitCount > 0 {
		if err := attachEngineIntoLeaves(q.root, 0, q.bdtQubitCount, eng); err != nil {
			return err
		}
	} else {
		q.root = replaceTerminalsWithLeaf(q.root, 0, q.bdtQubitCount, eng)
	}

	q.attachedQubitCount += eng.GetQubitCount()
	q.qubitCount = q.bdtQubitCount + q.attachedQubitCount
	q.root = prune(q.root, q.bdtQubitCount)
	return nil
}

// Compose concatenates other onto this register at tree position start.
// When neither side has attached qubits, this is a direct TreeOps splice
// (InsertAtDepth). When either side carries attached qubits, the
// boundary-alignment rotation tree.cpp performs via ROL/ROR is replaced
// with a collapse-then-compose through the dense fallback — always
// correct, the same trade this module makes for mixed tree/ket controls.
func (q *QBdt) Compose(ctx context.Context, other *QBdt, start int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if q.attachedQubitCount == 0 && other.attachedQubitCount == 0 {
		q.root = InsertAtDepth(q.root, other.root.ShallowClone(), start, other.bdtQubitCount)
		q.bdtQubitCount += other.bdtQubitCount
		q.qubitCount = q.bdtQubitCount
		q.root = prune(q.root, q.bdtQubitCount)
		return nil
	}

	if err := q.setStateVectorLocked(ctx); err != nil {
		return err
	}
	otherFlat := other.Clone()
	if err := otherFlat.setStateVectorLocked(ctx); err != nil {
		return err
	}
	if err := q.root.leaf.engine.Compose(otherFlat.root.leaf.engine); err != nil {
		return err
	}

	q.qubitCount += otherFlat.qubitCount
	q.bdtQubitCount = 0
	q.attachedQubitCount = q.qubitCount
	return nil
}

// Decompose detaches the separable tree-depth range [start, start+length)
// into dest, per spec §4.2. start and length are tree depths, not raw
// qubit indices: depth 0 is the most-significant tree qubit, so the range
// covers tree qubits bdtQubitCount-start-length through
// bdtQubitCount-start-1. Ranges overlapping the attached region are not
// supported; a pure tree-structural range delegates directly to
// RemoveSeparableAtDepth.
func (q *QBdt) Decompose(start, length int, dest *QBdt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isStateVec {
		return ErrFlatMode
	}
	if start < 0 || length <= 0 || start+length > q.bdtQubitCount {
		return fmt.Errorf("decompose [%d,%d) straddles attached region: %w", start, start+length, ErrNotSeparable)
	}

	detached, err := RemoveSeparableAtDepth(q.root, start, length)
	if err != nil {
		return err
	}

	q.bdtQubitCount -= length
	q.qubitCount = q.bdtQubitCount + q.attachedQubitCount
	q.root = prune(q.root, q.bdtQubitCount)

	if dest != nil {
		dest.root = detached
		dest.bdtQubitCount = length
		dest.attachedQubitCount = 0
		dest.qubitCount = length
		dest.isStateVec = false
		if dest.rng == nil {
			dest.rng = rand.New(rand.NewSource(1))
		}
		if dest.config == nil {
			dest.config = newConfig()
		}
		dest.log = q.log
	}
	return nil
}

func leafInnerProduct(a, b engine.Engine) complex128 {
	if da, ok := a.(*engine.DenseEngine); ok {
		if db, ok2 := b.(*engine.DenseEngine); ok2 {
			return engine.InnerProduct(da, db)
		}
	}
	n := a.GetQubitCount()
	size := uint64(1) << uint(n)
	var sum complex128
	for p := uint64(0); p < size; p++ {
		sum += cmplx.Conj(a.GetAmplitude(p)) * b.GetAmplitude(p)
	}
	return sum
}

func innerProduct(a, b *Node) complex128 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	contrib := cmplx.Conj(a.scale) * b.scale
	switch {
	case a.leaf != nil && b.leaf != nil:
		return contrib * leafInnerProduct(a.leaf.engine, b.leaf.engine)
	case a.IsTerminal() && b.IsTerminal():
		return contrib
	case !a.IsTerminal() && !b.IsTerminal():
		return contrib * (innerProduct(a.branches[0], b.branches[0]) + innerProduct(a.branches[1], b.branches[1]))
	default:
		return contrib
	}
}

// SumSqrDiff returns the fidelity-style distance 1 - |<this|other>|^2,
// clamped to [0,1].
func (q *QBdt) SumSqrDiff(other *QBdt) (float64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if q.qubitCount != other.qubitCount {
		return 0, fmt.Errorf("qbdt: SumSqrDiff qubit count mismatch: %w", ErrInvalidQubitIndex)
	}

	inner := innerProduct(q.root, other.root)
	return clamp01(1 - cmplxAbs2(inner)), nil
}

// Clone returns a register sharing structure with this one until one of
// them writes — copy-on-write at the Branch boundary, not at Clone time.
// Spec §8's round-trip law "Branch; Branch ≡ Branch" is exactly the
// property that makes this safe.
func (q *QBdt) Clone() *QBdt {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return &QBdt{
		bdtQubitCount:      q.bdtQubitCount,
		attachedQubitCount: q.attachedQubitCount,
		qubitCount:         q.qubitCount,
		root:               q.root.ShallowClone(),
		isStateVec:         q.isStateVec,
		config:             q.config,
		rng:                rand.New(rand.NewSource(q.rng.Int63())),
		log:                q.log,
	}
}
