package qbdt

import (
	"math/cmplx"

	"github.com/quantumcore/qbdtsim/engine"
)

// eps is the structural-equality and normalization tolerance used by Prune
// and by the round-trip laws this package is tested against.
const eps = 1e-9

// amplitudeFloor is the magnitude below which a scale is treated as exactly
// zero for pruning purposes, per spec's "Amplitudes below amplitudeFloor are
// treated as zero" edge policy.
const amplitudeFloor = 1e-14

// leafState is the AttachedLeaf payload: an opaque dense sub-state-vector
// engine for qubits beyond the tree's depth. It is wrapped in its own type,
// rather than stored directly on Node, so ShallowClone can share it and
// Branch can replace it wholesale with a freshly cloned engine.
type leafState struct {
	engine engine.Engine
}

// Node is a vertex in the quantum binary decision tree: a complex scale
// plus, for Interior nodes, two child edges. A node is reached only through
// *Node pointers; pointer identity is the sharing mechanism — the same
// discipline the teacher's NodeTable enforces through its node-slice
// indices, expressed here over Go pointers and GC instead of an ID table.
//
// Two terminals are canonical singletons: zeroNode (the distinguished zero
// child) and oneNode (the end of a path that carries no further qubits).
// Both are terminal (no branches, no leaf) and must never be mutated —
// Branch is a no-op on them.
type Node struct {
	scale    complex128
	branches [2]*Node
	leaf     *leafState
}

var (
	zeroNode = &Node{scale: 0}
	oneNode  = &Node{scale: 1}
)

// newInterior builds an Interior node with the given scale and children.
func newInterior(scale complex128, lo, hi *Node) *Node {
	return &Node{scale: scale, branches: [2]*Node{lo, hi}}
}

// newAttachedLeaf builds an AttachedLeaf node wrapping eng.
func newAttachedLeaf(scale complex128, eng engine.Engine) *Node {
	return &Node{scale: scale, leaf: &leafState{engine: eng}}
}

// IsTerminal reports whether n has no children — true for zeroNode,
// oneNode, and every AttachedLeaf.
func (n *Node) IsTerminal() bool {
	return n.branches[0] == nil && n.branches[1] == nil
}

// IsZero reports whether n's contribution to any amplitude is negligible.
// zeroNode always satisfies this; any node whose scale has decayed below
// amplitudeFloor also does, even before Prune has had a chance to replace
// it with the canonical zeroNode.
func (n *Node) IsZero() bool {
	return n == zeroNode || cmplx.Abs(n.scale) < amplitudeFloor
}

// ShallowClone returns a node sharing n's children (and, for a leaf, n's
// underlying engine) — safe to hand to a second parent, unsafe to mutate
// in place until Branch has been called on it. The two terminal singletons
// clone to themselves: they are never mutated, so sharing them needs no
// copy.
func (n *Node) ShallowClone() *Node {
	if n == zeroNode || n == oneNode {
		return n
	}
	clone := *n
	if n.leaf != nil {
		leafCopy := *n.leaf
		clone.leaf = &leafCopy
	}
	return &clone
}

// Branch is the copy-on-write unshare operation: it replaces n's children
// (or, for a leaf, n's engine) with fresh, uniquely-owned copies, so that a
// subsequent in-place mutation of what Branch returns cannot be observed by
// any other parent that still references the old children. Branching the
// terminal singletons is a no-op — they are never mutated. Re-branching an
// already-unique node is a no-op in effect: it clones again, but the clone
// is structurally identical to what was already there.
func (n *Node) Branch() {
	if n == zeroNode || n == oneNode {
		return
	}
	if n.leaf != nil {
		n.leaf = &leafState{engine: n.leaf.engine.Clone()}
		return
	}
	for i, c := range n.branches {
		if c == zeroNode || c == oneNode {
			continue
		}
		n.branches[i] = c.ShallowClone()
	}
}

// scaledClone returns a copy of n with its scale multiplied by factor,
// collapsing to zeroNode if the result would fall below amplitudeFloor.
func scaledClone(n *Node, factor complex128) *Node {
	if n.IsZero() || cmplx.Abs(factor) < amplitudeFloor {
		return zeroNode
	}
	if n == oneNode {
		return scaledTerminal(factor)
	}
	c := n.ShallowClone()
	c.scale *= factor
	return c
}

// scaledTerminal returns a bare terminal carrying the given scale, or
// zeroNode if that scale is negligible.
func scaledTerminal(scale complex128) *Node {
	if cmplx.Abs(scale) < amplitudeFloor {
		return zeroNode
	}
	return &Node{scale: scale}
}

// nodesEquivalent reports whether a and b represent the same amplitude
// function to within eps — same scale, same descendants (by shared-pointer
// identity or recursive equivalence), same leaf engine identity. This is
// Prune's structural-equality test, the direct descendant of the teacher's
// AddNode hash-cons lookup.
func nodesEquivalent(a, b *Node) bool {
	if a == b {
		return true
	}
	if a.IsZero() && b.IsZero() {
		return true
	}
	if a.IsZero() != b.IsZero() {
		return false
	}
	if cmplx.Abs(a.scale-b.scale) > eps {
		return false
	}
	if (a.leaf != nil) != (b.leaf != nil) {
		return false
	}
	if a.leaf != nil {
		return a.leaf.engine == b.leaf.engine
	}
	if a.IsTerminal() != b.IsTerminal() {
		return false
	}
	if a.IsTerminal() {
		return true
	}
	return nodesEquivalent(a.branches[0], b.branches[0]) && nodesEquivalent(a.branches[1], b.branches[1])
}

// nodesEquivalentUpToScale reports structural equivalence ignoring each
// node's own scale — used by RemoveSeparableAtDepth to check that a
// sub-tree is the same shape along every surviving path, independent of
// the path-dependent prefactor leading into it.
func nodesEquivalentUpToScale(a, b *Node) bool {
	if a == b {
		return true
	}
	if a.IsZero() && b.IsZero() {
		return true
	}
	if a.IsZero() != b.IsZero() {
		return false
	}
	if (a.leaf != nil) != (b.leaf != nil) {
		return false
	}
	if a.leaf != nil {
		return a.leaf.engine == b.leaf.engine
	}
	if a.IsTerminal() != b.IsTerminal() {
		return false
	}
	if a.IsTerminal() {
		return true
	}
	return nodesEquivalentUpToScale(a.branches[0], b.branches[0]) &&
		nodesEquivalentUpToScale(a.branches[1], b.branches[1])
}

// combineSum builds a fresh sub-tree representing ca·valueOf(a) +
// cb·valueOf(b), recursing level by level so that differently-shaped
// subtrees beneath the gated qubit are combined correctly rather than
// merely scaled. This is what lets Apply2x2 apply an arbitrary 2x2 unitary
// even when the two branches underneath it are not structurally identical.
func combineSum(a *Node, ca complex128, b *Node, cb complex128) *Node {
	if a.IsZero() && b.IsZero() {
		return zeroNode
	}
	if a.IsZero() {
		return scaledClone(b, cb)
	}
	if b.IsZero() {
		return scaledClone(a, ca)
	}

	aTerm, bTerm := a.IsTerminal(), b.IsTerminal()
	switch {
	case aTerm && bTerm && a.leaf == nil && b.leaf == nil:
		return scaledTerminal(ca*a.scale + cb*b.scale)
	case aTerm && bTerm && a.leaf != nil && b.leaf != nil:
		return combineLeaves(a, ca, b, cb)
	case !aTerm && !bTerm:
		lo := combineSum(a.branches[0], ca*a.scale, b.branches[0], cb*b.scale)
		hi := combineSum(a.branches[1], ca*a.scale, b.branches[1], cb*b.scale)
		return newInterior(1, lo, hi)
	default:
		// Mismatched shapes at the same depth should not arise in a
		// well-formed register (every path has the same length); treat it
		// as an opaque combination by falling back to scale-only mixing.
		return scaledTerminal(ca*a.scale + cb*b.scale)
	}
}

// combineLeaves sums two AttachedLeaf contributions amplitude-by-amplitude
// through the Engine interface, so the combination is correct for any
// Engine implementation, not just DenseEngine.
func combineLeaves(a *Node, ca complex128, b *Node, cb complex128) *Node {
	n := a.leaf.engine.GetQubitCount()
	out := engine.NewDenseEngine(n, 0, nil)
	size := uint64(1) << uint(n)
	for p := uint64(0); p < size; p++ {
		av := ca * a.scale * a.leaf.engine.GetAmplitude(p)
		bv := cb * b.scale * b.leaf.engine.GetAmplitude(p)
		out.SetAmplitude(p, av+bv)
	}
	return newAttachedLeaf(1, out)
}

// Apply2x2 applies the 2x2 unitary u to n's two children, treating
// (branches[0], branches[1]) as the (|0>, |1>) amplitude pair of the qubit
// at n's depth. n must already be Branch-ed (uniquely owned) before this
// is called.
func (n *Node) Apply2x2(u engine.Matrix2x2) {
	lo, hi := n.branches[0], n.branches[1]
	n.branches[0] = combineSum(lo, u[0], hi, u[1])
	n.branches[1] = combineSum(lo, u[2], hi, u[3])
}

// prune recursively normalizes n and its descendants down to depth, per
// spec §4.1's three Prune rules, returning the (possibly replaced) node.
func prune(n *Node, depth int) *Node {
	if n == nil || n.IsTerminal() || depth <= 0 {
		return n
	}

	lo := prune(n.branches[0], depth-1)
	hi := prune(n.branches[1], depth-1)
	n.branches[0], n.branches[1] = lo, hi

	if lo.IsZero() && hi.IsZero() {
		return zeroNode
	}
	if nodesEquivalent(lo, hi) {
		n.scale *= lo.scale
		rep := lo.ShallowClone()
		rep.scale = 1
		n.branches[0], n.branches[1] = rep, rep
		return n
	}
	return normalizeFactor(n)
}

// normalizeFactor extracts a common magnitude/phase from n's two children
// — the dominant one by magnitude — so that child's scale becomes 1 and
// the extracted factor is folded into n's own scale. This is what allows
// structural sharing: two nodes that differ only by an overall factor now
// look identical to nodesEquivalent.
func normalizeFactor(n *Node) *Node {
	lo, hi := n.branches[0], n.branches[1]
	if lo.IsZero() && hi.IsZero() {
		return zeroNode
	}

	var dominant *Node
	if hi.IsZero() || (!lo.IsZero() && cmplx.Abs(lo.scale) >= cmplx.Abs(hi.scale)) {
		dominant = lo
	} else {
		dominant = hi
	}
	if dominant.IsZero() {
		return n
	}

	factor := dominant.scale
	if cmplx.Abs(factor-1) < eps {
		return n
	}

	n.scale *= factor
	inv := 1 / factor
	n.branches[0] = scaledClone(lo, inv)
	n.branches[1] = scaledClone(hi, inv)
	return n
}
