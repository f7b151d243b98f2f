package qbdt

import (
	"fmt"
	"math"
)

// popStateVector pushes each interior node's scale down into its children
// by multiplication, then resets that node's own scale to 1, recursing
// depth levels down from n. It is used after bulk writes (SetQuantumState)
// so a subsequent Prune can do canonical factor extraction starting from a
// clean slate rather than fighting whatever scale distribution the writer
// left behind.
func popStateVector(n *Node, depth int) {
	if n == nil || n.IsTerminal() || depth <= 0 {
		return
	}
	n.Branch()
	for _, c := range n.branches {
		if c.IsZero() {
			continue
		}
		c.scale *= n.scale
	}
	n.scale = 1
	for _, c := range n.branches {
		popStateVector(c, depth-1)
	}
}

// insertAtDepth splices subRoot (a tree of depth length, scale 1 at its
// root) between depth-1 and depth of n, recursing until depth reaches
// start. At that point every surviving leaf is replaced by a clone of
// subRoot whose root scale absorbs the leaf's own scale — the grafting
// spec §4.1 describes for InsertAtDepth.
func insertAtDepth(n *Node, subRoot *Node, depth, start int) *Node {
	if n.IsZero() {
		return zeroNode
	}
	if depth == start {
		if subRoot.IsZero() {
			return zeroNode
		}
		graft := subRoot.ShallowClone()
		graft.scale *= n.scale
		return graft
	}
	n.Branch()
	for i, c := range n.branches {
		n.branches[i] = insertAtDepth(c, subRoot, depth+1, start)
	}
	return n
}

// InsertAtDepth splices subRoot, a tree of depth length, into root between
// depth start-1 and start. The caller is responsible for updating its own
// qubit-count bookkeeping afterward — insertion always succeeds structurally,
// it never fails.
func InsertAtDepth(root *Node, subRoot *Node, start, length int) *Node {
	_ = length // length only governs caller bookkeeping; grafting needs no bound here.
	return insertAtDepth(root, subRoot, 0, start)
}

// RemoveSeparableAtDepth verifies that the sub-tree starting at depth start
// is identical up to an overall per-path scale along every surviving path
// of root — i.e. that qubits [start, start+length) factor out of the
// register as a tensor product independent of the qubits before and after
// them. If so, it detaches a representative copy of that sub-tree
// (normalized to norm 1) and rewires root so each former path at depth start
// connects directly to the corresponding grandchild at depth start+length,
// scaled by the norm of the removed sub-tree on that path.
// If the sub-tree shape or its continuation varies across paths, it fails
// with ErrNotSeparable and leaves root unchanged.
func RemoveSeparableAtDepth(root *Node, start, length int) (detached *Node, err error) {
	var repShape *Node
	var repTail *Node

	var walk func(n *Node, depth int) (*Node, error)
	walk = func(n *Node, depth int) (*Node, error) {
		if n.IsZero() {
			return zeroNode, nil
		}
		if depth == start {
			shape, tail, innerScale, ferr := splitAtLength(n, length)
			if ferr != nil {
				return nil, ferr
			}
			if repShape == nil {
				repShape = shape
				repTail = tail
			} else if !nodesEquivalentUpToScale(repShape, shape) || !nodesEquivalentUpToScale(repTail, tail) {
				return nil, fmt.Errorf("remove separable at depth %d length %d: %w", start, length, ErrNotSeparable)
			}
			norm := math.Sqrt(treeNormSquared(shape))
			return scaledClone(tail, innerScale*complex(norm, 0)), nil
		}

		n.Branch()
		for i, c := range n.branches {
			child, cerr := walk(c, depth+1)
			if cerr != nil {
				return nil, cerr
			}
			n.branches[i] = child
		}
		return n, nil
	}

	newRoot, werr := walk(root.ShallowClone(), 0)
	if werr != nil {
		return nil, werr
	}
	*root = *newRoot

	if repShape == nil {
		repShape = oneNode
	}
	detached = scaledClone(repShape, complex(1/math.Sqrt(treeNormSquared(repShape)), 0))
	return detached, nil
}

// splitAtLength descends length levels from n, requiring every path within
// n's first length levels to reach a structurally-equivalent tail (up to
// scale) — the condition that makes n separable into (shape ⊗ tail). It
// returns the length-deep shape (for the caller to compare across root's
// other paths), the shared tail continuation, and the scale factor
// n itself contributes once the shape is normalized out.
func splitAtLength(n *Node, length int) (shape, tail *Node, scale complex128, err error) {
	if n.IsZero() {
		return zeroNode, zeroNode, 0, nil
	}
	if length == 0 {
		return oneNode, n, 1, nil
	}
	if n.IsTerminal() {
		return nil, nil, 0, fmt.Errorf("split at length %d: %w", length, ErrNotSeparable)
	}

	var tails [2]*Node
	var shapes [2]*Node
	var scales [2]complex128
	for i, c := range n.branches {
		s, t, sc, serr := splitAtLength(c, length-1)
		if serr != nil {
			return nil, nil, 0, serr
		}
		shapes[i], tails[i], scales[i] = s, t, sc
	}
	if !tails[0].IsZero() && !tails[1].IsZero() && !nodesEquivalentUpToScale(tails[0], tails[1]) {
		return nil, nil, 0, fmt.Errorf("split at length %d: %w", length, ErrNotSeparable)
	}

	tail = tails[0]
	if tail.IsZero() {
		tail = tails[1]
	}
	shapeLo := scaledClone(shapes[0], scales[0])
	shapeHi := scaledClone(shapes[1], scales[1])
	return newInterior(n.scale, shapeLo, shapeHi), tail, 1, nil
}
