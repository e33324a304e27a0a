// tree.go - Fixed-height append-only Merkle accumulator.
//
// The accumulator keeps one cached "rightmost known" hash per level
// (the frontier) so that inserting a leaf costs O(height) hash calls
// instead of re-hashing the whole tree: a left child is cached for its
// future right sibling, a right child consumes the cached left sibling
// and promotes the combined hash one level up. The root is recomputed
// from the frontier alone, padding every position right of the frontier
// with the precomputed empty-subtree hashes.
//
// The accumulator is not safe for concurrent use; the pool serializes
// access under its own lock.

package merkle

import "errors"

// MaxHeight bounds per-tree storage and the hash depth of a single
// insertion.
const MaxHeight = 20

var (
	ErrBadHeight        = errors.New("merkle: height must be between 1 and 20")
	ErrIndexOutOfBounds = errors.New("merkle: leaf index out of bounds")
	ErrTreeFull         = errors.New("merkle: tree is full")
	ErrStaleIndex       = errors.New("merkle: index does not match next free slot")
	ErrBadPathLength    = errors.New("merkle: sibling path length does not match height")
)

// Accumulator is the incremental Merkle tree of deposited commitments.
type Accumulator struct {
	height         uint8
	nextIndex      uint64
	filledSubtrees []Hash
	zeros          []Hash
	root           Hash

	// Raw leaves are retained for sibling-path generation; they do not
	// participate in root maintenance.
	leaves []Hash
}

// New creates an empty accumulator of the given height (2^height leaf
// capacity). zeros[0] is the all-zero leaf; zeros[i] is the hash of two
// empty subtrees of depth i.
func New(height uint8) (*Accumulator, error) {
	if height == 0 || height > MaxHeight {
		return nil, ErrBadHeight
	}
	zeros := make([]Hash, height)
	for i := 1; i < int(height); i++ {
		zeros[i] = HashNode(zeros[i-1], zeros[i-1])
	}
	filled := make([]Hash, height)
	copy(filled, zeros)
	a := &Accumulator{
		height:         height,
		filledSubtrees: filled,
		zeros:          zeros,
	}
	a.root = a.computeRoot()
	return a, nil
}

// Height returns the fixed tree height.
func (a *Accumulator) Height() uint8 { return a.height }

// NextIndex returns the next free leaf slot.
func (a *Accumulator) NextIndex() uint64 { return a.nextIndex }

// Root returns the current Merkle root.
func (a *Accumulator) Root() Hash { return a.root }

// Zero returns the empty-subtree hash at the given level.
func (a *Accumulator) Zero(level int) Hash { return a.zeros[level] }

// FilledSubtree returns the cached frontier hash at the given level.
func (a *Accumulator) FilledSubtree(level int) Hash { return a.filledSubtrees[level] }

// Insert appends leaf at index, which must equal NextIndex. The walk
// stops at the first level where the leaf's subtree is a left child:
// that hash is cached and no ancestor changes until its sibling
// arrives. The root is then refreshed from the frontier.
func (a *Accumulator) Insert(index uint64, leaf Hash) error {
	if a.nextIndex == uint64(1)<<a.height {
		return ErrTreeFull
	}
	if index >= uint64(1)<<a.height {
		return ErrIndexOutOfBounds
	}
	if index != a.nextIndex {
		return ErrStaleIndex
	}

	current := leaf
	idx := index
	for level := 0; level < int(a.height); level++ {
		if idx%2 == 0 {
			a.filledSubtrees[level] = current
			break
		}
		current = HashNode(a.filledSubtrees[level], current)
		idx /= 2
	}

	a.leaves = append(a.leaves, leaf)
	a.nextIndex++
	a.root = a.computeRoot()
	return nil
}

// computeRoot folds the frontier bottom-up. At level l the cached
// filled subtree is the pending left sibling exactly when bit l of
// nextIndex is set; everything further right is empty and contributes
// zeros[l]. A full tree has no empty positions and no frontier bit
// set: its root is the final leaf promoted through the cached left
// siblings, the same walk its insertion took.
func (a *Accumulator) computeRoot() Hash {
	if a.nextIndex == uint64(1)<<a.height {
		current := a.leaves[a.nextIndex-1]
		for level := 0; level < int(a.height); level++ {
			current = HashNode(a.filledSubtrees[level], current)
		}
		return current
	}
	current := a.zeros[0]
	for level := 0; level < int(a.height); level++ {
		if (a.nextIndex>>level)&1 == 1 {
			current = HashNode(a.filledSubtrees[level], current)
		} else {
			current = HashNode(current, a.zeros[level])
		}
	}
	return current
}

// Path is a sibling path for one leaf. Directions[i] is true when the
// running hash is the left operand at level i.
type Path struct {
	Siblings   []Hash
	Directions []bool
}

// ProofPath generates the sibling path for the leaf at index by
// rebuilding the populated layers, padding each with the empty hash of
// that level.
func (a *Accumulator) ProofPath(index uint64) (*Path, error) {
	if index >= a.nextIndex {
		return nil, ErrIndexOutOfBounds
	}
	p := &Path{
		Siblings:   make([]Hash, a.height),
		Directions: make([]bool, a.height),
	}
	layer := make([]Hash, len(a.leaves))
	copy(layer, a.leaves)

	idx := index
	for level := 0; level < int(a.height); level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, a.zeros[level])
		}
		sib := idx ^ 1
		if sib < uint64(len(layer)) {
			p.Siblings[level] = layer[sib]
		} else {
			p.Siblings[level] = a.zeros[level]
		}
		p.Directions[level] = idx%2 == 0

		next := make([]Hash, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = HashNode(layer[i], layer[i+1])
		}
		layer = next
		idx /= 2
	}
	return p, nil
}

// VerifyPath recomputes a candidate root from leaf and the sibling
// path and compares it to claimedRoot. A path whose length does not
// match the height is malformed and reported as an error, distinct
// from a well-formed path that simply proves the wrong root.
func (a *Accumulator) VerifyPath(leaf Hash, siblings []Hash, directions []bool, claimedRoot Hash) (bool, error) {
	if len(siblings) != int(a.height) || len(directions) != int(a.height) {
		return false, ErrBadPathLength
	}
	current := leaf
	for level := 0; level < int(a.height); level++ {
		if directions[level] {
			current = HashNode(current, siblings[level])
		} else {
			current = HashNode(siblings[level], current)
		}
	}
	return current == claimedRoot, nil
}
