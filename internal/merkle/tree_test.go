package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// rebuildRoot hashes the full 2^height tree from scratch, with absent
// leaves as the all-zero leaf.
func rebuildRoot(height uint8, leaves []Hash) Hash {
	layer := make([]Hash, 1<<height)
	copy(layer, leaves)
	for len(layer) > 1 {
		next := make([]Hash, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = HashNode(layer[i], layer[i+1])
		}
		layer = next
	}
	return layer[0]
}

func testLeaf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestNewRejectsBadHeight(t *testing.T) {
	_, err := New(0)
	require.ErrorIs(t, err, ErrBadHeight)
	_, err = New(MaxHeight + 1)
	require.ErrorIs(t, err, ErrBadHeight)
}

func TestEmptyRootMatchesRebuild(t *testing.T) {
	for _, h := range []uint8{1, 2, 4, 8} {
		a, err := New(h)
		require.NoError(t, err)
		require.Equal(t, rebuildRoot(h, nil), a.Root(), "height %d", h)
	}
}

func TestIncrementalRootMatchesRebuild(t *testing.T) {
	const height = 4
	a, err := New(height)
	require.NoError(t, err)

	var leaves []Hash
	for i := 0; i < 1<<height; i++ {
		leaf := testLeaf(byte(i + 1))
		require.NoError(t, a.Insert(uint64(i), leaf))
		leaves = append(leaves, leaf)
		require.Equal(t, rebuildRoot(height, leaves), a.Root(), "after %d insertions", i+1)
	}
}

// Height-2 frontier walk: after the third leaf, level 0 caches L2 while
// level 1 still holds H(L0,L1) as the pending left sibling.
func TestFrontierHeightTwo(t *testing.T) {
	a, err := New(2)
	require.NoError(t, err)
	l0, l1, l2 := testLeaf(1), testLeaf(2), testLeaf(3)

	require.NoError(t, a.Insert(0, l0))
	require.Equal(t, l0, a.FilledSubtree(0))
	require.Equal(t, rebuildRoot(2, []Hash{l0}), a.Root())

	require.NoError(t, a.Insert(1, l1))
	require.Equal(t, HashNode(l0, l1), a.FilledSubtree(1))
	require.Equal(t, rebuildRoot(2, []Hash{l0, l1}), a.Root())

	require.NoError(t, a.Insert(2, l2))
	require.Equal(t, l2, a.FilledSubtree(0))
	require.Equal(t, HashNode(l0, l1), a.FilledSubtree(1))
	require.Equal(t,
		HashNode(HashNode(l0, l1), HashNode(l2, a.Zero(0))),
		a.Root())
}

// The final insertion promotes through every level without caching a
// new frontier entry; the root must still come out as the full tree's
// hash, not the empty-tree fold.
func TestFullTreeRoot(t *testing.T) {
	for _, height := range []uint8{1, 2, 3} {
		a, err := New(height)
		require.NoError(t, err)
		var leaves []Hash
		for i := 0; i < 1<<height; i++ {
			leaf := testLeaf(byte(i + 1))
			require.NoError(t, a.Insert(uint64(i), leaf))
			leaves = append(leaves, leaf)
		}
		require.Equal(t, rebuildRoot(height, leaves), a.Root(), "height %d", height)
	}
}

func TestInsertBoundary(t *testing.T) {
	a, err := New(2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Insert(uint64(i), testLeaf(byte(i+1))))
	}
	require.ErrorIs(t, a.Insert(4, testLeaf(9)), ErrTreeFull)
}

func TestInsertRejectsWrongIndex(t *testing.T) {
	a, err := New(3)
	require.NoError(t, err)
	require.ErrorIs(t, a.Insert(1, testLeaf(1)), ErrStaleIndex)
	require.ErrorIs(t, a.Insert(1<<3, testLeaf(1)), ErrIndexOutOfBounds)
}

func TestProofPathRoundTrip(t *testing.T) {
	const height = 4
	a, err := New(height)
	require.NoError(t, err)
	for i := 0; i < 11; i++ {
		require.NoError(t, a.Insert(uint64(i), testLeaf(byte(i+1))))
	}

	for i := 0; i < 11; i++ {
		p, err := a.ProofPath(uint64(i))
		require.NoError(t, err)
		ok, err := a.VerifyPath(testLeaf(byte(i+1)), p.Siblings, p.Directions, a.Root())
		require.NoError(t, err)
		require.True(t, ok, "leaf %d", i)
	}
}

func TestVerifyPathRejectsTamperedSibling(t *testing.T) {
	const height = 4
	a, err := New(height)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Insert(uint64(i), testLeaf(byte(i+1))))
	}
	p, err := a.ProofPath(2)
	require.NoError(t, err)

	p.Siblings[1][7] ^= 0x01
	ok, err := a.VerifyPath(testLeaf(3), p.Siblings, p.Directions, a.Root())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyPathRejectsMalformedLength(t *testing.T) {
	a, err := New(4)
	require.NoError(t, err)
	require.NoError(t, a.Insert(0, testLeaf(1)))
	p, err := a.ProofPath(0)
	require.NoError(t, err)

	_, err = a.VerifyPath(testLeaf(1), p.Siblings[:3], p.Directions[:3], a.Root())
	require.ErrorIs(t, err, ErrBadPathLength)
	_, err = a.VerifyPath(testLeaf(1), append(p.Siblings, Hash{}), append(p.Directions, false), a.Root())
	require.ErrorIs(t, err, ErrBadPathLength)
}

func TestProofPathUnknownLeaf(t *testing.T) {
	a, err := New(4)
	require.NoError(t, err)
	_, err = a.ProofPath(0)
	require.ErrorIs(t, err, ErrIndexOutOfBounds)
}

func TestHashDomainSeparation(t *testing.T) {
	var x Hash
	x[0] = 7
	require.NotEqual(t, HashNode(x, x), HashFields(TagLeaf, x.ToElement(), x.ToElement()))
}
