// spend_test.go - Honest prover against the raw verifier.

package spend_test

import (
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/circuits/spend"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/verifier"
)

// TestProveAndVerify runs the whole pipeline once: a note deposited
// into a real accumulator, proven with gnark, checked by the raw-point
// pairing verifier. The circuit and the native hasher must agree on
// every hash for this to pass.
func TestProveAndVerify(t *testing.T) {
	const height = 4

	ccs, err := spend.Compile(height)
	require.NoError(t, err)
	pk, gvk, err := groth16.Setup(ccs)
	require.NoError(t, err)
	vk, err := verifier.KeyFromGnark(gvk)
	require.NoError(t, err)

	tree, err := merkle.New(height)
	require.NoError(t, err)

	// A few other commitments so the path is not all zeros.
	for i := uint64(0); i < 3; i++ {
		other, err := spend.NewNote(1)
		require.NoError(t, err)
		require.NoError(t, tree.Insert(i, other.Commitment()))
	}
	note, err := spend.NewNote(250)
	require.NoError(t, err)
	require.NoError(t, tree.Insert(3, note.Commitment()))

	path, err := tree.ProofPath(3)
	require.NoError(t, err)

	recipient := [32]byte{0xaa, 0x01}
	binder := merkle.Hash{0xbb}
	proof, signals, err := spend.Prove(ccs, pk, note, path, tree.Root(), recipient, binder)
	require.NoError(t, err)

	decoded, err := verifier.DecodeSpendSignals(signals)
	require.NoError(t, err)
	require.Equal(t, tree.Root(), decoded.Root)
	require.Equal(t, note.NullifierHash(), decoded.Nullifier)
	require.Equal(t, recipient, decoded.Recipient)
	require.Equal(t, uint64(250), decoded.Amount)
	require.Equal(t, binder, decoded.Binder)

	ok, err := verifier.Verify(vk, proof, signals)
	require.NoError(t, err)
	require.True(t, ok)

	// Any tampered signal flips the pairing check, without error.
	for i := range signals {
		tampered := append([]merkle.Hash(nil), signals...)
		tampered[i][0] ^= 1
		ok, err := verifier.Verify(vk, proof, tampered)
		require.NoError(t, err)
		require.False(t, ok, "signal %d", i)
	}
}

func TestProveRejectsWrongRoot(t *testing.T) {
	const height = 4

	ccs, err := spend.Compile(height)
	require.NoError(t, err)
	pk, _, err := groth16.Setup(ccs)
	require.NoError(t, err)

	tree, err := merkle.New(height)
	require.NoError(t, err)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	require.NoError(t, tree.Insert(0, note.Commitment()))
	path, err := tree.ProofPath(0)
	require.NoError(t, err)

	// A root the path does not lead to makes the witness unsatisfiable.
	_, _, err = spend.Prove(ccs, pk, note, path, merkle.Hash{0x99}, [32]byte{1}, merkle.Hash{})
	require.Error(t, err)
}

func TestNoteCommitmentIsHiding(t *testing.T) {
	a, err := spend.NewNote(5)
	require.NoError(t, err)
	b, err := spend.NewNote(5)
	require.NoError(t, err)
	require.NotEqual(t, a.Commitment(), b.Commitment())
	require.NotEqual(t, a.NullifierHash(), b.NullifierHash())
}
