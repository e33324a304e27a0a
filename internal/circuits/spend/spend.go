// spend.go - Note construction and the honest prover.
//
// A note is the private opening of a pool commitment. Spending one
// means proving, in zero knowledge, that its commitment sits in the
// accumulator and revealing only the nullifier hash. Prove returns the
// raw proof plus the five public signals exactly as the settlement
// controller expects them.

package spend

import (
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/verifier"
)

// CircuitName identifies the spend circuit in the key registry.
const CircuitName = "spend"

// Note is a spendable pool entry: the commitment opening held by the
// depositor.
type Note struct {
	Nullifier fr.Element
	Secret    fr.Element
	Amount    uint64
}

// NewNote draws fresh randomness for a note of the given amount.
func NewNote(amount uint64) (*Note, error) {
	n := &Note{Amount: amount}
	if _, err := n.Nullifier.SetRandom(); err != nil {
		return nil, err
	}
	if _, err := n.Secret.SetRandom(); err != nil {
		return nil, err
	}
	return n, nil
}

// Commitment is the hiding value deposited into the accumulator.
func (n *Note) Commitment() merkle.Hash {
	var amt fr.Element
	amt.SetUint64(n.Amount)
	return merkle.HashFields(merkle.TagLeaf, n.Nullifier, n.Secret, amt)
}

// NullifierHash is the single-use spend identifier revealed on
// withdrawal.
func (n *Note) NullifierHash() merkle.Hash {
	return merkle.HashFields(merkle.TagNullifier, n.Nullifier)
}

// Compile builds the constraint system for a pool of the given height.
func Compile(height uint8) (constraint.ConstraintSystem, error) {
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewCircuit(height))
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves
// new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := loadProvingKey(pkPath)
	vk, vkErr := loadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := saveKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := saveKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// Prove generates a spend proof for note sitting at the given leaf of
// the accumulator, paying recipient under the given binder. Returns
// the raw proof and the five public signals.
func Prove(
	ccs constraint.ConstraintSystem, pk groth16.ProvingKey,
	note *Note, path *merkle.Path, root merkle.Hash,
	recipient [32]byte, binder merkle.Hash,
) (*verifier.Proof, []merkle.Hash, error) {
	if len(path.Siblings) != len(path.Directions) {
		return nil, nil, fmt.Errorf("spend: inconsistent path lengths")
	}
	height := len(path.Siblings)

	assignment := NewCircuit(uint8(height))
	assignment.Root = root.ToElement()
	assignment.NullifierHash = note.NullifierHash().ToElement()
	assignment.Recipient = merkle.Hash(recipient).ToElement()
	assignment.Amount = note.Amount
	assignment.Binder = binder.ToElement()
	assignment.Nullifier = note.Nullifier
	assignment.Secret = note.Secret
	for i := 0; i < height; i++ {
		assignment.PathSiblings[i] = path.Siblings[i].ToElement()
		if path.Directions[i] {
			assignment.PathDirections[i] = 1
		} else {
			assignment.PathDirections[i] = 0
		}
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("spend: witness build failed: %w", err)
	}
	gproof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, nil, fmt.Errorf("spend: proving failed: %w", err)
	}
	proof, err := verifier.ProofFromGnark(gproof)
	if err != nil {
		return nil, nil, err
	}

	signals := []merkle.Hash{
		root,
		note.NullifierHash(),
		merkle.Hash(recipient),
		verifier.EncodeAmount(note.Amount),
		binder,
	}
	return proof, signals, nil
}

func loadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, err
	}
	return pk, nil
}

func loadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, err
	}
	return vk, nil
}

func saveKey(path string, k io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = k.WriteTo(f)
	return err
}
