// circuit.go - The spend circuit.
//
// Public inputs follow the settlement signal contract positionally:
// root, nullifier hash, recipient, amount, external binder. The
// private witness is the note opening (nullifier preimage, secret,
// amount) and the Merkle path of the note's commitment. In-circuit
// MiMC writes the same domain tags as the native hasher, so roots and
// nullifier hashes agree across the boundary.

package spend

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"shieldedpool/internal/merkle"
)

type Circuit struct {
	// Public
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`
	Binder        frontend.Variable `gnark:",public"`

	// Private
	Nullifier      frontend.Variable
	Secret         frontend.Variable
	PathSiblings   []frontend.Variable
	PathDirections []frontend.Variable // 1 = running hash is the left operand
}

// NewCircuit allocates a circuit shell for the given tree height.
func NewCircuit(height uint8) *Circuit {
	return &Circuit{
		PathSiblings:   make([]frontend.Variable, height),
		PathDirections: make([]frontend.Variable, height),
	}
}

func (c *Circuit) Define(api frontend.API) error {
	// (1) Amount fits the 8-byte wire encoding.
	api.ToBinary(c.Amount, 64)

	// (2) Nullifier hash.
	nh, err := hashTagged(api, merkle.TagNullifier, c.Nullifier)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.NullifierHash, nh)

	// (3) Commitment opening.
	cm, err := hashTagged(api, merkle.TagLeaf, c.Nullifier, c.Secret, c.Amount)
	if err != nil {
		return err
	}

	// (4) Merkle path from the commitment to the public root.
	current := cm
	for i := range c.PathSiblings {
		dir := c.PathDirections[i]
		api.AssertIsBoolean(dir)
		left := api.Select(dir, current, c.PathSiblings[i])
		right := api.Select(dir, c.PathSiblings[i], current)
		if current, err = hashTagged(api, merkle.TagNode, left, right); err != nil {
			return err
		}
	}
	api.AssertIsEqual(c.Root, current)

	// (5) Keep recipient and binder wired into the constraint system so
	// a proof cannot be replayed with different values.
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Binder, c.Binder)

	return nil
}

func hashTagged(api frontend.API, tag string, vs ...frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(merkle.TagBig(tag))
	h.Write(vs...)
	return h.Sum(), nil
}
