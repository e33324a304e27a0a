// hash.go - Domain-separated MiMC hashing for the accumulator.
//
// All tree nodes are hashed with MiMC over the BN254 scalar field, the
// same permutation the spend circuit uses in-circuit, so native roots
// and in-circuit roots agree. Byte values entering the field are
// interpreted little-endian and reduced modulo the field order.

package merkle

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Hash is a 32-byte tree value: a leaf commitment, an interior node, or
// a root. Little-endian field encoding throughout.
type Hash [32]byte

// Domain tags keep node hashes, leaf commitments and nullifier hashes
// in disjoint preimage spaces. The circuit writes the same constants.
const (
	TagNode      = "shieldedpool.node"
	TagLeaf      = "shieldedpool.leaf"
	TagNullifier = "shieldedpool.nullifier"
)

// TagElement maps a domain tag to its field element.
func TagElement(tag string) fr.Element {
	var e fr.Element
	e.SetBytes([]byte(tag))
	return e
}

// TagBig returns the domain tag as a big.Int, for circuit constants.
func TagBig(tag string) *big.Int {
	e := TagElement(tag)
	return e.BigInt(new(big.Int))
}

// ToElement interprets h as a little-endian integer reduced into the
// scalar field.
func (h Hash) ToElement() fr.Element {
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[i] = h[31-i]
	}
	var e fr.Element
	e.SetBytes(be[:])
	return e
}

// FromElement encodes a field element as a little-endian Hash.
func FromElement(e fr.Element) Hash {
	be := e.Bytes()
	var h Hash
	for i := 0; i < 32; i++ {
		h[i] = be[31-i]
	}
	return h
}

// FromBig reduces a big.Int into the field and encodes it as a Hash.
func FromBig(v *big.Int) Hash {
	var e fr.Element
	e.SetBigInt(v)
	return FromElement(e)
}

// HashNode combines two children into their parent node hash.
func HashNode(left, right Hash) Hash {
	h := mimc.NewMiMC()
	tag := TagElement(TagNode)
	l := left.ToElement()
	r := right.ToElement()
	tb := tag.Bytes()
	lb := l.Bytes()
	rb := r.Bytes()
	h.Write(tb[:])
	h.Write(lb[:])
	h.Write(rb[:])
	var out Hash
	copy(out[:], reverse(h.Sum(nil)))
	return out
}

// HashFields hashes a tagged sequence of field elements. Used by the
// prover helpers for commitments and nullifier hashes; the circuit
// mirrors the same write order.
func HashFields(tag string, elems ...fr.Element) Hash {
	h := mimc.NewMiMC()
	t := TagElement(tag)
	tb := t.Bytes()
	h.Write(tb[:])
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out Hash
	copy(out[:], reverse(h.Sum(nil)))
	return out
}

// reverse flips a big-endian digest into little-endian byte order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
