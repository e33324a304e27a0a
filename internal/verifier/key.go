// key.go - Raw-point Groth16 verification key and proof structures.
//
// Keys and proofs travel as explicit affine coordinates (32-byte
// big-endian base-field limbs) so they can be stored as named records
// and audited independently of any proving library. G2 coordinates are
// stored as [A0, A1] extension-field pairs.

package verifier

import (
	"errors"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrInvalidVerificationKey = errors.New("verifier: invalid verification key")
	ErrInvalidProof           = errors.New("verifier: invalid proof")
)

// G1Point is an affine BN254 G1 point.
type G1Point struct {
	X [32]byte `cbor:"1,keyasint"`
	Y [32]byte `cbor:"2,keyasint"`
}

// G2Point is an affine BN254 G2 point over Fp2.
type G2Point struct {
	X [2][32]byte `cbor:"1,keyasint"`
	Y [2][32]byte `cbor:"2,keyasint"`
}

// VerificationKey holds the public parameters for one circuit version:
// alpha in G1, beta/gamma/delta in G2, and one IC element per public
// signal plus one.
type VerificationKey struct {
	AlphaG1 G1Point   `cbor:"1,keyasint"`
	BetaG2  G2Point   `cbor:"2,keyasint"`
	GammaG2 G2Point   `cbor:"3,keyasint"`
	DeltaG2 G2Point   `cbor:"4,keyasint"`
	IC      []G1Point `cbor:"5,keyasint"`
}

// Proof is a Groth16 proof: A and C in G1, B in G2.
type Proof struct {
	A G1Point `cbor:"1,keyasint"`
	B G2Point `cbor:"2,keyasint"`
	C G1Point `cbor:"3,keyasint"`
}

func (p G1Point) isZero() bool {
	return p.X == [32]byte{} && p.Y == [32]byte{}
}

func (p G2Point) isZero() bool {
	return p.X == [2][32]byte{} && p.Y == [2][32]byte{}
}

func (p G1Point) toAffine() (bn254.G1Affine, error) {
	var a bn254.G1Affine
	var x, y fp.Element
	if err := x.SetBytesCanonical(p.X[:]); err != nil {
		return a, ErrInvalidProof
	}
	if err := y.SetBytesCanonical(p.Y[:]); err != nil {
		return a, ErrInvalidProof
	}
	a.X, a.Y = x, y
	if !a.IsOnCurve() {
		return a, ErrInvalidProof
	}
	return a, nil
}

func (p G2Point) toAffine() (bn254.G2Affine, error) {
	var a bn254.G2Affine
	var err error
	set := func(dst *fp.Element, b [32]byte) {
		if err == nil {
			err = dst.SetBytesCanonical(b[:])
		}
	}
	set(&a.X.A0, p.X[0])
	set(&a.X.A1, p.X[1])
	set(&a.Y.A0, p.Y[0])
	set(&a.Y.A1, p.Y[1])
	if err != nil {
		return a, ErrInvalidProof
	}
	if !a.IsOnCurve() || !a.IsInSubGroup() {
		return a, ErrInvalidProof
	}
	return a, nil
}

func g1FromAffine(a bn254.G1Affine) G1Point {
	return G1Point{X: a.X.Bytes(), Y: a.Y.Bytes()}
}

func g2FromAffine(a bn254.G2Affine) G2Point {
	return G2Point{
		X: [2][32]byte{a.X.A0.Bytes(), a.X.A1.Bytes()},
		Y: [2][32]byte{a.Y.A0.Bytes(), a.Y.A1.Bytes()},
	}
}

// Bytes encodes the key for storage in the registry.
func (vk *VerificationKey) Bytes() ([]byte, error) {
	return cbor.Marshal(vk)
}

// ParseVerificationKey decodes a stored key. Decoding failures map to
// ErrInvalidVerificationKey; deeper structural validation happens at
// verification time.
func ParseVerificationKey(data []byte) (*VerificationKey, error) {
	var vk VerificationKey
	if err := cbor.Unmarshal(data, &vk); err != nil {
		return nil, ErrInvalidVerificationKey
	}
	if len(vk.IC) == 0 {
		return nil, ErrInvalidVerificationKey
	}
	return &vk, nil
}

// Bytes encodes the proof for transport.
func (p *Proof) Bytes() ([]byte, error) {
	return cbor.Marshal(p)
}

// ParseProof decodes a transported proof.
func ParseProof(data []byte) (*Proof, error) {
	var p Proof
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidProof
	}
	return &p, nil
}
