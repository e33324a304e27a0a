// gnark.go - Conversion from gnark's BN254 Groth16 backend types into
// raw-point form. Circuit owners run trusted setup with gnark and
// register the converted key; spenders ship gnark proofs converted the
// same way.

package verifier

import (
	"fmt"

	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// KeyFromGnark extracts the raw verification key from a gnark BN254
// Groth16 verifying key.
func KeyFromGnark(vk groth16.VerifyingKey) (*VerificationKey, error) {
	bvk, ok := vk.(*groth16bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("verifier: expected a bn254 verifying key, got %T", vk)
	}
	out := &VerificationKey{
		AlphaG1: g1FromAffine(bvk.G1.Alpha),
		BetaG2:  g2FromAffine(bvk.G2.Beta),
		GammaG2: g2FromAffine(bvk.G2.Gamma),
		DeltaG2: g2FromAffine(bvk.G2.Delta),
		IC:      make([]G1Point, len(bvk.G1.K)),
	}
	for i := range bvk.G1.K {
		out.IC[i] = g1FromAffine(bvk.G1.K[i])
	}
	return out, nil
}

// ProofFromGnark extracts the raw proof points from a gnark BN254
// Groth16 proof.
func ProofFromGnark(p groth16.Proof) (*Proof, error) {
	bp, ok := p.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("verifier: expected a bn254 proof, got %T", p)
	}
	if len(bp.Commitments) != 0 {
		return nil, fmt.Errorf("verifier: committed witnesses are not supported by the raw verifier")
	}
	return &Proof{
		A: g1FromAffine(bp.Ar),
		B: g2FromAffine(bp.Bs),
		C: g1FromAffine(bp.Krs),
	}, nil
}
