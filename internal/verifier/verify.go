// verify.go - Groth16 verification over raw key and proof points.
//
// Verification is two-phase: cheap structural rejection of degenerate
// points and mismatched IC length, then the full pairing equation
//
//	e(-A, B) * e(alpha, beta) * e(vk_x, gamma) * e(C, delta) == 1
//
// with vk_x = IC[0] + sum_i signal_i * IC[i+1]. The structural phase is
// necessary but never sufficient; a proof is accepted only by the
// pairing check.

package verifier

import (
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldedpool/internal/merkle"
)

// Verify checks proof against key and the public signal vector.
// Returns (true, nil) only when the pairing equation holds; structural
// defects surface as errors, a sound-but-wrong proof as (false, nil).
func Verify(key *VerificationKey, proof *Proof, signals []merkle.Hash) (bool, error) {
	if key == nil || len(key.IC) != len(signals)+1 {
		return false, ErrInvalidVerificationKey
	}
	if key.AlphaG1.isZero() || key.BetaG2.isZero() || key.GammaG2.isZero() || key.DeltaG2.isZero() {
		return false, ErrInvalidVerificationKey
	}
	for i := range key.IC {
		if key.IC[i].isZero() {
			return false, ErrInvalidVerificationKey
		}
	}
	if proof == nil || proof.A.isZero() || proof.B.isZero() || proof.C.isZero() {
		return false, ErrInvalidProof
	}

	alpha, err := key.AlphaG1.toAffine()
	if err != nil {
		return false, ErrInvalidVerificationKey
	}
	beta, err := key.BetaG2.toAffine()
	if err != nil {
		return false, ErrInvalidVerificationKey
	}
	gamma, err := key.GammaG2.toAffine()
	if err != nil {
		return false, ErrInvalidVerificationKey
	}
	delta, err := key.DeltaG2.toAffine()
	if err != nil {
		return false, ErrInvalidVerificationKey
	}
	ic := make([]bn254.G1Affine, len(key.IC))
	for i := range key.IC {
		if ic[i], err = key.IC[i].toAffine(); err != nil {
			return false, ErrInvalidVerificationKey
		}
	}

	a, err := proof.A.toAffine()
	if err != nil {
		return false, ErrInvalidProof
	}
	b, err := proof.B.toAffine()
	if err != nil {
		return false, ErrInvalidProof
	}
	c, err := proof.C.toAffine()
	if err != nil {
		return false, ErrInvalidProof
	}

	vkX := linearCombination(ic, signalElements(signals))

	var negA bn254.G1Affine
	negA.Neg(&a)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, alpha, vkX, c},
		[]bn254.G2Affine{b, beta, gamma, delta},
	)
	if err != nil {
		return false, ErrInvalidProof
	}
	return ok, nil
}

// linearCombination computes IC[0] + sum_i scalars[i]*IC[i+1].
func linearCombination(ic []bn254.G1Affine, scalars []fr.Element) bn254.G1Affine {
	var acc bn254.G1Jac
	acc.FromAffine(&ic[0])
	var s big.Int
	for i := range scalars {
		var term bn254.G1Jac
		term.FromAffine(&ic[i+1])
		term.ScalarMultiplication(&term, scalars[i].BigInt(&s))
		acc.AddAssign(&term)
	}
	var out bn254.G1Affine
	out.FromJacobian(&acc)
	return out
}
