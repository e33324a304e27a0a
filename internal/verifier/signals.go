// signals.go - Public-signal contract for the spend circuit.
//
// A spend proof carries exactly five 32-byte public signals, in this
// order: accumulator root, nullifier, recipient identity, amount
// (little-endian uint64 in a 32-byte field), and an external binder
// value that downstream auditors consume. Every fixed-range decode is
// length-validated before slicing; malformed fields surface their own
// error rather than truncating silently.

package verifier

import (
	"encoding/binary"
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldedpool/internal/merkle"
)

// NumSpendSignals is the fixed public input count of the spend circuit.
const NumSpendSignals = 5

// Signal positions.
const (
	SignalRoot = iota
	SignalNullifier
	SignalRecipient
	SignalAmount
	SignalBinder
)

var (
	ErrInvalidPublicInputCount = errors.New("verifier: public signal count is not 5")
	ErrInvalidPublicSignal     = errors.New("verifier: malformed public signal")
)

// SpendSignals is the decoded view of the five public signals.
type SpendSignals struct {
	Root      merkle.Hash
	Nullifier merkle.Hash
	Recipient [32]byte
	Amount    uint64
	Binder    merkle.Hash

	raw []merkle.Hash
}

// DecodeSpendSignals validates and decodes the raw signal vector.
func DecodeSpendSignals(signals []merkle.Hash) (*SpendSignals, error) {
	if len(signals) != NumSpendSignals {
		return nil, ErrInvalidPublicInputCount
	}

	amountField := signals[SignalAmount]
	for _, b := range amountField[8:] {
		if b != 0 {
			return nil, ErrInvalidPublicSignal
		}
	}
	amount := binary.LittleEndian.Uint64(amountField[:8])
	if amount == 0 {
		return nil, ErrInvalidPublicSignal
	}

	recipient := [32]byte(signals[SignalRecipient])
	if recipient == ([32]byte{}) {
		return nil, ErrInvalidPublicSignal
	}

	raw := make([]merkle.Hash, NumSpendSignals)
	copy(raw, signals)
	return &SpendSignals{
		Root:      signals[SignalRoot],
		Nullifier: signals[SignalNullifier],
		Recipient: recipient,
		Amount:    amount,
		Binder:    signals[SignalBinder],
		raw:       raw,
	}, nil
}

// Raw returns the signal vector as received, for proof verification.
func (s *SpendSignals) Raw() []merkle.Hash { return s.raw }

// EncodeAmount packs an amount into its 32-byte signal form.
func EncodeAmount(amount uint64) merkle.Hash {
	var h merkle.Hash
	binary.LittleEndian.PutUint64(h[:8], amount)
	return h
}

// signalElements maps the byte signals into scalar field elements,
// little-endian reduced, the interpretation the circuit was proven
// against.
func signalElements(signals []merkle.Hash) []fr.Element {
	out := make([]fr.Element, len(signals))
	for i := range signals {
		out[i] = signals[i].ToElement()
	}
	return out
}
