// pool.go - Spend settlement controller.
//
// The pool ties the accumulator, the nullifier registry and the proof
// verifier together under one lock. Every operation validates first
// and mutates last, so a failed settlement leaves no trace: no
// nullifier is recorded, no balance moves, the root does not change.
// Store writes commit before the in-memory state they describe; a
// persistence failure aborts the operation and rolls back anything
// already touched.
// Proofs are only checked against the current root; a proof built
// against an older root must be rebuilt, which keeps settlement
// ordering unambiguous.

package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/nullifier"
	"shieldedpool/internal/store"
	"shieldedpool/internal/verifier"
	"shieldedpool/internal/vkregistry"
)

// Identity names a caller. The pool never interprets the bytes; it
// only compares them against the configured capability holders.
type Identity [32]byte

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultTreeHeight     = 20
	DefaultCircuit        = "spend"
	DefaultCircuitVersion = "1.0.0"
)

var (
	ErrInvalidAmount          = errors.New("pool: deposit amount must be positive")
	ErrInsufficientFunds      = errors.New("pool: settlement exceeds pool balance")
	ErrUnauthorized           = errors.New("pool: caller is not the pool authority")
	ErrUnauthorizedWithdrawal = errors.New("pool: caller may not submit settlements")
	ErrVerifierPaused         = errors.New("pool: settlements are paused")
	ErrInvalidMerkleRoot      = errors.New("pool: proof root does not match the current root")
)

// Config assembles a pool. Store may be nil for a purely in-memory
// pool; zero fields take the package defaults.
type Config struct {
	Authority         Identity
	SettlementCaller  Identity
	TreeHeight        uint8
	NullifierCapacity int
	CircuitName       string
	CircuitVersion    string
	Store             *store.Store
	Logger            zerolog.Logger
}

// ledgerRecord is the persisted form of the pool's value counters.
type ledgerRecord struct {
	Balance             uint64 `cbor:"1,keyasint"`
	TotalDeposited      uint64 `cbor:"2,keyasint"`
	TotalWithdrawn      uint64 `cbor:"3,keyasint"`
	TotalVerifiedAmount uint64 `cbor:"4,keyasint"`
	Paused              bool   `cbor:"5,keyasint"`
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Balance             uint64
	TotalDeposited      uint64
	TotalWithdrawn      uint64
	TotalVerifiedAmount uint64
	NullifierCount      int
	LeafCount           uint64
	Root                merkle.Hash
	Paused              bool
}

// Pool is the settlement controller. All state behind the mutex.
type Pool struct {
	mu sync.Mutex

	authority        Identity
	settlementCaller Identity
	circuit          string
	circuitVersion   string

	tree       *merkle.Accumulator
	nullifiers *nullifier.Registry
	keys       *vkregistry.Registry

	ledger ledgerRecord

	observers []Observer
	st        *store.Store
	log       zerolog.Logger
}

// New builds a pool from cfg, restoring any persisted ledger, tree and
// nullifier state from the store.
func New(cfg Config) (*Pool, error) {
	if cfg.TreeHeight == 0 {
		cfg.TreeHeight = DefaultTreeHeight
	}
	if cfg.NullifierCapacity == 0 {
		cfg.NullifierCapacity = nullifier.DefaultCapacity
	}
	if cfg.CircuitName == "" {
		cfg.CircuitName = DefaultCircuit
	}
	if cfg.CircuitVersion == "" {
		cfg.CircuitVersion = DefaultCircuitVersion
	}

	keys, err := vkregistry.NewRegistry([32]byte(cfg.Authority), cfg.Store)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		authority:        cfg.Authority,
		settlementCaller: cfg.SettlementCaller,
		circuit:          cfg.CircuitName,
		circuitVersion:   cfg.CircuitVersion,
		nullifiers:       nullifier.NewRegistry(cfg.NullifierCapacity),
		keys:             keys,
		st:               cfg.Store,
		log:              cfg.Logger,
	}

	if err := p.restore(cfg.TreeHeight); err != nil {
		return nil, err
	}
	return p, nil
}

// restore loads persisted state, falling back to an empty pool of the
// configured height. A persisted tree wins over the configured height:
// the accumulator's shape is fixed at first use.
func (p *Pool) restore(height uint8) error {
	if p.st != nil {
		var ts merkle.State
		ok, err := p.st.GetRecord(store.KeyTree, &ts)
		if err != nil {
			return err
		}
		if ok {
			tree, err := merkle.FromState(ts)
			if err != nil {
				return err
			}
			p.tree = tree
		}
		if _, err := p.st.GetRecord(store.KeyPool, &p.ledger); err != nil {
			return err
		}
		err = store.EachRecord(p.st, store.PrefixNullifier, func(name string, n merkle.Hash) error {
			return p.nullifiers.Insert(n)
		})
		if err != nil {
			return err
		}
	}
	if p.tree == nil {
		tree, err := merkle.New(height)
		if err != nil {
			return err
		}
		p.tree = tree
	}
	return nil
}

// Keys exposes the verification key registry. Registration and
// deactivation enforce the authority capability themselves.
func (p *Pool) Keys() *vkregistry.Registry { return p.keys }

// Subscribe registers an observer for deposit and settlement events.
func (p *Pool) Subscribe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Root returns the current accumulator root.
func (p *Pool) Root() merkle.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Root()
}

// NextLeafIndex returns the slot the next deposit will occupy.
func (p *Pool) NextLeafIndex() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.NextIndex()
}

// ProofPath returns the sibling path for a deposited leaf, for
// callers assembling a spend witness.
func (p *Pool) ProofPath(index uint64) (*merkle.Path, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.ProofPath(index)
}

// IsSettled reports whether a nullifier has been consumed.
func (p *Pool) IsSettled(n merkle.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nullifiers.Contains(n)
}

// Stats snapshots the ledger and accumulator counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Balance:             p.ledger.Balance,
		TotalDeposited:      p.ledger.TotalDeposited,
		TotalWithdrawn:      p.ledger.TotalWithdrawn,
		TotalVerifiedAmount: p.ledger.TotalVerifiedAmount,
		NullifierCount:      p.nullifiers.Len(),
		LeafCount:           p.tree.NextIndex(),
		Root:                p.tree.Root(),
		Paused:              p.ledger.Paused,
	}
}

// Paused reports whether settlements are suspended.
func (p *Pool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Paused
}

// Pause suspends settlements. Deposits keep working.
func (p *Pool) Pause(caller Identity) error {
	return p.setPaused(caller, true)
}

// Unpause resumes settlements.
func (p *Pool) Unpause(caller Identity) error {
	return p.setPaused(caller, false)
}

func (p *Pool) setPaused(caller Identity, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.authority {
		return ErrUnauthorized
	}
	ledger := p.ledger
	ledger.Paused = paused
	if p.st != nil {
		if err := p.st.PutRecord(store.KeyPool, ledger); err != nil {
			return err
		}
	}
	p.ledger = ledger
	p.log.Info().Bool("paused", paused).Msg("settlement gate changed")
	return nil
}

// Deposit takes custody of amount and appends the commitment to the
// accumulator. Returns the receipt with the leaf index and new root.
func (p *Pool) Deposit(commitment merkle.Hash, amount uint64) (*DepositEvent, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	p.mu.Lock()
	index := p.tree.NextIndex()
	var snap merkle.State
	if p.st != nil {
		snap = p.tree.State()
	}
	if err := p.tree.Insert(index, commitment); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	ledger := p.ledger
	ledger.Balance += amount
	ledger.TotalDeposited += amount
	ev := DepositEvent{
		Commitment: commitment,
		LeafIndex:  index,
		Amount:     amount,
		NewRoot:    p.tree.Root(),
	}
	if p.st != nil {
		err := p.st.PutRecords(
			store.Record{Name: store.KeyTree, Value: p.tree.State()},
			store.Record{Name: store.KeyPool, Value: ledger},
		)
		if err != nil {
			// Undo the insert so a failed deposit leaves no trace.
			if prev, rerr := merkle.FromState(snap); rerr == nil {
				p.tree = prev
			}
			p.mu.Unlock()
			return nil, err
		}
	}
	p.ledger = ledger
	observers := p.observers
	p.mu.Unlock()

	p.log.Info().
		Hex("commitment", commitment[:]).
		Uint64("index", index).
		Uint64("amount", amount).
		Hex("root", ev.NewRoot[:]).
		Msg("deposit accepted")
	for _, o := range observers {
		o.OnDeposit(ev)
	}
	return &ev, nil
}

// WithdrawWithProof settles a spend. The caller must hold the
// settlement capability; the proof must verify under the active
// verification key against the pool's current root. Checks run in a
// fixed order so a transaction failing several ways reports the same
// error every time: pause gate, capability, signal decoding, proof,
// root, double spend, funds. Only then does state change.
func (p *Pool) WithdrawWithProof(caller Identity, proof *verifier.Proof, signals []merkle.Hash) (*SettlementEvent, error) {
	p.mu.Lock()

	if p.ledger.Paused {
		p.mu.Unlock()
		return nil, ErrVerifierPaused
	}
	if caller != p.settlementCaller {
		p.mu.Unlock()
		return nil, ErrUnauthorizedWithdrawal
	}

	decoded, err := verifier.DecodeSpendSignals(signals)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	key, err := p.keys.ActiveKey(p.circuit, p.circuitVersion)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	ok, err := verifier.Verify(key, proof, decoded.Raw())
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if !ok {
		p.mu.Unlock()
		p.log.Warn().Hex("nullifier", decoded.Nullifier[:]).Msg("proof rejected")
		return nil, verifier.ErrInvalidProof
	}

	if decoded.Root != p.tree.Root() {
		p.mu.Unlock()
		return nil, ErrInvalidMerkleRoot
	}
	if p.nullifiers.Contains(decoded.Nullifier) {
		p.mu.Unlock()
		return nil, nullifier.ErrDoubleSpend
	}
	if p.nullifiers.Full() {
		p.mu.Unlock()
		return nil, nullifier.ErrRegistryFull
	}
	if p.ledger.Balance < decoded.Amount {
		p.mu.Unlock()
		return nil, ErrInsufficientFunds
	}

	// Validation done. Persist first: a store failure here aborts the
	// settlement with memory untouched.
	seq := p.nullifiers.Len()
	ledger := p.ledger
	ledger.Balance -= decoded.Amount
	ledger.TotalWithdrawn += decoded.Amount
	ledger.TotalVerifiedAmount += decoded.Amount
	if p.st != nil {
		err := p.st.PutRecords(
			store.Record{Name: nullifierRecord(seq), Value: decoded.Nullifier},
			store.Record{Name: store.KeyPool, Value: ledger},
		)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	// Contains and capacity were checked above; Insert cannot fail.
	_ = p.nullifiers.Insert(decoded.Nullifier)
	p.ledger = ledger
	ev := SettlementEvent{
		Nullifier: decoded.Nullifier,
		Recipient: decoded.Recipient,
		Amount:    decoded.Amount,
		Binder:    decoded.Binder,
		Root:      decoded.Root,
	}
	observers := p.observers
	p.mu.Unlock()

	p.log.Info().
		Hex("nullifier", ev.Nullifier[:]).
		Hex("recipient", ev.Recipient[:]).
		Uint64("amount", ev.Amount).
		Msg("settlement accepted")
	for _, o := range observers {
		o.OnSettlement(ev)
	}
	return &ev, nil
}

// nullifierRecord keys by sequence number so iteration order on
// restore matches insertion order.
func nullifierRecord(seq int) string {
	return fmt.Sprintf("%s%012d", store.PrefixNullifier, seq)
}
