// pool_test.go - Settlement controller tests.
//
// The proving fixture compiles the spend circuit once and reuses the
// Groth16 keys across tests; proof generation is the slow part, not
// the pool itself.

package pool_test

import (
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"shieldedpool/internal/circuits/spend"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/nullifier"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/store"
	"shieldedpool/internal/verifier"
	"shieldedpool/internal/vkregistry"
)

const testHeight = 4

var (
	testAuthority = pool.Identity{0x0a}
	testSettler   = pool.Identity{0x0b}
	testRecipient = [32]byte{0xcc, 0x01}
	testBinder    = merkle.Hash{0xbd}
)

type fixture struct {
	ccs     constraint.ConstraintSystem
	pk      groth16.ProvingKey
	vkBytes []byte
}

var (
	fixtureOnce sync.Once
	fixtureVal  *fixture
	fixtureErr  error
)

func spendFixture(t *testing.T) *fixture {
	t.Helper()
	fixtureOnce.Do(func() {
		ccs, err := spend.Compile(testHeight)
		if err != nil {
			fixtureErr = err
			return
		}
		pk, gvk, err := groth16.Setup(ccs)
		if err != nil {
			fixtureErr = err
			return
		}
		vk, err := verifier.KeyFromGnark(gvk)
		if err != nil {
			fixtureErr = err
			return
		}
		b, err := vk.Bytes()
		if err != nil {
			fixtureErr = err
			return
		}
		fixtureVal = &fixture{ccs: ccs, pk: pk, vkBytes: b}
	})
	require.NoError(t, fixtureErr)
	return fixtureVal
}

func newTestPool(t *testing.T, st *store.Store, registerKey bool) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		Authority:        testAuthority,
		SettlementCaller: testSettler,
		TreeHeight:       testHeight,
		CircuitName:      spend.CircuitName,
		CircuitVersion:   "1.0.0",
		Store:            st,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	if registerKey {
		fx := spendFixture(t)
		_, err = p.Keys().Register([32]byte(testAuthority), spend.CircuitName, "1.0.0", fx.vkBytes)
		require.NoError(t, err)
	}
	return p
}

// depositAndProve puts a note into the pool and builds a spend proof
// against the resulting root.
func depositAndProve(t *testing.T, p *pool.Pool, note *spend.Note) (*verifier.Proof, []merkle.Hash) {
	t.Helper()
	fx := spendFixture(t)
	ev, err := p.Deposit(note.Commitment(), note.Amount)
	require.NoError(t, err)
	path, err := p.ProofPath(ev.LeafIndex)
	require.NoError(t, err)
	proof, signals, err := spend.Prove(fx.ccs, fx.pk, note, path, p.Root(), testRecipient, testBinder)
	require.NoError(t, err)
	return proof, signals
}

// validSignals builds a decodable signal vector without a backing
// proof, for tests that fail before verification.
func validSignals(root merkle.Hash) []merkle.Hash {
	return []merkle.Hash{
		root,
		{0x11},
		merkle.Hash(testRecipient),
		verifier.EncodeAmount(5),
		testBinder,
	}
}

func TestDepositValidation(t *testing.T) {
	p := newTestPool(t, nil, false)

	_, err := p.Deposit(merkle.Hash{1}, 0)
	require.ErrorIs(t, err, pool.ErrInvalidAmount)

	for i := uint64(0); i < 1<<testHeight; i++ {
		_, err := p.Deposit(merkle.Hash{byte(i + 1)}, 1)
		require.NoError(t, err)
	}
	_, err = p.Deposit(merkle.Hash{0xff}, 1)
	require.ErrorIs(t, err, merkle.ErrTreeFull)

	st := p.Stats()
	require.Equal(t, uint64(1<<testHeight), st.LeafCount)
	require.Equal(t, uint64(1<<testHeight), st.Balance)
	require.Equal(t, uint64(1<<testHeight), st.TotalDeposited)
}

func TestSettlementRoundTrip(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(100)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	ev, err := p.WithdrawWithProof(testSettler, proof, signals)
	require.NoError(t, err)
	require.Equal(t, note.NullifierHash(), ev.Nullifier)
	require.Equal(t, testRecipient, ev.Recipient)
	require.Equal(t, uint64(100), ev.Amount)
	require.Equal(t, testBinder, ev.Binder)

	require.True(t, p.IsSettled(note.NullifierHash()))
	st := p.Stats()
	require.Equal(t, uint64(0), st.Balance)
	require.Equal(t, uint64(100), st.TotalWithdrawn)
	require.Equal(t, uint64(100), st.TotalVerifiedAmount)
	require.Equal(t, 1, st.NullifierCount)
}

func TestReplayIsRejected(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.NoError(t, err)

	// The root has not changed, so the replay reaches the nullifier
	// check and dies there.
	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.ErrorIs(t, err, nullifier.ErrDoubleSpend)

	st := p.Stats()
	require.Equal(t, uint64(10), st.TotalWithdrawn)
}

func TestStaleRootRejected(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	// Another deposit moves the root; the proof is now stale even
	// though it still verifies against its own root.
	_, err = p.Deposit(merkle.Hash{0x77}, 1)
	require.NoError(t, err)

	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.ErrorIs(t, err, pool.ErrInvalidMerkleRoot)
	require.False(t, p.IsSettled(note.NullifierHash()))
}

func TestTamperedSignalRejected(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	tampered := append([]merkle.Hash(nil), signals...)
	tampered[verifier.SignalRecipient] = merkle.Hash{0xde, 0xad}

	_, err = p.WithdrawWithProof(testSettler, proof, tampered)
	require.ErrorIs(t, err, verifier.ErrInvalidProof)
}

func TestPauseGate(t *testing.T) {
	p := newTestPool(t, nil, true)

	require.ErrorIs(t, p.Pause(testSettler), pool.ErrUnauthorized)
	require.NoError(t, p.Pause(testAuthority))
	require.True(t, p.Paused())

	_, err := p.WithdrawWithProof(testSettler, &verifier.Proof{}, nil)
	require.ErrorIs(t, err, pool.ErrVerifierPaused)

	// Deposits keep working while settlements are suspended.
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	require.NoError(t, p.Unpause(testAuthority))
	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.NoError(t, err)
}

func TestUnauthorizedCaller(t *testing.T) {
	p := newTestPool(t, nil, true)
	_, err := p.WithdrawWithProof(pool.Identity{0xee}, &verifier.Proof{}, nil)
	require.ErrorIs(t, err, pool.ErrUnauthorizedWithdrawal)
}

func TestMalformedSignalsRejectedBeforeKeyLookup(t *testing.T) {
	// No key registered: a short signal vector must still die on the
	// count check, not on key lookup.
	p := newTestPool(t, nil, false)
	_, err := p.WithdrawWithProof(testSettler, &verifier.Proof{}, make([]merkle.Hash, 4))
	require.ErrorIs(t, err, verifier.ErrInvalidPublicInputCount)
}

func TestMissingVerificationKey(t *testing.T) {
	p := newTestPool(t, nil, false)
	_, err := p.WithdrawWithProof(testSettler, &verifier.Proof{}, validSignals(p.Root()))
	require.ErrorIs(t, err, vkregistry.ErrKeyNotFound)
}

func TestInsufficientFunds(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(100)
	require.NoError(t, err)

	fx := spendFixture(t)
	// Custody only receives 1 even though the note claims 100.
	ev, err := p.Deposit(note.Commitment(), 1)
	require.NoError(t, err)
	path, err := p.ProofPath(ev.LeafIndex)
	require.NoError(t, err)
	proof, signals, err := spend.Prove(fx.ccs, fx.pk, note, path, p.Root(), testRecipient, testBinder)
	require.NoError(t, err)

	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.ErrorIs(t, err, pool.ErrInsufficientFunds)
	require.False(t, p.IsSettled(note.NullifierHash()))
	require.Equal(t, uint64(1), p.Stats().Balance)
}

func TestConcurrentDoubleSpend(t *testing.T) {
	p := newTestPool(t, nil, true)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.WithdrawWithProof(testSettler, proof, signals)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, nullifier.ErrDoubleSpend)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, uint64(10), p.Stats().TotalWithdrawn)
}

func TestRegistryCapacityStopsSettlement(t *testing.T) {
	fx := spendFixture(t)
	p, err := pool.New(pool.Config{
		Authority:         testAuthority,
		SettlementCaller:  testSettler,
		TreeHeight:        testHeight,
		NullifierCapacity: 1,
		CircuitName:       spend.CircuitName,
		CircuitVersion:    "1.0.0",
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	_, err = p.Keys().Register([32]byte(testAuthority), spend.CircuitName, "1.0.0", fx.vkBytes)
	require.NoError(t, err)

	first, err := spend.NewNote(5)
	require.NoError(t, err)
	second, err := spend.NewNote(5)
	require.NoError(t, err)
	_, err = p.Deposit(first.Commitment(), first.Amount)
	require.NoError(t, err)
	_, err = p.Deposit(second.Commitment(), second.Amount)
	require.NoError(t, err)

	// Both proofs target the root after both deposits; settlement does
	// not move the root, so each stays current.
	settle := func(note *spend.Note, leaf uint64) error {
		path, err := p.ProofPath(leaf)
		require.NoError(t, err)
		proof, signals, err := spend.Prove(fx.ccs, fx.pk, note, path, p.Root(), testRecipient, testBinder)
		require.NoError(t, err)
		_, err = p.WithdrawWithProof(testSettler, proof, signals)
		return err
	}
	require.NoError(t, settle(first, 0))
	require.ErrorIs(t, settle(second, 1), nullifier.ErrRegistryFull)
	require.False(t, p.IsSettled(second.NullifierHash()))
}

type eventRecorder struct {
	deposits    []pool.DepositEvent
	settlements []pool.SettlementEvent
}

func (r *eventRecorder) OnDeposit(ev pool.DepositEvent)       { r.deposits = append(r.deposits, ev) }
func (r *eventRecorder) OnSettlement(ev pool.SettlementEvent) { r.settlements = append(r.settlements, ev) }

func TestEventStream(t *testing.T) {
	p := newTestPool(t, nil, true)
	rec := &eventRecorder{}
	p.Subscribe(rec)

	note, err := spend.NewNote(42)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)
	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.NoError(t, err)

	require.Len(t, rec.deposits, 1)
	require.Equal(t, note.Commitment(), rec.deposits[0].Commitment)
	require.Equal(t, uint64(42), rec.deposits[0].Amount)
	require.Len(t, rec.settlements, 1)
	require.Equal(t, note.NullifierHash(), rec.settlements[0].Nullifier)
}

// A store failure mid-operation must abort with the in-memory pool
// exactly as it was: no settled nullifier, no moved balance, no new
// leaf. Closing the database makes every write fail.
func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)

	p := newTestPool(t, st, true)
	note, err := spend.NewNote(10)
	require.NoError(t, err)
	proof, signals := depositAndProve(t, p, note)
	baseline := p.Stats()

	require.NoError(t, st.Close())

	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.Error(t, err)
	require.False(t, p.IsSettled(note.NullifierHash()))
	require.Equal(t, baseline, p.Stats())

	_, err = p.Deposit(merkle.Hash{0x55}, 5)
	require.Error(t, err)
	require.Equal(t, baseline, p.Stats())

	require.Error(t, p.Pause(testAuthority))
	require.False(t, p.Paused())
}

func TestRestoreFromStore(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	p := newTestPool(t, st, true)
	spent, err := spend.NewNote(10)
	require.NoError(t, err)
	unspent, err := spend.NewNote(20)
	require.NoError(t, err)

	proof, signals := depositAndProve(t, p, spent)
	_, err = p.WithdrawWithProof(testSettler, proof, signals)
	require.NoError(t, err)
	_, err = p.Deposit(unspent.Commitment(), unspent.Amount)
	require.NoError(t, err)
	oldStats := p.Stats()

	// Rebuild from the same store: root, ledger, nullifiers and the
	// registered key all survive.
	restored := newTestPool(t, st, false)
	require.Equal(t, oldStats, restored.Stats())
	require.True(t, restored.IsSettled(spent.NullifierHash()))

	// The unspent note is still spendable through the restored tree.
	fx := spendFixture(t)
	path, err := restored.ProofPath(1)
	require.NoError(t, err)
	proof2, signals2, err := spend.Prove(fx.ccs, fx.pk, unspent, path, restored.Root(), testRecipient, testBinder)
	require.NoError(t, err)
	_, err = restored.WithdrawWithProof(testSettler, proof2, signals2)
	require.NoError(t, err)
}
