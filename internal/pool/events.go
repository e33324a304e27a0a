// events.go - Pool event stream.

package pool

import "shieldedpool/internal/merkle"

// DepositEvent records one commitment entering the accumulator. It
// doubles as the deposit receipt returned to the caller.
type DepositEvent struct {
	Commitment merkle.Hash
	LeafIndex  uint64
	Amount     uint64
	NewRoot    merkle.Hash
}

// SettlementEvent records one proven withdrawal. Binder is carried
// through unchanged for downstream consumers.
type SettlementEvent struct {
	Nullifier merkle.Hash
	Recipient [32]byte
	Amount    uint64
	Binder    merkle.Hash
	Root      merkle.Hash
}

// Observer receives pool events. Callbacks run on the mutating
// goroutine after its state change commits, outside the pool lock, so
// deliveries from concurrent operations may arrive in either order.
// Observers that need a total order must serialize on the settlement
// event's root or their own clock.
type Observer interface {
	OnDeposit(DepositEvent)
	OnSettlement(SettlementEvent)
}
