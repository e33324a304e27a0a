// registry.go - Append-only set of spent nullifiers.
//
// The registry is the spend record: a withdrawal is settled the moment
// its nullifier lands here. Membership is a hash lookup; the
// insertion-order journal is kept for auditability and persistence
// replay. The registry carries no lock of its own - the pool's
// exclusive lock makes check-and-insert one atomic step (no observer
// can see "not present" for a nullifier whose insertion later
// succeeds).

package nullifier

import (
	"errors"

	"shieldedpool/internal/merkle"
)

// DefaultCapacity matches the pool's leaf capacity at height 20.
const DefaultCapacity = 1 << 20

var (
	ErrDoubleSpend  = errors.New("nullifier: already spent")
	ErrRegistryFull = errors.New("nullifier: registry is full")
)

// Registry is an insertion-ordered nullifier set with a capacity
// ceiling.
type Registry struct {
	capacity int
	index    map[merkle.Hash]struct{}
	journal  []merkle.Hash
}

// NewRegistry creates an empty registry. A non-positive capacity falls
// back to DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		index:    make(map[merkle.Hash]struct{}),
	}
}

// Contains reports whether n has been spent. Pure read.
func (r *Registry) Contains(n merkle.Hash) bool {
	_, ok := r.index[n]
	return ok
}

// Insert registers n as spent. Rejects duplicates and inserts past the
// capacity ceiling.
func (r *Registry) Insert(n merkle.Hash) error {
	if r.Contains(n) {
		return ErrDoubleSpend
	}
	if len(r.journal) >= r.capacity {
		return ErrRegistryFull
	}
	r.index[n] = struct{}{}
	r.journal = append(r.journal, n)
	return nil
}

// Len returns the number of registered nullifiers.
func (r *Registry) Len() int { return len(r.journal) }

// Full reports whether the capacity ceiling has been reached.
func (r *Registry) Full() bool { return len(r.journal) >= r.capacity }

// Journal returns the nullifiers in insertion order. The returned
// slice is shared; callers must not mutate it.
func (r *Registry) Journal() []merkle.Hash { return r.journal }
