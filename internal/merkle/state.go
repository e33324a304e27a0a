// state.go - Accumulator snapshot for persistence.

package merkle

import "errors"

var ErrBadState = errors.New("merkle: inconsistent persisted state")

// State is the serializable form of an accumulator. Zeros and the root
// are recomputed on restore.
type State struct {
	Height    uint8  `cbor:"1,keyasint"`
	NextIndex uint64 `cbor:"2,keyasint"`
	Filled    []Hash `cbor:"3,keyasint"`
	Leaves    []Hash `cbor:"4,keyasint"`
}

// State snapshots the accumulator.
func (a *Accumulator) State() State {
	s := State{
		Height:    a.height,
		NextIndex: a.nextIndex,
		Filled:    make([]Hash, len(a.filledSubtrees)),
		Leaves:    make([]Hash, len(a.leaves)),
	}
	copy(s.Filled, a.filledSubtrees)
	copy(s.Leaves, a.leaves)
	return s
}

// FromState rebuilds an accumulator from a snapshot.
func FromState(s State) (*Accumulator, error) {
	a, err := New(s.Height)
	if err != nil {
		return nil, err
	}
	if len(s.Filled) != int(s.Height) ||
		uint64(len(s.Leaves)) != s.NextIndex ||
		s.NextIndex > uint64(1)<<s.Height {
		return nil, ErrBadState
	}
	copy(a.filledSubtrees, s.Filled)
	a.leaves = append(a.leaves, s.Leaves...)
	a.nextIndex = s.NextIndex
	a.root = a.computeRoot()
	return a, nil
}
