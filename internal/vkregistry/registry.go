// registry.go - Versioned verification key records.
//
// Every circuit name/version pair maps to one named record, registered
// by the registry authority. Entries can be superseded by a newer
// version and deactivated, but never deleted: settlements that were
// authorized under an old key must stay auditable. Deactivation only
// blocks lookups for new proofs.

package vkregistry

import (
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/blang/semver/v4"

	"shieldedpool/internal/store"
	"shieldedpool/internal/verifier"
)

// Limits on registered entries.
const (
	MaxCircuitNameLen = 32
	MaxVersionLen     = 16
	MaxKeySize        = 8192
)

var (
	ErrUnauthorized           = errors.New("vkregistry: caller is not the registry authority")
	ErrCircuitNameTooLong     = errors.New("vkregistry: circuit name too long")
	ErrVersionTooLong         = errors.New("vkregistry: version too long")
	ErrBadVersion             = errors.New("vkregistry: version is not valid semver")
	ErrVerificationKeyTooLarge = errors.New("vkregistry: verification key exceeds size limit")
	ErrEmptyVerificationKey   = errors.New("vkregistry: verification key is empty")
	ErrKeyExists              = errors.New("vkregistry: key already registered for this circuit version")
	ErrKeyNotFound            = errors.New("vkregistry: no key for this circuit version")
	ErrKeyDeactivated         = errors.New("vkregistry: key is deactivated")
)

// Entry is one registered verification key record.
type Entry struct {
	CircuitName  string   `cbor:"1,keyasint"`
	Version      string   `cbor:"2,keyasint"`
	KeyBytes     []byte   `cbor:"3,keyasint"`
	KeyHash      [32]byte `cbor:"4,keyasint"`
	RegisteredAt int64    `cbor:"5,keyasint"`
	Active       bool     `cbor:"6,keyasint"`
}

// Registry holds verification key entries for one authority. Safe for
// concurrent use: registration runs on a different goroutine than
// settlement lookups.
type Registry struct {
	mu        sync.Mutex
	authority [32]byte
	entries   map[string]*Entry
	st        *store.Store
	now       func() time.Time
}

// NewRegistry creates a registry owned by authority, loading any
// persisted entries from st. A nil store keeps the registry purely in
// memory.
func NewRegistry(authority [32]byte, st *store.Store) (*Registry, error) {
	r := &Registry{
		authority: authority,
		entries:   make(map[string]*Entry),
		st:        st,
		now:       time.Now,
	}
	if st != nil {
		err := store.EachRecord(st, store.PrefixVerification, func(name string, e Entry) error {
			entry := e
			r.entries[recordKey(e.CircuitName, e.Version)] = &entry
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func recordKey(circuit, version string) string {
	return store.PrefixVerification + circuit + "/" + version
}

// Register stores key bytes for a circuit name/version. The bytes must
// decode to a structurally sane raw verification key.
func (r *Registry) Register(caller [32]byte, circuit, version string, keyBytes []byte) (*Entry, error) {
	if caller != r.authority {
		return nil, ErrUnauthorized
	}
	if len(circuit) > MaxCircuitNameLen {
		return nil, ErrCircuitNameTooLong
	}
	if len(version) > MaxVersionLen {
		return nil, ErrVersionTooLong
	}
	if _, err := semver.Parse(version); err != nil {
		return nil, ErrBadVersion
	}
	if len(keyBytes) == 0 {
		return nil, ErrEmptyVerificationKey
	}
	if len(keyBytes) > MaxKeySize {
		return nil, ErrVerificationKeyTooLarge
	}
	if allZero(keyBytes) {
		return nil, verifier.ErrInvalidVerificationKey
	}
	if _, err := verifier.ParseVerificationKey(keyBytes); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := recordKey(circuit, version)
	if _, exists := r.entries[k]; exists {
		return nil, ErrKeyExists
	}

	entry := &Entry{
		CircuitName:  circuit,
		Version:      version,
		KeyBytes:     append([]byte(nil), keyBytes...),
		KeyHash:      sha256.Sum256(keyBytes),
		RegisteredAt: r.now().Unix(),
		Active:       true,
	}
	if r.st != nil {
		if err := r.st.PutRecord(k, entry); err != nil {
			return nil, err
		}
	}
	r.entries[k] = entry
	out := *entry
	return &out, nil
}

// Deactivate blocks the entry for new proofs. The record stays
// readable through Entry.
func (r *Registry) Deactivate(caller [32]byte, circuit, version string) error {
	if caller != r.authority {
		return ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := recordKey(circuit, version)
	entry, ok := r.entries[k]
	if !ok {
		return ErrKeyNotFound
	}
	entry.Active = false
	if r.st != nil {
		return r.st.PutRecord(k, entry)
	}
	return nil
}

// ActiveKey returns the decoded key for verifying a new proof. Rejects
// unknown and deactivated entries.
func (r *Registry) ActiveKey(circuit, version string) (*verifier.VerificationKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[recordKey(circuit, version)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !entry.Active {
		return nil, ErrKeyDeactivated
	}
	return verifier.ParseVerificationKey(entry.KeyBytes)
}

// Entry returns a copy of the record for a circuit version, active or
// not.
func (r *Registry) Entry(circuit, version string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[recordKey(circuit, version)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := *entry
	return &out, nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
