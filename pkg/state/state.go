// Package state implements the contract world state seen by executing calls.
//
// The state maps contract addresses to class hashes, nonces and storage, and
// resolves class hashes to compiled artifacts. Calls run against a
// CachedState layered over the committed state so that failed calls leave no
// trace.
package state

import (
	"errors"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
)

var (
	// ErrClassNotDeclared is returned when a class hash has no artifact.
	ErrClassNotDeclared = errors.New("class not declared")

	// ErrClosed is returned when operating on a closed state.
	ErrClosed = errors.New("state closed")

	// ErrCorrupted is returned when stored data cannot be decoded.
	ErrCorrupted = errors.New("state data corrupted")
)

// ClassProvider resolves class hashes to compiled artifacts.
type ClassProvider interface {
	// GetCompiledClass returns ErrClassNotDeclared for unknown hashes.
	GetCompiledClass(classHash types.ClassHash) (contractclass.Artifact, error)
}

// Reader is the read side of the state. Absent values read as zero.
type Reader interface {
	ClassProvider
	GetStorageAt(address types.ContractAddress, key types.StorageKey) (types.Felt, error)
	GetNonceAt(address types.ContractAddress) (types.Felt, error)
	GetClassHashAt(address types.ContractAddress) (types.ClassHash, error)
}

// State is a mutable world state.
type State interface {
	Reader
	SetStorageAt(address types.ContractAddress, key types.StorageKey, value types.Felt) error
	SetNonceAt(address types.ContractAddress, nonce types.Felt) error
	SetClassHashAt(address types.ContractAddress, classHash types.ClassHash) error
}

// IncrementNonce bumps the nonce of address by one.
func IncrementNonce(s State, address types.ContractAddress) error {
	n, err := s.GetNonceAt(address)
	if err != nil {
		return err
	}
	return s.SetNonceAt(address, n.Add(types.One))
}

// IsDeployed reports whether a class is assigned to address.
func IsDeployed(s Reader, address types.ContractAddress) (bool, error) {
	h, err := s.GetClassHashAt(address)
	if err != nil {
		return false, err
	}
	return !h.IsZero(), nil
}

type storageSlot struct {
	address types.ContractAddress
	key     types.StorageKey
}

// MemoryState is an in-memory State for tests and tooling.
type MemoryState struct {
	storage     map[storageSlot]types.Felt
	nonces      map[types.ContractAddress]types.Felt
	classHashes map[types.ContractAddress]types.ClassHash
	classes     map[types.ClassHash]contractclass.Artifact
	closed      bool
}

// NewMemoryState creates an empty state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		storage:     make(map[storageSlot]types.Felt),
		nonces:      make(map[types.ContractAddress]types.Felt),
		classHashes: make(map[types.ContractAddress]types.ClassHash),
		classes:     make(map[types.ClassHash]contractclass.Artifact),
	}
}

// DeclareClass registers an artifact under classHash.
func (m *MemoryState) DeclareClass(classHash types.ClassHash, artifact contractclass.Artifact) {
	m.classes[classHash] = artifact
}

// GetCompiledClass implements ClassProvider.
func (m *MemoryState) GetCompiledClass(classHash types.ClassHash) (contractclass.Artifact, error) {
	if m.closed {
		return nil, ErrClosed
	}
	a, ok := m.classes[classHash]
	if !ok {
		return nil, ErrClassNotDeclared
	}
	return a, nil
}

// GetStorageAt implements Reader.
func (m *MemoryState) GetStorageAt(address types.ContractAddress, key types.StorageKey) (types.Felt, error) {
	if m.closed {
		return types.Felt{}, ErrClosed
	}
	return m.storage[storageSlot{address, key}], nil
}

// GetNonceAt implements Reader.
func (m *MemoryState) GetNonceAt(address types.ContractAddress) (types.Felt, error) {
	if m.closed {
		return types.Felt{}, ErrClosed
	}
	return m.nonces[address], nil
}

// GetClassHashAt implements Reader.
func (m *MemoryState) GetClassHashAt(address types.ContractAddress) (types.ClassHash, error) {
	if m.closed {
		return types.Felt{}, ErrClosed
	}
	return m.classHashes[address], nil
}

// SetStorageAt implements State. Writing zero deletes the slot.
func (m *MemoryState) SetStorageAt(address types.ContractAddress, key types.StorageKey, value types.Felt) error {
	if m.closed {
		return ErrClosed
	}
	if value.IsZero() {
		delete(m.storage, storageSlot{address, key})
		return nil
	}
	m.storage[storageSlot{address, key}] = value
	return nil
}

// SetNonceAt implements State.
func (m *MemoryState) SetNonceAt(address types.ContractAddress, nonce types.Felt) error {
	if m.closed {
		return ErrClosed
	}
	m.nonces[address] = nonce
	return nil
}

// SetClassHashAt implements State.
func (m *MemoryState) SetClassHashAt(address types.ContractAddress, classHash types.ClassHash) error {
	if m.closed {
		return ErrClosed
	}
	m.classHashes[address] = classHash
	return nil
}

// StorageSize returns the number of non-zero storage slots.
func (m *MemoryState) StorageSize() int {
	return len(m.storage)
}

// Close closes the state.
func (m *MemoryState) Close() error {
	m.closed = true
	m.storage = nil
	return nil
}
