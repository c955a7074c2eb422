package state

import (
	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
)

// CachedState buffers writes over a parent state. Reads fall through to the
// parent for anything not written here. Commit flushes the buffer into the
// parent; dropping the CachedState discards it.
type CachedState struct {
	parent      State
	storage     map[storageSlot]types.Felt
	nonces      map[types.ContractAddress]types.Felt
	classHashes map[types.ContractAddress]types.ClassHash
	// writeOrder keeps commits deterministic.
	writeOrder []storageSlot
}

// NewCachedState layers an empty write buffer over parent.
func NewCachedState(parent State) *CachedState {
	return &CachedState{
		parent:      parent,
		storage:     make(map[storageSlot]types.Felt),
		nonces:      make(map[types.ContractAddress]types.Felt),
		classHashes: make(map[types.ContractAddress]types.ClassHash),
	}
}

// GetCompiledClass implements ClassProvider.
func (c *CachedState) GetCompiledClass(classHash types.ClassHash) (contractclass.Artifact, error) {
	return c.parent.GetCompiledClass(classHash)
}

// GetStorageAt implements Reader.
func (c *CachedState) GetStorageAt(address types.ContractAddress, key types.StorageKey) (types.Felt, error) {
	if v, ok := c.storage[storageSlot{address, key}]; ok {
		return v, nil
	}
	return c.parent.GetStorageAt(address, key)
}

// GetNonceAt implements Reader.
func (c *CachedState) GetNonceAt(address types.ContractAddress) (types.Felt, error) {
	if v, ok := c.nonces[address]; ok {
		return v, nil
	}
	return c.parent.GetNonceAt(address)
}

// GetClassHashAt implements Reader.
func (c *CachedState) GetClassHashAt(address types.ContractAddress) (types.ClassHash, error) {
	if v, ok := c.classHashes[address]; ok {
		return v, nil
	}
	return c.parent.GetClassHashAt(address)
}

// SetStorageAt implements State.
func (c *CachedState) SetStorageAt(address types.ContractAddress, key types.StorageKey, value types.Felt) error {
	slot := storageSlot{address, key}
	if _, ok := c.storage[slot]; !ok {
		c.writeOrder = append(c.writeOrder, slot)
	}
	c.storage[slot] = value
	return nil
}

// SetNonceAt implements State.
func (c *CachedState) SetNonceAt(address types.ContractAddress, nonce types.Felt) error {
	c.nonces[address] = nonce
	return nil
}

// SetClassHashAt implements State.
func (c *CachedState) SetClassHashAt(address types.ContractAddress, classHash types.ClassHash) error {
	c.classHashes[address] = classHash
	return nil
}

// NumWrites returns the number of buffered storage writes.
func (c *CachedState) NumWrites() int {
	return len(c.writeOrder)
}

// Commit flushes buffered writes into the parent and clears the buffer.
func (c *CachedState) Commit() error {
	for address, h := range c.classHashes {
		if err := c.parent.SetClassHashAt(address, h); err != nil {
			return err
		}
	}
	for address, n := range c.nonces {
		if err := c.parent.SetNonceAt(address, n); err != nil {
			return err
		}
	}
	for _, slot := range c.writeOrder {
		if err := c.parent.SetStorageAt(slot.address, slot.key, c.storage[slot]); err != nil {
			return err
		}
	}
	c.storage = make(map[storageSlot]types.Felt)
	c.nonces = make(map[types.ContractAddress]types.Felt)
	c.classHashes = make(map[types.ContractAddress]types.ClassHash)
	c.writeOrder = nil
	return nil
}
