package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
)

// Key prefixes for BadgerDB storage.
var (
	// Key format: prefixStorage + address (32 bytes) + key (32 bytes)
	prefixStorage = []byte{0x01}

	// Key format: prefixNonce + address (32 bytes)
	prefixNonce = []byte{0x02}

	// Key format: prefixClassHash + address (32 bytes)
	prefixClassHash = []byte{0x03}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x04}

	// metaBlock is the key for the latest applied block number.
	metaBlock = append(append([]byte{}, prefixMeta...), []byte("block")...)
)

// BadgerStateConfig contains configuration for BadgerState.
type BadgerStateConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerStateConfig returns default configuration.
func DefaultBadgerStateConfig(path string) BadgerStateConfig {
	return BadgerStateConfig{
		Path:          path,
		SyncWrites:    false,
		NumCompactors: 4,
	}
}

// BadgerState is a persistent State. Compiled classes come from the
// configured ClassProvider.
type BadgerState struct {
	db      *badger.DB
	classes ClassProvider

	// block is cached in memory for fast access
	block atomic.Uint64

	// mu serializes writers
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerState opens a persistent state.
func NewBadgerState(cfg BadgerStateConfig, classes ClassProvider) (*BadgerState, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerState{db: db, classes: classes}
	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *BadgerState) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaBlock)
		if errors.Is(err, badger.ErrKeyNotFound) {
			s.block.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				s.block.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

func addressKey(prefix []byte, address types.Felt) []byte {
	b := address.Bytes32()
	key := make([]byte, 0, 1+types.FeltSize)
	key = append(key, prefix...)
	return append(key, b[:]...)
}

func storageKey(address types.ContractAddress, key types.StorageKey) []byte {
	k := key.Bytes32()
	return append(addressKey(prefixStorage, address), k[:]...)
}

func (s *BadgerState) getFelt(key []byte) (types.Felt, error) {
	if s.closed.Load() {
		return types.Felt{}, ErrClosed
	}
	var out types.Felt
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := out.UnmarshalBinary(val); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			return nil
		})
	})
	return out, err
}

func (s *BadgerState) setFelt(key []byte, value types.Felt) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if value.IsZero() {
			return txn.Delete(key)
		}
		b := value.Bytes32()
		return txn.Set(key, b[:])
	})
}

// GetCompiledClass implements ClassProvider.
func (s *BadgerState) GetCompiledClass(classHash types.ClassHash) (contractclass.Artifact, error) {
	if s.classes == nil {
		return nil, ErrClassNotDeclared
	}
	return s.classes.GetCompiledClass(classHash)
}

// GetStorageAt implements Reader.
func (s *BadgerState) GetStorageAt(address types.ContractAddress, key types.StorageKey) (types.Felt, error) {
	return s.getFelt(storageKey(address, key))
}

// GetNonceAt implements Reader.
func (s *BadgerState) GetNonceAt(address types.ContractAddress) (types.Felt, error) {
	return s.getFelt(addressKey(prefixNonce, address))
}

// GetClassHashAt implements Reader.
func (s *BadgerState) GetClassHashAt(address types.ContractAddress) (types.ClassHash, error) {
	return s.getFelt(addressKey(prefixClassHash, address))
}

// SetStorageAt implements State.
func (s *BadgerState) SetStorageAt(address types.ContractAddress, key types.StorageKey, value types.Felt) error {
	return s.setFelt(storageKey(address, key), value)
}

// SetNonceAt implements State.
func (s *BadgerState) SetNonceAt(address types.ContractAddress, nonce types.Felt) error {
	return s.setFelt(addressKey(prefixNonce, address), nonce)
}

// SetClassHashAt implements State.
func (s *BadgerState) SetClassHashAt(address types.ContractAddress, classHash types.ClassHash) error {
	return s.setFelt(addressKey(prefixClassHash, address), classHash)
}

// BlockNumber returns the latest applied block number.
func (s *BadgerState) BlockNumber() uint64 {
	return s.block.Load()
}

// SetBlockNumber records the latest applied block number.
func (s *BadgerState) SetBlockNumber(n uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaBlock, buf[:])
	}); err != nil {
		return err
	}
	s.block.Store(n)
	return nil
}

// StorageEntries returns every storage slot of address.
func (s *BadgerState) StorageEntries(address types.ContractAddress) (map[types.StorageKey]types.Felt, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	prefix := addressKey(prefixStorage, address)
	out := make(map[types.StorageKey]types.Felt)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := types.FeltFromBytes(item.Key()[len(prefix):])
			var v types.Felt
			if err := item.Value(func(val []byte) error { return v.UnmarshalBinary(val) }); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			out[key] = v
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *BadgerState) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
