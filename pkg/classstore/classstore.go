// Package classstore provides persistent storage for compiled contract
// classes.
//
// Program-backed classes (interpreted and emulated) are written to a BoltDB
// bucket keyed by class hash. Each record is a gob encoding compressed with
// zstd and prefixed by its blake3 checksum. Decoded artifacts are kept in an
// LRU cache. Native classes wrap in-process executors and cannot be
// persisted; they are registered with the store on every start.
package classstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/state"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("class store closed")

	// ErrCorrupted is returned when a stored record fails its checksum or
	// cannot be decoded.
	ErrCorrupted = errors.New("class record corrupted")

	// ErrClassConflict is returned when a class hash is declared again with
	// different content.
	ErrClassConflict = errors.New("class hash already declared with different content")
)

var bucketClasses = []byte("classes")

const checksumSize = 32

// Config holds class store options.
type Config struct {
	// Path is the BoltDB file.
	Path string

	// CacheSize is the number of decoded artifacts kept in memory.
	CacheSize int

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:      path,
		CacheSize: 256,
	}
}

// Stats describes the store.
type Stats struct {
	StoredClasses int
	NativeClasses int
	CachedClasses int
}

// Store implements state.ClassProvider.
type Store struct {
	db    *bolt.DB
	cache *lru.Cache
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	log   log.Logger

	mu     sync.RWMutex
	native map[types.ClassHash]*contractclass.NativeClass
	closed bool
}

var _ state.ClassProvider = (*Store)(nil)

// Open creates or opens a class store.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketClasses)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}
	return &Store{
		db:     db,
		cache:  cache,
		enc:    enc,
		dec:    dec,
		log:    log.New("pkg", "classstore"),
		native: make(map[types.ClassHash]*contractclass.NativeClass),
	}, nil
}

// record is the stored form of a program-backed class.
type record struct {
	Kind        contractclass.Kind
	Program     []byte
	EntryPoints contractclass.EntryPoints
	Segments    *contractclass.NestedIntList
}

func (s *Store) encode(a contractclass.Artifact) ([]byte, error) {
	var rec record
	switch c := a.(type) {
	case *contractclass.InterpretedClass:
		rec.EntryPoints = c.EntryPoints()
		rec.Segments = c.SegmentLengths()
	case *contractclass.EmulatedClass:
		rec.EntryPoints = c.EntryPoints()
	default:
		return nil, fmt.Errorf("%w: %s", contractclass.ErrUnsupportedArtifact, a.Kind())
	}
	rec.Kind = a.Kind()
	program, err := programOf(a).MarshalBinary()
	if err != nil {
		return nil, err
	}
	rec.Program = program

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode class: %w", err)
	}
	payload := s.enc.EncodeAll(buf.Bytes(), nil)
	sum := blake3.Sum256(payload)
	return append(sum[:], payload...), nil
}

func (s *Store) decode(data []byte) (contractclass.Artifact, error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("%w: short record", ErrCorrupted)
	}
	payload := data[checksumSize:]
	if sum := blake3.Sum256(payload); !bytes.Equal(sum[:], data[:checksumSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	program := new(casm.Program)
	if err := program.UnmarshalBinary(rec.Program); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	switch rec.Kind {
	case contractclass.KindInterpreted:
		return contractclass.NewInterpretedClass(program, rec.EntryPoints, rec.Segments)
	case contractclass.KindEmulated:
		return contractclass.NewEmulatedClass(program, rec.EntryPoints)
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrCorrupted, rec.Kind)
	}
}

func programOf(a contractclass.Artifact) *casm.Program {
	switch c := a.(type) {
	case *contractclass.InterpretedClass:
		return c.Program
	case *contractclass.EmulatedClass:
		return c.Program
	}
	return nil
}

// Declare stores a class. Native classes are registered in memory only.
// Declaring the same content twice is a no-op.
func (s *Store) Declare(classHash types.ClassHash, a contractclass.Artifact) error {
	if nc, ok := a.(*contractclass.NativeClass); ok {
		return s.RegisterNative(classHash, nc)
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := s.encode(a)
	if err != nil {
		return err
	}
	key := classHash.Bytes32()
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClasses)
		if existing := b.Get(key[:]); existing != nil {
			prev, err := s.decode(existing)
			if err != nil {
				return err
			}
			if prev.Fingerprint() != a.Fingerprint() {
				return fmt.Errorf("%w: %s", ErrClassConflict, classHash)
			}
			return nil
		}
		return b.Put(key[:], data)
	})
	if err != nil {
		return err
	}
	s.cache.Add(classHash, a)
	s.log.Debug("Declared class", "hash", classHash, "kind", a.Kind(), "fingerprint", contractclass.FingerprintString(a), "size", len(data))
	return nil
}

// RegisterNative makes a native class available for this process.
func (s *Store) RegisterNative(classHash types.ClassHash, nc *contractclass.NativeClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.native[classHash]; ok && prev.Fingerprint() != nc.Fingerprint() {
		return fmt.Errorf("%w: %s", ErrClassConflict, classHash)
	}
	s.native[classHash] = nc
	return nil
}

// GetCompiledClass implements state.ClassProvider.
func (s *Store) GetCompiledClass(classHash types.ClassHash) (contractclass.Artifact, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	nc, ok := s.native[classHash]
	s.mu.RUnlock()
	if ok {
		return nc, nil
	}

	if v, ok := s.cache.Get(classHash); ok {
		return v.(contractclass.Artifact), nil
	}

	var data []byte
	key := classHash.Bytes32()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClasses)
		if b == nil {
			return nil
		}
		if v := b.Get(key[:]); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, state.ErrClassNotDeclared
	}
	a, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", classHash, err)
	}
	s.cache.Add(classHash, a)
	return a, nil
}

// ClassHashes lists the persisted class hashes in key order.
func (s *Store) ClassHashes() ([]types.ClassHash, error) {
	var out []types.ClassHash
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClasses)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, types.FeltFromBytes(k))
			return nil
		})
	})
	return out, err
}

// Stats returns store statistics.
func (s *Store) Stats() (Stats, error) {
	hashes, err := s.ClassHashes()
	if err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		StoredClasses: len(hashes),
		NativeClasses: len(s.native),
		CachedClasses: s.cache.Len(),
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
