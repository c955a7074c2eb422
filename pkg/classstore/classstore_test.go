package classstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/state"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

var selMain = types.SelectorFromName("main")

func testProgram(value int32) *casm.Program {
	return casm.NewBuilder().
		LoadImm(0, value).
		Push(0).
		Ret().
		MustBuild()
}

func externalEP(offset uint64) contractclass.EntryPoints {
	return contractclass.EntryPoints{
		contractclass.External: {{Selector: selMain, Offset: offset}},
	}
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	cfg := DefaultConfig(path)
	cfg.NoSync = true
	s, err := Open(cfg)
	require.NoError(t, err)
	return s
}

func TestDeclareAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.db")
	s := openTestStore(t, path)

	program := testProgram(7)
	interp, err := contractclass.NewInterpretedClass(program, externalEP(0), contractclass.Node(contractclass.Leaf(2), contractclass.Leaf(program.Len()-2)))
	require.NoError(t, err)
	emulated, err := contractclass.NewEmulatedClass(testProgram(9), externalEP(0))
	require.NoError(t, err)

	h1, h2 := types.FeltFromUint64(0x10), types.FeltFromUint64(0x20)
	require.NoError(t, s.Declare(h1, interp))
	require.NoError(t, s.Declare(h2, emulated))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()

	got, err := s.GetCompiledClass(h1)
	require.NoError(t, err)
	assert.Equal(t, contractclass.KindInterpreted, got.Kind())
	assert.Equal(t, interp.Fingerprint(), got.Fingerprint())
	require.NotNil(t, got.SegmentLengths())
	assert.Equal(t, program.Len(), got.SegmentLengths().TotalLength())

	ep, err := got.EntryPoint(contractclass.External, selMain)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ep.Offset)

	got, err = s.GetCompiledClass(h2)
	require.NoError(t, err)
	assert.Equal(t, contractclass.KindEmulated, got.Kind())
	assert.Equal(t, emulated.Fingerprint(), got.Fingerprint())

	hashes, err := s.ClassHashes()
	require.NoError(t, err)
	assert.Equal(t, []types.ClassHash{h1, h2}, hashes)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.StoredClasses)
	assert.Equal(t, 2, stats.CachedClasses)
}

func TestUnknownClass(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "classes.db"))
	defer s.Close()

	_, err := s.GetCompiledClass(types.FeltFromUint64(1))
	assert.ErrorIs(t, err, state.ErrClassNotDeclared)
}

func TestDeclareConflict(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "classes.db"))
	defer s.Close()

	a, err := contractclass.NewInterpretedClass(testProgram(1), externalEP(0), nil)
	require.NoError(t, err)
	b, err := contractclass.NewInterpretedClass(testProgram(2), externalEP(0), nil)
	require.NoError(t, err)

	h := types.FeltFromUint64(5)
	require.NoError(t, s.Declare(h, a))
	require.NoError(t, s.Declare(h, a))
	assert.ErrorIs(t, s.Declare(h, b), ErrClassConflict)
}

func TestCorruptedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.db")
	s := openTestStore(t, path)

	a, err := contractclass.NewInterpretedClass(testProgram(3), externalEP(0), nil)
	require.NoError(t, err)
	h := types.FeltFromUint64(6)
	require.NoError(t, s.Declare(h, a))
	require.NoError(t, s.Close())

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	key := h.Bytes32()
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClasses)
		v := append([]byte(nil), b.Get(key[:])...)
		v[len(v)-1] ^= 0xFF
		return b.Put(key[:], v)
	}))
	require.NoError(t, db.Close())

	s = openTestStore(t, path)
	defer s.Close()
	_, err = s.GetCompiledClass(h)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestNativeRegistry(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "classes.db"))
	defer s.Close()

	exec := native.NewAotExecutor(map[uint64]native.EntryFunc{
		0: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) { return args, nil },
	})
	nc, err := contractclass.NewNativeClass(exec, externalEP(0), nil)
	require.NoError(t, err)

	h := types.FeltFromUint64(7)
	require.NoError(t, s.Declare(h, nc))

	got, err := s.GetCompiledClass(h)
	require.NoError(t, err)
	assert.Same(t, nc, got)

	hashes, err := s.ClassHashes()
	require.NoError(t, err)
	assert.Empty(t, hashes)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NativeClasses)
}

func TestBackingBadgerState(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "classes.db"))
	defer s.Close()

	a, err := contractclass.NewInterpretedClass(testProgram(4), externalEP(0), nil)
	require.NoError(t, err)
	h := types.FeltFromUint64(8)
	require.NoError(t, s.Declare(h, a))

	st, err := state.NewBadgerState(state.BadgerStateConfig{InMemory: true}, s)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.GetCompiledClass(h)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), got.Fingerprint())
}

func TestClosed(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "classes.db"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.GetCompiledClass(types.FeltFromUint64(1))
	assert.ErrorIs(t, err, ErrClosed)
}
