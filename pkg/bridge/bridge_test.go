package bridge

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/state"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
	"github.com/fortiblox/stratus-exec/pkg/vm/emu"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

var (
	k1Gx = uint256.MustFromHex("0x79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	k1Gy = uint256.MustFromHex("0x483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8")
)

func randU256(r *rand.Rand) uint256.Int {
	return uint256.Int{r.Uint64(), r.Uint64(), r.Uint64(), r.Uint64()}
}

// TestU256RoundTrip tests the native and emulator integer shapes.
func TestU256RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	edge := []uint256.Int{{}, {1, 0, 0, 0}, {0, 0, 0, 1 << 63}, *new(uint256.Int).SetAllOne()}
	for i := 0; i < 64; i++ {
		edge = append(edge, randU256(r))
	}
	for _, v := range edge {
		v := v
		assert.Equal(t, v, U256FromNative(U256ToNative(&v)))
		assert.Equal(t, v, U256FromEmu(U256ToEmu(&v)))

		e := U256ToEmu(&v)
		assert.LessOrEqual(t, e.Lo.BitLen(), 128)
		assert.LessOrEqual(t, e.Hi.BitLen(), 128)
	}

	max128 := uint256.Int{^uint64(0), ^uint64(0), 0, 0}
	assert.Equal(t, max128, U128FromFelt(FeltFromU128(&max128)))
	assert.Equal(t, max128, U128FromNative(U128ToNative(&max128)))
}

// TestPointRoundTrip tests point conversions, including the infinity flag
// the emulator cannot carry.
func TestPointRoundTrip(t *testing.T) {
	p := syscall.Secp256Point{X: *k1Gx, Y: *k1Gy}
	assert.Equal(t, p, pointFromNativeK1(pointToNativeK1(&p)))
	assert.Equal(t, p, pointFromNativeR1(pointToNativeR1(&p)))
	assert.Equal(t, p, pointFromEmuK1(pointToEmuK1(&p)))

	inf := syscall.Secp256Point{IsInfinity: true}
	assert.Equal(t, inf, pointFromNativeK1(pointToNativeK1(&inf)))
	back := pointFromEmuR1(pointToEmuR1(&inf))
	assert.False(t, back.IsInfinity)
	assert.True(t, back.X.IsZero() && back.Y.IsZero())
}

// TestExecutionInfoConversion tests that both info layouts keep every field.
func TestExecutionInfoConversion(t *testing.T) {
	price := uint256.NewInt(12345)
	info := syscall.ExecutionInfoV2{
		BlockInfo: syscall.BlockInfo{BlockNumber: 9, BlockTimestamp: 99, SequencerAddress: types.FeltFromUint64(5)},
		TxInfo: syscall.TxV2Info{
			Version:        types.FeltFromUint64(3),
			Signature:      types.FeltsFromUint64s(1, 2),
			ResourceBounds: []syscall.ResourceBounds{{Resource: blockctx.L1GasName, MaxAmount: 10, MaxPricePerUnit: *price}},
			Tip:            *uint256.NewInt(4),
			PaymasterData:  types.FeltsFromUint64s(8),
		},
		CallerAddress: types.FeltFromUint64(0xca),
	}

	n := ExecutionInfoV2ToNative(&info)
	assert.Equal(t, uint64(9), n.BlockInfo.BlockNumber)
	assert.Equal(t, native.U128{Lo: 12345}, n.TxInfo.ResourceBounds[0].MaxPricePerUnit)
	assert.Equal(t, native.U128{Lo: 4}, n.TxInfo.Tip)
	assert.Equal(t, info.TxInfo.Signature, n.TxInfo.Signature)

	e := ExecutionInfoV2ToEmu(&info)
	assert.Equal(t, types.FeltFromUint64(12345), e.TxInfo.ResourceBounds[0].MaxPricePerUnit)
	assert.Equal(t, types.FeltFromUint64(4), e.TxInfo.Tip)
	assert.Equal(t, types.FeltFromUint64(0xca), e.CallerAddress)
}

func newCanonical(t *testing.T, st state.State) *syscall.SyscallHandler {
	t.Helper()
	tx := &blockctx.TransactionContext{
		Block: &blockctx.BlockContext{
			Block:     blockctx.BlockInfo{BlockNumber: 50},
			Constants: constants.Latest(),
		},
	}
	call := &callinfo.CallEntryPoint{StorageAddress: types.FeltFromUint64(0xabc)}
	return syscall.NewSyscallHandler(st, call, syscall.Env{TxContext: tx})
}

// TestNativeAdapter tests value and error conversion for native code.
func TestNativeAdapter(t *testing.T) {
	a := NewNativeAdapter(newCanonical(t, state.NewMemoryState()))
	gas := uint64(10_000_000)

	g, err := a.Secp256k1New(U256ToNative(k1Gx), U256ToNative(k1Gy), &gas)
	require.NoError(t, err)
	require.NotNil(t, g)
	sum, err := a.Secp256k1Add(*g, *g, &gas)
	require.NoError(t, err)
	two, err := a.Secp256k1Mul(*g, native.U256{Lo: native.U128{Lo: 2}}, &gas)
	require.NoError(t, err)
	assert.Equal(t, sum, two)

	_, err = a.StorageRead(3, types.One, &gas)
	var failure *native.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, syscall.MsgUnsupportedAddressDomain, types.DecodeFeltsAsStr(failure.Data))

	require.NoError(t, a.StorageWrite(0, types.One, types.FeltFromUint64(6), &gas))
	v, err := a.StorageRead(0, types.One, &gas)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(6), v)
}

// TestEmuAdapter tests value and error conversion for the emulator.
func TestEmuAdapter(t *testing.T) {
	a := NewEmuAdapter(newCanonical(t, state.NewMemoryState()))
	gas := uint64(10_000_000)

	g, err := a.Secp256k1GetPointFromX(U256ToEmu(k1Gx), false, &gas)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, U256ToEmu(k1Gy), g.Y)

	_, err = a.GetBlockHash(49, &gas)
	var failure *emu.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, syscall.MsgBlockNumberOutOfRange, types.DecodeFeltsAsStr(failure.Data))
}

// TestStepAdapter tests a program calling syscalls through the felt buffers.
func TestStepAdapter(t *testing.T) {
	st := state.NewMemoryState()
	h := newCanonical(t, st)
	a := NewStepAdapter(h)

	key := types.FeltFromUint64(77)
	prog := casm.NewBuilder().
		LoadImm(0, 0).LoadConst(1, key).LoadImm(2, 31).
		SysPush(0).SysPush(1).SysPush(2).Syscall(syscall.StorageWrite.Felt()).
		SysPush(0).SysPush(1).Syscall(syscall.StorageRead.Felt()).
		SysRes(3, 0).Push(3).
		Ret().MustBuild()

	res, err := casm.Run(prog, 0, nil, casm.Config{Mode: casm.ModeSteps, Syscalls: a, Gas: 1_000_000})
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, types.FeltsFromUint64s(31), res.Retdata)
	vc := constants.Latest()
	assert.Equal(t, 1_000_000-vc.SyscallGasCost("storage_write")-vc.SyscallGasCost("storage_read"), res.RemainingGas)

	v, err := st.GetStorageAt(types.FeltFromUint64(0xabc), key)
	require.NoError(t, err)
	assert.Equal(t, types.FeltFromUint64(31), v)
	assert.Equal(t, uint64(1), h.Usage["storage_write"].CallCount)
}

// TestStepAdapterPoints tests the five-felt point layout end to end.
func TestStepAdapterPoints(t *testing.T) {
	a := NewStepAdapter(newCanonical(t, state.NewMemoryState()))
	gas := uint64(10_000_000)

	var req casm.Response
	writeU256(&req, k1Gx)
	req.Bool(true)
	resp, err := a.Dispatch(syscall.Secp256k1GetPointFromX.Felt(), req, &gas)
	require.NoError(t, err)
	require.Len(t, resp, 6)
	assert.Equal(t, types.One, resp[0])

	// P + (-P) is the point at infinity, flagged in the fifth felt.
	var even casm.Response
	writeU256(&even, k1Gx)
	even.Bool(false)
	neg, err := a.Dispatch(syscall.Secp256k1GetPointFromX.Felt(), even, &gas)
	require.NoError(t, err)

	add := append(append([]types.Felt{}, resp[1:]...), neg[1:]...)
	sum, err := a.Dispatch(syscall.Secp256k1Add.Felt(), add, &gas)
	require.NoError(t, err)
	assert.Equal(t, []types.Felt{types.Zero, types.Zero, types.Zero, types.Zero, types.One}, sum)

	_, err = a.Dispatch(syscall.Secp256k1Add.Felt(), add[:3], &gas)
	var failure *casm.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, casm.MsgInvalidSyscallInput, types.DecodeFeltsAsStr(failure.Data))
}
