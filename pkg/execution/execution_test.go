package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/state"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

var (
	selIncrement = types.SelectorFromName("increment")
	selFail      = types.SelectorFromName("fail")
	selForward   = types.SelectorFromName("forward")
	selLibrary   = types.SelectorFromName("library")
	selDeploy    = types.SelectorFromName("deploy")
	selRecurse   = types.SelectorFromName("recurse")
	selBroken    = types.SelectorFromName("broken")
	selPanic     = types.SelectorFromName("panic")
	selMissing   = types.SelectorFromName("missing")

	slotKey = types.FeltFromUint64(0x51)

	interpretedHash = types.FeltFromUint64(0x1001)
	emulatedHash    = types.FeltFromUint64(0x1002)
	nativeHash      = types.FeltFromUint64(0x1003)
	failingHash     = types.FeltFromUint64(0x1004)

	interpretedAddr = types.FeltFromUint64(0xa1)
	emulatedAddr    = types.FeltFromUint64(0xa2)
	nativeAddr      = types.FeltFromUint64(0xa3)
	failingAddr     = types.FeltFromUint64(0xa4)
)

const initialGas = 10_000_000

// counterProgram adds calldata[0] to the slot and returns the new value. It
// is 14 instructions long: 4 of setup and 10 of work.
func counterProgram() *casm.Program {
	return casm.NewBuilder().
		LoadImm(0, 0).LoadConst(1, slotKey).
		SysPush(0).SysPush(1).
		Syscall(syscall.StorageRead.Felt()).
		SysRes(2, 0).
		Arg(3, 0).Add(2, 3).
		SysPush(0).SysPush(1).SysPush(2).Syscall(syscall.StorageWrite.Felt()).
		Push(2).Ret().
		MustBuild()
}

// failingProgram writes the slot, then fails.
func failingProgram() *casm.Program {
	return casm.NewBuilder().
		LoadImm(0, 0).LoadConst(1, slotKey).LoadImm(2, 99).
		SysPush(0).SysPush(1).SysPush(2).Syscall(syscall.StorageWrite.Felt()).
		Fail("boom").
		MustBuild()
}

func external(eps ...contractclass.EntryPoint) contractclass.EntryPoints {
	return contractclass.EntryPoints{contractclass.External: eps}
}

func nativeEntries() map[uint64]native.EntryFunc {
	return map[uint64]native.EntryFunc{
		0: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			sys := rt.Syscalls()
			v, err := sys.StorageRead(0, slotKey, rt.GasPtr())
			if err != nil {
				return nil, err
			}
			if err := rt.UseBuiltin(constants.Pedersen); err != nil {
				return nil, err
			}
			v = v.Add(args[0])
			if err := sys.StorageWrite(0, slotKey, v, rt.GasPtr()); err != nil {
				return nil, err
			}
			return []types.Felt{v}, nil
		},
		1: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			return rt.Syscalls().CallContract(args[0], args[1], args[2:], rt.GasPtr())
		},
		2: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			return rt.Syscalls().LibraryCall(args[0], args[1], args[2:], rt.GasPtr())
		},
		3: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			addr, ret, err := rt.Syscalls().Deploy(args[0], args[1], nil, false, rt.GasPtr())
			if err != nil {
				return nil, err
			}
			return append([]types.Felt{addr}, ret...), nil
		},
		4: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			return rt.Syscalls().CallContract(nativeAddr, selRecurse, nil, rt.GasPtr())
		},
		5: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			return nil, errors.New("broken")
		},
		6: func(rt *native.Runtime, args []types.Felt) ([]types.Felt, error) {
			panic("segfault")
		},
	}
}

func nativeEntryPoints() contractclass.EntryPoints {
	return external(
		contractclass.EntryPoint{Selector: selIncrement, FunctionIdx: 0},
		contractclass.EntryPoint{Selector: selForward, FunctionIdx: 1},
		contractclass.EntryPoint{Selector: selLibrary, FunctionIdx: 2},
		contractclass.EntryPoint{Selector: selDeploy, FunctionIdx: 3},
		contractclass.EntryPoint{Selector: selRecurse, FunctionIdx: 4},
		contractclass.EntryPoint{Selector: selBroken, FunctionIdx: 5},
		contractclass.EntryPoint{Selector: selPanic, FunctionIdx: 6},
	)
}

type fixture struct {
	st *state.MemoryState
	tx *blockctx.TransactionContext
	vc *constants.VersionedConstants
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewMemoryState()

	segments := contractclass.Node(contractclass.Leaf(4), contractclass.Leaf(10))
	interp, err := contractclass.NewInterpretedClass(counterProgram(),
		external(contractclass.EntryPoint{Selector: selIncrement}), segments)
	require.NoError(t, err)
	emulated, err := contractclass.NewEmulatedClass(counterProgram(),
		external(contractclass.EntryPoint{Selector: selIncrement}))
	require.NoError(t, err)
	nat, err := contractclass.NewNativeClass(native.NewAotExecutor(nativeEntries()), nativeEntryPoints(), nil)
	require.NoError(t, err)
	failing, err := contractclass.NewInterpretedClass(failingProgram(),
		external(contractclass.EntryPoint{Selector: selFail}), nil)
	require.NoError(t, err)

	for _, c := range []struct {
		hash, addr types.Felt
		artifact   contractclass.Artifact
	}{
		{interpretedHash, interpretedAddr, interp},
		{emulatedHash, emulatedAddr, emulated},
		{nativeHash, nativeAddr, nat},
		{failingHash, failingAddr, failing},
	} {
		st.DeclareClass(c.hash, c.artifact)
		require.NoError(t, st.SetClassHashAt(c.addr, c.hash))
		require.NoError(t, st.SetStorageAt(c.addr, slotKey, types.FeltFromUint64(40)))
	}

	vc := constants.Latest()
	return &fixture{
		st: st,
		vc: vc,
		tx: &blockctx.TransactionContext{
			Block: &blockctx.BlockContext{
				Block:     blockctx.BlockInfo{BlockNumber: 100},
				Constants: vc,
			},
		},
	}
}

func (f *fixture) call(addr, selector types.Felt, calldata ...types.Felt) *callinfo.CallEntryPoint {
	return &callinfo.CallEntryPoint{
		CodeAddress:        &addr,
		EntryPointType:     contractclass.External,
		EntryPointSelector: selector,
		Calldata:           calldata,
		StorageAddress:     addr,
		CallType:           callinfo.Call,
		InitialGas:         initialGas,
	}
}

func (f *fixture) execute(t *testing.T, call *callinfo.CallEntryPoint) (*callinfo.CallInfo, error) {
	t.Helper()
	return ExecuteEntryPoint(context.Background(), call, f.st, NewEntryPointExecutionContext(f.tx, false))
}

func (f *fixture) slot(t *testing.T, addr types.Felt) types.Felt {
	t.Helper()
	v, err := f.st.GetStorageAt(addr, slotKey)
	require.NoError(t, err)
	return v
}

func syscallCost(vc *constants.VersionedConstants, names ...string) uint64 {
	var total uint64
	for _, n := range names {
		total += vc.SyscallGasCost(n)
	}
	return total
}

// TestExecuteInterpreted tests the step-metered path end to end.
func TestExecuteInterpreted(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(interpretedAddr, selIncrement, types.FeltFromUint64(2)))
	require.NoError(t, err)

	assert.False(t, ci.Execution.Failed)
	assert.Equal(t, types.FeltsFromUint64s(42), ci.Execution.Retdata)
	assert.Equal(t, types.FeltFromUint64(42), f.slot(t, interpretedAddr))

	budget := f.vc.Gas.EntryPointInitialBudget
	assert.Equal(t, budget+syscallCost(f.vc, "storage_read", "storage_write"), ci.Execution.GasConsumed)
	assert.Equal(t, callinfo.CairoSteps, ci.TrackedResource)

	osRes, err := callinfo.GetAdditionalOSResources(f.vc, callinfo.SyscallUsageMap{
		"storage_read":  {CallCount: 1},
		"storage_write": {CallCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 14+osRes.NSteps, ci.Resources.NSteps)
	assert.Equal(t, []uint64{0, 4}, ci.VisitedSegments)
	assert.Equal(t, uint64(0), ci.CallCounter)
	assert.True(t, ci.StorageAccess.AccessedStorageKeys.Contains(slotKey))
	assert.Equal(t, types.FeltsFromUint64s(40), ci.StorageAccess.StorageReadValues)
}

// TestExecuteEmulated tests the emulator path end to end.
func TestExecuteEmulated(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(emulatedAddr, selIncrement, types.FeltFromUint64(3)))
	require.NoError(t, err)

	assert.False(t, ci.Execution.Failed)
	assert.Equal(t, types.FeltsFromUint64s(43), ci.Execution.Retdata)
	assert.Equal(t, types.FeltFromUint64(43), f.slot(t, emulatedAddr))

	steps := counterProgram().Len() * f.vc.Gas.StepGasCost
	want := f.vc.Gas.EntryPointInitialBudget + steps + syscallCost(f.vc, "storage_read", "storage_write")
	assert.Equal(t, want, ci.Execution.GasConsumed)
	assert.Equal(t, callinfo.SierraGas, ci.TrackedResource)
	assert.Zero(t, ci.Resources.NSteps)
	assert.Nil(t, ci.VisitedSegments)
}

// TestExecuteNative tests the native path end to end.
func TestExecuteNative(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(nativeAddr, selIncrement, types.FeltFromUint64(4)))
	require.NoError(t, err)

	assert.False(t, ci.Execution.Failed)
	assert.Equal(t, types.FeltsFromUint64s(44), ci.Execution.Retdata)
	assert.Equal(t, types.FeltFromUint64(44), f.slot(t, nativeAddr))

	costs := f.vc.BuiltinCosts()
	want := f.vc.Gas.EntryPointInitialBudget + costs.Cost(constants.Pedersen) + syscallCost(f.vc, "storage_read", "storage_write")
	assert.Equal(t, want, ci.Execution.GasConsumed)
	assert.Equal(t, callinfo.SierraGas, ci.TrackedResource)
	assert.Equal(t, uint64(1), ci.BuiltinCounters[constants.Pedersen])
	for name, n := range ci.BuiltinCounters {
		assert.NotZero(t, n, name)
	}
}

// TestExecuteFailedCall tests that a contract failure is a result, not an
// error, and leaves no state behind.
func TestExecuteFailedCall(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(failingAddr, selFail))
	require.NoError(t, err)

	assert.True(t, ci.Execution.Failed)
	assert.Equal(t, []types.Felt{types.MustShortString("boom")}, ci.Execution.Retdata)
	assert.Equal(t, types.FeltFromUint64(40), f.slot(t, failingAddr))
	assert.Equal(t, f.vc.Gas.EntryPointInitialBudget+syscallCost(f.vc, "storage_write"), ci.Execution.GasConsumed)
}

// TestExecutePreExecutionErrors tests that calls which never start mutate
// nothing.
func TestExecutePreExecutionErrors(t *testing.T) {
	f := newFixture(t)
	ectx := NewEntryPointExecutionContext(f.tx, false)

	_, err := ExecuteEntryPoint(context.Background(), f.call(interpretedAddr, selMissing), f.st, ectx)
	assert.ErrorIs(t, err, ErrEntryPointNotFound)

	call := f.call(interpretedAddr, selIncrement, types.One)
	call.InitialGas = f.vc.Gas.EntryPointInitialBudget - 1
	_, err = ExecuteEntryPoint(context.Background(), call, f.st, ectx)
	assert.ErrorIs(t, err, ErrInsufficientEntryPointGas)

	assert.Equal(t, types.FeltFromUint64(40), f.slot(t, interpretedAddr))
	assert.Zero(t, ectx.CallsStarted())

	_, err = ExecuteEntryPoint(context.Background(), f.call(types.FeltFromUint64(0xdead), selIncrement), f.st, ectx)
	assert.ErrorIs(t, err, state.ErrClassNotDeclared)
}

// TestExecuteNestedCall tests a native contract calling an interpreted one.
func TestExecuteNestedCall(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(nativeAddr, selForward, interpretedAddr, selIncrement, types.FeltFromUint64(5)))
	require.NoError(t, err)

	require.False(t, ci.Execution.Failed)
	assert.Equal(t, types.FeltsFromUint64s(45), ci.Execution.Retdata)
	assert.Equal(t, types.FeltFromUint64(45), f.slot(t, interpretedAddr))

	require.Len(t, ci.InnerCalls, 1)
	inner := ci.InnerCalls[0]
	assert.Equal(t, uint64(0), ci.CallCounter)
	assert.Equal(t, uint64(1), inner.CallCounter)
	assert.Equal(t, nativeAddr, inner.Call.CallerAddress)
	assert.Equal(t, callinfo.CairoSteps, inner.TrackedResource)

	want := f.vc.Gas.EntryPointInitialBudget + syscallCost(f.vc, "call_contract") + inner.Execution.GasConsumed
	assert.Equal(t, want, ci.Execution.GasConsumed)

	// Gas-tracked callers only carry the VM resources of their callees.
	assert.Equal(t, inner.Resources.NSteps, ci.Resources.NSteps)
	for name, n := range inner.BuiltinCounters {
		assert.GreaterOrEqual(t, ci.BuiltinCounters[name], n, name)
	}
}

// TestExecuteNestedFailure tests that callee failures reach the caller as
// reverts and roll back the whole call.
func TestExecuteNestedFailure(t *testing.T) {
	f := newFixture(t)

	ci, err := f.execute(t, f.call(nativeAddr, selForward, failingAddr, selFail))
	require.NoError(t, err)
	assert.True(t, ci.Execution.Failed)
	require.Len(t, ci.Execution.Retdata, 2)
	assert.Equal(t, types.MustShortString("boom"), ci.Execution.Retdata[0])
	assert.Equal(t, types.MustShortString(syscall.MsgEntryPointFailed), ci.Execution.Retdata[1])
	require.Len(t, ci.InnerCalls, 1)
	assert.True(t, ci.InnerCalls[0].Execution.Failed)

	ci, err = f.execute(t, f.call(nativeAddr, selForward, interpretedAddr, selMissing))
	require.NoError(t, err)
	assert.True(t, ci.Execution.Failed)
	assert.Equal(t, syscall.MsgEntryPointNotFound, types.DecodeFeltsAsStr(ci.Execution.Retdata))
	assert.Empty(t, ci.InnerCalls)

	ci, err = f.execute(t, f.call(nativeAddr, selLibrary, types.FeltFromUint64(0xbad), selIncrement))
	require.NoError(t, err)
	assert.True(t, ci.Execution.Failed)
	assert.Contains(t, types.DecodeFeltsAsStr(ci.Execution.Retdata), "is not declared")
}

// TestExecuteLibraryCall tests that library calls run in the caller's
// storage.
func TestExecuteLibraryCall(t *testing.T) {
	f := newFixture(t)
	ci, err := f.execute(t, f.call(nativeAddr, selLibrary, interpretedHash, selIncrement, types.FeltFromUint64(1)))
	require.NoError(t, err)
	require.False(t, ci.Execution.Failed)

	assert.Equal(t, types.FeltFromUint64(41), f.slot(t, nativeAddr))
	assert.Equal(t, types.FeltFromUint64(40), f.slot(t, interpretedAddr))
	require.Len(t, ci.InnerCalls, 1)
	assert.Equal(t, callinfo.Delegate, ci.InnerCalls[0].Call.CallType)
}

// TestExecuteDeploy tests deployment of a class without a constructor.
func TestExecuteDeploy(t *testing.T) {
	f := newFixture(t)
	salt := types.FeltFromUint64(7)
	ci, err := f.execute(t, f.call(nativeAddr, selDeploy, interpretedHash, salt))
	require.NoError(t, err)
	require.False(t, ci.Execution.Failed, types.DecodeFeltsAsStr(ci.Execution.Retdata))

	addr := syscall.CalculateContractAddress(salt, interpretedHash, nil, nativeAddr)
	assert.Equal(t, []types.Felt{addr}, ci.Execution.Retdata)
	h, err := f.st.GetClassHashAt(addr)
	require.NoError(t, err)
	assert.Equal(t, interpretedHash, h)

	// The address is now taken.
	ci, err = f.execute(t, f.call(nativeAddr, selDeploy, interpretedHash, salt))
	require.NoError(t, err)
	assert.True(t, ci.Execution.Failed)
	assert.Equal(t, syscall.MsgContractAddressUnavailable, types.DecodeFeltsAsStr(ci.Execution.Retdata))
}

// TestExecuteBackendFaults tests that broken backends abort instead of
// producing a failed call.
func TestExecuteBackendFaults(t *testing.T) {
	f := newFixture(t)

	_, err := f.execute(t, f.call(nativeAddr, selBroken))
	assert.ErrorIs(t, err, ErrNativeUnexpected)

	_, err = f.execute(t, f.call(nativeAddr, selPanic))
	assert.ErrorIs(t, err, ErrNativeUnexpected)
	assert.ErrorIs(t, err, native.ErrPanic)

	// Unbounded recursion hits the depth limit deep down; the fault
	// propagates through every level.
	call := f.call(nativeAddr, selRecurse)
	call.InitialGas = 1 << 40
	_, err = f.execute(t, call)
	assert.ErrorIs(t, err, ErrNativeUnrecoverable)
	assert.ErrorIs(t, err, ErrRecursionDepthExceeded)

	assert.Equal(t, types.FeltFromUint64(40), f.slot(t, nativeAddr))
}

// liarExecutor reports more gas than it was given.
type liarExecutor struct{}

func (liarExecutor) Run(_ uint64, _ []types.Felt, gas uint64, _ *constants.BuiltinCosts, _ native.SyscallHandler) (*native.ContractExecutionResult, error) {
	return &native.ContractExecutionResult{RemainingGas: gas + 1}, nil
}

// TestExecuteMalformedReturnData tests that excess remaining gas is never
// clamped.
func TestExecuteMalformedReturnData(t *testing.T) {
	f := newFixture(t)
	cls, err := contractclass.NewNativeClass(liarExecutor{}, external(contractclass.EntryPoint{Selector: selIncrement}), nil)
	require.NoError(t, err)
	liarHash, liarAddr := types.FeltFromUint64(0x1005), types.FeltFromUint64(0xa5)
	f.st.DeclareClass(liarHash, cls)
	require.NoError(t, f.st.SetClassHashAt(liarAddr, liarHash))

	_, err = f.execute(t, f.call(liarAddr, selIncrement))
	assert.ErrorIs(t, err, ErrMalformedReturnData)
}

// TestExecuteStepLimit tests that running out of steps fails the call.
func TestExecuteStepLimit(t *testing.T) {
	f := newFixture(t)
	loop := casm.NewBuilder().Label("top").Jmp("top").MustBuild()
	cls, err := contractclass.NewInterpretedClass(loop, external(contractclass.EntryPoint{Selector: selIncrement}), nil)
	require.NoError(t, err)
	loopHash, loopAddr := types.FeltFromUint64(0x1006), types.FeltFromUint64(0xa6)
	f.st.DeclareClass(loopHash, cls)
	require.NoError(t, f.st.SetClassHashAt(loopAddr, loopHash))

	ci, err := ExecuteEntryPoint(context.Background(), f.call(loopAddr, selIncrement), f.st, NewEntryPointExecutionContext(f.tx, true))
	require.NoError(t, err)
	assert.True(t, ci.Execution.Failed)
	assert.Equal(t, casm.MsgOutOfSteps, types.DecodeFeltsAsStr(ci.Execution.Retdata))
	assert.Equal(t, f.vc.MaxSteps(true)+1, ci.Resources.NSteps)
}
