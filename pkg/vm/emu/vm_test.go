package emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

// storageHandler serves storage syscalls from a map. Other syscalls panic.
type storageHandler struct {
	SyscallHandler
	slots map[types.Felt]types.Felt
	cost  uint64
}

func (s *storageHandler) StorageRead(domain uint32, key types.Felt, gas *uint64) (types.Felt, error) {
	if domain != 0 {
		return types.Zero, &Failure{Data: types.EncodeStrAsFelts("bad domain")}
	}
	*gas -= s.cost
	return s.slots[key], nil
}

func (s *storageHandler) StorageWrite(domain uint32, key, value types.Felt, gas *uint64) error {
	*gas -= s.cost
	s.slots[key] = value
	return nil
}

var (
	selIncrement = types.SelectorFromName("increment")
	slotKey      = types.FeltFromUint64(0x51)
)

// counterProgram increments a storage slot by calldata[0] and returns the
// new value.
func counterProgram() *casm.Program {
	b := casm.NewBuilder()
	b.LoadImm(0, 0).LoadConst(1, slotKey).
		SysPush(0).SysPush(1).Syscall(types.MustShortString(wireStorageRead)).
		SysRes(2, 0).
		Arg(3, 0).Add(2, 3).
		SysPush(0).SysPush(1).SysPush(2).Syscall(types.MustShortString(wireStorageWrite)).
		Push(2).Ret()
	return b.MustBuild()
}

func newHandler() *storageHandler {
	return &storageHandler{slots: map[types.Felt]types.Felt{slotKey: types.FeltFromUint64(40)}, cost: 50}
}

// TestVirtualMachine tests a run through syscalls and its trace.
func TestVirtualMachine(t *testing.T) {
	prog := counterProgram()
	vm := NewVirtualMachine(prog, map[types.Felt]uint64{selIncrement: 0}, 10)
	h := newHandler()

	costs := constants.Latest().BuiltinCosts()
	require.NoError(t, vm.CallContract(selIncrement, 100_000, types.FeltsFromUint64s(2), &costs))
	trace, err := vm.RunWithTrace(h)
	require.NoError(t, err)

	assert.Len(t, trace.States, int(prog.Len()))
	assert.Equal(t, uint64(0), trace.States[0].PC)
	assert.Equal(t, uint64(100_000), trace.States[0].RemainingGas)
	assert.False(t, trace.Truncated)

	res, err := ContractExecutionResultFromTrace(trace)
	require.NoError(t, err)
	assert.False(t, res.FailureFlag)
	assert.Equal(t, types.FeltsFromUint64s(42), res.ReturnValues)
	assert.Equal(t, uint64(100_000-10*prog.Len()-2*50), res.RemainingGas)
	assert.Equal(t, types.FeltFromUint64(42), h.slots[slotKey])

	// The invocation is consumed by the run.
	_, err = vm.RunWithTrace(h)
	assert.ErrorIs(t, err, ErrNoInvocation)
}

// TestVirtualMachineFailures tests the ways a run can fail.
func TestVirtualMachineFailures(t *testing.T) {
	prog := counterProgram()
	vm := NewVirtualMachine(prog, map[types.Felt]uint64{selIncrement: 0}, 10)

	err := vm.CallContract(types.FeltFromUint64(1), 100, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownSelector)

	// Out of gas after a few steps.
	require.NoError(t, vm.CallContract(selIncrement, 25, types.FeltsFromUint64s(1), nil))
	trace, err := vm.RunWithTrace(newHandler())
	require.NoError(t, err)
	res, err := ContractExecutionResultFromTrace(trace)
	require.NoError(t, err)
	assert.True(t, res.FailureFlag)
	assert.Equal(t, casm.MsgOutOfGas, res.ErrorMsg)

	// A handler failure ends the run as failed.
	failing := casm.NewBuilder().
		LoadImm(0, 1).LoadImm(1, 0).
		SysPush(0).SysPush(1).Syscall(types.MustShortString(wireStorageRead)).
		Ret().MustBuild()
	vm = NewVirtualMachine(failing, map[types.Felt]uint64{selIncrement: 0}, 0)
	require.NoError(t, vm.CallContract(selIncrement, 1000, nil, nil))
	trace, err = vm.RunWithTrace(newHandler())
	require.NoError(t, err)
	res, err = ContractExecutionResultFromTrace(trace)
	require.NoError(t, err)
	assert.True(t, res.FailureFlag)
	assert.Equal(t, "bad domain", res.ErrorMsg)

	// A malformed request fails the run with a fixed message.
	short := casm.NewBuilder().
		LoadImm(0, 0).
		SysPush(0).Syscall(types.MustShortString(wireStorageWrite)).
		Ret().MustBuild()
	vm = NewVirtualMachine(short, map[types.Felt]uint64{selIncrement: 0}, 0)
	require.NoError(t, vm.CallContract(selIncrement, 1000, nil, nil))
	trace, err = vm.RunWithTrace(newHandler())
	require.NoError(t, err)
	res, err = ContractExecutionResultFromTrace(trace)
	require.NoError(t, err)
	assert.Equal(t, casm.MsgInvalidSyscallInput, res.ErrorMsg)

	_, err = ContractExecutionResultFromTrace(&Trace{})
	assert.ErrorIs(t, err, ErrIncompleteTrace)
}
