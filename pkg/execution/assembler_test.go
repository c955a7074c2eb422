package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
)

func innerCall(steps uint64, builtins callinfo.BuiltinCounterMap) *callinfo.CallInfo {
	return &callinfo.CallInfo{
		Resources:       callinfo.ExecutionResources{NSteps: steps, BuiltinInstanceCounter: builtins.Clone()},
		BuiltinCounters: builtins.Clone(),
	}
}

// TestAssembleCallInfo tests gas, resources and builtin accounting.
func TestAssembleCallInfo(t *testing.T) {
	vc := constants.Latest()
	call := &callinfo.CallEntryPoint{InitialGas: 1000}
	out := &Outcome{
		RemainingGas:    400,
		Retdata:         types.FeltsFromUint64s(1),
		Steps:           30,
		Builtins:        callinfo.BuiltinCounterMap{constants.Pedersen: 2, constants.Bitwise: 0},
		TrackedResource: callinfo.CairoSteps,
	}
	inner := []*callinfo.CallInfo{
		innerCall(10, callinfo.BuiltinCounterMap{constants.Pedersen: 1, constants.RangeCheck: 3}),
		innerCall(5, callinfo.BuiltinCounterMap{constants.Poseidon: 4}),
	}
	fx := &Effects{
		InnerCalls: inner,
		Access:     callinfo.NewStorageAccessTracker(),
		Usage:      callinfo.SyscallUsageMap{"call_contract": {CallCount: 2}},
	}

	ci, err := AssembleCallInfo(call, out, fx, vc, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), ci.Execution.GasConsumed)
	assert.Equal(t, types.FeltsFromUint64s(1), ci.Execution.Retdata)

	osRes, err := callinfo.GetAdditionalOSResources(vc, fx.Usage)
	require.NoError(t, err)
	assert.Equal(t, 30+10+5+osRes.NSteps, ci.Resources.NSteps)

	assert.Equal(t, uint64(3), ci.BuiltinCounters[constants.Pedersen])
	assert.Equal(t, uint64(4), ci.BuiltinCounters[constants.Poseidon])
	assert.Equal(t, 3+osRes.BuiltinInstanceCounter[constants.RangeCheck], ci.BuiltinCounters[constants.RangeCheck])
	assert.NotContains(t, ci.BuiltinCounters, constants.Bitwise)

	// Permuting nested calls changes nothing.
	fx.InnerCalls = []*callinfo.CallInfo{inner[1], inner[0]}
	permuted, err := AssembleCallInfo(call, out, fx, vc, nil)
	require.NoError(t, err)
	assert.Equal(t, ci.BuiltinCounters, permuted.BuiltinCounters)
	assert.Equal(t, ci.Resources, permuted.Resources)
}

// TestAssembleGasTracked tests that gas-tracked calls report no VM resources
// of their own.
func TestAssembleGasTracked(t *testing.T) {
	vc := constants.Latest()
	call := &callinfo.CallEntryPoint{InitialGas: 1000}
	out := &Outcome{
		RemainingGas:    1000,
		Steps:           99,
		Builtins:        callinfo.BuiltinCounterMap{constants.Pedersen: 1},
		TrackedResource: callinfo.SierraGas,
	}
	ci, err := AssembleCallInfo(call, out, &Effects{Usage: callinfo.SyscallUsageMap{}}, vc, nil)
	require.NoError(t, err)
	assert.Zero(t, ci.Execution.GasConsumed)
	assert.Zero(t, ci.Resources.NSteps)
	assert.Equal(t, callinfo.BuiltinCounterMap{constants.Pedersen: 1}, ci.BuiltinCounters)
	assert.NotNil(t, ci.StorageAccess.AccessedStorageKeys)
}

// TestAssembleErrors tests the fatal assembly errors.
func TestAssembleErrors(t *testing.T) {
	vc := constants.Latest()
	call := &callinfo.CallEntryPoint{InitialGas: 1000}

	_, err := AssembleCallInfo(call, &Outcome{RemainingGas: 1001}, &Effects{}, vc, nil)
	assert.ErrorIs(t, err, ErrMalformedReturnData)

	_, err = AssembleCallInfo(call, &Outcome{}, &Effects{Usage: callinfo.SyscallUsageMap{"no_such_syscall": {CallCount: 1}}}, vc, nil)
	assert.ErrorIs(t, err, callinfo.ErrUnknownSyscallResources)

	tree := contractclass.Node(contractclass.Leaf(10), contractclass.Leaf(10))
	_, err = AssembleCallInfo(call, &Outcome{VisitedPCs: []uint64{0, 15}}, &Effects{}, vc, tree)
	var structural *contractclass.InvalidSegmentStructureError
	require.ErrorAs(t, err, &structural)

	ci, err := AssembleCallInfo(call, &Outcome{VisitedPCs: []uint64{0, 3, 10, 12}}, &Effects{}, vc, tree)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 10}, ci.VisitedSegments)
}
