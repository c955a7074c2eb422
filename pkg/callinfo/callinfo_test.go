package callinfo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
)

func leafCall(counters BuiltinCounterMap, steps uint64) *CallInfo {
	return &CallInfo{
		BuiltinCounters: counters,
		Resources:       ExecutionResources{NSteps: steps, BuiltinInstanceCounter: counters.Clone()},
	}
}

// TestAccumulateBuiltins tests the three accounting sources.
func TestAccumulateBuiltins(t *testing.T) {
	own := BuiltinCounterMap{constants.Pedersen: 2, constants.Bitwise: 0}
	syscalls := ExecutionResources{BuiltinInstanceCounter: BuiltinCounterMap{constants.RangeCheck: 18}}
	inner := []*CallInfo{
		leafCall(BuiltinCounterMap{constants.Pedersen: 1, constants.Poseidon: 4}, 10),
		leafCall(BuiltinCounterMap{constants.RangeCheck: 2}, 5),
	}

	got := AccumulateBuiltins(own, syscalls, inner)
	assert.Equal(t, BuiltinCounterMap{
		constants.Pedersen:   3,
		constants.RangeCheck: 20,
		constants.Poseidon:   4,
	}, got)

	// Inputs are untouched.
	assert.Equal(t, uint64(2), own[constants.Pedersen])
	assert.Contains(t, own, constants.Bitwise)
}

// TestAccumulateBuiltinsOrderIndependent tests permutations of inner calls.
func TestAccumulateBuiltinsOrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	names := constants.AllBuiltins

	inner := make([]*CallInfo, 12)
	for i := range inner {
		m := BuiltinCounterMap{}
		for j := 0; j < 3; j++ {
			m[names[r.Intn(len(names))]] += uint64(r.Intn(5))
		}
		inner[i] = leafCall(m, uint64(i))
	}
	own := BuiltinCounterMap{constants.Keccak: 1}
	want := AccumulateBuiltins(own, ExecutionResources{}, inner)
	wantRes := SummarizeInner(inner)

	for i := 0; i < 20; i++ {
		r.Shuffle(len(inner), func(a, b int) { inner[a], inner[b] = inner[b], inner[a] })
		assert.Equal(t, want, AccumulateBuiltins(own, ExecutionResources{}, inner))
		assert.Equal(t, wantRes, SummarizeInner(inner))
	}
	for _, v := range want {
		assert.NotZero(t, v)
	}
}

// TestGetAdditionalOSResources tests syscall pricing.
func TestGetAdditionalOSResources(t *testing.T) {
	vc := constants.Latest()

	usage := SyscallUsageMap{}
	usage.Record("storage_read", 0)
	usage.Record("storage_read", 0)
	usage.Record("deploy", 3)

	got, err := GetAdditionalOSResources(vc, usage)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*87+1173+3*8), got.NSteps)
	assert.Equal(t, uint64(2*1+23), got.BuiltinInstanceCounter[constants.RangeCheck])
	assert.Equal(t, uint64(7+3), got.BuiltinInstanceCounter[constants.Pedersen])

	empty, err := GetAdditionalOSResources(vc, SyscallUsageMap{})
	require.NoError(t, err)
	assert.Zero(t, empty.NSteps)
	assert.Empty(t, empty.BuiltinInstanceCounter)

	_, err = GetAdditionalOSResources(vc, SyscallUsageMap{"warp_drive": {CallCount: 1}})
	assert.ErrorIs(t, err, ErrUnknownSyscallResources)
}

// TestSyscallUsageMerge tests merging usage maps.
func TestSyscallUsageMerge(t *testing.T) {
	a := SyscallUsageMap{}
	a.Record("keccak", 2)
	b := SyscallUsageMap{}
	b.Record("keccak", 3)
	b.Record("emit_event", 0)

	a.AddAll(b)
	assert.Equal(t, SyscallUsage{CallCount: 2, LinearFactor: 5}, a["keccak"])
	assert.Equal(t, SyscallUsage{CallCount: 1}, a["emit_event"])
}

// TestCallInfoIter tests tree traversal helpers.
func TestCallInfoIter(t *testing.T) {
	addr := func(v uint64) types.Felt { return types.FeltFromUint64(v) }

	grandchild := &CallInfo{
		Call:      CallEntryPoint{StorageAddress: addr(3)},
		Execution: CallExecution{Events: []OrderedEvent{{Keys: []types.Felt{addr(1)}, Data: []types.Felt{addr(1), addr(2)}}}},
	}
	child := &CallInfo{
		Call:       CallEntryPoint{StorageAddress: addr(2)},
		InnerCalls: []*CallInfo{grandchild},
		Execution:  CallExecution{L2ToL1Messages: []OrderedL2ToL1Message{{Payload: []types.Felt{addr(9)}}}},
	}
	root := &CallInfo{
		Call:          CallEntryPoint{StorageAddress: addr(1)},
		InnerCalls:    []*CallInfo{child},
		StorageAccess: NewStorageAccessTracker(),
		Execution:     CallExecution{Events: []OrderedEvent{{Data: []types.Felt{addr(5)}}}},
	}
	root.StorageAccess.AccessedContractAddresses.Add(addr(7))

	var order []types.Felt
	root.Iter(func(c *CallInfo) bool {
		order = append(order, c.Call.StorageAddress)
		return true
	})
	assert.Equal(t, []types.Felt{addr(1), addr(2), addr(3)}, order)
	assert.Equal(t, 3, root.NumCalls())

	assert.Equal(t, EventSummary{NEvents: 2, TotalKeys: 1, TotalDataLength: 3}, root.SummarizeEvents())
	assert.Equal(t, []int{1}, root.MessagesPayloadLengths())

	addrs := root.AccessedContractAddresses()
	assert.Equal(t, 4, addrs.Cardinality())
	assert.True(t, addrs.Contains(addr(7), addr(3)))
}
