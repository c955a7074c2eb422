package main

import (
	"sort"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
)

// callInfoJSON is the printed form of a call tree.
type callInfoJSON struct {
	CallCounter     uint64                          `json:"call_counter"`
	StorageAddress  types.Felt                      `json:"storage_address"`
	CallerAddress   types.Felt                      `json:"caller_address"`
	ClassHash       *types.Felt                     `json:"class_hash,omitempty"`
	EntryPointType  string                          `json:"entry_point_type"`
	Selector        types.Felt                      `json:"selector"`
	CallType        string                          `json:"call_type"`
	Calldata        []types.Felt                    `json:"calldata"`
	InitialGas      uint64                          `json:"initial_gas"`
	Failed          bool                            `json:"failed"`
	Retdata         []types.Felt                    `json:"retdata"`
	Error           string                          `json:"error,omitempty"`
	GasConsumed     uint64                          `json:"gas_consumed"`
	Events          []callinfo.OrderedEvent         `json:"events,omitempty"`
	Messages        []callinfo.OrderedL2ToL1Message `json:"l2_to_l1_messages,omitempty"`
	TrackedResource string                          `json:"tracked_resource"`
	NSteps          uint64                          `json:"n_steps"`
	NMemoryHoles    uint64                          `json:"n_memory_holes"`
	Builtins        map[string]uint64               `json:"builtin_counters,omitempty"`
	StorageKeys     []types.Felt                    `json:"accessed_storage_keys,omitempty"`
	VisitedSegments []uint64                        `json:"visited_segments,omitempty"`
	TimeMicros      int64                           `json:"time_us"`
	InnerCalls      []*callInfoJSON                 `json:"inner_calls,omitempty"`
}

func newCallInfoJSON(ci *callinfo.CallInfo) *callInfoJSON {
	out := &callInfoJSON{
		CallCounter:     ci.CallCounter,
		StorageAddress:  ci.Call.StorageAddress,
		CallerAddress:   ci.Call.CallerAddress,
		ClassHash:       ci.Call.ClassHash,
		EntryPointType:  ci.Call.EntryPointType.String(),
		Selector:        ci.Call.EntryPointSelector,
		CallType:        ci.Call.CallType.String(),
		Calldata:        ci.Call.Calldata,
		InitialGas:      ci.Call.InitialGas,
		Failed:          ci.Execution.Failed,
		Retdata:         ci.Execution.Retdata,
		GasConsumed:     ci.Execution.GasConsumed,
		Events:          ci.Execution.Events,
		Messages:        ci.Execution.L2ToL1Messages,
		TrackedResource: ci.TrackedResource.String(),
		NSteps:          ci.Resources.NSteps,
		NMemoryHoles:    ci.Resources.NMemoryHoles,
		VisitedSegments: ci.VisitedSegments,
		TimeMicros:      ci.Time.Microseconds(),
	}
	if ci.Execution.Failed {
		out.Error = types.DecodeFeltsAsStr(ci.Execution.Retdata)
	}
	if len(ci.BuiltinCounters) > 0 {
		out.Builtins = make(map[string]uint64, len(ci.BuiltinCounters))
		for name, n := range ci.BuiltinCounters {
			out.Builtins[string(name)] = n
		}
	}
	if keys := ci.StorageAccess.AccessedStorageKeys; keys != nil {
		out.StorageKeys = keys.ToSlice()
		sort.Slice(out.StorageKeys, func(i, j int) bool {
			return out.StorageKeys[i].Cmp(out.StorageKeys[j]) < 0
		})
	}
	for _, inner := range ci.InnerCalls {
		out.InnerCalls = append(out.InnerCalls, newCallInfoJSON(inner))
	}
	return out
}
