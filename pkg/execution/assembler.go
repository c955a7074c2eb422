package execution

import (
	"fmt"
	"time"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
)

// Outcome is a backend result in backend-neutral form.
type Outcome struct {
	RemainingGas uint64
	Failed       bool
	Retdata      []types.Felt
	ErrorMsg     string
	// Steps and MemoryHoles are only reported by the step-metered backend.
	Steps       uint64
	MemoryHoles uint64
	Builtins    callinfo.BuiltinCounterMap
	// VisitedPCs is sorted; nil when the backend does not record it.
	VisitedPCs      []uint64
	TrackedResource callinfo.TrackedResource
	Duration        time.Duration
}

// Effects is what a call accumulated through its syscalls.
type Effects struct {
	Events         []callinfo.OrderedEvent
	L2ToL1Messages []callinfo.OrderedL2ToL1Message
	InnerCalls     []*callinfo.CallInfo
	Access         callinfo.StorageAccessTracker
	Usage          callinfo.SyscallUsageMap
}

// EffectsFromHandler collects the effect log of h.
func EffectsFromHandler(h *syscall.SyscallHandler) *Effects {
	return &Effects{
		Events:         h.Events,
		L2ToL1Messages: h.L2ToL1Messages,
		InnerCalls:     h.InnerCalls,
		Access:         h.Access,
		Usage:          h.Usage,
	}
}

// AssembleCallInfo builds the CallInfo of call from its outcome and effects.
// segments may be nil; visited segments are only computed for outcomes that
// carry visited PCs.
func AssembleCallInfo(call *callinfo.CallEntryPoint, out *Outcome, fx *Effects, vc *constants.VersionedConstants, segments *contractclass.NestedIntList) (*callinfo.CallInfo, error) {
	if out.RemainingGas > call.InitialGas {
		return nil, fmt.Errorf("%w: remaining gas %d exceeds initial gas %d", ErrMalformedReturnData, out.RemainingGas, call.InitialGas)
	}

	syscallResources, err := callinfo.GetAdditionalOSResources(vc, fx.Usage)
	if err != nil {
		return nil, err
	}

	// Gas-tracked calls pay for their own work in gas; only step-tracked
	// calls report VM resources.
	own := callinfo.ExecutionResources{BuiltinInstanceCounter: callinfo.BuiltinCounterMap{}}
	if out.TrackedResource == callinfo.CairoSteps {
		own = callinfo.ExecutionResources{
			NSteps:                 out.Steps,
			NMemoryHoles:           out.MemoryHoles,
			BuiltinInstanceCounter: out.Builtins.Clone(),
		}.Add(syscallResources)
	}

	var visited []uint64
	if segments != nil && out.VisitedPCs != nil {
		visited, err = contractclass.GetVisitedSegments(segments, out.VisitedPCs)
		if err != nil {
			return nil, err
		}
	}

	access := fx.Access
	if access.AccessedStorageKeys == nil {
		access = callinfo.NewStorageAccessTracker()
	}

	return &callinfo.CallInfo{
		Call: *call,
		Execution: callinfo.CallExecution{
			Retdata:        out.Retdata,
			Events:         fx.Events,
			L2ToL1Messages: fx.L2ToL1Messages,
			Failed:         out.Failed,
			GasConsumed:    call.InitialGas - out.RemainingGas,
		},
		Resources:       callinfo.SummarizeInner(fx.InnerCalls).Add(own),
		InnerCalls:      fx.InnerCalls,
		StorageAccess:   access,
		TrackedResource: out.TrackedResource,
		Time:            out.Duration,
		BuiltinCounters: callinfo.AccumulateBuiltins(out.Builtins, syscallResources, fx.InnerCalls),
		VisitedSegments: visited,
	}, nil
}
