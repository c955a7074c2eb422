// Package callinfo defines the call descriptor, the per-call execution record
// and the resource accounting that rolls nested calls up into their parent.
package callinfo

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
)

// CallType distinguishes regular calls from library (delegate) calls.
type CallType uint8

const (
	// Call runs the code of the storage address.
	Call CallType = iota
	// Delegate runs the code of an explicit class in the caller's storage.
	Delegate
)

func (c CallType) String() string {
	if c == Delegate {
		return "DELEGATE"
	}
	return "CALL"
}

// TrackedResource is the unit a call's cost is measured in.
type TrackedResource uint8

const (
	// CairoSteps meters the call by executed steps.
	CairoSteps TrackedResource = iota
	// SierraGas meters the call by gas.
	SierraGas
)

func (r TrackedResource) String() string {
	if r == SierraGas {
		return "SierraGas"
	}
	return "CairoSteps"
}

// CallEntryPoint describes one entry point invocation.
type CallEntryPoint struct {
	// ClassHash is set for library calls; otherwise the class deployed at
	// StorageAddress runs.
	ClassHash          *types.ClassHash
	CodeAddress        *types.ContractAddress
	EntryPointType     contractclass.EntryPointKind
	EntryPointSelector types.EntryPointSelector
	Calldata           []types.Felt
	StorageAddress     types.ContractAddress
	CallerAddress      types.ContractAddress
	CallType           CallType
	InitialGas         uint64
}

// OrderedEvent is an event with its emission index within the call.
type OrderedEvent struct {
	Order uint64       `json:"order"`
	Keys  []types.Felt `json:"keys"`
	Data  []types.Felt `json:"data"`
}

// OrderedL2ToL1Message is a message with its index within the call.
type OrderedL2ToL1Message struct {
	Order     uint64       `json:"order"`
	ToAddress types.Felt   `json:"to_address"`
	Payload   []types.Felt `json:"payload"`
}

// CallExecution is the observable result of a call.
type CallExecution struct {
	Retdata        []types.Felt
	Events         []OrderedEvent
	L2ToL1Messages []OrderedL2ToL1Message
	Failed         bool
	GasConsumed    uint64
}

// StorageAccessTracker records what a call read and touched.
type StorageAccessTracker struct {
	StorageReadValues         []types.Felt
	AccessedStorageKeys       mapset.Set[types.StorageKey]
	ReadClassHashValues       []types.ClassHash
	AccessedContractAddresses mapset.Set[types.ContractAddress]
	ReadBlockHashValues       []types.Felt
	AccessedBlocks            mapset.Set[uint64]
}

// NewStorageAccessTracker returns an empty tracker.
func NewStorageAccessTracker() StorageAccessTracker {
	return StorageAccessTracker{
		AccessedStorageKeys:       mapset.NewThreadUnsafeSet[types.StorageKey](),
		AccessedContractAddresses: mapset.NewThreadUnsafeSet[types.ContractAddress](),
		AccessedBlocks:            mapset.NewThreadUnsafeSet[uint64](),
	}
}

// CallInfo is the complete record of one call and its nested calls.
type CallInfo struct {
	Call            CallEntryPoint
	Execution       CallExecution
	Resources       ExecutionResources
	InnerCalls      []*CallInfo
	StorageAccess   StorageAccessTracker
	TrackedResource TrackedResource
	Time            time.Duration
	BuiltinCounters BuiltinCounterMap
	CallCounter     uint64
	// VisitedSegments holds the start offsets of the executed bytecode
	// segments, when the class carries a segment tree.
	VisitedSegments []uint64
}

// Iter walks the call tree in pre-order.
func (ci *CallInfo) Iter(fn func(*CallInfo) bool) bool {
	if !fn(ci) {
		return false
	}
	for _, inner := range ci.InnerCalls {
		if !inner.Iter(fn) {
			return false
		}
	}
	return true
}

// NumCalls counts the calls in the tree.
func (ci *CallInfo) NumCalls() int {
	n := 0
	ci.Iter(func(*CallInfo) bool { n++; return true })
	return n
}

// EventSummary aggregates event counts over a call tree.
type EventSummary struct {
	NEvents         uint64
	TotalKeys       uint64
	TotalDataLength uint64
}

// SummarizeEvents counts events over the whole call tree.
func (ci *CallInfo) SummarizeEvents() EventSummary {
	var s EventSummary
	ci.Iter(func(c *CallInfo) bool {
		for _, e := range c.Execution.Events {
			s.NEvents++
			s.TotalKeys += uint64(len(e.Keys))
			s.TotalDataLength += uint64(len(e.Data))
		}
		return true
	})
	return s
}

// MessagesPayloadLengths lists the payload length of every L2 to L1 message
// in the tree, in pre-order.
func (ci *CallInfo) MessagesPayloadLengths() []int {
	var out []int
	ci.Iter(func(c *CallInfo) bool {
		for _, m := range c.Execution.L2ToL1Messages {
			out = append(out, len(m.Payload))
		}
		return true
	})
	return out
}

// AccessedContractAddresses unions the contract addresses touched by the tree,
// including the storage address of every call.
func (ci *CallInfo) AccessedContractAddresses() mapset.Set[types.ContractAddress] {
	out := mapset.NewThreadUnsafeSet[types.ContractAddress]()
	ci.Iter(func(c *CallInfo) bool {
		out.Add(c.Call.StorageAddress)
		if c.StorageAccess.AccessedContractAddresses != nil {
			out = out.Union(c.StorageAccess.AccessedContractAddresses)
		}
		return true
	})
	return out
}
