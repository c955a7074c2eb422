package callinfo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/stratus-exec/pkg/constants"
)

// ErrUnknownSyscallResources is returned when a used syscall has no OS
// resource entry in the versioned constants.
var ErrUnknownSyscallResources = errors.New("no OS resources for syscall")

// BuiltinCounterMap counts builtin invocations. Zero entries are never kept
// in finalized maps.
type BuiltinCounterMap map[constants.BuiltinName]uint64

// Clone returns a copy without zero entries.
func (m BuiltinCounterMap) Clone() BuiltinCounterMap {
	out := make(BuiltinCounterMap, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// AddAll adds o into m.
func (m BuiltinCounterMap) AddAll(o BuiltinCounterMap) {
	for k, v := range o {
		m[k] += v
	}
}

// Prune deletes zero entries in place and returns m.
func (m BuiltinCounterMap) Prune() BuiltinCounterMap {
	for k, v := range m {
		if v == 0 {
			delete(m, k)
		}
	}
	return m
}

// Names returns the builtins present, sorted.
func (m BuiltinCounterMap) Names() []constants.BuiltinName {
	out := make([]constants.BuiltinName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExecutionResources is a VM-level resource summary.
type ExecutionResources struct {
	NSteps                 uint64
	NMemoryHoles           uint64
	BuiltinInstanceCounter BuiltinCounterMap
}

// Add returns r + o.
func (r ExecutionResources) Add(o ExecutionResources) ExecutionResources {
	out := ExecutionResources{
		NSteps:                 r.NSteps + o.NSteps,
		NMemoryHoles:           r.NMemoryHoles + o.NMemoryHoles,
		BuiltinInstanceCounter: r.BuiltinInstanceCounter.Clone(),
	}
	out.BuiltinInstanceCounter.AddAll(o.BuiltinInstanceCounter)
	out.BuiltinInstanceCounter.Prune()
	return out
}

// FromConstants converts a constants resource vector.
func FromConstants(r constants.Resources) ExecutionResources {
	out := ExecutionResources{
		NSteps:                 r.NSteps,
		NMemoryHoles:           r.NMemoryHoles,
		BuiltinInstanceCounter: make(BuiltinCounterMap, len(r.Builtins)),
	}
	for k, v := range r.Builtins {
		out.BuiltinInstanceCounter[constants.BuiltinName(k)] = v
	}
	out.BuiltinInstanceCounter.Prune()
	return out
}

// SyscallUsage counts invocations of one syscall and accumulates its linear
// factor (calldata length, keccak rounds).
type SyscallUsage struct {
	CallCount    uint64
	LinearFactor uint64
}

// SyscallUsageMap is keyed by syscall name.
type SyscallUsageMap map[string]SyscallUsage

// Record adds one invocation with the given linear factor.
func (m SyscallUsageMap) Record(name string, linearFactor uint64) {
	u := m[name]
	u.CallCount++
	u.LinearFactor += linearFactor
	m[name] = u
}

// AddAll merges o into m.
func (m SyscallUsageMap) AddAll(o SyscallUsageMap) {
	for name, u := range o {
		cur := m[name]
		cur.CallCount += u.CallCount
		cur.LinearFactor += u.LinearFactor
		m[name] = cur
	}
}

// GetAdditionalOSResources prices syscall usage in OS resources: each
// syscall's constant part times its call count plus its linear part times
// its accumulated linear factor.
func GetAdditionalOSResources(vc *constants.VersionedConstants, usage SyscallUsageMap) (ExecutionResources, error) {
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	total := ExecutionResources{BuiltinInstanceCounter: BuiltinCounterMap{}}
	for _, name := range names {
		res, ok := vc.SyscallOSResources(name)
		if !ok {
			return ExecutionResources{}, fmt.Errorf("%w: %s", ErrUnknownSyscallResources, name)
		}
		u := usage[name]
		r := res.Constant.Scaled(u.CallCount).Plus(res.Linear.Scaled(u.LinearFactor))
		total = total.Add(FromConstants(r))
	}
	return total, nil
}

// SummarizeInner sums the VM-level resources of nested calls.
func SummarizeInner(inner []*CallInfo) ExecutionResources {
	total := ExecutionResources{BuiltinInstanceCounter: BuiltinCounterMap{}}
	for _, ci := range inner {
		total = total.Add(ci.Resources)
	}
	return total
}

// AccumulateBuiltins computes a call's final builtin counters: the backend's
// own counts, the builtins priced into its syscalls, and the final counters
// of every nested call. The result has no zero entries and does not depend on
// the order of inner.
func AccumulateBuiltins(own BuiltinCounterMap, syscalls ExecutionResources, inner []*CallInfo) BuiltinCounterMap {
	out := own.Clone()
	out.AddAll(syscalls.BuiltinInstanceCounter)
	for _, ci := range inner {
		out.AddAll(ci.BuiltinCounters)
	}
	return out.Prune()
}
