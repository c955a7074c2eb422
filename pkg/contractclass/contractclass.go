// Package contractclass defines compiled contract artifacts, entry point
// resolution and bytecode segment bookkeeping.
//
// An artifact comes in one of three forms, one per execution backend:
// an interpreted program run by the step-metered interpreter, a loaded
// native executor, or a program run by the gas-metered emulator. Artifacts
// are immutable once constructed and may be shared between calls.
package contractclass

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

var (
	// ErrEntryPointNotFound is returned when an artifact has no entry point
	// for a selector.
	ErrEntryPointNotFound = errors.New("entry point not found")

	// ErrDuplicateEntryPoint is returned when a selector appears twice within
	// one entry point kind.
	ErrDuplicateEntryPoint = errors.New("duplicate entry point")

	// ErrInvalidEntryPoint is returned when an entry point offset is outside
	// the program.
	ErrInvalidEntryPoint = errors.New("invalid entry point")

	// ErrInvalidSegmentLengths is returned when a segment tree does not match
	// the bytecode it describes.
	ErrInvalidSegmentLengths = errors.New("invalid segment lengths")
)

// Kind is the backend an artifact targets.
type Kind uint8

const (
	KindInterpreted Kind = iota
	KindNative
	KindEmulated
)

func (k Kind) String() string {
	switch k {
	case KindInterpreted:
		return "interpreted"
	case KindNative:
		return "native"
	case KindEmulated:
		return "emulated"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EntryPointKind partitions entry points.
type EntryPointKind uint8

const (
	External EntryPointKind = iota
	Constructor
	L1Handler
)

func (k EntryPointKind) String() string {
	switch k {
	case External:
		return "EXTERNAL"
	case Constructor:
		return "CONSTRUCTOR"
	case L1Handler:
		return "L1_HANDLER"
	default:
		return fmt.Sprintf("EntryPointKind(%d)", uint8(k))
	}
}

// ParseEntryPointKind parses the names produced by String.
func ParseEntryPointKind(s string) (EntryPointKind, error) {
	switch s {
	case "EXTERNAL", "external":
		return External, nil
	case "CONSTRUCTOR", "constructor":
		return Constructor, nil
	case "L1_HANDLER", "l1_handler":
		return L1Handler, nil
	}
	return 0, fmt.Errorf("unknown entry point kind %q", s)
}

// EntryPoint is a callable function of an artifact.
type EntryPoint struct {
	Selector    types.Felt              `json:"selector"`
	Offset      uint64                  `json:"offset"`
	FunctionIdx uint64                  `json:"function_idx"`
	Builtins    []constants.BuiltinName `json:"builtins,omitempty"`
}

// EntryPoints groups entry points by kind.
type EntryPoints map[EntryPointKind][]EntryPoint

// Artifact is a compiled contract class.
type Artifact interface {
	// Kind reports the backend that runs the artifact.
	Kind() Kind
	// EntryPoint resolves a selector within a kind.
	EntryPoint(kind EntryPointKind, selector types.Felt) (EntryPoint, error)
	// HasEntryPoints reports whether any entry point of kind exists.
	HasEntryPoints(kind EntryPointKind) bool
	// SegmentLengths returns the bytecode segment tree, or nil.
	SegmentLengths() *NestedIntList
	// Fingerprint identifies the artifact content.
	Fingerprint() [32]byte
}

type entryPointIndex struct {
	byKind map[EntryPointKind]map[types.Felt]EntryPoint
}

func newEntryPointIndex(eps EntryPoints, codeLen uint64) (entryPointIndex, error) {
	idx := entryPointIndex{byKind: make(map[EntryPointKind]map[types.Felt]EntryPoint, len(eps))}
	for kind, list := range eps {
		m := make(map[types.Felt]EntryPoint, len(list))
		for _, ep := range list {
			if _, dup := m[ep.Selector]; dup {
				return idx, fmt.Errorf("%w: %s selector %s", ErrDuplicateEntryPoint, kind, ep.Selector)
			}
			if codeLen > 0 && ep.Offset >= codeLen {
				return idx, fmt.Errorf("%w: %s offset %d beyond code length %d", ErrInvalidEntryPoint, ep.Selector, ep.Offset, codeLen)
			}
			m[ep.Selector] = ep
		}
		idx.byKind[kind] = m
	}
	return idx, nil
}

func (idx entryPointIndex) EntryPoint(kind EntryPointKind, selector types.Felt) (EntryPoint, error) {
	ep, ok := idx.byKind[kind][selector]
	if !ok {
		return EntryPoint{}, fmt.Errorf("%w: selector %s of kind %s", ErrEntryPointNotFound, selector, kind)
	}
	return ep, nil
}

func (idx entryPointIndex) HasEntryPoints(kind EntryPointKind) bool {
	return len(idx.byKind[kind]) > 0
}

// sorted returns the entry points of kind ordered by selector.
func (idx entryPointIndex) sorted(kind EntryPointKind) []EntryPoint {
	out := make([]EntryPoint, 0, len(idx.byKind[kind]))
	for _, ep := range idx.byKind[kind] {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Selector.Cmp(out[j].Selector) < 0 })
	return out
}

func (idx entryPointIndex) export() EntryPoints {
	out := make(EntryPoints, len(idx.byKind))
	for kind := range idx.byKind {
		out[kind] = idx.sorted(kind)
	}
	return out
}

func (idx entryPointIndex) digest(h *blake3.Hasher) {
	for _, kind := range []EntryPointKind{External, Constructor, L1Handler} {
		for _, ep := range idx.sorted(kind) {
			sel := ep.Selector.Bytes32()
			h.Write([]byte{byte(kind)})
			h.Write(sel[:])
			fmt.Fprintf(h, "%d:%d", ep.Offset, ep.FunctionIdx)
		}
	}
}

// InterpretedClass runs on the step-metered interpreter.
type InterpretedClass struct {
	Program *casm.Program
	entryPointIndex
	segments *NestedIntList
}

// NewInterpretedClass validates and indexes an interpreted artifact. segments
// may be nil; when present it must cover the whole program.
func NewInterpretedClass(program *casm.Program, eps EntryPoints, segments *NestedIntList) (*InterpretedClass, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}
	if segments != nil && segments.TotalLength() != program.Len() {
		return nil, fmt.Errorf("%w: segments cover %d of %d instructions", ErrInvalidSegmentLengths, segments.TotalLength(), program.Len())
	}
	idx, err := newEntryPointIndex(eps, program.Len())
	if err != nil {
		return nil, err
	}
	return &InterpretedClass{Program: program, entryPointIndex: idx, segments: segments}, nil
}

func (c *InterpretedClass) Kind() Kind                     { return KindInterpreted }
func (c *InterpretedClass) SegmentLengths() *NestedIntList { return c.segments }

// EntryPoints returns a copy of the entry point table.
func (c *InterpretedClass) EntryPoints() EntryPoints { return c.export() }

func (c *InterpretedClass) Fingerprint() [32]byte {
	return programFingerprint(KindInterpreted, c.Program, c.entryPointIndex)
}

// NativeClass wraps a loaded native executor.
type NativeClass struct {
	Executor native.Executor
	entryPointIndex
	segments *NestedIntList
}

// NewNativeClass indexes a native artifact. Native entry points resolve by
// FunctionIdx; offsets are not checked.
func NewNativeClass(executor native.Executor, eps EntryPoints, segments *NestedIntList) (*NativeClass, error) {
	idx, err := newEntryPointIndex(eps, 0)
	if err != nil {
		return nil, err
	}
	return &NativeClass{Executor: executor, entryPointIndex: idx, segments: segments}, nil
}

func (c *NativeClass) Kind() Kind                     { return KindNative }
func (c *NativeClass) SegmentLengths() *NestedIntList { return c.segments }

func (c *NativeClass) Fingerprint() [32]byte {
	h := blake3.New()
	h.Write([]byte{byte(KindNative)})
	c.entryPointIndex.digest(h)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EmulatedClass runs on the gas-metered emulator.
type EmulatedClass struct {
	Program *casm.Program
	entryPointIndex
}

// NewEmulatedClass validates and indexes an emulated artifact.
func NewEmulatedClass(program *casm.Program, eps EntryPoints) (*EmulatedClass, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}
	idx, err := newEntryPointIndex(eps, program.Len())
	if err != nil {
		return nil, err
	}
	return &EmulatedClass{Program: program, entryPointIndex: idx}, nil
}

func (c *EmulatedClass) Kind() Kind                     { return KindEmulated }
func (c *EmulatedClass) SegmentLengths() *NestedIntList { return nil }

// EntryPoints returns a copy of the entry point table.
func (c *EmulatedClass) EntryPoints() EntryPoints { return c.export() }

func (c *EmulatedClass) Fingerprint() [32]byte {
	return programFingerprint(KindEmulated, c.Program, c.entryPointIndex)
}

func programFingerprint(kind Kind, p *casm.Program, idx entryPointIndex) [32]byte {
	h := blake3.New()
	h.Write([]byte{byte(kind)})
	if data, err := p.MarshalBinary(); err == nil {
		h.Write(data)
	}
	idx.digest(h)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// FingerprintString renders an artifact fingerprint for logs.
func FingerprintString(a Artifact) string {
	fp := a.Fingerprint()
	return types.Base58(fp[:])
}
