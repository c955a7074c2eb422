package contractclass

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

// ErrUnsupportedArtifact is returned for artifacts with no file representation.
var ErrUnsupportedArtifact = errors.New("unsupported artifact")

// ArtifactJSON is the file form of program-backed artifacts.
type ArtifactJSON struct {
	Kind        string                  `json:"kind"`
	Code        []casm.Instruction      `json:"code"`
	Consts      []types.Felt            `json:"consts"`
	EntryPoints map[string][]EntryPoint `json:"entry_points"`
	Segments    *NestedIntList          `json:"bytecode_segment_lengths,omitempty"`
}

// ParseArtifactJSON builds an artifact from its file form.
func ParseArtifactJSON(data []byte) (Artifact, error) {
	var aj ArtifactJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	eps := make(EntryPoints, len(aj.EntryPoints))
	for name, list := range aj.EntryPoints {
		kind, err := ParseEntryPointKind(name)
		if err != nil {
			return nil, err
		}
		eps[kind] = list
	}
	program := &casm.Program{Code: aj.Code, Consts: aj.Consts}

	switch aj.Kind {
	case KindInterpreted.String():
		return NewInterpretedClass(program, eps, aj.Segments)
	case KindEmulated.String():
		if aj.Segments != nil {
			return nil, fmt.Errorf("%w: emulated artifacts carry no segment lengths", ErrInvalidSegmentLengths)
		}
		return NewEmulatedClass(program, eps)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedArtifact, aj.Kind)
	}
}

// MarshalArtifactJSON renders a program-backed artifact.
func MarshalArtifactJSON(a Artifact) ([]byte, error) {
	var (
		program *casm.Program
		eps     EntryPoints
	)
	switch c := a.(type) {
	case *InterpretedClass:
		program, eps = c.Program, c.EntryPoints()
	case *EmulatedClass:
		program, eps = c.Program, c.EntryPoints()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArtifact, a.Kind())
	}
	aj := ArtifactJSON{
		Kind:        a.Kind().String(),
		Code:        program.Code,
		Consts:      program.Consts,
		EntryPoints: make(map[string][]EntryPoint, len(eps)),
		Segments:    a.SegmentLengths(),
	}
	for kind, list := range eps {
		aj.EntryPoints[kind.String()] = list
	}
	return json.MarshalIndent(aj, "", "  ")
}
