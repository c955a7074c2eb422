package casm

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
)

// Program is an immutable code segment with its constant pool.
type Program struct {
	Code   []Instruction
	Consts []types.Felt
}

// Validate checks that every constant reference and relative jump stays
// inside the program.
func (p *Program) Validate() error {
	if len(p.Code) == 0 {
		return fmt.Errorf("%w: empty code", ErrInvalidProgram)
	}
	for pc, ins := range p.Code {
		op := ins.Op()
		if op >= opCount {
			return fmt.Errorf("%w: unknown opcode %d at pc %d", ErrInvalidProgram, uint8(op), pc)
		}
		switch {
		case op == OpConst || op == OpFail || op == OpSyscall:
			if ins.Imm() < 0 || int(ins.Imm()) >= len(p.Consts) {
				return fmt.Errorf("%w: constant %d out of range at pc %d", ErrInvalidProgram, ins.Imm(), pc)
			}
		case op.isJump():
			target := int64(pc) + int64(ins.Imm()) + 1
			if target < 0 || target >= int64(len(p.Code)) {
				return fmt.Errorf("%w: jump to %d at pc %d", ErrInvalidProgram, target, pc)
			}
		}
	}
	return nil
}

func (p *Program) constAt(i int32) (types.Felt, error) {
	if i < 0 || int(i) >= len(p.Consts) {
		return types.Felt{}, fmt.Errorf("%w: constant %d", ErrInvalidInstruction, i)
	}
	return p.Consts[i], nil
}

// Len returns the number of instructions.
func (p *Program) Len() uint64 {
	return uint64(len(p.Code))
}

// MarshalBinary returns the canonical gob encoding of the program.
func (p *Program) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(programWire{Code: p.Code, Consts: p.Consts}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a program produced by MarshalBinary.
func (p *Program) UnmarshalBinary(data []byte) error {
	var w programWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	p.Code, p.Consts = w.Code, w.Consts
	return nil
}

type programWire struct {
	Code   []Instruction
	Consts []types.Felt
}
