package casm

import (
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
)

// Builder assembles programs. Jump targets are named labels resolved by
// Build.
type Builder struct {
	code   []Instruction
	consts []types.Felt
	index  map[types.Felt]int32
	labels map[string]int
	fixups map[int]string
	err    error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		index:  make(map[types.Felt]int32),
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

// PC returns the offset of the next emitted instruction.
func (b *Builder) PC() uint64 {
	return uint64(len(b.code))
}

// Const interns c in the constant pool.
func (b *Builder) Const(c types.Felt) int32 {
	if i, ok := b.index[c]; ok {
		return i
	}
	i := int32(len(b.consts))
	b.consts = append(b.consts, c)
	b.index[c] = i
	return i
}

// Emit appends a raw instruction.
func (b *Builder) Emit(op Opcode, dst, src uint8, imm int32) *Builder {
	b.code = append(b.code, Encode(op, dst, src, imm))
	return b
}

// Label names the next instruction.
func (b *Builder) Label(name string) *Builder {
	if _, dup := b.labels[name]; dup && b.err == nil {
		b.err = fmt.Errorf("%w: duplicate label %q", ErrInvalidProgram, name)
	}
	b.labels[name] = len(b.code)
	return b
}

func (b *Builder) jump(op Opcode, src uint8, label string) *Builder {
	b.fixups[len(b.code)] = label
	return b.Emit(op, 0, src, 0)
}

// LoadConst sets r[dst] to c.
func (b *Builder) LoadConst(dst uint8, c types.Felt) *Builder {
	return b.Emit(OpConst, dst, 0, b.Const(c))
}

// LoadImm sets r[dst] to a small integer.
func (b *Builder) LoadImm(dst uint8, v int32) *Builder { return b.Emit(OpMovImm, dst, 0, v) }

// Mov copies r[src] into r[dst].
func (b *Builder) Mov(dst, src uint8) *Builder { return b.Emit(OpMov, dst, src, 0) }

// Add sets r[dst] += r[src].
func (b *Builder) Add(dst, src uint8) *Builder { return b.Emit(OpAdd, dst, src, 0) }

// Sub sets r[dst] -= r[src].
func (b *Builder) Sub(dst, src uint8) *Builder { return b.Emit(OpSub, dst, src, 0) }

// Mul sets r[dst] *= r[src].
func (b *Builder) Mul(dst, src uint8) *Builder { return b.Emit(OpMul, dst, src, 0) }

// Arg loads calldata[i] into r[dst].
func (b *Builder) Arg(dst uint8, i int32) *Builder { return b.Emit(OpArg, dst, 0, i) }

// ArgLen loads the calldata length into r[dst].
func (b *Builder) ArgLen(dst uint8) *Builder { return b.Emit(OpArgLen, dst, 0, 0) }

// Jmp jumps to label.
func (b *Builder) Jmp(label string) *Builder { return b.jump(OpJmp, 0, label) }

// Jz jumps to label when r[src] is zero.
func (b *Builder) Jz(src uint8, label string) *Builder { return b.jump(OpJz, src, label) }

// Jnz jumps to label when r[src] is not zero.
func (b *Builder) Jnz(src uint8, label string) *Builder { return b.jump(OpJnz, src, label) }

// Call calls the function at label.
func (b *Builder) Call(label string) *Builder { return b.jump(OpCall, 0, label) }

// Ret returns from a function or finishes the run.
func (b *Builder) Ret() *Builder { return b.Emit(OpRet, 0, 0, 0) }

// Push appends r[src] to the return data.
func (b *Builder) Push(src uint8) *Builder { return b.Emit(OpPush, 0, src, 0) }

// AssertEq fails unless r[a] == r[b].
func (b *Builder) AssertEq(a, c uint8) *Builder { return b.Emit(OpAssertEq, a, c, 0) }

// Fail ends the run as failed with msg as retdata.
func (b *Builder) Fail(msg string) *Builder {
	return b.Emit(OpFail, 0, 0, b.Const(types.MustShortString(msg)))
}

// RangeCheck fails unless r[src] fits in 128 bits.
func (b *Builder) RangeCheck(src uint8) *Builder { return b.Emit(OpRangeCheck, 0, src, 0) }

// Bitwise sets r[dst] &= r[src].
func (b *Builder) Bitwise(dst, src uint8) *Builder { return b.Emit(OpBitwise, dst, src, 0) }

// Pedersen hashes r[dst] with r[src] into r[dst].
func (b *Builder) Pedersen(dst, src uint8) *Builder { return b.Emit(OpPedersen, dst, src, 0) }

// Poseidon hashes r[dst] with r[src] into r[dst].
func (b *Builder) Poseidon(dst, src uint8) *Builder { return b.Emit(OpPoseidon, dst, src, 0) }

// SysPush appends r[src] to the syscall request.
func (b *Builder) SysPush(src uint8) *Builder { return b.Emit(OpSysPush, 0, src, 0) }

// Syscall dispatches the pending request to selector.
func (b *Builder) Syscall(selector types.Felt) *Builder {
	return b.Emit(OpSyscall, 0, 0, b.Const(selector))
}

// SysRes loads response[i] into r[dst].
func (b *Builder) SysRes(dst uint8, i int32) *Builder { return b.Emit(OpSysRes, dst, 0, i) }

// SysResLen loads the response length into r[dst].
func (b *Builder) SysResLen(dst uint8) *Builder { return b.Emit(OpSysResLen, dst, 0, 0) }

// Build resolves labels and validates the program.
func (b *Builder) Build() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	code := make([]Instruction, len(b.code))
	copy(code, b.code)
	for pc, label := range b.fixups {
		target, ok := b.labels[label]
		if !ok {
			return nil, fmt.Errorf("%w: undefined label %q", ErrInvalidProgram, label)
		}
		ins := code[pc]
		code[pc] = Encode(ins.Op(), ins.Dst(), ins.Src(), int32(target-pc-1))
	}
	p := &Program{Code: code, Consts: append([]types.Felt(nil), b.consts...)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Program {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
