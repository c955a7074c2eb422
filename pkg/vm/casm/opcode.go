// Package casm defines the reference instruction encoding.
package casm

import (
	"fmt"

	"github.com/fortiblox/stratus-exec/pkg/constants"
)

// Opcode identifies an instruction.
type Opcode uint8

// Opcodes.
const (
	OpNop Opcode = iota
	OpConst      // r[dst] = consts[imm]
	OpMovImm     // r[dst] = imm
	OpMov        // r[dst] = r[src]
	OpAdd        // r[dst] += r[src]
	OpSub        // r[dst] -= r[src]
	OpMul        // r[dst] *= r[src]
	OpArg        // r[dst] = calldata[imm]
	OpArgLen     // r[dst] = len(calldata)
	OpJmp        // pc += imm
	OpJz         // if r[src] == 0 { pc += imm }
	OpJnz        // if r[src] != 0 { pc += imm }
	OpCall       // push pc; pc += imm
	OpRet        // pop pc, or finish when the stack is empty
	OpPush       // retdata = append(retdata, r[src])
	OpAssertEq   // fail unless r[dst] == r[src]
	OpFail       // fail with retdata [consts[imm]]
	OpRangeCheck // fail unless r[src] < 2^128
	OpBitwise    // r[dst] &= r[src]
	OpPedersen   // r[dst] = H(r[dst], r[src])
	OpPoseidon   // r[dst] = H'(r[dst], r[src])
	OpSysPush    // request = append(request, r[src])
	OpSyscall    // dispatch consts[imm] with request
	OpSysRes     // r[dst] = response[imm]
	OpSysResLen  // r[dst] = len(response)

	opCount
)

var opNames = [...]string{
	OpNop:        "nop",
	OpConst:      "const",
	OpMovImm:     "movi",
	OpMov:        "mov",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpArg:        "arg",
	OpArgLen:     "arglen",
	OpJmp:        "jmp",
	OpJz:         "jz",
	OpJnz:        "jnz",
	OpCall:       "call",
	OpRet:        "ret",
	OpPush:       "push",
	OpAssertEq:   "assert_eq",
	OpFail:       "fail",
	OpRangeCheck: "range_check",
	OpBitwise:    "bitwise",
	OpPedersen:   "pedersen",
	OpPoseidon:   "poseidon",
	OpSysPush:    "syspush",
	OpSyscall:    "syscall",
	OpSysRes:     "sysres",
	OpSysResLen:  "sysreslen",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// NumRegisters is the size of the register file.
const NumRegisters = 16

// Instruction is a 64-bit encoded instruction:
//
//	bits  0-7   opcode
//	bits  8-11  dst register
//	bits 12-15  src register
//	bits 32-63  signed immediate
type Instruction uint64

// Encode builds an instruction.
func Encode(op Opcode, dst, src uint8, imm int32) Instruction {
	return Instruction(uint64(op) | uint64(dst&0x0F)<<8 | uint64(src&0x0F)<<12 | uint64(uint32(imm))<<32)
}

// Op returns the opcode.
func (ins Instruction) Op() Opcode { return Opcode(ins & 0xFF) }

// Dst returns the destination register.
func (ins Instruction) Dst() uint8 { return uint8((ins >> 8) & 0x0F) }

// Src returns the source register.
func (ins Instruction) Src() uint8 { return uint8((ins >> 12) & 0x0F) }

// Imm returns the immediate.
func (ins Instruction) Imm() int32 { return int32(ins >> 32) }

func (ins Instruction) String() string {
	return fmt.Sprintf("%s r%d, r%d, %d", ins.Op(), ins.Dst(), ins.Src(), ins.Imm())
}

// isJump reports whether op transfers control by a relative offset.
func (op Opcode) isJump() bool {
	return op == OpJmp || op == OpJz || op == OpJnz || op == OpCall
}

// builtin returns the builtin an opcode consumes, if any.
func (op Opcode) builtin() (name constants.BuiltinName, ok bool) {
	switch op {
	case OpRangeCheck:
		return constants.RangeCheck, true
	case OpBitwise:
		return constants.Bitwise, true
	case OpPedersen:
		return constants.Pedersen, true
	case OpPoseidon:
		return constants.Poseidon, true
	}
	return "", false
}
