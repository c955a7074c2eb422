// Package casm implements the reference register machine used by the
// interpreted and emulated execution backends.
//
// The machine has 16 felt registers, a return stack for internal calls, and
// two syscall buffers: a request buffer filled by SYSPUSH and a response
// buffer read by SYSRES. Contract failures (explicit FAIL, failed assertions,
// reverted syscalls, gas or step exhaustion) end the run with Failed set.
// Anything else that goes wrong is returned as an error.
//
// The hash builtins (pedersen, poseidon) are blake3-based stand-ins with the
// same arity and accounting as the real primitives.
package casm

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
)

// StackDepth is the maximum internal call depth.
const StackDepth = 64

// Errors.
var (
	ErrInvalidProgram     = errors.New("invalid program")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrPCOutOfBounds      = errors.New("program counter out of bounds")
	ErrVMPanic            = errors.New("vm panic")
	ErrNoDispatcher       = errors.New("syscall without dispatcher")
)

// Failure messages placed in retdata when a run fails.
const (
	MsgOutOfGas        = "Out of gas"
	MsgOutOfSteps      = "Out of steps"
	MsgAssertionFailed = "Assertion failed"
	MsgRangeCheck      = "Range check failed"
	MsgInvalidCalldata = "Invalid calldata index"
	MsgCallDepth       = "Call depth exceeded"
)

// Mode selects the cost model.
type Mode uint8

const (
	// ModeSteps counts executed instructions against a step limit and records
	// visited program counters.
	ModeSteps Mode = iota
	// ModeGas charges gas per instruction and per builtin invocation.
	ModeGas
)

func (m Mode) String() string {
	if m == ModeGas {
		return "gas"
	}
	return "steps"
}

// Failure is returned by a SyscallDispatcher when the syscall reverted. The
// run ends as a failed execution with Data as retdata.
type Failure struct {
	Data []types.Felt
}

func (f *Failure) Error() string {
	return fmt.Sprintf("syscall failed: %s", types.DecodeFeltsAsStr(f.Data))
}

// SyscallDispatcher executes a syscall on behalf of the program. It deducts
// whatever the syscall costs from remainingGas.
type SyscallDispatcher interface {
	Dispatch(selector types.Felt, request []types.Felt, remainingGas *uint64) ([]types.Felt, error)
}

// TraceFunc observes each instruction before it executes.
type TraceFunc func(pc uint64, remainingGas uint64)

// Config configures a run.
type Config struct {
	Mode         Mode
	Gas          uint64
	MaxSteps     uint64
	StepGasCost  uint64
	BuiltinCosts *constants.BuiltinCosts
	Syscalls     SyscallDispatcher
	Trace        TraceFunc
}

// Result is the outcome of a run.
type Result struct {
	Failed       bool
	Retdata      []types.Felt
	RemainingGas uint64
	Steps        uint64
	Builtins     map[constants.BuiltinName]uint64
	VisitedPCs   []uint64
}

// Machine executes one program invocation.
type Machine struct {
	program  *Program
	calldata []types.Felt
	cfg      Config

	regs     [NumRegisters]types.Felt
	stack    []uint64
	pc       uint64
	gas      uint64
	steps    uint64
	retdata  []types.Felt
	request  []types.Felt
	response []types.Felt
	builtins map[constants.BuiltinName]uint64
	visited  map[uint64]struct{}
}

// NewMachine prepares a run of program starting at entry.
func NewMachine(program *Program, entry uint64, calldata []types.Felt, cfg Config) *Machine {
	m := &Machine{
		program:  program,
		calldata: calldata,
		cfg:      cfg,
		stack:    make([]uint64, 0, StackDepth),
		pc:       entry,
		gas:      cfg.Gas,
		builtins: make(map[constants.BuiltinName]uint64),
	}
	if cfg.Mode == ModeSteps {
		m.visited = make(map[uint64]struct{})
	}
	return m
}

// Run executes the program until it returns or fails.
func (m *Machine) Run() (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrVMPanic, rec)
		}
	}()

	code := m.program.Code
	for {
		if m.pc >= uint64(len(code)) {
			return nil, fmt.Errorf("%w: %d", ErrPCOutOfBounds, m.pc)
		}
		if m.cfg.Trace != nil {
			m.cfg.Trace(m.pc, m.gas)
		}
		if m.visited != nil {
			m.visited[m.pc] = struct{}{}
		}

		ins := code[m.pc]
		op, dst, src, imm := ins.Op(), ins.Dst(), ins.Src(), ins.Imm()

		if msg, ok := m.charge(op); !ok {
			return m.fail(msg), nil
		}

		next := m.pc + 1
		switch op {
		case OpNop:
		case OpConst:
			c, err := m.program.constAt(imm)
			if err != nil {
				return nil, err
			}
			m.regs[dst] = c
		case OpMovImm:
			if imm < 0 {
				m.regs[dst] = types.Zero.Sub(types.FeltFromUint64(uint64(-int64(imm))))
			} else {
				m.regs[dst] = types.FeltFromUint64(uint64(imm))
			}
		case OpMov:
			m.regs[dst] = m.regs[src]
		case OpAdd:
			m.regs[dst] = m.regs[dst].Add(m.regs[src])
		case OpSub:
			m.regs[dst] = m.regs[dst].Sub(m.regs[src])
		case OpMul:
			m.regs[dst] = m.regs[dst].Mul(m.regs[src])
		case OpArg:
			if imm < 0 || int(imm) >= len(m.calldata) {
				return m.fail(MsgInvalidCalldata), nil
			}
			m.regs[dst] = m.calldata[imm]
		case OpArgLen:
			m.regs[dst] = types.FeltFromUint64(uint64(len(m.calldata)))
		case OpJmp:
			next = jumpTarget(m.pc, imm)
		case OpJz:
			if m.regs[src].IsZero() {
				next = jumpTarget(m.pc, imm)
			}
		case OpJnz:
			if !m.regs[src].IsZero() {
				next = jumpTarget(m.pc, imm)
			}
		case OpCall:
			if len(m.stack) >= StackDepth {
				return m.fail(MsgCallDepth), nil
			}
			m.stack = append(m.stack, next)
			next = jumpTarget(m.pc, imm)
		case OpRet:
			if len(m.stack) == 0 {
				return m.finish(false), nil
			}
			next = m.stack[len(m.stack)-1]
			m.stack = m.stack[:len(m.stack)-1]
		case OpPush:
			m.retdata = append(m.retdata, m.regs[src])
		case OpAssertEq:
			if !m.regs[dst].Equal(m.regs[src]) {
				return m.fail(MsgAssertionFailed), nil
			}
		case OpFail:
			c, err := m.program.constAt(imm)
			if err != nil {
				return nil, err
			}
			m.retdata = []types.Felt{c}
			return m.finish(true), nil
		case OpRangeCheck:
			if m.regs[src].BitLen() > 128 {
				return m.fail(MsgRangeCheck), nil
			}
		case OpBitwise:
			and := new(big.Int).And(m.regs[dst].BigInt(), m.regs[src].BigInt())
			v, err := types.FeltFromBigInt(and)
			if err != nil {
				return nil, err
			}
			m.regs[dst] = v
		case OpPedersen, OpPoseidon:
			m.regs[dst] = mix(op, m.regs[dst], m.regs[src])
		case OpSysPush:
			m.request = append(m.request, m.regs[src])
		case OpSyscall:
			selector, err := m.program.constAt(imm)
			if err != nil {
				return nil, err
			}
			if m.cfg.Syscalls == nil {
				return nil, ErrNoDispatcher
			}
			req := m.request
			m.request = nil
			resp, err := m.cfg.Syscalls.Dispatch(selector, req, &m.gas)
			if err != nil {
				var failure *Failure
				if errors.As(err, &failure) {
					m.retdata = failure.Data
					return m.finish(true), nil
				}
				return nil, err
			}
			m.response = resp
		case OpSysRes:
			if imm < 0 || int(imm) >= len(m.response) {
				return nil, fmt.Errorf("%w: response index %d of %d", ErrInvalidInstruction, imm, len(m.response))
			}
			m.regs[dst] = m.response[imm]
		case OpSysResLen:
			m.regs[dst] = types.FeltFromUint64(uint64(len(m.response)))
		default:
			return nil, fmt.Errorf("%w: %s at pc %d", ErrInvalidInstruction, op, m.pc)
		}
		m.pc = next
	}
}

// charge applies the cost model for one instruction.
func (m *Machine) charge(op Opcode) (string, bool) {
	m.steps++
	switch m.cfg.Mode {
	case ModeSteps:
		if m.cfg.MaxSteps > 0 && m.steps > m.cfg.MaxSteps {
			return MsgOutOfSteps, false
		}
	case ModeGas:
		cost := m.cfg.StepGasCost
		if name, ok := op.builtin(); ok && m.cfg.BuiltinCosts != nil {
			cost += m.cfg.BuiltinCosts.Cost(name)
		}
		if m.gas < cost {
			return MsgOutOfGas, false
		}
		m.gas -= cost
	}
	if name, ok := op.builtin(); ok {
		m.builtins[name]++
	}
	return "", true
}

func (m *Machine) fail(msg string) *Result {
	m.retdata = types.EncodeStrAsFelts(msg)
	return m.finish(true)
}

func (m *Machine) finish(failed bool) *Result {
	res := &Result{
		Failed:       failed,
		Retdata:      m.retdata,
		RemainingGas: m.gas,
		Steps:        m.steps,
		Builtins:     m.builtins,
	}
	if m.visited != nil {
		res.VisitedPCs = make([]uint64, 0, len(m.visited))
		for pc := range m.visited {
			res.VisitedPCs = append(res.VisitedPCs, pc)
		}
		sort.Slice(res.VisitedPCs, func(i, j int) bool { return res.VisitedPCs[i] < res.VisitedPCs[j] })
	}
	return res
}

func jumpTarget(pc uint64, off int32) uint64 {
	return uint64(int64(pc) + int64(off) + 1)
}

// mix is the stand-in for the two-input hash builtins.
func mix(op Opcode, a, b types.Felt) types.Felt {
	h := blake3.New()
	h.Write([]byte{byte(op)})
	ab, bb := a.Bytes32(), b.Bytes32()
	h.Write(ab[:])
	h.Write(bb[:])
	return types.FeltFromBytes(h.Sum(nil))
}

// Run is a convenience wrapper around NewMachine and Machine.Run.
func Run(program *Program, entry uint64, calldata []types.Felt, cfg Config) (*Result, error) {
	if entry >= uint64(len(program.Code)) {
		return nil, fmt.Errorf("%w: entry %d", ErrPCOutOfBounds, entry)
	}
	return NewMachine(program, entry, calldata, cfg).Run()
}
