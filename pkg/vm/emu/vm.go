// Package emu is the gas-metered emulator backend.
//
// A VirtualMachine is loaded with a program and its entry points, armed with
// CallContract, and executed with RunWithTrace. The run produces a Trace of
// every visited state; ContractExecutionResultFromTrace reduces it to the
// call outcome. A VirtualMachine runs one invocation at a time and is meant
// to be created per call.
package emu

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

// MaxTraceLen caps the number of states kept in a trace.
const MaxTraceLen = 1 << 20

var (
	// ErrUnknownSelector is returned by CallContract for a selector the
	// program does not export.
	ErrUnknownSelector = errors.New("unknown entry point selector")

	// ErrNoInvocation is returned by RunWithTrace before CallContract.
	ErrNoInvocation = errors.New("no pending invocation")

	// ErrIncompleteTrace is returned for a trace without a final state.
	ErrIncompleteTrace = errors.New("trace has no final state")
)

var logger = log.New("pkg", "emu")

// StateDump is the machine state before one instruction.
type StateDump struct {
	PC           uint64
	RemainingGas uint64
}

// Trace is the record of a run.
type Trace struct {
	States []StateDump
	// Truncated is set when the run outgrew MaxTraceLen.
	Truncated bool
	Final     *casm.Result
}

// ContractExecutionResult is the outcome of an emulated call.
type ContractExecutionResult struct {
	RemainingGas uint64
	FailureFlag  bool
	ReturnValues []types.Felt
	ErrorMsg     string
	BuiltinStats map[constants.BuiltinName]uint64
}

type invocation struct {
	entry    uint64
	gas      uint64
	calldata []types.Felt
	costs    *constants.BuiltinCosts
}

// VirtualMachine emulates a program.
type VirtualMachine struct {
	program     *casm.Program
	entries     map[types.Felt]uint64
	stepGasCost uint64
	pending     *invocation
}

// NewVirtualMachine loads program. entries maps selectors to code offsets.
func NewVirtualMachine(program *casm.Program, entries map[types.Felt]uint64, stepGasCost uint64) *VirtualMachine {
	return &VirtualMachine{
		program:     program,
		entries:     entries,
		stepGasCost: stepGasCost,
	}
}

// CallContract arms an invocation of selector.
func (vm *VirtualMachine) CallContract(selector types.Felt, gas uint64, calldata []types.Felt, costs *constants.BuiltinCosts) error {
	entry, ok := vm.entries[selector]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}
	vm.pending = &invocation{entry: entry, gas: gas, calldata: calldata, costs: costs}
	return nil
}

// RunWithTrace executes the armed invocation, serving syscalls from handler.
func (vm *VirtualMachine) RunWithTrace(handler SyscallHandler) (*Trace, error) {
	inv := vm.pending
	if inv == nil {
		return nil, ErrNoInvocation
	}
	vm.pending = nil

	trace := &Trace{}
	cfg := casm.Config{
		Mode:         casm.ModeGas,
		Gas:          inv.gas,
		StepGasCost:  vm.stepGasCost,
		BuiltinCosts: inv.costs,
		Syscalls:     &dispatcher{handler: handler},
		Trace: func(pc, gas uint64) {
			if len(trace.States) >= MaxTraceLen {
				trace.Truncated = true
				return
			}
			trace.States = append(trace.States, StateDump{PC: pc, RemainingGas: gas})
		},
	}
	res, err := casm.Run(vm.program, inv.entry, inv.calldata, cfg)
	if err != nil {
		return nil, err
	}
	trace.Final = res
	if trace.Truncated {
		logger.Debug("Trace truncated", "states", len(trace.States), "steps", res.Steps)
	}
	return trace, nil
}

// ContractExecutionResultFromTrace reduces a trace to its call outcome.
func ContractExecutionResultFromTrace(trace *Trace) (*ContractExecutionResult, error) {
	if trace == nil || trace.Final == nil {
		return nil, ErrIncompleteTrace
	}
	final := trace.Final
	res := &ContractExecutionResult{
		RemainingGas: final.RemainingGas,
		FailureFlag:  final.Failed,
		ReturnValues: final.Retdata,
		BuiltinStats: final.Builtins,
	}
	if final.Failed {
		res.ErrorMsg = types.DecodeFeltsAsStr(final.Retdata)
	}
	return res, nil
}
