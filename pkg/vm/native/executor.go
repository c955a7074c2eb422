// Package native runs contracts compiled ahead of time to Go functions.
//
// An Executor owns a table of entry functions keyed by function index. Entry
// functions receive a Runtime that meters gas, prices builtins and exposes
// the syscall handler.
package native

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
)

var (
	// ErrUnknownFunction is returned when the executor has no function for an index.
	ErrUnknownFunction = errors.New("unknown native function")

	// ErrPanic wraps a panic raised by native code.
	ErrPanic = errors.New("native code panicked")
)

// MsgOutOfGas is the failure message of gas exhaustion.
const MsgOutOfGas = "Out of gas"

// ContractExecutionResult is the raw outcome of a native run.
type ContractExecutionResult struct {
	RemainingGas uint64
	FailureFlag  bool
	ReturnValues []types.Felt
	ErrorMsg     string
	BuiltinStats map[constants.BuiltinName]uint64
}

// Executor runs compiled entry functions.
type Executor interface {
	Run(functionIdx uint64, args []types.Felt, gas uint64, builtinCosts *constants.BuiltinCosts, handler SyscallHandler) (*ContractExecutionResult, error)
}

// EntryFunc is a compiled entry point. Returning a *Failure fails the call;
// any other error aborts execution.
type EntryFunc func(rt *Runtime, args []types.Felt) ([]types.Felt, error)

// AotExecutor is an Executor over an in-process function table.
type AotExecutor struct {
	funcs map[uint64]EntryFunc
}

// NewAotExecutor creates an executor. The table is copied.
func NewAotExecutor(funcs map[uint64]EntryFunc) *AotExecutor {
	t := make(map[uint64]EntryFunc, len(funcs))
	for k, v := range funcs {
		t[k] = v
	}
	return &AotExecutor{funcs: t}
}

// Run implements Executor.
func (e *AotExecutor) Run(functionIdx uint64, args []types.Felt, gas uint64, builtinCosts *constants.BuiltinCosts, handler SyscallHandler) (res *ContractExecutionResult, err error) {
	fn, ok := e.funcs[functionIdx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFunction, functionIdx)
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	rt := &Runtime{
		gas:      gas,
		costs:    builtinCosts,
		handler:  handler,
		builtins: make(map[constants.BuiltinName]uint64),
	}
	ret, err := fn(rt, args)
	res = &ContractExecutionResult{BuiltinStats: rt.builtins}
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			return nil, err
		}
		res.FailureFlag = true
		res.ReturnValues = failure.Data
		res.ErrorMsg = types.DecodeFeltsAsStr(failure.Data)
	} else {
		res.ReturnValues = ret
	}
	res.RemainingGas = rt.gas
	return res, nil
}

// Runtime is the per-call environment of an entry function.
type Runtime struct {
	gas      uint64
	costs    *constants.BuiltinCosts
	handler  SyscallHandler
	builtins map[constants.BuiltinName]uint64
}

// Gas returns the remaining gas.
func (rt *Runtime) Gas() uint64 { return rt.gas }

// GasPtr returns the remaining gas counter to hand to syscalls.
func (rt *Runtime) GasPtr() *uint64 { return &rt.gas }

// Syscalls returns the syscall handler.
func (rt *Runtime) Syscalls() SyscallHandler { return rt.handler }

// ConsumeGas deducts n, failing the call when gas runs out.
func (rt *Runtime) ConsumeGas(n uint64) error {
	if rt.gas < n {
		return Fail(MsgOutOfGas)
	}
	rt.gas -= n
	return nil
}

// UseBuiltin records one invocation of a builtin and charges its price.
func (rt *Runtime) UseBuiltin(name constants.BuiltinName) error {
	var cost uint64
	if rt.costs != nil {
		cost = rt.costs.Cost(name)
	}
	if err := rt.ConsumeGas(cost); err != nil {
		return err
	}
	rt.builtins[name]++
	return nil
}
