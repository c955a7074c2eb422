package execution

import (
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/bridge"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
	"github.com/fortiblox/stratus-exec/pkg/vm/emu"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

// runBackend invokes the backend of artifact with gas already net of the
// entry point budget.
func runBackend(artifact contractclass.Artifact, ep contractclass.EntryPoint, call *callinfo.CallEntryPoint, gas uint64, h *syscall.SyscallHandler, ectx *EntryPointExecutionContext) (*Outcome, error) {
	switch cls := artifact.(type) {
	case *contractclass.NativeClass:
		return runNative(cls, ep, call, gas, h, ectx)
	case *contractclass.EmulatedClass:
		return runEmulated(cls, call, gas, h, ectx)
	case *contractclass.InterpretedClass:
		return runInterpreted(cls, ep, call, gas, h, ectx)
	default:
		return nil, fmt.Errorf("unsupported artifact %T", artifact)
	}
}

func runNative(cls *contractclass.NativeClass, ep contractclass.EntryPoint, call *callinfo.CallEntryPoint, gas uint64, h *syscall.SyscallHandler, ectx *EntryPointExecutionContext) (*Outcome, error) {
	costs := ectx.TxContext.Block.Constants.BuiltinCosts()
	res, err := cls.Executor.Run(ep.FunctionIdx, call.Calldata, gas, &costs, bridge.NewNativeAdapter(h))
	if err != nil {
		return nil, err
	}
	return outcomeFromNative(res), nil
}

func runEmulated(cls *contractclass.EmulatedClass, call *callinfo.CallEntryPoint, gas uint64, h *syscall.SyscallHandler, ectx *EntryPointExecutionContext) (*Outcome, error) {
	vc := ectx.TxContext.Block.Constants
	entries := make(map[types.Felt]uint64)
	for _, ep := range cls.EntryPoints()[call.EntryPointType] {
		entries[ep.Selector] = ep.Offset
	}

	vm := emu.NewVirtualMachine(cls.Program, entries, vc.Gas.StepGasCost)
	costs := vc.BuiltinCosts()
	if err := vm.CallContract(call.EntryPointSelector, gas, call.Calldata, &costs); err != nil {
		return nil, err
	}
	trace, err := vm.RunWithTrace(bridge.NewEmuAdapter(h))
	if err != nil {
		return nil, err
	}
	res, err := emu.ContractExecutionResultFromTrace(trace)
	if err != nil {
		return nil, err
	}
	return outcomeFromEmu(res), nil
}

func runInterpreted(cls *contractclass.InterpretedClass, ep contractclass.EntryPoint, call *callinfo.CallEntryPoint, gas uint64, h *syscall.SyscallHandler, ectx *EntryPointExecutionContext) (*Outcome, error) {
	res, err := casm.Run(cls.Program, ep.Offset, call.Calldata, casm.Config{
		Mode:     casm.ModeSteps,
		Gas:      gas,
		MaxSteps: ectx.TxContext.Block.Constants.MaxSteps(ectx.Validate),
		Syscalls: bridge.NewStepAdapter(h),
	})
	if err != nil {
		return nil, err
	}
	return outcomeFromSteps(res), nil
}

func outcomeFromNative(res *native.ContractExecutionResult) *Outcome {
	return &Outcome{
		RemainingGas:    res.RemainingGas,
		Failed:          res.FailureFlag,
		Retdata:         res.ReturnValues,
		ErrorMsg:        res.ErrorMsg,
		Builtins:        callinfo.BuiltinCounterMap(res.BuiltinStats),
		TrackedResource: callinfo.SierraGas,
	}
}

func outcomeFromEmu(res *emu.ContractExecutionResult) *Outcome {
	return &Outcome{
		RemainingGas:    res.RemainingGas,
		Failed:          res.FailureFlag,
		Retdata:         res.ReturnValues,
		ErrorMsg:        res.ErrorMsg,
		Builtins:        callinfo.BuiltinCounterMap(res.BuiltinStats),
		TrackedResource: callinfo.SierraGas,
	}
}

func outcomeFromSteps(res *casm.Result) *Outcome {
	out := &Outcome{
		RemainingGas:    res.RemainingGas,
		Failed:          res.Failed,
		Retdata:         res.Retdata,
		Steps:           res.Steps,
		Builtins:        callinfo.BuiltinCounterMap(res.Builtins),
		VisitedPCs:      res.VisitedPCs,
		TrackedResource: callinfo.CairoSteps,
	}
	if res.Failed {
		out.ErrorMsg = types.DecodeFeltsAsStr(res.Retdata)
	}
	return out
}
