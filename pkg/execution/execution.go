// Package execution runs contract entry points.
//
// ExecuteEntryPoint resolves the class and entry point of a call, takes the
// entry point budget, binds a syscall handler to the state and hands the call
// to the backend the class was compiled for:
// - interpreted classes run on the step-metered interpreter
// - native classes run their compiled entry function
// - emulated classes run on a fresh emulator instance
//
// The raw backend outcome and the effects collected by the syscall handler
// are then assembled into a CallInfo.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/state"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
)

// Execution errors.
var (
	// ErrEntryPointNotFound is returned before execution when the class has
	// no entry point for the selector.
	ErrEntryPointNotFound = contractclass.ErrEntryPointNotFound

	// ErrInsufficientEntryPointGas is returned before execution when the
	// initial gas does not cover the entry point budget.
	ErrInsufficientEntryPointGas = errors.New("insufficient gas for entry point initial budget")

	// ErrRecursionDepthExceeded is returned when nested calls go deeper than
	// the versioned limit.
	ErrRecursionDepthExceeded = errors.New("recursion depth exceeded")

	// ErrMalformedReturnData is returned when a backend reports more gas than
	// it was given.
	ErrMalformedReturnData = errors.New("malformed return data")

	// ErrNativeUnexpected wraps a fault of the backend itself.
	ErrNativeUnexpected = errors.New("unexpected backend error")

	// ErrNativeUnrecoverable wraps a fatal error raised by a syscall during
	// the run.
	ErrNativeUnrecoverable = errors.New("unrecoverable backend error")
)

const tracerName = "github.com/fortiblox/stratus-exec/pkg/execution"

// EntryPointExecutionContext carries what a call tree shares: the
// transaction, the execution mode, the call counter and the current depth.
// Nested calls get a child context one level deeper.
type EntryPointExecutionContext struct {
	TxContext *blockctx.TransactionContext
	// Validate runs calls in account validation mode.
	Validate bool
	Logger   log.Logger
	Tracer   trace.Tracer

	depth       uint64
	callCounter *uint64
}

// NewEntryPointExecutionContext creates the context of a top-level call.
func NewEntryPointExecutionContext(tx *blockctx.TransactionContext, validate bool) *EntryPointExecutionContext {
	return &EntryPointExecutionContext{
		TxContext:   tx,
		Validate:    validate,
		Logger:      log.New("pkg", "execution"),
		Tracer:      otel.Tracer(tracerName),
		callCounter: new(uint64),
	}
}

// Depth returns the nesting level of calls run with this context.
func (c *EntryPointExecutionContext) Depth() uint64 { return c.depth }

// CallsStarted returns the number of calls started in the tree so far.
func (c *EntryPointExecutionContext) CallsStarted() uint64 { return *c.callCounter }

func (c *EntryPointExecutionContext) child() *EntryPointExecutionContext {
	cc := *c
	cc.depth++
	return &cc
}

func (c *EntryPointExecutionContext) nextCallCounter() uint64 {
	n := *c.callCounter
	*c.callCounter++
	return n
}

// resolve finds the class that runs call.
func resolve(call *callinfo.CallEntryPoint, st state.State) (types.ClassHash, contractclass.Artifact, error) {
	classHash := types.Zero
	if call.ClassHash != nil {
		classHash = *call.ClassHash
	} else {
		h, err := st.GetClassHashAt(call.StorageAddress)
		if err != nil {
			return classHash, nil, err
		}
		classHash = h
	}
	artifact, err := st.GetCompiledClass(classHash)
	if err != nil {
		return classHash, nil, fmt.Errorf("class %s: %w", classHash, err)
	}
	return classHash, artifact, nil
}

// ExecuteEntryPoint runs call against st.
//
// Contract failures are not errors: they come back as a CallInfo with
// Execution.Failed set and the state untouched. An error means the call
// never started (ErrEntryPointNotFound, ErrInsufficientEntryPointGas) or
// that execution itself broke; no CallInfo is produced in either case.
func ExecuteEntryPoint(ctx context.Context, call *callinfo.CallEntryPoint, st state.State, ectx *EntryPointExecutionContext) (*callinfo.CallInfo, error) {
	vc := ectx.TxContext.Block.Constants

	classHash, artifact, err := resolve(call, st)
	if err != nil {
		return nil, err
	}
	ep, err := artifact.EntryPoint(call.EntryPointType, call.EntryPointSelector)
	if err != nil {
		return nil, err
	}

	inner := ectx.child()
	if inner.depth > vc.Limits.MaxRecursionDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrRecursionDepthExceeded, inner.depth)
	}

	budget := vc.Gas.EntryPointInitialBudget
	if call.InitialGas < budget {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientEntryPointGas, call.InitialGas, budget)
	}
	gas := call.InitialGas - budget

	counter := ectx.nextCallCounter()
	ctx, span := ectx.Tracer.Start(ctx, "execute_entry_point")
	defer span.End()
	span.SetAttributes(
		attribute.String("class.hash", classHash.String()),
		attribute.String("class.kind", artifact.Kind().String()),
		attribute.String("entry_point.selector", call.EntryPointSelector.String()),
		attribute.String("entry_point.type", call.EntryPointType.String()),
		attribute.Int64("call.depth", int64(inner.depth)),
	)

	// Writes only reach st once the call succeeded.
	child := state.NewCachedState(st)
	h := syscall.NewSyscallHandler(child, call, syscall.Env{
		TxContext: ectx.TxContext,
		Executor:  &innerExecutor{ctx: ctx, ectx: inner},
		Validate:  ectx.Validate,
		Logger:    ectx.Logger,
	})

	logger := ectx.Logger.New("class", classHash, "selector", call.EntryPointSelector, "backend", artifact.Kind())
	logger.Debug("Executing entry point", "gas", gas, "depth", inner.depth)

	start := time.Now()
	out, err := runBackend(artifact, ep, call, gas, h, ectx)
	elapsed := time.Since(start)

	if uerr := h.UnrecoverableError(); uerr != nil {
		err = fmt.Errorf("%w: %w", ErrNativeUnrecoverable, uerr)
	} else if err != nil {
		err = fmt.Errorf("%w: %w", ErrNativeUnexpected, err)
	}
	if err == nil && out.RemainingGas > gas {
		err = fmt.Errorf("%w: remaining gas %d exceeds %d", ErrMalformedReturnData, out.RemainingGas, gas)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Entry point execution aborted", "err", err, "elapsed", elapsed)
		return nil, err
	}
	out.Duration = elapsed

	ci, err := AssembleCallInfo(call, out, EffectsFromHandler(h), vc, artifact.SegmentLengths())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ci.CallCounter = counter

	if !ci.Execution.Failed {
		if err := child.Commit(); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Bool("call.failed", ci.Execution.Failed),
		attribute.Int64("call.gas_consumed", int64(ci.Execution.GasConsumed)),
	)
	logger.Debug("Entry point executed", "failed", ci.Execution.Failed, "gas", ci.Execution.GasConsumed,
		"inner", len(ci.InnerCalls), "elapsed", elapsed)
	return ci, nil
}

// innerExecutor runs the nested calls of one call. Pre-execution errors of
// the nested call are visible to the caller as reverts.
type innerExecutor struct {
	ctx  context.Context
	ectx *EntryPointExecutionContext
}

func (e *innerExecutor) ExecuteInner(call *callinfo.CallEntryPoint, st state.State) (*callinfo.CallInfo, error) {
	ci, err := ExecuteEntryPoint(e.ctx, call, st, e.ectx)
	switch {
	case err == nil:
		return ci, nil
	case errors.Is(err, ErrEntryPointNotFound):
		return nil, syscall.NewRevert(syscall.MsgEntryPointNotFound)
	case errors.Is(err, ErrInsufficientEntryPointGas):
		return nil, syscall.NewRevert(syscall.MsgOutOfGas)
	case call.ClassHash != nil && errors.Is(err, state.ErrClassNotDeclared):
		return nil, syscall.Revertf("Class with hash %s is not declared.", *call.ClassHash)
	}
	return nil, err
}
