package syscall

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/state"
)

// InnerExecutor runs nested calls on behalf of the handler. Failures the
// caller may observe come back as a *Revert; any other error is fatal.
type InnerExecutor interface {
	ExecuteInner(call *callinfo.CallEntryPoint, st state.State) (*callinfo.CallInfo, error)
}

// Env is what a handler needs besides the call itself.
type Env struct {
	TxContext *blockctx.TransactionContext
	Executor  InnerExecutor
	// Validate restricts the syscalls available to account validation.
	Validate bool
	Logger   log.Logger
}

// constructorSelector is the selector of every constructor entry point.
var constructorSelector = types.SelectorFromName("constructor")

// SyscallHandler serves the syscalls of a single call. It is not safe for
// concurrent use; each nested call gets its own handler.
type SyscallHandler struct {
	state     state.State
	call      *callinfo.CallEntryPoint
	txCtx     *blockctx.TransactionContext
	constants *constants.VersionedConstants
	executor  InnerExecutor
	validate  bool
	log       log.Logger

	Events         []callinfo.OrderedEvent
	L2ToL1Messages []callinfo.OrderedL2ToL1Message
	InnerCalls     []*callinfo.CallInfo
	Access         callinfo.StorageAccessTracker
	Usage          callinfo.SyscallUsageMap

	unrecoverable error
}

var _ Handler = (*SyscallHandler)(nil)

// NewSyscallHandler creates the handler for call running against st.
func NewSyscallHandler(st state.State, call *callinfo.CallEntryPoint, env Env) *SyscallHandler {
	logger := env.Logger
	if logger == nil {
		logger = log.New("pkg", "syscall")
	}
	return &SyscallHandler{
		state:     st,
		call:      call,
		txCtx:     env.TxContext,
		constants: env.TxContext.Block.Constants,
		executor:  env.Executor,
		validate:  env.Validate,
		log:       logger,
		Access:    callinfo.NewStorageAccessTracker(),
		Usage:     callinfo.SyscallUsageMap{},
	}
}

// UnrecoverableError returns the first fatal error a syscall hit. Backends
// that cannot propagate errors through the contract report it here.
func (h *SyscallHandler) UnrecoverableError() error {
	return h.unrecoverable
}

// charge takes the syscall's gas and records its usage.
func (h *SyscallHandler) charge(s Selector, linearFactor uint64, remainingGas *uint64) error {
	cost := h.constants.SyscallGasCost(s.Name())
	if *remainingGas < cost {
		return NewRevert(MsgOutOfGas)
	}
	*remainingGas -= cost
	h.Usage.Record(s.Name(), linearFactor)
	return nil
}

// check passes reverts through and latches anything else as unrecoverable.
func (h *SyscallHandler) check(s Selector, err error) error {
	if err == nil {
		return nil
	}
	var revert *Revert
	if errors.As(err, &revert) {
		h.log.Debug("Syscall reverted", "syscall", s, "reason", types.DecodeFeltsAsStr(revert.Data))
		return err
	}
	if h.unrecoverable == nil {
		h.unrecoverable = fmt.Errorf("%s: %w", s, err)
		h.log.Warn("Syscall failed", "syscall", s, "err", err)
	}
	return h.unrecoverable
}

// GetBlockHash returns the hash of an old enough block.
func (h *SyscallHandler) GetBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error) {
	hash, err := h.getBlockHash(blockNumber, remainingGas)
	return hash, h.check(GetBlockHash, err)
}

func (h *SyscallHandler) getBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error) {
	if err := h.charge(GetBlockHash, 0, remainingGas); err != nil {
		return types.Zero, err
	}
	if h.validate {
		return types.Zero, Revertf("Unauthorized syscall %s in execution mode Validate.", GetBlockHash.Name())
	}
	current := h.txCtx.Block.Block.BlockNumber
	lookback := h.constants.Limits.BlockHashLookback
	if current < lookback || blockNumber > current-lookback {
		return types.Zero, NewRevert(MsgBlockNumberOutOfRange)
	}

	hash, err := h.state.GetStorageAt(types.BlockHashContractAddress, types.FeltFromUint64(blockNumber))
	if err != nil {
		return types.Zero, err
	}
	h.Access.AccessedBlocks.Add(blockNumber)
	h.Access.ReadBlockHashValues = append(h.Access.ReadBlockHashValues, hash)
	return hash, nil
}

func (h *SyscallHandler) blockInfo() BlockInfo {
	b := h.txCtx.Block.Block
	return BlockInfo{
		BlockNumber:      b.BlockNumber,
		BlockTimestamp:   b.BlockTimestamp,
		SequencerAddress: b.SequencerAddress,
	}
}

// GetExecutionInfo returns the v1 execution info. Current-version
// transactions report a zero max fee.
func (h *SyscallHandler) GetExecutionInfo(remainingGas *uint64) (ExecutionInfo, error) {
	if err := h.charge(GetExecutionInfo, 0, remainingGas); err != nil {
		return ExecutionInfo{}, h.check(GetExecutionInfo, err)
	}
	tx := &h.txCtx.Tx
	info := ExecutionInfo{
		BlockInfo: h.blockInfo(),
		TxInfo: TxInfo{
			Version:                tx.Version,
			AccountContractAddress: tx.SenderAddress,
			Signature:              tx.Signature,
			TransactionHash:        tx.TransactionHash,
			ChainID:                h.txCtx.Block.Chain.ChainID,
			Nonce:                  tx.Nonce,
		},
		CallerAddress:      h.call.CallerAddress,
		ContractAddress:    h.call.StorageAddress,
		EntryPointSelector: h.call.EntryPointSelector,
	}
	if tx.IsDeprecated() {
		info.TxInfo.MaxFee = tx.MaxFee
	}
	return info, nil
}

// GetExecutionInfoV2 returns the v2 execution info.
func (h *SyscallHandler) GetExecutionInfoV2(remainingGas *uint64) (ExecutionInfoV2, error) {
	if err := h.charge(GetExecutionInfoV2, 0, remainingGas); err != nil {
		return ExecutionInfoV2{}, h.check(GetExecutionInfoV2, err)
	}
	tx := &h.txCtx.Tx
	info := ExecutionInfoV2{
		BlockInfo: h.blockInfo(),
		TxInfo: TxV2Info{
			Version:                   tx.Version,
			AccountContractAddress:    tx.SenderAddress,
			Signature:                 tx.Signature,
			TransactionHash:           tx.TransactionHash,
			ChainID:                   h.txCtx.Block.Chain.ChainID,
			Nonce:                     tx.Nonce,
			ResourceBounds:            tx.ExecutionResourceBounds(),
			PaymasterData:             tx.PaymasterData,
			NonceDataAvailabilityMode: tx.NonceDataAvailabilityMode,
			FeeDataAvailabilityMode:   tx.FeeDataAvailabilityMode,
			AccountDeploymentData:     tx.AccountDeploymentData,
		},
		CallerAddress:      h.call.CallerAddress,
		ContractAddress:    h.call.StorageAddress,
		EntryPointSelector: h.call.EntryPointSelector,
	}
	if tx.IsDeprecated() {
		info.TxInfo.MaxFee = tx.MaxFee
	} else {
		info.TxInfo.Tip.SetUint64(tx.Tip)
	}
	return info, nil
}

// Deploy deploys classHash at an address derived from the salt, the class,
// the constructor calldata and the deployer, then runs the constructor.
func (h *SyscallHandler) Deploy(classHash types.ClassHash, contractAddressSalt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.ContractAddress, []types.Felt, error) {
	addr, retdata, err := h.deploy(classHash, contractAddressSalt, calldata, deployFromZero, remainingGas)
	return addr, retdata, h.check(Deploy, err)
}

func (h *SyscallHandler) deploy(classHash types.ClassHash, salt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.ContractAddress, []types.Felt, error) {
	if err := h.charge(Deploy, uint64(len(calldata)), remainingGas); err != nil {
		return types.Zero, nil, err
	}
	deployer := h.call.StorageAddress
	if deployFromZero {
		deployer = types.ZeroAddress
	}
	address := CalculateContractAddress(salt, classHash, calldata, deployer)

	artifact, err := h.state.GetCompiledClass(classHash)
	if errors.Is(err, state.ErrClassNotDeclared) {
		return types.Zero, nil, Revertf("Class with hash %s is not declared.", classHash)
	} else if err != nil {
		return types.Zero, nil, err
	}
	current, err := h.state.GetClassHashAt(address)
	if err != nil {
		return types.Zero, nil, err
	}
	if !current.IsZero() {
		return types.Zero, nil, NewRevert(MsgContractAddressUnavailable)
	}

	// The deployment only sticks together with its constructor.
	child := state.NewCachedState(h.state)
	if err := child.SetClassHashAt(address, classHash); err != nil {
		return types.Zero, nil, err
	}
	h.Access.AccessedContractAddresses.Add(address)

	if !artifact.HasEntryPoints(contractclass.Constructor) {
		if len(calldata) > 0 {
			return types.Zero, nil, NewRevert(MsgInvalidCalldataLength)
		}
		return address, nil, child.Commit()
	}

	ctor := &callinfo.CallEntryPoint{
		CodeAddress:        &address,
		EntryPointType:     contractclass.Constructor,
		EntryPointSelector: constructorSelector,
		Calldata:           calldata,
		StorageAddress:     address,
		CallerAddress:      deployer,
		CallType:           callinfo.Call,
		InitialGas:         *remainingGas,
	}
	retdata, err := h.executeInner(ctor, child, remainingGas)
	if err != nil {
		return types.Zero, nil, err
	}
	return address, retdata, child.Commit()
}

// ReplaceClass swaps the class of the running contract.
func (h *SyscallHandler) ReplaceClass(classHash types.ClassHash, remainingGas *uint64) error {
	return h.check(ReplaceClass, h.replaceClass(classHash, remainingGas))
}

func (h *SyscallHandler) replaceClass(classHash types.ClassHash, remainingGas *uint64) error {
	if err := h.charge(ReplaceClass, 0, remainingGas); err != nil {
		return err
	}
	if _, err := h.state.GetCompiledClass(classHash); errors.Is(err, state.ErrClassNotDeclared) {
		return Revertf("Class with hash %s is not declared.", classHash)
	} else if err != nil {
		return err
	}
	return h.state.SetClassHashAt(h.call.StorageAddress, classHash)
}

// LibraryCall runs an entry point of classHash in the current storage.
func (h *SyscallHandler) LibraryCall(classHash types.ClassHash, functionSelector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := h.libraryCall(classHash, functionSelector, calldata, remainingGas)
	return retdata, h.check(LibraryCall, err)
}

func (h *SyscallHandler) libraryCall(classHash types.ClassHash, selector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	if err := h.charge(LibraryCall, uint64(len(calldata)), remainingGas); err != nil {
		return nil, err
	}
	call := &callinfo.CallEntryPoint{
		ClassHash:          &classHash,
		EntryPointType:     contractclass.External,
		EntryPointSelector: selector,
		Calldata:           calldata,
		StorageAddress:     h.call.StorageAddress,
		CallerAddress:      h.call.CallerAddress,
		CallType:           callinfo.Delegate,
		InitialGas:         *remainingGas,
	}
	return h.executeInner(call, h.state, remainingGas)
}

// CallContract runs an entry point of the contract deployed at address.
func (h *SyscallHandler) CallContract(address types.ContractAddress, entryPointSelector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := h.callContract(address, entryPointSelector, calldata, remainingGas)
	return retdata, h.check(CallContract, err)
}

func (h *SyscallHandler) callContract(address types.ContractAddress, selector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	if err := h.charge(CallContract, uint64(len(calldata)), remainingGas); err != nil {
		return nil, err
	}
	if h.validate && address != h.call.StorageAddress {
		return nil, Revertf("Unauthorized syscall %s in execution mode Validate.", CallContract.Name())
	}
	classHash, err := h.state.GetClassHashAt(address)
	if err != nil {
		return nil, err
	}
	h.Access.AccessedContractAddresses.Add(address)
	h.Access.ReadClassHashValues = append(h.Access.ReadClassHashValues, classHash)
	if classHash.IsZero() {
		return nil, NewRevert(MsgContractNotDeployed)
	}

	call := &callinfo.CallEntryPoint{
		CodeAddress:        &address,
		EntryPointType:     contractclass.External,
		EntryPointSelector: selector,
		Calldata:           calldata,
		StorageAddress:     address,
		CallerAddress:      h.call.StorageAddress,
		CallType:           callinfo.Call,
		InitialGas:         *remainingGas,
	}
	return h.executeInner(call, h.state, remainingGas)
}

// executeInner runs call, records it and charges the gas it consumed. A
// failed call reverts with its retdata followed by ENTRYPOINT_FAILED.
func (h *SyscallHandler) executeInner(call *callinfo.CallEntryPoint, st state.State, remainingGas *uint64) ([]types.Felt, error) {
	if h.executor == nil {
		return nil, errors.New("no inner executor")
	}
	ci, err := h.executor.ExecuteInner(call, st)
	if err != nil {
		return nil, err
	}
	h.InnerCalls = append(h.InnerCalls, ci)

	consumed := ci.Execution.GasConsumed
	if consumed > *remainingGas {
		consumed = *remainingGas
	}
	*remainingGas -= consumed

	if ci.Execution.Failed {
		data := make([]types.Felt, 0, len(ci.Execution.Retdata)+1)
		data = append(data, ci.Execution.Retdata...)
		data = append(data, types.MustShortString(MsgEntryPointFailed))
		return nil, &Revert{Data: data}
	}
	return ci.Execution.Retdata, nil
}

// StorageRead reads a slot of the running contract.
func (h *SyscallHandler) StorageRead(addressDomain uint32, key types.StorageKey, remainingGas *uint64) (types.Felt, error) {
	v, err := h.storageRead(addressDomain, key, remainingGas)
	return v, h.check(StorageRead, err)
}

func (h *SyscallHandler) storageRead(addressDomain uint32, key types.StorageKey, remainingGas *uint64) (types.Felt, error) {
	if err := h.charge(StorageRead, 0, remainingGas); err != nil {
		return types.Zero, err
	}
	if addressDomain != 0 {
		return types.Zero, NewRevert(MsgUnsupportedAddressDomain)
	}
	v, err := h.state.GetStorageAt(h.call.StorageAddress, key)
	if err != nil {
		return types.Zero, err
	}
	h.Access.AccessedStorageKeys.Add(key)
	h.Access.StorageReadValues = append(h.Access.StorageReadValues, v)
	return v, nil
}

// StorageWrite writes a slot of the running contract.
func (h *SyscallHandler) StorageWrite(addressDomain uint32, key types.StorageKey, value types.Felt, remainingGas *uint64) error {
	return h.check(StorageWrite, h.storageWrite(addressDomain, key, value, remainingGas))
}

func (h *SyscallHandler) storageWrite(addressDomain uint32, key types.StorageKey, value types.Felt, remainingGas *uint64) error {
	if err := h.charge(StorageWrite, 0, remainingGas); err != nil {
		return err
	}
	if addressDomain != 0 {
		return NewRevert(MsgUnsupportedAddressDomain)
	}
	h.Access.AccessedStorageKeys.Add(key)
	return h.state.SetStorageAt(h.call.StorageAddress, key, value)
}

// EmitEvent appends an event to the call.
func (h *SyscallHandler) EmitEvent(keys, data []types.Felt, remainingGas *uint64) error {
	return h.check(EmitEvent, h.emitEvent(keys, data, remainingGas))
}

func (h *SyscallHandler) emitEvent(keys, data []types.Felt, remainingGas *uint64) error {
	if err := h.charge(EmitEvent, 0, remainingGas); err != nil {
		return err
	}
	limits := h.constants.EventLimits
	if uint64(len(keys)) > limits.MaxKeysLength {
		return Revertf("Exceeded the maximum keys length, keys length: %d, max keys length: %d.", len(keys), limits.MaxKeysLength)
	}
	if uint64(len(data)) > limits.MaxDataLength {
		return Revertf("Exceeded the maximum data length, data length: %d, max data length: %d.", len(data), limits.MaxDataLength)
	}
	if uint64(len(h.Events)) >= limits.MaxNEmittedEvents {
		return Revertf("Exceeded the maximum number of events, number events: %d, max number events: %d.", len(h.Events)+1, limits.MaxNEmittedEvents)
	}
	h.Events = append(h.Events, callinfo.OrderedEvent{
		Order: uint64(len(h.Events)),
		Keys:  keys,
		Data:  data,
	})
	return nil
}

// l1AddressBound is 2^160.
var l1AddressBound = func() types.Felt {
	var b [32]byte
	b[11] = 1
	return types.FeltFromBytes(b[:])
}()

// SendMessageToL1 appends an L2 to L1 message to the call.
func (h *SyscallHandler) SendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error {
	return h.check(SendMessageToL1, h.sendMessageToL1(toAddress, payload, remainingGas))
}

func (h *SyscallHandler) sendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error {
	if err := h.charge(SendMessageToL1, 0, remainingGas); err != nil {
		return err
	}
	if toAddress.Cmp(l1AddressBound) >= 0 {
		return NewRevert(MsgInvalidL1Address)
	}
	h.L2ToL1Messages = append(h.L2ToL1Messages, callinfo.OrderedL2ToL1Message{
		Order:     uint64(len(h.L2ToL1Messages)),
		ToAddress: toAddress,
		Payload:   payload,
	})
	return nil
}

// Keccak hashes input, a sequence of padded 17-word blocks. Each block costs
// one keccak round on top of the base cost.
func (h *SyscallHandler) Keccak(input []uint64, remainingGas *uint64) (uint256.Int, error) {
	v, err := h.keccak(input, remainingGas)
	return v, h.check(Keccak, err)
}

func (h *SyscallHandler) keccak(input []uint64, remainingGas *uint64) (uint256.Int, error) {
	if len(input)%KeccakRateWords != 0 {
		return uint256.Int{}, NewRevert(MsgInvalidInputLength)
	}
	rounds := uint64(len(input) / KeccakRateWords)
	if err := h.charge(Keccak, rounds, remainingGas); err != nil {
		return uint256.Int{}, err
	}
	roundCost := rounds * h.constants.Gas.KeccakRoundCostGasCost
	if *remainingGas < roundCost {
		return uint256.Int{}, NewRevert(MsgOutOfGas)
	}
	*remainingGas -= roundCost
	return KeccakPadded(input)
}

// Secp256k1New builds a point from its coordinates; nil means not on curve.
func (h *SyscallHandler) Secp256k1New(x, y uint256.Int, remainingGas *uint64) (*Secp256Point, error) {
	if err := h.charge(Secp256k1New, 0, remainingGas); err != nil {
		return nil, h.check(Secp256k1New, err)
	}
	p, err := K1.New(x, y)
	return p, h.check(Secp256k1New, err)
}

// Secp256k1Add adds two points.
func (h *SyscallHandler) Secp256k1Add(p0, p1 Secp256Point, remainingGas *uint64) (Secp256Point, error) {
	if err := h.charge(Secp256k1Add, 0, remainingGas); err != nil {
		return Secp256Point{}, h.check(Secp256k1Add, err)
	}
	p, err := K1.Add(p0, p1)
	return p, h.check(Secp256k1Add, err)
}

// Secp256k1Mul multiplies a point by a scalar.
func (h *SyscallHandler) Secp256k1Mul(p Secp256Point, m uint256.Int, remainingGas *uint64) (Secp256Point, error) {
	if err := h.charge(Secp256k1Mul, 0, remainingGas); err != nil {
		return Secp256Point{}, h.check(Secp256k1Mul, err)
	}
	r, err := K1.Mul(p, m)
	return r, h.check(Secp256k1Mul, err)
}

// Secp256k1GetPointFromX recovers a point from x and the parity of y.
func (h *SyscallHandler) Secp256k1GetPointFromX(x uint256.Int, yParity bool, remainingGas *uint64) (*Secp256Point, error) {
	if err := h.charge(Secp256k1GetPointFromX, 0, remainingGas); err != nil {
		return nil, h.check(Secp256k1GetPointFromX, err)
	}
	p, err := K1.PointFromX(x, yParity)
	return p, h.check(Secp256k1GetPointFromX, err)
}

// Secp256k1GetXY returns the coordinates of a point.
func (h *SyscallHandler) Secp256k1GetXY(p Secp256Point, remainingGas *uint64) (uint256.Int, uint256.Int, error) {
	if err := h.charge(Secp256k1GetXY, 0, remainingGas); err != nil {
		return uint256.Int{}, uint256.Int{}, h.check(Secp256k1GetXY, err)
	}
	return p.X, p.Y, nil
}

// Secp256r1New builds a point from its coordinates; nil means not on curve.
func (h *SyscallHandler) Secp256r1New(x, y uint256.Int, remainingGas *uint64) (*Secp256Point, error) {
	if err := h.charge(Secp256r1New, 0, remainingGas); err != nil {
		return nil, h.check(Secp256r1New, err)
	}
	p, err := R1.New(x, y)
	return p, h.check(Secp256r1New, err)
}

// Secp256r1Add adds two points.
func (h *SyscallHandler) Secp256r1Add(p0, p1 Secp256Point, remainingGas *uint64) (Secp256Point, error) {
	if err := h.charge(Secp256r1Add, 0, remainingGas); err != nil {
		return Secp256Point{}, h.check(Secp256r1Add, err)
	}
	p, err := R1.Add(p0, p1)
	return p, h.check(Secp256r1Add, err)
}

// Secp256r1Mul multiplies a point by a scalar.
func (h *SyscallHandler) Secp256r1Mul(p Secp256Point, m uint256.Int, remainingGas *uint64) (Secp256Point, error) {
	if err := h.charge(Secp256r1Mul, 0, remainingGas); err != nil {
		return Secp256Point{}, h.check(Secp256r1Mul, err)
	}
	r, err := R1.Mul(p, m)
	return r, h.check(Secp256r1Mul, err)
}

// Secp256r1GetPointFromX recovers a point from x and the parity of y.
func (h *SyscallHandler) Secp256r1GetPointFromX(x uint256.Int, yParity bool, remainingGas *uint64) (*Secp256Point, error) {
	if err := h.charge(Secp256r1GetPointFromX, 0, remainingGas); err != nil {
		return nil, h.check(Secp256r1GetPointFromX, err)
	}
	p, err := R1.PointFromX(x, yParity)
	return p, h.check(Secp256r1GetPointFromX, err)
}

// Secp256r1GetXY returns the coordinates of a point.
func (h *SyscallHandler) Secp256r1GetXY(p Secp256Point, remainingGas *uint64) (uint256.Int, uint256.Int, error) {
	if err := h.charge(Secp256r1GetXY, 0, remainingGas); err != nil {
		return uint256.Int{}, uint256.Int{}, h.check(Secp256r1GetXY, err)
	}
	return p.X, p.Y, nil
}

// Sha256ProcessBlock applies the SHA-256 compression function to state.
func (h *SyscallHandler) Sha256ProcessBlock(st *[8]uint32, block *[16]uint32, remainingGas *uint64) error {
	if err := h.charge(Sha256ProcessBlock, 0, remainingGas); err != nil {
		return h.check(Sha256ProcessBlock, err)
	}
	Sha256Compress(st, block)
	return nil
}
