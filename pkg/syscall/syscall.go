// Package syscall implements the canonical syscall surface contracts call
// into: storage, events, messages, nested calls, deployment, execution info
// and the cryptographic primitives.
//
// Backends never call this package directly; each reaches it through an
// adapter in package bridge that converts its own value shapes.
package syscall

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
)

// Selector identifies a syscall.
type Selector uint8

// Syscalls.
const (
	CallContract Selector = iota
	Deploy
	EmitEvent
	GetBlockHash
	GetExecutionInfo
	GetExecutionInfoV2
	Keccak
	LibraryCall
	ReplaceClass
	SendMessageToL1
	StorageRead
	StorageWrite
	Secp256k1Add
	Secp256k1GetPointFromX
	Secp256k1GetXY
	Secp256k1Mul
	Secp256k1New
	Secp256r1Add
	Secp256r1GetPointFromX
	Secp256r1GetXY
	Secp256r1Mul
	Secp256r1New
	Sha256ProcessBlock

	numSelectors
)

type selectorInfo struct {
	// name keys the versioned constants tables.
	name string
	// wire is the short string programs pass to SYSCALL.
	wire string
}

var selectors = [numSelectors]selectorInfo{
	CallContract:           {"call_contract", "CallContract"},
	Deploy:                 {"deploy", "Deploy"},
	EmitEvent:              {"emit_event", "EmitEvent"},
	GetBlockHash:           {"get_block_hash", "GetBlockHash"},
	GetExecutionInfo:       {"get_execution_info", "GetExecutionInfo"},
	GetExecutionInfoV2:     {"get_execution_info", "GetExecutionInfoV2"},
	Keccak:                 {"keccak", "Keccak"},
	LibraryCall:            {"library_call", "LibraryCall"},
	ReplaceClass:           {"replace_class", "ReplaceClass"},
	SendMessageToL1:        {"send_message_to_l1", "SendMessageToL1"},
	StorageRead:            {"storage_read", "StorageRead"},
	StorageWrite:           {"storage_write", "StorageWrite"},
	Secp256k1Add:           {"secp256k1_add", "Secp256k1Add"},
	Secp256k1GetPointFromX: {"secp256k1_get_point_from_x", "Secp256k1GetPointFromX"},
	Secp256k1GetXY:         {"secp256k1_get_xy", "Secp256k1GetXy"},
	Secp256k1Mul:           {"secp256k1_mul", "Secp256k1Mul"},
	Secp256k1New:           {"secp256k1_new", "Secp256k1New"},
	Secp256r1Add:           {"secp256r1_add", "Secp256r1Add"},
	Secp256r1GetPointFromX: {"secp256r1_get_point_from_x", "Secp256r1GetPointFromX"},
	Secp256r1GetXY:         {"secp256r1_get_xy", "Secp256r1GetXy"},
	Secp256r1Mul:           {"secp256r1_mul", "Secp256r1Mul"},
	Secp256r1New:           {"secp256r1_new", "Secp256r1New"},
	Sha256ProcessBlock:     {"sha256_process_block", "Sha256ProcessBlock"},
}

var byWire = func() map[types.Felt]Selector {
	m := make(map[types.Felt]Selector, numSelectors)
	for s := Selector(0); s < numSelectors; s++ {
		m[types.MustShortString(selectors[s].wire)] = s
	}
	return m
}()

// Name returns the constants key of the syscall.
func (s Selector) Name() string {
	if s < numSelectors {
		return selectors[s].name
	}
	return fmt.Sprintf("syscall(%d)", uint8(s))
}

// Felt returns the selector programs pass to SYSCALL.
func (s Selector) Felt() types.Felt {
	return types.MustShortString(selectors[s].wire)
}

func (s Selector) String() string {
	if s < numSelectors {
		return selectors[s].wire
	}
	return s.Name()
}

// SelectorFromFelt resolves a wire selector.
func SelectorFromFelt(f types.Felt) (Selector, bool) {
	s, ok := byWire[f]
	return s, ok
}

// Revert messages.
const (
	MsgOutOfGas                   = "Out of gas"
	MsgEntryPointFailed           = "ENTRYPOINT_FAILED"
	MsgEntryPointNotFound         = "ENTRYPOINT_NOT_FOUND"
	MsgBlockNumberOutOfRange      = "Block number out of range"
	MsgInvalidInputLength         = "Invalid input length"
	MsgInvalidArgument            = "Invalid argument"
	MsgUnsupportedAddressDomain   = "Unsupported address domain"
	MsgContractAddressUnavailable = "CONTRACT_ADDRESS_UNAVAILABLE"
	MsgContractNotDeployed        = "CONTRACT_NOT_DEPLOYED"
	MsgInvalidCalldataLength      = "Invalid calldata length"
	MsgInvalidKeccakPadding       = "Invalid keccak padding"
	MsgInvalidL1Address           = "Invalid L1 address"
)

// Revert is a syscall failure visible to the calling contract. Any other
// error returned by a Handler is fatal to the whole execution.
type Revert struct {
	Data []types.Felt
}

func (r *Revert) Error() string {
	return fmt.Sprintf("syscall reverted: %s", types.DecodeFeltsAsStr(r.Data))
}

// NewRevert builds a Revert carrying msg.
func NewRevert(msg string) *Revert {
	return &Revert{Data: types.EncodeStrAsFelts(msg)}
}

// Revertf builds a Revert from a format string.
func Revertf(format string, args ...interface{}) *Revert {
	return NewRevert(fmt.Sprintf(format, args...))
}

// Secp256Point is an affine point on either supported curve. The point at
// infinity has IsInfinity set and zero coordinates.
type Secp256Point struct {
	X, Y       uint256.Int
	IsInfinity bool
}

// BlockInfo describes the block being executed.
type BlockInfo struct {
	BlockNumber      uint64
	BlockTimestamp   uint64
	SequencerAddress types.Felt
}

// TxInfo is the v1 transaction info.
type TxInfo struct {
	Version                types.Felt
	AccountContractAddress types.ContractAddress
	MaxFee                 uint256.Int
	Signature              []types.Felt
	TransactionHash        types.Felt
	ChainID                types.Felt
	Nonce                  types.Felt
}

// ResourceBounds is one entry of the v2 resource bounds list.
type ResourceBounds = blockctx.NamedResourceBounds

// TxV2Info is the v2 transaction info.
type TxV2Info struct {
	Version                   types.Felt
	AccountContractAddress    types.ContractAddress
	MaxFee                    uint256.Int
	Signature                 []types.Felt
	TransactionHash           types.Felt
	ChainID                   types.Felt
	Nonce                     types.Felt
	ResourceBounds            []ResourceBounds
	Tip                       uint256.Int
	PaymasterData             []types.Felt
	NonceDataAvailabilityMode uint32
	FeeDataAvailabilityMode   uint32
	AccountDeploymentData     []types.Felt
}

// ExecutionInfo is the v1 execution info.
type ExecutionInfo struct {
	BlockInfo          BlockInfo
	TxInfo             TxInfo
	CallerAddress      types.ContractAddress
	ContractAddress    types.ContractAddress
	EntryPointSelector types.EntryPointSelector
}

// ExecutionInfoV2 is the v2 execution info.
type ExecutionInfoV2 struct {
	BlockInfo          BlockInfo
	TxInfo             TxV2Info
	CallerAddress      types.ContractAddress
	ContractAddress    types.ContractAddress
	EntryPointSelector types.EntryPointSelector
}

// Handler is the canonical syscall surface. Each method charges its gas from
// remainingGas. A *Revert error is a contract-level failure; any other error
// aborts execution.
type Handler interface {
	GetBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error)
	GetExecutionInfo(remainingGas *uint64) (ExecutionInfo, error)
	GetExecutionInfoV2(remainingGas *uint64) (ExecutionInfoV2, error)
	Deploy(classHash types.ClassHash, contractAddressSalt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.ContractAddress, []types.Felt, error)
	ReplaceClass(classHash types.ClassHash, remainingGas *uint64) error
	LibraryCall(classHash types.ClassHash, functionSelector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error)
	CallContract(address types.ContractAddress, entryPointSelector types.EntryPointSelector, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error)
	StorageRead(addressDomain uint32, key types.StorageKey, remainingGas *uint64) (types.Felt, error)
	StorageWrite(addressDomain uint32, key types.StorageKey, value types.Felt, remainingGas *uint64) error
	EmitEvent(keys, data []types.Felt, remainingGas *uint64) error
	SendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error
	Keccak(input []uint64, remainingGas *uint64) (uint256.Int, error)

	Secp256k1New(x, y uint256.Int, remainingGas *uint64) (*Secp256Point, error)
	Secp256k1Add(p0, p1 Secp256Point, remainingGas *uint64) (Secp256Point, error)
	Secp256k1Mul(p Secp256Point, m uint256.Int, remainingGas *uint64) (Secp256Point, error)
	Secp256k1GetPointFromX(x uint256.Int, yParity bool, remainingGas *uint64) (*Secp256Point, error)
	Secp256k1GetXY(p Secp256Point, remainingGas *uint64) (uint256.Int, uint256.Int, error)

	Secp256r1New(x, y uint256.Int, remainingGas *uint64) (*Secp256Point, error)
	Secp256r1Add(p0, p1 Secp256Point, remainingGas *uint64) (Secp256Point, error)
	Secp256r1Mul(p Secp256Point, m uint256.Int, remainingGas *uint64) (Secp256Point, error)
	Secp256r1GetPointFromX(x uint256.Int, yParity bool, remainingGas *uint64) (*Secp256Point, error)
	Secp256r1GetXY(p Secp256Point, remainingGas *uint64) (uint256.Int, uint256.Int, error)

	Sha256ProcessBlock(state *[8]uint32, block *[16]uint32, remainingGas *uint64) error
}
