package emu

import (
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
)

// U256 is a 256-bit integer as two felts holding 128 bits each.
type U256 struct {
	Lo types.Felt
	Hi types.Felt
}

// Secp256k1Point is an affine secp256k1 point. The emulator has no separate
// representation for the point at infinity.
type Secp256k1Point struct {
	X, Y U256
}

// Secp256r1Point is an affine secp256r1 point.
type Secp256r1Point struct {
	X, Y U256
}

// BlockInfo describes the block being executed.
type BlockInfo struct {
	BlockNumber      uint64
	BlockTimestamp   uint64
	SequencerAddress types.Felt
}

// TxInfo is the v1 transaction info. MaxFee holds a u128.
type TxInfo struct {
	Version                types.Felt
	AccountContractAddress types.Felt
	MaxFee                 types.Felt
	Signature              []types.Felt
	TransactionHash        types.Felt
	ChainID                types.Felt
	Nonce                  types.Felt
}

// ResourceBounds bounds one fee resource. MaxPricePerUnit holds a u128.
type ResourceBounds struct {
	Resource        types.Felt
	MaxAmount       uint64
	MaxPricePerUnit types.Felt
}

// TxV2Info is the v2 transaction info. MaxFee and Tip hold u128 values.
type TxV2Info struct {
	Version                   types.Felt
	AccountContractAddress    types.Felt
	MaxFee                    types.Felt
	Signature                 []types.Felt
	TransactionHash           types.Felt
	ChainID                   types.Felt
	Nonce                     types.Felt
	ResourceBounds            []ResourceBounds
	Tip                       types.Felt
	PaymasterData             []types.Felt
	NonceDataAvailabilityMode uint32
	FeeDataAvailabilityMode   uint32
	AccountDeploymentData     []types.Felt
}

// ExecutionInfo is the v1 execution info.
type ExecutionInfo struct {
	BlockInfo          BlockInfo
	TxInfo             TxInfo
	CallerAddress      types.Felt
	ContractAddress    types.Felt
	EntryPointSelector types.Felt
}

// ExecutionInfoV2 is the v2 execution info.
type ExecutionInfoV2 struct {
	BlockInfo          BlockInfo
	TxInfo             TxV2Info
	CallerAddress      types.Felt
	ContractAddress    types.Felt
	EntryPointSelector types.Felt
}

// Failure is a syscall failure the running program observes.
type Failure struct {
	Data []types.Felt
}

func (f *Failure) Error() string {
	return fmt.Sprintf("emulated syscall failed: %s", types.DecodeFeltsAsStr(f.Data))
}

// SyscallHandler is the syscall surface the emulator calls into. Returning a
// *Failure fails the running call; any other error aborts the run.
type SyscallHandler interface {
	GetBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error)
	GetExecutionInfo(remainingGas *uint64) (ExecutionInfo, error)
	GetExecutionInfoV2(remainingGas *uint64) (ExecutionInfoV2, error)
	Deploy(classHash, contractAddressSalt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.Felt, []types.Felt, error)
	ReplaceClass(classHash types.Felt, remainingGas *uint64) error
	LibraryCall(classHash, functionSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error)
	CallContract(address, entryPointSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error)
	StorageRead(addressDomain uint32, address types.Felt, remainingGas *uint64) (types.Felt, error)
	StorageWrite(addressDomain uint32, address, value types.Felt, remainingGas *uint64) error
	EmitEvent(keys, data []types.Felt, remainingGas *uint64) error
	SendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error
	Keccak(input []uint64, remainingGas *uint64) (U256, error)

	Secp256k1New(x, y U256, remainingGas *uint64) (*Secp256k1Point, error)
	Secp256k1Add(p0, p1 Secp256k1Point, remainingGas *uint64) (Secp256k1Point, error)
	Secp256k1Mul(p Secp256k1Point, m U256, remainingGas *uint64) (Secp256k1Point, error)
	Secp256k1GetPointFromX(x U256, yParity bool, remainingGas *uint64) (*Secp256k1Point, error)
	Secp256k1GetXY(p Secp256k1Point, remainingGas *uint64) (U256, U256, error)

	Secp256r1New(x, y U256, remainingGas *uint64) (*Secp256r1Point, error)
	Secp256r1Add(p0, p1 Secp256r1Point, remainingGas *uint64) (Secp256r1Point, error)
	Secp256r1Mul(p Secp256r1Point, m U256, remainingGas *uint64) (Secp256r1Point, error)
	Secp256r1GetPointFromX(x U256, yParity bool, remainingGas *uint64) (*Secp256r1Point, error)
	Secp256r1GetXY(p Secp256r1Point, remainingGas *uint64) (U256, U256, error)

	Sha256ProcessBlock(state *[8]uint32, block *[16]uint32, remainingGas *uint64) error
}
