// Package blockctx holds the block and transaction context a call executes in.
package blockctx

import (
	"github.com/holiman/uint256"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/constants"
)

// Fee resource names as they appear in execution info.
var (
	L1GasName     = types.MustShortString("L1_GAS")
	L2GasName     = types.MustShortString("L2_GAS")
	L1DataGasName = types.MustShortString("L1_DATA")
)

// BlockInfo describes the block being built.
type BlockInfo struct {
	BlockNumber      uint64
	BlockTimestamp   uint64
	SequencerAddress types.Felt
}

// ChainInfo describes the chain.
type ChainInfo struct {
	ChainID types.Felt
}

// BlockContext is shared by every transaction of a block.
type BlockContext struct {
	Block     BlockInfo
	Chain     ChainInfo
	Constants *constants.VersionedConstants
}

// ResourceBounds caps one fee resource. MaxPricePerUnit is a u128.
type ResourceBounds struct {
	MaxAmount       uint64
	MaxPricePerUnit uint256.Int
}

// BoundsKind selects the resource bounds layout of a transaction.
type BoundsKind uint8

const (
	// L1GasBounds bounds only L1 gas; L2 gas is implicitly unbounded.
	L1GasBounds BoundsKind = iota
	// AllResourceBounds bounds L1 gas, L2 gas and L1 data gas.
	AllResourceBounds
)

// ValidResourceBounds are the fee bounds of a current-version transaction.
type ValidResourceBounds struct {
	Kind      BoundsKind
	L1Gas     ResourceBounds
	L2Gas     ResourceBounds
	L1DataGas ResourceBounds
}

// NamedResourceBounds is one entry of the execution info resource list.
type NamedResourceBounds struct {
	Resource        types.Felt
	MaxAmount       uint64
	MaxPricePerUnit uint256.Int
}

// TxInfo describes the transaction. ResourceBounds is nil for deprecated
// transactions, which carry MaxFee instead.
type TxInfo struct {
	Version                   types.Felt
	SenderAddress             types.Felt
	TransactionHash           types.Felt
	Signature                 []types.Felt
	Nonce                     types.Felt
	MaxFee                    uint256.Int
	ResourceBounds            *ValidResourceBounds
	Tip                       uint64
	PaymasterData             []types.Felt
	NonceDataAvailabilityMode uint32
	FeeDataAvailabilityMode   uint32
	AccountDeploymentData     []types.Felt
}

// IsDeprecated reports whether the transaction predates resource bounds.
func (tx *TxInfo) IsDeprecated() bool {
	return tx.ResourceBounds == nil
}

// ExecutionResourceBounds lists resource bounds in the execution info layout.
// L1-gas-only bounds report L2 gas with zero bounds.
func (tx *TxInfo) ExecutionResourceBounds() []NamedResourceBounds {
	rb := tx.ResourceBounds
	if rb == nil {
		return nil
	}
	l1 := NamedResourceBounds{Resource: L1GasName, MaxAmount: rb.L1Gas.MaxAmount, MaxPricePerUnit: rb.L1Gas.MaxPricePerUnit}
	switch rb.Kind {
	case AllResourceBounds:
		return []NamedResourceBounds{
			l1,
			{Resource: L2GasName, MaxAmount: rb.L2Gas.MaxAmount, MaxPricePerUnit: rb.L2Gas.MaxPricePerUnit},
			{Resource: L1DataGasName, MaxAmount: rb.L1DataGas.MaxAmount, MaxPricePerUnit: rb.L1DataGas.MaxPricePerUnit},
		}
	default:
		return []NamedResourceBounds{l1, {Resource: L2GasName}}
	}
}

// TransactionContext binds a transaction to its block.
type TransactionContext struct {
	Block *BlockContext
	Tx    TxInfo
}

// InitialSierraGas is the gas budget of the transaction's top-level calls.
// Transactions that bound every resource get their L2 gas bound; the rest get
// the default initial gas.
func (tc *TransactionContext) InitialSierraGas() uint64 {
	if rb := tc.Tx.ResourceBounds; rb != nil && rb.Kind == AllResourceBounds {
		return rb.L2Gas.MaxAmount
	}
	return tc.Block.Constants.Gas.DefaultInitialGasCost
}
