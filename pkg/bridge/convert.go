// Package bridge adapts the canonical syscall handler to the value shapes of
// each execution backend. Adapters only convert representations; gas
// accounting, validation and side effects all happen in the canonical
// handler.
package bridge

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/emu"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

// revertData returns the data of a canonical revert.
func revertData(err error) ([]types.Felt, bool) {
	var r *syscall.Revert
	if errors.As(err, &r) {
		return r.Data, true
	}
	return nil, false
}

// U256ToNative splits v into two 128-bit halves of machine words.
func U256ToNative(v *uint256.Int) native.U256 {
	return native.U256{
		Lo: native.U128{Lo: v[0], Hi: v[1]},
		Hi: native.U128{Lo: v[2], Hi: v[3]},
	}
}

// U256FromNative joins two native halves.
func U256FromNative(v native.U256) uint256.Int {
	return uint256.Int{v.Lo.Lo, v.Lo.Hi, v.Hi.Lo, v.Hi.Hi}
}

// U128ToNative keeps the low 128 bits of v.
func U128ToNative(v *uint256.Int) native.U128 {
	return native.U128{Lo: v[0], Hi: v[1]}
}

// U128FromNative widens a native u128.
func U128FromNative(v native.U128) uint256.Int {
	return uint256.Int{v.Lo, v.Hi, 0, 0}
}

// FeltFromU128 packs the low 128 bits of v into a felt.
func FeltFromU128(v *uint256.Int) types.Felt {
	var b [16]byte
	lo := uint256.Int{v[0], v[1], 0, 0}
	full := lo.Bytes32()
	copy(b[:], full[16:])
	return types.FeltFromBytes(b[:])
}

// U128FromFelt reads the low 128 bits of f.
func U128FromFelt(f types.Felt) uint256.Int {
	b := f.Bytes32()
	var out uint256.Int
	out.SetBytes(b[16:])
	return out
}

// U256ToEmu splits v into two felts of 128 bits.
func U256ToEmu(v *uint256.Int) emu.U256 {
	hi := uint256.Int{v[2], v[3], 0, 0}
	return emu.U256{Lo: FeltFromU128(v), Hi: FeltFromU128(&hi)}
}

// U256FromEmu joins two 128-bit felts.
func U256FromEmu(v emu.U256) uint256.Int {
	lo, hi := U128FromFelt(v.Lo), U128FromFelt(v.Hi)
	return uint256.Int{lo[0], lo[1], hi[0], hi[1]}
}

func pointToNativeK1(p *syscall.Secp256Point) native.Secp256k1Point {
	return native.Secp256k1Point{X: U256ToNative(&p.X), Y: U256ToNative(&p.Y), IsInfinity: p.IsInfinity}
}

func pointFromNativeK1(p native.Secp256k1Point) syscall.Secp256Point {
	return syscall.Secp256Point{X: U256FromNative(p.X), Y: U256FromNative(p.Y), IsInfinity: p.IsInfinity}
}

func pointToNativeR1(p *syscall.Secp256Point) native.Secp256r1Point {
	return native.Secp256r1Point{X: U256ToNative(&p.X), Y: U256ToNative(&p.Y), IsInfinity: p.IsInfinity}
}

func pointFromNativeR1(p native.Secp256r1Point) syscall.Secp256Point {
	return syscall.Secp256Point{X: U256FromNative(p.X), Y: U256FromNative(p.Y), IsInfinity: p.IsInfinity}
}

// The emulator has no infinity flag: it is dropped on the way out and
// assumed unset on the way in. The curves treat (0, 0) as infinity, which is
// what the canonical handler returns for it.

func pointToEmuK1(p *syscall.Secp256Point) emu.Secp256k1Point {
	return emu.Secp256k1Point{X: U256ToEmu(&p.X), Y: U256ToEmu(&p.Y)}
}

func pointFromEmuK1(p emu.Secp256k1Point) syscall.Secp256Point {
	return syscall.Secp256Point{X: U256FromEmu(p.X), Y: U256FromEmu(p.Y)}
}

func pointToEmuR1(p *syscall.Secp256Point) emu.Secp256r1Point {
	return emu.Secp256r1Point{X: U256ToEmu(&p.X), Y: U256ToEmu(&p.Y)}
}

func pointFromEmuR1(p emu.Secp256r1Point) syscall.Secp256Point {
	return syscall.Secp256Point{X: U256FromEmu(p.X), Y: U256FromEmu(p.Y)}
}

// ExecutionInfoToNative converts v1 execution info.
func ExecutionInfoToNative(info *syscall.ExecutionInfo) native.ExecutionInfo {
	tx := &info.TxInfo
	return native.ExecutionInfo{
		BlockInfo: native.BlockInfo(info.BlockInfo),
		TxInfo: native.TxInfo{
			Version:                tx.Version,
			AccountContractAddress: tx.AccountContractAddress,
			MaxFee:                 U128ToNative(&tx.MaxFee),
			Signature:              tx.Signature,
			TransactionHash:        tx.TransactionHash,
			ChainID:                tx.ChainID,
			Nonce:                  tx.Nonce,
		},
		CallerAddress:      info.CallerAddress,
		ContractAddress:    info.ContractAddress,
		EntryPointSelector: info.EntryPointSelector,
	}
}

// ExecutionInfoV2ToNative converts v2 execution info.
func ExecutionInfoV2ToNative(info *syscall.ExecutionInfoV2) native.ExecutionInfoV2 {
	tx := &info.TxInfo
	bounds := make([]native.ResourceBounds, len(tx.ResourceBounds))
	for i := range tx.ResourceBounds {
		rb := &tx.ResourceBounds[i]
		bounds[i] = native.ResourceBounds{
			Resource:        rb.Resource,
			MaxAmount:       rb.MaxAmount,
			MaxPricePerUnit: U128ToNative(&rb.MaxPricePerUnit),
		}
	}
	return native.ExecutionInfoV2{
		BlockInfo: native.BlockInfo(info.BlockInfo),
		TxInfo: native.TxV2Info{
			Version:                   tx.Version,
			AccountContractAddress:    tx.AccountContractAddress,
			MaxFee:                    U128ToNative(&tx.MaxFee),
			Signature:                 tx.Signature,
			TransactionHash:           tx.TransactionHash,
			ChainID:                   tx.ChainID,
			Nonce:                     tx.Nonce,
			ResourceBounds:            bounds,
			Tip:                       U128ToNative(&tx.Tip),
			PaymasterData:             tx.PaymasterData,
			NonceDataAvailabilityMode: tx.NonceDataAvailabilityMode,
			FeeDataAvailabilityMode:   tx.FeeDataAvailabilityMode,
			AccountDeploymentData:     tx.AccountDeploymentData,
		},
		CallerAddress:      info.CallerAddress,
		ContractAddress:    info.ContractAddress,
		EntryPointSelector: info.EntryPointSelector,
	}
}

// ExecutionInfoToEmu converts v1 execution info.
func ExecutionInfoToEmu(info *syscall.ExecutionInfo) emu.ExecutionInfo {
	tx := &info.TxInfo
	return emu.ExecutionInfo{
		BlockInfo: emu.BlockInfo(info.BlockInfo),
		TxInfo: emu.TxInfo{
			Version:                tx.Version,
			AccountContractAddress: tx.AccountContractAddress,
			MaxFee:                 FeltFromU128(&tx.MaxFee),
			Signature:              tx.Signature,
			TransactionHash:        tx.TransactionHash,
			ChainID:                tx.ChainID,
			Nonce:                  tx.Nonce,
		},
		CallerAddress:      info.CallerAddress,
		ContractAddress:    info.ContractAddress,
		EntryPointSelector: info.EntryPointSelector,
	}
}

// ExecutionInfoV2ToEmu converts v2 execution info.
func ExecutionInfoV2ToEmu(info *syscall.ExecutionInfoV2) emu.ExecutionInfoV2 {
	tx := &info.TxInfo
	bounds := make([]emu.ResourceBounds, len(tx.ResourceBounds))
	for i := range tx.ResourceBounds {
		rb := &tx.ResourceBounds[i]
		bounds[i] = emu.ResourceBounds{
			Resource:        rb.Resource,
			MaxAmount:       rb.MaxAmount,
			MaxPricePerUnit: FeltFromU128(&rb.MaxPricePerUnit),
		}
	}
	return emu.ExecutionInfoV2{
		BlockInfo: emu.BlockInfo(info.BlockInfo),
		TxInfo: emu.TxV2Info{
			Version:                   tx.Version,
			AccountContractAddress:    tx.AccountContractAddress,
			MaxFee:                    FeltFromU128(&tx.MaxFee),
			Signature:                 tx.Signature,
			TransactionHash:           tx.TransactionHash,
			ChainID:                   tx.ChainID,
			Nonce:                     tx.Nonce,
			ResourceBounds:            bounds,
			Tip:                       FeltFromU128(&tx.Tip),
			PaymasterData:             tx.PaymasterData,
			NonceDataAvailabilityMode: tx.NonceDataAvailabilityMode,
			FeeDataAvailabilityMode:   tx.FeeDataAvailabilityMode,
			AccountDeploymentData:     tx.AccountDeploymentData,
		},
		CallerAddress:      info.CallerAddress,
		ContractAddress:    info.ContractAddress,
		EntryPointSelector: info.EntryPointSelector,
	}
}
