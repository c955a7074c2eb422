package bridge

import (
	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/native"
)

// NativeAdapter exposes a canonical handler to native code.
type NativeAdapter struct {
	h syscall.Handler
}

var _ native.SyscallHandler = (*NativeAdapter)(nil)

// NewNativeAdapter wraps h.
func NewNativeAdapter(h syscall.Handler) *NativeAdapter {
	return &NativeAdapter{h: h}
}

// nativeErr turns canonical reverts into native failures.
func nativeErr(err error) error {
	if data, ok := revertData(err); ok {
		return &native.Failure{Data: data}
	}
	return err
}

func (a *NativeAdapter) GetBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error) {
	hash, err := a.h.GetBlockHash(blockNumber, remainingGas)
	return hash, nativeErr(err)
}

func (a *NativeAdapter) GetExecutionInfo(remainingGas *uint64) (native.ExecutionInfo, error) {
	info, err := a.h.GetExecutionInfo(remainingGas)
	if err != nil {
		return native.ExecutionInfo{}, nativeErr(err)
	}
	return ExecutionInfoToNative(&info), nil
}

func (a *NativeAdapter) GetExecutionInfoV2(remainingGas *uint64) (native.ExecutionInfoV2, error) {
	info, err := a.h.GetExecutionInfoV2(remainingGas)
	if err != nil {
		return native.ExecutionInfoV2{}, nativeErr(err)
	}
	return ExecutionInfoV2ToNative(&info), nil
}

func (a *NativeAdapter) Deploy(classHash, contractAddressSalt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.Felt, []types.Felt, error) {
	addr, retdata, err := a.h.Deploy(classHash, contractAddressSalt, calldata, deployFromZero, remainingGas)
	return addr, retdata, nativeErr(err)
}

func (a *NativeAdapter) ReplaceClass(classHash types.Felt, remainingGas *uint64) error {
	return nativeErr(a.h.ReplaceClass(classHash, remainingGas))
}

func (a *NativeAdapter) LibraryCall(classHash, functionSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := a.h.LibraryCall(classHash, functionSelector, calldata, remainingGas)
	return retdata, nativeErr(err)
}

func (a *NativeAdapter) CallContract(address, entryPointSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := a.h.CallContract(address, entryPointSelector, calldata, remainingGas)
	return retdata, nativeErr(err)
}

func (a *NativeAdapter) StorageRead(addressDomain uint32, address types.Felt, remainingGas *uint64) (types.Felt, error) {
	v, err := a.h.StorageRead(addressDomain, address, remainingGas)
	return v, nativeErr(err)
}

func (a *NativeAdapter) StorageWrite(addressDomain uint32, address, value types.Felt, remainingGas *uint64) error {
	return nativeErr(a.h.StorageWrite(addressDomain, address, value, remainingGas))
}

func (a *NativeAdapter) EmitEvent(keys, data []types.Felt, remainingGas *uint64) error {
	return nativeErr(a.h.EmitEvent(keys, data, remainingGas))
}

func (a *NativeAdapter) SendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error {
	return nativeErr(a.h.SendMessageToL1(toAddress, payload, remainingGas))
}

func (a *NativeAdapter) Keccak(input []uint64, remainingGas *uint64) (native.U256, error) {
	v, err := a.h.Keccak(input, remainingGas)
	if err != nil {
		return native.U256{}, nativeErr(err)
	}
	return U256ToNative(&v), nil
}

func (a *NativeAdapter) Secp256k1New(x, y native.U256, remainingGas *uint64) (*native.Secp256k1Point, error) {
	p, err := a.h.Secp256k1New(U256FromNative(x), U256FromNative(y), remainingGas)
	if err != nil || p == nil {
		return nil, nativeErr(err)
	}
	out := pointToNativeK1(p)
	return &out, nil
}

func (a *NativeAdapter) Secp256k1Add(p0, p1 native.Secp256k1Point, remainingGas *uint64) (native.Secp256k1Point, error) {
	p, err := a.h.Secp256k1Add(pointFromNativeK1(p0), pointFromNativeK1(p1), remainingGas)
	if err != nil {
		return native.Secp256k1Point{}, nativeErr(err)
	}
	return pointToNativeK1(&p), nil
}

func (a *NativeAdapter) Secp256k1Mul(p native.Secp256k1Point, m native.U256, remainingGas *uint64) (native.Secp256k1Point, error) {
	r, err := a.h.Secp256k1Mul(pointFromNativeK1(p), U256FromNative(m), remainingGas)
	if err != nil {
		return native.Secp256k1Point{}, nativeErr(err)
	}
	return pointToNativeK1(&r), nil
}

func (a *NativeAdapter) Secp256k1GetPointFromX(x native.U256, yParity bool, remainingGas *uint64) (*native.Secp256k1Point, error) {
	p, err := a.h.Secp256k1GetPointFromX(U256FromNative(x), yParity, remainingGas)
	if err != nil || p == nil {
		return nil, nativeErr(err)
	}
	out := pointToNativeK1(p)
	return &out, nil
}

func (a *NativeAdapter) Secp256k1GetXY(p native.Secp256k1Point, remainingGas *uint64) (native.U256, native.U256, error) {
	x, y, err := a.h.Secp256k1GetXY(pointFromNativeK1(p), remainingGas)
	if err != nil {
		return native.U256{}, native.U256{}, nativeErr(err)
	}
	return U256ToNative(&x), U256ToNative(&y), nil
}

func (a *NativeAdapter) Secp256r1New(x, y native.U256, remainingGas *uint64) (*native.Secp256r1Point, error) {
	p, err := a.h.Secp256r1New(U256FromNative(x), U256FromNative(y), remainingGas)
	if err != nil || p == nil {
		return nil, nativeErr(err)
	}
	out := pointToNativeR1(p)
	return &out, nil
}

func (a *NativeAdapter) Secp256r1Add(p0, p1 native.Secp256r1Point, remainingGas *uint64) (native.Secp256r1Point, error) {
	p, err := a.h.Secp256r1Add(pointFromNativeR1(p0), pointFromNativeR1(p1), remainingGas)
	if err != nil {
		return native.Secp256r1Point{}, nativeErr(err)
	}
	return pointToNativeR1(&p), nil
}

func (a *NativeAdapter) Secp256r1Mul(p native.Secp256r1Point, m native.U256, remainingGas *uint64) (native.Secp256r1Point, error) {
	r, err := a.h.Secp256r1Mul(pointFromNativeR1(p), U256FromNative(m), remainingGas)
	if err != nil {
		return native.Secp256r1Point{}, nativeErr(err)
	}
	return pointToNativeR1(&r), nil
}

func (a *NativeAdapter) Secp256r1GetPointFromX(x native.U256, yParity bool, remainingGas *uint64) (*native.Secp256r1Point, error) {
	p, err := a.h.Secp256r1GetPointFromX(U256FromNative(x), yParity, remainingGas)
	if err != nil || p == nil {
		return nil, nativeErr(err)
	}
	out := pointToNativeR1(p)
	return &out, nil
}

func (a *NativeAdapter) Secp256r1GetXY(p native.Secp256r1Point, remainingGas *uint64) (native.U256, native.U256, error) {
	x, y, err := a.h.Secp256r1GetXY(pointFromNativeR1(p), remainingGas)
	if err != nil {
		return native.U256{}, native.U256{}, nativeErr(err)
	}
	return U256ToNative(&x), U256ToNative(&y), nil
}

func (a *NativeAdapter) Sha256ProcessBlock(state *[8]uint32, block *[16]uint32, remainingGas *uint64) error {
	return nativeErr(a.h.Sha256ProcessBlock(state, block, remainingGas))
}
