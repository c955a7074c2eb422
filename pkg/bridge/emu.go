package bridge

import (
	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/emu"
)

// EmuAdapter exposes a canonical handler to the emulator.
type EmuAdapter struct {
	h syscall.Handler
}

var _ emu.SyscallHandler = (*EmuAdapter)(nil)

// NewEmuAdapter wraps h.
func NewEmuAdapter(h syscall.Handler) *EmuAdapter {
	return &EmuAdapter{h: h}
}

// emuErr turns canonical reverts into emulator failures.
func emuErr(err error) error {
	if data, ok := revertData(err); ok {
		return &emu.Failure{Data: data}
	}
	return err
}

func (a *EmuAdapter) GetBlockHash(blockNumber uint64, remainingGas *uint64) (types.Felt, error) {
	hash, err := a.h.GetBlockHash(blockNumber, remainingGas)
	return hash, emuErr(err)
}

func (a *EmuAdapter) GetExecutionInfo(remainingGas *uint64) (emu.ExecutionInfo, error) {
	info, err := a.h.GetExecutionInfo(remainingGas)
	if err != nil {
		return emu.ExecutionInfo{}, emuErr(err)
	}
	return ExecutionInfoToEmu(&info), nil
}

func (a *EmuAdapter) GetExecutionInfoV2(remainingGas *uint64) (emu.ExecutionInfoV2, error) {
	info, err := a.h.GetExecutionInfoV2(remainingGas)
	if err != nil {
		return emu.ExecutionInfoV2{}, emuErr(err)
	}
	return ExecutionInfoV2ToEmu(&info), nil
}

func (a *EmuAdapter) Deploy(classHash, contractAddressSalt types.Felt, calldata []types.Felt, deployFromZero bool, remainingGas *uint64) (types.Felt, []types.Felt, error) {
	addr, retdata, err := a.h.Deploy(classHash, contractAddressSalt, calldata, deployFromZero, remainingGas)
	return addr, retdata, emuErr(err)
}

func (a *EmuAdapter) ReplaceClass(classHash types.Felt, remainingGas *uint64) error {
	return emuErr(a.h.ReplaceClass(classHash, remainingGas))
}

func (a *EmuAdapter) LibraryCall(classHash, functionSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := a.h.LibraryCall(classHash, functionSelector, calldata, remainingGas)
	return retdata, emuErr(err)
}

func (a *EmuAdapter) CallContract(address, entryPointSelector types.Felt, calldata []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	retdata, err := a.h.CallContract(address, entryPointSelector, calldata, remainingGas)
	return retdata, emuErr(err)
}

func (a *EmuAdapter) StorageRead(addressDomain uint32, address types.Felt, remainingGas *uint64) (types.Felt, error) {
	v, err := a.h.StorageRead(addressDomain, address, remainingGas)
	return v, emuErr(err)
}

func (a *EmuAdapter) StorageWrite(addressDomain uint32, address, value types.Felt, remainingGas *uint64) error {
	return emuErr(a.h.StorageWrite(addressDomain, address, value, remainingGas))
}

func (a *EmuAdapter) EmitEvent(keys, data []types.Felt, remainingGas *uint64) error {
	return emuErr(a.h.EmitEvent(keys, data, remainingGas))
}

func (a *EmuAdapter) SendMessageToL1(toAddress types.Felt, payload []types.Felt, remainingGas *uint64) error {
	return emuErr(a.h.SendMessageToL1(toAddress, payload, remainingGas))
}

func (a *EmuAdapter) Keccak(input []uint64, remainingGas *uint64) (emu.U256, error) {
	v, err := a.h.Keccak(input, remainingGas)
	if err != nil {
		return emu.U256{}, emuErr(err)
	}
	return U256ToEmu(&v), nil
}

func (a *EmuAdapter) Secp256k1New(x, y emu.U256, remainingGas *uint64) (*emu.Secp256k1Point, error) {
	p, err := a.h.Secp256k1New(U256FromEmu(x), U256FromEmu(y), remainingGas)
	if err != nil || p == nil {
		return nil, emuErr(err)
	}
	out := pointToEmuK1(p)
	return &out, nil
}

func (a *EmuAdapter) Secp256k1Add(p0, p1 emu.Secp256k1Point, remainingGas *uint64) (emu.Secp256k1Point, error) {
	p, err := a.h.Secp256k1Add(pointFromEmuK1(p0), pointFromEmuK1(p1), remainingGas)
	if err != nil {
		return emu.Secp256k1Point{}, emuErr(err)
	}
	return pointToEmuK1(&p), nil
}

func (a *EmuAdapter) Secp256k1Mul(p emu.Secp256k1Point, m emu.U256, remainingGas *uint64) (emu.Secp256k1Point, error) {
	r, err := a.h.Secp256k1Mul(pointFromEmuK1(p), U256FromEmu(m), remainingGas)
	if err != nil {
		return emu.Secp256k1Point{}, emuErr(err)
	}
	return pointToEmuK1(&r), nil
}

func (a *EmuAdapter) Secp256k1GetPointFromX(x emu.U256, yParity bool, remainingGas *uint64) (*emu.Secp256k1Point, error) {
	p, err := a.h.Secp256k1GetPointFromX(U256FromEmu(x), yParity, remainingGas)
	if err != nil || p == nil {
		return nil, emuErr(err)
	}
	out := pointToEmuK1(p)
	return &out, nil
}

func (a *EmuAdapter) Secp256k1GetXY(p emu.Secp256k1Point, remainingGas *uint64) (emu.U256, emu.U256, error) {
	x, y, err := a.h.Secp256k1GetXY(pointFromEmuK1(p), remainingGas)
	if err != nil {
		return emu.U256{}, emu.U256{}, emuErr(err)
	}
	return U256ToEmu(&x), U256ToEmu(&y), nil
}

func (a *EmuAdapter) Secp256r1New(x, y emu.U256, remainingGas *uint64) (*emu.Secp256r1Point, error) {
	p, err := a.h.Secp256r1New(U256FromEmu(x), U256FromEmu(y), remainingGas)
	if err != nil || p == nil {
		return nil, emuErr(err)
	}
	out := pointToEmuR1(p)
	return &out, nil
}

func (a *EmuAdapter) Secp256r1Add(p0, p1 emu.Secp256r1Point, remainingGas *uint64) (emu.Secp256r1Point, error) {
	p, err := a.h.Secp256r1Add(pointFromEmuR1(p0), pointFromEmuR1(p1), remainingGas)
	if err != nil {
		return emu.Secp256r1Point{}, emuErr(err)
	}
	return pointToEmuR1(&p), nil
}

func (a *EmuAdapter) Secp256r1Mul(p emu.Secp256r1Point, m emu.U256, remainingGas *uint64) (emu.Secp256r1Point, error) {
	r, err := a.h.Secp256r1Mul(pointFromEmuR1(p), U256FromEmu(m), remainingGas)
	if err != nil {
		return emu.Secp256r1Point{}, emuErr(err)
	}
	return pointToEmuR1(&r), nil
}

func (a *EmuAdapter) Secp256r1GetPointFromX(x emu.U256, yParity bool, remainingGas *uint64) (*emu.Secp256r1Point, error) {
	p, err := a.h.Secp256r1GetPointFromX(U256FromEmu(x), yParity, remainingGas)
	if err != nil || p == nil {
		return nil, emuErr(err)
	}
	out := pointToEmuR1(p)
	return &out, nil
}

func (a *EmuAdapter) Secp256r1GetXY(p emu.Secp256r1Point, remainingGas *uint64) (emu.U256, emu.U256, error) {
	x, y, err := a.h.Secp256r1GetXY(pointFromEmuR1(p), remainingGas)
	if err != nil {
		return emu.U256{}, emu.U256{}, emuErr(err)
	}
	return U256ToEmu(&x), U256ToEmu(&y), nil
}

func (a *EmuAdapter) Sha256ProcessBlock(state *[8]uint32, block *[16]uint32, remainingGas *uint64) error {
	return emuErr(a.h.Sha256ProcessBlock(state, block, remainingGas))
}
