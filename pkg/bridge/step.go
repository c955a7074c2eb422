package bridge

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/syscall"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

// StepAdapter serves the syscalls of the step-metered interpreter. Requests
// and responses are flat felt buffers; u256 values travel as (lo, hi) halves
// and points as (x.lo, x.hi, y.lo, y.hi, infinity).
type StepAdapter struct {
	h syscall.Handler
}

var _ casm.SyscallDispatcher = (*StepAdapter)(nil)

// NewStepAdapter wraps h.
func NewStepAdapter(h syscall.Handler) *StepAdapter {
	return &StepAdapter{h: h}
}

func readU256(r *casm.Request) uint256.Int {
	lo, hi := U128FromFelt(r.U128()), U128FromFelt(r.U128())
	return uint256.Int{lo[0], lo[1], hi[0], hi[1]}
}

func writeU256(w *casm.Response, v *uint256.Int) {
	e := U256ToEmu(v)
	w.Felt(e.Lo).Felt(e.Hi)
}

func readPoint(r *casm.Request) syscall.Secp256Point {
	x, y := readU256(r), readU256(r)
	return syscall.Secp256Point{X: x, Y: y, IsInfinity: r.Bool()}
}

func writePoint(w *casm.Response, p *syscall.Secp256Point) {
	writeU256(w, &p.X)
	writeU256(w, &p.Y)
	w.Bool(p.IsInfinity)
}

func writeOptionalPoint(w *casm.Response, p *syscall.Secp256Point) {
	w.Bool(p != nil)
	if p != nil {
		writePoint(w, p)
	}
}

// Dispatch implements casm.SyscallDispatcher.
func (a *StepAdapter) Dispatch(selector types.Felt, request []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	sel, ok := syscall.SelectorFromFelt(selector)
	if !ok {
		return nil, &casm.Failure{Data: types.EncodeStrAsFelts("Unknown syscall")}
	}
	r := casm.NewRequest(request)
	var w casm.Response
	h := a.h

	var err error
	switch sel {
	case syscall.GetBlockHash:
		n := r.Uint64()
		if err = r.Done(); err == nil {
			var hash types.Felt
			hash, err = h.GetBlockHash(n, remainingGas)
			w.Felt(hash)
		}
	case syscall.GetExecutionInfo:
		if err = r.Done(); err == nil {
			var info syscall.ExecutionInfo
			info, err = h.GetExecutionInfo(remainingGas)
			writeExecutionInfo(&w, &info)
		}
	case syscall.GetExecutionInfoV2:
		if err = r.Done(); err == nil {
			var info syscall.ExecutionInfoV2
			info, err = h.GetExecutionInfoV2(remainingGas)
			writeExecutionInfoV2(&w, &info)
		}
	case syscall.Deploy:
		classHash, salt, calldata, fromZero := r.Felt(), r.Felt(), r.Felts(), r.Bool()
		if err = r.Done(); err == nil {
			var addr types.Felt
			var retdata []types.Felt
			addr, retdata, err = h.Deploy(classHash, salt, calldata, fromZero, remainingGas)
			w.Felt(addr).Felts(retdata)
		}
	case syscall.ReplaceClass:
		classHash := r.Felt()
		if err = r.Done(); err == nil {
			err = h.ReplaceClass(classHash, remainingGas)
		}
	case syscall.LibraryCall:
		classHash, fn, calldata := r.Felt(), r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			var retdata []types.Felt
			retdata, err = h.LibraryCall(classHash, fn, calldata, remainingGas)
			w.Felts(retdata)
		}
	case syscall.CallContract:
		addr, fn, calldata := r.Felt(), r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			var retdata []types.Felt
			retdata, err = h.CallContract(addr, fn, calldata, remainingGas)
			w.Felts(retdata)
		}
	case syscall.StorageRead:
		domain, key := r.Uint32(), r.Felt()
		if err = r.Done(); err == nil {
			var v types.Felt
			v, err = h.StorageRead(domain, key, remainingGas)
			w.Felt(v)
		}
	case syscall.StorageWrite:
		domain, key, value := r.Uint32(), r.Felt(), r.Felt()
		if err = r.Done(); err == nil {
			err = h.StorageWrite(domain, key, value, remainingGas)
		}
	case syscall.EmitEvent:
		keys, data := r.Felts(), r.Felts()
		if err = r.Done(); err == nil {
			err = h.EmitEvent(keys, data, remainingGas)
		}
	case syscall.SendMessageToL1:
		to, payload := r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			err = h.SendMessageToL1(to, payload, remainingGas)
		}
	case syscall.Keccak:
		input := r.Uint64s()
		if err = r.Done(); err == nil {
			var v uint256.Int
			v, err = h.Keccak(input, remainingGas)
			writeU256(&w, &v)
		}
	case syscall.Secp256k1New, syscall.Secp256r1New:
		x, y := readU256(r), readU256(r)
		if err = r.Done(); err == nil {
			var p *syscall.Secp256Point
			if sel == syscall.Secp256k1New {
				p, err = h.Secp256k1New(x, y, remainingGas)
			} else {
				p, err = h.Secp256r1New(x, y, remainingGas)
			}
			writeOptionalPoint(&w, p)
		}
	case syscall.Secp256k1Add, syscall.Secp256r1Add:
		p0, p1 := readPoint(r), readPoint(r)
		if err = r.Done(); err == nil {
			var p syscall.Secp256Point
			if sel == syscall.Secp256k1Add {
				p, err = h.Secp256k1Add(p0, p1, remainingGas)
			} else {
				p, err = h.Secp256r1Add(p0, p1, remainingGas)
			}
			writePoint(&w, &p)
		}
	case syscall.Secp256k1Mul, syscall.Secp256r1Mul:
		p0, m := readPoint(r), readU256(r)
		if err = r.Done(); err == nil {
			var p syscall.Secp256Point
			if sel == syscall.Secp256k1Mul {
				p, err = h.Secp256k1Mul(p0, m, remainingGas)
			} else {
				p, err = h.Secp256r1Mul(p0, m, remainingGas)
			}
			writePoint(&w, &p)
		}
	case syscall.Secp256k1GetPointFromX, syscall.Secp256r1GetPointFromX:
		x, parity := readU256(r), r.Bool()
		if err = r.Done(); err == nil {
			var p *syscall.Secp256Point
			if sel == syscall.Secp256k1GetPointFromX {
				p, err = h.Secp256k1GetPointFromX(x, parity, remainingGas)
			} else {
				p, err = h.Secp256r1GetPointFromX(x, parity, remainingGas)
			}
			writeOptionalPoint(&w, p)
		}
	case syscall.Secp256k1GetXY, syscall.Secp256r1GetXY:
		p := readPoint(r)
		if err = r.Done(); err == nil {
			var x, y uint256.Int
			if sel == syscall.Secp256k1GetXY {
				x, y, err = h.Secp256k1GetXY(p, remainingGas)
			} else {
				x, y, err = h.Secp256r1GetXY(p, remainingGas)
			}
			writeU256(&w, &x)
			writeU256(&w, &y)
		}
	case syscall.Sha256ProcessBlock:
		var st [8]uint32
		var block [16]uint32
		for i := range st {
			st[i] = r.Uint32()
		}
		for i := range block {
			block[i] = r.Uint32()
		}
		if err = r.Done(); err == nil {
			err = h.Sha256ProcessBlock(&st, &block, remainingGas)
			for _, v := range st {
				w.Uint64(uint64(v))
			}
		}
	}

	if err != nil {
		if errors.Is(err, casm.ErrMalformedRequest) {
			return nil, casm.InvalidInput()
		}
		if data, ok := revertData(err); ok {
			return nil, &casm.Failure{Data: data}
		}
		return nil, err
	}
	return w, nil
}

func writeTxPrefix(w *casm.Response, version, account types.Felt, maxFee *uint256.Int, sig []types.Felt, hash, chainID, nonce types.Felt) {
	w.Felt(version).Felt(account).Felt(FeltFromU128(maxFee)).Felts(sig)
	w.Felt(hash).Felt(chainID).Felt(nonce)
}

func writeExecutionInfo(w *casm.Response, info *syscall.ExecutionInfo) {
	b, tx := &info.BlockInfo, &info.TxInfo
	w.Uint64(b.BlockNumber).Uint64(b.BlockTimestamp).Felt(b.SequencerAddress)
	writeTxPrefix(w, tx.Version, tx.AccountContractAddress, &tx.MaxFee, tx.Signature, tx.TransactionHash, tx.ChainID, tx.Nonce)
	w.Felt(info.CallerAddress).Felt(info.ContractAddress).Felt(info.EntryPointSelector)
}

func writeExecutionInfoV2(w *casm.Response, info *syscall.ExecutionInfoV2) {
	b, tx := &info.BlockInfo, &info.TxInfo
	w.Uint64(b.BlockNumber).Uint64(b.BlockTimestamp).Felt(b.SequencerAddress)
	writeTxPrefix(w, tx.Version, tx.AccountContractAddress, &tx.MaxFee, tx.Signature, tx.TransactionHash, tx.ChainID, tx.Nonce)
	w.Uint64(uint64(len(tx.ResourceBounds)))
	for i := range tx.ResourceBounds {
		rb := &tx.ResourceBounds[i]
		w.Felt(rb.Resource).Uint64(rb.MaxAmount).Felt(FeltFromU128(&rb.MaxPricePerUnit))
	}
	w.Felt(FeltFromU128(&tx.Tip)).Felts(tx.PaymasterData)
	w.Uint64(uint64(tx.NonceDataAvailabilityMode)).Uint64(uint64(tx.FeeDataAvailabilityMode))
	w.Felts(tx.AccountDeploymentData)
	w.Felt(info.CallerAddress).Felt(info.ContractAddress).Felt(info.EntryPointSelector)
}
