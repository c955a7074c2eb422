package emu

import (
	"errors"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/vm/casm"
)

// Wire names of the syscalls, as short strings in SYSCALL.
const (
	wireCallContract           = "CallContract"
	wireDeploy                 = "Deploy"
	wireEmitEvent              = "EmitEvent"
	wireGetBlockHash           = "GetBlockHash"
	wireGetExecutionInfo       = "GetExecutionInfo"
	wireGetExecutionInfoV2     = "GetExecutionInfoV2"
	wireKeccak                 = "Keccak"
	wireLibraryCall            = "LibraryCall"
	wireReplaceClass           = "ReplaceClass"
	wireSendMessageToL1        = "SendMessageToL1"
	wireStorageRead            = "StorageRead"
	wireStorageWrite           = "StorageWrite"
	wireSecp256k1Add           = "Secp256k1Add"
	wireSecp256k1GetPointFromX = "Secp256k1GetPointFromX"
	wireSecp256k1GetXY         = "Secp256k1GetXy"
	wireSecp256k1Mul           = "Secp256k1Mul"
	wireSecp256k1New           = "Secp256k1New"
	wireSecp256r1Add           = "Secp256r1Add"
	wireSecp256r1GetPointFromX = "Secp256r1GetPointFromX"
	wireSecp256r1GetXY         = "Secp256r1GetXy"
	wireSecp256r1Mul           = "Secp256r1Mul"
	wireSecp256r1New           = "Secp256r1New"
	wireSha256ProcessBlock     = "Sha256ProcessBlock"
)

// dispatcher decodes request buffers into typed handler calls. Points travel
// as five felts (x.lo, x.hi, y.lo, y.hi, infinity); the emulator ignores the
// infinity slot and always writes zero there.
type dispatcher struct {
	handler SyscallHandler
}

func readU256(r *casm.Request) U256 {
	return U256{Lo: r.U128(), Hi: r.U128()}
}

func writeU256(w *casm.Response, v U256) {
	w.Felt(v.Lo).Felt(v.Hi)
}

func readPoint(r *casm.Request) (U256, U256) {
	x, y := readU256(r), readU256(r)
	r.Felt()
	return x, y
}

func writePoint(w *casm.Response, x, y U256) {
	writeU256(w, x)
	writeU256(w, y)
	w.Felt(types.Zero)
}

func (d *dispatcher) Dispatch(selector types.Felt, request []types.Felt, remainingGas *uint64) ([]types.Felt, error) {
	r := casm.NewRequest(request)
	var w casm.Response
	h := d.handler

	var err error
	switch types.DecodeShortString(selector) {
	case wireGetBlockHash:
		n := r.Uint64()
		if err = r.Done(); err == nil {
			var hash types.Felt
			hash, err = h.GetBlockHash(n, remainingGas)
			w.Felt(hash)
		}
	case wireGetExecutionInfo:
		if err = r.Done(); err == nil {
			var info ExecutionInfo
			info, err = h.GetExecutionInfo(remainingGas)
			writeExecutionInfo(&w, &info)
		}
	case wireGetExecutionInfoV2:
		if err = r.Done(); err == nil {
			var info ExecutionInfoV2
			info, err = h.GetExecutionInfoV2(remainingGas)
			writeExecutionInfoV2(&w, &info)
		}
	case wireDeploy:
		classHash, salt, calldata, fromZero := r.Felt(), r.Felt(), r.Felts(), r.Bool()
		if err = r.Done(); err == nil {
			var addr types.Felt
			var retdata []types.Felt
			addr, retdata, err = h.Deploy(classHash, salt, calldata, fromZero, remainingGas)
			w.Felt(addr).Felts(retdata)
		}
	case wireReplaceClass:
		classHash := r.Felt()
		if err = r.Done(); err == nil {
			err = h.ReplaceClass(classHash, remainingGas)
		}
	case wireLibraryCall:
		classHash, sel, calldata := r.Felt(), r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			var retdata []types.Felt
			retdata, err = h.LibraryCall(classHash, sel, calldata, remainingGas)
			w.Felts(retdata)
		}
	case wireCallContract:
		addr, sel, calldata := r.Felt(), r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			var retdata []types.Felt
			retdata, err = h.CallContract(addr, sel, calldata, remainingGas)
			w.Felts(retdata)
		}
	case wireStorageRead:
		domain, key := r.Uint32(), r.Felt()
		if err = r.Done(); err == nil {
			var v types.Felt
			v, err = h.StorageRead(domain, key, remainingGas)
			w.Felt(v)
		}
	case wireStorageWrite:
		domain, key, value := r.Uint32(), r.Felt(), r.Felt()
		if err = r.Done(); err == nil {
			err = h.StorageWrite(domain, key, value, remainingGas)
		}
	case wireEmitEvent:
		keys, data := r.Felts(), r.Felts()
		if err = r.Done(); err == nil {
			err = h.EmitEvent(keys, data, remainingGas)
		}
	case wireSendMessageToL1:
		to, payload := r.Felt(), r.Felts()
		if err = r.Done(); err == nil {
			err = h.SendMessageToL1(to, payload, remainingGas)
		}
	case wireKeccak:
		input := r.Uint64s()
		if err = r.Done(); err == nil {
			var v U256
			v, err = h.Keccak(input, remainingGas)
			writeU256(&w, v)
		}
	case wireSecp256k1New:
		x, y := readU256(r), readU256(r)
		if err = r.Done(); err == nil {
			var p *Secp256k1Point
			p, err = h.Secp256k1New(x, y, remainingGas)
			w.Bool(p != nil)
			if p != nil {
				writePoint(&w, p.X, p.Y)
			}
		}
	case wireSecp256k1Add:
		x0, y0 := readPoint(r)
		x1, y1 := readPoint(r)
		if err = r.Done(); err == nil {
			var p Secp256k1Point
			p, err = h.Secp256k1Add(Secp256k1Point{X: x0, Y: y0}, Secp256k1Point{X: x1, Y: y1}, remainingGas)
			writePoint(&w, p.X, p.Y)
		}
	case wireSecp256k1Mul:
		x, y := readPoint(r)
		m := readU256(r)
		if err = r.Done(); err == nil {
			var p Secp256k1Point
			p, err = h.Secp256k1Mul(Secp256k1Point{X: x, Y: y}, m, remainingGas)
			writePoint(&w, p.X, p.Y)
		}
	case wireSecp256k1GetPointFromX:
		x, parity := readU256(r), r.Bool()
		if err = r.Done(); err == nil {
			var p *Secp256k1Point
			p, err = h.Secp256k1GetPointFromX(x, parity, remainingGas)
			w.Bool(p != nil)
			if p != nil {
				writePoint(&w, p.X, p.Y)
			}
		}
	case wireSecp256k1GetXY:
		x, y := readPoint(r)
		if err = r.Done(); err == nil {
			var ox, oy U256
			ox, oy, err = h.Secp256k1GetXY(Secp256k1Point{X: x, Y: y}, remainingGas)
			writeU256(&w, ox)
			writeU256(&w, oy)
		}
	case wireSecp256r1New:
		x, y := readU256(r), readU256(r)
		if err = r.Done(); err == nil {
			var p *Secp256r1Point
			p, err = h.Secp256r1New(x, y, remainingGas)
			w.Bool(p != nil)
			if p != nil {
				writePoint(&w, p.X, p.Y)
			}
		}
	case wireSecp256r1Add:
		x0, y0 := readPoint(r)
		x1, y1 := readPoint(r)
		if err = r.Done(); err == nil {
			var p Secp256r1Point
			p, err = h.Secp256r1Add(Secp256r1Point{X: x0, Y: y0}, Secp256r1Point{X: x1, Y: y1}, remainingGas)
			writePoint(&w, p.X, p.Y)
		}
	case wireSecp256r1Mul:
		x, y := readPoint(r)
		m := readU256(r)
		if err = r.Done(); err == nil {
			var p Secp256r1Point
			p, err = h.Secp256r1Mul(Secp256r1Point{X: x, Y: y}, m, remainingGas)
			writePoint(&w, p.X, p.Y)
		}
	case wireSecp256r1GetPointFromX:
		x, parity := readU256(r), r.Bool()
		if err = r.Done(); err == nil {
			var p *Secp256r1Point
			p, err = h.Secp256r1GetPointFromX(x, parity, remainingGas)
			w.Bool(p != nil)
			if p != nil {
				writePoint(&w, p.X, p.Y)
			}
		}
	case wireSecp256r1GetXY:
		x, y := readPoint(r)
		if err = r.Done(); err == nil {
			var ox, oy U256
			ox, oy, err = h.Secp256r1GetXY(Secp256r1Point{X: x, Y: y}, remainingGas)
			writeU256(&w, ox)
			writeU256(&w, oy)
		}
	case wireSha256ProcessBlock:
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
	default:
		logger.Debug("Unknown syscall", "selector", selector)
		return nil, &casm.Failure{Data: types.EncodeStrAsFelts("Unknown syscall")}
	}

	if err != nil {
		var failure *Failure
		switch {
		case errors.Is(err, casm.ErrMalformedRequest):
			return nil, casm.InvalidInput()
		case errors.As(err, &failure):
			return nil, &casm.Failure{Data: failure.Data}
		}
		return nil, err
	}
	return w, nil
}

func writeExecutionInfo(w *casm.Response, info *ExecutionInfo) {
	b, tx := &info.BlockInfo, &info.TxInfo
	w.Uint64(b.BlockNumber).Uint64(b.BlockTimestamp).Felt(b.SequencerAddress)
	w.Felt(tx.Version).Felt(tx.AccountContractAddress).Felt(tx.MaxFee).Felts(tx.Signature)
	w.Felt(tx.TransactionHash).Felt(tx.ChainID).Felt(tx.Nonce)
	w.Felt(info.CallerAddress).Felt(info.ContractAddress).Felt(info.EntryPointSelector)
}

func writeExecutionInfoV2(w *casm.Response, info *ExecutionInfoV2) {
	b, tx := &info.BlockInfo, &info.TxInfo
	w.Uint64(b.BlockNumber).Uint64(b.BlockTimestamp).Felt(b.SequencerAddress)
	w.Felt(tx.Version).Felt(tx.AccountContractAddress).Felt(tx.MaxFee).Felts(tx.Signature)
	w.Felt(tx.TransactionHash).Felt(tx.ChainID).Felt(tx.Nonce)
	w.Uint64(uint64(len(tx.ResourceBounds)))
	for _, rb := range tx.ResourceBounds {
		w.Felt(rb.Resource).Uint64(rb.MaxAmount).Felt(rb.MaxPricePerUnit)
	}
	w.Felt(tx.Tip).Felts(tx.PaymasterData)
	w.Uint64(uint64(tx.NonceDataAvailabilityMode)).Uint64(uint64(tx.FeeDataAvailabilityMode))
	w.Felts(tx.AccountDeploymentData)
	w.Felt(info.CallerAddress).Felt(info.ContractAddress).Felt(info.EntryPointSelector)
}
