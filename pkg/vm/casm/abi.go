package casm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-exec/internal/types"
)

// ErrMalformedRequest is returned when a syscall request buffer does not
// match the layout of its syscall.
var ErrMalformedRequest = errors.New("malformed syscall request")

// MsgInvalidSyscallInput is the failure message of a malformed request.
const MsgInvalidSyscallInput = "Invalid syscall input"

// InvalidInput is the Failure dispatchers return for malformed requests.
func InvalidInput() *Failure {
	return &Failure{Data: types.EncodeStrAsFelts(MsgInvalidSyscallInput)}
}

// Request reads a syscall request buffer front to back. The first decoding
// error sticks; later reads return zero values.
type Request struct {
	buf []types.Felt
	pos int
	err error
}

// NewRequest wraps a request buffer.
func NewRequest(buf []types.Felt) *Request {
	return &Request{buf: buf}
}

func (r *Request) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedRequest}, args...)...)
	}
}

// Felt reads one felt.
func (r *Request) Felt() types.Felt {
	if r.err != nil {
		return types.Zero
	}
	if r.pos >= len(r.buf) {
		r.fail("read past end at %d", r.pos)
		return types.Zero
	}
	f := r.buf[r.pos]
	r.pos++
	return f
}

// Uint64 reads a felt that must fit in 64 bits.
func (r *Request) Uint64() uint64 {
	f := r.Felt()
	v, ok := f.Uint64()
	if !ok {
		r.fail("%s does not fit in 64 bits", f)
	}
	return v
}

// Uint32 reads a felt that must fit in 32 bits.
func (r *Request) Uint32() uint32 {
	v := r.Uint64()
	if v > 1<<32-1 {
		r.fail("%d does not fit in 32 bits", v)
	}
	return uint32(v)
}

// U128 reads a felt that must fit in 128 bits.
func (r *Request) U128() types.Felt {
	f := r.Felt()
	if f.BitLen() > 128 {
		r.fail("%s does not fit in 128 bits", f)
	}
	return f
}

// Bool reads a felt that must be 0 or 1.
func (r *Request) Bool() bool {
	v := r.Uint64()
	if v > 1 {
		r.fail("%d is not a boolean", v)
	}
	return v == 1
}

// Felts reads a length-prefixed felt array.
func (r *Request) Felts() []types.Felt {
	n := r.Uint64()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.fail("array of %d felts exceeds request", n)
		return nil
	}
	out := make([]types.Felt, n)
	copy(out, r.buf[r.pos:])
	r.pos += int(n)
	return out
}

// Uint64s reads a length-prefixed array of 64-bit words.
func (r *Request) Uint64s() []uint64 {
	n := r.Uint64()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.fail("array of %d words exceeds request", n)
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.Uint64()
	}
	return out
}

// Done returns the first decoding error, or an error if felts remain.
func (r *Request) Done() error {
	if r.err == nil && r.pos != len(r.buf) {
		r.fail("%d trailing felts", len(r.buf)-r.pos)
	}
	return r.err
}

// Response builds a syscall response buffer.
type Response []types.Felt

// Felt appends one felt.
func (w *Response) Felt(f types.Felt) *Response {
	*w = append(*w, f)
	return w
}

// Uint64 appends an integer.
func (w *Response) Uint64(v uint64) *Response {
	return w.Felt(types.FeltFromUint64(v))
}

// Bool appends 1 or 0.
func (w *Response) Bool(b bool) *Response {
	if b {
		return w.Felt(types.One)
	}
	return w.Felt(types.Zero)
}

// Felts appends a length-prefixed felt array.
func (w *Response) Felts(fs []types.Felt) *Response {
	w.Uint64(uint64(len(fs)))
	*w = append(*w, fs...)
	return w
}
