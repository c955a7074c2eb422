// Package types defines the core field element and address types.
//
// Every value the execution core moves around (calldata, storage keys and
// values, addresses, class hashes, selectors) is an element of the Stark prime
// field p = 2^251 + 17*2^192 + 1.
package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// FeltSize is the size in bytes of a serialized felt.
const FeltSize = 32

var (
	// ErrInvalidFelt is returned when a felt string cannot be parsed.
	ErrInvalidFelt = errors.New("invalid felt")

	// ErrFeltOverflow is returned when a value is not below the field modulus.
	ErrFeltOverflow = errors.New("felt overflows field modulus")
)

// Felt is an element of the Stark prime field.
type Felt struct {
	val fp.Element
}

// Common felt values.
var (
	Zero = Felt{}
	One  = FeltFromUint64(1)
)

// FeltFromUint64 creates a felt from an unsigned integer.
func FeltFromUint64(v uint64) Felt {
	var f Felt
	f.val.SetUint64(v)
	return f
}

// FeltFromBigInt creates a felt from a non-negative integer below the modulus.
func FeltFromBigInt(b *big.Int) (Felt, error) {
	var f Felt
	if b.Sign() < 0 || b.Cmp(fp.Modulus()) >= 0 {
		return f, ErrFeltOverflow
	}
	f.val.SetBigInt(b)
	return f, nil
}

// FeltFromBytes interprets b as a big-endian integer reduced modulo p.
func FeltFromBytes(b []byte) Felt {
	var f Felt
	f.val.SetBytes(b)
	return f
}

// FeltFromHex parses a 0x-prefixed (or bare) hex string.
func FeltFromHex(s string) (Felt, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return Felt{}, fmt.Errorf("%w: empty string", ErrInvalidFelt)
	}
	b, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return Felt{}, fmt.Errorf("%w: %q", ErrInvalidFelt, s)
	}
	return FeltFromBigInt(b)
}

// FeltFromString parses either a 0x-prefixed hex string or a decimal string.
func FeltFromString(s string) (Felt, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return FeltFromHex(s)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Felt{}, fmt.Errorf("%w: %q", ErrInvalidFelt, s)
	}
	return FeltFromBigInt(b)
}

// MustFeltFromHex parses a hex felt or panics.
func MustFeltFromHex(s string) Felt {
	f, err := FeltFromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Add returns f + g.
func (f Felt) Add(g Felt) Felt {
	var r Felt
	r.val.Add(&f.val, &g.val)
	return r
}

// Sub returns f - g.
func (f Felt) Sub(g Felt) Felt {
	var r Felt
	r.val.Sub(&f.val, &g.val)
	return r
}

// Mul returns f * g.
func (f Felt) Mul(g Felt) Felt {
	var r Felt
	r.val.Mul(&f.val, &g.val)
	return r
}

// IsZero reports whether f is zero.
func (f Felt) IsZero() bool {
	return f.val.IsZero()
}

// Equal reports whether f and g are the same element.
func (f Felt) Equal(g Felt) bool {
	return f.val.Equal(&g.val)
}

// Cmp compares the canonical integer representations of f and g.
func (f Felt) Cmp(g Felt) int {
	return f.val.Cmp(&g.val)
}

// Uint64 returns f as a uint64. ok is false if f does not fit.
func (f Felt) Uint64() (v uint64, ok bool) {
	if !f.val.IsUint64() {
		return 0, false
	}
	return f.val.Uint64(), true
}

// BigInt returns the canonical integer representation of f.
func (f Felt) BigInt() *big.Int {
	return f.val.BigInt(new(big.Int))
}

// Bytes32 returns the big-endian 32-byte representation of f.
func (f Felt) Bytes32() [FeltSize]byte {
	return f.val.Bytes()
}

// BitLen returns the number of significant bits of f.
func (f Felt) BitLen() int {
	return f.BigInt().BitLen()
}

// String returns the 0x-prefixed hex representation without leading zeros.
func (f Felt) String() string {
	return "0x" + f.BigInt().Text(16)
}

// Hex returns the zero-padded 64 character hex representation.
func (f Felt) Hex() string {
	b := f.Bytes32()
	return hex.EncodeToString(b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Felt) UnmarshalText(text []byte) error {
	v, err := FeltFromString(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f Felt) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Felt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return f.UnmarshalText([]byte(s))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Felt) MarshalBinary() ([]byte, error) {
	b := f.Bytes32()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Felt) UnmarshalBinary(data []byte) error {
	if len(data) != FeltSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidFelt, FeltSize, len(data))
	}
	b := new(big.Int).SetBytes(data)
	v, err := FeltFromBigInt(b)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Modulus returns the field modulus.
func Modulus() *big.Int {
	return fp.Modulus()
}

// FeltsFromUint64s converts a list of integers to felts.
func FeltsFromUint64s(vs ...uint64) []Felt {
	out := make([]Felt, len(vs))
	for i, v := range vs {
		out[i] = FeltFromUint64(v)
	}
	return out
}
