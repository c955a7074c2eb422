package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Domain aliases. They share the felt representation.
type (
	ContractAddress    = Felt
	ClassHash          = Felt
	EntryPointSelector = Felt
	StorageKey         = Felt
)

// Reserved system addresses.
var (
	// BlockHashContractAddress stores historical block hashes keyed by block number.
	BlockHashContractAddress = FeltFromUint64(1)

	// ZeroAddress is used as caller for top-level calls and as the deployer
	// for deploy-from-zero.
	ZeroAddress = Zero
)

// ShortStringMaxLen is the maximum number of ASCII bytes packed into a felt.
const ShortStringMaxLen = 31

// ErrShortStringTooLong is returned when a string does not fit in one felt.
var ErrShortStringTooLong = errors.New("short string exceeds 31 bytes")

// ShortString encodes an ASCII string of at most 31 bytes as a felt.
func ShortString(s string) (Felt, error) {
	if len(s) > ShortStringMaxLen {
		return Felt{}, fmt.Errorf("%w: %q", ErrShortStringTooLong, s)
	}
	return FeltFromBytes([]byte(s)), nil
}

// MustShortString encodes s as a short string or panics.
func MustShortString(s string) Felt {
	f, err := ShortString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// DecodeShortString returns the ASCII bytes packed in f.
func DecodeShortString(f Felt) string {
	b := f.BigInt().Bytes()
	return string(b)
}

// EncodeStrAsFelts splits msg into 31-byte chunks, each packed as a short
// string. An empty message yields no felts.
func EncodeStrAsFelts(msg string) []Felt {
	out := make([]Felt, 0, (len(msg)+ShortStringMaxLen-1)/ShortStringMaxLen)
	for start := 0; start < len(msg); start += ShortStringMaxLen {
		end := start + ShortStringMaxLen
		if end > len(msg) {
			end = len(msg)
		}
		out = append(out, FeltFromBytes([]byte(msg[start:end])))
	}
	return out
}

// DecodeFeltsAsStr reverses EncodeStrAsFelts.
func DecodeFeltsAsStr(felts []Felt) string {
	var buf []byte
	for _, f := range felts {
		buf = append(buf, f.BigInt().Bytes()...)
	}
	return string(buf)
}

// mask250 clears the top 6 bits of a 256-bit digest.
var mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// StarknetKeccak returns keccak-256 of data truncated to 250 bits.
func StarknetKeccak(data []byte) Felt {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	d := new(big.Int).SetBytes(h.Sum(nil))
	d.And(d, mask250)
	f, _ := FeltFromBigInt(d)
	return f
}

// SelectorFromName computes the entry point selector for a function name.
func SelectorFromName(name string) EntryPointSelector {
	return StarknetKeccak([]byte(name))
}

// Base58 renders raw digest bytes for display.
func Base58(b []byte) string {
	return base58.Encode(b)
}
