package syscall

import (
	"crypto/elliptic"
	"encoding/binary"
	"math/big"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/stratus-exec/internal/types"
)

// Curve is one of the two curves exposed to contracts. Inputs out of the
// field range revert; points that are not on the curve come back as nil.
type Curve interface {
	New(x, y uint256.Int) (*Secp256Point, error)
	Add(p0, p1 Secp256Point) (Secp256Point, error)
	Mul(p Secp256Point, m uint256.Int) (Secp256Point, error)
	PointFromX(x uint256.Int, yParity bool) (*Secp256Point, error)
}

// Supported curves.
var (
	K1 Curve = secp256k1Curve{}
	R1 Curve = newP256Curve()
)

var infinity = Secp256Point{IsInfinity: true}

func isOrigin(x, y *uint256.Int) bool {
	return x.IsZero() && y.IsZero()
}

type secp256k1Curve struct{}

// fieldVal converts v, rejecting values that overflow the field.
func fieldVal(v *uint256.Int) (*secp256k1.FieldVal, error) {
	b := v.Bytes32()
	var f secp256k1.FieldVal
	if overflow := f.SetByteSlice(b[:]); overflow {
		return nil, NewRevert(MsgInvalidArgument)
	}
	return &f, nil
}

func fromFieldVal(f *secp256k1.FieldVal) uint256.Int {
	f.Normalize()
	var out uint256.Int
	out.SetBytes32(f.Bytes()[:])
	return out
}

func (secp256k1Curve) jacobian(p Secp256Point) (*secp256k1.JacobianPoint, error) {
	var j secp256k1.JacobianPoint
	if p.IsInfinity {
		return &j, nil
	}
	x, err := fieldVal(&p.X)
	if err != nil {
		return nil, err
	}
	y, err := fieldVal(&p.Y)
	if err != nil {
		return nil, err
	}
	if !isOrigin(&p.X, &p.Y) && !secp256k1.NewPublicKey(x, y).IsOnCurve() {
		return nil, NewRevert(MsgInvalidArgument)
	}
	j.X.Set(x)
	j.Y.Set(y)
	j.Z.SetInt(1)
	return &j, nil
}

func (secp256k1Curve) affine(j *secp256k1.JacobianPoint) Secp256Point {
	if (j.X.IsZero() && j.Y.IsZero()) || j.Z.Normalize().IsZero() {
		return infinity
	}
	j.ToAffine()
	return Secp256Point{X: fromFieldVal(&j.X), Y: fromFieldVal(&j.Y)}
}

func (secp256k1Curve) New(x, y uint256.Int) (*Secp256Point, error) {
	fx, err := fieldVal(&x)
	if err != nil {
		return nil, err
	}
	fy, err := fieldVal(&y)
	if err != nil {
		return nil, err
	}
	if isOrigin(&x, &y) {
		p := infinity
		return &p, nil
	}
	if !secp256k1.NewPublicKey(fx, fy).IsOnCurve() {
		return nil, nil
	}
	return &Secp256Point{X: x, Y: y}, nil
}

func (c secp256k1Curve) Add(p0, p1 Secp256Point) (Secp256Point, error) {
	a, err := c.jacobian(p0)
	if err != nil {
		return Secp256Point{}, err
	}
	b, err := c.jacobian(p1)
	if err != nil {
		return Secp256Point{}, err
	}
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(a, b, &r)
	return c.affine(&r), nil
}

func (c secp256k1Curve) Mul(p Secp256Point, m uint256.Int) (Secp256Point, error) {
	a, err := c.jacobian(p)
	if err != nil {
		return Secp256Point{}, err
	}
	if p.IsInfinity || m.IsZero() {
		return infinity, nil
	}
	b := m.Bytes32()
	var k secp256k1.ModNScalar
	k.SetByteSlice(b[:])
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&k, a, &r)
	return c.affine(&r), nil
}

func (secp256k1Curve) PointFromX(x uint256.Int, yParity bool) (*Secp256Point, error) {
	fx, err := fieldVal(&x)
	if err != nil {
		return nil, err
	}
	var y secp256k1.FieldVal
	if !secp256k1.DecompressY(fx, yParity, &y) {
		return nil, nil
	}
	return &Secp256Point{X: x, Y: fromFieldVal(&y)}, nil
}

type p256Curve struct {
	curve  elliptic.Curve
	params *elliptic.CurveParams
}

func newP256Curve() p256Curve {
	c := elliptic.P256()
	return p256Curve{curve: c, params: c.Params()}
}

func (c p256Curve) coord(v *uint256.Int) (*big.Int, error) {
	b := v.ToBig()
	if b.Cmp(c.params.P) >= 0 {
		return nil, NewRevert(MsgInvalidArgument)
	}
	return b, nil
}

func (c p256Curve) point(p Secp256Point) (*big.Int, *big.Int, error) {
	if p.IsInfinity {
		return new(big.Int), new(big.Int), nil
	}
	x, err := c.coord(&p.X)
	if err != nil {
		return nil, nil, err
	}
	y, err := c.coord(&p.Y)
	if err != nil {
		return nil, nil, err
	}
	if x.Sign() == 0 && y.Sign() == 0 {
		return x, y, nil
	}
	if !c.curve.IsOnCurve(x, y) {
		return nil, nil, NewRevert(MsgInvalidArgument)
	}
	return x, y, nil
}

func result(x, y *big.Int) Secp256Point {
	if x.Sign() == 0 && y.Sign() == 0 {
		return infinity
	}
	var out Secp256Point
	out.X.SetFromBig(x)
	out.Y.SetFromBig(y)
	return out
}

func (c p256Curve) New(x, y uint256.Int) (*Secp256Point, error) {
	bx, err := c.coord(&x)
	if err != nil {
		return nil, err
	}
	by, err := c.coord(&y)
	if err != nil {
		return nil, err
	}
	if isOrigin(&x, &y) {
		p := infinity
		return &p, nil
	}
	if !c.curve.IsOnCurve(bx, by) {
		return nil, nil
	}
	return &Secp256Point{X: x, Y: y}, nil
}

func (c p256Curve) Add(p0, p1 Secp256Point) (Secp256Point, error) {
	x0, y0, err := c.point(p0)
	if err != nil {
		return Secp256Point{}, err
	}
	x1, y1, err := c.point(p1)
	if err != nil {
		return Secp256Point{}, err
	}
	switch {
	case x0.Sign() == 0 && y0.Sign() == 0:
		return result(x1, y1), nil
	case x1.Sign() == 0 && y1.Sign() == 0:
		return result(x0, y0), nil
	}
	return result(c.curve.Add(x0, y0, x1, y1)), nil
}

func (c p256Curve) Mul(p Secp256Point, m uint256.Int) (Secp256Point, error) {
	x, y, err := c.point(p)
	if err != nil {
		return Secp256Point{}, err
	}
	k := new(big.Int).Mod(m.ToBig(), c.params.N)
	if k.Sign() == 0 || (x.Sign() == 0 && y.Sign() == 0) {
		return infinity, nil
	}
	return result(c.curve.ScalarMult(x, y, k.FillBytes(make([]byte, 32)))), nil
}

func (c p256Curve) PointFromX(x uint256.Int, yParity bool) (*Secp256Point, error) {
	bx, err := c.coord(&x)
	if err != nil {
		return nil, err
	}
	p := c.params.P
	// y^2 = x^3 - 3x + b
	rhs := new(big.Int).Mul(bx, bx)
	rhs.Mul(rhs, bx)
	threeX := new(big.Int).Lsh(bx, 1)
	threeX.Add(threeX, bx)
	rhs.Sub(rhs, threeX)
	rhs.Add(rhs, c.params.B)
	rhs.Mod(rhs, p)

	y := new(big.Int).ModSqrt(rhs, p)
	if y == nil {
		return nil, nil
	}
	if (y.Bit(0) == 1) != yParity {
		y.Sub(p, y)
	}
	out := &Secp256Point{X: x}
	out.Y.SetFromBig(y)
	return out, nil
}

// KeccakRateWords is the number of 64-bit words in one keccak block.
const KeccakRateWords = 17

// KeccakPadded hashes input that already carries pad10*1 padding, as
// little-endian words. The digest is returned as a little-endian u256.
func KeccakPadded(input []uint64) (uint256.Int, error) {
	var out uint256.Int
	if len(input) == 0 {
		return out, nil
	}
	buf := make([]byte, 8*len(input))
	for i, w := range input {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	msg, ok := unpad(buf, 8*KeccakRateWords)
	if !ok {
		return out, NewRevert(MsgInvalidKeccakPadding)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(msg)
	digest := h.Sum(nil)
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}
	out.SetBytes(digest)
	return out, nil
}

// unpad strips pad10*1 from the final block of buf.
func unpad(buf []byte, rate int) ([]byte, bool) {
	last := len(buf) - 1
	switch {
	case buf[last] == 0x81:
		return buf[:last], true
	case buf[last] != 0x80:
		return nil, false
	}
	floor := len(buf) - rate
	for i := last - 1; i >= floor; i-- {
		switch buf[i] {
		case 0:
		case 0x01:
			return buf[:i], true
		default:
			return nil, false
		}
	}
	return nil, false
}

var sha256K = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// Sha256InitialState is the SHA-256 initial hash value.
var Sha256InitialState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a, 0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

// Sha256Compress applies one SHA-256 compression of block to state.
func Sha256Compress(state *[8]uint32, block *[16]uint32) {
	var w [64]uint32
	copy(w[:], block[:])
	for i := 16; i < 64; i++ {
		s0 := bits.RotateLeft32(w[i-15], -7) ^ bits.RotateLeft32(w[i-15], -18) ^ (w[i-15] >> 3)
		s1 := bits.RotateLeft32(w[i-2], -17) ^ bits.RotateLeft32(w[i-2], -19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, d, e, f, g, h := state[0], state[1], state[2], state[3], state[4], state[5], state[6], state[7]
	for i := 0; i < 64; i++ {
		s1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)
		ch := (e & f) ^ (^e & g)
		t1 := h + s1 + ch + sha256K[i] + w[i]
		s0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

var contractAddressPrefix = types.MustShortString("STARKNET_CONTRACT_ADDRESS")

// CalculateContractAddress derives the address a deployment lands on.
func CalculateContractAddress(salt types.Felt, classHash types.ClassHash, calldata []types.Felt, deployer types.ContractAddress) types.ContractAddress {
	cd := make([]byte, 0, types.FeltSize*len(calldata))
	for _, f := range calldata {
		b := f.Bytes32()
		cd = append(cd, b[:]...)
	}
	calldataHash := types.StarknetKeccak(cd)

	buf := make([]byte, 0, 5*types.FeltSize)
	for _, f := range []types.Felt{contractAddressPrefix, deployer, salt, classHash, calldataHash} {
		b := f.Bytes32()
		buf = append(buf, b[:]...)
	}
	return types.StarknetKeccak(buf)
}
