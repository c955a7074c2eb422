package constants

// BuiltinName identifies a primitive accelerated operation.
type BuiltinName string

// Builtin names.
const (
	Pedersen     BuiltinName = "pedersen"
	RangeCheck   BuiltinName = "range_check"
	Bitwise      BuiltinName = "bitwise"
	EcOp         BuiltinName = "ec_op"
	Poseidon     BuiltinName = "poseidon"
	Keccak       BuiltinName = "keccak"
	Ecdsa        BuiltinName = "ecdsa"
	AddMod       BuiltinName = "add_mod"
	MulMod       BuiltinName = "mul_mod"
	RangeCheck96 BuiltinName = "range_check96"
	SegmentArena BuiltinName = "segment_arena"
	Output       BuiltinName = "output"
)

// AllBuiltins lists every builtin in canonical order.
var AllBuiltins = []BuiltinName{
	Output, Pedersen, RangeCheck, Ecdsa, Bitwise, EcOp, Keccak, Poseidon,
	RangeCheck96, AddMod, MulMod, SegmentArena,
}

// Valid reports whether n names a known builtin.
func (n BuiltinName) Valid() bool {
	for _, b := range AllBuiltins {
		if b == n {
			return true
		}
	}
	return false
}

// BuiltinCosts is the per-invocation gas price of each builtin, handed to
// gas-metered backends.
type BuiltinCosts struct {
	Pedersen     uint64
	Bitwise      uint64
	EcOp         uint64
	Poseidon     uint64
	AddMod       uint64
	MulMod       uint64
	RangeCheck   uint64
	RangeCheck96 uint64
	Keccak       uint64
	Ecdsa        uint64
	SegmentArena uint64
}

// Cost returns the gas price of builtin n. Unpriced builtins cost nothing.
func (c *BuiltinCosts) Cost(n BuiltinName) uint64 {
	switch n {
	case Pedersen:
		return c.Pedersen
	case Bitwise:
		return c.Bitwise
	case EcOp:
		return c.EcOp
	case Poseidon:
		return c.Poseidon
	case AddMod:
		return c.AddMod
	case MulMod:
		return c.MulMod
	case RangeCheck:
		return c.RangeCheck
	case RangeCheck96:
		return c.RangeCheck96
	case Keccak:
		return c.Keccak
	case Ecdsa:
		return c.Ecdsa
	case SegmentArena:
		return c.SegmentArena
	default:
		return 0
	}
}

// builtinCostsFromMap builds the cost table from the constants file section.
func builtinCostsFromMap(m map[string]uint64) BuiltinCosts {
	return BuiltinCosts{
		Pedersen:     m[string(Pedersen)],
		Bitwise:      m[string(Bitwise)],
		EcOp:         m[string(EcOp)],
		Poseidon:     m[string(Poseidon)],
		AddMod:       m[string(AddMod)],
		MulMod:       m[string(MulMod)],
		RangeCheck:   m[string(RangeCheck)],
		RangeCheck96: m[string(RangeCheck96)],
		Keccak:       m[string(Keccak)],
		Ecdsa:        m[string(Ecdsa)],
		SegmentArena: m[string(SegmentArena)],
	}
}
