package constants

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLatest tests the embedded constants load and validate.
func TestLatest(t *testing.T) {
	vc := Latest()
	require.Equal(t, LatestVersion, vc.Version)

	assert.Equal(t, uint64(50), vc.Limits.MaxRecursionDepth)
	assert.Equal(t, uint64(10), vc.Limits.BlockHashLookback)
	assert.Equal(t, uint64(10_000), vc.Gas.EntryPointInitialBudget)
	assert.Equal(t, uint64(10_000_000_000), vc.Gas.DefaultInitialGasCost)
	assert.Equal(t, uint64(1000), vc.EventLimits.MaxNEmittedEvents)

	costs := vc.BuiltinCosts()
	assert.Equal(t, uint64(4050), costs.Pedersen)
	assert.Equal(t, uint64(70), costs.Cost(RangeCheck))
	assert.Equal(t, uint64(0), costs.Cost(Output))

	assert.Contains(t, Versions(), LatestVersion)
}

// TestGetUnknownVersion tests lookups of missing versions.
func TestGetUnknownVersion(t *testing.T) {
	_, err := Get("0.0.1")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

// TestSyscallCosts tests syscall gas and OS resource lookups.
func TestSyscallCosts(t *testing.T) {
	vc := Latest()

	assert.Equal(t, uint64(91560), vc.SyscallGasCost("call_contract"))
	assert.Equal(t, vc.Gas.SyscallBaseGasCost, vc.SyscallGasCost("not_a_syscall"))

	res, ok := vc.SyscallOSResources("deploy")
	require.True(t, ok)
	assert.Equal(t, uint64(1173), res.Constant.NSteps)
	assert.Equal(t, uint64(7), res.Constant.Builtins["pedersen"])
	assert.Equal(t, uint64(8), res.Linear.NSteps)

	keccak, ok := vc.SyscallOSResources("keccak")
	require.True(t, ok)
	assert.Equal(t, uint64(1), keccak.Linear.Builtins["keccak"])
}

// TestTxOverhead tests transaction overhead scaling.
func TestTxOverhead(t *testing.T) {
	vc := Latest()

	r, err := vc.TxOverhead("invoke_function", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3103+3*8), r.NSteps)
	assert.Equal(t, uint64(16+3), r.Builtins["pedersen"])
	assert.Equal(t, uint64(71), r.Builtins["range_check"])

	_, err = vc.TxOverhead("bogus", 0)
	assert.ErrorIs(t, err, ErrUnknownTxType)
}

// TestResourcesArithmetic tests Plus and Scaled.
func TestResourcesArithmetic(t *testing.T) {
	a := Resources{NSteps: 2, Builtins: map[string]uint64{"pedersen": 1}}
	b := Resources{NSteps: 3, NMemoryHoles: 1, Builtins: map[string]uint64{"pedersen": 2, "bitwise": 4}}

	sum := a.Plus(b)
	assert.Equal(t, uint64(5), sum.NSteps)
	assert.Equal(t, uint64(1), sum.NMemoryHoles)
	assert.Equal(t, map[string]uint64{"pedersen": 3, "bitwise": 4}, sum.Builtins)

	scaled := b.Scaled(3)
	assert.Equal(t, uint64(9), scaled.NSteps)
	assert.Equal(t, uint64(12), scaled.Builtins["bitwise"])
	// Inputs untouched.
	assert.Equal(t, uint64(2), b.Builtins["pedersen"])
}

// TestParseInvalid tests validation of malformed documents.
func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not toml", "version = "},
		{"missing version", "[limits]\nmax_recursion_depth = 1\n"},
		{"zero depth", "version = \"x\"\n"},
		{"unknown builtin", "version = \"x\"\n[limits]\nmax_recursion_depth = 1\n[builtin_gas_costs]\nfoo = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidConstants)
		})
	}
}

// TestLoad tests loading an override file.
func TestLoad(t *testing.T) {
	doc := "version = \"custom\"\n[limits]\nmax_recursion_depth = 3\n[gas]\ndefault_initial_gas_cost = 100\nentry_point_initial_budget = 10\n"
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	vc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", vc.Version)
	assert.Equal(t, uint64(3), vc.Limits.MaxRecursionDepth)
	assert.Equal(t, uint64(10), vc.Gas.EntryPointInitialBudget)
}
