// Package constants loads the versioned execution constants: gas prices,
// builtin prices, per-syscall OS resources, transaction overheads and limits.
//
// Each protocol version ships an embedded TOML file. Operators may override
// it with a file on disk.
package constants

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/naoina/toml"
)

// LatestVersion is the default constants version.
const LatestVersion = "0.13.4"

//go:embed versioned/*.toml
var versionedFS embed.FS

var (
	// ErrUnknownVersion is returned when no embedded constants match a version.
	ErrUnknownVersion = errors.New("unknown constants version")

	// ErrInvalidConstants is returned when a constants file fails validation.
	ErrInvalidConstants = errors.New("invalid versioned constants")

	// ErrUnknownTxType is returned for a transaction type without overhead data.
	ErrUnknownTxType = errors.New("unknown transaction type")
)

// Resources is a raw resource vector as written in the constants file.
type Resources struct {
	NSteps       uint64            `toml:"n_steps"`
	NMemoryHoles uint64            `toml:"n_memory_holes"`
	Builtins     map[string]uint64 `toml:"builtins"`
}

// Scaled returns r multiplied by n.
func (r Resources) Scaled(n uint64) Resources {
	out := Resources{
		NSteps:       r.NSteps * n,
		NMemoryHoles: r.NMemoryHoles * n,
		Builtins:     make(map[string]uint64, len(r.Builtins)),
	}
	for k, v := range r.Builtins {
		out.Builtins[k] = v * n
	}
	return out
}

// Plus returns r + o.
func (r Resources) Plus(o Resources) Resources {
	out := Resources{
		NSteps:       r.NSteps + o.NSteps,
		NMemoryHoles: r.NMemoryHoles + o.NMemoryHoles,
		Builtins:     make(map[string]uint64, len(r.Builtins)+len(o.Builtins)),
	}
	for k, v := range r.Builtins {
		out.Builtins[k] += v
	}
	for k, v := range o.Builtins {
		out.Builtins[k] += v
	}
	return out
}

// SyscallResources is the OS cost of one syscall: a constant part charged per
// invocation and a linear part charged per unit of the syscall's linear factor
// (calldata length, keccak rounds).
type SyscallResources struct {
	Constant Resources `toml:"constant"`
	Linear   Resources `toml:"linear"`
}

// TxOverhead is the fixed and calldata-proportional OS cost of a transaction type.
type TxOverhead struct {
	Constant       Resources `toml:"constant"`
	CalldataFactor Resources `toml:"calldata_factor"`
}

// Limits bounds execution.
type Limits struct {
	MaxRecursionDepth uint64 `toml:"max_recursion_depth"`
	InvokeTxMaxNSteps uint64 `toml:"invoke_tx_max_n_steps"`
	ValidateMaxNSteps uint64 `toml:"validate_max_n_steps"`
	BlockHashLookback uint64 `toml:"block_hash_lookback"`
}

// GasCosts holds the scalar gas prices.
type GasCosts struct {
	DefaultInitialGasCost   uint64 `toml:"default_initial_gas_cost"`
	EntryPointInitialBudget uint64 `toml:"entry_point_initial_budget"`
	StepGasCost             uint64 `toml:"step_gas_cost"`
	MemoryHoleGasCost       uint64 `toml:"memory_hole_gas_cost"`
	SyscallBaseGasCost      uint64 `toml:"syscall_base_gas_cost"`
	KeccakRoundCostGasCost  uint64 `toml:"keccak_round_cost_gas_cost"`
}

// EventLimits bounds emitted events per call.
type EventLimits struct {
	MaxDataLength     uint64 `toml:"max_data_length"`
	MaxKeysLength     uint64 `toml:"max_keys_length"`
	MaxNEmittedEvents uint64 `toml:"max_n_emitted_events"`
}

// VersionedConstants is the full constants set of one protocol version.
type VersionedConstants struct {
	Version         string                      `toml:"version"`
	Limits          Limits                      `toml:"limits"`
	Gas             GasCosts                    `toml:"gas"`
	EventLimits     EventLimits                 `toml:"event_limits"`
	BuiltinGasCosts map[string]uint64           `toml:"builtin_gas_costs"`
	SyscallGasCosts map[string]uint64           `toml:"syscall_gas_costs"`
	OSResources     map[string]SyscallResources `toml:"os_resources"`
	TxOverheads     map[string]TxOverhead       `toml:"tx_overhead"`

	builtinCosts BuiltinCosts
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*VersionedConstants)
)

// Latest returns the constants of LatestVersion.
func Latest() *VersionedConstants {
	vc, err := Get(LatestVersion)
	if err != nil {
		panic(err)
	}
	return vc
}

// Get returns the embedded constants for version. Results are shared and must
// not be modified.
func Get(version string) (*VersionedConstants, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if vc, ok := cache[version]; ok {
		return vc, nil
	}
	data, err := versionedFS.ReadFile("versioned/" + version + ".toml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	vc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("constants %s: %w", version, err)
	}
	cache[version] = vc
	return vc, nil
}

// Versions lists the embedded versions in ascending order.
func Versions() []string {
	entries, err := versionedFS.ReadDir("versioned")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > 5 {
			out = append(out, name[:len(name)-5])
		}
	}
	sort.Strings(out)
	return out
}

// Load reads constants from a TOML file on disk.
func Load(path string) (*VersionedConstants, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constants: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a constants document.
func Parse(data []byte) (*VersionedConstants, error) {
	var vc VersionedConstants
	if err := toml.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConstants, err)
	}
	if err := vc.validate(); err != nil {
		return nil, err
	}
	vc.builtinCosts = builtinCostsFromMap(vc.BuiltinGasCosts)
	return &vc, nil
}

func (vc *VersionedConstants) validate() error {
	if vc.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidConstants)
	}
	if vc.Limits.MaxRecursionDepth == 0 {
		return fmt.Errorf("%w: max_recursion_depth must be positive", ErrInvalidConstants)
	}
	if vc.Gas.DefaultInitialGasCost < vc.Gas.EntryPointInitialBudget {
		return fmt.Errorf("%w: default initial gas below entry point budget", ErrInvalidConstants)
	}
	for name := range vc.BuiltinGasCosts {
		if !BuiltinName(name).Valid() {
			return fmt.Errorf("%w: unknown builtin %q", ErrInvalidConstants, name)
		}
	}
	for syscall, res := range vc.OSResources {
		for _, r := range []Resources{res.Constant, res.Linear} {
			for name := range r.Builtins {
				if !BuiltinName(name).Valid() {
					return fmt.Errorf("%w: syscall %s: unknown builtin %q", ErrInvalidConstants, syscall, name)
				}
			}
		}
	}
	return nil
}

// BuiltinCosts returns the builtin gas price table.
func (vc *VersionedConstants) BuiltinCosts() BuiltinCosts {
	return vc.builtinCosts
}

// SyscallGasCost returns the gas charged for one invocation of a syscall.
func (vc *VersionedConstants) SyscallGasCost(name string) uint64 {
	if cost, ok := vc.SyscallGasCosts[name]; ok {
		return cost
	}
	return vc.Gas.SyscallBaseGasCost
}

// SyscallOSResources returns the OS resources of a syscall.
func (vc *VersionedConstants) SyscallOSResources(name string) (SyscallResources, bool) {
	r, ok := vc.OSResources[name]
	return r, ok
}

// TxOverhead returns the OS resources a transaction type adds on top of its
// calls, scaled by calldata length.
func (vc *VersionedConstants) TxOverhead(txType string, calldataLen int) (Resources, error) {
	o, ok := vc.TxOverheads[txType]
	if !ok {
		return Resources{}, fmt.Errorf("%w: %s", ErrUnknownTxType, txType)
	}
	return o.Constant.Plus(o.CalldataFactor.Scaled(uint64(calldataLen))), nil
}

// MaxSteps returns the step limit for a call in the given mode.
func (vc *VersionedConstants) MaxSteps(validate bool) uint64 {
	if validate {
		return vc.Limits.ValidateMaxNSteps
	}
	return vc.Limits.InvokeTxMaxNSteps
}
