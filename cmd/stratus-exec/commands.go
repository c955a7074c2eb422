package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/callinfo"
	"github.com/fortiblox/stratus-exec/pkg/classstore"
	"github.com/fortiblox/stratus-exec/pkg/constants"
	"github.com/fortiblox/stratus-exec/pkg/contractclass"
	"github.com/fortiblox/stratus-exec/pkg/execution"
	"github.com/fortiblox/stratus-exec/pkg/state"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Execute an entry point and print its call info",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		addressFlag,
		classHashFlag,
		libraryFlag,
		selectorFlag,
		entryPointTypeFlag,
		calldataFlag,
		callerFlag,
		gasFlag,
		validateFlag,
		blockNumberFlag,
		blockTimestampFlag,
	},
	Action: runEntryPoint,
}

var declareCommand = &cli.Command{
	Name:      "declare",
	Usage:     "Store a compiled class artifact under its class hash",
	ArgsUsage: "<class-hash> <artifact.json>",
	Action:    declareClass,
}

var classesCommand = &cli.Command{
	Name:   "classes",
	Usage:  "List declared classes",
	Action: listClasses,
}

var segmentsCommand = &cli.Command{
	Name:   "segments",
	Usage:  "Compute the visited bytecode segments of a run",
	Flags:  []cli.Flag{treeFlag, pcsFlag},
	Action: visitedSegments,
}

var constantsCommand = &cli.Command{
	Name:      "constants",
	Usage:     "Print versioned constants",
	ArgsUsage: "[version]",
	Action:    printConstants,
}

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Print the effective configuration as TOML",
	Action: dumpConfig,
}

// stack is the class store and state a command runs against.
type stack struct {
	classes *classstore.Store
	state   *state.BadgerState
}

func openStack(config *appConfig, withState bool) (*stack, error) {
	storeCfg := classstore.DefaultConfig(config.Store.classesPath())
	storeCfg.CacheSize = config.Store.ClassCacheSize
	storeCfg.NoSync = config.Store.NoSync
	classes, err := classstore.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open class store: %w", err)
	}
	s := &stack{classes: classes}
	if !withState {
		return s, nil
	}

	stateCfg := state.DefaultBadgerStateConfig(config.Store.statePath())
	stateCfg.InMemory = config.Store.InMemory
	if stateCfg.InMemory {
		stateCfg.Path = ""
	}
	s.state, err = state.NewBadgerState(stateCfg, classes)
	if err != nil {
		classes.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	return s, nil
}

func (s *stack) Close() {
	if s.state != nil {
		if err := s.state.Close(); err != nil {
			log.Warn("Failed to close state", "err", err)
		}
	}
	if err := s.classes.Close(); err != nil {
		log.Warn("Failed to close class store", "err", err)
	}
}

func parseFelt(name, s string) (types.Felt, error) {
	f, err := types.FeltFromString(s)
	if err != nil {
		return f, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// parseSelector accepts a felt or an entry point name.
func parseSelector(s string) types.EntryPointSelector {
	if f, err := types.FeltFromString(s); err == nil {
		return f
	}
	return types.SelectorFromName(s)
}

func runEntryPoint(ctx *cli.Context) error {
	config, err := makeAppConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet(blockNumberFlag.Name) {
		config.Block.Number = ctx.Uint64(blockNumberFlag.Name)
	}
	if ctx.IsSet(blockTimestampFlag.Name) {
		config.Block.Timestamp = ctx.Uint64(blockTimestampFlag.Name)
	}
	block, err := config.Block.blockContext()
	if err != nil {
		return err
	}

	address, err := parseFelt("address", ctx.String(addressFlag.Name))
	if err != nil {
		return err
	}
	caller, err := parseFelt("caller", ctx.String(callerFlag.Name))
	if err != nil {
		return err
	}
	kind, err := contractclass.ParseEntryPointKind(ctx.String(entryPointTypeFlag.Name))
	if err != nil {
		return err
	}
	var calldata []types.Felt
	for i, s := range ctx.StringSlice(calldataFlag.Name) {
		f, err := parseFelt(fmt.Sprintf("calldata[%d]", i), s)
		if err != nil {
			return err
		}
		calldata = append(calldata, f)
	}

	s, err := openStack(config, true)
	if err != nil {
		return err
	}
	defer s.Close()

	call := &callinfo.CallEntryPoint{
		EntryPointType:     kind,
		EntryPointSelector: parseSelector(ctx.String(selectorFlag.Name)),
		Calldata:           calldata,
		StorageAddress:     address,
		CallerAddress:      caller,
		CallType:           callinfo.Call,
	}
	if ctx.IsSet(classHashFlag.Name) {
		classHash, err := parseFelt("class hash", ctx.String(classHashFlag.Name))
		if err != nil {
			return err
		}
		if ctx.Bool(libraryFlag.Name) {
			call.ClassHash = &classHash
			call.CallType = callinfo.Delegate
		} else if err := s.state.SetClassHashAt(address, classHash); err != nil {
			return err
		}
	}

	tx := &blockctx.TransactionContext{Block: block}
	call.InitialGas = ctx.Uint64(gasFlag.Name)
	if call.InitialGas == 0 {
		call.InitialGas = tx.InitialSierraGas()
	}
	if err := s.state.SetBlockNumber(config.Block.Number); err != nil {
		return err
	}

	ectx := execution.NewEntryPointExecutionContext(tx, ctx.Bool(validateFlag.Name))
	ci, err := execution.ExecuteEntryPoint(ctx.Context, call, s.state, ectx)
	if err != nil {
		return err
	}
	log.Info("Executed entry point", "address", address, "failed", ci.Execution.Failed,
		"gas", ci.Execution.GasConsumed, "calls", ci.NumCalls(), "elapsed", ci.Time)
	return printJSON(newCallInfoJSON(ci))
}

func declareClass(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: %s %s", ctx.Command.Name, ctx.Command.ArgsUsage)
	}
	classHash, err := parseFelt("class hash", ctx.Args().Get(0))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	artifact, err := contractclass.ParseArtifactJSON(data)
	if err != nil {
		return err
	}

	config, err := makeAppConfig(ctx)
	if err != nil {
		return err
	}
	s, err := openStack(config, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.classes.Declare(classHash, artifact); err != nil {
		return err
	}
	log.Info("Declared class", "hash", classHash, "kind", artifact.Kind(), "fingerprint", contractclass.FingerprintString(artifact))
	return nil
}

func listClasses(ctx *cli.Context) error {
	config, err := makeAppConfig(ctx)
	if err != nil {
		return err
	}
	s, err := openStack(config, false)
	if err != nil {
		return err
	}
	defer s.Close()

	hashes, err := s.classes.ClassHashes()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		a, err := s.classes.GetCompiledClass(h)
		if err != nil {
			return err
		}
		fmt.Printf("%s %-12s %s\n", h, a.Kind(), contractclass.FingerprintString(a))
	}
	return nil
}

func visitedSegments(ctx *cli.Context) error {
	var tree contractclass.NestedIntList
	if err := json.Unmarshal([]byte(ctx.String(treeFlag.Name)), &tree); err != nil {
		return err
	}
	var pcs []uint64
	for _, s := range strings.Split(ctx.String(pcsFlag.Name), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pc, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("pc %q: %w", s, err)
		}
		pcs = append(pcs, pc)
	}

	segments, err := contractclass.GetVisitedSegments(&tree, pcs)
	if err != nil {
		return err
	}
	return printJSON(struct {
		Segments       []uint64 `json:"segments"`
		VisitedLength  uint64   `json:"visited_length"`
		BytecodeLength uint64   `json:"bytecode_length"`
	}{segments, contractclass.VisitedBytecodeLength(&tree, segments), tree.TotalLength()})
}

func printConstants(ctx *cli.Context) error {
	var (
		vc  *constants.VersionedConstants
		err error
	)
	if ctx.NArg() > 0 {
		vc, err = constants.Get(ctx.Args().First())
	} else {
		var config *appConfig
		if config, err = makeAppConfig(ctx); err == nil {
			vc, err = config.Block.versionedConstants()
		}
	}
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(constants.Versions(), ", "))
	}
	out, err := tomlSettings.Marshal(vc)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func dumpConfig(ctx *cli.Context) error {
	config, err := makeAppConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(config)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
