package main

import (
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the class store and state",
	}
	inMemoryFlag = &cli.BoolFlag{
		Name:  "state.memory",
		Usage: "Keep contract state in memory for this run",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "Log level: trace, debug, info, warn, error, crit",
	}
	logColorFlag = &cli.BoolFlag{
		Name:  "log.color",
		Usage: "Colorize terminal log output",
	}
	constantsVersionFlag = &cli.StringFlag{
		Name:  "constants.version",
		Usage: "Versioned constants to execute with",
	}
	constantsFileFlag = &cli.StringFlag{
		Name:  "constants.file",
		Usage: "Load versioned constants from a TOML file",
	}
)

// Flags of the run command.
var (
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "Contract address to call",
		Required: true,
	}
	classHashFlag = &cli.StringFlag{
		Name:  "class-hash",
		Usage: "Deploy this class at the address before calling",
	}
	libraryFlag = &cli.BoolFlag{
		Name:  "library",
		Usage: "Run --class-hash as a library call in the address's storage instead of deploying it",
	}
	selectorFlag = &cli.StringFlag{
		Name:     "selector",
		Usage:    "Entry point name or selector felt",
		Required: true,
	}
	entryPointTypeFlag = &cli.StringFlag{
		Name:  "entry-point-type",
		Usage: "external, constructor or l1_handler",
		Value: "external",
	}
	calldataFlag = &cli.StringSliceFlag{
		Name:  "calldata",
		Usage: "Calldata felts, decimal or 0x-prefixed hex",
	}
	callerFlag = &cli.StringFlag{
		Name:  "caller",
		Usage: "Caller address",
		Value: "0x0",
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "Initial gas (0 = default initial gas cost)",
	}
	validateFlag = &cli.BoolFlag{
		Name:  "validate",
		Usage: "Run in account validation mode",
	}
	blockNumberFlag = &cli.Uint64Flag{
		Name:  "block.number",
		Usage: "Block number of the execution context",
	}
	blockTimestampFlag = &cli.Uint64Flag{
		Name:  "block.timestamp",
		Usage: "Block timestamp of the execution context",
	}
)

// Flags of the segments command.
var (
	treeFlag = &cli.StringFlag{
		Name:     "tree",
		Usage:    "Bytecode segment lengths as JSON, e.g. '[4,[2,3]]'",
		Required: true,
	}
	pcsFlag = &cli.StringFlag{
		Name:     "pcs",
		Usage:    "Comma separated visited program counters",
		Required: true,
	}
)
