// stratus-exec runs contract entry points against a local class store and
// contract state.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var app = &cli.App{
	Name:    filepath.Base(os.Args[0]),
	Usage:   "Contract execution core: run entry points, declare classes, inspect segments",
	Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
	Flags: []cli.Flag{
		configFileFlag,
		dataDirFlag,
		inMemoryFlag,
		logLevelFlag,
		logColorFlag,
		constantsVersionFlag,
		constantsFileFlag,
	},
	Before: setupLogging,
	Commands: []*cli.Command{
		runCommand,
		declareCommand,
		classesCommand,
		segmentsCommand,
		constantsCommand,
		dumpConfigCommand,
	},
}

// makeAppConfig loads the configuration file, if any, and applies the global
// flags on top of it.
func makeAppConfig(ctx *cli.Context) (*appConfig, error) {
	config := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadTOMLConfig(file, &config); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", file, err)
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		config.Store.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(inMemoryFlag.Name) {
		config.Store.InMemory = ctx.Bool(inMemoryFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		config.Log.Level = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logColorFlag.Name) {
		config.Log.Color = ctx.Bool(logColorFlag.Name)
	}
	if ctx.IsSet(constantsVersionFlag.Name) {
		config.Block.ConstantsVersion = ctx.String(constantsVersionFlag.Name)
	}
	if ctx.IsSet(constantsFileFlag.Name) {
		config.Block.ConstantsFile = ctx.String(constantsFileFlag.Name)
	}
	return &config, nil
}

func setupLogging(ctx *cli.Context) error {
	config, err := makeAppConfig(ctx)
	if err != nil {
		return err
	}
	lvl, err := log.LvlFromString(config.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, config.Log.Color)))
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
