package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/naoina/toml"

	"github.com/fortiblox/stratus-exec/internal/types"
	"github.com/fortiblox/stratus-exec/pkg/blockctx"
	"github.com/fortiblox/stratus-exec/pkg/constants"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// StoreConfig configures the class store and the contract state.
type StoreConfig struct {
	DataDir        string
	ClassCacheSize int
	NoSync         bool
	// InMemory keeps contract state in memory. Classes are still persisted.
	InMemory bool
}

// BlockConfig is the block context calls run in.
type BlockConfig struct {
	Number           uint64
	Timestamp        uint64
	SequencerAddress string
	ChainID          string
	// ConstantsVersion selects an embedded constants version. ConstantsFile,
	// when set, takes precedence.
	ConstantsVersion string
	ConstantsFile    string `toml:",omitempty"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level string
	Color bool
}

type appConfig struct {
	Store StoreConfig
	Block BlockConfig
	Log   LogConfig
}

func defaultConfig() appConfig {
	return appConfig{
		Store: StoreConfig{
			DataDir:        "stratus-data",
			ClassCacheSize: 256,
		},
		Block: BlockConfig{
			ChainID:          "SN_SEPOLIA",
			ConstantsVersion: constants.LatestVersion,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func loadTOMLConfig(filename string, conf *appConfig) error {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return tomlSettings.Unmarshal(buf, conf)
}

func (c *StoreConfig) classesPath() string {
	return filepath.Join(c.DataDir, "classes.db")
}

func (c *StoreConfig) statePath() string {
	return filepath.Join(c.DataDir, "state")
}

func (c *BlockConfig) versionedConstants() (*constants.VersionedConstants, error) {
	if c.ConstantsFile != "" {
		return constants.Load(c.ConstantsFile)
	}
	return constants.Get(c.ConstantsVersion)
}

// blockContext builds the block context. ChainID is a short string unless
// it parses as a number.
func (c *BlockConfig) blockContext() (*blockctx.BlockContext, error) {
	vc, err := c.versionedConstants()
	if err != nil {
		return nil, err
	}
	var sequencer types.Felt
	if c.SequencerAddress != "" {
		if sequencer, err = types.FeltFromString(c.SequencerAddress); err != nil {
			return nil, fmt.Errorf("sequencer address: %w", err)
		}
	}
	chainID, err := types.FeltFromString(c.ChainID)
	if err != nil {
		if chainID, err = types.ShortString(c.ChainID); err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	return &blockctx.BlockContext{
		Block: blockctx.BlockInfo{
			BlockNumber:      c.Number,
			BlockTimestamp:   c.Timestamp,
			SequencerAddress: sequencer,
		},
		Chain:     blockctx.ChainInfo{ChainID: chainID},
		Constants: vc,
	}, nil
}
