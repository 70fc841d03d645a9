package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/opkind"
	yaml "gopkg.in/yaml.v2"
)

// Config is the global, process-singleton configuration record. It is
// read-only once the dispatcher is live; this package does not model
// live reconfiguration.
type Config struct {
	BackingDir   string
	LogSink      string
	LogLevel     string
	MasterEnable bool

	Error       *ErrorFault
	Corruption  *CorruptionFault
	Delay       *DelayFault
	Timing      *TimingFault
	Count       *CountFault
	Partial     *PartialFault
}

// ErrorFault: with probability p, when kind is in mask, the operation
// fails immediately with ErrorCode.
type ErrorFault struct {
	Probability float64
	ErrorCode   int
	Mask        opkind.Mask
}

// CorruptionFault: for write, with probability p, replace
// ceil(size*percentage/100) randomly chosen byte positions with random
// bytes. Silent is reserved and always treated as true in this scope.
type CorruptionFault struct {
	Probability float64
	Percentage  float64
	Silent      bool
	Mask        opkind.Mask
}

// DelayFault: with probability p, block the calling thread for DelayMs
// before continuing.
type DelayFault struct {
	Probability float64
	DelayMs     int
	Mask        opkind.Mask
}

// TimingFault: while enabled, once AfterMinutes have elapsed since
// engine init, every subsequent operation with its bit set fails with
// the engine's generic I/O error.
type TimingFault struct {
	Enabled      bool
	AfterMinutes int
	Mask         opkind.Mask
}

// CountFault: while enabled, fails with the generic I/O error if
// total_ops mod EveryNOperations == 0, or cumulative bytes read+written
// reach AfterBytes, for an operation whose bit is set.
type CountFault struct {
	Enabled          bool
	EveryNOperations int
	AfterBytes       int64
	Mask             opkind.Mask
}

// PartialFault: for read/write, with probability p, reduce the
// requested byte count to max(1, floor(size*factor)).
type PartialFault struct {
	Probability float64
	Factor      float64
	Mask        opkind.Mask
}

// genericIOError is the injected error code used by timing and count
// faults: POSIX EIO, negated per the host binding's convention.
const genericIOError = -5

// GenericIOError returns the engine's generic I/O error code.
func GenericIOError() int { return genericIOError }

// New returns a configuration with compiled-in defaults: master
// disabled, no fault records, empty backing directory (the caller must
// supply one before mounting).
func New() *Config {
	return &Config{
		LogLevel:     "INFO",
		MasterEnable: false,
	}
}

// LoadEnv seeds global settings from NAS_* environment variables, per
// the external interfaces contract. It is applied after compiled-in
// defaults and before the config file, per the documented precedence.
func LoadEnv(c *Config) {
	if v := os.Getenv("NAS_MOUNT_POINT"); v != "" {
		// mount point is consumed by cmd/nasfaultfs directly; config
		// only tracks the backing/storage path.
		_ = v
	}
	if v := os.Getenv("NAS_STORAGE_PATH"); v != "" {
		c.BackingDir = v
	}
	if v := os.Getenv("NAS_LOG_FILE"); v != "" {
		c.LogSink = v
	}
	if v := os.Getenv("NAS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Flags holds command-line overrides, applied last (highest
// precedence).
type Flags struct {
	MountPoint string
	Storage    string
	Log        string
	LogLevel   string
	Config     string
}

// ApplyFlags overlays non-empty command-line values onto c.
func ApplyFlags(c *Config, f *Flags) {
	if f == nil {
		return
	}
	if f.Storage != "" {
		c.BackingDir = f.Storage
	}
	if f.Log != "" {
		c.LogSink = f.Log
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
}

// dumpView is the introspectable projection of Config: masks rendered
// as comma-separated operation names instead of a raw bitset, and
// unset fault records simply absent, so operators can eyeball the
// resolved configuration the way they would have written it.
type dumpView struct {
	BackingDir   string `yaml:"storage_path" toml:"storage_path"`
	LogSink      string `yaml:"log_file" toml:"log_file"`
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	MasterEnable bool   `yaml:"enable_fault_injection" toml:"enable_fault_injection"`

	Error      *errorFaultView      `yaml:"error_fault,omitempty" toml:"error_fault,omitempty"`
	Corruption *corruptionFaultView `yaml:"corruption_fault,omitempty" toml:"corruption_fault,omitempty"`
	Delay      *delayFaultView      `yaml:"delay_fault,omitempty" toml:"delay_fault,omitempty"`
	Timing     *timingFaultView     `yaml:"timing_fault,omitempty" toml:"timing_fault,omitempty"`
	Count      *countFaultView      `yaml:"operation_count_fault,omitempty" toml:"operation_count_fault,omitempty"`
	Partial    *partialFaultView    `yaml:"partial_fault,omitempty" toml:"partial_fault,omitempty"`
}

type errorFaultView struct {
	Probability float64 `yaml:"probability" toml:"probability"`
	ErrorCode   int     `yaml:"error_code" toml:"error_code"`
	Operations  string  `yaml:"operations" toml:"operations"`
}

type corruptionFaultView struct {
	Probability float64 `yaml:"probability" toml:"probability"`
	Percentage  float64 `yaml:"percentage" toml:"percentage"`
	Silent      bool    `yaml:"silent" toml:"silent"`
	Operations  string  `yaml:"operations" toml:"operations"`
}

type delayFaultView struct {
	Probability float64 `yaml:"probability" toml:"probability"`
	DelayMs     int     `yaml:"delay_ms" toml:"delay_ms"`
	Operations  string  `yaml:"operations" toml:"operations"`
}

type timingFaultView struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	AfterMinutes int    `yaml:"after_minutes" toml:"after_minutes"`
	Operations   string `yaml:"operations" toml:"operations"`
}

type countFaultView struct {
	Enabled          bool   `yaml:"enabled" toml:"enabled"`
	EveryNOperations int    `yaml:"every_n_operations" toml:"every_n_operations"`
	AfterBytes       int64  `yaml:"after_bytes" toml:"after_bytes"`
	Operations       string `yaml:"operations" toml:"operations"`
}

type partialFaultView struct {
	Probability float64 `yaml:"probability" toml:"probability"`
	Factor      float64 `yaml:"factor" toml:"factor"`
	Operations  string  `yaml:"operations" toml:"operations"`
}

func (c *Config) view() dumpView {
	v := dumpView{
		BackingDir:   c.BackingDir,
		LogSink:      c.LogSink,
		LogLevel:     c.LogLevel,
		MasterEnable: c.MasterEnable,
	}
	if c.Error != nil {
		v.Error = &errorFaultView{c.Error.Probability, c.Error.ErrorCode, c.Error.Mask.String()}
	}
	if c.Corruption != nil {
		v.Corruption = &corruptionFaultView{c.Corruption.Probability, c.Corruption.Percentage, c.Corruption.Silent, c.Corruption.Mask.String()}
	}
	if c.Delay != nil {
		v.Delay = &delayFaultView{c.Delay.Probability, c.Delay.DelayMs, c.Delay.Mask.String()}
	}
	if c.Timing != nil {
		v.Timing = &timingFaultView{c.Timing.Enabled, c.Timing.AfterMinutes, c.Timing.Mask.String()}
	}
	if c.Count != nil {
		v.Count = &countFaultView{c.Count.Enabled, c.Count.EveryNOperations, c.Count.AfterBytes, c.Count.Mask.String()}
	}
	if c.Partial != nil {
		v.Partial = &partialFaultView{c.Partial.Probability, c.Partial.Factor, c.Partial.Mask.String()}
	}
	return v
}

// Dump renders the resolved configuration for operator introspection,
// in "yaml", "toml" or "text" (a plain %+v dump, the fallback for
// anything else). It is diagnostic only - Load, not Dump, is the
// source of truth for what the engine actually runs with.
func (c *Config) Dump(format string) ([]byte, error) {
	v := c.view()
	switch format {
	case "yaml":
		return yaml.Marshal(v)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("config: toml encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return []byte(fmt.Sprintf("%+v\n", v)), nil
	}
}
