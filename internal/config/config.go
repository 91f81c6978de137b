// Package config loads krace's run configuration from a YAML document:
// ledger cap, deny-list file paths, compile-database path, output
// directory and the analysis tunables.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sslab-gatech/krace/internal/constants"
)

// Config is the full set of tunables an analysis run accepts beyond the
// ledger file itself.
type Config struct {
	// LedgerCap is the maximum byte_cursor a ledger header may declare.
	// Zero means use the built-in default.
	LedgerCap uint64 `yaml:"ledger_cap"`

	// DenyListFiles are extra deny-list sources merged on top of the
	// built-in set.
	DenyListFiles []string `yaml:"deny_list_files"`

	// OutputDir is where console, console-racer, console-error and
	// races.json are written.
	OutputDir string `yaml:"output_dir"`

	// CompileDatabasePath points at the JSON compile database (internal/cdb)
	// used to resolve hashes to source locations. Optional.
	CompileDatabasePath string `yaml:"compile_database_path"`

	// HBRecursionDepth overrides the recursive-to-iterative HB fallback
	// threshold.
	HBRecursionDepth int `yaml:"hb_recursion_depth"`

	// CompressConsole enables zstd compression of the console transcript
	// for very large runs.
	CompressConsole bool `yaml:"compress_console"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this
	// loopback address for the duration of the run.
	MetricsAddr string `yaml:"metrics_addr"`

	// ReportInterruptRaces controls whether races where both participants
	// run in interrupt context are reported instead of silently skipped.
	// Same-CPU interrupt races are usually expected non-races in kernel
	// code, so this defaults to false.
	ReportInterruptRaces bool `yaml:"report_interrupt_races"`
}

// Default returns a Config with every optional field set to its built-in
// default.
func Default() *Config {
	return &Config{
		LedgerCap:        constants.DefaultLedgerCap,
		OutputDir:        ".",
		HBRecursionDepth: constants.DefaultHBRecursionDepth,
	}
}

// Load reads and parses a YAML config file at path, filling in any field
// left zero-valued with its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LedgerCap == 0 {
		c.LedgerCap = constants.DefaultLedgerCap
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.HBRecursionDepth == 0 {
		c.HBRecursionDepth = constants.DefaultHBRecursionDepth
	}
}
