// Package config loads the papercrawl configuration: built-in defaults, then
// a YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pevans/papercrawl"
	"github.com/pevans/papercrawl/extract"
	"github.com/pevans/papercrawl/fetch"
	"github.com/pevans/papercrawl/ledger"
	"github.com/pevans/papercrawl/logging"
	"github.com/pevans/papercrawl/pacing"
	"github.com/pevans/papercrawl/validity"
)

// DefaultOrigin is the newspaper site the article paths live under.
const DefaultOrigin = "https://rmydb.cnii.com.cn/html"

// LedgerConfig selects the run ledger database. An empty driver disables the
// ledger.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// APIConfig configures the status API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the complete configuration.
type Config struct {
	Origin   string `yaml:"origin"`
	IndexDir string `yaml:"index_dir"`
	StoreDir string `yaml:"store_dir"`

	// Optional RSS/Atom feed of article links used instead of index files
	FeedURL string `yaml:"feed_url"`

	Ledger   LedgerConfig        `yaml:"ledger"`
	Log      logging.Config      `yaml:"log"`
	API      APIConfig           `yaml:"api"`
	Pacing   pacing.Config       `yaml:"pacing"`
	Fetch    fetch.ChainConfig   `yaml:"fetch"`
	Browser  fetch.BrowserConfig `yaml:"browser"`
	Detector fetch.Detector      `yaml:"detector"`
	Extract  extract.Rules       `yaml:"extract"`
	Validity validity.Config     `yaml:"validity"`
	Run      papercrawl.Config   `yaml:"run"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Origin:   DefaultOrigin,
		IndexDir: "data",
		StoreDir: "articles",
		Ledger: LedgerConfig{
			Driver: ledger.DriverSQLite,
			DSN:    "papercrawl.db",
		},
		Log:      logging.DefaultConfig(),
		API:      APIConfig{Addr: ":8080"},
		Pacing:   pacing.DefaultConfig(),
		Fetch:    fetch.DefaultChainConfig(),
		Browser:  fetch.DefaultBrowserConfig(),
		Detector: fetch.DefaultDetector(),
		Extract:  extract.DefaultRules(),
		Validity: validity.DefaultConfig(),
		Run:      papercrawl.DefaultConfig(),
	}
}

// Environment variables that override the file
const (
	EnvConfig       = "PAPERCRAWL_CONFIG"
	EnvOrigin       = "PAPERCRAWL_ORIGIN"
	EnvIndexDir     = "PAPERCRAWL_INDEX_DIR"
	EnvStoreDir     = "PAPERCRAWL_STORE_DIR"
	EnvLedgerDriver = "PAPERCRAWL_LEDGER_DRIVER"
	EnvLedgerDSN    = "PAPERCRAWL_LEDGER_DSN"
	EnvLogLevel     = "PAPERCRAWL_LOG_LEVEL"
	EnvAPIAddr      = "PAPERCRAWL_API_ADDR"
)

// ApplyEnv overrides fields from the environment. Unset variables leave the
// field alone; a variable set to the empty string clears it.
func (c *Config) ApplyEnv() {
	for name, field := range map[string]*string{
		EnvOrigin:       &c.Origin,
		EnvIndexDir:     &c.IndexDir,
		EnvStoreDir:     &c.StoreDir,
		EnvLedgerDriver: &c.Ledger.Driver,
		EnvLedgerDSN:    &c.Ledger.DSN,
		EnvLogLevel:     &c.Log.Level,
		EnvAPIAddr:      &c.API.Addr,
	} {
		if value, ok := os.LookupEnv(name); ok {
			*field = value
		}
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.Origin, "http://") && !strings.HasPrefix(c.Origin, "https://") {
		errs = append(errs, fmt.Errorf("origin must be an http(s) URL, got %q", c.Origin))
	}
	if c.StoreDir == "" {
		errs = append(errs, errors.New("store_dir is required"))
	}
	switch c.Ledger.Driver {
	case "", ledger.DriverSQLite, ledger.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("ledger: %w %q", ledger.ErrUnsupportedDriver, c.Ledger.Driver))
	}
	if c.Ledger.Driver != "" && c.Ledger.DSN == "" {
		errs = append(errs, errors.New("ledger: dsn is required"))
	}

	for section, err := range map[string]error{
		"log":      c.Log.Validate(),
		"pacing":   c.Pacing.Validate(),
		"fetch":    c.Fetch.Validate(),
		"extract":  c.Extract.Validate(),
		"validity": c.Validity.Validate(),
		"run":      c.Run.Validate(),
	} {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	return errors.Join(errs...)
}

// RunConfig returns the orchestrator settings with the origin filled in.
func (c *Config) RunConfig() papercrawl.Config {
	run := c.Run
	run.Origin = c.Origin
	return run
}
