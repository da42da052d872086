// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hdaccount/account"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/kvdb"
	"github.com/btcsuite/hdaccount/internal/feerate"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "hdaccount.conf"
	defaultLogFilename    = "hdaccount.log"
	defaultLogDirname     = "logs"
	defaultDebugLevel     = "info"

	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendBolt     = "bolt"

	// boltOpenTimeout bounds the wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

var (
	defaultAppDataDir = btcutil.AppDataDir("hdaccount", false)

	// errMissingDSN is returned when the postgres backend is selected
	// without a connection string.
	errMissingDSN = errors.New("--pgdsn is required by the postgres " +
		"backend")
)

// config holds the options shared by every command.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir string `short:"A" long:"appdata" description:"Application data directory for databases and logs"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Network   string `long:"network" description:"Bitcoin network {mainnet, testnet3, regtest, simnet, signet}"`
	DBBackend string `long:"dbbackend" description:"Storage backend {sqlite, postgres, bolt}"`
	PgDSN     string `long:"pgdsn" description:"PostgreSQL connection string, required by the postgres backend"`

	FeeRate uint32 `long:"feerate" description:"Fee rate of built transactions in sat/vB, 0 for the relay fee"`

	params *chaincfg.Params
}

// cfg is filled by loadConfig before any command runs.
var cfg = &config{
	ConfigFile: filepath.Join(defaultAppDataDir, defaultConfigFilename),
	AppDataDir: defaultAppDataDir,
	DebugLevel: defaultDebugLevel,
	Network:    chaincfg.MainNetParams.Name,
	DBBackend:  backendSQLite,
}

// netParams returns the parameters of a network by name.
func netParams(name string) (*chaincfg.Params, error) {
	for _, params := range []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.RegressionNetParams,
		&chaincfg.SimNetParams,
		&chaincfg.SigNetParams,
	} {
		if params.Name == name {
			return params, nil
		}
	}

	return nil, fmt.Errorf("unknown network %q", name)
}

// cleanAndExpandPath expands a leading ~ and cleans the path.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// loadIniFile applies the options of the config file, if it exists. A
// missing default config file is not an error.
func loadIniFile(parser *flags.Parser, path string) error {
	err := flags.NewIniParser(parser).ParseFile(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return nil
	}

	return fmt.Errorf("parse config file %s: %w", path, err)
}

// validate resolves paths and the network and starts the log rotator.
func (c *config) validate() error {
	c.AppDataDir = cleanAndExpandPath(c.AppDataDir)
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.AppDataDir, defaultLogDirname)
	}
	c.LogDir = cleanAndExpandPath(c.LogDir)

	params, err := netParams(c.Network)
	if err != nil {
		return err
	}
	c.params = params

	switch c.DBBackend {
	case backendSQLite, backendBolt:
	case backendPostgres:
		if c.PgDSN == "" {
			return errMissingDSN
		}
	default:
		return fmt.Errorf("unknown db backend %q", c.DBBackend)
	}

	if err := initLogRotator(filepath.Join(
		c.LogDir, c.params.Name, defaultLogFilename,
	)); err != nil {
		return err
	}

	return parseAndSetDebugLevels(c.DebugLevel)
}

// netDir is the per network data directory.
func (c *config) netDir() string {
	return filepath.Join(c.AppDataDir, c.params.Name)
}

// openStore opens the configured storage backend.
func (c *config) openStore() (db.Store, error) {
	switch c.DBBackend {
	case backendPostgres:
		return db.OpenPostgresStore(c.PgDSN, c.params)

	case backendBolt:
		if err := os.MkdirAll(c.netDir(), 0700); err != nil {
			return nil, err
		}

		return kvdb.Open(
			filepath.Join(c.netDir(), "hdaccount.bolt"),
			boltOpenTimeout, c.params,
		)

	default:
		if err := os.MkdirAll(c.netDir(), 0700); err != nil {
			return nil, err
		}

		return db.OpenSQLiteStore(
			filepath.Join(c.netDir(), "hdaccount.db"), c.params,
		)
	}
}

// accountConfig returns the engine config over store.
func (c *config) accountConfig(store db.Store) account.Config {
	return account.Config{
		Store:       store,
		ChainParams: c.params,
		Notifier:    logNotifier{},
		FeeRate:     feerate.SatPerVByte(c.FeeRate).FeePerKVByte(),
	}
}
