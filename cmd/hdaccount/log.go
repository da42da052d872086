package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/hdaccount/account"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/kvdb"
	"github.com/jrick/logrotate/rotator"
)

// logWriter writes to standard error and, once initialized, to the log
// rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stderr.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

var (
	// backendLog creates every subsystem logger.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is nil until initLogRotator is called.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("CMD")
	acctLog = backendLog.Logger("HDAC")
	dbLog   = backendLog.Logger("HDDB")
	kvdbLog = backendLog.Logger("KVDB")
)

// subsystemLoggers maps each subsystem tag to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"CMD":  log,
	"HDAC": acctLog,
	"HDDB": dbLog,
	"KVDB": kvdbLog,
}

func init() {
	account.UseLogger(acctLog)
	db.UseLogger(dbLog)
	kvdb.UseLogger(kvdbLog)
}

// initLogRotator starts writing logs to logFile, rolling it every 10 MiB.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}
	logRotator = r

	return nil
}

// closeLogRotator flushes the log file, if any.
func closeLogRotator() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// setLogLevel sets the level of one subsystem. Unknown subsystems are
// ignored.
func setLogLevel(subsystem string, level btclog.Level) {
	if logger, ok := subsystemLoggers[subsystem]; ok {
		logger.SetLevel(level)
	}
}

// supportedSubsystems returns the sorted subsystem tags.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		subsystems = append(subsystems, id)
	}
	sort.Strings(subsystems)

	return subsystems
}

// parseAndSetDebugLevels applies either a single level to every subsystem
// or a comma separated list of subsystem=level pairs.
func parseAndSetDebugLevels(debugLevel string) error {
	if !strings.ContainsAny(debugLevel, ",=") {
		level, ok := btclog.LevelFromString(debugLevel)
		if !ok {
			return fmt.Errorf("invalid debug level %q", debugLevel)
		}
		for id := range subsystemLoggers {
			setLogLevel(id, level)
		}

		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		subsystem, levelStr, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("invalid subsystem/level pair %q", pair)
		}

		if _, ok := subsystemLoggers[subsystem]; !ok {
			return fmt.Errorf("invalid subsystem %q, supported "+
				"subsystems %v", subsystem, supportedSubsystems())
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return fmt.Errorf("invalid debug level %q", levelStr)
		}
		setLogLevel(subsystem, level)
	}

	return nil
}
