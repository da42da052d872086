package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

// TestNetParams checks the lookup of networks by name.
func TestNetParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    *chaincfg.Params
		wantErr bool
	}{
		{name: "mainnet", want: &chaincfg.MainNetParams},
		{name: "testnet3", want: &chaincfg.TestNet3Params},
		{name: "regtest", want: &chaincfg.RegressionNetParams},
		{name: "simnet", want: &chaincfg.SimNetParams},
		{name: "signet", want: &chaincfg.SigNetParams},
		{name: "moonnet", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			params, err := netParams(tc.name)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Same(t, tc.want, params)
		})
	}
}

// TestParseOutput checks the parsing of --to values.
func TestParseOutput(t *testing.T) {
	t.Parallel()

	const addr = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"

	tests := []struct {
		name    string
		input   string
		amount  btcutil.Amount
		wantErr bool
	}{
		{name: "whole coins", input: addr + ":1", amount: 1e8},
		{name: "fraction", input: addr + ":0.0005", amount: 50000},
		{name: "missing amount", input: addr, wantErr: true},
		{name: "missing address", input: ":1", wantErr: true},
		{name: "bad amount", input: addr + ":lots", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			output, err := parseOutput(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, errInvalidOutput)
				return
			}

			require.NoError(t, err)
			require.Equal(t, addr, output.Address)
			require.Equal(t, tc.amount, output.Amount)
		})
	}
}

// TestParseAndSetDebugLevels checks global and per subsystem levels.
func TestParseAndSetDebugLevels(t *testing.T) {
	// Arrange and act: set every subsystem to debug.
	require.NoError(t, parseAndSetDebugLevels("debug"))

	// Assert: all loggers follow.
	for _, id := range supportedSubsystems() {
		require.Equal(t, btclog.LevelDebug, subsystemLoggers[id].Level())
	}

	// Act: override two subsystems.
	require.NoError(t, parseAndSetDebugLevels("HDAC=trace,HDDB=error"))

	// Assert: only those change, and malformed levels are refused.
	require.Equal(t, btclog.LevelTrace, acctLog.Level())
	require.Equal(t, btclog.LevelError, dbLog.Level())
	require.Equal(t, btclog.LevelDebug, log.Level())

	for _, bad := range []string{"loud", "HDAC", "NOPE=info", "HDAC=loud"} {
		require.Error(t, parseAndSetDebugLevels(bad), bad)
	}
}

// TestCleanAndExpandPath checks the expansion of environment variables.
func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("HDACCOUNT_TEST_DIR", "/tmp/hd")

	require.Equal(
		t, "/tmp/hd/logs", cleanAndExpandPath("$HDACCOUNT_TEST_DIR//logs/"),
	)
}
