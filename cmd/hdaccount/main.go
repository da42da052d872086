// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
)

// commands lists every subcommand with its short and long description.
var commands = []struct {
	name  string
	short string
	long  string
	cmd   flags.Commander
}{
	{"create", "Create an account", "Create an account from fresh entropy, encrypting its secrets with a new password.", &createCommand{}},
	{"restore", "Restore an account from seed words", "Restore a keyed account from its BIP39 seed words.", &restoreCommand{}},
	{"watch", "Watch an account", "Create a watch-only account from an account extended public key.", &watchCommand{}},
	{"balance", "Show the balance", "Show the balance of one or every account.", &balanceCommand{}},
	{"receive", "Show the receiving address", "Show the current receiving address of an account.", &receiveCommand{}},
	{"newaddress", "Issue a new receiving address", "Issue a new receiving address unless too many are unused.", &newAddressCommand{}},
	{"send", "Build a transaction", "Build and sign a transaction, or build an unsigned PSBT for a watch-only account.", &sendCommand{}},
	{"seedwords", "Show the seed words", "Decrypt and show the seed words of a keyed account.", &seedWordsCommand{}},
	{"xpub", "Show the account extended public key", "Show the extended public key at m/44'/0'/0'.", &xpubCommand{}},
	{"checkpassword", "Check the password", "Check a password against the stored seed.", &checkPasswordCommand{}},
	{"filter", "Build the SPV bloom filter", "Build the bloom filter matching the addresses and change outputs of an account.", &filterCommand{}},
}

// newParser returns the command line parser over cfg.
func newParser() (*flags.Parser, error) {
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.cmd)
		if err != nil {
			return nil, err
		}
	}

	// Options are validated once every source is parsed.
	parser.CommandHandler = func(command flags.Commander,
		args []string) error {

		if err := cfg.validate(); err != nil {
			return err
		}

		return command.Execute(args)
	}

	return parser, nil
}

// configFilePath pre-parses the command line for the config file option.
func configFilePath() string {
	preCfg := *cfg
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	_, _ = preParser.Parse()

	return cleanAndExpandPath(preCfg.ConfigFile)
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	shutdownCtx = ctx

	parser, err := newParser()
	if err != nil {
		return err
	}

	if err := loadIniFile(parser, configFilePath()); err != nil {
		return err
	}

	_, err = parser.Parse()

	return err
}

func main() {
	err := run()
	closeLogRotator()

	if err == nil {
		return
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Println(err)
		return
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
