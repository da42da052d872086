package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/account"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/sync/errgroup"
)

var (
	// errGapLimit is returned when no new receiving address may be
	// issued before one of the issued ones receives funds.
	errGapLimit = errors.New("too many unused receiving addresses")

	// errInvalidOutput is returned for a malformed --to value.
	errInvalidOutput = errors.New("output must be address:amount")
)

// shutdownCtx is cancelled on interrupt.
var shutdownCtx = context.Background()

// AccountOption selects the account a command runs on.
type AccountOption struct {
	Account uint32 `short:"a" long:"account" default:"1" description:"Account id"`
}

// logNotifier logs the balance events of the engine.
type logNotifier struct{}

func (logNotifier) NotifyTx(placeholder string, tx *db.TxDetails,
	typ account.NotificationType, delta btcutil.Amount) {

	if tx == nil {
		log.Infof("%s %v, balance delta %v", placeholder, typ, delta)
		return
	}

	log.Infof("%s %v tx %v, balance delta %v", placeholder, typ, tx.Hash,
		delta)
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(store db.Store) error) error {
	store, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Unable to close store: %v", err)
		}
	}()

	return fn(store)
}

// withAccount opens account id for the duration of fn.
func withAccount(id uint32, fn func(a *account.HDAccount) error) error {
	return withStore(func(store db.Store) error {
		acfg := cfg.accountConfig(store)

		a, err := account.Open(shutdownCtx, acfg, id)
		if err != nil {
			return fmt.Errorf("open account %d: %w", id, err)
		}

		return fn(a)
	})
}

// progressLogger reports the initial address generation.
func progressLogger(id string) func(float64) {
	return func(progress float64) {
		log.Debugf("Generating addresses of %s: %.0f%%", id, progress*100)
	}
}

// printCreated prints the id and first receiving address of a new account.
func printCreated(a *account.HDAccount) error {
	addr, err := a.ReceivingAddress(shutdownCtx)
	if err != nil {
		return err
	}

	fmt.Printf("Account %d\nReceiving address %s\n", a.ID(), addr)

	return nil
}

type createCommand struct {
	ShowSeed bool `long:"showseed" description:"Print the seed words of the new account"`
}

func (c *createCommand) Execute(_ []string) error {
	password, err := promptPassword("New password", true)
	if err != nil {
		return err
	}

	return withStore(func(store db.Store) error {
		acfg := cfg.accountConfig(store)

		a, err := account.Create(shutdownCtx, acfg, password,
			account.Options{
				SyncComplete:     true,
				FromSecureRandom: true,
				Progress:         progressLogger("new account"),
			})
		if err != nil {
			return err
		}

		if c.ShowSeed {
			words, err := a.SeedWords(shutdownCtx, password)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(words, " "))
		}

		return printCreated(a)
	})
}

type restoreCommand struct{}

func (c *restoreCommand) Execute(_ []string) error {
	mnemonic, err := promptLine("Seed words")
	if err != nil {
		return err
	}
	entropy, err := bip39.EntropyFromMnemonic(
		strings.Join(strings.Fields(mnemonic), " "),
	)
	if err != nil {
		return err
	}

	password, err := promptPassword("New password", true)
	if err != nil {
		return err
	}

	return withStore(func(store db.Store) error {
		acfg := cfg.accountConfig(store)

		a, err := account.ImportMnemonicSeed(shutdownCtx, acfg,
			entropy, password, account.Options{
				Progress: progressLogger("restored account"),
			})
		if err != nil {
			return err
		}

		return printCreated(a)
	})
}

type watchCommand struct {
	XPub string `long:"xpub" required:"true" description:"Extended public key of the account"`
}

func (c *watchCommand) Execute(_ []string) error {
	return withStore(func(store db.Store) error {
		acfg := cfg.accountConfig(store)

		a, err := account.NewWatchOnly(shutdownCtx, acfg, c.XPub,
			account.Options{
				Progress: progressLogger("watch-only account"),
			})
		if err != nil {
			return err
		}

		return printCreated(a)
	})
}

type balanceCommand struct {
	All    bool          `long:"all" description:"Show every account"`
	Follow time.Duration `long:"follow" description:"Refresh the balance at this interval until interrupted"`
	AccountOption
}

// refreshBalances recomputes the balance of every account concurrently.
func refreshBalances(ctx context.Context, accounts []*account.HDAccount) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range accounts {
		g.Go(func() error {
			return a.UpdateBalance(gctx)
		})
	}

	return g.Wait()
}

func printBalances(accounts []*account.HDAccount) {
	for _, a := range accounts {
		kind := "keyed"
		if !a.HasPrivateKey() {
			kind = "watch-only"
		}
		fmt.Printf("%d\t%s\t%v\n", a.ID(), kind, a.Balance())
	}
}

func (c *balanceCommand) Execute(_ []string) error {
	return withStore(func(store db.Store) error {
		acfg := cfg.accountConfig(store)

		ids := []uint32{c.Account}
		if c.All {
			infos, err := store.ListAccounts(shutdownCtx)
			if err != nil {
				return err
			}

			ids = ids[:0]
			for _, info := range infos {
				ids = append(ids, info.ID)
			}
		}

		accounts := make([]*account.HDAccount, 0, len(ids))
		for _, id := range ids {
			a, err := account.Open(shutdownCtx, acfg, id)
			if err != nil {
				return fmt.Errorf("open account %d: %w", id, err)
			}
			accounts = append(accounts, a)
		}
		printBalances(accounts)

		if c.Follow <= 0 {
			return nil
		}

		t := ticker.New(c.Follow)
		t.Resume()
		defer t.Stop()

		for {
			select {
			case <-t.Ticks():
				err := refreshBalances(shutdownCtx, accounts)
				if err != nil {
					return err
				}
				printBalances(accounts)

			case <-shutdownCtx.Done():
				return nil
			}
		}
	})
}

type receiveCommand struct {
	AccountOption
}

func (c *receiveCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		addr, err := a.ReceivingAddress(shutdownCtx)
		if err != nil {
			return err
		}
		fmt.Println(addr)

		return nil
	})
}

type newAddressCommand struct {
	AccountOption
}

func (c *newAddressCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		ok, err := a.RequestNewReceivingAddress(shutdownCtx)
		if err != nil {
			return err
		}
		if !ok {
			return errGapLimit
		}

		addr, err := a.ReceivingAddress(shutdownCtx)
		if err != nil {
			return err
		}
		fmt.Println(addr)

		return nil
	})
}

// parseOutput parses an address:amount pair, the amount in BTC.
func parseOutput(s string) (account.Output, error) {
	addr, amountStr, found := strings.Cut(s, ":")
	if !found || addr == "" {
		return account.Output{}, fmt.Errorf("%w: %q", errInvalidOutput, s)
	}

	btc, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return account.Output{}, fmt.Errorf("%w: %q: %w",
			errInvalidOutput, s, err)
	}
	amount, err := btcutil.NewAmount(btc)
	if err != nil {
		return account.Output{}, err
	}

	return account.Output{Address: addr, Amount: amount}, nil
}

type sendCommand struct {
	To   []string `long:"to" required:"true" description:"Payment as address:amount in BTC, may be repeated"`
	PSBT bool     `long:"psbt" description:"Print an unsigned PSBT instead of signing"`
	AccountOption
}

func (c *sendCommand) Execute(_ []string) error {
	outputs := make([]account.Output, 0, len(c.To))
	for _, to := range c.To {
		output, err := parseOutput(to)
		if err != nil {
			return err
		}
		outputs = append(outputs, output)
	}

	return withAccount(c.Account, func(a *account.HDAccount) error {
		if c.PSBT || !a.HasPrivateKey() {
			packet, err := a.BuildUnsigned(shutdownCtx, outputs)
			if err != nil {
				return err
			}

			encoded, err := packet.B64Encode()
			if err != nil {
				return err
			}
			fmt.Println(encoded)

			return nil
		}

		password, err := promptPassword("Password", false)
		if err != nil {
			return err
		}

		tx, err := a.BuildAndSign(shutdownCtx, outputs, password)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := tx.Tx.Serialize(&buf); err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(buf.Bytes()))

		return nil
	})
}

type seedWordsCommand struct {
	AccountOption
}

func (c *seedWordsCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		password, err := promptPassword("Password", false)
		if err != nil {
			return err
		}

		words, err := a.SeedWords(shutdownCtx, password)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(words, " "))

		return nil
	})
}

type xpubCommand struct {
	AccountOption
}

func (c *xpubCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		password, err := promptPassword("Password", false)
		if err != nil {
			return err
		}

		xpub, err := a.AccountXPub(shutdownCtx, password)
		if err != nil {
			return err
		}
		fmt.Println(xpub)

		return nil
	})
}

type checkPasswordCommand struct {
	AccountOption
}

func (c *checkPasswordCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		password, err := promptPassword("Password", false)
		if err != nil {
			return err
		}

		if !a.CheckPassword(shutdownCtx, password) {
			return account.ErrWrongPassword
		}
		fmt.Println("Password is correct")

		return nil
	})
}

type filterCommand struct {
	FPRate float64 `long:"fprate" default:"0.0001" description:"False positive rate of the bloom filter"`
	Tweak  uint32  `long:"tweak" description:"Bloom filter tweak"`
	AccountOption
}

func (c *filterCommand) Execute(_ []string) error {
	return withAccount(c.Account, func(a *account.HDAccount) error {
		count, err := a.FilterElementCount(shutdownCtx)
		if err != nil {
			return err
		}

		filter, err := a.BloomFilter(
			shutdownCtx, c.FPRate, c.Tweak, wire.BloomUpdateAll,
		)
		if err != nil {
			return err
		}
		msg := filter.MsgFilterLoad()

		fmt.Printf("Elements %d\nHash functions %d\nFilter %s\n", count,
			msg.HashFuncs, hex.EncodeToString(msg.Filter))

		return nil
	})
}
