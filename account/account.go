// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package account implements a BIP44 HD account: a pair of deterministically
// derived P2PKH address chains with look-ahead supply, balance tracking over
// confirmed and unconfirmed transactions, transaction building and signing,
// and the SPV filter elements the account needs to be watched.
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/feerate"
	"github.com/btcsuite/hdaccount/internal/keychain"
	"github.com/btcsuite/hdaccount/internal/seedcrypt"
	"github.com/btcsuite/hdaccount/internal/zero"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/tyler-smith/go-bip39"
)

const (
	// LookAheadSize is the number of unissued addresses kept generated
	// beyond the issued index of each chain.
	LookAheadSize = 100

	// MaxUnusedNewAddressCount is the longest run of never used receiving
	// addresses that RequestNewReceivingAddress will hand out.
	MaxUnusedNewAddressCount = 20

	// GenerationPreStartProgress is the progress reported once the chain
	// roots are derived, before the first address.
	GenerationPreStartProgress = 0.01

	// TxPageSize is the number of transactions returned per page by Txs.
	TxPageSize = 20

	// EntropySize is the size of the mnemonic entropy of a new account,
	// giving a 12 word mnemonic.
	EntropySize = 16
)

// Config holds the collaborators of an account.
type Config struct {
	// Store persists the account, its addresses and its transactions.
	Store db.Store

	// ChainParams selects the network. Defaults to mainnet.
	ChainParams *chaincfg.Params

	// Notifier receives balance deltas. Defaults to a no-op notifier.
	Notifier Notifier

	// Clock stamps the receive time of recorded transactions.
	Clock clock.Clock

	// FeeRate is the fee rate of built transactions. Defaults to the relay
	// fee.
	FeeRate feerate.SatPerKVByte

	// Rand is the entropy source for new accounts and secret envelopes.
	// Defaults to crypto/rand.
	Rand io.Reader

	// ScryptParams are the key derivation parameters of new secret
	// envelopes.
	ScryptParams seedcrypt.Params
}

// validate checks the config and fills in defaults.
func (c *Config) validate() error {
	if c.Store == nil {
		return ErrMissingStore
	}
	if c.ChainParams == nil {
		c.ChainParams = &chaincfg.MainNetParams
	}
	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.FeeRate <= 0 {
		c.FeeRate = feerate.SatPerKVByte(txrules.DefaultRelayFeePerKb)
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.ScryptParams == (seedcrypt.Params{}) {
		c.ScryptParams = seedcrypt.DefaultParams
	}

	return c.ScryptParams.Validate()
}

// Options tune account creation.
type Options struct {
	// SyncComplete marks the initial addresses as having no history to
	// fetch, which is true for freshly generated entropy.
	SyncComplete bool

	// FromSecureRandom records that the entropy came from a dedicated
	// secure random source.
	FromSecureRandom bool

	// Progress, if set, is called inline with the fraction of the initial
	// address generation that is done.
	Progress func(float64)
}

// report calls the progress observer, if any.
func (o *Options) report(progress float64) {
	if o.Progress != nil {
		o.Progress(progress)
	}
}

// hooks observe internal steps. Only tests in this package set them; a nil
// hook is skipped.
type hooks struct {
	// secret is called with every decrypted secret buffer. The buffer is
	// wiped right after the call that decrypted it returns.
	secret func([]byte)

	// leaf is called for every signing key that is derived.
	leaf func(branch db.Branch, index uint32)

	// signingKeys is called with the keys of every signing pass once the
	// chain roots are derived. The keys are wiped when the pass ends.
	signingKeys func(*signingKeys)
}

// HDAccount is one BIP44 account. All methods are safe for concurrent use;
// operations that touch the address chains or the balance are serialized.
type HDAccount struct {
	cfg Config

	id                 uint32
	hasPrivateKey      bool
	isFromSecureRandom bool

	// externalRoot and internalRoot are the public chain roots used to
	// supply new addresses.
	externalRoot *hdkeychain.ExtendedKey
	internalRoot *hdkeychain.ExtendedKey

	mu      sync.Mutex
	balance btcutil.Amount

	hooks hooks
}

// Create generates a new account from fresh entropy, encrypting its secrets
// with password.
func Create(ctx context.Context, cfg Config, password []byte,
	opts Options) (*HDAccount, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	entropy := make([]byte, EntropySize)
	defer zero.Bytes(entropy)

	if _, err := io.ReadFull(cfg.Rand, entropy); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}

	return newKeyed(ctx, cfg, entropy, nil, password, opts)
}

// ImportMnemonicSeed creates an account from known mnemonic entropy.
func ImportMnemonicSeed(ctx context.Context, cfg Config, mnemonicSeed,
	password []byte, opts Options) (*HDAccount, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return newKeyed(ctx, cfg, mnemonicSeed, nil, password, opts)
}

// ImportEncrypted creates an account from a serialized, encrypted mnemonic
// envelope such as the one returned by EncryptedMnemonicSeed.
func ImportEncrypted(ctx context.Context, cfg Config, encMnemonic,
	password []byte, opts Options) (*HDAccount, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	envelope, err := seedcrypt.FromBytes(encMnemonic)
	if err != nil {
		return nil, err
	}

	entropy, err := envelope.Decrypt(password)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(entropy)

	opts.FromSecureRandom = envelope.FromSecureRandom

	return newKeyed(ctx, cfg, entropy, encMnemonic, password, opts)
}

// NewWatchOnly creates an account from a base58 account extended public key
// (m/44'/0'/0'). The account can track and build transactions but not sign.
func NewWatchOnly(ctx context.Context, cfg Config, accountXPub string,
	opts Options) (*HDAccount, error) {

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	accountKey, err := hdkeychain.NewKeyFromString(accountXPub)
	if err != nil {
		return nil, fmt.Errorf("parse account key: %w", err)
	}
	if accountKey.IsPrivate() {
		accountKey, err = accountKey.Neuter()
		if err != nil {
			return nil, err
		}
	}

	return initialize(ctx, cfg, accountKey, nil, nil, opts)
}

// Open loads an existing account and computes its balance.
func Open(ctx context.Context, cfg Config, id uint32) (*HDAccount, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	info, err := cfg.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	a, err := fromInfo(cfg, info)
	if err != nil {
		return nil, err
	}

	if _, err := a.updateBalance(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// fromInfo builds the in-memory account over a stored record.
func fromInfo(cfg Config, info *db.AccountInfo) (*HDAccount, error) {
	externalRoot, err := hdkeychain.NewKeyFromString(info.ExternalXPub)
	if err != nil {
		return nil, fmt.Errorf("parse external chain root: %w", err)
	}
	internalRoot, err := hdkeychain.NewKeyFromString(info.InternalXPub)
	if err != nil {
		return nil, fmt.Errorf("parse internal chain root: %w", err)
	}

	return &HDAccount{
		cfg:                cfg,
		id:                 info.ID,
		hasPrivateKey:      info.HasPrivateKey(),
		isFromSecureRandom: info.IsFromSecureRandom,
		externalRoot:       externalRoot,
		internalRoot:       internalRoot,
	}, nil
}

// newKeyed encrypts the secrets derived from entropy and initializes the
// account. encMnemonic, if not nil, is stored instead of a fresh envelope of
// entropy.
func newKeyed(ctx context.Context, cfg Config, entropy, encMnemonic,
	password []byte, opts Options) (*HDAccount, error) {

	if len(password) == 0 {
		return nil, seedcrypt.ErrEmptyPassword
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("mnemonic from entropy: %w", err)
	}

	hdSeed := bip39.NewSeed(mnemonic, "")
	defer zero.Bytes(hdSeed)

	if encMnemonic == nil {
		envelope, err := seedcrypt.Encrypt(
			cfg.Rand, entropy, password, cfg.ScryptParams,
			opts.FromSecureRandom,
		)
		if err != nil {
			return nil, err
		}

		encMnemonic, err = envelope.Bytes()
		if err != nil {
			return nil, err
		}
	}

	envelope, err := seedcrypt.Encrypt(
		cfg.Rand, hdSeed, password, cfg.ScryptParams,
		opts.FromSecureRandom,
	)
	if err != nil {
		return nil, err
	}
	encHDSeed, err := envelope.Bytes()
	if err != nil {
		return nil, err
	}

	master, err := keychain.NewMaster(hdSeed, cfg.ChainParams)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(master)

	accountKey, err := keychain.AccountKey(master)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(accountKey)

	return initialize(ctx, cfg, accountKey, encMnemonic, encHDSeed, opts)
}

// initialize derives both chain roots and the first LookAheadSize addresses
// of each chain, then persists the account and its addresses in one store
// transaction. Watch-only accounts pass nil envelopes.
func initialize(ctx context.Context, cfg Config,
	accountKey *hdkeychain.ExtendedKey, encMnemonic, encHDSeed []byte,
	opts Options) (*HDAccount, error) {

	progress := 0.0
	opts.report(progress)

	externalRoot, err := keychain.ChainRoot(accountKey, keychain.ExternalBranch)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(externalRoot)

	internalRoot, err := keychain.ChainRoot(accountKey, keychain.InternalBranch)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(internalRoot)

	externalXPub, err := keychain.Neuter(externalRoot)
	if err != nil {
		return nil, err
	}
	internalXPub, err := keychain.Neuter(internalRoot)
	if err != nil {
		return nil, err
	}

	exists, err := cfg.Store.PubKeysExist(ctx, externalXPub, internalXPub)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateAccount
	}

	progress += GenerationPreStartProgress
	opts.report(progress)

	itemProgress := (1.0 - GenerationPreStartProgress) / (LookAheadSize * 2)

	addrs := make([]db.AddressInfo, 0, LookAheadSize*2)
	for i := uint32(0); i < LookAheadSize; i++ {
		for _, chain := range []struct {
			root   *hdkeychain.ExtendedKey
			branch db.Branch
		}{
			{externalRoot, db.External},
			{internalRoot, db.Internal},
		} {
			addr, err := deriveAddress(
				chain.root, chain.branch, i, opts.SyncComplete,
				cfg.ChainParams,
			)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, *addr)

			progress += itemProgress
			opts.report(progress)
		}
	}

	info, err := cfg.Store.CreateAccount(ctx, db.CreateAccountParams{
		EncryptedMnemonicSeed: encMnemonic,
		EncryptedHDSeed:       encHDSeed,
		FirstAddress:          addrs[0].Address,
		IsFromSecureRandom:    opts.FromSecureRandom,
		ExternalXPub:          externalXPub,
		InternalXPub:          internalXPub,
		CreatedAt:             cfg.Clock.Now(),
		Addresses:             addrs,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created HD account %d (watch-only=%v) with %d addresses",
		info.ID, encHDSeed == nil, len(addrs))

	return fromInfo(cfg, info)
}

// deriveAddress derives the public leaf at index of a chain root and builds
// its address row.
func deriveAddress(root *hdkeychain.ExtendedKey, branch db.Branch,
	index uint32, synced bool, params *chaincfg.Params) (*db.AddressInfo,
	error) {

	pubKey, err := keychain.LeafPubKey(root, index)
	if err != nil {
		return nil, err
	}

	addr, err := keychain.AddressFromPubKey(pubKey, params)
	if err != nil {
		return nil, err
	}

	return &db.AddressInfo{
		Branch:       branch,
		Index:        index,
		Address:      addr.EncodeAddress(),
		PubKey:       pubKey,
		SyncComplete: synced,
	}, nil
}

// ID returns the storage id of the account.
func (a *HDAccount) ID() uint32 {
	return a.id
}

// HasPrivateKey reports whether the account carries encrypted seeds.
func (a *HDAccount) HasPrivateKey() bool {
	return a.hasPrivateKey
}

// IsFromSecureRandom reports the provenance flag of the account entropy.
func (a *HDAccount) IsFromSecureRandom() bool {
	return a.isFromSecureRandom
}

// EncryptedMnemonicSeed returns the serialized mnemonic envelope, suitable
// for ImportEncrypted.
func (a *HDAccount) EncryptedMnemonicSeed(ctx context.Context) ([]byte,
	error) {

	if !a.hasPrivateKey {
		return nil, ErrNoPrivateKey
	}

	info, err := a.cfg.Store.GetAccount(ctx, a.id)
	if err != nil {
		return nil, err
	}
	if len(info.EncryptedMnemonicSeed) == 0 {
		return nil, errors.New("account has no mnemonic")
	}

	return info.EncryptedMnemonicSeed, nil
}
