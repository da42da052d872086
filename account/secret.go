package account

import (
	"bytes"
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/keychain"
	"github.com/btcsuite/hdaccount/internal/seedcrypt"
	"github.com/btcsuite/hdaccount/internal/zero"
	"github.com/tyler-smith/go-bip39"
)

// secret is a decrypted secret buffer owned by a single call. It must not
// outlive the function it is handed to.
type secret struct {
	b []byte
}

// Bytes returns the secret material.
func (s *secret) Bytes() []byte {
	return s.b
}

// Wipe zeroes the secret material.
func (s *secret) Wipe() {
	zero.Bytes(s.b)
}

// withSecret decrypts the envelope picked from the account record and hands
// the plaintext to fn. The plaintext is wiped on every return path.
func (a *HDAccount) withSecret(ctx context.Context, password []byte,
	pick func(*db.AccountInfo) []byte, fn func(*secret) error) error {

	if !a.hasPrivateKey {
		return ErrNoPrivateKey
	}
	if len(password) == 0 {
		return seedcrypt.ErrEmptyPassword
	}

	info, err := a.cfg.Store.GetAccount(ctx, a.id)
	if err != nil {
		return err
	}

	encrypted := pick(info)
	if len(encrypted) == 0 {
		return ErrNoPrivateKey
	}

	envelope, err := seedcrypt.FromBytes(encrypted)
	if err != nil {
		return err
	}

	plaintext, err := envelope.Decrypt(password)
	if err != nil {
		return err
	}

	s := &secret{b: plaintext}
	defer func() {
		s.Wipe()
		if a.hooks.secret != nil {
			a.hooks.secret(plaintext)
		}
	}()

	return fn(s)
}

// withHDSeed runs fn with the decrypted BIP32 seed.
func (a *HDAccount) withHDSeed(ctx context.Context, password []byte,
	fn func(*secret) error) error {

	return a.withSecret(ctx, password, func(info *db.AccountInfo) []byte {
		return info.EncryptedHDSeed
	}, fn)
}

// withMnemonic runs fn with the decrypted mnemonic entropy.
func (a *HDAccount) withMnemonic(ctx context.Context, password []byte,
	fn func(*secret) error) error {

	return a.withSecret(ctx, password, func(info *db.AccountInfo) []byte {
		return info.EncryptedMnemonicSeed
	}, fn)
}

// masterKey decrypts the seed and derives the master key from it. The seed
// is wiped before masterKey returns, the caller must wipe the master key.
func (a *HDAccount) masterKey(ctx context.Context,
	password []byte) (*hdkeychain.ExtendedKey, error) {

	var master *hdkeychain.ExtendedKey
	err := a.withHDSeed(ctx, password, func(seed *secret) error {
		var err error
		master, err = keychain.NewMaster(seed.Bytes(), a.cfg.ChainParams)

		return err
	})
	if err != nil {
		return nil, err
	}

	return master, nil
}

// accountKey derives the private account key. The caller must wipe it.
func (a *HDAccount) accountKey(ctx context.Context,
	password []byte) (*hdkeychain.ExtendedKey, error) {

	master, err := a.masterKey(ctx, password)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(master)

	return keychain.AccountKey(master)
}

// SeedWords returns the BIP39 mnemonic words of the account.
func (a *HDAccount) SeedWords(ctx context.Context,
	password []byte) ([]string, error) {

	var words []string
	err := a.withMnemonic(ctx, password, func(entropy *secret) error {
		mnemonic, err := bip39.NewMnemonic(entropy.Bytes())
		if err != nil {
			return err
		}
		words = strings.Fields(mnemonic)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return words, nil
}

// CheckPassword reports whether password opens both stored secrets and the
// secrets are consistent with each other and with the stored first address.
// Watch-only accounts have nothing to check and always pass.
func (a *HDAccount) CheckPassword(ctx context.Context, password []byte) bool {
	if !a.hasPrivateKey {
		return true
	}

	ok, err := a.checkPassword(ctx, password)
	if err != nil {
		log.Debugf("Password check of account %d failed: %v", a.id, err)
		return false
	}

	return ok
}

func (a *HDAccount) checkPassword(ctx context.Context,
	password []byte) (bool, error) {

	info, err := a.cfg.Store.GetAccount(ctx, a.id)
	if err != nil {
		return false, err
	}

	var seedSafe, mnemonicSafe bool
	err = a.withHDSeed(ctx, password, func(hdSeed *secret) error {
		first, err := a.firstAddressFromSeed(hdSeed.Bytes())
		if err != nil {
			return err
		}
		seedSafe = first == info.FirstAddress

		return a.withMnemonic(ctx, password, func(entropy *secret) error {
			mnemonic, err := bip39.NewMnemonic(entropy.Bytes())
			if err != nil {
				return err
			}

			expected := bip39.NewSeed(mnemonic, "")
			defer zero.Bytes(expected)

			mnemonicSafe = bytes.Equal(expected, hdSeed.Bytes())

			return nil
		})
	})
	if err != nil {
		return false, err
	}

	return seedSafe && mnemonicSafe, nil
}

// firstAddressFromSeed derives the address at m/44'/0'/0'/0/0.
func (a *HDAccount) firstAddressFromSeed(seed []byte) (string, error) {
	master, err := keychain.NewMaster(seed, a.cfg.ChainParams)
	if err != nil {
		return "", err
	}
	defer keychain.Wipe(master)

	accountKey, err := keychain.AccountKey(master)
	if err != nil {
		return "", err
	}
	defer keychain.Wipe(accountKey)

	external, err := keychain.ChainRoot(accountKey, keychain.ExternalBranch)
	if err != nil {
		return "", err
	}
	defer keychain.Wipe(external)

	addr, err := deriveAddress(external, db.External, 0, false,
		a.cfg.ChainParams)
	if err != nil {
		return "", err
	}

	return addr.Address, nil
}

// AccountXPub returns the base58 extended public key of m/44'/0'/0', which
// NewWatchOnly accepts.
func (a *HDAccount) AccountXPub(ctx context.Context,
	password []byte) (string, error) {

	accountKey, err := a.accountKey(ctx, password)
	if err != nil {
		return "", err
	}
	defer keychain.Wipe(accountKey)

	return keychain.Neuter(accountKey)
}

// ExternalKey returns the private key of the receiving address at index. The
// caller owns the key and must wipe it with Zero.
func (a *HDAccount) ExternalKey(ctx context.Context, index uint32,
	password []byte) (*hdkeychain.ExtendedKey, error) {

	accountKey, err := a.accountKey(ctx, password)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(accountKey)

	external, err := keychain.ChainRoot(accountKey, keychain.ExternalBranch)
	if err != nil {
		return nil, err
	}
	defer keychain.Wipe(external)

	return keychain.Leaf(external, index)
}
