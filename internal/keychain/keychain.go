// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain derives the BIP44 key tree of an HD account:
//
//	m / 44' / 0' / 0' / branch / index
//
// The account key is reached through hardened derivation from the master key.
// The external (receiving) and internal (change) branches and every leaf below
// them use normal derivation, so they can be derived from public keys alone.
package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// PurposeBIP44 is the BIP43 purpose of the account tree.
	PurposeBIP44 uint32 = 44

	// CoinTypeBitcoin is the BIP44 coin type of the account tree.
	CoinTypeBitcoin uint32 = 0

	// DefaultAccount is the only account number derived by the engine.
	DefaultAccount uint32 = 0
)

// Branch is the child index of a chain root below the account key.
type Branch uint32

const (
	// ExternalBranch yields receiving addresses.
	ExternalBranch Branch = 0

	// InternalBranch yields change addresses.
	InternalBranch Branch = 1
)

// String returns a human readable name of the branch.
func (b Branch) String() string {
	switch b {
	case ExternalBranch:
		return "external"
	case InternalBranch:
		return "internal"
	default:
		return fmt.Sprintf("branch(%d)", uint32(b))
	}
}

// ErrUnknownBranch is returned when a branch other than external or internal
// is requested.
var ErrUnknownBranch = errors.New("unknown branch")

// NewMaster derives the BIP32 master key from seed. The caller owns the key
// and must Wipe it.
func NewMaster(seed []byte, params *chaincfg.Params) (*hdkeychain.ExtendedKey,
	error) {

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("new master key: %w", err)
	}

	return master, nil
}

// AccountKey derives m/44'/0'/0' from the master key. Intermediate keys are
// wiped, only the returned account key survives.
func AccountKey(master *hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey,
	error) {

	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + PurposeBIP44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}
	defer purpose.Zero()

	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + CoinTypeBitcoin)
	if err != nil {
		return nil, fmt.Errorf("derive coin type: %w", err)
	}
	defer coin.Zero()

	account, err := coin.Derive(hdkeychain.HardenedKeyStart + DefaultAccount)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	return account, nil
}

// ChainRoot derives the root of the given branch from the account key.
func ChainRoot(account *hdkeychain.ExtendedKey,
	branch Branch) (*hdkeychain.ExtendedKey, error) {

	if branch != ExternalBranch && branch != InternalBranch {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBranch, branch)
	}

	root, err := account.Derive(uint32(branch))
	if err != nil {
		return nil, fmt.Errorf("derive %v chain root: %w", branch, err)
	}

	return root, nil
}

// Leaf derives the child at index below a chain root. If the chain root is
// private the leaf is private too and may be used for signing.
func Leaf(chain *hdkeychain.ExtendedKey,
	index uint32) (*hdkeychain.ExtendedKey, error) {

	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}

	leaf, err := chain.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive leaf %d: %w", index, err)
	}

	return leaf, nil
}

// LeafPubKey derives the leaf at index and returns its compressed public
// key. The derived key is wiped before returning, even when the chain root
// carries private material.
func LeafPubKey(chain *hdkeychain.ExtendedKey, index uint32) ([]byte, error) {
	leaf, err := Leaf(chain, index)
	if err != nil {
		return nil, err
	}
	defer leaf.Zero()

	pub, err := leaf.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("leaf %d public key: %w", index, err)
	}

	return pub.SerializeCompressed(), nil
}

// Neuter returns the public version of key as a base58 extended key string.
func Neuter(key *hdkeychain.ExtendedKey) (string, error) {
	pub, err := key.Neuter()
	if err != nil {
		return "", err
	}

	return pub.String(), nil
}

// PrivKey returns the private key of an extended key. The caller must Zero
// the returned key.
func PrivKey(key *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	return priv, nil
}

// AddressFromPubKey returns the P2PKH address paying to a serialized public
// key.
func AddressFromPubKey(pubKey []byte,
	params *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {

	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), params)
}

// Path returns the full derivation path of a leaf, with hardened elements
// already offset, in the form used by PSBT derivation records.
func Path(branch Branch, index uint32) []uint32 {
	return []uint32{
		hdkeychain.HardenedKeyStart + PurposeBIP44,
		hdkeychain.HardenedKeyStart + CoinTypeBitcoin,
		hdkeychain.HardenedKeyStart + DefaultAccount,
		uint32(branch),
		index,
	}
}

// Wipe clears the private material of every non-nil key.
func Wipe(keys ...*hdkeychain.ExtendedKey) {
	for _, k := range keys {
		if k != nil {
			k.Zero()
		}
	}
}
