// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Store is the top-level interface that combines all the more granular
// sub-interfaces. This is the single entry point for all account database
// operations.
type Store interface {
	AccountStore
	AddressStore
	TxStore
	UTXOStore

	// Close releases the underlying database handle.
	Close() error
}

// AccountStore defines the database actions for managing HD accounts.
type AccountStore interface {
	// CreateAccount persists a new account together with its initial
	// address rows. ErrDuplicateAccount is returned if the pair of chain
	// root extended public keys is already known.
	CreateAccount(ctx context.Context, params CreateAccountParams) (*AccountInfo, error)

	// GetAccount returns the account with the given id, or ErrNotFound.
	GetAccount(ctx context.Context, accountID uint32) (*AccountInfo, error)

	// ListAccounts returns every account ordered by id.
	ListAccounts(ctx context.Context) ([]AccountInfo, error)

	// PubKeysExist reports whether an account with the given pair of chain
	// root extended public keys exists.
	PubKeysExist(ctx context.Context, externalXPub, internalXPub string) (bool, error)
}

// AddressStore defines the database actions for managing derived addresses.
type AddressStore interface {
	// AddAddresses appends rows to the address chains of an account.
	AddAddresses(ctx context.Context, addrs []AddressInfo) error

	// AddressCount returns the number of addresses generated on a branch.
	AddressCount(ctx context.Context, accountID uint32, branch Branch) (uint32, error)

	// IssuedIndex returns the highest issued index of a branch, or -1 if
	// nothing has been issued yet.
	IssuedIndex(ctx context.Context, accountID uint32, branch Branch) (int32, error)

	// UpdateIssuedIndex marks every address of the branch up to and
	// including the given index as issued. It never lowers the issued
	// index.
	UpdateIssuedIndex(ctx context.Context, params UpdateIssuedIndexParams) error

	// AddressForIndex returns the address at the given position, or
	// ErrNotFound.
	AddressForIndex(ctx context.Context, accountID uint32, branch Branch, index uint32) (*AddressInfo, error)

	// LastUsedIndex returns the highest index of the branch whose address
	// received an output, or -1.
	LastUsedIndex(ctx context.Context, accountID uint32, branch Branch) (int32, error)

	// BelongAccount returns the rows of the given addresses that belong to
	// the account. Unknown addresses are skipped.
	BelongAccount(ctx context.Context, accountID uint32, addrs []string) ([]AddressInfo, error)

	// PubKeys returns the public keys of a branch in index order.
	PubKeys(ctx context.Context, accountID uint32, branch Branch) ([][]byte, error)

	// MarkSyncComplete flags an address whose history has been fully
	// fetched.
	MarkSyncComplete(ctx context.Context, accountID uint32, address string) error

	// UnsyncedAddressCount returns the number of addresses whose history
	// is not complete yet.
	UnsyncedAddressCount(ctx context.Context, accountID uint32) (uint32, error)

	// SigningAddressesForInputs returns, in input order, the account
	// address holding each previous output. ErrNotFound is returned if any
	// previous output is not owned by the account.
	SigningAddressesForInputs(ctx context.Context, accountID uint32, inputs []wire.OutPoint) ([]AddressInfo, error)
}

// TxStore defines the database actions for managing transaction records.
type TxStore interface {
	// AddTxs inserts transactions, or updates the block of those already
	// known.
	AddTxs(ctx context.Context, txs []TxDetails) error

	// TxByHash returns the transaction with the given hash, or ErrNotFound.
	TxByHash(ctx context.Context, hash chainhash.Hash) (*TxDetails, error)

	// UnconfirmedTxs returns every unmined transaction that pays to or
	// spends from the account.
	UnconfirmedTxs(ctx context.Context, accountID uint32) ([]TxDetails, error)

	// ListTxs returns the account's transactions, newest first.
	ListTxs(ctx context.Context, query ListTxsQuery) ([]TxDetails, error)

	// TxCount returns the number of transactions touching the account.
	TxCount(ctx context.Context, accountID uint32) (uint32, error)

	// ConfirmedBalance sums the account outputs of mined transactions that
	// no known transaction spends.
	ConfirmedBalance(ctx context.Context, accountID uint32) (btcutil.Amount, error)
}

// UTXOStore defines the database actions for querying account outputs.
type UTXOStore interface {
	// UnspentOutputs returns the account outputs that no known
	// transaction spends, mined ones first.
	UnspentOutputs(ctx context.Context, query CreditQuery) ([]Credit, error)

	// UnconfirmedSpentOutputs returns the account outputs that are spent
	// by unmined transactions only.
	UnconfirmedSpentOutputs(ctx context.Context, query CreditQuery) ([]Credit, error)
}
