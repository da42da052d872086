// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"bytes"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/btcsuite/hdaccount/internal/keychain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNotFound is returned when a requested item is not found in the
	// database.
	ErrNotFound = errors.New("item not found")

	// ErrDuplicateAccount is returned when an account with the same chain
	// root public keys already exists.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrNilDB is returned when a store is created without a database
	// handle.
	ErrNilDB = errors.New("nil database")

	// ErrMissingPubKeys is returned when an account is created without
	// chain root public keys.
	ErrMissingPubKeys = errors.New("missing chain root public keys")
)

// UnminedHeight is the block height recorded for unconfirmed transactions.
const UnminedHeight int32 = -1

// Branch identifies the external or internal chain of an account.
type Branch = keychain.Branch

const (
	// External is the receiving chain.
	External = keychain.ExternalBranch

	// Internal is the change chain.
	Internal = keychain.InternalBranch
)

// ============================================================================
// Accounts
// ============================================================================

// AccountInfo is the persisted state of an HD account.
type AccountInfo struct {
	// ID is assigned by the store on creation.
	ID uint32

	// EncryptedMnemonicSeed and EncryptedHDSeed are serialized seedcrypt
	// envelopes. Both are nil for watch-only accounts.
	EncryptedMnemonicSeed []byte
	EncryptedHDSeed       []byte

	// FirstAddress is the first external address, used to check a
	// password against the stored seed.
	FirstAddress string

	IsFromSecureRandom bool

	// ExternalXPub and InternalXPub are the base58 extended public keys of
	// the two chain roots.
	ExternalXPub string
	InternalXPub string

	CreatedAt time.Time
}

// HasPrivateKey reports whether the account carries encrypted seeds.
func (a *AccountInfo) HasPrivateKey() bool {
	return len(a.EncryptedHDSeed) > 0
}

// CreateAccountParams holds the parameters for creating an account.
type CreateAccountParams struct {
	EncryptedMnemonicSeed []byte
	EncryptedHDSeed       []byte
	FirstAddress          string
	IsFromSecureRandom    bool
	ExternalXPub          string
	InternalXPub          string
	CreatedAt             time.Time

	// Addresses are the initial rows of both chains. Their AccountID is
	// filled in by the store.
	Addresses []AddressInfo
}

// validate validates required fields for creating an account.
func (p *CreateAccountParams) validate() error {
	if p.ExternalXPub == "" || p.InternalXPub == "" {
		return ErrMissingPubKeys
	}

	return nil
}

// ============================================================================
// Addresses
// ============================================================================

// AddressInfo is one derived leaf of an account.
type AddressInfo struct {
	AccountID    uint32
	Branch       Branch
	Index        uint32
	Address      string
	PubKey       []byte
	Issued       bool
	SyncComplete bool
}

// UpdateIssuedIndexParams holds the parameters for raising the issued index
// of a branch.
type UpdateIssuedIndexParams struct {
	AccountID uint32
	Branch    Branch
	Index     int32
}

// ============================================================================
// Transactions
// ============================================================================

// TxDetails is a transaction record together with the block it was mined
// in. Unmined transactions have a block height of UnminedHeight.
type TxDetails struct {
	wtxmgr.TxRecord
	Block wtxmgr.BlockMeta
}

// NewTxDetails wraps msgTx, received at the given time, in a TxDetails.
// A nil block marks the transaction unmined.
func NewTxDetails(msgTx *wire.MsgTx, received time.Time,
	block *wtxmgr.BlockMeta) (*TxDetails, error) {

	rec, err := wtxmgr.NewTxRecordFromMsgTx(msgTx, received)
	if err != nil {
		return nil, err
	}

	details := &TxDetails{TxRecord: *rec}
	if block != nil {
		details.Block = *block
	} else {
		details.Block.Height = UnminedHeight
	}

	return details, nil
}

// Confirmed reports whether the transaction is mined.
func (t *TxDetails) Confirmed() bool {
	return t.Block.Height != UnminedHeight
}

// serializedTx returns the raw transaction, serializing it if the record was
// built without one.
func (t *TxDetails) serializedTx() ([]byte, error) {
	if len(t.SerializedTx) > 0 {
		return t.SerializedTx, nil
	}

	var b bytes.Buffer
	b.Grow(t.MsgTx.SerializeSize())
	if err := t.MsgTx.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// ListTxsQuery selects a page of an account's transactions.
type ListTxsQuery struct {
	AccountID uint32

	// Offset and Limit page through the result. A zero Limit returns
	// everything after Offset.
	Offset uint32
	Limit  uint32

	// MinHeight, if set, restricts mined transactions to those at or above
	// the height. Unmined transactions are always returned.
	MinHeight fn.Option[int32]
}

// ============================================================================
// Outputs
// ============================================================================

// Credit is an output paying to one of the account's addresses.
type Credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
	Address  string
	Branch   Branch
	Index    uint32

	// Height is the block height of the transaction that created the
	// output, or UnminedHeight.
	Height int32
}

// CreditQuery selects account outputs, optionally restricted to one branch.
type CreditQuery struct {
	AccountID uint32
	Branch    fn.Option[Branch]
}

// OutputAddress returns the single address a standard output script pays
// to, or an empty string for scripts without exactly one address.
func OutputAddress(pkScript []byte, params *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return ""
	}

	return addrs[0].EncodeAddress()
}
