// Package dbtest holds fixtures and a behavioural test suite shared by every
// db.Store implementation.
package dbtest

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/stretchr/testify/require"
)

// Params are the chain parameters stores under test must be created with.
var Params = &chaincfg.RegressionNetParams

// BaseTime is the receive time of the first fixture transaction.
var BaseTime = time.Unix(1700000000, 0)

// AddressFor returns a deterministic P2PKH address and its output script for
// the given account seed, branch and index.
func AddressFor(t *testing.T, seed byte, branch db.Branch,
	index uint32) (string, []byte) {

	t.Helper()

	var preimage [6]byte
	preimage[0] = seed
	preimage[1] = byte(branch)
	binary.BigEndian.PutUint32(preimage[2:], index)

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(preimage[:]), Params,
	)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return addr.EncodeAddress(), pkScript
}

// PubKeyFor returns a 33 byte placeholder public key unique to the leaf.
func PubKeyFor(seed byte, branch db.Branch, index uint32) []byte {
	pub := make([]byte, 33)
	pub[0] = 0x02
	pub[1] = seed
	pub[2] = byte(branch)
	binary.BigEndian.PutUint32(pub[3:7], index)

	return pub
}

// AddressRows builds count address rows of a branch starting at start.
func AddressRows(t *testing.T, seed byte, accountID uint32, branch db.Branch,
	start, count uint32) []db.AddressInfo {

	t.Helper()

	rows := make([]db.AddressInfo, 0, count)
	for i := start; i < start+count; i++ {
		addr, _ := AddressFor(t, seed, branch, i)
		rows = append(rows, db.AddressInfo{
			AccountID: accountID,
			Branch:    branch,
			Index:     i,
			Address:   addr,
			PubKey:    PubKeyFor(seed, branch, i),
		})
	}

	return rows
}

// AccountParams returns creation parameters for an account with perBranch
// addresses on each chain.
func AccountParams(t *testing.T, seed byte,
	perBranch uint32) db.CreateAccountParams {

	t.Helper()

	addrs := AddressRows(t, seed, 0, db.External, 0, perBranch)
	addrs = append(addrs, AddressRows(t, seed, 0, db.Internal, 0,
		perBranch)...)

	return db.CreateAccountParams{
		EncryptedMnemonicSeed: []byte{seed, 0x01},
		EncryptedHDSeed:       []byte{seed, 0x02},
		FirstAddress:          addrs[0].Address,
		IsFromSecureRandom:    true,
		ExternalXPub:          fmt.Sprintf("tpub-external-%d", seed),
		InternalXPub:          fmt.Sprintf("tpub-internal-%d", seed),
		CreatedAt:             BaseTime,
		Addresses:             addrs,
	}
}

// Output returns a transaction output paying value to pkScript.
func Output(value int64, pkScript []byte) *wire.TxOut {
	return wire.NewTxOut(value, pkScript)
}

// ForeignScript returns an output script that no fixture account owns.
func ForeignScript(t *testing.T) []byte {
	t.Helper()

	_, pkScript := AddressFor(t, 0xff, db.External, 0)

	return pkScript
}

// Block returns the metadata of a fixture block at the given height.
func Block(height int32) *wtxmgr.BlockMeta {
	var hash chainhash.Hash
	binary.BigEndian.PutUint32(hash[:4], uint32(height))

	return &wtxmgr.BlockMeta{
		Block: wtxmgr.Block{Hash: hash, Height: height},
		Time:  BaseTime.Add(time.Duration(height) * time.Minute),
	}
}

// Tx builds a transaction spending inputs into outputs. A nil block leaves
// it unmined. Transactions without inputs get a unique coinbase-like input
// derived from nonce.
func Tx(t *testing.T, nonce uint32, inputs []wire.OutPoint,
	outputs []*wire.TxOut, received time.Time,
	block *wtxmgr.BlockMeta) db.TxDetails {

	t.Helper()

	msgTx := wire.NewMsgTx(wire.TxVersion)
	if len(inputs) == 0 {
		var prev chainhash.Hash
		binary.BigEndian.PutUint32(prev[:4], nonce)
		inputs = []wire.OutPoint{{Hash: prev, Index: nonce}}
	}
	for i := range inputs {
		msgTx.AddTxIn(wire.NewTxIn(&inputs[i], nil, nil))
	}
	for _, txOut := range outputs {
		msgTx.AddTxOut(txOut)
	}

	details, err := db.NewTxDetails(msgTx, received, block)
	require.NoError(t, err)

	return *details
}
