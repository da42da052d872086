package account

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/dbtest"
	"github.com/btcsuite/hdaccount/internal/seedcrypt"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// firstZeroAddress is the BIP44 address m/44'/0'/0'/0/0 of the all zero
// entropy mnemonic "abandon ... about".
const firstZeroAddress = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"

var (
	errDBMock = errors.New("db error")

	testParams   = &chaincfg.MainNetParams
	testPassword = []byte("correct horse battery staple")
	testTime     = time.Unix(1700000000, 0)

	// testScrypt keeps envelope key derivation fast.
	testScrypt = seedcrypt.Params{N: 1 << 10, R: 8, P: 1}
)

// zeroReader is an entropy source that only yields zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// zeroEntropy returns a fresh copy of the all zero mnemonic entropy.
func zeroEntropy() []byte {
	return make([]byte, EntropySize)
}

// newTestStore opens a SQLite store in a temporary directory.
func newTestStore(t *testing.T) db.Store {
	t.Helper()

	store, err := db.OpenSQLiteStore(
		filepath.Join(t.TempDir(), "hdaccount.db"), testParams,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// newTestConfig returns an account config over store.
func newTestConfig(store db.Store) Config {
	return Config{
		Store:        store,
		ChainParams:  testParams,
		Clock:        clock.NewTestClock(testTime),
		ScryptParams: testScrypt,
	}
}

// newTestAccount imports the zero entropy account into a fresh store.
func newTestAccount(t *testing.T) *HDAccount {
	t.Helper()

	return newTestAccountWithConfig(t, newTestConfig(newTestStore(t)))
}

// newTestAccountWithConfig imports the zero entropy account with cfg.
func newTestAccountWithConfig(t *testing.T, cfg Config) *HDAccount {
	t.Helper()

	a, err := ImportMnemonicSeed(
		t.Context(), cfg, zeroEntropy(), testPassword,
		Options{SyncComplete: true},
	)
	require.NoError(t, err)

	return a
}

// newWatchOnlyAccount creates, in a fresh store, the watch-only twin of the
// zero entropy account.
func newWatchOnlyAccount(t *testing.T, cfg Config) *HDAccount {
	t.Helper()

	keyed := newTestAccount(t)
	xpub, err := keyed.AccountXPub(t.Context(), testPassword)
	require.NoError(t, err)

	a, err := NewWatchOnly(
		t.Context(), cfg, xpub, Options{SyncComplete: true},
	)
	require.NoError(t, err)

	return a
}

// pkScriptFor returns the output script paying to addr.
func pkScriptFor(t *testing.T, addr string) []byte {
	t.Helper()

	decoded, err := btcutil.DecodeAddress(addr, testParams)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	return pkScript
}

// accountAddress returns the generated address at index of a branch.
func accountAddress(t *testing.T, a *HDAccount, branch db.Branch,
	index uint32) string {

	t.Helper()

	addr, err := a.addressForPath(t.Context(), branch, index)
	require.NoError(t, err)

	return addr.Address
}

// payTo returns an output paying value to the account address at index of
// a branch.
func payTo(t *testing.T, a *HDAccount, branch db.Branch, index uint32,
	value int64) *wire.TxOut {

	t.Helper()

	return wire.NewTxOut(
		value, pkScriptFor(t, accountAddress(t, a, branch, index)),
	)
}

// foreignAddress returns an address no test account owns.
func foreignAddress(t *testing.T) string {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		bytes.Repeat([]byte{0x42}, 20), testParams,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// payForeign returns an output paying value to foreignAddress.
func payForeign(t *testing.T, value int64) *wire.TxOut {
	t.Helper()

	return wire.NewTxOut(value, pkScriptFor(t, foreignAddress(t)))
}

// minedTx builds a transaction mined at height.
func minedTx(t *testing.T, nonce uint32, inputs []wire.OutPoint,
	outputs []*wire.TxOut, height int32) db.TxDetails {

	t.Helper()

	return dbtest.Tx(
		t, nonce, inputs, outputs,
		testTime.Add(time.Duration(nonce)*time.Second),
		dbtest.Block(height),
	)
}

// unminedTx builds an unmined transaction received offset after testTime.
func unminedTx(t *testing.T, nonce uint32, inputs []wire.OutPoint,
	outputs []*wire.TxOut, offset time.Duration) db.TxDetails {

	t.Helper()

	return dbtest.Tx(t, nonce, inputs, outputs, testTime.Add(offset), nil)
}

// outPoint returns the outpoint of output index of tx.
func outPoint(tx db.TxDetails, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.Hash, Index: index}
}
