package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// NewStoreFunc returns an empty store created with Params. The store is
// closed by the suite.
type NewStoreFunc func(t *testing.T) db.Store

// RunStoreTests runs the behavioural suite against the stores returned by
// newStore.
func RunStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Helper()

	tests := []struct {
		name string
		run  func(t *testing.T, store db.Store)
	}{
		{"accounts", testAccounts},
		{"duplicate account", testDuplicateAccount},
		{"issued index", testIssuedIndex},
		{"address lookups", testAddressLookups},
		{"sync state", testSyncState},
		{"transactions", testTransactions},
		{"credits", testCredits},
		{"confirmation", testConfirmation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newStore(t)
			t.Cleanup(func() {
				require.NoError(t, store.Close())
			})

			tc.run(t, store)
		})
	}
}

func createAccount(t *testing.T, store db.Store, seed byte,
	perBranch uint32) *db.AccountInfo {

	t.Helper()

	info, err := store.CreateAccount(
		context.Background(), AccountParams(t, seed, perBranch),
	)
	require.NoError(t, err)

	return info
}

func testAccounts(t *testing.T, store db.Store) {
	ctx := context.Background()

	// Arrange: the parameters of a new account.
	params := AccountParams(t, 1, 3)

	// Act: create it and a second account.
	first, err := store.CreateAccount(ctx, params)
	require.NoError(t, err)
	second := createAccount(t, store, 2, 3)

	// Assert: distinct ids and every stored field reads back.
	require.NotEqual(t, first.ID, second.ID)

	got, err := store.GetAccount(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, params.EncryptedMnemonicSeed, got.EncryptedMnemonicSeed)
	require.Equal(t, params.EncryptedHDSeed, got.EncryptedHDSeed)
	require.Equal(t, params.FirstAddress, got.FirstAddress)
	require.Equal(t, params.ExternalXPub, got.ExternalXPub)
	require.Equal(t, params.InternalXPub, got.InternalXPub)
	require.True(t, got.IsFromSecureRandom)
	require.True(t, got.HasPrivateKey())
	require.True(t, params.CreatedAt.Equal(got.CreatedAt))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	require.Equal(t, first.ID, accounts[0].ID)
	require.Equal(t, second.ID, accounts[1].ID)

	exists, err := store.PubKeysExist(ctx, params.ExternalXPub,
		params.InternalXPub)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.PubKeysExist(ctx, params.ExternalXPub, "other")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.GetAccount(ctx, second.ID+100)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func testDuplicateAccount(t *testing.T, store db.Store) {
	ctx := context.Background()

	// Arrange: a stored account.
	createAccount(t, store, 1, 2)

	// Act: create it again.
	_, err := store.CreateAccount(ctx, AccountParams(t, 1, 2))

	// Assert: the duplicate is refused and nothing is added.
	require.ErrorIs(t, err, db.ErrDuplicateAccount)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	params := AccountParams(t, 3, 2)
	params.InternalXPub = ""
	_, err = store.CreateAccount(ctx, params)
	require.ErrorIs(t, err, db.ErrMissingPubKeys)
}

func testIssuedIndex(t *testing.T, store db.Store) {
	ctx := context.Background()
	acct := createAccount(t, store, 1, 5)

	issued, err := store.IssuedIndex(ctx, acct.ID, db.External)
	require.NoError(t, err)
	require.EqualValues(t, -1, issued)

	tests := []struct {
		name  string
		index int32
		want  int32
	}{
		{name: "negative is a no-op", index: -1, want: -1},
		{name: "raise", index: 3, want: 3},
		{name: "never lowered", index: 1, want: 3},
		{name: "raise again", index: 4, want: 4},
	}

	for _, tc := range tests {
		err := store.UpdateIssuedIndex(ctx, db.UpdateIssuedIndexParams{
			AccountID: acct.ID,
			Branch:    db.External,
			Index:     tc.index,
		})
		require.NoError(t, err, tc.name)

		issued, err := store.IssuedIndex(ctx, acct.ID, db.External)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, issued, tc.name)
	}

	issued, err = store.IssuedIndex(ctx, acct.ID, db.Internal)
	require.NoError(t, err)
	require.EqualValues(t, -1, issued)

	addr, err := store.AddressForIndex(ctx, acct.ID, db.External, 2)
	require.NoError(t, err)
	require.True(t, addr.Issued)
}

func testAddressLookups(t *testing.T, store db.Store) {
	ctx := context.Background()
	acct := createAccount(t, store, 1, 3)
	other := createAccount(t, store, 2, 3)

	// Appending extends the chain.
	err := store.AddAddresses(ctx,
		AddressRows(t, 1, acct.ID, db.External, 3, 2))
	require.NoError(t, err)

	count, err := store.AddressCount(ctx, acct.ID, db.External)
	require.NoError(t, err)
	require.EqualValues(t, 5, count)

	count, err = store.AddressCount(ctx, acct.ID, db.Internal)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	addr, err := store.AddressForIndex(ctx, acct.ID, db.External, 4)
	require.NoError(t, err)
	wantAddr, _ := AddressFor(t, 1, db.External, 4)
	require.Equal(t, wantAddr, addr.Address)
	require.Equal(t, PubKeyFor(1, db.External, 4), addr.PubKey)
	require.Equal(t, acct.ID, addr.AccountID)
	require.False(t, addr.Issued)

	_, err = store.AddressForIndex(ctx, acct.ID, db.External, 5)
	require.ErrorIs(t, err, db.ErrNotFound)

	pubKeys, err := store.PubKeys(ctx, acct.ID, db.Internal)
	require.NoError(t, err)
	require.Len(t, pubKeys, 3)
	for i, pub := range pubKeys {
		require.Equal(t, PubKeyFor(1, db.Internal, uint32(i)), pub)
	}

	int1, _ := AddressFor(t, 1, db.Internal, 1)
	ext2, _ := AddressFor(t, 1, db.External, 2)
	otherAddr, _ := AddressFor(t, 2, db.External, 0)

	found, err := store.BelongAccount(ctx, acct.ID,
		[]string{int1, otherAddr, ext2, "unknown"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, ext2, found[0].Address)
	require.Equal(t, int1, found[1].Address)
	require.Equal(t, db.Internal, found[1].Branch)
	require.EqualValues(t, 1, found[1].Index)

	found, err = store.BelongAccount(ctx, other.ID, []string{otherAddr})
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = store.BelongAccount(ctx, acct.ID, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func testSyncState(t *testing.T, store db.Store) {
	ctx := context.Background()
	acct := createAccount(t, store, 1, 2)

	unsynced, err := store.UnsyncedAddressCount(ctx, acct.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, unsynced)

	ext0, _ := AddressFor(t, 1, db.External, 0)
	int1, _ := AddressFor(t, 1, db.Internal, 1)
	require.NoError(t, store.MarkSyncComplete(ctx, acct.ID, ext0))
	require.NoError(t, store.MarkSyncComplete(ctx, acct.ID, int1))

	// Unknown addresses are ignored.
	require.NoError(t, store.MarkSyncComplete(ctx, acct.ID, "unknown"))

	unsynced, err = store.UnsyncedAddressCount(ctx, acct.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, unsynced)

	addr, err := store.AddressForIndex(ctx, acct.ID, db.Internal, 1)
	require.NoError(t, err)
	require.True(t, addr.SyncComplete)
}

// history is a small transaction graph over an account with two addresses
// per chain:
//
//	fund:  mined at 100, pays 5000 to ext0, 3000 to ext1, 7000 away
//	spend: unmined, spends ext0 into 4000 away and 900 to int0
type history struct {
	acct  *db.AccountInfo
	fund  db.TxDetails
	spend db.TxDetails
}

func (h *history) outPoint(tx db.TxDetails, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.Hash, Index: index}
}

func newHistory(t *testing.T, store db.Store) *history {
	t.Helper()

	acct := createAccount(t, store, 1, 2)
	_, ext0 := AddressFor(t, 1, db.External, 0)
	_, ext1 := AddressFor(t, 1, db.External, 1)
	_, int0 := AddressFor(t, 1, db.Internal, 0)
	foreign := ForeignScript(t)

	fund := Tx(t, 1, nil, []*wire.TxOut{
		Output(5000, ext0), Output(3000, ext1), Output(7000, foreign),
	}, BaseTime, Block(100))

	spend := Tx(t, 2, []wire.OutPoint{{Hash: fund.Hash, Index: 0}},
		[]*wire.TxOut{Output(4000, foreign), Output(900, int0)},
		BaseTime.Add(time.Hour), nil)

	err := store.AddTxs(context.Background(), []db.TxDetails{fund, spend})
	require.NoError(t, err)

	return &history{acct: acct, fund: fund, spend: spend}
}

func testTransactions(t *testing.T, store db.Store) {
	ctx := context.Background()
	h := newHistory(t, store)

	count, err := store.TxCount(ctx, h.acct.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	got, err := store.TxByHash(ctx, h.spend.Hash)
	require.NoError(t, err)
	require.Equal(t, h.spend.Hash, got.Hash)
	require.False(t, got.Confirmed())
	require.True(t, h.spend.Received.Equal(got.Received))
	require.Equal(t, h.spend.MsgTx.TxHash(), got.MsgTx.TxHash())

	got, err = store.TxByHash(ctx, h.fund.Hash)
	require.NoError(t, err)
	require.True(t, got.Confirmed())
	require.EqualValues(t, 100, got.Block.Height)
	require.Equal(t, h.fund.Block.Hash, got.Block.Hash)
	require.True(t, h.fund.Block.Time.Equal(got.Block.Time))

	_, err = store.TxByHash(ctx, chainhash.Hash{0x01})
	require.ErrorIs(t, err, db.ErrNotFound)

	unmined, err := store.UnconfirmedTxs(ctx, h.acct.ID)
	require.NoError(t, err)
	require.Len(t, unmined, 1)
	require.Equal(t, h.spend.Hash, unmined[0].Hash)

	tests := []struct {
		name  string
		query db.ListTxsQuery
		want  []chainhash.Hash
	}{
		{
			name:  "all newest first",
			query: db.ListTxsQuery{AccountID: h.acct.ID},
			want:  []chainhash.Hash{h.spend.Hash, h.fund.Hash},
		},
		{
			name: "page",
			query: db.ListTxsQuery{
				AccountID: h.acct.ID, Offset: 1, Limit: 1,
			},
			want: []chainhash.Hash{h.fund.Hash},
		},
		{
			name: "offset without limit",
			query: db.ListTxsQuery{
				AccountID: h.acct.ID, Offset: 1,
			},
			want: []chainhash.Hash{h.fund.Hash},
		},
		{
			name: "min height keeps unmined",
			query: db.ListTxsQuery{
				AccountID: h.acct.ID,
				MinHeight: fn.Some(int32(101)),
			},
			want: []chainhash.Hash{h.spend.Hash},
		},
		{
			name: "offset past the end",
			query: db.ListTxsQuery{
				AccountID: h.acct.ID, Offset: 5,
			},
		},
	}

	for _, tc := range tests {
		txs, err := store.ListTxs(ctx, tc.query)
		require.NoError(t, err, tc.name)

		hashes := make([]chainhash.Hash, 0, len(txs))
		for _, tx := range txs {
			hashes = append(hashes, tx.Hash)
		}
		require.ElementsMatch(t, tc.want, hashes, tc.name)
		if len(tc.want) > 0 {
			require.Equal(t, tc.want, hashes, tc.name)
		}
	}

	// Another account sees none of it.
	other := createAccount(t, store, 2, 2)
	count, err = store.TxCount(ctx, other.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func creditPoints(credits []db.Credit) []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(credits))
	for _, c := range credits {
		ops = append(ops, c.OutPoint)
	}

	return ops
}

func testCredits(t *testing.T, store db.Store) {
	ctx := context.Background()
	h := newHistory(t, store)

	balance, err := store.ConfirmedBalance(ctx, h.acct.ID)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3000), balance)

	unspent, err := store.UnspentOutputs(ctx,
		db.CreditQuery{AccountID: h.acct.ID})
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{
		h.outPoint(h.fund, 1), h.outPoint(h.spend, 1),
	}, creditPoints(unspent))

	ext1, pkExt1 := AddressFor(t, 1, db.External, 1)
	require.Equal(t, btcutil.Amount(3000), unspent[0].Amount)
	require.Equal(t, ext1, unspent[0].Address)
	require.Equal(t, pkExt1, unspent[0].PkScript)
	require.Equal(t, db.External, unspent[0].Branch)
	require.EqualValues(t, 1, unspent[0].Index)
	require.EqualValues(t, 100, unspent[0].Height)
	require.Equal(t, db.UnminedHeight, unspent[1].Height)
	require.Equal(t, db.Internal, unspent[1].Branch)

	change, err := store.UnspentOutputs(ctx, db.CreditQuery{
		AccountID: h.acct.ID,
		Branch:    fn.Some(db.Internal),
	})
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{h.outPoint(h.spend, 1)},
		creditPoints(change))

	spent, err := store.UnconfirmedSpentOutputs(ctx,
		db.CreditQuery{AccountID: h.acct.ID})
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{h.outPoint(h.fund, 0)},
		creditPoints(spent))
	require.Equal(t, btcutil.Amount(5000), spent[0].Amount)

	last, err := store.LastUsedIndex(ctx, h.acct.ID, db.External)
	require.NoError(t, err)
	require.EqualValues(t, 1, last)

	last, err = store.LastUsedIndex(ctx, h.acct.ID, db.Internal)
	require.NoError(t, err)
	require.EqualValues(t, 0, last)

	signers, err := store.SigningAddressesForInputs(ctx, h.acct.ID,
		[]wire.OutPoint{h.outPoint(h.spend, 1), h.outPoint(h.fund, 1)})
	require.NoError(t, err)
	require.Len(t, signers, 2)
	require.Equal(t, db.Internal, signers[0].Branch)
	require.EqualValues(t, 0, signers[0].Index)
	require.Equal(t, ext1, signers[1].Address)

	_, err = store.SigningAddressesForInputs(ctx, h.acct.ID,
		[]wire.OutPoint{h.outPoint(h.fund, 2)})
	require.ErrorIs(t, err, db.ErrNotFound)
}

func testConfirmation(t *testing.T, store db.Store) {
	ctx := context.Background()
	h := newHistory(t, store)

	// Arrange: the unmined spend, now mined and seen later.
	mined := h.spend
	mined.Block = *Block(101)
	mined.Received = BaseTime.Add(48 * time.Hour)

	// Act: store it again.
	err := store.AddTxs(ctx, []db.TxDetails{mined})
	require.NoError(t, err)

	// Assert: the block is set and the first receive time kept.
	got, err := store.TxByHash(ctx, h.spend.Hash)
	require.NoError(t, err)
	require.True(t, got.Confirmed())
	require.EqualValues(t, 101, got.Block.Height)
	require.True(t, h.spend.Received.Equal(got.Received))

	unmined, err := store.UnconfirmedTxs(ctx, h.acct.ID)
	require.NoError(t, err)
	require.Empty(t, unmined)

	spent, err := store.UnconfirmedSpentOutputs(ctx,
		db.CreditQuery{AccountID: h.acct.ID})
	require.NoError(t, err)
	require.Empty(t, spent)

	balance, err := store.ConfirmedBalance(ctx, h.acct.ID)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3900), balance)

	count, err := store.TxCount(ctx, h.acct.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}
