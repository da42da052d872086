package account

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// addressCount returns the number of generated addresses of a branch.
func addressCount(t *testing.T, a *HDAccount, branch db.Branch) uint32 {
	t.Helper()

	count, err := a.cfg.Store.AddressCount(t.Context(), a.ID(), branch)
	require.NoError(t, err)

	return count
}

// requireLookAhead asserts that both chains hold LookAheadSize addresses
// beyond their issued index.
func requireLookAhead(t *testing.T, a *HDAccount) {
	t.Helper()

	for _, branch := range []db.Branch{db.External, db.Internal} {
		issued, err := a.IssuedIndex(t.Context(), branch)
		require.NoError(t, err)
		require.GreaterOrEqual(t, int64(addressCount(t, a, branch)),
			int64(issued)+1+LookAheadSize)
	}
}

// TestRequestNewReceivingAddress checks that new receiving addresses are
// handed out until too many in a row are unused.
func TestRequestNewReceivingAddress(t *testing.T) {
	t.Parallel()

	// Arrange: an account whose notifier expects address requests.
	notifier := &mockNotifier{}
	notifier.On(
		"NotifyTx", PlaceholderHDAccount, (*db.TxDetails)(nil),
		AddressRequested, btcutil.Amount(0),
	).Return()

	cfg := newTestConfig(newTestStore(t))
	cfg.Notifier = notifier
	a := newTestAccountWithConfig(t, cfg)

	// Act: request addresses until one is refused.
	var (
		granted int
		seen    = make(map[string]struct{})
	)
	for {
		addr, err := a.ReceivingAddress(t.Context())
		require.NoError(t, err)
		seen[addr] = struct{}{}

		ok, err := a.RequestNewReceivingAddress(t.Context())
		require.NoError(t, err)
		if !ok {
			break
		}
		granted++
	}

	// Assert: the gap limit bounds the issued receiving addresses.
	require.Equal(t, MaxUnusedNewAddressCount-1, granted)
	require.Len(t, seen, MaxUnusedNewAddressCount)

	issued, err := a.IssuedIndex(t.Context(), db.External)
	require.NoError(t, err)
	require.EqualValues(t, MaxUnusedNewAddressCount-2, issued)
	require.EqualValues(
		t, MaxUnusedNewAddressCount-1+LookAheadSize,
		addressCount(t, a, db.External),
	)
	requireLookAhead(t, a)

	notifier.AssertNumberOfCalls(t, "NotifyTx", granted)
}

// TestRequestAfterUse checks that receiving funds on an address resets the
// run of unused addresses.
func TestRequestAfterUse(t *testing.T) {
	t.Parallel()

	// Arrange: an account that hit the unused address limit.
	a := newTestAccount(t)
	for range MaxUnusedNewAddressCount - 1 {
		ok, err := a.RequestNewReceivingAddress(t.Context())
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := a.RequestNewReceivingAddress(t.Context())
	require.NoError(t, err)
	require.False(t, ok)

	// Act: pay to an issued address, then request again.
	fund := unminedTx(t, 1, nil, []*wire.TxOut{
		payTo(t, a, db.External, 10, 10000),
	}, 0)
	require.NoError(t, a.RecordTx(t.Context(), &fund, TxReceive))

	ok, err = a.RequestNewReceivingAddress(t.Context())
	require.NoError(t, err)

	// Assert: the used address reopens the gap.
	require.True(t, ok)
}

// TestSupplyAfterReceive checks that a payment to a look-ahead address
// issues it and tops the chain up.
func TestSupplyAfterReceive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		branch db.Branch
		index  uint32
	}{
		{name: "external", branch: db.External, index: 50},
		{name: "internal", branch: db.Internal, index: 99},
		{name: "first address", branch: db.External, index: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: a payment to a look-ahead address.
			a := newTestAccount(t)
			fund := minedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, tc.branch, tc.index, 10000),
				payForeign(t, 5000),
			}, 100)

			// Act: record it.
			err := a.RecordTx(t.Context(), &fund, TxReceive)
			require.NoError(t, err)

			// Assert: the address is issued and the chain topped
			// up.
			issued, err := a.IssuedIndex(t.Context(), tc.branch)
			require.NoError(t, err)
			require.EqualValues(t, tc.index, issued)
			require.EqualValues(
				t, tc.index+1+LookAheadSize,
				addressCount(t, a, tc.branch),
			)
			requireLookAhead(t, a)
			require.EqualValues(t, 10000, a.Balance())
		})
	}
}

// TestUpdateIssuedIndex checks that issuing supplies new addresses and never
// lowers the issued index.
func TestUpdateIssuedIndex(t *testing.T) {
	t.Parallel()

	// Arrange: a fresh account.
	a := newTestAccount(t)

	// Act: issue up to 30, then ask for a lower index.
	require.NoError(t, a.UpdateIssuedIndex(t.Context(), db.Internal, 30))
	require.NoError(t, a.UpdateIssuedIndex(t.Context(), db.Internal, 10))

	// Assert: the highest index wins and the chain is topped up.
	issued, err := a.IssuedIndex(t.Context(), db.Internal)
	require.NoError(t, err)
	require.EqualValues(t, 30, issued)
	require.EqualValues(t, 131, addressCount(t, a, db.Internal))

	change, err := a.nextChangeAddress(t.Context())
	require.NoError(t, err)
	require.Equal(t, db.Internal, change.Branch)
	require.EqualValues(t, 31, change.Index)
	requireLookAhead(t, a)

	// Supplying again has nothing to do.
	require.NoError(t, a.SupplyIfNeeded(t.Context()))
	require.EqualValues(t, 131, addressCount(t, a, db.Internal))
}

// TestAddressForPathOutOfRange checks that asking for an address beyond the
// generated ones is a precondition violation.
func TestAddressForPathOutOfRange(t *testing.T) {
	t.Parallel()

	// Arrange: a store holding five external addresses.
	store := &mockStore{}
	store.On(
		"AddressCount", mock.Anything, uint32(7), db.External,
	).Return(uint32(5), nil)

	a := &HDAccount{cfg: Config{Store: store}, id: 7}

	// Act: ask for the sixth.
	_, err := a.addressForPath(t.Context(), db.External, 5)

	// Assert: the request is a precondition violation.
	require.ErrorIs(t, err, ErrPreconditionViolation)
	store.AssertExpectations(t)
}

// TestUpdateIssuedIndexOutOfRange checks that issuing beyond the generated
// addresses is refused and changes nothing.
func TestUpdateIssuedIndexOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index int32
	}{
		{name: "first ungenerated", index: LookAheadSize},
		{name: "far beyond", index: 10 * LookAheadSize},
		{name: "negative", index: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: a fresh account with LookAheadSize addresses
			// per branch.
			a := newTestAccount(t)

			// Act: issue up to an index that was never generated.
			err := a.UpdateIssuedIndex(
				t.Context(), db.External, tc.index,
			)

			// Assert: the call is refused and the state is kept.
			require.ErrorIs(t, err, ErrPreconditionViolation)

			issued, err := a.IssuedIndex(t.Context(), db.External)
			require.NoError(t, err)
			require.EqualValues(t, -1, issued)
			require.EqualValues(
				t, LookAheadSize, addressCount(t, a, db.External),
			)
		})
	}
}

// TestSyncComplete checks the per address sync flag.
func TestSyncComplete(t *testing.T) {
	t.Parallel()

	// Arrange: an account whose addresses have history to fetch.
	cfg := newTestConfig(newTestStore(t))
	a, err := ImportMnemonicSeed(
		t.Context(), cfg, zeroEntropy(), testPassword, Options{},
	)
	require.NoError(t, err)

	// Act and assert: mark every address synced, one at a time.
	for _, branch := range []db.Branch{db.External, db.Internal} {
		for i := uint32(0); i < LookAheadSize; i++ {
			synced, err := a.IsSyncComplete(t.Context())
			require.NoError(t, err)
			require.False(t, synced)

			err = a.UpdateSyncComplete(
				t.Context(), accountAddress(t, a, branch, i),
			)
			require.NoError(t, err)
		}
	}

	synced, err := a.IsSyncComplete(t.Context())
	require.NoError(t, err)
	require.True(t, synced)

	// Supplied addresses have no history to fetch.
	require.NoError(t, a.UpdateIssuedIndex(t.Context(), db.External, 5))
	synced, err = a.IsSyncComplete(t.Context())
	require.NoError(t, err)
	require.True(t, synced)
}

// TestTxRelation checks how transactions are related to the account.
func TestTxRelation(t *testing.T) {
	t.Parallel()

	// Arrange: payments and spends of own and foreign outputs.
	a := newTestAccount(t)
	fund := minedTx(t, 1, nil, []*wire.TxOut{
		payTo(t, a, db.External, 0, 10000),
		payForeign(t, 5000),
	}, 100)
	require.NoError(t, a.RecordTx(t.Context(), &fund, TxReceive))

	foreignFund := minedTx(t, 2, nil, []*wire.TxOut{
		payForeign(t, 7000),
	}, 100)
	require.NoError(t, a.cfg.Store.AddTxs(
		t.Context(), []db.TxDetails{foreignFund},
	))

	spendOwn := unminedTx(t, 3, []wire.OutPoint{outPoint(fund, 0)},
		[]*wire.TxOut{payForeign(t, 9000)}, 0)
	spendForeign := unminedTx(t, 4, []wire.OutPoint{outPoint(fund, 1)},
		[]*wire.TxOut{payForeign(t, 4000)}, 0)
	spendUnknown := unminedTx(t, 5, nil,
		[]*wire.TxOut{payForeign(t, 4000)}, 0)

	tests := []struct {
		name        string
		tx          db.TxDetails
		inAddresses []string
		related     bool
		fromMe      bool
	}{{
		name:    "pays to account",
		tx:      fund,
		related: true,
	}, {
		name:   "spends account output",
		tx:     spendOwn,
		fromMe: true,
	}, {
		name:        "spends account output, input address given",
		tx:          spendOwn,
		inAddresses: []string{firstZeroAddress},
		related:     true,
		fromMe:      true,
	}, {
		name: "spends foreign output of known tx",
		tx:   spendForeign,
	}, {
		name:        "foreign input address given",
		tx:          spendForeign,
		inAddresses: []string{foreignAddress(t)},
	}, {
		name: "unknown inputs",
		tx:   spendUnknown,
	}, {
		name: "foreign tx",
		tx:   foreignFund,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: relate the transaction to the account.
			related, err := a.IsTxRelated(
				t.Context(), &tc.tx.MsgTx, tc.inAddresses,
			)
			require.NoError(t, err)

			fromMe, err := a.IsSendFromMe(t.Context(), &tc.tx.MsgTx)
			require.NoError(t, err)

			// Assert: relation and origin match the case.
			require.Equal(t, tc.related, related)
			require.Equal(t, tc.fromMe, fromMe)
		})
	}
}

// TestRelatedAddressesForTx checks the owned addresses found in a tx.
func TestRelatedAddressesForTx(t *testing.T) {
	t.Parallel()

	// Arrange: a tx paying two account addresses and a foreign one.
	a := newTestAccount(t)
	tx := unminedTx(t, 1, nil, []*wire.TxOut{
		payTo(t, a, db.External, 3, 1000),
		payForeign(t, 2000),
		payTo(t, a, db.Internal, 1, 3000),
	}, 0)

	// Act: collect the related addresses.
	related, err := a.RelatedAddressesForTx(
		t.Context(), &tx.MsgTx, []string{foreignAddress(t)},
	)
	require.NoError(t, err)

	// Assert: only the account addresses are returned.
	require.Len(t, related, 2)

	got := make(map[db.Branch]uint32)
	for _, addr := range related {
		got[addr.Branch] = addr.Index
	}
	require.Equal(t, map[db.Branch]uint32{
		db.External: 3,
		db.Internal: 1,
	}, got)
}
