package account

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/btcsuite/hdaccount/internal/db/dbtest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// hashes returns the hashes of txs in order.
func hashes(txs []db.TxDetails) []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(txs))
	for i := range txs {
		out = append(out, txs[i].Hash)
	}

	return out
}

// TestCanonicalOrder checks that parents come first and everything else is
// ordered by receive time, then hash.
func TestCanonicalOrder(t *testing.T) {
	t.Parallel()

	// Arrange: a chain of spends, an unrelated tx and two txs received at
	// the same time, shuffled.
	_, script := dbtest.AddressFor(t, 1, db.External, 0)

	parent := unminedTx(t, 1, nil, []*wire.TxOut{
		dbtest.Output(1000, script),
	}, 10*time.Second)

	// The child is seen before its parent.
	child := unminedTx(t, 2, []wire.OutPoint{outPoint(parent, 0)},
		[]*wire.TxOut{dbtest.Output(900, script)}, time.Second)

	grandChild := unminedTx(t, 3, []wire.OutPoint{outPoint(child, 0)},
		[]*wire.TxOut{dbtest.Output(800, script)}, 0)

	unrelated := unminedTx(t, 4, nil, []*wire.TxOut{
		dbtest.Output(700, script),
	}, 5*time.Second)

	// Two unrelated txs with the same receive time are ordered by hash.
	tieA := unminedTx(t, 5, nil, []*wire.TxOut{
		dbtest.Output(600, script),
	}, 20*time.Second)
	tieB := unminedTx(t, 6, nil, []*wire.TxOut{
		dbtest.Output(500, script),
	}, 20*time.Second)
	if bytes.Compare(tieA.Hash[:], tieB.Hash[:]) > 0 {
		tieA, tieB = tieB, tieA
	}

	input := []db.TxDetails{tieB, grandChild, unrelated, tieA, child, parent}

	// Act: sort them.
	sorted := canonicalOrder(input)

	// Assert: parents come first, ties break on receive time then hash.
	require.Equal(t, hashes([]db.TxDetails{
		unrelated, parent, child, grandChild, tieA, tieB,
	}), hashes(sorted))

	// The input is left untouched.
	require.Equal(t, tieB.Hash, input[0].Hash)
}

// TestBalance checks the reconciled balance over confirmed and unconfirmed
// transactions.
func TestBalance(t *testing.T) {
	t.Parallel()

	type scenario func(t *testing.T, a *HDAccount) []db.TxDetails

	tests := []struct {
		name     string
		scenario scenario
		want     btcutil.Amount
	}{{
		name: "confirmed receive",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			return []db.TxDetails{minedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 5000),
				payForeign(t, 1000),
				payTo(t, a, db.Internal, 2, 2500),
			}, 100)}
		},
		want: 7500,
	}, {
		name: "unconfirmed receive",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			return []db.TxDetails{unminedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 4000),
			}, 0)}
		},
		want: 4000,
	}, {
		name: "received and spent while unconfirmed",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			txA := unminedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 100),
			}, 0)
			txB := unminedTx(t, 2, []wire.OutPoint{outPoint(txA, 0)},
				[]*wire.TxOut{payForeign(t, 30)}, time.Second)

			return []db.TxDetails{txA, txB}
		},
		want: 0,
	}, {
		name: "unconfirmed spend of confirmed output with change",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			fund := minedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 5000),
			}, 100)
			spend := unminedTx(t, 2, []wire.OutPoint{outPoint(fund, 0)},
				[]*wire.TxOut{
					payForeign(t, 3000),
					payTo(t, a, db.Internal, 0, 1500),
				}, time.Hour)

			return []db.TxDetails{fund, spend}
		},
		want: 1500,
	}, {
		name: "conflict, newest pays the account",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			txU := unminedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 1000),
			}, 0)
			txD := unminedTx(t, 2, []wire.OutPoint{outPoint(txU, 0)},
				[]*wire.TxOut{payForeign(t, 600)}, time.Second)
			txC := unminedTx(t, 3, []wire.OutPoint{outPoint(txU, 0)},
				[]*wire.TxOut{payTo(t, a, db.External, 1, 700)},
				2*time.Second)

			return []db.TxDetails{txU, txD, txC}
		},
		want: 700,
	}, {
		name: "conflict, newest pays elsewhere",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			txU := unminedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 1000),
			}, 0)
			txC := unminedTx(t, 2, []wire.OutPoint{outPoint(txU, 0)},
				[]*wire.TxOut{payTo(t, a, db.External, 1, 700)},
				time.Second)
			txD := unminedTx(t, 3, []wire.OutPoint{outPoint(txU, 0)},
				[]*wire.TxOut{payForeign(t, 600)}, 2*time.Second)

			return []db.TxDetails{txU, txC, txD}
		},
		want: 0,
	}, {
		name: "spent once confirmed",
		scenario: func(t *testing.T, a *HDAccount) []db.TxDetails {
			fund := minedTx(t, 1, nil, []*wire.TxOut{
				payTo(t, a, db.External, 0, 5000),
				payTo(t, a, db.External, 1, 2000),
			}, 100)
			spend := minedTx(t, 2, []wire.OutPoint{outPoint(fund, 1)},
				[]*wire.TxOut{payForeign(t, 1800)}, 101)

			return []db.TxDetails{fund, spend}
		},
		want: 5000,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: the history of the scenario.
			a := newTestAccount(t)
			txs := tc.scenario(t, a)

			// Act: load it into the account.
			require.NoError(t, a.InitTxs(t.Context(), txs))

			// Assert: the reconciled balance matches.
			require.Equal(t, tc.want, a.Balance())

			// Reconciling again gives the same result.
			require.NoError(t, a.UpdateBalance(t.Context()))
			require.Equal(t, tc.want, a.Balance())
		})
	}
}

// TestBalanceDelta checks the balance delta reported as transactions
// arrive one by one.
func TestBalanceDelta(t *testing.T) {
	t.Parallel()

	// Arrange: a chain of payments and spends applied one by one.
	a := newTestAccount(t)

	fund := unminedTx(t, 1, nil, []*wire.TxOut{
		payTo(t, a, db.External, 0, 8000),
	}, 0)
	spend := unminedTx(t, 2, []wire.OutPoint{outPoint(fund, 0)},
		[]*wire.TxOut{
			payForeign(t, 5000),
			payTo(t, a, db.Internal, 0, 2500),
		}, time.Minute)

	steps := []struct {
		tx    db.TxDetails
		delta btcutil.Amount
	}{
		{tx: fund, delta: 8000},
		{tx: spend, delta: -5500},
	}

	for _, step := range steps {
		// Act: store the next step and recompute.
		require.NoError(t, a.cfg.Store.AddTxs(
			t.Context(), []db.TxDetails{step.tx},
		))

		a.mu.Lock()
		delta, err := a.updateBalance(t.Context())
		a.mu.Unlock()

		// Assert: the delta of the step is reported.
		require.NoError(t, err)
		require.Equal(t, step.delta, delta)
	}
	require.EqualValues(t, 2500, a.Balance())
}

// TestBalanceStoreError checks that storage failures are returned.
func TestBalanceStoreError(t *testing.T) {
	t.Parallel()

	// Arrange: a store failing the confirmed balance query.
	store := &mockStore{}
	store.On("ConfirmedBalance", mock.Anything, uint32(1)).Return(
		btcutil.Amount(0), errDBMock,
	)
	a := &HDAccount{cfg: Config{Store: store}, id: 1}

	// Act: recompute the balance.
	err := a.UpdateBalance(t.Context())

	// Assert: the store error is returned.
	require.ErrorIs(t, err, errDBMock)
	store.AssertExpectations(t)
}

// TestTxs checks the transaction pages of an account.
func TestTxs(t *testing.T) {
	t.Parallel()

	// Arrange: more than one page of mined history.
	a := newTestAccount(t)

	const total = TxPageSize + 5
	txs := make([]db.TxDetails, 0, total)
	for i := uint32(0); i < total; i++ {
		txs = append(txs, minedTx(t, i+1, nil, []*wire.TxOut{
			payTo(t, a, db.External, i, 1000),
		}, int32(100+i)))
	}
	require.NoError(t, a.InitTxs(t.Context(), txs))

	// Act: read the pages in turn, and page zero.
	first, err := a.Txs(t.Context(), 1)
	require.NoError(t, err)
	second, err := a.Txs(t.Context(), 2)
	require.NoError(t, err)
	third, err := a.Txs(t.Context(), 3)
	require.NoError(t, err)
	_, errPage := a.Txs(t.Context(), 0)

	// Assert: newest first in full pages, then an empty page, and page zero
	// is invalid.
	require.Len(t, first, TxPageSize)
	require.Len(t, second, 5)
	require.Empty(t, third)
	require.ErrorIs(t, errPage, ErrInvalidPage)

	require.Equal(t, txs[total-1].Hash, first[0].Hash)
	require.Equal(t, txs[0].Hash, second[len(second)-1].Hash)

	count, err := a.TxCount(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, total, count)
	require.EqualValues(t, total*1000, a.Balance())
}

// TestRecentTxs checks the selection of transactions below a confirmation
// depth.
func TestRecentTxs(t *testing.T) {
	t.Parallel()

	// Arrange: deep, shallow and unmined history around tip 110.
	a := newTestAccount(t)

	deep := minedTx(t, 1, nil, []*wire.TxOut{
		payTo(t, a, db.External, 0, 1000),
	}, 100)
	sixConfs := minedTx(t, 2, nil, []*wire.TxOut{
		payTo(t, a, db.External, 1, 1000),
	}, 105)
	fiveConfs := minedTx(t, 3, nil, []*wire.TxOut{
		payTo(t, a, db.External, 2, 1000),
	}, 106)
	tip := minedTx(t, 4, nil, []*wire.TxOut{
		payTo(t, a, db.External, 3, 1000),
	}, 110)
	pending := unminedTx(t, 5, nil, []*wire.TxOut{
		payTo(t, a, db.External, 4, 1000),
	}, time.Hour)

	require.NoError(t, a.InitTxs(t.Context(), []db.TxDetails{
		deep, sixConfs, fiveConfs, tip, pending,
	}))

	tests := []struct {
		name          string
		confirmations int32
		limit         uint32
		want          []db.TxDetails
	}{{
		name:          "fewer than six confirmations",
		confirmations: 6,
		want:          []db.TxDetails{pending, tip, fiveConfs},
	}, {
		name:          "limited",
		confirmations: 6,
		limit:         2,
		want:          []db.TxDetails{pending, tip},
	}, {
		name:          "unconfirmed only",
		confirmations: 1,
		want:          []db.TxDetails{pending},
	}, {
		name:          "everything",
		confirmations: 1000,
		want: []db.TxDetails{
			pending, tip, fiveConfs, sixConfs, deep,
		},
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: ask for the recent transactions.
			got, err := a.RecentTxs(
				t.Context(), 110, tc.confirmations, tc.limit,
			)
			require.NoError(t, err)

			// Assert: the confirmation bound and limit of the case
			// apply.
			require.Equal(t, hashes(tc.want), hashes(got))
		})
	}
}
