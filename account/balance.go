package account

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Balance returns the balance computed by the last reconciliation.
func (a *HDAccount) Balance() btcutil.Amount {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.balance
}

// UpdateBalance recomputes the balance from storage.
func (a *HDAccount) UpdateBalance(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.updateBalance(ctx)

	return err
}

// updateBalance recomputes the balance and returns its change. Must be
// called with the account mutex held, or before the account is shared.
func (a *HDAccount) updateBalance(ctx context.Context) (btcutil.Amount,
	error) {

	confirmed, err := a.cfg.Store.ConfirmedBalance(ctx, a.id)
	if err != nil {
		return 0, err
	}

	unconfirmed, err := a.unconfirmedDelta(ctx)
	if err != nil {
		return 0, err
	}

	balance := confirmed + unconfirmed
	delta := balance - a.balance
	a.balance = balance

	log.Debugf("HD account %d balance %v (confirmed %v, unconfirmed %v)",
		a.id, balance, confirmed, unconfirmed)

	return delta, nil
}

// unconfirmedDelta is the balance change of the unmined transactions. They
// are walked newest first; a transaction that spends an outpoint already
// spent by a newer one, or that spends from an invalidated one, is a
// conflict and contributes nothing. Outputs both received and spent within
// the window are taken back out.
func (a *HDAccount) unconfirmedDelta(ctx context.Context) (btcutil.Amount,
	error) {

	txs, err := a.cfg.Store.UnconfirmedTxs(ctx, a.id)
	if err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0, nil
	}

	txs = canonicalOrder(txs)

	owned, err := a.ownedOutputAddresses(ctx, txs)
	if err != nil {
		return 0, err
	}

	var (
		balance    btcutil.Amount
		invalidTx  = fn.NewSet[chainhash.Hash]()
		spentOut   = fn.NewSet[wire.OutPoint]()
		unspentOut = fn.NewSet[wire.OutPoint]()
	)

	for i := len(txs) - 1; i >= 0; i-- {
		tx := &txs[i]

		spent := fn.NewSet[wire.OutPoint]()
		inputTxs := fn.NewSet[chainhash.Hash]()
		for _, txIn := range tx.MsgTx.TxIn {
			spent.Add(txIn.PreviousOutPoint)
			inputTxs.Add(txIn.PreviousOutPoint.Hash)
		}

		if !tx.Confirmed() && (len(spent.Intersect(spentOut)) > 0 ||
			len(inputTxs.Intersect(invalidTx)) > 0) {

			log.Debugf("Unconfirmed tx %v conflicts, ignoring it",
				tx.Hash)
			invalidTx.Add(tx.Hash)

			continue
		}

		for op := range spent {
			spentOut.Add(op)
		}

		for idx, txOut := range tx.MsgTx.TxOut {
			addr := db.OutputAddress(txOut.PkScript, a.cfg.ChainParams)
			if !owned.Contains(addr) {
				continue
			}

			unspentOut.Add(wire.OutPoint{
				Hash:  tx.Hash,
				Index: uint32(idx),
			})
			balance += btcutil.Amount(txOut.Value)
		}

		for _, op := range unspentOut.Intersect(spentOut).ToSlice() {
			value, err := a.outputValue(ctx, op)
			if err != nil {
				return 0, err
			}

			balance -= value
			unspentOut.Remove(op)
		}
	}

	return balance, nil
}

// ownedOutputAddresses returns the set of output addresses of txs that
// belong to the account.
func (a *HDAccount) ownedOutputAddresses(ctx context.Context,
	txs []db.TxDetails) (fn.Set[string], error) {

	var addrs []string
	for i := range txs {
		addrs = append(addrs, a.outputAddresses(&txs[i].MsgTx)...)
	}

	rows, err := a.cfg.Store.BelongAccount(ctx, a.id, addrs)
	if err != nil {
		return nil, err
	}

	owned := fn.NewSet[string]()
	for _, row := range rows {
		owned.Add(row.Address)
	}

	return owned, nil
}

// outputValue looks up the value of a stored output.
func (a *HDAccount) outputValue(ctx context.Context,
	op wire.OutPoint) (btcutil.Amount, error) {

	tx, err := a.cfg.Store.TxByHash(ctx, op.Hash)
	if err != nil {
		return 0, fmt.Errorf("lookup tx %v: %w", op.Hash, err)
	}
	if int(op.Index) >= len(tx.MsgTx.TxOut) {
		return 0, fmt.Errorf("%w: tx %v has no output %d",
			ErrPreconditionViolation, op.Hash, op.Index)
	}

	return btcutil.Amount(tx.MsgTx.TxOut[op.Index].Value), nil
}

// canonicalOrder sorts txs so that every transaction follows the in-set
// transactions it spends from. Unrelated transactions are ordered by receive
// time, then by hash bytes.
func canonicalOrder(txs []db.TxDetails) []db.TxDetails {
	base := make([]db.TxDetails, len(txs))
	copy(base, txs)
	sort.SliceStable(base, func(i, j int) bool {
		ti, tj := base[i].Received, base[j].Received
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}

		return bytes.Compare(base[i].Hash[:], base[j].Hash[:]) < 0
	})

	inSet := fn.NewSet[chainhash.Hash]()
	for i := range base {
		inSet.Add(base[i].Hash)
	}

	// parents counts the distinct in-set transactions each one spends
	// from, children lists the reverse edges.
	parents := make(map[chainhash.Hash]int, len(base))
	children := make(map[chainhash.Hash][]chainhash.Hash, len(base))
	for i := range base {
		hash := base[i].Hash
		seen := fn.NewSet[chainhash.Hash]()
		for _, txIn := range base[i].MsgTx.TxIn {
			parent := txIn.PreviousOutPoint.Hash
			if parent == hash || !inSet.Contains(parent) ||
				seen.Contains(parent) {

				continue
			}
			seen.Add(parent)
			parents[hash]++
			children[parent] = append(children[parent], hash)
		}
	}

	sorted := make([]db.TxDetails, 0, len(base))
	done := make([]bool, len(base))
	for len(sorted) < len(base) {
		next := -1
		for i := range base {
			if !done[i] && parents[base[i].Hash] == 0 {
				next = i
				break
			}
		}

		// A cycle can only come from corrupt data. Fall back to the
		// base order for whatever is left.
		if next == -1 {
			for i := range base {
				if !done[i] {
					next = i
					break
				}
			}
		}

		done[next] = true
		sorted = append(sorted, base[next])
		for _, child := range children[base[next].Hash] {
			parents[child]--
		}
	}

	return sorted
}

// Txs returns a page of the account's transactions, newest first. Pages
// hold TxPageSize transactions and start at 1.
func (a *HDAccount) Txs(ctx context.Context, page uint32) ([]db.TxDetails,
	error) {

	if page < 1 {
		return nil, ErrInvalidPage
	}

	return a.cfg.Store.ListTxs(ctx, db.ListTxsQuery{
		AccountID: a.id,
		Offset:    (page - 1) * TxPageSize,
		Limit:     TxPageSize,
	})
}

// TxCount returns the number of transactions touching the account.
func (a *HDAccount) TxCount(ctx context.Context) (uint32, error) {
	return a.cfg.Store.TxCount(ctx, a.id)
}

// RecentTxs returns up to limit transactions, newest first, that are either
// unmined or have fewer than confirmations confirmations at tipHeight. A
// zero limit returns all of them.
func (a *HDAccount) RecentTxs(ctx context.Context, tipHeight int32,
	confirmations int32, limit uint32) ([]db.TxDetails, error) {

	minHeight := tipHeight - confirmations + 2
	if minHeight < 0 {
		minHeight = 0
	}

	return a.cfg.Store.ListTxs(ctx, db.ListTxsQuery{
		AccountID: a.id,
		Limit:     limit,
		MinHeight: fn.Some(minHeight),
	})
}
