package account

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/btcsuite/hdaccount/internal/db"
)

// NotificationType tells a Notifier why the balance was recomputed.
type NotificationType uint8

const (
	// TxSend is a transaction sent from the account.
	TxSend NotificationType = iota

	// TxReceive is a transaction received by the account.
	TxReceive

	// TxDoubleSpend is a transaction conflicting with a known one.
	TxDoubleSpend

	// TxFromAPI is a batch of history loaded from a block source.
	TxFromAPI

	// AddressRequested is a new receiving address being issued.
	AddressRequested
)

// String returns the name of the notification type.
func (t NotificationType) String() string {
	switch t {
	case TxSend:
		return "send"
	case TxReceive:
		return "receive"
	case TxDoubleSpend:
		return "double spend"
	case TxFromAPI:
		return "from api"
	case AddressRequested:
		return "address requested"
	default:
		return "unknown"
	}
}

const (
	// PlaceholderHDAccount tags notifications of keyed accounts.
	PlaceholderHDAccount = "HDAccount"

	// PlaceholderHDAccountMonitored tags notifications of watch-only
	// accounts.
	PlaceholderHDAccountMonitored = "HDAccountMonitored"
)

// Notifier receives a balance delta event after every observed transaction
// and every issued receiving address. tx is nil when no single transaction
// caused the event. NotifyTx is called with the account mutex held and must
// not call back into the account.
type Notifier interface {
	NotifyTx(placeholder string, tx *db.TxDetails, typ NotificationType,
		delta btcutil.Amount)
}

type noopNotifier struct{}

func (noopNotifier) NotifyTx(string, *db.TxDetails, NotificationType,
	btcutil.Amount) {
}

// placeholder returns the notification tag of the account.
func (a *HDAccount) placeholder() string {
	if a.hasPrivateKey {
		return PlaceholderHDAccount
	}

	return PlaceholderHDAccountMonitored
}

// notify recomputes the balance and reports its change. Must be called with
// the account mutex held.
func (a *HDAccount) notify(ctx context.Context, tx *db.TxDetails,
	typ NotificationType) error {

	delta, err := a.updateBalance(ctx)
	if err != nil {
		return err
	}

	log.Debugf("HD account %d notifying %v, balance delta %v", a.id, typ,
		delta)

	a.cfg.Notifier.NotifyTx(a.placeholder(), tx, typ, delta)

	return nil
}

// OnNewTx reacts to a stored transaction: addresses it pays to are issued,
// the chains are topped up and the balance change is notified.
func (a *HDAccount) OnNewTx(ctx context.Context, tx *db.TxDetails,
	typ NotificationType) error {

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.onNewTx(ctx, tx, typ)
}

func (a *HDAccount) onNewTx(ctx context.Context, tx *db.TxDetails,
	typ NotificationType) error {

	if err := a.markIssued(ctx, &tx.MsgTx); err != nil {
		return err
	}
	if err := a.supplyIfNeeded(ctx); err != nil {
		return err
	}

	return a.notify(ctx, tx, typ)
}

// RecordTx stores tx, or updates its block if it is known, and then
// handles the stored record as OnNewTx does. A known transaction keeps its
// first receive time.
func (a *HDAccount) RecordTx(ctx context.Context, tx *db.TxDetails,
	typ NotificationType) error {

	_, err := a.recordTx(ctx, tx, typ)

	return err
}

func (a *HDAccount) recordTx(ctx context.Context, tx *db.TxDetails,
	typ NotificationType) (*db.TxDetails, error) {

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.cfg.Store.AddTxs(ctx, []db.TxDetails{*tx}); err != nil {
		return nil, err
	}

	stored, err := a.cfg.Store.TxByHash(ctx, tx.Hash)
	if err != nil {
		return nil, err
	}

	log.Debugf("HD account %d recorded tx %v at height %d, received %v",
		a.id, stored.Hash, stored.Block.Height, stored.Received)

	if err := a.onNewTx(ctx, stored, typ); err != nil {
		return nil, err
	}

	return stored, nil
}

// RecordMsgTx records msgTx as received now and returns the stored record.
// A nil block marks it unmined.
func (a *HDAccount) RecordMsgTx(ctx context.Context, msgTx *wire.MsgTx,
	block *wtxmgr.BlockMeta, typ NotificationType) (*db.TxDetails, error) {

	tx, err := db.NewTxDetails(msgTx, a.cfg.Clock.Now(), block)
	if err != nil {
		return nil, err
	}

	return a.recordTx(ctx, tx, typ)
}

// InitTxs stores a batch of history, issues the addresses it pays to, tops
// up the chains and notifies a single TxFromAPI event.
func (a *HDAccount) InitTxs(ctx context.Context, txs []db.TxDetails) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(txs) > 0 {
		if err := a.cfg.Store.AddTxs(ctx, txs); err != nil {
			return err
		}
	}

	for i := range txs {
		if err := a.markIssued(ctx, &txs[i].MsgTx); err != nil {
			return err
		}
	}
	if err := a.supplyIfNeeded(ctx); err != nil {
		return err
	}

	log.Infof("HD account %d loaded %d transactions", a.id, len(txs))

	return a.notify(ctx, nil, TxFromAPI)
}
