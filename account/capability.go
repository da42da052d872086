package account

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/hdaccount/internal/db"
)

// Account is the behavior shared by every kind of account a wallet holds,
// whether derived from a seed or not.
type Account interface {
	// Balance returns the balance computed by the last update.
	Balance() btcutil.Amount

	// UpdateBalance recomputes the balance from storage.
	UpdateBalance(ctx context.Context) error

	// Txs returns a page of transactions, newest first.
	Txs(ctx context.Context, page uint32) ([]db.TxDetails, error)

	// TxCount returns the number of transactions of the account.
	TxCount(ctx context.Context) (uint32, error)

	// HasPrivateKey reports whether the account can sign.
	HasPrivateKey() bool

	// IsSyncComplete reports whether the account history is fully
	// fetched.
	IsSyncComplete(ctx context.Context) (bool, error)

	// ReceivingAddress returns the address to hand out for payments.
	ReceivingAddress(ctx context.Context) (string, error)
}

// A compile time check to ensure that HDAccount implements Account.
var _ Account = (*HDAccount)(nil)
