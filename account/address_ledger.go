package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
)

// chainRoot returns the public root of a branch.
func (a *HDAccount) chainRoot(branch db.Branch) *hdkeychain.ExtendedKey {
	if branch == db.Internal {
		return a.internalRoot
	}

	return a.externalRoot
}

// SupplyIfNeeded tops up both chains so that LookAheadSize addresses are
// generated beyond each issued index.
func (a *HDAccount) SupplyIfNeeded(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.supplyIfNeeded(ctx)
}

// supplyIfNeeded must be called with the account mutex held. Supplied
// addresses are new and have no history, so they are marked synced.
func (a *HDAccount) supplyIfNeeded(ctx context.Context) error {
	for _, branch := range []db.Branch{db.External, db.Internal} {
		if err := a.supplyBranch(ctx, branch); err != nil {
			return err
		}
	}

	return nil
}

func (a *HDAccount) supplyBranch(ctx context.Context, branch db.Branch) error {
	issued, err := a.cfg.Store.IssuedIndex(ctx, a.id, branch)
	if err != nil {
		return err
	}
	generated, err := a.cfg.Store.AddressCount(ctx, a.id, branch)
	if err != nil {
		return err
	}

	deficit := int64(issued) + 1 + LookAheadSize - int64(generated)
	if deficit <= 0 {
		return nil
	}

	root := a.chainRoot(branch)
	addrs := make([]db.AddressInfo, 0, deficit)
	for i := generated; i < generated+uint32(deficit); i++ {
		addr, err := deriveAddress(root, branch, i, true,
			a.cfg.ChainParams)
		if err != nil {
			return err
		}
		addr.AccountID = a.id
		addrs = append(addrs, *addr)
	}

	if err := a.cfg.Store.AddAddresses(ctx, addrs); err != nil {
		return err
	}

	log.Infof("HD account %d supplied %d %v addresses", a.id, len(addrs),
		branch)

	return nil
}

// addressForPath returns the generated address at index of a branch. Asking
// for an address that is not generated yet is a precondition violation.
func (a *HDAccount) addressForPath(ctx context.Context, branch db.Branch,
	index uint32) (*db.AddressInfo, error) {

	generated, err := a.cfg.Store.AddressCount(ctx, a.id, branch)
	if err != nil {
		return nil, err
	}
	if index >= generated {
		return nil, fmt.Errorf("%w: %v address %d not generated, "+
			"have %d", ErrPreconditionViolation, branch, index,
			generated)
	}

	return a.cfg.Store.AddressForIndex(ctx, a.id, branch, index)
}

// nextAddress returns the first unissued address of a branch.
func (a *HDAccount) nextAddress(ctx context.Context,
	branch db.Branch) (*db.AddressInfo, error) {

	issued, err := a.cfg.Store.IssuedIndex(ctx, a.id, branch)
	if err != nil {
		return nil, err
	}

	return a.addressForPath(ctx, branch, uint32(issued+1))
}

// nextChangeAddress returns the first unissued internal address.
func (a *HDAccount) nextChangeAddress(ctx context.Context) (*db.AddressInfo,
	error) {

	return a.nextAddress(ctx, db.Internal)
}

// ReceivingAddress returns the current receiving address, the first
// unissued address of the external chain.
func (a *HDAccount) ReceivingAddress(ctx context.Context) (string, error) {
	addr, err := a.nextAddress(ctx, db.External)
	if err != nil {
		return "", err
	}

	return addr.Address, nil
}

// RequestNewReceivingAddress issues the current receiving address so that
// the next one becomes current. It refuses, returning false, once
// MaxUnusedNewAddressCount receiving addresses in a row have never been
// used.
func (a *HDAccount) RequestNewReceivingAddress(ctx context.Context) (bool,
	error) {

	a.mu.Lock()
	defer a.mu.Unlock()

	issued, err := a.cfg.Store.IssuedIndex(ctx, a.id, db.External)
	if err != nil {
		return false, err
	}
	lastUsed, err := a.cfg.Store.LastUsedIndex(ctx, a.id, db.External)
	if err != nil {
		return false, err
	}

	current := issued + 1
	if current-lastUsed >= MaxUnusedNewAddressCount {
		log.Debugf("HD account %d has %d unused receiving addresses, "+
			"not issuing another", a.id, current-lastUsed)

		return false, nil
	}

	err = a.cfg.Store.UpdateIssuedIndex(ctx, db.UpdateIssuedIndexParams{
		AccountID: a.id,
		Branch:    db.External,
		Index:     current,
	})
	if err != nil {
		return false, err
	}

	if err := a.supplyIfNeeded(ctx); err != nil {
		return false, err
	}

	if err := a.notify(ctx, nil, AddressRequested); err != nil {
		return false, err
	}

	return true, nil
}

// IssuedIndex returns the highest issued index of a branch, or -1.
func (a *HDAccount) IssuedIndex(ctx context.Context,
	branch db.Branch) (int32, error) {

	return a.cfg.Store.IssuedIndex(ctx, a.id, branch)
}

// UpdateIssuedIndex marks the addresses of a branch up to index as issued
// and supplies new addresses as needed. An index outside the generated
// addresses is a precondition violation.
func (a *HDAccount) UpdateIssuedIndex(ctx context.Context, branch db.Branch,
	index int32) error {

	a.mu.Lock()
	defer a.mu.Unlock()

	generated, err := a.cfg.Store.AddressCount(ctx, a.id, branch)
	if err != nil {
		return err
	}
	if index < 0 || int64(index) >= int64(generated) {
		return fmt.Errorf("%w: %v issued index %d outside %d generated "+
			"addresses", ErrPreconditionViolation, branch, index,
			generated)
	}

	err = a.cfg.Store.UpdateIssuedIndex(ctx, db.UpdateIssuedIndexParams{
		AccountID: a.id,
		Branch:    branch,
		Index:     index,
	})
	if err != nil {
		return err
	}

	return a.supplyIfNeeded(ctx)
}

// UpdateSyncComplete records that the history of address is fully fetched.
func (a *HDAccount) UpdateSyncComplete(ctx context.Context,
	address string) error {

	return a.cfg.Store.MarkSyncComplete(ctx, a.id, address)
}

// IsSyncComplete reports whether the history of every address is fetched.
func (a *HDAccount) IsSyncComplete(ctx context.Context) (bool, error) {
	unsynced, err := a.cfg.Store.UnsyncedAddressCount(ctx, a.id)
	if err != nil {
		return false, err
	}

	return unsynced == 0, nil
}

// outputAddresses returns the address of every standard output of tx.
func (a *HDAccount) outputAddresses(tx *wire.MsgTx) []string {
	addrs := make([]string, 0, len(tx.TxOut))
	for _, txOut := range tx.TxOut {
		addr := db.OutputAddress(txOut.PkScript, a.cfg.ChainParams)
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}

	return addrs
}

// RelatedAddressesForTx returns the account addresses among the outputs of
// tx and the given input addresses.
func (a *HDAccount) RelatedAddressesForTx(ctx context.Context, tx *wire.MsgTx,
	inAddresses []string) ([]db.AddressInfo, error) {

	related, err := a.cfg.Store.BelongAccount(
		ctx, a.id, a.outputAddresses(tx),
	)
	if err != nil {
		return nil, err
	}

	if len(inAddresses) > 0 {
		fromInputs, err := a.cfg.Store.BelongAccount(
			ctx, a.id, inAddresses,
		)
		if err != nil {
			return nil, err
		}
		related = append(related, fromInputs...)
	}

	return related, nil
}

// IsTxRelated reports whether tx pays to, or is funded from, the account.
func (a *HDAccount) IsTxRelated(ctx context.Context, tx *wire.MsgTx,
	inAddresses []string) (bool, error) {

	related, err := a.RelatedAddressesForTx(ctx, tx, inAddresses)
	if err != nil {
		return false, err
	}

	return len(related) > 0, nil
}

// IsSendFromMe reports whether any input of tx spends an account output.
func (a *HDAccount) IsSendFromMe(ctx context.Context,
	tx *wire.MsgTx) (bool, error) {

	var prevAddrs []string
	for _, txIn := range tx.TxIn {
		prev := txIn.PreviousOutPoint

		prevTx, err := a.cfg.Store.TxByHash(ctx, prev.Hash)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if int(prev.Index) >= len(prevTx.MsgTx.TxOut) {
			continue
		}

		addr := db.OutputAddress(
			prevTx.MsgTx.TxOut[prev.Index].PkScript,
			a.cfg.ChainParams,
		)
		if addr != "" {
			prevAddrs = append(prevAddrs, addr)
		}
	}

	if len(prevAddrs) == 0 {
		return false, nil
	}

	owned, err := a.cfg.Store.BelongAccount(ctx, a.id, prevAddrs)
	if err != nil {
		return false, err
	}

	return len(owned) > 0, nil
}

// FirstAddressFromDB returns the stored first receiving address.
func (a *HDAccount) FirstAddressFromDB(ctx context.Context) (string, error) {
	info, err := a.cfg.Store.GetAccount(ctx, a.id)
	if err != nil {
		return "", err
	}

	return info.FirstAddress, nil
}

// PubKeys returns the public keys of a branch in index order.
func (a *HDAccount) PubKeys(ctx context.Context,
	branch db.Branch) ([][]byte, error) {

	return a.cfg.Store.PubKeys(ctx, a.id, branch)
}

// markIssued raises the issued index of each branch to the highest account
// address tx pays to. Must be called with the account mutex held.
func (a *HDAccount) markIssued(ctx context.Context, tx *wire.MsgTx) error {
	owned, err := a.cfg.Store.BelongAccount(ctx, a.id, a.outputAddresses(tx))
	if err != nil {
		return err
	}

	highest := map[db.Branch]int32{db.External: -1, db.Internal: -1}
	for _, addr := range owned {
		if int32(addr.Index) > highest[addr.Branch] {
			highest[addr.Branch] = int32(addr.Index)
		}
	}

	for branch, index := range highest {
		if index < 0 {
			continue
		}

		err := a.cfg.Store.UpdateIssuedIndex(ctx,
			db.UpdateIssuedIndexParams{
				AccountID: a.id,
				Branch:    branch,
				Index:     index,
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}
