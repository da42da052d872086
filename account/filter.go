package account

import (
	"context"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hdaccount/internal/db"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// filterSources collects what the account contributes to an SPV filter.
type filterSources struct {
	pubKeys          [][]byte
	unspent          []db.Credit
	unconfirmedSpent []db.Credit
}

func (a *HDAccount) filterSources(ctx context.Context) (*filterSources,
	error) {

	pubKeys, err := a.cfg.Store.PubKeys(ctx, a.id, db.External)
	if err != nil {
		return nil, err
	}

	query := db.CreditQuery{
		AccountID: a.id,
		Branch:    fn.Some(db.Internal),
	}
	unspent, err := a.cfg.Store.UnspentOutputs(ctx, query)
	if err != nil {
		return nil, err
	}
	unconfirmedSpent, err := a.cfg.Store.UnconfirmedSpentOutputs(ctx, query)
	if err != nil {
		return nil, err
	}

	return &filterSources{
		pubKeys:          pubKeys,
		unspent:          unspent,
		unconfirmedSpent: unconfirmedSpent,
	}, nil
}

// FilterElementCount returns the number of elements ContributeElements
// inserts: two per external address plus one per unspent or unconfirmed
// spent internal output.
func (a *HDAccount) FilterElementCount(ctx context.Context) (uint32, error) {
	external, err := a.cfg.Store.AddressCount(ctx, a.id, db.External)
	if err != nil {
		return 0, err
	}

	query := db.CreditQuery{
		AccountID: a.id,
		Branch:    fn.Some(db.Internal),
	}
	unspent, err := a.cfg.Store.UnspentOutputs(ctx, query)
	if err != nil {
		return 0, err
	}
	unconfirmedSpent, err := a.cfg.Store.UnconfirmedSpentOutputs(ctx, query)
	if err != nil {
		return 0, err
	}

	return 2*external + uint32(len(unspent)) + uint32(len(unconfirmedSpent)),
		nil
}

// ContributeElements inserts, in order, the public key and its hash for
// every external address, then the outpoint of every unspent internal
// output, then the outpoint of every internal output spent by unmined
// transactions only.
func (a *HDAccount) ContributeElements(ctx context.Context,
	insert func([]byte)) error {

	src, err := a.filterSources(ctx)
	if err != nil {
		return err
	}

	for _, pubKey := range src.pubKeys {
		insert(pubKey)
		insert(btcutil.Hash160(pubKey))
	}
	for _, credit := range src.unspent {
		insert(outPointBytes(credit.OutPoint))
	}
	for _, credit := range src.unconfirmedSpent {
		insert(outPointBytes(credit.OutPoint))
	}

	return nil
}

// BloomFilter builds a bloom filter holding the account's elements.
func (a *HDAccount) BloomFilter(ctx context.Context, fpRate float64,
	tweak uint32, flags wire.BloomUpdateType) (*bloom.Filter, error) {

	count, err := a.FilterElementCount(ctx)
	if err != nil {
		return nil, err
	}

	filter := bloom.NewFilter(count, tweak, fpRate, flags)
	if err := a.ContributeElements(ctx, filter.Add); err != nil {
		return nil, err
	}

	return filter, nil
}

// outPointBytes is the filter encoding of an outpoint: the transaction hash
// followed by the little endian output index.
func outPointBytes(op wire.OutPoint) []byte {
	b := make([]byte, 36)
	copy(b, op.Hash[:])
	binary.LittleEndian.PutUint32(b[32:], op.Index)

	return b
}
