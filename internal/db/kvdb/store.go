package kvdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/hdaccount/internal/db"

	// Register the bbolt backed "bdb" walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

var (
	// namespaceKey is the top-level bucket holding all account data.
	namespaceKey = []byte("hdaccount")

	bucketAccounts  = []byte("accounts")
	bucketXPubs     = []byte("xpubs")
	bucketAddresses = []byte("addresses")
	bucketAddrIndex = []byte("addrindex")
	bucketTxs       = []byte("txs")
	bucketOutputs   = []byte("outputs")
	bucketSpends    = []byte("spends")

	allBuckets = [][]byte{
		bucketAccounts, bucketXPubs, bucketAddresses, bucketAddrIndex,
		bucketTxs, bucketOutputs, bucketSpends,
	}

	// errNoNamespace is returned when the top-level bucket is missing.
	errNoNamespace = db.NewError(db.ErrDatabase, "namespace bucket not found",
		nil)
)

// Store is the kvdb (walletdb) implementation of the db.Store interface.
type Store struct {
	db          walletdb.DB
	chainParams *chaincfg.Params
}

// A compile-time assertion to ensure that Store implements the db.Store
// interface.
var _ db.Store = (*Store)(nil)

// NewStore creates a new kvdb-backed store, creating its buckets if needed.
func NewStore(dbConn walletdb.DB, params *chaincfg.Params) (*Store, error) {
	if dbConn == nil {
		return nil, db.ErrNilDB
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	err := walletdb.Update(dbConn, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}

		for _, key := range allBuckets {
			if _, err := ns.CreateBucketIfNotExists(key); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, db.NewError(db.ErrDatabase, "create buckets", err)
	}

	return &Store{
		db:          dbConn,
		chainParams: params,
	}, nil
}

// Open opens, or creates, the bbolt database file at dbPath.
func Open(dbPath string, timeout time.Duration,
	params *chaincfg.Params) (*Store, error) {

	dbConn, err := walletdb.Create("bdb", dbPath, true, timeout, false)
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	store, err := NewStore(dbConn, params)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	log.Debugf("Opened bolt store at %s", dbPath)

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// view runs fn with the namespace bucket in a read transaction.
func (s *Store) view(fn func(ns walletdb.ReadBucket) error) error {
	return walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(namespaceKey)
		if ns == nil {
			return errNoNamespace
		}

		return fn(ns)
	})
}

// update runs fn with the namespace bucket in a write transaction.
func (s *Store) update(fn func(ns walletdb.ReadWriteBucket) error) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if ns == nil {
			return errNoNamespace
		}

		return fn(ns)
	})
}

// forEachPrefix calls fn for every key of bucket starting with prefix, in
// key order.
func forEachPrefix(bucket walletdb.ReadBucket, prefix []byte,
	fn func(k, v []byte) error) error {

	c := bucket.ReadCursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}

	return nil
}

// ============================================================================
// AccountStore Implementation
// ============================================================================

// CreateAccount persists a new account together with its initial address
// rows in a single database transaction.
func (s *Store) CreateAccount(_ context.Context,
	params db.CreateAccountParams) (*db.AccountInfo, error) {

	if params.ExternalXPub == "" || params.InternalXPub == "" {
		return nil, db.ErrMissingPubKeys
	}

	var info *db.AccountInfo
	err := s.update(func(ns walletdb.ReadWriteBucket) error {
		xpubs := ns.NestedReadWriteBucket(bucketXPubs)
		xk := xpubKey(params.ExternalXPub, params.InternalXPub)
		if xpubs.Get(xk) != nil {
			return db.ErrDuplicateAccount
		}

		accounts := ns.NestedReadWriteBucket(bucketAccounts)
		seq, err := accounts.NextSequence()
		if err != nil {
			return err
		}
		if seq > uint64(^uint32(0)) {
			return fmt.Errorf("account id %d: %w", seq,
				db.ErrCastingOverflow)
		}

		info = &db.AccountInfo{
			ID:                    uint32(seq),
			EncryptedMnemonicSeed: params.EncryptedMnemonicSeed,
			EncryptedHDSeed:       params.EncryptedHDSeed,
			FirstAddress:          params.FirstAddress,
			IsFromSecureRandom:    params.IsFromSecureRandom,
			ExternalXPub:          params.ExternalXPub,
			InternalXPub:          params.InternalXPub,
			CreatedAt:             time.Unix(0, params.CreatedAt.UnixNano()),
		}

		v, err := encodeAccount(info)
		if err != nil {
			return err
		}
		if err := accounts.Put(uint32Key(info.ID), v); err != nil {
			return err
		}
		if err := xpubs.Put(xk, uint32Key(info.ID)); err != nil {
			return err
		}

		addrs := make([]db.AddressInfo, len(params.Addresses))
		for i, addr := range params.Addresses {
			addr.AccountID = info.ID
			addrs[i] = addr
		}

		return putAddresses(ns, addrs)
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Created account %d with %d addresses", info.ID,
		len(params.Addresses))

	return info, nil
}

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(_ context.Context,
	accountID uint32) (*db.AccountInfo, error) {

	var info *db.AccountInfo
	err := s.view(func(ns walletdb.ReadBucket) error {
		v := ns.NestedReadBucket(bucketAccounts).Get(uint32Key(accountID))
		if v == nil {
			return fmt.Errorf("account %d: %w", accountID, db.ErrNotFound)
		}

		var err error
		info, err = decodeAccount(accountID, v)

		return err
	})

	return info, err
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(_ context.Context) ([]db.AccountInfo, error) {
	var accounts []db.AccountInfo
	err := s.view(func(ns walletdb.ReadBucket) error {
		return ns.NestedReadBucket(bucketAccounts).ForEach(
			func(k, v []byte) error {
				if len(k) != 4 {
					return nil
				}

				info, err := decodeAccount(
					binary.BigEndian.Uint32(k), v,
				)
				if err != nil {
					return err
				}
				accounts = append(accounts, *info)

				return nil
			},
		)
	})

	return accounts, err
}

// PubKeysExist reports whether an account with the given chain root public
// keys exists.
func (s *Store) PubKeysExist(_ context.Context, externalXPub,
	internalXPub string) (bool, error) {

	var exists bool
	err := s.view(func(ns walletdb.ReadBucket) error {
		xk := xpubKey(externalXPub, internalXPub)
		exists = ns.NestedReadBucket(bucketXPubs).Get(xk) != nil

		return nil
	})

	return exists, err
}

// ============================================================================
// AddressStore Implementation
// ============================================================================

// putAddresses writes address rows and their reverse index.
func putAddresses(ns walletdb.ReadWriteBucket, addrs []db.AddressInfo) error {
	rows := ns.NestedReadWriteBucket(bucketAddresses)
	index := ns.NestedReadWriteBucket(bucketAddrIndex)

	for i := range addrs {
		addr := &addrs[i]

		k := addressKey(addr.AccountID, addr.Branch, addr.Index)
		if rows.Get(k) != nil {
			return fmt.Errorf("address %v/%d of account %d already "+
				"exists", addr.Branch, addr.Index, addr.AccountID)
		}
		if err := rows.Put(k, encodeAddress(addr)); err != nil {
			return err
		}

		ik := addrIndexKey(addr.AccountID, addr.Address)
		if err := index.Put(ik, k); err != nil {
			return err
		}
	}

	return nil
}

// AddAddresses appends rows to the address chains of an account.
func (s *Store) AddAddresses(_ context.Context, addrs []db.AddressInfo) error {
	return s.update(func(ns walletdb.ReadWriteBucket) error {
		return putAddresses(ns, addrs)
	})
}

// forEachAddress calls fn for every address row of a branch, in index
// order.
func forEachAddress(ns walletdb.ReadBucket, accountID uint32,
	branch db.Branch, fn func(addr *db.AddressInfo) error) error {

	rows := ns.NestedReadBucket(bucketAddresses)

	return forEachPrefix(rows, branchPrefix(accountID, branch),
		func(k, v []byte) error {
			addr, err := decodeAddress(k, v)
			if err != nil {
				return err
			}

			return fn(addr)
		},
	)
}

// AddressCount returns the number of addresses generated on a branch.
func (s *Store) AddressCount(_ context.Context, accountID uint32,
	branch db.Branch) (uint32, error) {

	var count uint32
	err := s.view(func(ns walletdb.ReadBucket) error {
		rows := ns.NestedReadBucket(bucketAddresses)

		return forEachPrefix(rows, branchPrefix(accountID, branch),
			func(_, _ []byte) error {
				count++
				return nil
			},
		)
	})

	return count, err
}

// IssuedIndex returns the highest issued index of a branch, or -1.
func (s *Store) IssuedIndex(_ context.Context, accountID uint32,
	branch db.Branch) (int32, error) {

	issued := int32(-1)
	err := s.view(func(ns walletdb.ReadBucket) error {
		return forEachAddress(ns, accountID, branch,
			func(addr *db.AddressInfo) error {
				if addr.Issued && int32(addr.Index) > issued {
					issued = int32(addr.Index)
				}

				return nil
			},
		)
	})

	return issued, err
}

// UpdateIssuedIndex marks every address of the branch up to and including
// the given index as issued.
func (s *Store) UpdateIssuedIndex(_ context.Context,
	params db.UpdateIssuedIndexParams) error {

	if params.Index < 0 {
		return nil
	}

	return s.update(func(ns walletdb.ReadWriteBucket) error {
		var pending []db.AddressInfo
		err := forEachAddress(ns, params.AccountID, params.Branch,
			func(addr *db.AddressInfo) error {
				if int64(addr.Index) <= int64(params.Index) &&
					!addr.Issued {

					addr.Issued = true
					pending = append(pending, *addr)
				}

				return nil
			},
		)
		if err != nil {
			return err
		}

		return rewriteAddresses(ns, pending)
	})
}

// rewriteAddresses overwrites existing address rows.
func rewriteAddresses(ns walletdb.ReadWriteBucket,
	addrs []db.AddressInfo) error {

	rows := ns.NestedReadWriteBucket(bucketAddresses)
	for i := range addrs {
		addr := &addrs[i]
		k := addressKey(addr.AccountID, addr.Branch, addr.Index)
		if err := rows.Put(k, encodeAddress(addr)); err != nil {
			return err
		}
	}

	return nil
}

// AddressForIndex returns the address at the given position.
func (s *Store) AddressForIndex(_ context.Context, accountID uint32,
	branch db.Branch, index uint32) (*db.AddressInfo, error) {

	var addr *db.AddressInfo
	err := s.view(func(ns walletdb.ReadBucket) error {
		k := addressKey(accountID, branch, index)
		v := ns.NestedReadBucket(bucketAddresses).Get(k)
		if v == nil {
			return fmt.Errorf("address %v/%d: %w", branch, index,
				db.ErrNotFound)
		}

		var err error
		addr, err = decodeAddress(k, v)

		return err
	})

	return addr, err
}

// addressUsed reports whether any known output pays to address.
func addressUsed(ns walletdb.ReadBucket, address string) bool {
	c := ns.NestedReadBucket(bucketOutputs).ReadCursor()
	prefix := addrOutputPrefix(address)
	k, _ := c.Seek(prefix)

	return k != nil && bytes.HasPrefix(k, prefix)
}

// LastUsedIndex returns the highest index of the branch whose address has
// received an output, or -1.
func (s *Store) LastUsedIndex(_ context.Context, accountID uint32,
	branch db.Branch) (int32, error) {

	last := int32(-1)
	err := s.view(func(ns walletdb.ReadBucket) error {
		return forEachAddress(ns, accountID, branch,
			func(addr *db.AddressInfo) error {
				if addressUsed(ns, addr.Address) {
					last = int32(addr.Index)
				}

				return nil
			},
		)
	})

	return last, err
}

// lookupAddress returns the account row of address, or nil.
func lookupAddress(ns walletdb.ReadBucket, accountID uint32,
	address string) (*db.AddressInfo, error) {

	k := ns.NestedReadBucket(bucketAddrIndex).Get(
		addrIndexKey(accountID, address),
	)
	if k == nil {
		return nil, nil
	}

	v := ns.NestedReadBucket(bucketAddresses).Get(k)
	if v == nil {
		return nil, db.NewError(db.ErrCorruptRecord,
			fmt.Sprintf("dangling address index for %s", address), nil)
	}

	return decodeAddress(k, v)
}

// BelongAccount returns the rows of the given addresses that belong to the
// account, ordered by branch and index.
func (s *Store) BelongAccount(_ context.Context, accountID uint32,
	addrs []string) ([]db.AddressInfo, error) {

	var found []db.AddressInfo
	err := s.view(func(ns walletdb.ReadBucket) error {
		seen := make(map[string]struct{}, len(addrs))
		for _, address := range addrs {
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}

			addr, err := lookupAddress(ns, accountID, address)
			if err != nil {
				return err
			}
			if addr != nil {
				found = append(found, *addr)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Branch != found[j].Branch {
			return found[i].Branch < found[j].Branch
		}

		return found[i].Index < found[j].Index
	})

	return found, nil
}

// PubKeys returns the public keys of a branch in index order.
func (s *Store) PubKeys(_ context.Context, accountID uint32,
	branch db.Branch) ([][]byte, error) {

	var pubKeys [][]byte
	err := s.view(func(ns walletdb.ReadBucket) error {
		return forEachAddress(ns, accountID, branch,
			func(addr *db.AddressInfo) error {
				pubKeys = append(pubKeys, addr.PubKey)
				return nil
			},
		)
	})

	return pubKeys, err
}

// MarkSyncComplete flags an address whose history has been fully fetched.
func (s *Store) MarkSyncComplete(_ context.Context, accountID uint32,
	address string) error {

	return s.update(func(ns walletdb.ReadWriteBucket) error {
		addr, err := lookupAddress(ns, accountID, address)
		if err != nil || addr == nil {
			return err
		}

		addr.SyncComplete = true

		return rewriteAddresses(ns, []db.AddressInfo{*addr})
	})
}

// UnsyncedAddressCount returns the number of addresses whose history is not
// complete yet.
func (s *Store) UnsyncedAddressCount(_ context.Context,
	accountID uint32) (uint32, error) {

	var count uint32
	err := s.view(func(ns walletdb.ReadBucket) error {
		for _, branch := range []db.Branch{db.External, db.Internal} {
			err := forEachAddress(ns, accountID, branch,
				func(addr *db.AddressInfo) error {
					if !addr.SyncComplete {
						count++
					}

					return nil
				},
			)
			if err != nil {
				return err
			}
		}

		return nil
	})

	return count, err
}

// SigningAddressesForInputs returns, in input order, the account address
// holding each previous output.
func (s *Store) SigningAddressesForInputs(_ context.Context, accountID uint32,
	inputs []wire.OutPoint) ([]db.AddressInfo, error) {

	addrs := make([]db.AddressInfo, 0, len(inputs))
	err := s.view(func(ns walletdb.ReadBucket) error {
		for _, op := range inputs {
			txOut, err := fetchOutput(ns, op)
			if err != nil {
				return err
			}

			var addr *db.AddressInfo
			if txOut != nil {
				address := db.OutputAddress(txOut.PkScript,
					s.chainParams)
				addr, err = lookupAddress(ns, accountID, address)
				if err != nil {
					return err
				}
			}
			if addr == nil {
				return fmt.Errorf("signing address of %v: %w", op,
					db.ErrNotFound)
			}

			addrs = append(addrs, *addr)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return addrs, nil
}

// ============================================================================
// TxStore Implementation
// ============================================================================

// AddTxs inserts transactions and indexes their outputs and spends.
// Transactions already known only have their block updated.
func (s *Store) AddTxs(_ context.Context, txs []db.TxDetails) error {
	return s.update(func(ns walletdb.ReadWriteBucket) error {
		for i := range txs {
			if err := s.putTx(ns, &txs[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) putTx(ns walletdb.ReadWriteBucket, tx *db.TxDetails) error {
	txBucket := ns.NestedReadWriteBucket(bucketTxs)

	raw := tx.SerializedTx
	if len(raw) == 0 {
		var b bytes.Buffer
		if err := tx.MsgTx.Serialize(&b); err != nil {
			return fmt.Errorf("serialize %v: %w", tx.Hash, err)
		}
		raw = b.Bytes()
	}

	// Keep the original receive time of a known transaction.
	if old := txBucket.Get(tx.Hash[:]); old != nil {
		prev, err := decodeTx(tx.Hash, old)
		if err != nil {
			return err
		}

		updated := *prev
		updated.Block = tx.Block

		return txBucket.Put(tx.Hash[:], encodeTx(&updated, raw))
	}

	if err := txBucket.Put(tx.Hash[:], encodeTx(tx, raw)); err != nil {
		return err
	}

	outputs := ns.NestedReadWriteBucket(bucketOutputs)
	for i, txOut := range tx.MsgTx.TxOut {
		address := db.OutputAddress(txOut.PkScript, s.chainParams)
		if address == "" {
			continue
		}

		op := wire.OutPoint{Hash: tx.Hash, Index: uint32(i)}
		err := outputs.Put(addrOutputKey(address, op), encodeOutput(txOut))
		if err != nil {
			return err
		}
	}

	spends := ns.NestedReadWriteBucket(bucketSpends)
	for _, txIn := range tx.MsgTx.TxIn {
		k := outPointKey(txIn.PreviousOutPoint)

		v := append([]byte(nil), spends.Get(k)...)
		v = append(v, tx.Hash[:]...)
		if err := spends.Put(k, v); err != nil {
			return err
		}
	}

	return nil
}

// fetchTx returns the stored transaction with the given hash, or nil.
func fetchTx(ns walletdb.ReadBucket, hash chainhash.Hash) (*db.TxDetails,
	error) {

	v := ns.NestedReadBucket(bucketTxs).Get(hash[:])
	if v == nil {
		return nil, nil
	}

	return decodeTx(hash, v)
}

// fetchOutput returns the previous output referenced by op, or nil if the
// creating transaction is unknown.
func fetchOutput(ns walletdb.ReadBucket, op wire.OutPoint) (*wire.TxOut,
	error) {

	tx, err := fetchTx(ns, op.Hash)
	if err != nil || tx == nil {
		return nil, err
	}
	if int(op.Index) >= len(tx.MsgTx.TxOut) {
		return nil, nil
	}

	return tx.MsgTx.TxOut[op.Index], nil
}

// spenders returns the hashes of every known transaction spending op.
func spenders(ns walletdb.ReadBucket, op wire.OutPoint) []chainhash.Hash {
	v := ns.NestedReadBucket(bucketSpends).Get(outPointKey(op))

	hashes := make([]chainhash.Hash, 0, len(v)/chainhash.HashSize)
	for len(v) >= chainhash.HashSize {
		var h chainhash.Hash
		copy(h[:], v[:chainhash.HashSize])
		hashes = append(hashes, h)
		v = v[chainhash.HashSize:]
	}

	return hashes
}

// TxByHash returns the transaction with the given hash.
func (s *Store) TxByHash(_ context.Context,
	hash chainhash.Hash) (*db.TxDetails, error) {

	var tx *db.TxDetails
	err := s.view(func(ns walletdb.ReadBucket) error {
		var err error
		tx, err = fetchTx(ns, hash)
		if err == nil && tx == nil {
			err = fmt.Errorf("tx %v: %w", hash, db.ErrNotFound)
		}

		return err
	})

	return tx, err
}

// accountTxs returns every transaction paying to or spending from the
// account.
func (s *Store) accountTxs(ns walletdb.ReadBucket,
	accountID uint32) ([]db.TxDetails, error) {

	hashes := make(map[chainhash.Hash]struct{})
	err := s.forEachCredit(ns, accountID, nil, func(c *credit) error {
		hashes[c.OutPoint.Hash] = struct{}{}
		for _, h := range c.spenders {
			hashes[h] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	txs := make([]db.TxDetails, 0, len(hashes))
	for h := range hashes {
		tx, err := fetchTx(ns, h)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			txs = append(txs, *tx)
		}
	}

	return txs, nil
}

// txLess orders transactions by receive time, then hash bytes.
func txLess(a, b *db.TxDetails) bool {
	if !a.Received.Equal(b.Received) {
		return a.Received.Before(b.Received)
	}

	return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
}

// UnconfirmedTxs returns every unmined transaction touching the account,
// oldest first.
func (s *Store) UnconfirmedTxs(_ context.Context,
	accountID uint32) ([]db.TxDetails, error) {

	var unmined []db.TxDetails
	err := s.view(func(ns walletdb.ReadBucket) error {
		txs, err := s.accountTxs(ns, accountID)
		if err != nil {
			return err
		}

		for i := range txs {
			if !txs[i].Confirmed() {
				unmined = append(unmined, txs[i])
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(unmined, func(i, j int) bool {
		return txLess(&unmined[i], &unmined[j])
	})

	return unmined, nil
}

// ListTxs returns a page of the account's transactions, newest first.
func (s *Store) ListTxs(_ context.Context,
	query db.ListTxsQuery) ([]db.TxDetails, error) {

	var txs []db.TxDetails
	err := s.view(func(ns walletdb.ReadBucket) error {
		var err error
		txs, err = s.accountTxs(ns, query.AccountID)

		return err
	})
	if err != nil {
		return nil, err
	}

	minHeight := query.MinHeight.UnwrapOr(0)
	filtered := txs[:0]
	for i := range txs {
		if txs[i].Confirmed() && txs[i].Block.Height < minHeight {
			continue
		}
		filtered = append(filtered, txs[i])
	}

	sort.Slice(filtered, func(i, j int) bool {
		return txLess(&filtered[j], &filtered[i])
	})

	if int(query.Offset) >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[query.Offset:]
	if query.Limit > 0 && int(query.Limit) < len(filtered) {
		filtered = filtered[:query.Limit]
	}

	return filtered, nil
}

// TxCount returns the number of transactions touching the account.
func (s *Store) TxCount(_ context.Context, accountID uint32) (uint32, error) {
	var count uint32
	err := s.view(func(ns walletdb.ReadBucket) error {
		txs, err := s.accountTxs(ns, accountID)
		count = uint32(len(txs))

		return err
	})

	return count, err
}

// ConfirmedBalance sums the account outputs of mined transactions that no
// known transaction spends.
func (s *Store) ConfirmedBalance(_ context.Context,
	accountID uint32) (btcutil.Amount, error) {

	var total btcutil.Amount
	err := s.view(func(ns walletdb.ReadBucket) error {
		return s.forEachCredit(ns, accountID, nil, func(c *credit) error {
			if c.Height != db.UnminedHeight && len(c.spenders) == 0 {
				total += c.Amount
			}

			return nil
		})
	})

	return total, err
}

// ============================================================================
// UTXOStore Implementation
// ============================================================================

// credit is an account output together with the transactions spending it.
type credit struct {
	db.Credit
	received time.Time
	spenders []chainhash.Hash
}

// forEachCredit calls fn for every output paying to the account, optionally
// restricted to one branch.
func (s *Store) forEachCredit(ns walletdb.ReadBucket, accountID uint32,
	branch *db.Branch, fn func(c *credit) error) error {

	branches := []db.Branch{db.External, db.Internal}
	if branch != nil {
		branches = []db.Branch{*branch}
	}

	outputs := ns.NestedReadBucket(bucketOutputs)
	for _, b := range branches {
		err := forEachAddress(ns, accountID, b,
			func(addr *db.AddressInfo) error {
				prefix := addrOutputPrefix(addr.Address)

				return forEachPrefix(outputs, prefix,
					func(k, v []byte) error {
						c, err := s.readCredit(ns, addr, k, v)
						if err != nil {
							return err
						}

						return fn(c)
					},
				)
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// readCredit decodes the output stored under k for addr.
func (s *Store) readCredit(ns walletdb.ReadBucket, addr *db.AddressInfo,
	k, v []byte) (*credit, error) {

	op, err := outPointFromKey(k)
	if err != nil {
		return nil, err
	}
	value, pkScript, err := decodeOutput(v)
	if err != nil {
		return nil, err
	}
	tx, err := fetchTx(ns, op.Hash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, db.NewError(db.ErrCorruptRecord,
			fmt.Sprintf("output %v without transaction", op), nil)
	}

	return &credit{
		Credit: db.Credit{
			OutPoint: op,
			Amount:   btcutil.Amount(value),
			PkScript: pkScript,
			Address:  addr.Address,
			Branch:   addr.Branch,
			Index:    addr.Index,
			Height:   tx.Block.Height,
		},
		received: tx.Received,
		spenders: spenders(ns, op),
	}, nil
}

// sortCredits orders credits mined first, then by height, receive time,
// hash and index.
func sortCredits(credits []credit) {
	sort.Slice(credits, func(i, j int) bool {
		a, b := &credits[i], &credits[j]

		aUnmined := a.Height == db.UnminedHeight
		bUnmined := b.Height == db.UnminedHeight
		if aUnmined != bUnmined {
			return bUnmined
		}
		if a.Height != b.Height {
			return a.Height < b.Height
		}
		if !a.received.Equal(b.received) {
			return a.received.Before(b.received)
		}
		if c := bytes.Compare(a.OutPoint.Hash[:], b.OutPoint.Hash[:]); c != 0 {
			return c < 0
		}

		return a.OutPoint.Index < b.OutPoint.Index
	})
}

// listCredits returns the account credits accepted by keep.
func (s *Store) listCredits(query db.CreditQuery,
	keep func(ns walletdb.ReadBucket, c *credit) bool) ([]db.Credit, error) {

	var branch *db.Branch
	query.Branch.WhenSome(func(b db.Branch) {
		branch = &b
	})

	var matched []credit
	err := s.view(func(ns walletdb.ReadBucket) error {
		return s.forEachCredit(ns, query.AccountID, branch,
			func(c *credit) error {
				if keep(ns, c) {
					matched = append(matched, *c)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	sortCredits(matched)

	credits := make([]db.Credit, 0, len(matched))
	for i := range matched {
		credits = append(credits, matched[i].Credit)
	}

	return credits, nil
}

// UnspentOutputs returns the account outputs that no known transaction
// spends.
func (s *Store) UnspentOutputs(_ context.Context,
	query db.CreditQuery) ([]db.Credit, error) {

	return s.listCredits(query, func(_ walletdb.ReadBucket, c *credit) bool {
		return len(c.spenders) == 0
	})
}

// UnconfirmedSpentOutputs returns the account outputs spent by unmined
// transactions only.
func (s *Store) UnconfirmedSpentOutputs(_ context.Context,
	query db.CreditQuery) ([]db.Credit, error) {

	var lookupErr error
	credits, err := s.listCredits(query,
		func(ns walletdb.ReadBucket, c *credit) bool {
			if len(c.spenders) == 0 {
				return false
			}

			for _, h := range c.spenders {
				tx, err := fetchTx(ns, h)
				if err != nil {
					lookupErr = err
					return false
				}
				if tx != nil && tx.Confirmed() {
					return false
				}
			}

			return true
		},
	)
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}

	return credits, nil
}
