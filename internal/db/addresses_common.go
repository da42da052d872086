package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

const addressColumns = `a.account_id, a.branch, a.address_index, a.address,
	a.pub_key, a.is_issued, a.is_synced`

// scanAddress reads one hd_account_addresses row selected with
// addressColumns.
func scanAddress(row rowScanner) (*AddressInfo, error) {
	var (
		info                     AddressInfo
		accountID, branch, index int64
	)

	err := row.Scan(&accountID, &branch, &index, &info.Address,
		&info.PubKey, &info.Issued, &info.SyncComplete)
	if err != nil {
		return nil, err
	}

	if info.AccountID, err = int64ToUint32(accountID); err != nil {
		return nil, err
	}
	if info.Branch, err = int64ToBranch(branch); err != nil {
		return nil, err
	}
	if info.Index, err = int64ToUint32(index); err != nil {
		return nil, err
	}

	return &info, nil
}

// scanAddresses drains rows selected with addressColumns.
func scanAddresses(rows *sql.Rows) ([]AddressInfo, error) {
	defer rows.Close()

	var addrs []AddressInfo
	for rows.Next() {
		info, err := scanAddress(rows)
		if err != nil {
			return nil, dbErr("scan address", err)
		}
		addrs = append(addrs, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("read addresses", err)
	}

	return addrs, nil
}

// AddAddresses appends rows to the address chains of an account.
func (s *SQLStore) AddAddresses(ctx context.Context,
	addrs []AddressInfo) error {

	return s.ExecuteTx(ctx, func(q *queries) error {
		return q.addAddresses(ctx, addrs)
	})
}

func (q *queries) addAddresses(ctx context.Context,
	addrs []AddressInfo) error {

	for _, addr := range addrs {
		_, err := q.exec(ctx, `
			INSERT INTO hd_account_addresses (account_id, branch,
				address_index, address, pub_key, is_issued,
				is_synced)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			int64(addr.AccountID), int64(addr.Branch),
			int64(addr.Index), addr.Address, addr.PubKey,
			addr.Issued, addr.SyncComplete,
		)
		if err != nil {
			return dbErr(fmt.Sprintf("insert address %v/%d",
				addr.Branch, addr.Index), err)
		}
	}

	return nil
}

// AddressCount returns the number of addresses generated on a branch.
func (s *SQLStore) AddressCount(ctx context.Context, accountID uint32,
	branch Branch) (uint32, error) {

	var count int64
	err := s.readQueries().queryRow(ctx, `
		SELECT COUNT(*) FROM hd_account_addresses
		WHERE account_id = ? AND branch = ?`,
		int64(accountID), int64(branch),
	).Scan(&count)
	if err != nil {
		return 0, dbErr("count addresses", err)
	}

	return int64ToUint32(count)
}

// IssuedIndex returns the highest issued index of a branch, or -1.
func (s *SQLStore) IssuedIndex(ctx context.Context, accountID uint32,
	branch Branch) (int32, error) {

	var index int64
	err := s.readQueries().queryRow(ctx, `
		SELECT COALESCE(MAX(address_index), -1) FROM hd_account_addresses
		WHERE account_id = ? AND branch = ? AND is_issued = ?`,
		int64(accountID), int64(branch), true,
	).Scan(&index)
	if err != nil {
		return 0, dbErr("issued index", err)
	}

	return int64ToInt32(index)
}

// UpdateIssuedIndex marks every address of the branch up to and including
// the given index as issued.
func (s *SQLStore) UpdateIssuedIndex(ctx context.Context,
	params UpdateIssuedIndexParams) error {

	if params.Index < 0 {
		return nil
	}

	_, err := s.readQueries().exec(ctx, `
		UPDATE hd_account_addresses SET is_issued = ?
		WHERE account_id = ? AND branch = ? AND address_index <= ?
			AND is_issued = ?`,
		true, int64(params.AccountID), int64(params.Branch),
		int64(params.Index), false,
	)
	if err != nil {
		return dbErr("update issued index", err)
	}

	return nil
}

// AddressForIndex returns the address at the given position.
func (s *SQLStore) AddressForIndex(ctx context.Context, accountID uint32,
	branch Branch, index uint32) (*AddressInfo, error) {

	row := s.readQueries().queryRow(ctx, `
		SELECT `+addressColumns+` FROM hd_account_addresses a
		WHERE a.account_id = ? AND a.branch = ? AND a.address_index = ?`,
		int64(accountID), int64(branch), int64(index),
	)

	info, err := scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %v/%d: %w", branch, index,
			ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get address", err)
	}

	return info, nil
}

// LastUsedIndex returns the highest index of the branch whose address has
// received an output, or -1.
func (s *SQLStore) LastUsedIndex(ctx context.Context, accountID uint32,
	branch Branch) (int32, error) {

	var index int64
	err := s.readQueries().queryRow(ctx, `
		SELECT COALESCE(MAX(a.address_index), -1)
		FROM hd_account_addresses a
		WHERE a.account_id = ? AND a.branch = ? AND EXISTS (
			SELECT 1 FROM tx_outputs o WHERE o.address = a.address
		)`,
		int64(accountID), int64(branch),
	).Scan(&index)
	if err != nil {
		return 0, dbErr("last used index", err)
	}

	return int64ToInt32(index)
}

// BelongAccount returns the rows of the given addresses that belong to the
// account, ordered by branch and index.
func (s *SQLStore) BelongAccount(ctx context.Context, accountID uint32,
	addrs []string) ([]AddressInfo, error) {

	if len(addrs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(addrs)+1)
	args = append(args, int64(accountID))
	for _, addr := range addrs {
		args = append(args, addr)
	}

	rows, err := s.readQueries().query(ctx, `
		SELECT `+addressColumns+` FROM hd_account_addresses a
		WHERE a.account_id = ? AND a.address IN (`+
		placeholders(len(addrs))+`)
		ORDER BY a.branch, a.address_index`, args...)
	if err != nil {
		return nil, dbErr("belong account", err)
	}

	return scanAddresses(rows)
}

// PubKeys returns the public keys of a branch in index order.
func (s *SQLStore) PubKeys(ctx context.Context, accountID uint32,
	branch Branch) ([][]byte, error) {

	rows, err := s.readQueries().query(ctx, `
		SELECT pub_key FROM hd_account_addresses
		WHERE account_id = ? AND branch = ?
		ORDER BY address_index`,
		int64(accountID), int64(branch),
	)
	if err != nil {
		return nil, dbErr("list public keys", err)
	}
	defer rows.Close()

	var pubKeys [][]byte
	for rows.Next() {
		var pub []byte
		if err := rows.Scan(&pub); err != nil {
			return nil, dbErr("scan public key", err)
		}
		pubKeys = append(pubKeys, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list public keys", err)
	}

	return pubKeys, nil
}

// MarkSyncComplete flags an address whose history has been fully fetched.
func (s *SQLStore) MarkSyncComplete(ctx context.Context, accountID uint32,
	address string) error {

	_, err := s.readQueries().exec(ctx, `
		UPDATE hd_account_addresses SET is_synced = ?
		WHERE account_id = ? AND address = ?`,
		true, int64(accountID), address,
	)
	if err != nil {
		return dbErr("mark sync complete", err)
	}

	return nil
}

// UnsyncedAddressCount returns the number of addresses whose history is not
// complete yet.
func (s *SQLStore) UnsyncedAddressCount(ctx context.Context,
	accountID uint32) (uint32, error) {

	var count int64
	err := s.readQueries().queryRow(ctx, `
		SELECT COUNT(*) FROM hd_account_addresses
		WHERE account_id = ? AND is_synced = ?`,
		int64(accountID), false,
	).Scan(&count)
	if err != nil {
		return 0, dbErr("count unsynced addresses", err)
	}

	return int64ToUint32(count)
}

// SigningAddressesForInputs returns, in input order, the account address
// holding each previous output.
func (s *SQLStore) SigningAddressesForInputs(ctx context.Context,
	accountID uint32, inputs []wire.OutPoint) ([]AddressInfo, error) {

	q := s.readQueries()

	addrs := make([]AddressInfo, 0, len(inputs))
	for _, op := range inputs {
		row := q.queryRow(ctx, `
			SELECT `+addressColumns+` FROM tx_outputs o
			JOIN hd_account_addresses a ON a.address = o.address
			WHERE o.tx_hash = ? AND o.out_index = ?
				AND a.account_id = ?`,
			op.Hash[:], int64(op.Index), int64(accountID),
		)

		info, err := scanAddress(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("signing address of %v: %w", op,
				ErrNotFound)
		}
		if err != nil {
			return nil, dbErr("signing address", err)
		}

		addrs = append(addrs, *info)
	}

	return addrs, nil
}
