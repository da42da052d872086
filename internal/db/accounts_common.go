package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const accountColumns = `id, encrypted_mnemonic_seed, encrypted_hd_seed,
	first_address, is_from_secure_random, external_xpub, internal_xpub,
	created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads one hd_accounts row selected with accountColumns.
func scanAccount(row rowScanner) (*AccountInfo, error) {
	var (
		info      AccountInfo
		id        int64
		createdAt int64
	)

	err := row.Scan(&id, &info.EncryptedMnemonicSeed, &info.EncryptedHDSeed,
		&info.FirstAddress, &info.IsFromSecureRandom, &info.ExternalXPub,
		&info.InternalXPub, &createdAt)
	if err != nil {
		return nil, err
	}

	info.ID, err = int64ToUint32(id)
	if err != nil {
		return nil, err
	}
	info.CreatedAt = time.Unix(0, createdAt)

	return &info, nil
}

// CreateAccount persists a new account and its initial addresses in a single
// database transaction.
func (s *SQLStore) CreateAccount(ctx context.Context,
	params CreateAccountParams) (*AccountInfo, error) {

	if err := params.validate(); err != nil {
		return nil, err
	}

	var info *AccountInfo
	err := s.ExecuteTx(ctx, func(q *queries) error {
		exists, err := q.pubKeysExist(ctx, params.ExternalXPub,
			params.InternalXPub)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateAccount
		}

		var id int64
		err = q.queryRow(ctx, `
			INSERT INTO hd_accounts (encrypted_mnemonic_seed,
				encrypted_hd_seed, first_address,
				is_from_secure_random, external_xpub,
				internal_xpub, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			params.EncryptedMnemonicSeed, params.EncryptedHDSeed,
			params.FirstAddress, params.IsFromSecureRandom,
			params.ExternalXPub, params.InternalXPub,
			params.CreatedAt.UnixNano(),
		).Scan(&id)
		if err != nil {
			return dbErr("insert account", err)
		}

		accountID, err := int64ToUint32(id)
		if err != nil {
			return err
		}

		addrs := make([]AddressInfo, len(params.Addresses))
		for i, addr := range params.Addresses {
			addr.AccountID = accountID
			addrs[i] = addr
		}
		if err := q.addAddresses(ctx, addrs); err != nil {
			return err
		}

		info = &AccountInfo{
			ID:                    accountID,
			EncryptedMnemonicSeed: params.EncryptedMnemonicSeed,
			EncryptedHDSeed:       params.EncryptedHDSeed,
			FirstAddress:          params.FirstAddress,
			IsFromSecureRandom:    params.IsFromSecureRandom,
			ExternalXPub:          params.ExternalXPub,
			InternalXPub:          params.InternalXPub,
			CreatedAt:             time.Unix(0, params.CreatedAt.UnixNano()),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Created account %d with %d addresses", info.ID,
		len(params.Addresses))

	return info, nil
}

// GetAccount returns the account with the given id.
func (s *SQLStore) GetAccount(ctx context.Context,
	accountID uint32) (*AccountInfo, error) {

	row := s.readQueries().queryRow(ctx,
		`SELECT `+accountColumns+` FROM hd_accounts WHERE id = ?`,
		int64(accountID))

	info, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get account", err)
	}

	return info, nil
}

// ListAccounts returns every account ordered by id.
func (s *SQLStore) ListAccounts(ctx context.Context) ([]AccountInfo, error) {
	rows, err := s.readQueries().query(ctx,
		`SELECT `+accountColumns+` FROM hd_accounts ORDER BY id`)
	if err != nil {
		return nil, dbErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []AccountInfo
	for rows.Next() {
		info, err := scanAccount(rows)
		if err != nil {
			return nil, dbErr("scan account", err)
		}
		accounts = append(accounts, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list accounts", err)
	}

	return accounts, nil
}

// PubKeysExist reports whether an account with the given chain root public
// keys exists.
func (s *SQLStore) PubKeysExist(ctx context.Context, externalXPub,
	internalXPub string) (bool, error) {

	return s.readQueries().pubKeysExist(ctx, externalXPub, internalXPub)
}

func (q *queries) pubKeysExist(ctx context.Context, externalXPub,
	internalXPub string) (bool, error) {

	var count int64
	err := q.queryRow(ctx, `
		SELECT COUNT(*) FROM hd_accounts
		WHERE external_xpub = ? AND internal_xpub = ?`,
		externalXPub, internalXPub,
	).Scan(&count)
	if err != nil {
		return false, dbErr("check account public keys", err)
	}

	return count > 0, nil
}
