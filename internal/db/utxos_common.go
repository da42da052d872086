package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const creditColumns = `o.tx_hash, o.out_index, o.value, o.pk_script,
	o.address, a.branch, a.address_index, t.block_height`

// creditOrder lists mined outputs first, oldest first.
const creditOrder = ` ORDER BY CASE WHEN t.block_height < 0 THEN 1 ELSE 0 END,
	t.block_height, t.received_at, o.tx_hash, o.out_index`

const unspentFilter = ` AND NOT EXISTS (
	SELECT 1 FROM tx_inputs i
	WHERE i.prev_tx_hash = o.tx_hash AND i.prev_out_index = o.out_index
)`

const unconfirmedSpentFilter = ` AND EXISTS (
	SELECT 1 FROM tx_inputs i
	WHERE i.prev_tx_hash = o.tx_hash AND i.prev_out_index = o.out_index
) AND NOT EXISTS (
	SELECT 1 FROM tx_inputs i
	JOIN txs s ON s.tx_hash = i.tx_hash
	WHERE i.prev_tx_hash = o.tx_hash AND i.prev_out_index = o.out_index
		AND s.block_height >= 0
)`

// scanCredits drains rows selected with creditColumns.
func scanCredits(rows *sql.Rows) ([]Credit, error) {
	defer rows.Close()

	var credits []Credit
	for rows.Next() {
		var (
			c                            Credit
			txHash                       []byte
			outIndex, value, branch, idx int64
			height                       int64
		)

		err := rows.Scan(&txHash, &outIndex, &value, &c.PkScript,
			&c.Address, &branch, &idx, &height)
		if err != nil {
			return nil, dbErr("scan credit", err)
		}

		hash, err := chainhash.NewHash(txHash)
		if err != nil {
			return nil, newError(ErrCorruptRecord, "decode tx hash", err)
		}
		c.OutPoint.Hash = *hash
		if c.OutPoint.Index, err = int64ToUint32(outIndex); err != nil {
			return nil, err
		}
		if c.Branch, err = int64ToBranch(branch); err != nil {
			return nil, err
		}
		if c.Index, err = int64ToUint32(idx); err != nil {
			return nil, err
		}
		if c.Height, err = int64ToInt32(height); err != nil {
			return nil, err
		}
		c.Amount = btcutil.Amount(value)

		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("read credits", err)
	}

	return credits, nil
}

// listCredits selects the account's credits matching filter.
func (s *SQLStore) listCredits(ctx context.Context, query CreditQuery,
	filter string) ([]Credit, error) {

	var (
		b    strings.Builder
		args = []any{int64(query.AccountID)}
	)

	b.WriteString(`
		SELECT ` + creditColumns + ` FROM tx_outputs o
		JOIN txs t ON t.tx_hash = o.tx_hash
		JOIN hd_account_addresses a ON a.address = o.address
		WHERE a.account_id = ?`)
	query.Branch.WhenSome(func(branch Branch) {
		b.WriteString(` AND a.branch = ?`)
		args = append(args, int64(branch))
	})
	b.WriteString(filter)
	b.WriteString(creditOrder)

	rows, err := s.readQueries().query(ctx, b.String(), args...)
	if err != nil {
		return nil, dbErr("list credits", err)
	}

	return scanCredits(rows)
}

// UnspentOutputs returns the account outputs that no known transaction
// spends.
func (s *SQLStore) UnspentOutputs(ctx context.Context,
	query CreditQuery) ([]Credit, error) {

	return s.listCredits(ctx, query, unspentFilter)
}

// UnconfirmedSpentOutputs returns the account outputs spent by unmined
// transactions only.
func (s *SQLStore) UnconfirmedSpentOutputs(ctx context.Context,
	query CreditQuery) ([]Credit, error) {

	return s.listCredits(ctx, query, unconfirmedSpentFilter)
}
