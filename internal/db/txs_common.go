package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/wtxmgr"
)

const txColumns = `t.raw_tx, t.block_height, t.block_hash, t.block_time,
	t.received_at`

// accountTxFilter matches transactions that pay to, or spend from, the
// account bound to its two placeholders.
const accountTxFilter = `(
	EXISTS (
		SELECT 1 FROM tx_outputs o
		JOIN hd_account_addresses a ON a.address = o.address
		WHERE o.tx_hash = t.tx_hash AND a.account_id = ?
	) OR EXISTS (
		SELECT 1 FROM tx_inputs i
		JOIN tx_outputs o ON o.tx_hash = i.prev_tx_hash
			AND o.out_index = i.prev_out_index
		JOIN hd_account_addresses a ON a.address = o.address
		WHERE i.tx_hash = t.tx_hash AND a.account_id = ?
	)
)`

// scanTx reads one txs row selected with txColumns.
func scanTx(row rowScanner) (*TxDetails, error) {
	var (
		raw, blockHash                  []byte
		height, blockTime, receivedNano int64
	)

	err := row.Scan(&raw, &height, &blockHash, &blockTime, &receivedNano)
	if err != nil {
		return nil, err
	}

	rec, err := wtxmgr.NewTxRecord(raw, time.Unix(0, receivedNano))
	if err != nil {
		return nil, newError(ErrCorruptRecord, "decode transaction", err)
	}

	details := &TxDetails{TxRecord: *rec}
	if details.Block.Height, err = int64ToInt32(height); err != nil {
		return nil, err
	}
	if len(blockHash) > 0 {
		hash, err := chainhash.NewHash(blockHash)
		if err != nil {
			return nil, newError(ErrCorruptRecord, "decode block hash",
				err)
		}
		details.Block.Hash = *hash
	}
	if blockTime != 0 {
		details.Block.Time = time.Unix(0, blockTime)
	}

	return details, nil
}

// scanTxs drains rows selected with txColumns.
func scanTxs(rows *sql.Rows) ([]TxDetails, error) {
	defer rows.Close()

	var txs []TxDetails
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, dbErr("scan transaction", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("read transactions", err)
	}

	return txs, nil
}

// AddTxs inserts transactions with their inputs and outputs. Transactions
// already known only have their block updated.
func (s *SQLStore) AddTxs(ctx context.Context, txs []TxDetails) error {
	return s.ExecuteTx(ctx, func(q *queries) error {
		for i := range txs {
			if err := s.addTx(ctx, q, &txs[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *SQLStore) addTx(ctx context.Context, q *queries,
	tx *TxDetails) error {

	raw, err := tx.serializedTx()
	if err != nil {
		return fmt.Errorf("serialize %v: %w", tx.Hash, err)
	}

	var (
		blockHash []byte
		blockTime int64
	)
	if tx.Confirmed() {
		blockHash = tx.Block.Hash[:]
		if !tx.Block.Time.IsZero() {
			blockTime = tx.Block.Time.UnixNano()
		}
	}

	_, err = q.exec(ctx, `
		INSERT INTO txs (tx_hash, raw_tx, block_height, block_hash,
			block_time, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash) DO UPDATE SET
			block_height = excluded.block_height,
			block_hash = excluded.block_hash,
			block_time = excluded.block_time`,
		tx.Hash[:], raw, int64(tx.Block.Height), blockHash, blockTime,
		tx.Received.UnixNano(),
	)
	if err != nil {
		return dbErr(fmt.Sprintf("insert tx %v", tx.Hash), err)
	}

	for i, txOut := range tx.MsgTx.TxOut {
		_, err := q.exec(ctx, `
			INSERT INTO tx_outputs (tx_hash, out_index, value,
				pk_script, address)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			tx.Hash[:], int64(i), txOut.Value, txOut.PkScript,
			OutputAddress(txOut.PkScript, s.chainParams),
		)
		if err != nil {
			return dbErr(fmt.Sprintf("insert output %v:%d", tx.Hash,
				i), err)
		}
	}

	for i, txIn := range tx.MsgTx.TxIn {
		prev := txIn.PreviousOutPoint

		_, err := q.exec(ctx, `
			INSERT INTO tx_inputs (tx_hash, in_index, prev_tx_hash,
				prev_out_index)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			tx.Hash[:], int64(i), prev.Hash[:], int64(prev.Index),
		)
		if err != nil {
			return dbErr(fmt.Sprintf("insert input %v:%d", tx.Hash,
				i), err)
		}
	}

	return nil
}

// TxByHash returns the transaction with the given hash.
func (s *SQLStore) TxByHash(ctx context.Context,
	hash chainhash.Hash) (*TxDetails, error) {

	row := s.readQueries().queryRow(ctx,
		`SELECT `+txColumns+` FROM txs t WHERE t.tx_hash = ?`, hash[:])

	tx, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tx %v: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get transaction", err)
	}

	return tx, nil
}

// UnconfirmedTxs returns every unmined transaction touching the account,
// oldest first.
func (s *SQLStore) UnconfirmedTxs(ctx context.Context,
	accountID uint32) ([]TxDetails, error) {

	rows, err := s.readQueries().query(ctx, `
		SELECT `+txColumns+` FROM txs t
		WHERE t.block_height < 0 AND `+accountTxFilter+`
		ORDER BY t.received_at, t.tx_hash`,
		int64(accountID), int64(accountID),
	)
	if err != nil {
		return nil, dbErr("list unconfirmed transactions", err)
	}

	return scanTxs(rows)
}

// ListTxs returns a page of the account's transactions, newest first.
func (s *SQLStore) ListTxs(ctx context.Context,
	query ListTxsQuery) ([]TxDetails, error) {

	var (
		b    strings.Builder
		args = []any{int64(query.AccountID), int64(query.AccountID)}
	)

	b.WriteString(`SELECT ` + txColumns + ` FROM txs t WHERE ` +
		accountTxFilter)
	query.MinHeight.WhenSome(func(height int32) {
		b.WriteString(` AND (t.block_height < 0 OR t.block_height >= ?)`)
		args = append(args, int64(height))
	})
	b.WriteString(` ORDER BY t.received_at DESC, t.tx_hash DESC`)
	if query.Limit > 0 {
		b.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, int64(query.Limit), int64(query.Offset))
	} else if query.Offset > 0 {
		// Both dialects accept a very large limit as "no limit".
		b.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, int64(1<<62), int64(query.Offset))
	}

	rows, err := s.readQueries().query(ctx, b.String(), args...)
	if err != nil {
		return nil, dbErr("list transactions", err)
	}

	return scanTxs(rows)
}

// TxCount returns the number of transactions touching the account.
func (s *SQLStore) TxCount(ctx context.Context,
	accountID uint32) (uint32, error) {

	var count int64
	err := s.readQueries().queryRow(ctx,
		`SELECT COUNT(*) FROM txs t WHERE `+accountTxFilter,
		int64(accountID), int64(accountID),
	).Scan(&count)
	if err != nil {
		return 0, dbErr("count transactions", err)
	}

	return int64ToUint32(count)
}

// ConfirmedBalance sums the account outputs of mined transactions that no
// known transaction spends.
func (s *SQLStore) ConfirmedBalance(ctx context.Context,
	accountID uint32) (btcutil.Amount, error) {

	var total int64
	err := s.readQueries().queryRow(ctx, `
		SELECT CAST(COALESCE(SUM(o.value), 0) AS BIGINT)
		FROM tx_outputs o
		JOIN txs t ON t.tx_hash = o.tx_hash
		JOIN hd_account_addresses a ON a.address = o.address
		WHERE a.account_id = ? AND t.block_height >= 0
			AND NOT EXISTS (
				SELECT 1 FROM tx_inputs i
				WHERE i.prev_tx_hash = o.tx_hash
					AND i.prev_out_index = o.out_index
			)`,
		int64(accountID),
	).Scan(&total)
	if err != nil {
		return 0, dbErr("confirmed balance", err)
	}

	return btcutil.Amount(total), nil
}
