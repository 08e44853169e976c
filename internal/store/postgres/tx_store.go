package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// TxStore implements domain.TxStore using PostgreSQL.
type TxStore struct {
	pool *pgxpool.Pool
}

// NewTxStore creates a new TxStore backed by the given pool.
func NewTxStore(pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool}
}

const txCols = `id, hash, method, sender, target, nonce, stage, block, gas_used, error, submitted_at, updated_at`

// Create records a newly submitted transaction.
func (s *TxStore) Create(ctx context.Context, tx domain.TxRecord) error {
	const query = `INSERT INTO transactions (` + txCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.Hash.Hex(), tx.Method, tx.From.Hex(), tx.To.Hex(), int64(tx.Nonce),
		string(tx.Stage), int64(tx.Block), int64(tx.GasUsed), tx.Error, tx.SubmittedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create tx %s: %w", tx.ID, err)
	}
	return nil
}

// UpdateStage moves a transaction to stage.
func (s *TxStore) UpdateStage(ctx context.Context, id string, stage domain.TxStage, block, gasUsed uint64, errMsg string) error {
	const query = `
		UPDATE transactions
		SET stage = $2, block = $3, gas_used = $4, error = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(stage), int64(block), int64(gasUsed), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update tx %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a transaction record.
func (s *TxStore) GetByID(ctx context.Context, id string) (domain.TxRecord, error) {
	tx, err := scanTx(s.pool.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TxRecord{}, domain.ErrNotFound
		}
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", id, err)
	}
	return tx, nil
}

// ListPending returns transactions still awaiting a receipt, oldest first.
func (s *TxStore) ListPending(ctx context.Context) ([]domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txCols+` FROM transactions WHERE stage = 'pending' ORDER BY submitted_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending txs: %w", err)
	}
	defer rows.Close()

	var out []domain.TxRecord
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tx: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending txs rows: %w", err)
	}
	return out, nil
}

func scanTx(row pgx.Row) (domain.TxRecord, error) {
	var (
		tx                    domain.TxRecord
		hash, from, to, stage string
		nonce, block, gasUsed int64
	)
	if err := row.Scan(&tx.ID, &hash, &tx.Method, &from, &to, &nonce, &stage, &block, &gasUsed,
		&tx.Error, &tx.SubmittedAt, &tx.UpdatedAt); err != nil {
		return domain.TxRecord{}, err
	}
	tx.Hash = common.HexToHash(hash)
	tx.From = common.HexToAddress(from)
	tx.To = common.HexToAddress(to)
	tx.Nonce = uint64(nonce)
	tx.Stage = domain.TxStage(stage)
	tx.Block = uint64(block)
	tx.GasUsed = uint64(gasUsed)
	return tx, nil
}
