package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarket = `
	INSERT INTO markets (
		address, mtype, name, factory, question_id, status, removed,
		resolved_at, snapshot, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (address) DO UPDATE SET
		name        = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE markets.name END,
		status      = EXCLUDED.status,
		removed     = EXCLUDED.removed,
		resolved_at = EXCLUDED.resolved_at,
		snapshot    = EXCLUDED.snapshot,
		updated_at  = NOW()`

func marketArgs(m domain.Market) ([]any, error) {
	snap, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal market %s: %w", m.Address.Hex(), err)
	}
	var resolvedAt *time.Time
	if !m.ResolvedAt.IsZero() {
		resolvedAt = &m.ResolvedAt
	}
	return []any{
		m.Address.Hex(), m.Type.String(), m.Name, m.Factory.Hex(), m.QuestionID.Hex(),
		m.Status.String(), m.Removed, resolvedAt, snap, m.CreatedAt,
	}, nil
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertMarket, args...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch operation.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := marketArgs(m)
		if err != nil {
			return err
		}
		batch.Queue(upsertMarket, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByAddress retrieves a market snapshot.
func (s *MarketStore) GetByAddress(ctx context.Context, addr common.Address) (domain.Market, error) {
	var snap []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM markets WHERE address = $1`, addr.Hex()).Scan(&snap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", addr.Hex(), err)
	}
	return decodeMarket(snap)
}

// List returns markets newest first, hiding delisted ones unless asked.
func (s *MarketStore) List(ctx context.Context, includeRemoved bool, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT snapshot FROM markets WHERE 1=1`
	if !includeRemoved {
		query += ` AND NOT removed`
	}
	query, args := listClause(query, nil, opts, "created_at", "created_at DESC")
	return s.list(ctx, "list markets", query, args)
}

// ListByQuestion returns every market bound to question id.
func (s *MarketStore) ListByQuestion(ctx context.Context, id common.Hash) ([]domain.Market, error) {
	return s.list(ctx, "list markets by question",
		`SELECT snapshot FROM markets WHERE question_id = $1 ORDER BY created_at`, []any{id.Hex()})
}

// ListSettled returns resolved or cancelled markets settled before the cutoff.
func (s *MarketStore) ListSettled(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT snapshot FROM markets WHERE status IN ('resolved', 'cancelled') AND resolved_at < $1`
	query, args := listClause(query, []any{before}, opts, "resolved_at", "resolved_at ASC")
	return s.list(ctx, "list settled markets", query, args)
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) list(ctx context.Context, op, query string, args []any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var snap []byte
		if err := rows.Scan(&snap); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m, err := decodeMarket(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func decodeMarket(snap []byte) (domain.Market, error) {
	var m domain.Market
	if err := json.Unmarshal(snap, &m); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: decode market snapshot: %w", err)
	}
	return m, nil
}
