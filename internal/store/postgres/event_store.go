package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// EventStore implements domain.EventStore over the chain_events table.
// Inserts are idempotent on the event id.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, kind, question_id, market, actor, amount::TEXT, attrs, tx_hash, block, log_index, at`

func nullableHex(s string, zero bool) *string {
	if zero {
		return nil
	}
	return &s
}

// Insert appends e unless an event with the same id exists.
func (s *EventStore) Insert(ctx context.Context, e domain.Event) error {
	attrs, err := json.Marshal(e.Attrs)
	if err != nil {
		return fmt.Errorf("postgres: marshal event attrs: %w", err)
	}
	var amount *string
	if e.Amount != nil {
		v := e.Amount.String()
		amount = &v
	}
	const query = `
		INSERT INTO chain_events (id, kind, question_id, market, actor, amount, attrs, tx_hash, block, log_index, at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		e.ID, string(e.Kind),
		nullableHex(e.QuestionID.Hex(), e.QuestionID == (common.Hash{})),
		nullableHex(e.Market.Hex(), e.Market == (common.Address{})),
		nullableHex(e.Actor.Hex(), e.Actor == (common.Address{})),
		amount, attrs,
		nullableHex(e.TxHash.Hex(), e.TxHash == (common.Hash{})),
		int64(e.Block), int(e.LogIndex), e.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", e.ID, err)
	}
	return nil
}

// ListByQuestion returns the events of one question, oldest first.
func (s *EventStore) ListByQuestion(ctx context.Context, id common.Hash, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := listClause(`SELECT `+eventCols+` FROM chain_events WHERE question_id = $1`,
		[]any{id.Hex()}, opts, "at", "at ASC, block ASC, log_index ASC")
	return s.list(ctx, "list events by question", query, args)
}

// ListByMarket returns the events of one market, oldest first.
func (s *EventStore) ListByMarket(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := listClause(`SELECT `+eventCols+` FROM chain_events WHERE market = $1`,
		[]any{addr.Hex()}, opts, "at", "at ASC, block ASC, log_index ASC")
	return s.list(ctx, "list events by market", query, args)
}

// ListRecent returns the newest events across the protocol.
func (s *EventStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := listClause(`SELECT `+eventCols+` FROM chain_events WHERE 1=1`,
		nil, opts, "at", "at DESC")
	return s.list(ctx, "list recent events", query, args)
}

// LastBlock returns the highest indexed block, or 0 when nothing is indexed.
func (s *EventStore) LastBlock(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(block), 0) FROM chain_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: last block: %w", err)
	}
	return uint64(n), nil
}

func (s *EventStore) list(ctx context.Context, op, query string, args []any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e                       domain.Event
		kind                    string
		qid, market, actor, txh *string
		amount                  *string
		attrs                   []byte
		block                   int64
		logIndex                int
	)
	if err := row.Scan(&e.ID, &kind, &qid, &market, &actor, &amount, &attrs, &txh, &block, &logIndex, &e.At); err != nil {
		return domain.Event{}, err
	}
	e.Kind = domain.EventKind(kind)
	e.Block = uint64(block)
	e.LogIndex = uint(logIndex)
	if qid != nil {
		e.QuestionID = common.HexToHash(*qid)
	}
	if market != nil {
		e.Market = common.HexToAddress(*market)
	}
	if actor != nil {
		e.Actor = common.HexToAddress(*actor)
	}
	if txh != nil {
		e.TxHash = common.HexToHash(*txh)
	}
	if amount != nil {
		if v, ok := new(big.Int).SetString(*amount, 10); ok {
			e.Amount = v
		}
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
			return domain.Event{}, err
		}
	}
	return e, nil
}
