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

// QuestionStore implements domain.QuestionStore. The full question is kept
// as a JSONB snapshot next to the columns the queries filter on.
type QuestionStore struct {
	pool *pgxpool.Pool
}

// NewQuestionStore creates a new QuestionStore backed by the given pool.
func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

// Upsert writes the latest snapshot of q together with its derived state.
func (s *QuestionStore) Upsert(ctx context.Context, q domain.Question, state domain.QuestionState) error {
	snap, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("postgres: marshal question %s: %w", q.ID.Hex(), err)
	}
	var deadline, finalizedAt *time.Time
	if !q.Deadline.IsZero() {
		deadline = &q.Deadline
	}
	if q.Resolution != nil {
		finalizedAt = &q.Resolution.FinalizedAt
	}

	const query = `
		INSERT INTO questions (
			id, creator, qtype, state, round, deadline, finalized_at, snapshot, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			state        = EXCLUDED.state,
			round        = EXCLUDED.round,
			deadline     = EXCLUDED.deadline,
			finalized_at = EXCLUDED.finalized_at,
			snapshot     = EXCLUDED.snapshot,
			updated_at   = NOW()`
	_, err = s.pool.Exec(ctx, query,
		q.ID.Hex(), q.Creator.Hex(), q.Params.Type.String(), string(state),
		int(q.Round), deadline, finalizedAt, snap, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert question %s: %w", q.ID.Hex(), err)
	}
	return nil
}

// GetByID retrieves a question snapshot.
func (s *QuestionStore) GetByID(ctx context.Context, id common.Hash) (domain.Question, error) {
	var snap []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM questions WHERE id = $1`, id.Hex()).Scan(&snap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("postgres: get question %s: %w", id.Hex(), err)
	}
	return decodeQuestion(snap)
}

// ListByState returns questions whose stored state is one of states,
// newest first. An empty states slice lists everything.
func (s *QuestionStore) ListByState(ctx context.Context, states []domain.QuestionState, opts domain.ListOpts) ([]domain.Question, error) {
	query := `SELECT snapshot FROM questions WHERE 1=1`
	var args []any
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = string(st)
		}
		args = append(args, names)
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	query, args = listClause(query, args, opts, "created_at", "created_at DESC")
	return s.list(ctx, "list questions", query, args)
}

// ListFinalized returns questions finalized before the cutoff, oldest first.
func (s *QuestionStore) ListFinalized(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Question, error) {
	query := `SELECT snapshot FROM questions WHERE finalized_at IS NOT NULL AND finalized_at < $1`
	query, args := listClause(query, []any{before}, opts, "finalized_at", "finalized_at ASC")
	return s.list(ctx, "list finalized questions", query, args)
}

func (s *QuestionStore) list(ctx context.Context, op, query string, args []any) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var snap []byte
		if err := rows.Scan(&snap); err != nil {
			return nil, fmt.Errorf("postgres: scan question: %w", err)
		}
		q, err := decodeQuestion(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func decodeQuestion(snap []byte) (domain.Question, error) {
	var q domain.Question
	if err := json.Unmarshal(snap, &q); err != nil {
		return domain.Question{}, fmt.Errorf("postgres: decode question snapshot: %w", err)
	}
	return q, nil
}
