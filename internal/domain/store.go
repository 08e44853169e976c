package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// QuestionStore persists question snapshots.
type QuestionStore interface {
	Upsert(ctx context.Context, q Question, state QuestionState) error
	GetByID(ctx context.Context, id common.Hash) (Question, error)
	ListByState(ctx context.Context, states []QuestionState, opts ListOpts) ([]Question, error)
	ListFinalized(ctx context.Context, before time.Time, opts ListOpts) ([]Question, error)
}

// MarketStore persists market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByAddress(ctx context.Context, addr common.Address) (Market, error)
	List(ctx context.Context, includeRemoved bool, opts ListOpts) ([]Market, error)
	ListByQuestion(ctx context.Context, id common.Hash) ([]Market, error)
	ListSettled(ctx context.Context, before time.Time, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the protocol event log.
type EventStore interface {
	Insert(ctx context.Context, e Event) error
	ListByQuestion(ctx context.Context, id common.Hash, opts ListOpts) ([]Event, error)
	ListByMarket(ctx context.Context, addr common.Address, opts ListOpts) ([]Event, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Event, error)
	LastBlock(ctx context.Context) (uint64, error)
}

// TxStore persists submitted transactions.
type TxStore interface {
	Create(ctx context.Context, tx TxRecord) error
	UpdateStage(ctx context.Context, id string, stage TxStage, block, gasUsed uint64, errMsg string) error
	GetByID(ctx context.Context, id string) (TxRecord, error)
	ListPending(ctx context.Context) ([]TxRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
