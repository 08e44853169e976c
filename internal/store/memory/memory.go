// Package memory implements the domain store interfaces in process memory.
// It backs sim mode when PostgreSQL is disabled.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

type questionRow struct {
	q     domain.Question
	state domain.QuestionState
}

// Store holds every table behind one mutex.
type Store struct {
	mu        sync.RWMutex
	questions map[common.Hash]questionRow
	markets   map[common.Address]domain.Market
	events    []domain.Event
	eventIDs  map[string]struct{}
	txs       map[string]domain.TxRecord
	audit     []domain.AuditEntry
	secrets   map[secretKey]domain.RevealSecret
}

type secretKey struct {
	id       common.Hash
	reporter common.Address
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		questions: make(map[common.Hash]questionRow),
		markets:   make(map[common.Address]domain.Market),
		eventIDs:  make(map[string]struct{}),
		txs:       make(map[string]domain.TxRecord),
		secrets:   make(map[secretKey]domain.RevealSecret),
	}
}

// Questions returns the question table.
func (s *Store) Questions() *QuestionStore { return &QuestionStore{s} }

// Markets returns the market table.
func (s *Store) Markets() *MarketStore { return &MarketStore{s} }

// Events returns the event log.
func (s *Store) Events() *EventStore { return &EventStore{s} }

// Txs returns the transaction table.
func (s *Store) Txs() *TxStore { return &TxStore{s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{s} }

// Secrets returns the commit preimage table. Secrets do not expire.
func (s *Store) Secrets() *SecretStore { return &SecretStore{s} }

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

// QuestionStore implements domain.QuestionStore.
type QuestionStore struct{ s *Store }

func (qs *QuestionStore) Upsert(_ context.Context, q domain.Question, state domain.QuestionState) error {
	qs.s.mu.Lock()
	defer qs.s.mu.Unlock()
	qs.s.questions[q.ID] = questionRow{q: q, state: state}
	return nil
}

func (qs *QuestionStore) GetByID(_ context.Context, id common.Hash) (domain.Question, error) {
	qs.s.mu.RLock()
	defer qs.s.mu.RUnlock()
	row, ok := qs.s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrNotFound
	}
	return row.q, nil
}

func (qs *QuestionStore) ListByState(_ context.Context, states []domain.QuestionState, opts domain.ListOpts) ([]domain.Question, error) {
	qs.s.mu.RLock()
	var out []domain.Question
	for _, row := range qs.s.questions {
		if len(states) > 0 && !slices.Contains(states, row.state) {
			continue
		}
		if !inRange(row.q.CreatedAt, opts) {
			continue
		}
		out = append(out, row.q)
	}
	qs.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

func (qs *QuestionStore) ListFinalized(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.Question, error) {
	qs.s.mu.RLock()
	var out []domain.Question
	for _, row := range qs.s.questions {
		if row.q.Resolution == nil || !row.q.Resolution.FinalizedAt.Before(before) {
			continue
		}
		if !inRange(row.q.Resolution.FinalizedAt, opts) {
			continue
		}
		out = append(out, row.q)
	}
	qs.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resolution.FinalizedAt.Before(out[j].Resolution.FinalizedAt)
	})
	return page(out, opts), nil
}

// MarketStore implements domain.MarketStore.
type MarketStore struct{ s *Store }

func (ms *MarketStore) Upsert(_ context.Context, m domain.Market) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	if prev, ok := ms.s.markets[m.Address]; ok && m.Name == "" {
		m.Name = prev.Name
	}
	ms.s.markets[m.Address] = m
	return nil
}

func (ms *MarketStore) GetByAddress(_ context.Context, addr common.Address) (domain.Market, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	m, ok := ms.s.markets[addr]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (ms *MarketStore) List(_ context.Context, includeRemoved bool, opts domain.ListOpts) ([]domain.Market, error) {
	out := ms.filter(func(m domain.Market) bool {
		return (includeRemoved || !m.Removed) && inRange(m.CreatedAt, opts)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

func (ms *MarketStore) ListByQuestion(_ context.Context, id common.Hash) ([]domain.Market, error) {
	out := ms.filter(func(m domain.Market) bool { return m.QuestionID == id })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (ms *MarketStore) ListSettled(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	out := ms.filter(func(m domain.Market) bool {
		return m.Status.Settled() && m.ResolvedAt.Before(before) && inRange(m.ResolvedAt, opts)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return page(out, opts), nil
}

func (ms *MarketStore) Count(context.Context) (int64, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	return int64(len(ms.s.markets)), nil
}

func (ms *MarketStore) filter(keep func(domain.Market) bool) []domain.Market {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	var out []domain.Market
	for _, m := range ms.s.markets {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// EventStore implements domain.EventStore. Events are kept in insert order.
type EventStore struct{ s *Store }

func (es *EventStore) Insert(_ context.Context, e domain.Event) error {
	es.s.mu.Lock()
	defer es.s.mu.Unlock()
	if _, dup := es.s.eventIDs[e.ID]; dup {
		return nil
	}
	es.s.eventIDs[e.ID] = struct{}{}
	es.s.events = append(es.s.events, e)
	return nil
}

func (es *EventStore) ListByQuestion(_ context.Context, id common.Hash, opts domain.ListOpts) ([]domain.Event, error) {
	return page(es.filter(func(e domain.Event) bool { return e.QuestionID == id && inRange(e.At, opts) }), opts), nil
}

func (es *EventStore) ListByMarket(_ context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	return page(es.filter(func(e domain.Event) bool { return e.Market == addr && inRange(e.At, opts) }), opts), nil
}

func (es *EventStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	out := es.filter(func(e domain.Event) bool { return inRange(e.At, opts) })
	slices.Reverse(out)
	return page(out, opts), nil
}

func (es *EventStore) LastBlock(context.Context) (uint64, error) {
	es.s.mu.RLock()
	defer es.s.mu.RUnlock()
	var n uint64
	for _, e := range es.s.events {
		n = max(n, e.Block)
	}
	return n, nil
}

func (es *EventStore) filter(keep func(domain.Event) bool) []domain.Event {
	es.s.mu.RLock()
	defer es.s.mu.RUnlock()
	var out []domain.Event
	for _, e := range es.s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// TxStore implements domain.TxStore.
type TxStore struct{ s *Store }

func (ts *TxStore) Create(_ context.Context, tx domain.TxRecord) error {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	if _, ok := ts.s.txs[tx.ID]; ok {
		return domain.ErrAlreadyExists
	}
	ts.s.txs[tx.ID] = tx
	return nil
}

func (ts *TxStore) UpdateStage(_ context.Context, id string, stage domain.TxStage, block, gasUsed uint64, errMsg string) error {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	tx, ok := ts.s.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	tx.Stage, tx.Block, tx.GasUsed, tx.Error = stage, block, gasUsed, errMsg
	tx.UpdatedAt = time.Now().UTC()
	ts.s.txs[id] = tx
	return nil
}

func (ts *TxStore) GetByID(_ context.Context, id string) (domain.TxRecord, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	tx, ok := ts.s.txs[id]
	if !ok {
		return domain.TxRecord{}, domain.ErrNotFound
	}
	return tx, nil
}

func (ts *TxStore) ListPending(context.Context) ([]domain.TxRecord, error) {
	ts.s.mu.RLock()
	var out []domain.TxRecord
	for _, tx := range ts.s.txs {
		if tx.Stage == domain.TxPending {
			out = append(out, tx)
		}
	}
	ts.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (as *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	as.s.audit = append(as.s.audit, domain.AuditEntry{
		ID:        int64(len(as.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (as *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	as.s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(as.s.audit) - 1; i >= 0; i-- {
		if inRange(as.s.audit[i].CreatedAt, opts) {
			out = append(out, as.s.audit[i])
		}
	}
	as.s.mu.RUnlock()
	return page(out, opts), nil
}

// SecretStore implements domain.SecretStore.
type SecretStore struct{ s *Store }

func (ss *SecretStore) Put(_ context.Context, sec domain.RevealSecret) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	sec.Outcome = slices.Clone(sec.Outcome)
	ss.s.secrets[secretKey{sec.QuestionID, sec.Reporter}] = sec
	return nil
}

func (ss *SecretStore) Get(_ context.Context, id common.Hash, reporter common.Address) (domain.RevealSecret, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	sec, ok := ss.s.secrets[secretKey{id, reporter}]
	if !ok {
		return domain.RevealSecret{}, domain.ErrNotFound
	}
	sec.Outcome = slices.Clone(sec.Outcome)
	return sec, nil
}

func (ss *SecretStore) Delete(_ context.Context, id common.Hash, reporter common.Address) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	delete(ss.s.secrets, secretKey{id, reporter})
	return nil
}

var (
	_ domain.SecretStore   = (*SecretStore)(nil)
	_ domain.QuestionStore = (*QuestionStore)(nil)
	_ domain.MarketStore   = (*MarketStore)(nil)
	_ domain.EventStore    = (*EventStore)(nil)
	_ domain.TxStore       = (*TxStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)
