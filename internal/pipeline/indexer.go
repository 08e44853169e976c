package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/chain"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/metrics"
	"github.com/alanyoungcy/insightra/internal/service"
)

// Projector keeps the question and market tables current. It is registered
// as a dispatcher handler and re-reads the snapshot an event touched.
type Projector struct {
	proto     service.Protocol
	questions domain.QuestionStore
	markets   domain.MarketStore
	logger    *slog.Logger
}

// NewProjector creates a Projector.
func NewProjector(proto service.Protocol, questions domain.QuestionStore, markets domain.MarketStore, logger *slog.Logger) *Projector {
	return &Projector{
		proto:     proto,
		questions: questions,
		markets:   markets,
		logger:    logger.With(slog.String("component", "projector")),
	}
}

// Handle projects one event.
func (p *Projector) Handle(ctx context.Context, e domain.Event) error {
	kind := string(e.Kind)
	switch {
	case strings.HasPrefix(kind, "question.") && e.QuestionID != (common.Hash{}):
		q, err := p.proto.Question(ctx, e.QuestionID)
		if err != nil {
			return fmt.Errorf("project question %s: %w", e.QuestionID.Hex(), err)
		}
		if err := p.questions.Upsert(ctx, q, q.State(p.proto.Now())); err != nil {
			return fmt.Errorf("project question %s: %w", e.QuestionID.Hex(), err)
		}
	case strings.HasPrefix(kind, "market.") && e.Market != (common.Address{}):
		m, err := p.proto.Market(ctx, e.Market)
		if err != nil {
			return fmt.Errorf("project market %s: %w", e.Market.Hex(), err)
		}
		if err := p.markets.Upsert(ctx, m); err != nil {
			return fmt.Errorf("project market %s: %w", e.Market.Hex(), err)
		}
	}
	return nil
}

// Backfill upserts every question and market the protocol currently knows.
// It runs once at start so tables fill before the first event arrives.
func (p *Projector) Backfill(ctx context.Context) error {
	qs, err := p.proto.Questions(ctx, domain.QuestionFilter{})
	if err != nil {
		return fmt.Errorf("backfill questions: %w", err)
	}
	now := p.proto.Now()
	for _, q := range qs {
		if err := p.questions.Upsert(ctx, q, q.State(now)); err != nil {
			return fmt.Errorf("backfill question %s: %w", q.ID.Hex(), err)
		}
	}
	ms, err := p.proto.Markets(ctx, true)
	if err != nil {
		return fmt.Errorf("backfill markets: %w", err)
	}
	for _, m := range ms {
		if err := p.markets.Upsert(ctx, m); err != nil {
			return fmt.Errorf("backfill market %s: %w", m.Address.Hex(), err)
		}
	}
	p.logger.InfoContext(ctx, "projection backfilled",
		slog.Int("questions", len(qs)),
		slog.Int("markets", len(ms)),
	)
	return nil
}

// LogIndexerConfig tunes the chain log scan.
type LogIndexerConfig struct {
	StartBlock  uint64
	BatchBlocks uint64
	Interval    time.Duration
}

// LogIndexer scans protocol logs in block ranges, indexes the questions and
// markets they announce, and emits the decoded events to sink.
type LogIndexer struct {
	client    *chain.Client
	oracle    *chain.OracleContract
	factories []*chain.FactoryContract
	questions domain.QuestionStore
	markets   domain.MarketStore
	events    domain.EventStore
	sink      domain.EventSink
	metrics   *metrics.Metrics
	cfg       LogIndexerConfig
	logger    *slog.Logger

	next  uint64
	times map[uint64]time.Time
}

// NewLogIndexer creates a LogIndexer. m may be nil.
func NewLogIndexer(
	client *chain.Client,
	oracle *chain.OracleContract,
	factories []*chain.FactoryContract,
	questions domain.QuestionStore,
	markets domain.MarketStore,
	events domain.EventStore,
	sink domain.EventSink,
	m *metrics.Metrics,
	cfg LogIndexerConfig,
	logger *slog.Logger,
) *LogIndexer {
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 2000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &LogIndexer{
		client:    client,
		oracle:    oracle,
		factories: factories,
		questions: questions,
		markets:   markets,
		events:    events,
		sink:      sink,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "log_indexer")),
	}
}

// RunLoop scans immediately and then on every tick until ctx is cancelled.
func (ix *LogIndexer) RunLoop(ctx context.Context) error {
	ix.logger.InfoContext(ctx, "log indexer started",
		slog.Uint64("start_block", ix.cfg.StartBlock),
		slog.Uint64("batch_blocks", ix.cfg.BatchBlocks),
	)
	ix.tick(ctx)

	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("log indexer stopped")
			return ctx.Err()
		case <-ticker.C:
			ix.tick(ctx)
		}
	}
}

func (ix *LogIndexer) tick(ctx context.Context) {
	if err := ix.Scan(ctx); err != nil && ctx.Err() == nil {
		ix.logger.ErrorContext(ctx, "log scan failed", slog.String("error", err.Error()))
	}
}

// Scan indexes every block from the cursor to the head. The cursor starts
// after the last persisted event, or at StartBlock.
func (ix *LogIndexer) Scan(ctx context.Context) error {
	if ix.next == 0 {
		last, err := ix.events.LastBlock(ctx)
		if err != nil {
			return fmt.Errorf("indexer: last block: %w", err)
		}
		ix.next = max(last+1, ix.cfg.StartBlock)
	}
	head, err := ix.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	for ix.next <= head {
		to := min(ix.next+ix.cfg.BatchBlocks-1, head)
		n, err := ix.scanRange(ctx, ix.next, to)
		if err != nil {
			return fmt.Errorf("indexer: blocks %d-%d: %w", ix.next, to, err)
		}
		if n > 0 {
			ix.logger.InfoContext(ctx, "indexed blocks",
				slog.Uint64("from", ix.next),
				slog.Uint64("to", to),
				slog.Int("events", n),
			)
		}
		ix.next = to + 1
		if ix.metrics != nil {
			ix.metrics.SetIndexedBlock(to)
		}
	}
	return nil
}

func (ix *LogIndexer) scanRange(ctx context.Context, from, to uint64) (int, error) {
	ix.times = make(map[uint64]time.Time)
	toBig := new(big.Int).SetUint64(to)

	created, err := ix.oracle.CreatedQuestions(ctx, from, toBig)
	if err != nil {
		return 0, err
	}
	for _, c := range created {
		if err := ix.indexQuestion(ctx, c); err != nil {
			return 0, err
		}
	}

	protocol := []common.Address{ix.oracle.Address()}
	for _, f := range ix.factories {
		protocol = append(protocol, f.Address())
	}
	evs, err := ix.decode(ctx, from, toBig, protocol)
	if err != nil {
		return 0, err
	}
	for _, e := range evs {
		if err := ix.indexFactoryEvent(ctx, e); err != nil {
			return 0, err
		}
	}

	// Markets announced above are in the table now, so their own logs in
	// this range are picked up too.
	ms, err := ix.markets.List(ctx, true, domain.ListOpts{})
	if err != nil {
		return 0, err
	}
	if len(ms) > 0 {
		addrs := make([]common.Address, len(ms))
		for i, m := range ms {
			addrs[i] = m.Address
		}
		mevs, err := ix.decode(ctx, from, toBig, addrs)
		if err != nil {
			return 0, err
		}
		evs = append(evs, mevs...)
	}

	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].Block != evs[j].Block {
			return evs[i].Block < evs[j].Block
		}
		return evs[i].LogIndex < evs[j].LogIndex
	})
	for _, e := range evs {
		ix.sink.Emit(e)
	}
	return len(evs), nil
}

func (ix *LogIndexer) decode(ctx context.Context, from uint64, to *big.Int, addrs []common.Address) ([]domain.Event, error) {
	logs, err := ix.client.Logs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   to,
		Addresses: addrs,
		Topics:    [][]common.Hash{chain.Topics()},
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		at, err := ix.blockTime(ctx, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		e, err := chain.DecodeLog(l, at)
		if err != nil {
			if errors.Is(err, chain.ErrUnknownLog) {
				continue
			}
			ix.logger.WarnContext(ctx, "undecodable log",
				slog.String("tx", l.TxHash.Hex()),
				slog.Uint64("index", uint64(l.Index)),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// indexQuestion stores a question announced on chain. Questions created
// through this process are already stored with their creator and are left
// as they are.
func (ix *LogIndexer) indexQuestion(ctx context.Context, c chain.CreatedQuestion) error {
	if _, err := ix.questions.GetByID(ctx, c.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	at, err := ix.blockTime(ctx, c.Block)
	if err != nil {
		return err
	}
	q := domain.Question{ID: c.ID, Params: c.Params, CreatedAt: at, BondPool: new(big.Int)}
	return ix.questions.Upsert(ctx, q, q.State(time.Now()))
}

func (ix *LogIndexer) indexFactoryEvent(ctx context.Context, e domain.Event) error {
	switch e.Kind {
	case domain.EventMarketCreated:
		return ix.indexMarket(ctx, e)
	case domain.EventListingRemoved, domain.EventListingRestored:
		m, err := ix.markets.GetByAddress(ctx, e.Market)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		m.Removed = e.Kind == domain.EventListingRemoved
		m.RemovedReason = ""
		if m.Removed {
			m.RemovedReason = e.Attrs["reason"]
		}
		return ix.markets.Upsert(ctx, m)
	}
	return nil
}

// indexMarket stores a newly created market. Name and outcome labels are
// recovered from the creating transaction's calldata.
func (ix *LogIndexer) indexMarket(ctx context.Context, e domain.Event) error {
	if e.Market == (common.Address{}) {
		return nil
	}
	if _, err := ix.markets.GetByAddress(ctx, e.Market); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	m, err := chain.NewMarket(ix.client, e.Market).Read(ctx)
	if err != nil {
		return err
	}
	m.Factory = common.HexToAddress(e.Attrs["factory"])
	m.CreatedAt = e.At
	if data, err := ix.client.TxInput(ctx, e.TxHash); err == nil {
		if req, err := chain.DecodeCreateCall(data); err == nil {
			m.Name = req.Name
			if m.Categorical != nil && len(req.OutcomeNames) == len(m.Categorical.Tokens) {
				m.Categorical.OutcomeNames = req.OutcomeNames
			}
		}
	} else {
		ix.logger.WarnContext(ctx, "market calldata unavailable",
			slog.String("market", e.Market.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return ix.markets.Upsert(ctx, m)
}

func (ix *LogIndexer) blockTime(ctx context.Context, n uint64) (time.Time, error) {
	if at, ok := ix.times[n]; ok {
		return at, nil
	}
	at, err := ix.client.BlockTime(ctx, n)
	if err != nil {
		return time.Time{}, err
	}
	ix.times[n] = at
	return at, nil
}
