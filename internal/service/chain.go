package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/chain"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/market"
)

// ChainConfig binds the deployed contracts.
type ChainConfig struct {
	Oracle     common.Address
	Arbitrator common.Address
	BondToken  common.Address
	Factories  map[domain.MarketType]common.Address
}

// Chain runs the protocol against deployed contracts. Writes are signed by
// the operator key, so the acting account must be that key. The oracle
// exposes no question views: questions and market names are read from the
// indexed stores, market state is read live. Writes sent through Chain are
// projected into those stores once mined.
type Chain struct {
	client     *chain.Client
	oracle     *chain.OracleContract
	arbitrator *chain.ArbitratorContract
	factories  map[domain.MarketType]*chain.FactoryContract
	bondToken  common.Address
	questions  domain.QuestionStore
	markets    domain.MarketStore
	logger     *slog.Logger
}

// NewChain binds the contracts in cfg. A zero bond token is read from the
// oracle.
func NewChain(ctx context.Context, c *chain.Client, cfg ChainConfig, questions domain.QuestionStore, markets domain.MarketStore, logger *slog.Logger) (*Chain, error) {
	b := &Chain{
		logger:    logger.With(slog.String("component", "chain_protocol")),
		client:    c,
		oracle:    chain.NewOracle(c, cfg.Oracle),
		factories: make(map[domain.MarketType]*chain.FactoryContract),
		bondToken: cfg.BondToken,
		questions: questions,
		markets:   markets,
	}
	if cfg.Arbitrator != (common.Address{}) {
		b.arbitrator = chain.NewArbitrator(c, cfg.Arbitrator)
	}
	for t, addr := range cfg.Factories {
		b.factories[t] = chain.NewFactory(c, t, addr)
	}
	if b.bondToken == (common.Address{}) {
		tok, err := b.oracle.BondToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("service: read bond token: %w", err)
		}
		b.bondToken = tok
	}
	return b, nil
}

func (b *Chain) Mode() string   { return "chain" }
func (b *Chain) Now() time.Time { return time.Now().UTC() }

// Client exposes the chain client for the keeper and indexer.
func (b *Chain) Client() *chain.Client { return b.client }

// OracleContract exposes the bound oracle.
func (b *Chain) OracleContract() *chain.OracleContract { return b.oracle }

// FactoryContracts lists the bound factories in market type order.
func (b *Chain) FactoryContracts() []*chain.FactoryContract {
	out := make([]*chain.FactoryContract, 0, len(b.factories))
	for _, t := range domain.MarketTypes {
		if f, ok := b.factories[t]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (b *Chain) Oracle(ctx context.Context) (OracleInfo, error) {
	fee, err := b.oracle.QuestionFee(ctx)
	if err != nil {
		return OracleInfo{}, err
	}
	info := OracleInfo{Address: b.oracle.Address(), BondToken: b.bondToken, QuestionFee: fee}
	if b.arbitrator != nil {
		info.Arbitrator = b.arbitrator.Address()
	}
	return info, nil
}

func (b *Chain) Question(ctx context.Context, id common.Hash) (domain.Question, error) {
	return b.questions.GetByID(ctx, id)
}

func (b *Chain) Questions(ctx context.Context, f domain.QuestionFilter) ([]domain.Question, error) {
	// Stored states go stale as liveness windows pass; derive them at now.
	qs, err := b.questions.ListByState(ctx, nil, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	now := b.Now()
	qs = slices.DeleteFunc(qs, func(q domain.Question) bool {
		if f.Creator != (common.Address{}) && q.Creator != f.Creator {
			return true
		}
		return len(f.States) > 0 && !slices.Contains(f.States, q.State(now))
	})
	if f.Offset >= len(qs) {
		return nil, nil
	}
	qs = qs[f.Offset:]
	if f.Limit > 0 && f.Limit < len(qs) {
		qs = qs[:f.Limit]
	}
	return qs, nil
}

// RequiredBond is not observable: the oracle publishes neither the leading
// bond nor the round.
func (b *Chain) RequiredBond(context.Context, common.Hash) (*big.Int, error) {
	return nil, fmt.Errorf("%w: the oracle does not expose bond state", domain.ErrUnsupported)
}

// Market reads live state and fills the name, creator and listing fields
// from the indexed snapshot when one exists.
func (b *Chain) Market(ctx context.Context, addr common.Address) (domain.Market, error) {
	live, err := chain.NewMarket(b.client, addr).Read(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	stored, err := b.markets.GetByAddress(ctx, addr)
	switch {
	case err == nil:
		live.Name = stored.Name
		live.Factory = stored.Factory
		live.Creator = stored.Creator
		live.CreatedAt = stored.CreatedAt
		live.Removed = stored.Removed
		live.RemovedReason = stored.RemovedReason
		if live.Categorical != nil && stored.Categorical != nil &&
			len(stored.Categorical.OutcomeNames) == len(live.Categorical.Tokens) {
			live.Categorical.OutcomeNames = stored.Categorical.OutcomeNames
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Market{}, err
	}
	return live, nil
}

func (b *Chain) Markets(ctx context.Context, includeRemoved bool) ([]domain.Market, error) {
	return b.markets.List(ctx, includeRemoved, domain.ListOpts{})
}

func (b *Chain) Factories(ctx context.Context) ([]domain.FactoryInfo, error) {
	var out []domain.FactoryInfo
	for _, f := range b.FactoryContracts() {
		info, err := f.Info(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *Chain) Balance(ctx context.Context, tok, account common.Address) (*big.Int, error) {
	return chain.NewToken(b.client, tok).BalanceOf(ctx, account)
}

func (b *Chain) Claimable(ctx context.Context, account common.Address, m domain.Market, tok common.Address) (*big.Int, error) {
	if !m.Status.Settled() {
		return new(big.Int), nil
	}
	balances := make(map[common.Address]*big.Int)
	for _, t := range m.OutcomeTokens() {
		bal, err := b.Balance(ctx, t, account)
		if err != nil {
			return nil, err
		}
		balances[t] = bal
	}
	return market.ClaimableAmount(m, tok, func(t common.Address) *big.Int {
		if v, ok := balances[t]; ok {
			return v
		}
		return new(big.Int)
	}), nil
}

// Cases lists escalated questions from the index. Rulings are not
// observable on chain, so every case is reported open.
func (b *Chain) Cases(ctx context.Context, _ bool) ([]arbitrator.Case, error) {
	qs, err := b.questions.ListByState(ctx, []domain.QuestionState{domain.StateEscalated}, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	out := make([]arbitrator.Case, 0, len(qs))
	for _, q := range qs {
		out = append(out, arbitrator.Case{QuestionID: q.ID, EscalatedAt: q.EscalatedAt})
	}
	return out, nil
}

func (b *Chain) Approve(ctx context.Context, actor domain.Actor, tok, spender common.Address, amount *big.Int) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	return chain.NewToken(b.client, tok).EnsureAllowance(ctx, spender, amount)
}

func (b *Chain) CreateQuestion(ctx context.Context, actor domain.Actor, p domain.QuestionParams, salt common.Hash, public bool) (common.Hash, *domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return common.Hash{}, nil, err
	}
	if err := p.Validate(); err != nil {
		return common.Hash{}, nil, err
	}
	create := b.oracle.CreateQuestion
	if public {
		create = b.oracle.CreateQuestionPublic
	}
	id, rec, err := create(ctx, p, salt)
	if err != nil {
		return id, rec, err
	}
	q := domain.Question{
		ID:        id,
		Creator:   actor.Address,
		Params:    p,
		CreatedAt: b.Now(),
		BondPool:  new(big.Int),
	}
	b.project(ctx, "question", id.Hex(), b.questions.Upsert(ctx, q, q.State(b.Now())))
	return id, rec, nil
}

func (b *Chain) Commit(ctx context.Context, actor domain.Actor, id, hash common.Hash, replace bool) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	if replace {
		return b.oracle.Recommit(ctx, id, hash)
	}
	rec, err := b.oracle.Commit(ctx, id, hash)
	if err != nil {
		return rec, err
	}
	b.updateQuestion(ctx, id, func(q *domain.Question) { q.PendingCount++ })
	return rec, nil
}

func (b *Chain) Reveal(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	rec, err := b.oracle.Reveal(ctx, id, outcome, salt, bond)
	if err != nil {
		return rec, err
	}
	b.updateQuestion(ctx, id, func(q *domain.Question) {
		now := b.Now()
		r := domain.Reveal{Reporter: actor.Address, Outcome: outcome, Bond: new(big.Int).Set(bond), Round: q.Round + 1, RevealedAt: now}
		q.Round = r.Round
		q.Leader = &r
		q.History = append(q.History, r)
		q.Deadline = now.Add(q.Params.Timeout)
		if q.BondPool == nil {
			q.BondPool = new(big.Int)
		}
		q.BondPool = new(big.Int).Add(q.BondPool, bond)
		if q.PendingCount > 0 {
			q.PendingCount--
		}
	})
	return rec, nil
}

func (b *Chain) Finalize(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	rec, err := b.oracle.Finalize(ctx, id)
	if err != nil {
		return rec, err
	}
	b.updateQuestion(ctx, id, func(q *domain.Question) {
		q.Resolution = &domain.Resolution{Method: domain.ResolvedByLiveness, FinalizedAt: b.Now()}
		if q.Leader != nil {
			q.Resolution.Outcome = q.Leader.Outcome
			q.Resolution.Payee = q.Leader.Reporter
		}
	})
	return rec, nil
}

func (b *Chain) Escalate(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	rec, err := b.oracle.Escalate(ctx, id)
	if err != nil {
		return rec, err
	}
	b.updateQuestion(ctx, id, func(q *domain.Question) {
		q.Escalated, q.EscalatedAt = true, b.Now()
	})
	return rec, nil
}

func (b *Chain) AdminRule(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, payee common.Address) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	if b.arbitrator == nil {
		return nil, fmt.Errorf("%w: no arbitrator configured", domain.ErrUnsupported)
	}
	return b.arbitrator.AdminRule(ctx, id, outcome, payee)
}

// SetOracleParams is unavailable: the deployed oracle has no setters in
// its published interface.
func (b *Chain) SetOracleParams(context.Context, domain.Actor, OracleUpdate) error {
	return fmt.Errorf("%w: oracle parameters are fixed at deployment", domain.ErrUnsupported)
}

func (b *Chain) CreateMarket(ctx context.Context, actor domain.Actor, req market.CreateRequest, paid bool) (common.Address, *domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return common.Address{}, nil, err
	}
	f, err := b.factory(req.Type)
	if err != nil {
		return common.Address{}, nil, err
	}
	if err := req.Validate(); err != nil {
		return common.Address{}, nil, err
	}
	addr, rec, err := f.Create(ctx, req, paid)
	if err != nil {
		return addr, rec, err
	}
	m, err := chain.NewMarket(b.client, addr).Read(ctx)
	if err == nil {
		m.Name, m.Factory, m.Creator, m.CreatedAt = req.Name, f.Address(), actor.Address, b.Now()
		if m.Categorical != nil && len(req.OutcomeNames) == len(m.Categorical.Tokens) {
			m.Categorical.OutcomeNames = req.OutcomeNames
		}
		err = b.markets.Upsert(ctx, m)
	}
	b.project(ctx, "market", addr.Hex(), err)
	return addr, rec, nil
}

func (b *Chain) Split(ctx context.Context, actor domain.Actor, m common.Address, amount *big.Int) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	return chain.NewMarket(b.client, m).Split(ctx, amount)
}

func (b *Chain) Merge(ctx context.Context, actor domain.Actor, m common.Address, sets *big.Int) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	return chain.NewMarket(b.client, m).Merge(ctx, sets)
}

func (b *Chain) FinalizeMarket(ctx context.Context, actor domain.Actor, m common.Address) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	return chain.NewMarket(b.client, m).FinalizeFromOracle(ctx)
}

func (b *Chain) Redeem(ctx context.Context, actor domain.Actor, m common.Address, side RedeemSide, amount *big.Int) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	mc := chain.NewMarket(b.client, m)
	switch side {
	case RedeemLong:
		return mc.RedeemLong(ctx, amount)
	case RedeemShort:
		return mc.RedeemShort(ctx, amount)
	default:
		return mc.Redeem(ctx, amount)
	}
}

func (b *Chain) Moderate(ctx context.Context, actor domain.Actor, t domain.MarketType, m common.Address, remove bool, reason string) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	f, err := b.factory(t)
	if err != nil {
		return nil, err
	}
	ok, err := f.IsMarket(ctx, m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s on %s factory: %w", m.Hex(), t, domain.ErrNotFound)
	}
	if remove {
		return f.RemoveListing(ctx, m, reason)
	}
	return f.RestoreListing(ctx, m)
}

func (b *Chain) SetDefaultRedeemFeeBps(ctx context.Context, actor domain.Actor, t domain.MarketType, bps uint16) (*domain.TxRecord, error) {
	if err := b.signer(actor); err != nil {
		return nil, err
	}
	if bps > domain.MaxRedeemFeeBps {
		return nil, fmt.Errorf("%w: %d bps exceeds %d", domain.ErrInvalidInput, bps, domain.MaxRedeemFeeBps)
	}
	f, err := b.factory(t)
	if err != nil {
		return nil, err
	}
	return f.SetDefaultRedeemFeeBps(ctx, bps)
}

// updateQuestion applies fn to the stored snapshot of id. Questions the
// index has not seen yet are left for the indexer.
func (b *Chain) updateQuestion(ctx context.Context, id common.Hash, fn func(*domain.Question)) {
	q, err := b.questions.GetByID(ctx, id)
	if err == nil {
		fn(&q)
		err = b.questions.Upsert(ctx, q, q.State(b.Now()))
	}
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	b.project(ctx, "question", id.Hex(), err)
}

func (b *Chain) project(ctx context.Context, kind, key string, err error) {
	if err != nil {
		b.logger.WarnContext(ctx, "store projection failed",
			slog.String("kind", kind),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// signer checks that actor is the operator key.
func (b *Chain) signer(actor domain.Actor) error {
	if err := requireActor(actor, uint64(b.client.ChainID())); err != nil {
		return err
	}
	sender := b.client.Sender()
	if sender == (common.Address{}) {
		return fmt.Errorf("%w: no operator key configured", domain.ErrNoWallet)
	}
	if actor.Address != sender {
		return fmt.Errorf("%w: operator key signs for %s only", domain.ErrUnauthorized, sender.Hex())
	}
	return nil
}

// CanFinalize simulates finalize(id) from the operator key.
func (b *Chain) CanFinalize(ctx context.Context, id common.Hash) error {
	return b.oracle.CanFinalize(ctx, b.client.Sender(), id)
}

// CanEscalate simulates escalate(id) from the operator key.
func (b *Chain) CanEscalate(ctx context.Context, id common.Hash) error {
	return b.oracle.CanEscalate(ctx, b.client.Sender(), id)
}

// CanFinalizeMarket simulates finalizeFromOracle on m from the operator key.
func (b *Chain) CanFinalizeMarket(ctx context.Context, m common.Address) error {
	return chain.NewMarket(b.client, m).CanFinalize(ctx, b.client.Sender())
}

func (b *Chain) factory(t domain.MarketType) (*chain.FactoryContract, error) {
	f, ok := b.factories[t]
	if !ok {
		return nil, fmt.Errorf("%s factory: %w", t, domain.ErrNotFound)
	}
	return f, nil
}

var _ Protocol = (*Chain)(nil)
