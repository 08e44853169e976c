package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
	"github.com/alanyoungcy/insightra/internal/market"
	"github.com/alanyoungcy/insightra/internal/oracle"
	"github.com/alanyoungcy/insightra/internal/policy"
	"github.com/alanyoungcy/insightra/internal/store/memory"
)

const testChainID = 167012

var (
	collateral = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	bondTok    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	oracleAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	arbAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a4b")
	feeSink    = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	binaryFactory      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	categoricalFactory = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

func actor(addr common.Address) domain.Actor {
	return domain.Actor{Address: addr, ChainID: testChainID}
}

type fixture struct {
	now       time.Time
	ledger    *ledger.Ledger
	store     *memory.Store
	sim       *Sim
	markets   *MarketService
	reporters *ReporterService
	portfolio *PortfolioService
	admin     *AdminService
}

// newFixture wires the in-process protocol. The scalar factory is left out
// so scalar market creation fails after its question is created.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{now: time.Unix(1_700_000_000, 0).UTC(), ledger: ledger.New(), store: memory.New()}
	clock := func() time.Time { return f.now }

	require.NoError(t, f.ledger.Register(ledger.TokenInfo{Address: collateral, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, f.ledger.Register(ledger.TokenInfo{Address: bondTok, Symbol: "BOND", Decimals: 18}))
	for _, who := range []common.Address{owner, alice, bob} {
		require.NoError(t, f.ledger.Mint(collateral, who, big.NewInt(1_000_000)))
		require.NoError(t, f.ledger.Mint(bondTok, who, big.NewInt(10_000)))
	}

	o, err := oracle.New(oracle.Config{
		Address:     oracleAddr,
		Owner:       owner,
		BondToken:   bondTok,
		FeeSink:     feeSink,
		Arbitrator:  arbAddr,
		FeeBps:      100,
		QuestionFee: big.NewInt(5),
		MinBaseBond: big.NewInt(10),
	}, f.ledger, oracle.WithClock(clock), oracle.WithLogger(logger))
	require.NoError(t, err)

	m, err := market.New(f.ledger, map[common.Address]market.Resolver{oracleAddr: o}, bondTok, []market.FactoryConfig{
		{Type: domain.MarketBinary, Address: binaryFactory, Owner: owner, FeeSink: feeSink, CreationFee: big.NewInt(25), DefaultRedeemFeeBps: 100},
		{Type: domain.MarketCategorical, Address: categoricalFactory, Owner: owner, FeeSink: feeSink},
	}, market.WithClock(clock), market.WithLogger(logger))
	require.NoError(t, err)

	admins, err := policy.NewAllowlist([]string{owner.Hex()})
	require.NoError(t, err)
	arb := arbitrator.New(arbAddr, o, admins, logger)
	o.SetEscalationHook(arb.OnEscalated)

	f.sim = NewSim(f.ledger, o, m, arb, testChainID, f.store.Txs(), logger)
	defaults := DefaultQuestionDefaults()
	defaults.Collateral = collateral
	f.markets = NewMarketService(f.sim, nil, defaults, logger)
	f.reporters = NewReporterService(f.sim, f.store.Secrets(), logger)
	f.portfolio = NewPortfolioService(f.sim, logger)
	f.admin = NewAdminService(f.sim, admins, f.markets, f.store.Audit(), logger)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// binaryMarket creates a binary market as alice and opens its question.
func (f *fixture) binaryMarket(t *testing.T) CreateMarketResult {
	t.Helper()
	res, err := f.markets.Create(context.Background(), actor(alice), CreateMarketRequest{
		Type:      domain.MarketBinary,
		Name:      "Will it rain in Taipei tomorrow?",
		Timeout:   time.Hour,
		MaxRounds: 3,
	})
	require.NoError(t, err)
	f.advance(time.Hour)
	return res
}

func TestCreateMarketRunsBothSteps(t *testing.T) {
	f := newFixture(t)
	res := f.binaryMarket(t)

	require.NotEqual(t, common.Hash{}, res.QuestionID)
	require.NotEqual(t, common.Address{}, res.Market)
	methods := make([]string, 0, len(res.Txs))
	for _, tx := range res.Txs {
		methods = append(methods, tx.Method)
		assert.Equal(t, domain.TxConfirmed, tx.Stage)
	}
	assert.Equal(t, []string{"approve", "createQuestionPublic", "approve", "submitBinary"}, methods)

	// question fee 5 and creation fee 25 both land at the fee sink
	assert.Equal(t, int64(30), f.ledger.BalanceOf(bondTok, feeSink).Int64())
	assert.Equal(t, int64(10_000-30), f.ledger.BalanceOf(bondTok, alice).Int64())

	m, err := f.markets.Get(context.Background(), res.Market)
	require.NoError(t, err)
	assert.Equal(t, res.QuestionID, m.QuestionID)
	assert.Equal(t, collateral, m.Collateral)
	assert.Equal(t, uint16(100), m.RedeemFeeBps)

	q, _, err := f.reporters.Question(context.Background(), res.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), q.Params.BondMultiplier)
	assert.Equal(t, "user", q.Params.DataSource)
	assert.Equal(t, oracle.TemplateHash("Will it rain in Taipei tomorrow?"), q.Params.TemplateHash)

	tx, err := f.store.Txs().GetByID(context.Background(), res.Txs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "createQuestionPublic", tx.Method)
}

func TestCreateMarketReportsOrphanQuestion(t *testing.T) {
	f := newFixture(t)
	res, err := f.markets.Create(context.Background(), actor(alice), CreateMarketRequest{
		Type:      domain.MarketScalar,
		Name:      "BTC close",
		ScalarMin: big.NewInt(0),
		ScalarMax: big.NewInt(100_000),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id, ok := IsOrphan(err)
	require.True(t, ok)
	assert.Equal(t, res.QuestionID, id)
	_, err = f.sim.Question(context.Background(), id)
	assert.NoError(t, err, "the question stays on the oracle")
}

func TestCreateMarketValidatesBeforeSending(t *testing.T) {
	f := newFixture(t)
	_, err := f.markets.Create(context.Background(), actor(alice), CreateMarketRequest{
		Type:         domain.MarketCategorical,
		Name:         "Who wins?",
		OutcomeNames: []string{"A", ""},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, f.ledger.BalanceOf(bondTok, feeSink).Sign())

	_, err = f.markets.Create(context.Background(), domain.Actor{}, CreateMarketRequest{Type: domain.MarketBinary, Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNoWallet)

	_, err = f.markets.Create(context.Background(), domain.Actor{Address: alice, ChainID: 1}, CreateMarketRequest{Type: domain.MarketBinary, Name: "x"})
	assert.ErrorIs(t, err, domain.ErrWrongChain)
}

func TestBondEscalationThroughReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.binaryMarket(t).QuestionID

	_, err := f.reporters.Commit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeYes))
	require.NoError(t, err)
	rev, err := f.reporters.Reveal(ctx, actor(alice), id, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rev.Bond.Int64())
	assert.Equal(t, "YES", rev.Outcome)

	_, err = f.reporters.Commit(ctx, actor(bob), id, domain.EncodeIndex(domain.OutcomeNo))
	require.NoError(t, err)
	_, err = f.reporters.Reveal(ctx, actor(bob), id, big.NewInt(15))
	require.ErrorIs(t, err, domain.ErrBondTooLow)

	q, bond, err := f.reporters.Question(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, q.Leader.Reporter, "a failed reveal leaves the leader unchanged")
	assert.Equal(t, int64(20), bond.Int64())
	firstDeadline := q.Deadline

	f.advance(30 * time.Minute)
	_, err = f.reporters.Reveal(ctx, actor(bob), id, big.NewInt(20))
	require.NoError(t, err)

	q, _, err = f.reporters.Question(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bob, q.Leader.Reporter)
	assert.Equal(t, uint8(2), q.Round)
	assert.True(t, q.Deadline.After(firstDeadline), "a challenge resets liveness")

	_, err = f.store.Secrets().Get(ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound, "secret is dropped after reveal")
}

func TestFinalizeRespectsLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.binaryMarket(t).QuestionID

	_, err := f.reporters.Commit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeYes))
	require.NoError(t, err)
	_, err = f.reporters.Reveal(ctx, actor(alice), id, nil)
	require.NoError(t, err)

	_, err = f.reporters.Finalize(ctx, actor(bob), id)
	require.ErrorIs(t, err, domain.ErrLivenessActive)

	f.advance(time.Hour)
	res, err := f.reporters.Finalize(ctx, actor(bob), id)
	require.NoError(t, err)
	require.Len(t, res.Txs, 1)
	assert.Equal(t, "finalize", res.Txs[0].Method)

	q, bond, err := f.reporters.Question(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, q.Resolution)
	assert.Nil(t, bond)
}

func TestRecommitRequiresCommitment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.binaryMarket(t).QuestionID

	_, err := f.reporters.Recommit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeYes))
	require.ErrorIs(t, err, domain.ErrNoCommitment)

	first, err := f.reporters.Commit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeYes))
	require.NoError(t, err)
	second, err := f.reporters.Recommit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeNo))
	require.NoError(t, err)
	assert.NotEqual(t, first.Commitment, second.Commitment)

	rev, err := f.reporters.Reveal(ctx, actor(alice), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "NO", rev.Outcome)
}

func TestRevealWithoutStoredSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.binaryMarket(t).QuestionID

	_, err := f.reporters.Reveal(ctx, actor(bob), id, nil)
	require.ErrorIs(t, err, domain.ErrNoCommitment)

	c, err := f.reporters.Commit(ctx, actor(bob), id, domain.EncodeIndex(domain.OutcomeNo))
	require.NoError(t, err)
	require.NoError(t, f.store.Secrets().Delete(ctx, id, bob))

	_, err = f.reporters.RevealWith(ctx, actor(bob), id, domain.EncodeIndex(domain.OutcomeYes), c.Salt, nil)
	require.ErrorIs(t, err, domain.ErrCommitMismatch)
	_, err = f.reporters.RevealWith(ctx, actor(bob), id, domain.EncodeIndex(domain.OutcomeNo), c.Salt, nil)
	require.NoError(t, err)
}

func TestCommitRejectsMalformedOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.binaryMarket(t).QuestionID
	_, err := f.reporters.Commit(context.Background(), actor(alice), id, domain.EncodeIndex(7))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestSplitMergeAndPortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)

	_, err := f.sim.Approve(ctx, actor(bob), collateral, created.Market, big.NewInt(1_000))
	require.NoError(t, err)
	_, err = f.sim.Split(ctx, actor(bob), created.Market, big.NewInt(1_000))
	require.NoError(t, err)

	p, err := f.portfolio.Portfolio(ctx, bob)
	require.NoError(t, err)
	require.Len(t, p.Positions, 2)
	assert.Equal(t, "YES", p.Positions[0].Label)
	assert.Equal(t, int64(1_000), p.Positions[0].Balance.Int64())
	assert.Zero(t, p.Positions[0].Claimable.Sign())
	assert.Equal(t, int64(1_000_000-1_000), p.Tokens[collateral].Int64())
	assert.Equal(t, int64(10_000), p.Tokens[bondTok].Int64())

	_, err = f.sim.Merge(ctx, actor(bob), created.Market, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), f.ledger.BalanceOf(collateral, bob).Int64())

	p, err = f.portfolio.Portfolio(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
}

func TestClaimableAfterResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)

	_, err := f.sim.Approve(ctx, actor(bob), collateral, created.Market, big.NewInt(1_000))
	require.NoError(t, err)
	_, err = f.sim.Split(ctx, actor(bob), created.Market, big.NewInt(1_000))
	require.NoError(t, err)

	_, err = f.reporters.Commit(ctx, actor(alice), created.QuestionID, domain.EncodeIndex(domain.OutcomeYes))
	require.NoError(t, err)
	_, err = f.reporters.Reveal(ctx, actor(alice), created.QuestionID, nil)
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.reporters.Finalize(ctx, actor(alice), created.QuestionID)
	require.NoError(t, err)
	_, err = f.admin.FinalizeMarket(ctx, actor(owner), created.Market)
	require.NoError(t, err)

	ps, err := f.portfolio.Positions(ctx, bob, created.Market)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	// 1% redeem fee on the winning side
	assert.Equal(t, int64(990), ps[0].Claimable.Int64())
	assert.Zero(t, ps[1].Claimable.Sign())

	_, err = f.sim.Redeem(ctx, actor(bob), created.Market, RedeemOutcome, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-1_000+990), f.ledger.BalanceOf(collateral, bob).Int64())
}

func TestAdminCallsRequirePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)

	_, err := f.admin.RemoveListing(ctx, actor(alice), created.Market, "spam")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.admin.SetDefaultRedeemFeeBps(ctx, actor(alice), domain.MarketBinary, 50)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.admin.Rule(ctx, actor(alice), created.QuestionID, domain.EncodeIndex(domain.OutcomeYes), common.Address{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	err = f.admin.SetOracleParams(ctx, actor(alice), OracleUpdate{MinBaseBond: big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.admin.Cases(ctx, domain.Actor{}, false)
	assert.ErrorIs(t, err, domain.ErrNoWallet)

	m, err := f.sim.Market(ctx, created.Market)
	require.NoError(t, err)
	assert.False(t, m.Removed)
	entries, err := f.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestModerationFansOutOverFactories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)

	res, err := f.admin.RemoveListing(ctx, actor(owner), created.Market, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, []domain.MarketType{domain.MarketBinary}, res.Factories)
	require.Len(t, res.Txs, 1)
	assert.Equal(t, "removeListing", res.Txs[0].Method)

	listed, err := f.markets.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, listed)
	all, err := f.markets.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "duplicate", all[0].RemovedReason)

	_, err = f.admin.RestoreListing(ctx, actor(owner), created.Market)
	require.NoError(t, err)
	listed, err = f.markets.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = f.admin.RemoveListing(ctx, actor(owner), common.HexToAddress("0xdead"), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entries, err := f.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEscalationAndRuling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.markets.Create(ctx, actor(alice), CreateMarketRequest{
		Type: domain.MarketBinary, Name: "One round", Timeout: time.Hour, MaxRounds: 1,
	})
	require.NoError(t, err)
	f.advance(time.Hour)
	id := res.QuestionID

	_, err = f.reporters.Escalate(ctx, actor(bob), id)
	require.ErrorIs(t, err, domain.ErrRoundsRemaining)

	_, err = f.reporters.Commit(ctx, actor(alice), id, domain.EncodeIndex(domain.OutcomeYes))
	require.NoError(t, err)
	_, err = f.reporters.Reveal(ctx, actor(alice), id, nil)
	require.NoError(t, err)
	_, err = f.reporters.Escalate(ctx, actor(bob), id)
	require.NoError(t, err)

	cases, err := f.admin.Cases(ctx, actor(owner), true)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, id, cases[0].QuestionID)

	_, err = f.admin.Rule(ctx, actor(owner), id, domain.EncodeIndex(domain.OutcomeNo), bob)
	require.NoError(t, err)
	q, err := f.sim.Question(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, q.Resolution)
	assert.Equal(t, domain.ResolvedByArbitrator, q.Resolution.Method)
	assert.Equal(t, bob, q.Resolution.Payee)

	open, err := f.admin.Cases(ctx, actor(owner), true)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOracleParamsAndPrivilegedCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.admin.SetOracleParams(ctx, actor(owner), OracleUpdate{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	bps := uint16(250)
	require.NoError(t, f.admin.SetOracleParams(ctx, actor(owner), OracleUpdate{QuestionFee: big.NewInt(0), FeeBps: &bps}))
	info, err := f.sim.Oracle(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.QuestionFee.Sign())
	assert.Equal(t, uint16(250), *info.FeeBps)

	res, err := f.admin.CreateMarket(ctx, actor(owner), CreateMarketRequest{
		Type:         domain.MarketCategorical,
		Name:         "Which team wins?",
		OutcomeNames: []string{"Red", "Blue", "Green"},
	})
	require.NoError(t, err)
	methods := []string{}
	for _, tx := range res.Txs {
		methods = append(methods, tx.Method)
	}
	assert.Equal(t, []string{"createQuestion", "createCategorical"}, methods)

	m, err := f.markets.Get(ctx, res.Market)
	require.NoError(t, err)
	require.NotNil(t, m.Categorical)
	assert.Equal(t, []string{"Red", "Blue", "Green"}, m.Categorical.OutcomeNames)
	assert.Zero(t, f.ledger.BalanceOf(bondTok, feeSink).Sign())
}

func TestParseRedeemSide(t *testing.T) {
	for in, want := range map[string]RedeemSide{"": RedeemOutcome, "outcome": RedeemOutcome, "long": RedeemLong, "short": RedeemShort} {
		got, err := ParseRedeemSide(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRedeemSide("both")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
