package oracle

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
)

var (
	oracleAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	feeSink    = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	arbitrator = common.HexToAddress("0x0000000000000000000000000000000000000a4b")
	bondToken  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	clock  *fakeClock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.Register(ledger.TokenInfo{Address: bondToken, Symbol: "BOND", Decimals: 18}))
	for _, who := range []common.Address{alice, bob, carol} {
		require.NoError(t, l.Mint(bondToken, who, big.NewInt(10_000)))
		require.NoError(t, l.Approve(bondToken, who, oracleAddr, domain.MaxUint256))
	}

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	rec := &recorder{}
	e, err := New(Config{
		Address:     oracleAddr,
		Owner:       owner,
		BondToken:   bondToken,
		FeeSink:     feeSink,
		Arbitrator:  arbitrator,
		FeeBps:      100,
		QuestionFee: big.NewInt(5),
		MinBaseBond: big.NewInt(10),
	}, l, WithClock(clock.Now), WithEventSink(rec))
	require.NoError(t, err)
	return &fixture{engine: e, ledger: l, clock: clock, events: rec}
}

func binaryParams(maxRounds uint8) domain.QuestionParams {
	return domain.QuestionParams{
		Type:           domain.QuestionBinary,
		Options:        2,
		Timeout:        time.Hour,
		BondMultiplier: 2,
		MaxRounds:      maxRounds,
		TemplateHash:   TemplateHash("Will it rain tomorrow?"),
		DataSource:     "user",
	}
}

func (f *fixture) create(t *testing.T, p domain.QuestionParams) common.Hash {
	t.Helper()
	id, err := f.engine.CreateQuestionPublic(alice, p, common.HexToHash("0x5a17"))
	require.NoError(t, err)
	return id
}

// answer commits and reveals outcome for who with bond.
func (f *fixture) answer(t *testing.T, id common.Hash, who common.Address, outcome []byte, bond int64) error {
	t.Helper()
	salt := common.BytesToHash(who.Bytes())
	h, err := CommitHash(id, outcome, salt, who)
	require.NoError(t, err)
	if err := f.engine.Commit(who, id, h); err != nil {
		return err
	}
	return f.engine.Reveal(who, id, outcome, salt, big.NewInt(bond))
}

func TestCreateQuestionPublicChargesFee(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))

	assert.Equal(t, int64(5), f.ledger.BalanceOf(bondToken, feeSink).Int64())
	q, err := f.engine.Question(id)
	require.NoError(t, err)
	assert.Equal(t, alice, q.Creator)
	assert.Equal(t, domain.StateCreated, q.State(f.clock.Now()))
	assert.Equal(t, QuestionID(alice, common.HexToHash("0x5a17"), q.Params.TemplateHash), id)

	_, err = f.engine.CreateQuestionPublic(alice, binaryParams(5), common.HexToHash("0x5a17"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateQuestionPrivilegedPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateQuestion(alice, binaryParams(5), common.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.CreateQuestion(owner, binaryParams(5), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.ledger.BalanceOf(bondToken, feeSink).Int64())
}

func TestBondEscalationScenario(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))

	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))
	first, _ := f.engine.Question(id)
	assert.Equal(t, f.clock.Now().Add(time.Hour), first.Deadline)

	f.clock.Advance(30 * time.Minute)
	err := f.answer(t, id, bob, domain.EncodeIndex(domain.OutcomeNo), 15)
	require.ErrorIs(t, err, domain.ErrBondTooLow)

	q, _ := f.engine.Question(id)
	assert.Equal(t, alice, q.Leader.Reporter)
	assert.EqualValues(t, 1, q.Round)
	assert.Equal(t, first.Deadline, q.Deadline)
	assert.Equal(t, int64(10_000), f.ledger.BalanceOf(bondToken, bob).Int64())

	require.NoError(t, f.engine.Reveal(bob, id, domain.EncodeIndex(domain.OutcomeNo), common.BytesToHash(bob.Bytes()), big.NewInt(20)))
	q, _ = f.engine.Question(id)
	assert.Equal(t, bob, q.Leader.Reporter)
	assert.EqualValues(t, 2, q.Round)
	assert.Equal(t, f.clock.Now().Add(time.Hour), q.Deadline)
	assert.Equal(t, domain.StateChallenged, q.State(f.clock.Now()))
	assert.Equal(t, int64(30), q.BondPool.Int64())
}

func TestFinalizeRequiresLivenessExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))

	_, err := f.engine.Finalize(carol, id)
	require.ErrorIs(t, err, domain.ErrNoAnswer)

	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))
	require.NoError(t, f.answer(t, id, bob, domain.EncodeIndex(domain.OutcomeNo), 20))

	f.clock.Advance(59 * time.Minute)
	_, err = f.engine.Finalize(carol, id)
	require.ErrorIs(t, err, domain.ErrLivenessActive)

	f.clock.Advance(time.Minute)
	res, err := f.engine.Finalize(carol, id)
	require.NoError(t, err)
	assert.Equal(t, bob, res.Payee)
	assert.Equal(t, domain.ResolvedByLiveness, res.Method)
	// pool 30, fee 1% rounds down to 0
	assert.Equal(t, int64(30), res.Payout.Int64())
	assert.Equal(t, int64(10_000-20+30), f.ledger.BalanceOf(bondToken, bob).Int64())

	_, err = f.engine.Finalize(carol, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalizeTakesFee(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))
	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 1000))
	f.clock.Advance(time.Hour)

	res, err := f.engine.Finalize(carol, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Fee.Int64())
	assert.Equal(t, int64(990), res.Payout.Int64())
	// 5 question fee plus 10 protocol fee
	assert.Equal(t, int64(15), f.ledger.BalanceOf(bondToken, feeSink).Int64())
}

func TestRecommitRequiresExistingCommitment(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))

	err := f.engine.Recommit(alice, id, common.HexToHash("0x01"))
	require.ErrorIs(t, err, domain.ErrNoCommitment)

	require.NoError(t, f.engine.Commit(alice, id, common.HexToHash("0x01")))
	require.ErrorIs(t, f.engine.Commit(alice, id, common.HexToHash("0x02")), domain.ErrAlreadyCommitted)
	require.NoError(t, f.engine.Recommit(alice, id, common.HexToHash("0x02")))

	q, _ := f.engine.Question(id)
	assert.Equal(t, domain.StateCommitted, q.State(f.clock.Now()))
}

func TestRevealMismatchAndInvalidOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))

	salt := common.HexToHash("0x77")
	h, err := CommitHash(id, domain.EncodeIndex(domain.OutcomeYes), salt, alice)
	require.NoError(t, err)
	require.NoError(t, f.engine.Commit(alice, id, h))

	err = f.engine.Reveal(alice, id, domain.EncodeIndex(domain.OutcomeNo), salt, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrCommitMismatch)

	// the commitment is bound to the sender
	err = f.engine.Reveal(bob, id, domain.EncodeIndex(domain.OutcomeYes), salt, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrNoCommitment)

	bad := domain.EncodeIndex(7)
	h, _ = CommitHash(id, bad, salt, alice)
	require.NoError(t, f.engine.Recommit(alice, id, h))
	err = f.engine.Reveal(alice, id, bad, salt, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestCommitBeforeOpening(t *testing.T) {
	f := newFixture(t)
	p := binaryParams(5)
	p.OpeningTs = f.clock.Now().Add(time.Hour)
	id := f.create(t, p)

	require.ErrorIs(t, f.engine.Commit(alice, id, common.HexToHash("0x01")), domain.ErrNotOpen)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.Commit(alice, id, common.HexToHash("0x01")))
}

func TestChallengeMustChangeOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))
	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))
	err := f.answer(t, id, bob, domain.EncodeIndex(domain.OutcomeYes), 20)
	assert.ErrorIs(t, err, domain.ErrSameOutcome)
}

func TestRoundsCappedAndEscalation(t *testing.T) {
	f := newFixture(t)
	var escalated []common.Hash
	f.engine.SetEscalationHook(func(id common.Hash) { escalated = append(escalated, id) })
	id := f.create(t, binaryParams(2))

	require.ErrorIs(t, f.engine.Escalate(carol, id), domain.ErrRoundsRemaining)

	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))
	require.ErrorIs(t, f.engine.Escalate(carol, id), domain.ErrRoundsRemaining)
	require.NoError(t, f.answer(t, id, bob, domain.EncodeIndex(domain.OutcomeNo), 20))

	err := f.answer(t, id, carol, domain.EncodeIndex(domain.OutcomeYes), 40)
	require.ErrorIs(t, err, domain.ErrMaxRoundsReached)
	q, _ := f.engine.Question(id)
	assert.EqualValues(t, 2, q.Round)

	require.NoError(t, f.engine.Escalate(carol, id))
	require.ErrorIs(t, f.engine.Escalate(carol, id), domain.ErrAlreadyEscalated)
	assert.Equal(t, []common.Hash{id}, escalated)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.Finalize(carol, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyEscalated)
}

func TestArbitratorRuling(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))
	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 100))

	_, err := f.engine.ReceiveArbitratorRuling(alice, id, domain.EncodeIndex(domain.OutcomeNo), carol)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	// liveness still running, the ruling bypasses it
	res, err := f.engine.ReceiveArbitratorRuling(arbitrator, id, domain.EncodeIndex(domain.OutcomeNo), carol)
	require.NoError(t, err)
	assert.Equal(t, carol, res.Payee)
	assert.Equal(t, domain.ResolvedByArbitrator, res.Method)
	assert.Equal(t, int64(10_000+99), f.ledger.BalanceOf(bondToken, carol).Int64())

	got, err := f.engine.Resolution(id)
	require.NoError(t, err)
	assert.Equal(t, domain.EncodeIndex(domain.OutcomeNo), got.Outcome)

	_, err = f.engine.ReceiveArbitratorRuling(arbitrator, id, domain.EncodeIndex(domain.OutcomeYes), carol)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	assert.Contains(t, f.events.kinds(), domain.EventArbitrated)
}

func TestResolutionBeforeFinalize(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))
	_, err := f.engine.Resolution(id)
	assert.ErrorIs(t, err, domain.ErrOracleNotFinalized)

	_, err = f.engine.Resolution(common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOwnerParameterUpdates(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.SetMinBaseBond(alice, big.NewInt(1)), domain.ErrUnauthorized)
	require.NoError(t, f.engine.SetMinBaseBond(owner, big.NewInt(50)))
	require.NoError(t, f.engine.SetQuestionFee(owner, big.NewInt(0)))

	id := f.create(t, binaryParams(5))
	req, err := f.engine.RequiredBond(id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), req.Int64())
	assert.Equal(t, int64(0), f.ledger.BalanceOf(bondToken, feeSink).Int64())
}

func TestRequiredBondStrictWithUnitMultiplier(t *testing.T) {
	f := newFixture(t)
	p := binaryParams(5)
	p.BondMultiplier = 1
	id := f.create(t, p)
	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))

	req, err := f.engine.RequiredBond(id)
	require.NoError(t, err)
	assert.Equal(t, int64(11), req.Int64())
}

func TestScalarQuestionBounds(t *testing.T) {
	f := newFixture(t)
	p := domain.QuestionParams{
		Type:           domain.QuestionScalar,
		ScalarMin:      big.NewInt(0),
		ScalarMax:      big.NewInt(1000),
		Timeout:        time.Hour,
		BondMultiplier: 2,
		MaxRounds:      3,
	}
	id := f.create(t, p)
	over, _ := domain.EncodeScalar(big.NewInt(1001))
	assert.ErrorIs(t, f.answer(t, id, alice, over, 10), domain.ErrInvalidOutcome)

	in, _ := domain.EncodeScalar(big.NewInt(420))
	require.NoError(t, f.answer(t, id, bob, in, 10))
}

func TestSnapshotsDoNotAliasState(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, binaryParams(5))
	require.NoError(t, f.answer(t, id, alice, domain.EncodeIndex(domain.OutcomeYes), 10))

	before, err := f.engine.RequiredBond(id)
	require.NoError(t, err)

	q, err := f.engine.Question(id)
	require.NoError(t, err)
	q.Leader.Bond.SetInt64(1)
	q.Leader.Outcome[len(q.Leader.Outcome)-1] = 0xff
	q.History[0].Bond.SetInt64(1)
	q.BondPool.SetInt64(0)

	after, err := f.engine.RequiredBond(id)
	require.NoError(t, err)
	assert.Zero(t, before.Cmp(after), "required bond changed to %s", after)
	q, _ = f.engine.Question(id)
	assert.Equal(t, int64(10), q.Leader.Bond.Int64())
	assert.Equal(t, domain.EncodeIndex(domain.OutcomeYes), q.Leader.Outcome)
	assert.Equal(t, int64(10), q.BondPool.Int64())

	f.clock.Advance(time.Hour)
	res, err := f.engine.Finalize(carol, id)
	require.NoError(t, err)
	res.Payout.SetInt64(0)
	res.Fee.SetInt64(99)

	stored, err := f.engine.Resolution(id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Payout.Int64())
	assert.Zero(t, stored.Fee.Sign())
	stored.Payout.SetInt64(0)
	stored.Outcome[len(stored.Outcome)-1] = 0xff

	again, err := f.engine.Resolution(id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.Payout.Int64())
	assert.Equal(t, domain.EncodeIndex(domain.OutcomeYes), again.Outcome)
}
