// Package oracle implements the optimistic commit-reveal question lifecycle:
// reporters commit to hidden answers, reveal them with escalating bonds, and
// the leading answer finalizes once its liveness window passes unchallenged.
// A registered arbitrator may override at any point before finalization.
package oracle

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/insightra/internal/domain"
)

const bpsDenominator = 10_000

// TokenLedger is the subset of the token ledger the oracle moves bonds and
// fees through.
type TokenLedger interface {
	Transfer(tok, from, to common.Address, amount *big.Int) error
	TransferFrom(tok, spender, owner, to common.Address, amount *big.Int) error
}

// Config holds the oracle's deployment parameters.
type Config struct {
	Address     common.Address // escrow account holding bonds
	Owner       common.Address
	BondToken   common.Address
	FeeSink     common.Address
	Arbitrator  common.Address
	FeeBps      uint16
	QuestionFee *big.Int
	MinBaseBond *big.Int
}

func (c Config) validate() error {
	if c.FeeBps > bpsDenominator {
		return fmt.Errorf("%w: fee_bps %d exceeds %d", domain.ErrInvalidInput, c.FeeBps, bpsDenominator)
	}
	if c.MinBaseBond == nil || c.MinBaseBond.Sign() <= 0 {
		return fmt.Errorf("%w: min_base_bond must be positive", domain.ErrInvalidInput)
	}
	if c.QuestionFee != nil && c.QuestionFee.Sign() < 0 {
		return fmt.Errorf("%w: question_fee must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink routes emitted events to sink.
func WithEventSink(sink domain.EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With(slog.String("component", "oracle")) }
}

// WithEscalationHook is called, outside the engine lock, for every escalated
// question.
func WithEscalationHook(fn func(id common.Hash)) Option {
	return func(e *Engine) { e.onEscalate = fn }
}

type question struct {
	q           domain.Question
	commitments map[common.Address]common.Hash
}

// Engine is a concurrency-safe in-process oracle.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	ledger     TokenLedger
	sink       domain.EventSink
	logger     *slog.Logger
	now        func() time.Time
	onEscalate func(id common.Hash)
	questions  map[common.Hash]*question
}

// New creates an oracle engine.
func New(cfg Config, ledger TokenLedger, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	if cfg.QuestionFee == nil {
		cfg.QuestionFee = new(big.Int)
	}
	e := &Engine{
		cfg:       cfg,
		ledger:    ledger,
		sink:      domain.DiscardEvents,
		logger:    slog.Default().With(slog.String("component", "oracle")),
		now:       time.Now,
		questions: make(map[common.Hash]*question),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetEscalationHook installs the escalation hook after construction, for
// wiring where the arbitrator depends on the engine.
func (e *Engine) SetEscalationHook(fn func(id common.Hash)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEscalate = fn
}

// Address is the oracle's escrow account.
func (e *Engine) Address() common.Address { return e.cfg.Address }

// BondToken returns the token bonds and fees are paid in.
func (e *Engine) BondToken() common.Address { return e.cfg.BondToken }

// QuestionFee returns the fee charged by CreateQuestionPublic.
func (e *Engine) QuestionFee() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.cfg.QuestionFee)
}

// Params returns a copy of the current configuration.
func (e *Engine) Params() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := e.cfg
	c.QuestionFee = new(big.Int).Set(e.cfg.QuestionFee)
	c.MinBaseBond = new(big.Int).Set(e.cfg.MinBaseBond)
	return c
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.now() }

// CreateQuestion is the privileged, fee-free creation path.
func (e *Engine) CreateQuestion(caller common.Address, p domain.QuestionParams, salt common.Hash) (common.Hash, error) {
	if caller != e.cfg.Owner {
		return common.Hash{}, fmt.Errorf("oracle: create question: %w", domain.ErrUnauthorized)
	}
	return e.create(caller, p, salt, false)
}

// CreateQuestionPublic charges the question fee in the bond token and
// creates the question. The resulting state is identical to CreateQuestion.
func (e *Engine) CreateQuestionPublic(caller common.Address, p domain.QuestionParams, salt common.Hash) (common.Hash, error) {
	return e.create(caller, p, salt, true)
}

func (e *Engine) create(caller common.Address, p domain.QuestionParams, salt common.Hash, charge bool) (common.Hash, error) {
	if err := p.Validate(); err != nil {
		return common.Hash{}, fmt.Errorf("oracle: create question: %w", err)
	}
	id := QuestionID(caller, salt, p.TemplateHash)

	e.mu.Lock()
	if _, ok := e.questions[id]; ok {
		e.mu.Unlock()
		return common.Hash{}, fmt.Errorf("oracle: create question %s: %w", id.Hex(), domain.ErrAlreadyExists)
	}
	if charge && e.cfg.QuestionFee.Sign() > 0 {
		if err := e.ledger.TransferFrom(e.cfg.BondToken, e.cfg.Address, caller, e.cfg.FeeSink, e.cfg.QuestionFee); err != nil {
			e.mu.Unlock()
			return common.Hash{}, fmt.Errorf("oracle: question fee: %w", err)
		}
	}
	now := e.now()
	if p.OpeningTs.IsZero() {
		p.OpeningTs = now
	}
	e.questions[id] = &question{
		q: domain.Question{
			ID:        id,
			Creator:   caller,
			Params:    cloneParams(p),
			CreatedAt: now,
			BondPool:  new(big.Int),
		},
		commitments: make(map[common.Address]common.Hash),
	}
	e.mu.Unlock()

	e.logger.Info("question created",
		slog.String("id", id.Hex()),
		slog.String("type", p.Type.String()),
		slog.String("creator", caller.Hex()),
		slog.Bool("paid", charge),
	)
	e.emit(domain.Event{
		Kind:       domain.EventQuestionCreated,
		QuestionID: id,
		Actor:      caller,
		Attrs: map[string]string{
			"type":        p.Type.String(),
			"data_source": p.DataSource,
			"opening_ts":  p.OpeningTs.UTC().Format(time.RFC3339),
		},
	})
	return id, nil
}

// Commit records a hidden answer for sender.
func (e *Engine) Commit(sender common.Address, id, hash common.Hash) error {
	return e.commit(sender, id, hash, false)
}

// Recommit replaces sender's unrevealed commitment.
func (e *Engine) Recommit(sender common.Address, id, hash common.Hash) error {
	return e.commit(sender, id, hash, true)
}

func (e *Engine) commit(sender common.Address, id, hash common.Hash, replace bool) error {
	op := "commit"
	if replace {
		op = "recommit"
	}
	if hash == (common.Hash{}) {
		return fmt.Errorf("oracle: %s: %w: empty commitment", op, domain.ErrInvalidInput)
	}

	e.mu.Lock()
	qs, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: %s: %w", op, err)
	}
	now := e.now()
	if err := qs.acceptingAnswers(now); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: %s %s: %w", op, id.Hex(), err)
	}
	_, has := qs.commitments[sender]
	switch {
	case replace && !has:
		e.mu.Unlock()
		return fmt.Errorf("oracle: recommit %s: %w", id.Hex(), domain.ErrNoCommitment)
	case !replace && has:
		e.mu.Unlock()
		return fmt.Errorf("oracle: commit %s: %w", id.Hex(), domain.ErrAlreadyCommitted)
	}
	qs.commitments[sender] = hash
	qs.q.PendingCount = len(qs.commitments)
	e.mu.Unlock()

	kind := domain.EventCommitted
	if replace {
		kind = domain.EventRecommitted
	}
	e.emit(domain.Event{
		Kind:       kind,
		QuestionID: id,
		Actor:      sender,
		Attrs:      map[string]string{"commitment": hash.Hex()},
	})
	return nil
}

// Reveal opens sender's commitment and posts bond behind it. A failed reveal
// leaves the question unchanged.
func (e *Engine) Reveal(sender common.Address, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) error {
	if bond == nil || bond.Sign() <= 0 {
		return fmt.Errorf("oracle: reveal: %w", domain.ErrInvalidAmount)
	}

	e.mu.Lock()
	qs, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal: %w", err)
	}
	now := e.now()
	if err := qs.acceptingAnswers(now); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w", id.Hex(), err)
	}
	committed, ok := qs.commitments[sender]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w", id.Hex(), domain.ErrNoCommitment)
	}
	expected, err := CommitHash(id, outcome, salt, sender)
	if err != nil || expected != committed {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w", id.Hex(), domain.ErrCommitMismatch)
	}
	if err := domain.ValidateOutcome(qs.q.Params, outcome); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w", id.Hex(), err)
	}
	if leader := qs.q.Leader; leader != nil && bytes.Equal(leader.Outcome, outcome) {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w", id.Hex(), domain.ErrSameOutcome)
	}
	required := e.requiredBond(qs)
	if bond.Cmp(required) < 0 {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: %w: got %s, need %s", id.Hex(), domain.ErrBondTooLow, bond, required)
	}
	if err := e.ledger.TransferFrom(e.cfg.BondToken, e.cfg.Address, sender, e.cfg.Address, bond); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: reveal %s: bond: %w", id.Hex(), err)
	}

	delete(qs.commitments, sender)
	qs.q.Round++
	rev := domain.Reveal{
		Reporter:   sender,
		Outcome:    bytes.Clone(outcome),
		Bond:       new(big.Int).Set(bond),
		Round:      qs.q.Round,
		RevealedAt: now,
	}
	qs.q.Leader = &rev
	qs.q.History = append(qs.q.History, rev)
	qs.q.BondPool = new(big.Int).Add(qs.q.BondPool, bond)
	qs.q.Deadline = now.Add(qs.q.Params.Timeout)
	qs.q.PendingCount = len(qs.commitments)
	round, deadline, qtype := qs.q.Round, qs.q.Deadline, qs.q.Params.Type
	e.mu.Unlock()

	e.logger.Info("answer revealed",
		slog.String("id", id.Hex()),
		slog.String("reporter", sender.Hex()),
		slog.String("outcome", domain.DescribeOutcome(qtype, outcome)),
		slog.String("bond", bond.String()),
		slog.Int("round", int(round)),
	)
	e.emit(domain.Event{
		Kind:       domain.EventRevealed,
		QuestionID: id,
		Actor:      sender,
		Amount:     new(big.Int).Set(bond),
		Attrs: map[string]string{
			"outcome":  fmt.Sprintf("0x%x", outcome),
			"round":    fmt.Sprint(round),
			"deadline": deadline.UTC().Format(time.RFC3339),
		},
	})
	return nil
}

// RequiredBond returns the minimum bond the next reveal must post.
func (e *Engine) RequiredBond(id common.Hash) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs, err := e.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("oracle: required bond: %w", err)
	}
	return e.requiredBond(qs), nil
}

// requiredBond is minBaseBond for the first answer and leader*multiplier for
// a challenge, and always strictly above the leading bond.
func (e *Engine) requiredBond(qs *question) *big.Int {
	leader := qs.q.Leader
	if leader == nil {
		return new(big.Int).Set(e.cfg.MinBaseBond)
	}
	req := new(big.Int).Mul(leader.Bond, big.NewInt(int64(qs.q.Params.BondMultiplier)))
	if req.Cmp(leader.Bond) <= 0 {
		req = new(big.Int).Add(leader.Bond, big.NewInt(1))
	}
	return req
}

// Finalize settles the leading answer once its liveness window has passed.
// Anyone may call it.
func (e *Engine) Finalize(caller common.Address, id common.Hash) (domain.Resolution, error) {
	e.mu.Lock()
	qs, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: finalize: %w", err)
	}
	now := e.now()
	switch {
	case qs.q.Resolution != nil:
		err = domain.ErrAlreadyFinalized
	case qs.q.Escalated:
		err = domain.ErrAlreadyEscalated
	case qs.q.Leader == nil:
		err = domain.ErrNoAnswer
	case now.Before(qs.q.Deadline):
		err = domain.ErrLivenessActive
	}
	if err != nil {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: finalize %s: %w", id.Hex(), err)
	}
	res, err := e.settle(qs, qs.q.Leader.Outcome, qs.q.Leader.Reporter, domain.ResolvedByLiveness, now)
	e.mu.Unlock()
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("oracle: finalize %s: %w", id.Hex(), err)
	}

	e.logResolution(id, qs.q.Params.Type, res)
	e.emit(resolutionEvent(domain.EventQuestionFinalized, id, caller, res))
	return res, nil
}

// Escalate hands the question to the arbitrator once every round is used.
func (e *Engine) Escalate(caller common.Address, id common.Hash) error {
	e.mu.Lock()
	qs, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: escalate: %w", err)
	}
	switch {
	case qs.q.Resolution != nil:
		err = domain.ErrAlreadyFinalized
	case qs.q.Escalated:
		err = domain.ErrAlreadyEscalated
	case qs.q.Round < qs.q.Params.MaxRounds:
		err = fmt.Errorf("%w: round %d of %d", domain.ErrRoundsRemaining, qs.q.Round, qs.q.Params.MaxRounds)
	}
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("oracle: escalate %s: %w", id.Hex(), err)
	}
	qs.q.Escalated = true
	qs.q.EscalatedAt = e.now()
	hook := e.onEscalate
	e.mu.Unlock()

	e.logger.Warn("question escalated", slog.String("id", id.Hex()), slog.String("by", caller.Hex()))
	e.emit(domain.Event{Kind: domain.EventEscalated, QuestionID: id, Actor: caller})
	if hook != nil {
		hook(id)
	}
	return nil
}

// ReceiveArbitratorRuling sets the terminal outcome on behalf of the
// registered arbitrator, bypassing liveness. A zero payee pays the leading
// reporter; with no reporter the pool goes to the fee sink.
func (e *Engine) ReceiveArbitratorRuling(sender common.Address, id common.Hash, outcome []byte, payee common.Address) (domain.Resolution, error) {
	e.mu.Lock()
	if sender != e.cfg.Arbitrator || sender == (common.Address{}) {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: ruling: %w", domain.ErrUnauthorized)
	}
	qs, err := e.lookup(id)
	if err != nil {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: ruling: %w", err)
	}
	if qs.q.Resolution != nil {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: ruling %s: %w", id.Hex(), domain.ErrAlreadyFinalized)
	}
	if err := domain.ValidateOutcome(qs.q.Params, outcome); err != nil {
		e.mu.Unlock()
		return domain.Resolution{}, fmt.Errorf("oracle: ruling %s: %w", id.Hex(), err)
	}
	if payee == (common.Address{}) {
		if qs.q.Leader != nil {
			payee = qs.q.Leader.Reporter
		} else {
			payee = e.cfg.FeeSink
		}
	}
	res, err := e.settle(qs, outcome, payee, domain.ResolvedByArbitrator, e.now())
	e.mu.Unlock()
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("oracle: ruling %s: %w", id.Hex(), err)
	}

	e.logResolution(id, qs.q.Params.Type, res)
	e.emit(resolutionEvent(domain.EventArbitrated, id, sender, res))
	return res, nil
}

// settle pays out the bond pool and stores the resolution. e.mu must be held.
func (e *Engine) settle(qs *question, outcome []byte, payee common.Address, method domain.ResolutionMethod, now time.Time) (domain.Resolution, error) {
	pool := qs.q.BondPool
	fee := new(big.Int).Mul(pool, big.NewInt(int64(e.cfg.FeeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	payout := new(big.Int).Sub(pool, fee)

	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(e.cfg.BondToken, e.cfg.Address, e.cfg.FeeSink, fee); err != nil {
			return domain.Resolution{}, err
		}
	}
	if payout.Sign() > 0 {
		if err := e.ledger.Transfer(e.cfg.BondToken, e.cfg.Address, payee, payout); err != nil {
			return domain.Resolution{}, err
		}
	}
	res := domain.Resolution{
		Outcome:     bytes.Clone(outcome),
		Payee:       payee,
		Payout:      payout,
		Fee:         fee,
		Method:      method,
		FinalizedAt: now,
	}
	stored := cloneResolution(res)
	qs.q.Resolution = &stored
	qs.q.BondPool = new(big.Int)
	clear(qs.commitments)
	qs.q.PendingCount = 0
	return res, nil
}

// Question returns a snapshot of one question.
func (e *Engine) Question(id common.Hash) (domain.Question, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs, err := e.lookup(id)
	if err != nil {
		return domain.Question{}, fmt.Errorf("oracle: question: %w", err)
	}
	return snapshot(qs), nil
}

// Questions lists questions matching f, newest first.
func (e *Engine) Questions(f domain.QuestionFilter) []domain.Question {
	e.mu.RLock()
	now := e.now()
	out := make([]domain.Question, 0, len(e.questions))
	for _, qs := range e.questions {
		if f.Match(qs.q, now) {
			out = append(out, snapshot(qs))
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Cmp(out[j].ID) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Resolution returns the terminal outcome of a finalized question.
func (e *Engine) Resolution(id common.Hash) (domain.Resolution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs, err := e.lookup(id)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("oracle: resolution: %w", err)
	}
	if qs.q.Resolution == nil {
		return domain.Resolution{}, fmt.Errorf("oracle: resolution %s: %w", id.Hex(), domain.ErrOracleNotFinalized)
	}
	return cloneResolution(*qs.q.Resolution), nil
}

// HasCommitment reports whether reporter holds an unrevealed commitment.
func (e *Engine) HasCommitment(id common.Hash, reporter common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs, ok := e.questions[id]
	if !ok {
		return false
	}
	_, has := qs.commitments[reporter]
	return has
}

// SetQuestionFee updates the public creation fee. Owner only.
func (e *Engine) SetQuestionFee(caller common.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("oracle: set question fee: %w", domain.ErrInvalidAmount)
	}
	return e.update(caller, "question_fee", fee.String(), func(c *Config) { c.QuestionFee = new(big.Int).Set(fee) })
}

// SetMinBaseBond updates the first-round bond. Owner only.
func (e *Engine) SetMinBaseBond(caller common.Address, bond *big.Int) error {
	if bond == nil || bond.Sign() <= 0 {
		return fmt.Errorf("oracle: set min base bond: %w", domain.ErrInvalidAmount)
	}
	return e.update(caller, "min_base_bond", bond.String(), func(c *Config) { c.MinBaseBond = new(big.Int).Set(bond) })
}

// SetFeeBps updates the protocol fee on bond pools. Owner only.
func (e *Engine) SetFeeBps(caller common.Address, bps uint16) error {
	if bps > bpsDenominator {
		return fmt.Errorf("oracle: set fee bps: %w: %d", domain.ErrInvalidInput, bps)
	}
	return e.update(caller, "fee_bps", fmt.Sprint(bps), func(c *Config) { c.FeeBps = bps })
}

// SetArbitrator replaces the registered arbitrator. Owner only.
func (e *Engine) SetArbitrator(caller, arbitrator common.Address) error {
	return e.update(caller, "arbitrator", arbitrator.Hex(), func(c *Config) { c.Arbitrator = arbitrator })
}

func (e *Engine) update(caller common.Address, param, value string, apply func(*Config)) error {
	e.mu.Lock()
	if caller != e.cfg.Owner {
		e.mu.Unlock()
		return fmt.Errorf("oracle: set %s: %w", param, domain.ErrUnauthorized)
	}
	apply(&e.cfg)
	e.mu.Unlock()

	e.logger.Info("oracle parameter updated", slog.String("param", param), slog.String("value", value))
	e.emit(domain.Event{
		Kind:  domain.EventOracleParamUpdated,
		Actor: caller,
		Attrs: map[string]string{"param": param, "value": value},
	})
	return nil
}

func (e *Engine) lookup(id common.Hash) (*question, error) {
	qs, ok := e.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return qs, nil
}

// acceptingAnswers reports why a question cannot take commits or reveals.
func (qs *question) acceptingAnswers(now time.Time) error {
	switch {
	case qs.q.Resolution != nil:
		return domain.ErrAlreadyFinalized
	case qs.q.Escalated:
		return domain.ErrAlreadyEscalated
	case now.Before(qs.q.Params.OpeningTs):
		return domain.ErrNotOpen
	case qs.q.Round >= qs.q.Params.MaxRounds:
		return domain.ErrMaxRoundsReached
	case qs.q.Leader != nil && !now.Before(qs.q.Deadline):
		return domain.ErrLivenessExpired
	}
	return nil
}

func (e *Engine) emit(ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.sink.Emit(ev)
}

func (e *Engine) logResolution(id common.Hash, t domain.QuestionType, res domain.Resolution) {
	e.logger.Info("question finalized",
		slog.String("id", id.Hex()),
		slog.String("method", string(res.Method)),
		slog.String("outcome", domain.DescribeOutcome(t, res.Outcome)),
		slog.String("payee", res.Payee.Hex()),
		slog.String("payout", res.Payout.String()),
		slog.String("fee", res.Fee.String()),
	)
}

func resolutionEvent(kind domain.EventKind, id common.Hash, actor common.Address, res domain.Resolution) domain.Event {
	return domain.Event{
		Kind:       kind,
		QuestionID: id,
		Actor:      actor,
		Amount:     new(big.Int).Set(res.Payout),
		Attrs: map[string]string{
			"outcome": fmt.Sprintf("0x%x", res.Outcome),
			"payee":   res.Payee.Hex(),
			"fee":     res.Fee.String(),
			"method":  string(res.Method),
		},
	}
}

func snapshot(qs *question) domain.Question {
	q := qs.q
	q.Params = cloneParams(q.Params)
	q.History = nil
	for _, r := range qs.q.History {
		q.History = append(q.History, cloneReveal(r))
	}
	if q.Leader != nil {
		l := cloneReveal(*q.Leader)
		q.Leader = &l
	}
	if q.Resolution != nil {
		r := cloneResolution(*q.Resolution)
		q.Resolution = &r
	}
	q.BondPool = cloneInt(q.BondPool)
	return q
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneReveal(r domain.Reveal) domain.Reveal {
	r.Outcome = bytes.Clone(r.Outcome)
	r.Bond = cloneInt(r.Bond)
	return r
}

func cloneResolution(r domain.Resolution) domain.Resolution {
	r.Outcome = bytes.Clone(r.Outcome)
	r.Payout = cloneInt(r.Payout)
	r.Fee = cloneInt(r.Fee)
	return r
}

func cloneParams(p domain.QuestionParams) domain.QuestionParams {
	if p.ScalarMin != nil {
		p.ScalarMin = new(big.Int).Set(p.ScalarMin)
	}
	if p.ScalarMax != nil {
		p.ScalarMax = new(big.Int).Set(p.ScalarMax)
	}
	return p
}
