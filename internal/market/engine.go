// Package market implements outcome-token settlement for binary,
// categorical and scalar markets together with the per-type factory
// registries that create and moderate them.
package market

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
)

const bpsDenominator = 10_000

// One is the 1e18 fixed-point unit used for scalar payout fractions.
var One = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// TokenLedger is the token surface markets need.
type TokenLedger interface {
	Register(info ledger.TokenInfo) error
	Token(addr common.Address) (ledger.TokenInfo, error)
	BalanceOf(tok, account common.Address) *big.Int
	Transfer(tok, from, to common.Address, amount *big.Int) error
	TransferFrom(tok, spender, owner, to common.Address, amount *big.Int) error
	MintSet(toks []common.Address, to common.Address, amount *big.Int) error
	BurnSet(toks []common.Address, from common.Address, amount *big.Int) error
}

// Resolver reads oracle questions and their resolutions.
type Resolver interface {
	Question(id common.Hash) (domain.Question, error)
	Resolution(id common.Hash) (domain.Resolution, error)
}

// FactoryConfig configures one factory.
type FactoryConfig struct {
	Type                domain.MarketType
	Address             common.Address
	Owner               common.Address
	FeeSink             common.Address
	CreationFee         *big.Int
	DefaultRedeemFeeBps uint16
}

type factory struct {
	cfg     FactoryConfig
	markets []common.Address
	removed map[common.Address]string
	nonce   uint64
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
	return func(e *Engine) { e.logger = logger.With(slog.String("component", "market")) }
}

// Engine owns every factory and market.
type Engine struct {
	mu        sync.RWMutex
	ledger    TokenLedger
	oracles   map[common.Address]Resolver
	bondToken common.Address
	sink      domain.EventSink
	logger    *slog.Logger
	now       func() time.Time
	factories map[domain.MarketType]*factory
	markets   map[common.Address]*domain.Market
}

// New creates a market engine. oracles maps each oracle address markets may
// bind to onto its resolver.
func New(l TokenLedger, oracles map[common.Address]Resolver, bondToken common.Address, factories []FactoryConfig, opts ...Option) (*Engine, error) {
	e := &Engine{
		ledger:    l,
		oracles:   oracles,
		bondToken: bondToken,
		sink:      domain.DiscardEvents,
		logger:    slog.Default().With(slog.String("component", "market")),
		now:       time.Now,
		factories: make(map[domain.MarketType]*factory),
		markets:   make(map[common.Address]*domain.Market),
	}
	for _, fc := range factories {
		if _, dup := e.factories[fc.Type]; dup {
			return nil, fmt.Errorf("market: duplicate %s factory", fc.Type)
		}
		if fc.DefaultRedeemFeeBps > domain.MaxRedeemFeeBps {
			return nil, fmt.Errorf("market: %s factory: %w: redeem fee %d bps", fc.Type, domain.ErrInvalidInput, fc.DefaultRedeemFeeBps)
		}
		if fc.CreationFee == nil {
			fc.CreationFee = new(big.Int)
		}
		e.factories[fc.Type] = &factory{cfg: fc, removed: make(map[common.Address]string)}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Market returns a snapshot of one market.
func (e *Engine) Market(addr common.Address) (domain.Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[addr]
	if !ok {
		return domain.Market{}, fmt.Errorf("market: %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return cloneMarket(m), nil
}

// Markets lists every market across factories, newest first.
func (e *Engine) Markets(includeRemoved bool) []domain.Market {
	e.mu.RLock()
	out := make([]domain.Market, 0, len(e.markets))
	for _, m := range e.markets {
		if m.Removed && !includeRemoved {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Address.Cmp(out[j].Address) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Split pulls amount of collateral from user and mints one of every outcome
// token per unit.
func (e *Engine) Split(user, addr common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return fmt.Errorf("market: split: %w", err)
	}
	e.mu.Lock()
	m, err := e.openMarket(addr)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: split: %w", err)
	}
	if err := e.ledger.TransferFrom(m.Collateral, m.Address, user, m.Address, amount); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: split %s: %w", addr.Hex(), err)
	}
	if err := e.ledger.MintSet(m.OutcomeTokens(), user, amount); err != nil {
		// Return the collateral so a failed mint leaves no trace.
		if rerr := e.ledger.Transfer(m.Collateral, m.Address, user, amount); rerr != nil {
			e.logger.Error("split rollback failed, collateral held by market",
				slog.String("market", addr.Hex()),
				slog.String("user", user.Hex()),
				slog.String("amount", amount.String()),
				slog.String("error", rerr.Error()),
			)
			err = errors.Join(err, fmt.Errorf("return collateral: %w", rerr))
		}
		e.mu.Unlock()
		return fmt.Errorf("market: split %s: %w", addr.Hex(), err)
	}
	m.CollateralLocked = new(big.Int).Add(m.CollateralLocked, amount)
	e.mu.Unlock()

	e.emit(domain.Event{Kind: domain.EventSplit, Market: addr, QuestionID: m.QuestionID, Actor: user, Amount: new(big.Int).Set(amount)})
	return nil
}

// Merge burns sets of every outcome token from user and releases the same
// amount of collateral.
func (e *Engine) Merge(user, addr common.Address, sets *big.Int) error {
	if err := positive(sets); err != nil {
		return fmt.Errorf("market: merge: %w", err)
	}
	e.mu.Lock()
	m, err := e.openMarket(addr)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: merge: %w", err)
	}
	if err := e.ledger.BurnSet(m.OutcomeTokens(), user, sets); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: merge %s: %w", addr.Hex(), err)
	}
	if err := e.ledger.Transfer(m.Collateral, m.Address, user, sets); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: merge %s: release collateral: %w", addr.Hex(), err)
	}
	m.CollateralLocked = new(big.Int).Sub(m.CollateralLocked, sets)
	e.mu.Unlock()

	e.emit(domain.Event{Kind: domain.EventMerge, Market: addr, QuestionID: m.QuestionID, Actor: user, Amount: new(big.Int).Set(sets)})
	return nil
}

// FinalizeFromOracle pulls the bound question's resolution. An invalid
// answer cancels the market.
func (e *Engine) FinalizeFromOracle(caller, addr common.Address) (domain.Market, error) {
	e.mu.Lock()
	m, ok := e.markets[addr]
	if !ok {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: finalize: %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	if m.Status != domain.MarketOpen {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: finalize %s: %w", addr.Hex(), domain.ErrAlreadyResolved)
	}
	resolver, ok := e.oracles[m.Oracle]
	if !ok {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: finalize %s: oracle %s: %w", addr.Hex(), m.Oracle.Hex(), domain.ErrNotFound)
	}
	res, err := resolver.Resolution(m.QuestionID)
	if err != nil {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: finalize %s: %w", addr.Hex(), err)
	}
	if err := applyResolution(m, res.Outcome); err != nil {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: finalize %s: %w", addr.Hex(), err)
	}
	m.ResolvedAt = e.now()
	snap := cloneMarket(m)
	e.mu.Unlock()

	kind := domain.EventMarketFinalized
	if snap.Status == domain.MarketCancelled {
		kind = domain.EventMarketCancelled
	}
	e.logger.Info("market settled",
		slog.String("market", addr.Hex()),
		slog.String("status", snap.Status.String()),
		slog.String("answer", domain.DescribeOutcome(snap.Type.QuestionType(), snap.ResolvedAnswer)),
	)
	e.emit(domain.Event{
		Kind:       kind,
		Market:     addr,
		QuestionID: snap.QuestionID,
		Actor:      caller,
		Attrs:      map[string]string{"outcome": fmt.Sprintf("0x%x", snap.ResolvedAnswer)},
	})
	return snap, nil
}

// applyResolution decodes the oracle answer into the market payload.
func applyResolution(m *domain.Market, outcome []byte) error {
	qt := m.Type.QuestionType()
	m.ResolvedAnswer = append([]byte(nil), outcome...)
	if domain.IsInvalidOutcome(qt, outcome) {
		m.Status = domain.MarketCancelled
		if m.Type == domain.MarketScalar {
			m.Scalar.FNumerator = new(big.Int).Quo(One, big.NewInt(2))
		}
		return nil
	}
	switch m.Type {
	case domain.MarketBinary:
		idx, err := domain.DecodeIndex(outcome)
		if err != nil {
			return err
		}
		if idx > domain.OutcomeYes {
			return fmt.Errorf("%w: binary index %d", domain.ErrInvalidOutcome, idx)
		}
		m.Binary.OutcomeYes = idx == domain.OutcomeYes
	case domain.MarketCategorical:
		idx, err := domain.DecodeIndex(outcome)
		if err != nil {
			return err
		}
		if idx >= uint64(len(m.Categorical.Tokens)) {
			return fmt.Errorf("%w: categorical index %d", domain.ErrInvalidOutcome, idx)
		}
		m.Categorical.Winner = int(idx)
	case domain.MarketScalar:
		v, err := domain.DecodeScalar(outcome)
		if err != nil {
			return err
		}
		m.Scalar.ResolvedValue = v
		m.Scalar.FNumerator = LongFraction(m.Scalar.Min, m.Scalar.Max, v)
	default:
		return fmt.Errorf("%w: market type %d", domain.ErrWrongMarketType, m.Type)
	}
	m.Status = domain.MarketResolved
	return nil
}

// LongFraction is (clamp(v) - min) * 1e18 / (max - min).
func LongFraction(lo, hi, v *big.Int) *big.Int {
	c := new(big.Int).Set(v)
	if c.Cmp(lo) < 0 {
		c.Set(lo)
	}
	if c.Cmp(hi) > 0 {
		c.Set(hi)
	}
	num := new(big.Int).Sub(c, lo)
	num.Mul(num, One)
	return num.Quo(num, new(big.Int).Sub(hi, lo))
}

// Redeem burns amount of winning tokens from a resolved binary or
// categorical market, or amount of complete sets from a cancelled one, and
// pays collateral minus the redeem fee.
func (e *Engine) Redeem(user, addr common.Address, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, fmt.Errorf("market: redeem: %w", err)
	}
	return e.redeem(user, addr, amount, func(m *domain.Market) ([]common.Address, *big.Int, error) {
		switch m.Type {
		case domain.MarketBinary:
			if m.Status == domain.MarketCancelled {
				return m.OutcomeTokens(), amount, nil
			}
			if m.Binary.OutcomeYes {
				return []common.Address{m.Binary.YesToken}, amount, nil
			}
			return []common.Address{m.Binary.NoToken}, amount, nil
		case domain.MarketCategorical:
			if m.Status == domain.MarketCancelled {
				return m.OutcomeTokens(), amount, nil
			}
			return []common.Address{m.Categorical.Tokens[m.Categorical.Winner]}, amount, nil
		default:
			return nil, nil, domain.ErrWrongMarketType
		}
	})
}

// RedeemLong pays amount*f/1e18 for LONG tokens of a settled scalar market.
func (e *Engine) RedeemLong(user, addr common.Address, amount *big.Int) (*big.Int, error) {
	return e.redeemScalar(user, addr, amount, true)
}

// RedeemShort pays amount*(1e18-f)/1e18 for SHORT tokens.
func (e *Engine) RedeemShort(user, addr common.Address, amount *big.Int) (*big.Int, error) {
	return e.redeemScalar(user, addr, amount, false)
}

func (e *Engine) redeemScalar(user, addr common.Address, amount *big.Int, long bool) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, fmt.Errorf("market: redeem: %w", err)
	}
	return e.redeem(user, addr, amount, func(m *domain.Market) ([]common.Address, *big.Int, error) {
		if m.Type != domain.MarketScalar {
			return nil, nil, domain.ErrWrongMarketType
		}
		f := m.Scalar.FNumerator
		tok := m.Scalar.LongToken
		if !long {
			f = new(big.Int).Sub(One, f)
			tok = m.Scalar.ShortToken
		}
		gross := new(big.Int).Mul(amount, f)
		gross.Quo(gross, One)
		return []common.Address{tok}, gross, nil
	})
}

type payoutFunc func(m *domain.Market) (burn []common.Address, gross *big.Int, err error)

func (e *Engine) redeem(user, addr common.Address, amount *big.Int, payout payoutFunc) (*big.Int, error) {
	e.mu.Lock()
	m, ok := e.markets[addr]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("market: redeem: %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	if !m.Status.Settled() {
		e.mu.Unlock()
		return nil, fmt.Errorf("market: redeem %s: %w", addr.Hex(), domain.ErrNotResolved)
	}
	burn, gross, err := payout(m)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("market: redeem %s: %w", addr.Hex(), err)
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(m.RedeemFeeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	net := new(big.Int).Sub(gross, fee)

	if err := e.ledger.BurnSet(burn, user, amount); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("market: redeem %s: %w", addr.Hex(), err)
	}
	if fee.Sign() > 0 {
		if err := e.ledger.Transfer(m.Collateral, m.Address, m.FeeSink, fee); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("market: redeem %s: fee: %w", addr.Hex(), err)
		}
	}
	if net.Sign() > 0 {
		if err := e.ledger.Transfer(m.Collateral, m.Address, user, net); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("market: redeem %s: payout: %w", addr.Hex(), err)
		}
	}
	m.CollateralLocked = new(big.Int).Sub(m.CollateralLocked, gross)
	qid := m.QuestionID
	e.mu.Unlock()

	e.emit(domain.Event{
		Kind:       domain.EventRedeemed,
		Market:     addr,
		QuestionID: qid,
		Actor:      user,
		Amount:     new(big.Int).Set(net),
		Attrs:      map[string]string{"burned": amount.String(), "fee": fee.String()},
	})
	return net, nil
}

// Claimable returns what user would receive redeeming their whole balance
// of tok, net of fees. Unsettled markets report zero.
func (e *Engine) Claimable(user, addr, tok common.Address) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[addr]
	if !ok {
		return new(big.Int)
	}
	return ClaimableAmount(*m, tok, func(t common.Address) *big.Int { return e.ledger.BalanceOf(t, user) })
}

// ClaimableAmount computes the net redeem value of a holder's whole tok
// balance in m. balanceOf reports the holder's balance of any outcome token.
func ClaimableAmount(m domain.Market, tok common.Address, balanceOf func(tok common.Address) *big.Int) *big.Int {
	if !m.Status.Settled() {
		return new(big.Int)
	}
	bal := balanceOf(tok)
	if bal.Sign() == 0 {
		return new(big.Int)
	}
	gross := new(big.Int)
	switch m.Type {
	case domain.MarketBinary, domain.MarketCategorical:
		if m.Status == domain.MarketCancelled {
			// Complete sets are limited by the scarcest outcome token.
			gross.Set(bal)
			for _, t := range m.OutcomeTokens() {
				if b := balanceOf(t); b.Cmp(gross) < 0 {
					gross.Set(b)
				}
			}
		} else if winning(&m) == tok {
			gross.Set(bal)
		}
	case domain.MarketScalar:
		if m.Scalar == nil || m.Scalar.FNumerator == nil {
			return gross
		}
		f := m.Scalar.FNumerator
		if tok == m.Scalar.ShortToken {
			f = new(big.Int).Sub(One, f)
		}
		gross.Mul(bal, f)
		gross.Quo(gross, One)
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(m.RedeemFeeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	return gross.Sub(gross, fee)
}

func winning(m *domain.Market) common.Address {
	switch m.Type {
	case domain.MarketBinary:
		if m.Binary.OutcomeYes {
			return m.Binary.YesToken
		}
		return m.Binary.NoToken
	case domain.MarketCategorical:
		if m.Categorical.Winner >= 0 {
			return m.Categorical.Tokens[m.Categorical.Winner]
		}
	}
	return common.Address{}
}

func (e *Engine) openMarket(addr common.Address) (*domain.Market, error) {
	m, ok := e.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), domain.ErrNotFound)
	}
	if m.Status != domain.MarketOpen {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), domain.ErrAlreadyResolved)
	}
	return m, nil
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

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// deriveAddress mirrors CREATE address derivation so simulated markets and
// tokens get stable, realistic addresses.
func deriveAddress(deployer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(deployer, nonce)
}

func cloneMarket(m *domain.Market) domain.Market {
	c := *m
	c.CollateralLocked = cloneInt(m.CollateralLocked)
	c.ResolvedAnswer = append([]byte(nil), m.ResolvedAnswer...)
	if m.Binary != nil {
		b := *m.Binary
		c.Binary = &b
	}
	if m.Categorical != nil {
		cd := *m.Categorical
		cd.OutcomeNames = append([]string(nil), m.Categorical.OutcomeNames...)
		cd.Tokens = append([]common.Address(nil), m.Categorical.Tokens...)
		c.Categorical = &cd
	}
	if m.Scalar != nil {
		s := *m.Scalar
		s.Min = cloneInt(s.Min)
		s.Max = cloneInt(s.Max)
		s.ResolvedValue = cloneInt(s.ResolvedValue)
		s.FNumerator = cloneInt(s.FNumerator)
		c.Scalar = &s
	}
	return c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
