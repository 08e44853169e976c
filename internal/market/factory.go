package market

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
)

// CreateRequest carries the arguments of create*/submit*. Outcome names and
// count apply to categorical markets; the scalar fields to scalar markets.
type CreateRequest struct {
	Type           domain.MarketType `json:"type"`
	Collateral     common.Address    `json:"collateral"`
	Oracle         common.Address    `json:"oracle"`
	QuestionID     common.Hash       `json:"question_id"`
	Name           string            `json:"name"`
	NumOutcomes    uint8             `json:"num_outcomes,omitempty"`
	OutcomeNames   []string          `json:"outcome_names,omitempty"`
	ScalarMin      *big.Int          `json:"scalar_min,omitempty"`
	ScalarMax      *big.Int          `json:"scalar_max,omitempty"`
	ScalarDecimals uint32            `json:"scalar_decimals,omitempty"`
}

// Validate checks the request shape without consulting any state.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: market name is required", domain.ErrInvalidInput)
	}
	if r.Collateral == (common.Address{}) || r.Oracle == (common.Address{}) {
		return fmt.Errorf("%w: collateral and oracle are required", domain.ErrInvalidAddress)
	}
	if r.QuestionID == (common.Hash{}) {
		return fmt.Errorf("%w: question id is required", domain.ErrInvalidHash)
	}
	switch r.Type {
	case domain.MarketBinary:
	case domain.MarketCategorical:
		if r.NumOutcomes < 2 {
			return fmt.Errorf("%w: categorical markets need at least 2 outcomes", domain.ErrInvalidInput)
		}
		if len(r.OutcomeNames) != int(r.NumOutcomes) {
			return fmt.Errorf("%w: %d names for %d outcomes", domain.ErrOutcomeCount, len(r.OutcomeNames), r.NumOutcomes)
		}
		for i, n := range r.OutcomeNames {
			if strings.TrimSpace(n) == "" {
				return fmt.Errorf("%w: outcome %d has no name", domain.ErrInvalidInput, i)
			}
		}
	case domain.MarketScalar:
		if r.ScalarMin == nil || r.ScalarMax == nil || r.ScalarMin.Cmp(r.ScalarMax) >= 0 {
			return fmt.Errorf("%w: scalar_min must be below scalar_max", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown market type %d", domain.ErrInvalidInput, r.Type)
	}
	return nil
}

// Create is the owner-only, fee-free factory path.
func (e *Engine) Create(caller common.Address, req CreateRequest) (domain.Market, error) {
	return e.deploy(caller, req, false)
}

// Submit is the public factory path; it charges the creation fee in the
// bond token.
func (e *Engine) Submit(caller common.Address, req CreateRequest) (domain.Market, error) {
	return e.deploy(caller, req, true)
}

func (e *Engine) deploy(caller common.Address, req CreateRequest, paid bool) (domain.Market, error) {
	op := "create"
	if paid {
		op = "submit"
	}
	if err := req.Validate(); err != nil {
		return domain.Market{}, fmt.Errorf("market: %s %s: %w", op, req.Type, err)
	}

	e.mu.Lock()
	f, err := e.factory(req.Type)
	if err != nil {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: %s: %w", op, err)
	}
	if !paid && caller != f.cfg.Owner {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: %s %s: %w", op, req.Type, domain.ErrUnauthorized)
	}
	collateral, err := e.ledger.Token(req.Collateral)
	if err != nil {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: %s %s: collateral: %w", op, req.Type, err)
	}
	if err := e.checkQuestion(req); err != nil {
		e.mu.Unlock()
		return domain.Market{}, fmt.Errorf("market: %s %s: %w", op, req.Type, err)
	}
	nonce := f.nonce + 1
	addr := deriveAddress(f.cfg.Address, nonce)
	labels := outcomeLabels(req)
	tokens := make([]common.Address, len(labels))
	for i := range labels {
		tokens[i] = deriveAddress(addr, uint64(i+1))
		if _, err := e.ledger.Token(tokens[i]); err == nil {
			e.mu.Unlock()
			return domain.Market{}, fmt.Errorf("market: %s %s: outcome token %s: %w", op, req.Type, tokens[i].Hex(), domain.ErrAlreadyExists)
		}
	}
	charged := paid && f.cfg.CreationFee.Sign() > 0
	if charged {
		if err := e.ledger.TransferFrom(e.bondToken, f.cfg.Address, caller, f.cfg.FeeSink, f.cfg.CreationFee); err != nil {
			e.mu.Unlock()
			return domain.Market{}, fmt.Errorf("market: %s %s: creation fee: %w", op, req.Type, err)
		}
	}
	for i, label := range labels {
		err := e.ledger.Register(ledger.TokenInfo{
			Address:  tokens[i],
			Symbol:   label,
			Name:     req.Name + " " + label,
			Decimals: collateral.Decimals,
		})
		if err != nil {
			if charged {
				err = errors.Join(err, e.ledger.Transfer(e.bondToken, f.cfg.FeeSink, caller, f.cfg.CreationFee))
			}
			e.mu.Unlock()
			return domain.Market{}, fmt.Errorf("market: %s %s: outcome token: %w", op, req.Type, err)
		}
	}

	f.nonce = nonce
	m := &domain.Market{
		Address:          addr,
		Type:             req.Type,
		Name:             req.Name,
		Factory:          f.cfg.Address,
		Creator:          caller,
		Collateral:       req.Collateral,
		Oracle:           req.Oracle,
		QuestionID:       req.QuestionID,
		Status:           domain.MarketOpen,
		RedeemFeeBps:     f.cfg.DefaultRedeemFeeBps,
		FeeSink:          f.cfg.FeeSink,
		CollateralLocked: new(big.Int),
		CreatedAt:        e.now(),
	}
	switch req.Type {
	case domain.MarketBinary:
		m.Binary = &domain.BinaryDetail{YesToken: tokens[0], NoToken: tokens[1]}
	case domain.MarketCategorical:
		m.Categorical = &domain.CategoricalDetail{
			OutcomeNames: append([]string(nil), req.OutcomeNames...),
			Tokens:       tokens,
			Winner:       -1,
		}
	case domain.MarketScalar:
		m.Scalar = &domain.ScalarDetail{
			Min:        new(big.Int).Set(req.ScalarMin),
			Max:        new(big.Int).Set(req.ScalarMax),
			Decimals:   req.ScalarDecimals,
			LongToken:  tokens[0],
			ShortToken: tokens[1],
		}
	}
	e.markets[addr] = m
	f.markets = append(f.markets, addr)
	snap := cloneMarket(m)
	e.mu.Unlock()

	e.logger.Info("market created",
		slog.String("market", addr.Hex()),
		slog.String("type", req.Type.String()),
		slog.String("question", req.QuestionID.Hex()),
		slog.String("creator", caller.Hex()),
		slog.Bool("paid", paid),
	)
	e.emit(domain.Event{
		Kind:       domain.EventMarketCreated,
		Market:     addr,
		QuestionID: req.QuestionID,
		Actor:      caller,
		Attrs:      map[string]string{"type": req.Type.String(), "name": req.Name, "factory": f.cfg.Address.Hex()},
	})
	e.emit(domain.Event{Kind: domain.EventMarketRegistered, Market: addr, Actor: caller})
	return snap, nil
}

// checkQuestion verifies the bound question exists with a matching shape.
func (e *Engine) checkQuestion(req CreateRequest) error {
	resolver, ok := e.oracles[req.Oracle]
	if !ok {
		return fmt.Errorf("oracle %s: %w", req.Oracle.Hex(), domain.ErrNotFound)
	}
	q, err := resolver.Question(req.QuestionID)
	if err != nil {
		return err
	}
	if want := req.Type.QuestionType(); q.Params.Type != want {
		return fmt.Errorf("%w: question is %s, market needs %s", domain.ErrInvalidInput, q.Params.Type, want)
	}
	if req.Type == domain.MarketCategorical && q.Params.Options != uint32(req.NumOutcomes) {
		return fmt.Errorf("%w: question has %d options, market %d", domain.ErrOutcomeCount, q.Params.Options, req.NumOutcomes)
	}
	return nil
}

func outcomeLabels(req CreateRequest) []string {
	switch req.Type {
	case domain.MarketCategorical:
		return req.OutcomeNames
	case domain.MarketScalar:
		return []string{"LONG", "SHORT"}
	default:
		return []string{"YES", "NO"}
	}
}

// Factory returns the configuration and registry size of one factory.
func (e *Engine) Factory(t domain.MarketType) (domain.FactoryInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, err := e.factory(t)
	if err != nil {
		return domain.FactoryInfo{}, fmt.Errorf("market: %w", err)
	}
	return f.info(e.bondToken), nil
}

// Factories lists every configured factory in type order.
func (e *Engine) Factories() []domain.FactoryInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.FactoryInfo, 0, len(e.factories))
	for _, t := range domain.MarketTypes {
		if f, ok := e.factories[t]; ok {
			out = append(out, f.info(e.bondToken))
		}
	}
	return out
}

// MarketCount is the number of markets a factory has registered.
func (e *Engine) MarketCount(t domain.MarketType) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, err := e.factory(t)
	if err != nil {
		return 0, fmt.Errorf("market: %w", err)
	}
	return len(f.markets), nil
}

// AllMarkets returns the i-th market registered by a factory.
func (e *Engine) AllMarkets(t domain.MarketType, i int) (common.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, err := e.factory(t)
	if err != nil {
		return common.Address{}, fmt.Errorf("market: %w", err)
	}
	if i < 0 || i >= len(f.markets) {
		return common.Address{}, fmt.Errorf("market: index %d of %d: %w", i, len(f.markets), domain.ErrNotFound)
	}
	return f.markets[i], nil
}

// IsMarket reports whether addr was created by the factory for t.
func (e *Engine) IsMarket(t domain.MarketType, addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[addr]
	return ok && m.Type == t && e.factories[t] != nil && m.Factory == e.factories[t].cfg.Address
}

// IsRemoved reports whether the factory has delisted addr.
func (e *Engine) IsRemoved(t domain.MarketType, addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.factories[t]
	if !ok {
		return false
	}
	_, removed := f.removed[addr]
	return removed
}

// RemoveListing hides a market from listings. Settlement is unaffected.
func (e *Engine) RemoveListing(caller common.Address, t domain.MarketType, addr common.Address, reason string) error {
	return e.moderate(caller, t, addr, func(f *factory, m *domain.Market) domain.Event {
		f.removed[addr] = reason
		m.Removed = true
		m.RemovedReason = reason
		return domain.Event{Kind: domain.EventListingRemoved, Market: addr, Actor: caller, Attrs: map[string]string{"reason": reason}}
	})
}

// RestoreListing reverses RemoveListing.
func (e *Engine) RestoreListing(caller common.Address, t domain.MarketType, addr common.Address) error {
	return e.moderate(caller, t, addr, func(f *factory, m *domain.Market) domain.Event {
		delete(f.removed, addr)
		m.Removed = false
		m.RemovedReason = ""
		return domain.Event{Kind: domain.EventListingRestored, Market: addr, Actor: caller}
	})
}

func (e *Engine) moderate(caller common.Address, t domain.MarketType, addr common.Address, apply func(*factory, *domain.Market) domain.Event) error {
	e.mu.Lock()
	f, err := e.factory(t)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: moderate: %w", err)
	}
	if caller != f.cfg.Owner {
		e.mu.Unlock()
		return fmt.Errorf("market: moderate %s: %w", addr.Hex(), domain.ErrUnauthorized)
	}
	m, ok := e.markets[addr]
	if !ok || m.Factory != f.cfg.Address {
		e.mu.Unlock()
		return fmt.Errorf("market: moderate %s on %s factory: %w", addr.Hex(), t, domain.ErrNotFound)
	}
	ev := apply(f, m)
	e.mu.Unlock()

	e.logger.Info("listing moderated", slog.String("market", addr.Hex()), slog.String("action", string(ev.Kind)))
	e.emit(ev)
	return nil
}

// SetDefaultRedeemFeeBps changes the redeem fee applied to future markets.
func (e *Engine) SetDefaultRedeemFeeBps(caller common.Address, t domain.MarketType, bps uint16) error {
	if bps > domain.MaxRedeemFeeBps {
		return fmt.Errorf("market: set redeem fee: %w: %d bps exceeds %d", domain.ErrInvalidInput, bps, domain.MaxRedeemFeeBps)
	}
	e.mu.Lock()
	f, err := e.factory(t)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("market: set redeem fee: %w", err)
	}
	if caller != f.cfg.Owner {
		e.mu.Unlock()
		return fmt.Errorf("market: set redeem fee: %w", domain.ErrUnauthorized)
	}
	f.cfg.DefaultRedeemFeeBps = bps
	e.mu.Unlock()

	e.emit(domain.Event{
		Kind:  domain.EventDefaultFeeUpdated,
		Actor: caller,
		Attrs: map[string]string{"factory": f.cfg.Address.Hex(), "bps": fmt.Sprint(bps)},
	})
	return nil
}

func (e *Engine) factory(t domain.MarketType) (*factory, error) {
	f, ok := e.factories[t]
	if !ok {
		return nil, fmt.Errorf("%s factory: %w", t, domain.ErrNotFound)
	}
	return f, nil
}

func (f *factory) info(bondToken common.Address) domain.FactoryInfo {
	return domain.FactoryInfo{
		Type:                f.cfg.Type,
		Address:             f.cfg.Address,
		Owner:               f.cfg.Owner,
		BondToken:           bondToken,
		FeeSink:             f.cfg.FeeSink,
		CreationFee:         new(big.Int).Set(f.cfg.CreationFee),
		DefaultRedeemFeeBps: f.cfg.DefaultRedeemFeeBps,
		MarketCount:         len(f.markets),
	}
}
