package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/market"
	"github.com/alanyoungcy/insightra/internal/oracle"
)

// QuestionDefaults fill the question parameters a create request leaves
// unset.
type QuestionDefaults struct {
	Collateral     common.Address
	Timeout        time.Duration
	BondMultiplier uint8
	MaxRounds      uint8
	OpeningDelay   time.Duration
	DataSource     string
}

// DefaultQuestionDefaults are the values the create form starts from.
func DefaultQuestionDefaults() QuestionDefaults {
	return QuestionDefaults{
		Timeout:        24 * time.Hour,
		BondMultiplier: 2,
		MaxRounds:      5,
		OpeningDelay:   time.Hour,
		DataSource:     "user",
	}
}

// CreateMarketRequest describes a new question and the market bound to it.
// Zero question fields take the service defaults.
type CreateMarketRequest struct {
	Type           domain.MarketType `json:"type"`
	Name           string            `json:"name"`
	Template       string            `json:"template"`
	Collateral     common.Address    `json:"collateral"`
	OutcomeNames   []string          `json:"outcome_names,omitempty"`
	ScalarMin      *big.Int          `json:"scalar_min,omitempty"`
	ScalarMax      *big.Int          `json:"scalar_max,omitempty"`
	ScalarDecimals uint32            `json:"scalar_decimals,omitempty"`
	Timeout        time.Duration     `json:"timeout,omitempty"`
	BondMultiplier uint8             `json:"bond_multiplier,omitempty"`
	MaxRounds      uint8             `json:"max_rounds,omitempty"`
	OpeningTs      time.Time         `json:"opening_ts,omitempty"`
	DataSource     string            `json:"data_source,omitempty"`
	Consumer       common.Address    `json:"consumer,omitempty"`
}

// CreateMarketResult reports both halves of a create.
type CreateMarketResult struct {
	Result
	QuestionID common.Hash    `json:"question_id"`
	Market     common.Address `json:"market"`
}

// OrphanQuestionError reports a question that was created while the market
// creation that should have followed it failed. The question stays on the
// oracle with no market bound to it.
type OrphanQuestionError struct {
	QuestionID common.Hash
	Err        error
}

func (e *OrphanQuestionError) Error() string {
	return fmt.Sprintf("question %s created but market creation failed: %v", e.QuestionID.Hex(), e.Err)
}

func (e *OrphanQuestionError) Unwrap() error { return e.Err }

// MarketService lists markets and runs the two-step public create flow.
type MarketService struct {
	proto    Protocol
	cache    domain.MarketCache
	defaults QuestionDefaults
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(proto Protocol, cache domain.MarketCache, defaults QuestionDefaults, logger *slog.Logger) *MarketService {
	return &MarketService{
		proto:    proto,
		cache:    cache,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// List returns every market, optionally including removed listings.
func (s *MarketService) List(ctx context.Context, includeRemoved bool) ([]domain.Market, error) {
	ms, err := s.proto.Markets(ctx, includeRemoved)
	if err != nil {
		return nil, wrap("list markets", err)
	}
	return ms, nil
}

// Get returns one market, checking the cache first and back-filling it on
// a miss.
func (s *MarketService) Get(ctx context.Context, addr common.Address) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, addr); err == nil {
			return m, nil
		}
	}
	m, err := s.proto.Market(ctx, addr)
	if err != nil {
		return domain.Market{}, wrap("get market "+addr.Hex(), err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// Factories returns the factory configuration of every market type.
func (s *MarketService) Factories(ctx context.Context) ([]domain.FactoryInfo, error) {
	fs, err := s.proto.Factories(ctx)
	return fs, wrap("factories", err)
}

// Create publishes a question through createQuestionPublic and then submits
// a market bound to it. The two steps are not atomic: when the second fails
// the error is an *OrphanQuestionError carrying the question id.
func (s *MarketService) Create(ctx context.Context, actor domain.Actor, req CreateMarketRequest) (CreateMarketResult, error) {
	return s.create(ctx, actor, req, true)
}

// create runs both steps. public selects createQuestionPublic and submit*;
// otherwise the fee-free owner paths createQuestion and create* are used.
func (s *MarketService) create(ctx context.Context, actor domain.Actor, req CreateMarketRequest, public bool) (CreateMarketResult, error) {
	var res CreateMarketResult
	params, err := s.questionParams(req)
	if err != nil {
		return res, wrap("create market", err)
	}
	if err := params.Validate(); err != nil {
		return res, wrap("create market", err)
	}
	info, err := s.proto.Oracle(ctx)
	if err != nil {
		return res, wrap("create market", err)
	}
	mreq := s.marketRequest(req)
	mreq.Oracle = info.Address
	// QuestionID is filled after step one; validate the rest up front.
	probe := mreq
	probe.QuestionID = common.Hash{0x01}
	if err := probe.Validate(); err != nil {
		return res, wrap("create market", err)
	}

	if public && info.QuestionFee != nil && info.QuestionFee.Sign() > 0 {
		rec, err := s.proto.Approve(ctx, actor, info.BondToken, info.Address, info.QuestionFee)
		if err != nil {
			return res, wrap("approve question fee", err)
		}
		res.add(rec)
	}
	salt, err := crypto.RandomSalt()
	if err != nil {
		return res, wrap("create market", err)
	}
	id, rec, err := s.proto.CreateQuestion(ctx, actor, params, salt, public)
	if err != nil {
		return res, wrap("create question", err)
	}
	res.add(rec)
	res.QuestionID = id
	mreq.QuestionID = id

	addr, err := s.submit(ctx, actor, mreq, public, &res)
	if err != nil {
		s.logger.ErrorContext(ctx, "market creation failed after question was created",
			slog.String("question_id", id.Hex()),
			slog.String("type", req.Type.String()),
			slog.String("error", err.Error()),
		)
		return res, &OrphanQuestionError{QuestionID: id, Err: err}
	}
	res.Market = addr
	s.logger.InfoContext(ctx, "market created",
		slog.String("market", addr.Hex()),
		slog.String("question_id", id.Hex()),
		slog.String("type", req.Type.String()),
		slog.String("creator", actor.Address.Hex()),
		slog.Bool("public", public),
	)
	return res, nil
}

func (s *MarketService) submit(ctx context.Context, actor domain.Actor, req market.CreateRequest, paid bool, res *CreateMarketResult) (common.Address, error) {
	f, err := s.factory(ctx, req.Type)
	if err != nil {
		return common.Address{}, err
	}
	if paid && f.CreationFee != nil && f.CreationFee.Sign() > 0 {
		rec, err := s.proto.Approve(ctx, actor, f.BondToken, f.Address, f.CreationFee)
		if err != nil {
			return common.Address{}, err
		}
		res.add(rec)
	}
	addr, rec, err := s.proto.CreateMarket(ctx, actor, req, paid)
	if err != nil {
		return common.Address{}, err
	}
	res.add(rec)
	return addr, nil
}

func (s *MarketService) factory(ctx context.Context, t domain.MarketType) (domain.FactoryInfo, error) {
	fs, err := s.proto.Factories(ctx)
	if err != nil {
		return domain.FactoryInfo{}, err
	}
	for _, f := range fs {
		if f.Type == t {
			return f, nil
		}
	}
	return domain.FactoryInfo{}, fmt.Errorf("%s factory: %w", t, domain.ErrNotFound)
}

func (s *MarketService) questionParams(req CreateMarketRequest) (domain.QuestionParams, error) {
	p := domain.QuestionParams{
		Timeout:        req.Timeout,
		BondMultiplier: req.BondMultiplier,
		MaxRounds:      req.MaxRounds,
		DataSource:     strings.TrimSpace(req.DataSource),
		Consumer:       req.Consumer,
		OpeningTs:      req.OpeningTs,
	}
	template := strings.TrimSpace(req.Template)
	if template == "" {
		template = strings.TrimSpace(req.Name)
	}
	if template == "" {
		return p, fmt.Errorf("%w: question text is required", domain.ErrInvalidInput)
	}
	p.TemplateHash = oracle.TemplateHash(template)

	switch req.Type {
	case domain.MarketBinary:
		p.Type, p.Options = domain.QuestionBinary, 2
	case domain.MarketCategorical:
		p.Type, p.Options = domain.QuestionCategorical, uint32(len(req.OutcomeNames))
	case domain.MarketScalar:
		p.Type = domain.QuestionScalar
		p.ScalarMin, p.ScalarMax, p.ScalarDecimals = req.ScalarMin, req.ScalarMax, req.ScalarDecimals
	default:
		return p, fmt.Errorf("%w: unknown market type %d", domain.ErrInvalidInput, req.Type)
	}

	if p.Timeout == 0 {
		p.Timeout = s.defaults.Timeout
	}
	if p.BondMultiplier == 0 {
		p.BondMultiplier = s.defaults.BondMultiplier
	}
	if p.MaxRounds == 0 {
		p.MaxRounds = s.defaults.MaxRounds
	}
	if p.DataSource == "" {
		p.DataSource = s.defaults.DataSource
	}
	if p.OpeningTs.IsZero() {
		p.OpeningTs = s.proto.Now().Add(s.defaults.OpeningDelay)
	}
	return p, nil
}

func (s *MarketService) marketRequest(req CreateMarketRequest) market.CreateRequest {
	collateral := req.Collateral
	if collateral == (common.Address{}) {
		collateral = s.defaults.Collateral
	}
	out := market.CreateRequest{
		Type:       req.Type,
		Collateral: collateral,
		Name:       strings.TrimSpace(req.Name),
	}
	switch req.Type {
	case domain.MarketCategorical:
		out.NumOutcomes = uint8(min(len(req.OutcomeNames), domain.MaxCategoricalOptions))
		out.OutcomeNames = req.OutcomeNames
	case domain.MarketScalar:
		out.ScalarMin, out.ScalarMax, out.ScalarDecimals = req.ScalarMin, req.ScalarMax, req.ScalarDecimals
	}
	return out
}

// IsOrphan reports whether err left a question without a market and returns
// its id.
func IsOrphan(err error) (common.Hash, bool) {
	var oq *OrphanQuestionError
	if errors.As(err, &oq) {
		return oq.QuestionID, true
	}
	return common.Hash{}, false
}
