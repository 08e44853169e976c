package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/policy"
)

// ModerationResult reports which factories accepted a listing change.
type ModerationResult struct {
	Result
	Market    common.Address      `json:"market"`
	Factories []domain.MarketType `json:"factories"`
}

// AdminService exposes the privileged operations. Every call passes the
// admin policy before anything is sent.
type AdminService struct {
	proto   Protocol
	policy  domain.AdminPolicy
	markets *MarketService
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewAdminService creates an AdminService. audit may be nil.
func NewAdminService(proto Protocol, p domain.AdminPolicy, markets *MarketService, audit domain.AuditStore, logger *slog.Logger) *AdminService {
	return &AdminService{
		proto:   proto,
		policy:  p,
		markets: markets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "admin_service")),
	}
}

// IsAdmin reports whether addr passes the policy.
func (s *AdminService) IsAdmin(addr common.Address) bool {
	return s.policy != nil && s.policy.IsAdmin(addr)
}

// RemoveListing hides a market on every factory that registered it.
func (s *AdminService) RemoveListing(ctx context.Context, actor domain.Actor, m common.Address, reason string) (ModerationResult, error) {
	return s.moderate(ctx, actor, m, true, reason)
}

// RestoreListing reverses RemoveListing.
func (s *AdminService) RestoreListing(ctx context.Context, actor domain.Actor, m common.Address) (ModerationResult, error) {
	return s.moderate(ctx, actor, m, false, "")
}

// moderate sends the change to every factory. Factories that do not know
// the market are skipped; the call fails only when none accepted it.
func (s *AdminService) moderate(ctx context.Context, actor domain.Actor, m common.Address, remove bool, reason string) (ModerationResult, error) {
	op := "restore listing"
	if remove {
		op = "remove listing"
	}
	res := ModerationResult{Market: m}
	if err := policy.Require(s.policy, actor); err != nil {
		return res, wrap(op, err)
	}
	var errs []error
	for _, t := range domain.MarketTypes {
		rec, err := s.proto.Moderate(ctx, actor, t, m, remove, reason)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s factory: %w", t, err))
			}
			continue
		}
		res.add(rec)
		res.Factories = append(res.Factories, t)
	}
	if len(res.Factories) == 0 {
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", m.Hex(), domain.ErrNotFound))
		}
		return res, wrap(op, errors.Join(errs...))
	}
	s.record(ctx, op, actor, map[string]any{"market": m.Hex(), "reason": reason, "factories": len(res.Factories)})
	if len(errs) > 0 {
		return res, wrap(op, errors.Join(errs...))
	}
	return res, nil
}

// SetDefaultRedeemFeeBps changes the redeem fee new markets of type t get.
func (s *AdminService) SetDefaultRedeemFeeBps(ctx context.Context, actor domain.Actor, t domain.MarketType, bps uint16) (Result, error) {
	var res Result
	if err := policy.Require(s.policy, actor); err != nil {
		return res, wrap("set redeem fee", err)
	}
	rec, err := s.proto.SetDefaultRedeemFeeBps(ctx, actor, t, bps)
	if err != nil {
		return res, wrap("set redeem fee", err)
	}
	res.add(rec)
	s.record(ctx, "set redeem fee", actor, map[string]any{"type": t.String(), "bps": bps})
	return res, nil
}

// CreateMarket runs the fee-free owner paths createQuestion and create*.
func (s *AdminService) CreateMarket(ctx context.Context, actor domain.Actor, req CreateMarketRequest) (CreateMarketResult, error) {
	if err := policy.Require(s.policy, actor); err != nil {
		return CreateMarketResult{}, wrap("privileged create", err)
	}
	res, err := s.markets.create(ctx, actor, req, false)
	if res.QuestionID != (common.Hash{}) {
		detail := map[string]any{"question_id": res.QuestionID.Hex(), "type": req.Type.String(), "name": req.Name}
		if res.Market != (common.Address{}) {
			detail["market"] = res.Market.Hex()
		}
		s.record(ctx, "privileged create", actor, detail)
	}
	return res, err
}

// FinalizeMarket pulls the oracle outcome into a market.
func (s *AdminService) FinalizeMarket(ctx context.Context, actor domain.Actor, m common.Address) (Result, error) {
	var res Result
	if err := policy.Require(s.policy, actor); err != nil {
		return res, wrap("finalize market", err)
	}
	rec, err := s.proto.FinalizeMarket(ctx, actor, m)
	if err != nil {
		return res, wrap("finalize market", err)
	}
	res.add(rec)
	s.record(ctx, "finalize market", actor, map[string]any{"market": m.Hex()})
	return res, nil
}

// Rule delivers an arbitrator ruling. A zero payee pays the leading
// reporter.
func (s *AdminService) Rule(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, payee common.Address) (Result, error) {
	var res Result
	if err := policy.Require(s.policy, actor); err != nil {
		return res, wrap("arbitrator ruling", err)
	}
	q, err := s.proto.Question(ctx, id)
	if err != nil {
		return res, wrap("arbitrator ruling", err)
	}
	if err := domain.ValidateOutcome(q.Params, outcome); err != nil {
		return res, wrap("arbitrator ruling", err)
	}
	rec, err := s.proto.AdminRule(ctx, actor, id, outcome, payee)
	if err != nil {
		return res, wrap("arbitrator ruling", err)
	}
	res.add(rec)
	s.record(ctx, "arbitrator ruling", actor, map[string]any{
		"question_id": id.Hex(),
		"outcome":     domain.DescribeOutcome(q.Params.Type, outcome),
		"payee":       payee.Hex(),
	})
	return res, nil
}

// SetOracleParams applies owner-only oracle updates.
func (s *AdminService) SetOracleParams(ctx context.Context, actor domain.Actor, u OracleUpdate) error {
	if err := policy.Require(s.policy, actor); err != nil {
		return wrap("oracle params", err)
	}
	if u.Empty() {
		return wrap("oracle params", fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput))
	}
	if err := s.proto.SetOracleParams(ctx, actor, u); err != nil {
		return wrap("oracle params", err)
	}
	detail := map[string]any{}
	if u.QuestionFee != nil {
		detail["question_fee"] = u.QuestionFee.String()
	}
	if u.MinBaseBond != nil {
		detail["min_base_bond"] = u.MinBaseBond.String()
	}
	if u.FeeBps != nil {
		detail["fee_bps"] = *u.FeeBps
	}
	if u.Arbitrator != nil {
		detail["arbitrator"] = u.Arbitrator.Hex()
	}
	s.record(ctx, "oracle params", actor, detail)
	return nil
}

// Cases lists arbitration cases.
func (s *AdminService) Cases(ctx context.Context, actor domain.Actor, openOnly bool) ([]arbitrator.Case, error) {
	if err := policy.Require(s.policy, actor); err != nil {
		return nil, wrap("cases", err)
	}
	cs, err := s.proto.Cases(ctx, openOnly)
	return cs, wrap("cases", err)
}

// Audit lists recent audit entries.
func (s *AdminService) Audit(ctx context.Context, actor domain.Actor, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if err := policy.Require(s.policy, actor); err != nil {
		return nil, wrap("audit", err)
	}
	if s.audit == nil {
		return nil, nil
	}
	es, err := s.audit.List(ctx, opts)
	return es, wrap("audit", err)
}

func (s *AdminService) record(ctx context.Context, event string, actor domain.Actor, detail map[string]any) {
	detail["admin"] = actor.Address.Hex()
	s.logger.InfoContext(ctx, "admin action",
		slog.String("action", event),
		slog.String("admin", actor.Address.Hex()),
	)
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("action", event),
			slog.String("error", err.Error()),
		)
	}
}
