package service

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// PortfolioService aggregates an account's balances across every market.
type PortfolioService struct {
	proto  Protocol
	logger *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(proto Protocol, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		proto:  proto,
		logger: logger.With(slog.String("component", "portfolio_service")),
	}
}

// Portfolio returns collateral and bond balances plus every non-zero outcome
// token position. Removed listings are included: moderation never blocks
// redemption.
func (s *PortfolioService) Portfolio(ctx context.Context, account common.Address) (domain.Portfolio, error) {
	out := domain.Portfolio{Account: account, Tokens: make(map[common.Address]*big.Int)}
	if account == (common.Address{}) {
		return out, wrap("portfolio", domain.ErrInvalidAddress)
	}
	markets, err := s.proto.Markets(ctx, true)
	if err != nil {
		return out, wrap("portfolio", err)
	}
	info, err := s.proto.Oracle(ctx)
	if err != nil {
		return out, wrap("portfolio", err)
	}
	if err := s.tokenBalance(ctx, &out, info.BondToken); err != nil {
		return out, wrap("portfolio", err)
	}
	for _, m := range markets {
		if err := s.tokenBalance(ctx, &out, m.Collateral); err != nil {
			return out, wrap("portfolio", err)
		}
		ps, err := s.positions(ctx, account, m)
		if err != nil {
			return out, wrap("portfolio "+m.Address.Hex(), err)
		}
		out.Positions = append(out.Positions, ps...)
	}
	return out, nil
}

// Positions returns the account's holdings in one market, zero balances
// included.
func (s *PortfolioService) Positions(ctx context.Context, account, addr common.Address) ([]domain.Position, error) {
	m, err := s.proto.Market(ctx, addr)
	if err != nil {
		return nil, wrap("positions", err)
	}
	toks, labels := m.OutcomeTokens(), m.OutcomeLabels()
	out := make([]domain.Position, 0, len(toks))
	for i, tok := range toks {
		p, err := s.position(ctx, account, m, tok, label(labels, i))
		if err != nil {
			return nil, wrap("positions", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PortfolioService) positions(ctx context.Context, account common.Address, m domain.Market) ([]domain.Position, error) {
	var out []domain.Position
	labels := m.OutcomeLabels()
	for i, tok := range m.OutcomeTokens() {
		p, err := s.position(ctx, account, m, tok, label(labels, i))
		if err != nil {
			return nil, err
		}
		if p.Balance.Sign() > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *PortfolioService) position(ctx context.Context, account common.Address, m domain.Market, tok common.Address, lbl string) (domain.Position, error) {
	bal, err := s.proto.Balance(ctx, tok, account)
	if err != nil {
		return domain.Position{}, err
	}
	claim := new(big.Int)
	if m.Status.Settled() && bal.Sign() > 0 {
		if claim, err = s.proto.Claimable(ctx, account, m, tok); err != nil {
			return domain.Position{}, err
		}
	}
	return domain.Position{Market: m.Address, Token: tok, Label: lbl, Balance: bal, Claimable: claim}, nil
}

func (s *PortfolioService) tokenBalance(ctx context.Context, p *domain.Portfolio, tok common.Address) error {
	if tok == (common.Address{}) {
		return nil
	}
	if _, seen := p.Tokens[tok]; seen {
		return nil
	}
	bal, err := s.proto.Balance(ctx, tok, p.Account)
	if err != nil {
		return err
	}
	p.Tokens[tok] = bal
	return nil
}

func label(labels []string, i int) string {
	if i < len(labels) {
		return labels[i]
	}
	return ""
}
