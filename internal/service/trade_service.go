package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// TradeService moves collateral in and out of markets for a holder.
type TradeService struct {
	proto  Protocol
	logger *slog.Logger
}

// NewTradeService creates a TradeService.
func NewTradeService(proto Protocol, logger *slog.Logger) *TradeService {
	return &TradeService{
		proto:  proto,
		logger: logger.With(slog.String("component", "trade_service")),
	}
}

// Split approves amount of the market's collateral and mints one full
// outcome set per unit.
func (s *TradeService) Split(ctx context.Context, actor domain.Actor, addr common.Address, amount *big.Int) (Result, error) {
	var res Result
	if err := positive(amount); err != nil {
		return res, wrap("split", err)
	}
	m, err := s.proto.Market(ctx, addr)
	if err != nil {
		return res, wrap("split", err)
	}
	rec, err := s.proto.Approve(ctx, actor, m.Collateral, addr, amount)
	if err != nil {
		return res, wrap("approve collateral", err)
	}
	res.add(rec)
	rec, err = s.proto.Split(ctx, actor, addr, amount)
	if err != nil {
		return res, wrap("split", err)
	}
	res.add(rec)
	s.logger.InfoContext(ctx, "collateral split",
		slog.String("market", addr.Hex()),
		slog.String("holder", actor.Address.Hex()),
		slog.String("amount", amount.String()),
	)
	return res, nil
}

// Merge burns sets full outcome sets and returns their collateral.
func (s *TradeService) Merge(ctx context.Context, actor domain.Actor, addr common.Address, sets *big.Int) (Result, error) {
	var res Result
	if err := positive(sets); err != nil {
		return res, wrap("merge", err)
	}
	rec, err := s.proto.Merge(ctx, actor, addr, sets)
	if err != nil {
		return res, wrap("merge", err)
	}
	res.add(rec)
	return res, nil
}

// Redeem exchanges outcome tokens of a resolved market for collateral.
func (s *TradeService) Redeem(ctx context.Context, actor domain.Actor, addr common.Address, side RedeemSide, amount *big.Int) (Result, error) {
	var res Result
	if err := positive(amount); err != nil {
		return res, wrap("redeem", err)
	}
	rec, err := s.proto.Redeem(ctx, actor, addr, side, amount)
	if err != nil {
		return res, wrap("redeem", err)
	}
	res.add(rec)
	return res, nil
}

func positive(n *big.Int) error {
	if n == nil || n.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	return nil
}
