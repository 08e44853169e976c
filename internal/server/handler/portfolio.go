package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// PortfolioService reads an account's balances and positions.
type PortfolioService interface {
	Portfolio(ctx context.Context, account common.Address) (domain.Portfolio, error)
	Positions(ctx context.Context, account, market common.Address) ([]domain.Position, error)
}

// PortfolioHandler serves account views.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logHandler(logger, "portfolio")}
}

// GetPortfolio returns token balances and every non-empty position.
// GET /api/portfolio/{account}
// GET /api/portfolio (the signed-in actor)
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	account, err := h.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.portfolio.Portfolio(r.Context(), account)
	if err != nil {
		fail(h.logger, w, r, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPositions returns the account's positions in one market, including
// empty ones.
// GET /api/portfolio/{account}/markets/{address}
func (h *PortfolioHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	account, err := h.account(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	ps, err := h.portfolio.Positions(r.Context(), account, m)
	if err != nil {
		fail(h.logger, w, r, "positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "market": m, "positions": ps})
}

func (h *PortfolioHandler) account(r *http.Request) (common.Address, error) {
	if v := r.PathValue("account"); v != "" {
		return domain.ParseAddress(v)
	}
	a := actor(r)
	if !a.Connected() {
		return common.Address{}, fmt.Errorf("portfolio: %w", domain.ErrNoWallet)
	}
	return a.Address, nil
}
