package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/service"
)

// AdminService is the privileged surface. The service applies the admin
// policy; the handler only parses and forwards.
type AdminService interface {
	IsAdmin(addr common.Address) bool
	RemoveListing(ctx context.Context, actor domain.Actor, m common.Address, reason string) (service.ModerationResult, error)
	RestoreListing(ctx context.Context, actor domain.Actor, m common.Address) (service.ModerationResult, error)
	SetDefaultRedeemFeeBps(ctx context.Context, actor domain.Actor, t domain.MarketType, bps uint16) (service.Result, error)
	CreateMarket(ctx context.Context, actor domain.Actor, req service.CreateMarketRequest) (service.CreateMarketResult, error)
	FinalizeMarket(ctx context.Context, actor domain.Actor, m common.Address) (service.Result, error)
	Rule(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, payee common.Address) (service.Result, error)
	SetOracleParams(ctx context.Context, actor domain.Actor, u service.OracleUpdate) error
	Cases(ctx context.Context, actor domain.Actor, openOnly bool) ([]arbitrator.Case, error)
	Audit(ctx context.Context, actor domain.Actor, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// QuestionReader resolves a question for outcome parsing.
type QuestionReader interface {
	Question(ctx context.Context, id common.Hash) (domain.Question, *big.Int, error)
}

// AdminHandler serves the moderation, ruling and parameter endpoints.
type AdminHandler struct {
	admin     AdminService
	questions QuestionReader
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, questions QuestionReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, questions: questions, logger: logHandler(logger, "admin")}
}

// Me reports whether the caller may use the admin endpoints, so the client
// can hide controls.
// GET /api/admin/me
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": a.Address,
		"admin":   a.Connected() && h.admin.IsAdmin(a.Address),
	})
}

// CreateMarket creates a market without the public creation fee.
// POST /api/admin/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var body createMarketBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.CreateMarket(r.Context(), actor(r), req)
	if err != nil {
		fail(h.logger, w, r, "admin create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type removeRequest struct {
	Reason string `json:"reason"`
}

// RemoveListing hides a market from listings on every factory that knows it.
// POST /api/admin/markets/{address}/remove {"reason": "spam"}
func (h *AdminHandler) RemoveListing(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	var req removeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.RemoveListing(r.Context(), actor(r), addr, req.Reason)
	if err != nil {
		fail(h.logger, w, r, "remove listing", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RestoreListing reverses RemoveListing.
// POST /api/admin/markets/{address}/restore
func (h *AdminHandler) RestoreListing(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.RestoreListing(r.Context(), actor(r), addr)
	if err != nil {
		fail(h.logger, w, r, "restore listing", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FinalizeMarket pulls the oracle outcome into a market.
// POST /api/admin/markets/{address}/finalize
func (h *AdminHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.FinalizeMarket(r.Context(), actor(r), addr)
	if err != nil {
		fail(h.logger, w, r, "finalize market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type feeRequest struct {
	Bps uint16 `json:"bps"`
}

// SetDefaultRedeemFee sets the redeem fee new markets of a type start with.
// PUT /api/admin/factories/{type}/fee {"bps": 100}
func (h *AdminHandler) SetDefaultRedeemFee(w http.ResponseWriter, r *http.Request) {
	t, err := domain.ParseMarketType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req feeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.SetDefaultRedeemFeeBps(r.Context(), actor(r), t, req.Bps)
	if err != nil {
		fail(h.logger, w, r, "set redeem fee", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ruleRequest struct {
	Outcome string `json:"outcome"`
	Payee   string `json:"payee,omitempty"`
}

// Rule submits the arbitrator's ruling on an escalated question.
// POST /api/admin/questions/{id}/rule {"outcome": "yes", "payee": "0x.."}
func (h *AdminHandler) Rule(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var payee common.Address
	if req.Payee != "" {
		if payee, err = domain.ParseAddress(req.Payee); err != nil {
			writeError(w, err)
			return
		}
	}
	q, _, err := h.questions.Question(r.Context(), id)
	if err != nil {
		fail(h.logger, w, r, "rule lookup", err)
		return
	}
	outcome, err := domain.ParseOutcome(q.Params.Type, req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.admin.Rule(r.Context(), actor(r), id, outcome, payee)
	if err != nil {
		fail(h.logger, w, r, "rule", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type oracleParamsRequest struct {
	QuestionFee string  `json:"question_fee,omitempty"`
	MinBaseBond string  `json:"min_base_bond,omitempty"`
	FeeBps      *uint16 `json:"fee_bps,omitempty"`
	Arbitrator  string  `json:"arbitrator,omitempty"`
}

// SetOracleParams changes owner-only oracle parameters. Omitted fields are
// left unchanged.
// PUT /api/admin/oracle
func (h *AdminHandler) SetOracleParams(w http.ResponseWriter, r *http.Request) {
	var req oracleParamsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		u   = service.OracleUpdate{FeeBps: req.FeeBps}
		err error
	)
	if u.QuestionFee, err = parseAmount(req.QuestionFee); err != nil {
		writeError(w, err)
		return
	}
	if u.MinBaseBond, err = parseAmount(req.MinBaseBond); err != nil {
		writeError(w, err)
		return
	}
	if req.Arbitrator != "" {
		addr, err := domain.ParseAddress(req.Arbitrator)
		if err != nil {
			writeError(w, err)
			return
		}
		u.Arbitrator = &addr
	}
	if u.Empty() {
		writeError(w, fmt.Errorf("%w: no oracle parameter given", domain.ErrInvalidInput))
		return
	}
	if err := h.admin.SetOracleParams(r.Context(), actor(r), u); err != nil {
		fail(h.logger, w, r, "set oracle params", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": u})
}

// ListCases returns arbitration cases, open ones only with open=true.
// GET /api/admin/cases?open=true
func (h *AdminHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	openOnly, _ := strconv.ParseBool(r.URL.Query().Get("open"))
	cases, err := h.admin.Cases(r.Context(), actor(r), openOnly)
	if err != nil {
		fail(h.logger, w, r, "list cases", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

// ListAudit returns the admin audit log, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.admin.Audit(r.Context(), actor(r), opts)
	if err != nil {
		fail(h.logger, w, r, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": opts.Limit, "offset": opts.Offset})
}
