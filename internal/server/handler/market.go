package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	List(ctx context.Context, includeRemoved bool) ([]domain.Market, error)
	Get(ctx context.Context, addr common.Address) (domain.Market, error)
	Factories(ctx context.Context) ([]domain.FactoryInfo, error)
	Create(ctx context.Context, actor domain.Actor, req service.CreateMarketRequest) (service.CreateMarketResult, error)
}

// TradeService moves collateral in and out of markets.
type TradeService interface {
	Split(ctx context.Context, actor domain.Actor, m common.Address, amount *big.Int) (service.Result, error)
	Merge(ctx context.Context, actor domain.Actor, m common.Address, sets *big.Int) (service.Result, error)
	Redeem(ctx context.Context, actor domain.Actor, m common.Address, side service.RedeemSide, amount *big.Int) (service.Result, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	trades  TradeService
	events  EventLister
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. events may be nil.
func NewMarketHandler(markets MarketService, trades TradeService, events EventLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		trades:  trades,
		events:  events,
		logger:  logHandler(logger, "markets"),
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns listed markets, newest first, with pagination.
// Removed listings are included only with include_removed=true.
// GET /api/markets?limit=50&offset=0&include_removed=false
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	includeRemoved, _ := strconv.ParseBool(r.URL.Query().Get("include_removed"))

	markets, err := h.markets.List(r.Context(), includeRemoved)
	if err != nil {
		fail(h.logger, w, r, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page(markets, opts),
		Total:   len(markets),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market snapshot.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := h.markets.Get(r.Context(), addr)
	if err != nil {
		fail(h.logger, w, r, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// MarketEvents returns the event history of a market.
// GET /api/markets/{address}/events
func (h *MarketHandler) MarketEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	if h.events == nil {
		writeError(w, fmt.Errorf("%w: event log not configured", domain.ErrUnsupported))
		return
	}
	evs, err := h.events.ListByMarket(r.Context(), addr, parseListOpts(r))
	if err != nil {
		fail(h.logger, w, r, "market events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// ListFactories returns the configured market factories.
// GET /api/factories
func (h *MarketHandler) ListFactories(w http.ResponseWriter, r *http.Request) {
	fs, err := h.markets.Factories(r.Context())
	if err != nil {
		fail(h.logger, w, r, "list factories", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"factories": fs})
}

// createMarketBody is the wire form of a create request. Amounts are
// base-unit integers and durations Go duration strings.
type createMarketBody struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Template       string   `json:"template,omitempty"`
	Collateral     string   `json:"collateral,omitempty"`
	OutcomeNames   []string `json:"outcome_names,omitempty"`
	ScalarMin      string   `json:"scalar_min,omitempty"`
	ScalarMax      string   `json:"scalar_max,omitempty"`
	ScalarDecimals uint32   `json:"scalar_decimals,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
	BondMultiplier uint8    `json:"bond_multiplier,omitempty"`
	MaxRounds      uint8    `json:"max_rounds,omitempty"`
	OpeningTs      string   `json:"opening_ts,omitempty"`
	DataSource     string   `json:"data_source,omitempty"`
	Consumer       string   `json:"consumer,omitempty"`
}

func (b createMarketBody) request() (service.CreateMarketRequest, error) {
	var (
		req = service.CreateMarketRequest{
			Name:           b.Name,
			Template:       b.Template,
			OutcomeNames:   b.OutcomeNames,
			ScalarDecimals: b.ScalarDecimals,
			BondMultiplier: b.BondMultiplier,
			MaxRounds:      b.MaxRounds,
			DataSource:     b.DataSource,
		}
		err error
	)
	if req.Type, err = domain.ParseMarketType(b.Type); err != nil {
		return req, err
	}
	if b.Collateral != "" {
		if req.Collateral, err = domain.ParseAddress(b.Collateral); err != nil {
			return req, err
		}
	}
	if b.Consumer != "" {
		if req.Consumer, err = domain.ParseAddress(b.Consumer); err != nil {
			return req, err
		}
	}
	if b.ScalarMin != "" {
		if req.ScalarMin, err = domain.ParseUnits(b.ScalarMin, 0); err != nil {
			return req, err
		}
	}
	if b.ScalarMax != "" {
		if req.ScalarMax, err = domain.ParseUnits(b.ScalarMax, 0); err != nil {
			return req, err
		}
	}
	if b.Timeout != "" {
		if req.Timeout, err = time.ParseDuration(b.Timeout); err != nil {
			return req, fmt.Errorf("%w: timeout %q", domain.ErrInvalidInput, b.Timeout)
		}
	}
	if b.OpeningTs != "" {
		if req.OpeningTs, err = time.Parse(time.RFC3339, b.OpeningTs); err != nil {
			return req, fmt.Errorf("%w: opening_ts %q", domain.ErrInvalidInput, b.OpeningTs)
		}
	}
	return req, nil
}

// CreateMarket creates a question and the market bound to it. If the
// question is created but the market is not, the error body carries the
// orphaned question id.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
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
	res, err := h.markets.Create(r.Context(), actor(r), req)
	if err != nil {
		if id, ok := service.IsOrphan(err); ok {
			h.logger.WarnContext(r.Context(), "handler: market creation left orphan question",
				slog.String("question_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
		fail(h.logger, w, r, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type amountRequest struct {
	Amount string `json:"amount"`
	Side   string `json:"side,omitempty"`
}

// Split deposits collateral for full outcome sets.
// POST /api/markets/{address}/split {"amount": "1000"}
func (h *MarketHandler) Split(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "split", func(ctx context.Context, m common.Address, req amountRequest, amount *big.Int) (service.Result, error) {
		return h.trades.Split(ctx, actor(r), m, amount)
	})
}

// Merge burns full outcome sets for collateral.
// POST /api/markets/{address}/merge {"amount": "1000"}
func (h *MarketHandler) Merge(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "merge", func(ctx context.Context, m common.Address, req amountRequest, amount *big.Int) (service.Result, error) {
		return h.trades.Merge(ctx, actor(r), m, amount)
	})
}

// Redeem claims collateral from a resolved market. side is "outcome"
// (default), "long" or "short".
// POST /api/markets/{address}/redeem {"amount": "1000", "side": "long"}
func (h *MarketHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, "redeem", func(ctx context.Context, m common.Address, req amountRequest, amount *big.Int) (service.Result, error) {
		side, err := service.ParseRedeemSide(req.Side)
		if err != nil {
			return service.Result{}, err
		}
		return h.trades.Redeem(ctx, actor(r), m, side, amount)
	})
}

func (h *MarketHandler) trade(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, amountRequest, *big.Int) (service.Result, error)) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := fn(r.Context(), addr, req, amount)
	if err != nil {
		fail(h.logger, w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
