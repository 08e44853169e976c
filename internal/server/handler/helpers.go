package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/chain"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/server/middleware"
	"github.com/alanyoungcy/insightra/internal/service"
)

const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","category":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error      string               `json:"error"`
	Category   domain.ErrorCategory `json:"category"`
	QuestionID string               `json:"question_id,omitempty"`
}

// StatusFor maps an error to the HTTP status of its category.
func StatusFor(err error) int {
	switch domain.Category(err) {
	case domain.CategoryConnection:
		switch {
		case errors.Is(err, domain.ErrNoWallet):
			return http.StatusUnauthorized
		case errors.Is(err, domain.ErrWrongChain):
			return http.StatusConflict
		default:
			return http.StatusBadGateway
		}
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryValidation:
		if errors.Is(err, domain.ErrUnsupported) {
			return http.StatusNotImplemented
		}
		return http.StatusBadRequest
	case domain.CategoryNotFound:
		return http.StatusNotFound
	case domain.CategoryTransaction:
		if errors.Is(err, domain.ErrRateLimited) {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err as {"error", "category"}. Internal errors are hidden
// behind a generic message.
func writeError(w http.ResponseWriter, err error) {
	cat := domain.Category(err)
	body := errorBody{Error: chain.ShortMessage(err), Category: cat}
	if cat == domain.CategoryInternal {
		body.Error = "internal server error"
	}
	if id, ok := service.IsOrphan(err); ok {
		body.QuestionID = id.Hex()
	}
	writeJSON(w, StatusFor(err), body)
}

// fail logs err and writes it. Expected caller errors log at debug.
func fail(logger *slog.Logger, w http.ResponseWriter, r *http.Request, op string, err error) {
	if domain.Category(err) == domain.CategoryInternal {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	} else {
		logger.DebugContext(r.Context(), "handler: "+op+" rejected",
			slog.String("category", string(domain.Category(err))),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v unset.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// page slices items by opts.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func pathHash(r *http.Request, name string) (common.Hash, error) {
	return domain.ParseHash32(r.PathValue(name))
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return domain.ParseAddress(r.PathValue(name))
}

// parseAmount reads a base-unit integer. An empty string yields nil.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return domain.ParseUnits(s, 0)
}

// actor is the caller identity the actor middleware attached, or the zero
// actor for anonymous requests.
func actor(r *http.Request) domain.Actor {
	a, _ := middleware.ActorFrom(r.Context())
	return a
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
