package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
)

// Request headers carrying the caller identity.
const (
	HeaderActor     = "X-Actor-Address"
	HeaderChainID   = "X-Chain-Id"
	HeaderSignature = "X-Actor-Signature"
	HeaderTimestamp = "X-Actor-Timestamp"
)

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor attached to ctx.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// SignInMessage is the personal_sign text that proves control of addr.
func SignInMessage(addr common.Address, chainID uint64, ts int64) string {
	return fmt.Sprintf("Insightra sign-in\nAddress: %s\nChain: %d\nTimestamp: %d", addr.Hex(), chainID, ts)
}

// ActorConfig controls how callers are identified.
type ActorConfig struct {
	// RequireSignature rejects an address header that is not backed by a
	// fresh personal_sign over SignInMessage.
	RequireSignature bool
	MaxAge           time.Duration
	Now              func() time.Time
}

// Actor returns middleware that reads the caller's wallet address and chain
// id from request headers and attaches them to the context. Requests
// without an address pass through anonymous; writes then fail with
// ErrNoWallet in the service layer.
func Actor(cfg ActorConfig) func(http.Handler) http.Handler {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderActor))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			addr, err := domain.ParseAddress(raw)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, err.Error(), domain.CategoryValidation)
				return
			}
			var chainID uint64
			if v := strings.TrimSpace(r.Header.Get(HeaderChainID)); v != "" {
				if chainID, err = strconv.ParseUint(v, 0, 64); err != nil {
					writeProblem(w, http.StatusBadRequest, "invalid chain id", domain.CategoryValidation)
					return
				}
			}
			if cfg.RequireSignature {
				if msg := verify(r, addr, chainID, cfg); msg != "" {
					writeProblem(w, http.StatusUnauthorized, msg, domain.CategoryAuthorization)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), domain.Actor{Address: addr, ChainID: chainID})))
		})
	}
}

// verify checks the signature headers. It returns a non-empty reason on
// failure.
func verify(r *http.Request, addr common.Address, chainID uint64, cfg ActorConfig) string {
	sigHex := strings.TrimSpace(r.Header.Get(HeaderSignature))
	tsRaw := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if sigHex == "" || tsRaw == "" {
		return "missing wallet signature"
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "invalid signature timestamp"
	}
	age := cfg.Now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > cfg.MaxAge {
		return "signature expired"
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return "invalid signature encoding"
	}
	signer, err := crypto.RecoverMessage([]byte(SignInMessage(addr, chainID, ts)), sig)
	if err != nil || signer != addr {
		return "signature does not match address"
	}
	return ""
}

// writeProblem sends a JSON error body in the same shape the handlers use.
func writeProblem(w http.ResponseWriter, status int, msg string, cat domain.ErrorCategory) {
	data, _ := json.Marshal(map[string]string{"error": msg, "category": string(cat)})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
