package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
)

const chainID = 167012

// echoActor writes the attached actor address, or "anonymous".
var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		io.WriteString(w, "anonymous")
		return
	}
	io.WriteString(w, a.Address.Hex()+"@"+strconv.FormatUint(a.ChainID, 10))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActorHeaders(t *testing.T) {
	h := Actor(ActorConfig{})(echoActor)
	addr := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActor, addr.Hex())
	req.Header.Set(HeaderChainID, "167012")
	rec = serve(h, req)
	assert.Equal(t, addr.Hex()+"@167012", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActor, "0xnot-an-address")
	rec = serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid address: \"0xnot-an-address\"","category":"validation"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActor, addr.Hex())
	req.Header.Set(HeaderChainID, "hekla")
	rec = serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActorSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewSigner(key, chainID)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	h := Actor(ActorConfig{RequireSignature: true, MaxAge: time.Minute, Now: func() time.Time { return now }})(echoActor)

	signed := func(addr common.Address, s *crypto.Signer, ts time.Time) *http.Request {
		sig, err := s.SignMessage([]byte(SignInMessage(addr, chainID, ts.Unix())))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(HeaderActor, addr.Hex())
		req.Header.Set(HeaderChainID, strconv.Itoa(chainID))
		req.Header.Set(HeaderSignature, hexutil.Encode(sig))
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
		return req
	}

	rec := serve(h, signed(signer.Address(), signer, now.Add(-30*time.Second)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, signer.Address().Hex()+"@167012", rec.Body.String())

	rec = serve(h, signed(signer.Address(), signer, now.Add(-2*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature expired")

	// signed by a different key than the claimed address
	rec = serve(h, signed(signer.Address(), crypto.NewSigner(other, chainID), now))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not match")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderActor, signer.Address().Hex())
	rec = serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing wallet signature")

	// anonymous requests are still allowed through
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous", rec.Body.String())
}

type countingLimiter struct {
	keys  []string
	limit int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.keys = append(l.keys, key)
	n := 0
	for _, k := range l.keys {
		if k == key {
			n++
		}
	}
	return n <= limit, nil
}

func (l *countingLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := &countingLimiter{}
	h := Actor(ActorConfig{})(RateLimit(limiter, 2, time.Second, logger)(echoActor))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		assert.Equal(t, http.StatusOK, serve(h, req).Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"category":"transaction"`)

	// a signed-in caller has its own bucket
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set(HeaderActor, "0x00000000000000000000000000000000000a11ce")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
	assert.Equal(t, "ratelimit:api:actor:0x00000000000000000000000000000000000a11ce", limiter.keys[len(limiter.keys)-1])

	// limiter failures fail open
	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(nil, 10, time.Second, slog.Default())(echoActor)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.insightra.xyz"})(echoActor)

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.insightra.xyz")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.insightra.xyz", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))
}

var _ domain.RateLimiter = (*countingLimiter)(nil)
