package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

func TestObserveEvent(t *testing.T) {
	m := New()
	m.ObserveEvent(domain.Event{Kind: domain.EventRevealed, Amount: big.NewInt(20), Block: 15})
	m.ObserveEvent(domain.Event{Kind: domain.EventRevealed, Amount: big.NewInt(10)})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(domain.EventRevealed))))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.amounts.WithLabelValues(string(domain.EventRevealed))))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.indexedBlock))
}

func TestKeeperActionResult(t *testing.T) {
	m := New()
	m.KeeperAction("finalize", nil)
	m.KeeperAction("finalize", fmt.Errorf("wrap: %w", domain.ErrLivenessActive))
	m.KeeperAction("finalize", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperActions.WithLabelValues("finalize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperActions.WithLabelValues("finalize", "transaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keeperActions.WithLabelValues("finalize", "internal")))
}

func TestInstrumentAndHandler(t *testing.T) {
	m := New()
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/questions/0xabc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/questions/:id", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insightra_http_requests_total")
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/", CanonicalPath(""))
	assert.Equal(t, "/api/markets", CanonicalPath("/api/markets/"))
	assert.Equal(t, "/api/markets/:id/positions/:id", CanonicalPath("/api/markets/0xaa/positions/0xbb"))
}
