package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
)

type recordSender struct {
	name   string
	alerts []Alert
	err    error
}

func (r *recordSender) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func revealedEvent() domain.Event {
	return domain.Event{
		ID:         "0xabc:3",
		Kind:       domain.EventRevealed,
		QuestionID: common.HexToHash("0x01"),
		Actor:      common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
		Amount:     big.NewInt(20_000_000),
		Attrs:      map[string]string{"outcome": "YES", "round": "2"},
		TxHash:     common.HexToHash("0xbeef"),
		At:         time.Unix(1_700_000_000, 0),
	}
}

func TestFilterPatterns(t *testing.T) {
	n := NewNotifier(nil, []string{"question.*", " market.finalized "}, Formatter{}, discardLogger())
	assert.True(t, n.Wants(domain.EventRevealed))
	assert.True(t, n.Wants(domain.EventMarketFinalized))
	assert.False(t, n.Wants(domain.EventSplit))

	all := NewNotifier(nil, nil, Formatter{}, discardLogger())
	assert.True(t, all.Wants(domain.EventSplit))
}

func TestNotifyEventFiltersAndFormats(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"question.*"}, Formatter{
		ExplorerURL: "https://explorer.example/", BondDecimals: 6, BondSymbol: "USDC",
	}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Kind: domain.EventSplit}))
	assert.Empty(t, s.alerts)

	require.NoError(t, n.NotifyEvent(ctx, revealedEvent()))
	require.Len(t, s.alerts, 1)
	a := s.alerts[0]
	assert.Equal(t, "Answer revealed", a.Title)
	assert.Contains(t, a.Text, "amount: 20 USDC")
	assert.Contains(t, a.Text, "outcome: YES")
	assert.Contains(t, a.Text, "by: 0x5aAe…eAed")
	assert.Contains(t, a.Text, "https://explorer.example/tx/"+common.HexToHash("0xbeef").Hex())
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, Formatter{}, discardLogger())

	err := n.NotifyAll(context.Background(), "keeper", "sweep failed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	require.Len(t, good.alerts, 1)
	assert.Equal(t, "ops", good.alerts[0].Kind)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), Alert{Title: "T", Text: "body"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*T*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Embeds []map[string]any `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Embeds, 1)
		if body.Embeds[0]["title"] == "fail" {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), Alert{Kind: "market.split", Title: "ok"}))

	err := s.Send(context.Background(), Alert{Title: "fail"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "429"))
}

func TestWebhookSenderSignsBody(t *testing.T) {
	verifier := crypto.NewWebhookSigner("s3cret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		err = verifier.Verify(body,
			r.Header.Get(crypto.HeaderWebhookTimestamp),
			r.Header.Get(crypto.HeaderWebhookSignature), time.Minute)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		var a Alert
		require.NoError(t, json.Unmarshal(body, &a))
		assert.Equal(t, string(domain.EventRevealed), a.Kind)
		require.NotNil(t, a.Event)
		assert.Equal(t, "0xabc:3", a.Event.ID)
	}))
	defer srv.Close()

	alert := Formatter{}.Event(revealedEvent())
	require.NoError(t, NewWebhookSender(srv.URL, "s3cret").Send(context.Background(), alert))
	require.Error(t, NewWebhookSender(srv.URL, "wrong").Send(context.Background(), alert))
}
