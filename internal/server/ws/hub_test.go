package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "sim", ChainID: 167012})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubSendsStatusThenEvents(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, "")

	env := read(t, conn)
	assert.Equal(t, "status", env.Type)
	assert.Contains(t, string(env.Payload), `"mode":"sim"`)

	e := domain.Event{Kind: domain.EventRevealed, QuestionID: common.HexToHash("0x01"), At: time.Unix(1_700_000_000, 0).UTC()}
	require.NoError(t, hub.Broadcast(context.Background(), e))

	env = read(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, "events:question.revealed", env.Channel)
	var got domain.Event
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, e.QuestionID, got.QuestionID)
}

func TestHubFiltersByChannel(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn := dial(t, srv, "?channels=events:market.*")
	assert.Equal(t, "status", read(t, conn).Type)

	ctx := context.Background()
	require.NoError(t, hub.Broadcast(ctx, domain.Event{Kind: domain.EventCommitted}))
	require.NoError(t, hub.Broadcast(ctx, domain.Event{Kind: domain.EventSplit, Market: common.HexToAddress("0x02")}))

	env := read(t, conn)
	assert.Equal(t, "events:market.split", env.Channel)
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHubForwardsBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	_, srv := startHub(t, bus)
	conn := dial(t, srv, "")
	assert.Equal(t, "status", read(t, conn).Type)

	payload, err := json.Marshal(domain.Event{Kind: domain.EventMarketFinalized, Market: common.HexToAddress("0x03")})
	require.NoError(t, err)
	bus.ch <- payload

	env := read(t, conn)
	assert.Equal(t, "events:market.finalized", env.Channel)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"events:question.*": true, "events:market.split": true}}
	assert.True(t, c.isSubscribed("events:question.revealed"))
	assert.True(t, c.isSubscribed("events:market.split"))
	assert.False(t, c.isSubscribed("events:market.merge"))
}
