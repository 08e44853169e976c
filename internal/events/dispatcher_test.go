package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/store/memory"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, ch string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch] = append(b.published[ch], p)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, s string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[s] = append(b.streamed[s], p)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeCache struct {
	markets []common.Address
}

func (c *fakeCache) Set(context.Context, domain.Market) error { return nil }
func (c *fakeCache) Get(context.Context, common.Address) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (c *fakeCache) Invalidate(_ context.Context, a common.Address) error {
	c.markets = append(c.markets, a)
	return nil
}

type fakeQuestionCache struct{ ids []common.Hash }

func (c *fakeQuestionCache) Set(context.Context, domain.Question) error { return nil }
func (c *fakeQuestionCache) Get(context.Context, common.Hash) (domain.Question, error) {
	return domain.Question{}, domain.ErrNotFound
}
func (c *fakeQuestionCache) Invalidate(_ context.Context, id common.Hash) error {
	c.ids = append(c.ids, id)
	return nil
}

func TestEmitDropsWhenFull(t *testing.T) {
	d := NewDispatcher(2, quietLogger())
	for i := 0; i < 5; i++ {
		d.Emit(domain.Event{ID: "e", Kind: domain.EventSplit})
	}
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, int64(3), d.Dropped())
}

func TestRunFansOutInOrder(t *testing.T) {
	d := NewDispatcher(16, quietLogger())
	var mu sync.Mutex
	var seen []string
	record := func(name string) Handler {
		return func(_ context.Context, e domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+e.ID)
			return nil
		}
	}
	d.Register("a", record("a"))
	d.Register("failing", func(context.Context, domain.Event) error { return errors.New("boom") })
	d.Register("b", record("b"))

	d.Emit(domain.Event{ID: "1"})
	d.Emit(domain.Event{ID: "2"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, seen)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	d := NewDispatcher(8, quietLogger())
	n := 0
	d.Register("count", func(context.Context, domain.Event) error { n++; return nil })
	d.Emit(domain.Event{ID: "1"})
	d.Emit(domain.Event{ID: "2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Equal(t, 2, n)
	assert.Zero(t, d.Pending())
}

func TestPublishHandler(t *testing.T) {
	bus := newFakeBus()
	e := domain.Event{ID: "x", Kind: domain.EventRevealed, QuestionID: common.HexToHash("0x01")}
	require.NoError(t, Publish(bus, DefaultStream)(context.Background(), e))

	require.Len(t, bus.published["events:question.revealed"], 1)
	require.Len(t, bus.streamed[DefaultStream], 1)

	var got domain.Event
	require.NoError(t, json.Unmarshal(bus.published["events:question.revealed"][0], &got))
	assert.Equal(t, e.QuestionID, got.QuestionID)

	bus2 := newFakeBus()
	require.NoError(t, Publish(bus2, "")(context.Background(), e))
	assert.Empty(t, bus2.streamed)
}

func TestPersistHandlerIdempotent(t *testing.T) {
	store := memory.New()
	h := Persist(store.Events())
	e := domain.Event{ID: "dup", Kind: domain.EventSplit, Market: common.HexToAddress("0xa1")}
	require.NoError(t, h(context.Background(), e))
	require.NoError(t, h(context.Background(), e))

	got, err := store.Events().ListByMarket(context.Background(), e.Market, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInvalidateHandler(t *testing.T) {
	mc := &fakeCache{}
	qc := &fakeQuestionCache{}
	h := Invalidate(mc, qc)

	require.NoError(t, h(context.Background(), domain.Event{Kind: domain.EventOracleParamUpdated}))
	assert.Empty(t, mc.markets)
	assert.Empty(t, qc.ids)

	require.NoError(t, h(context.Background(), domain.Event{
		Market: common.HexToAddress("0xa1"), QuestionID: common.HexToHash("0x02"),
	}))
	assert.Equal(t, []common.Address{common.HexToAddress("0xa1")}, mc.markets)
	assert.Equal(t, []common.Hash{common.HexToHash("0x02")}, qc.ids)

	require.NoError(t, Invalidate(nil, nil)(context.Background(), domain.Event{Market: common.HexToAddress("0xa1")}))
}
