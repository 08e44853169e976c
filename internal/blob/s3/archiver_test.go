package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/store/memory"
)

type memBlob struct {
	objects map[string][]byte
	puts    int
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (b *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, jsonlContentType)
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (b *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func TestArchivePath(t *testing.T) {
	at := time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/questions/2026-10-14.jsonl", ArchivePath("questions", at))
}

func TestArchiveQuestions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newMemBlob()
	t0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	qid := common.HexToHash("0x01")
	require.NoError(t, store.Questions().Upsert(ctx, domain.Question{
		ID:         qid,
		CreatedAt:  t0,
		Resolution: &domain.Resolution{Method: domain.ResolvedByLiveness, FinalizedAt: t0.Add(time.Hour)},
	}, domain.StateFinalized))
	require.NoError(t, store.Questions().Upsert(ctx, domain.Question{ID: common.HexToHash("0x02"), CreatedAt: t0}, domain.StateCreated))
	require.NoError(t, store.Events().Insert(ctx, domain.Event{ID: "e1", Kind: domain.EventQuestionFinalized, QuestionID: qid}))

	a := NewArchiver(blob, blob, store.Questions(), store.Markets(), store.Events(), store.Audit())
	cutoff := t0.Add(24 * time.Hour)

	n, err := a.ArchiveQuestions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw := blob.objects[ArchivePath("questions", cutoff)]
	require.NotEmpty(t, raw)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	require.True(t, sc.Scan())
	var rec QuestionRecord
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	assert.Equal(t, qid, rec.Question.ID)
	require.Len(t, rec.Events, 1)
	assert.False(t, sc.Scan())

	entries, err := store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.questions", entries[0].Event)

	// A second run for the same day leaves the existing archive alone.
	n, err = a.ArchiveQuestions(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, blob.puts)
}

func TestArchiveMarketsSkipsOpen(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newMemBlob()
	t0 := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Markets().Upsert(ctx, domain.Market{
		Address: common.HexToAddress("0xa1"), Status: domain.MarketResolved, ResolvedAt: t0,
	}))
	require.NoError(t, store.Markets().Upsert(ctx, domain.Market{
		Address: common.HexToAddress("0xa2"), Status: domain.MarketCancelled, ResolvedAt: t0.Add(time.Minute),
	}))
	require.NoError(t, store.Markets().Upsert(ctx, domain.Market{
		Address: common.HexToAddress("0xa3"), Status: domain.MarketOpen,
	}))

	a := NewArchiver(blob, nil, store.Questions(), store.Markets(), nil, nil)
	n, err := a.ArchiveMarkets(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestArchiveNothingToWrite(t *testing.T) {
	store := memory.New()
	blob := newMemBlob()
	a := NewArchiver(blob, blob, store.Questions(), store.Markets(), store.Events(), store.Audit())

	n, err := a.ArchiveQuestions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, blob.puts)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://r2.example", endpointURL("https://r2.example", false))
}
