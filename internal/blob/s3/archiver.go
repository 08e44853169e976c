package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/insightra/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archivePageSize  = 500
)

// QuestionRecord is one line of a question archive.
type QuestionRecord struct {
	Question domain.Question `json:"question"`
	Events   []domain.Event  `json:"events,omitempty"`
}

// MarketRecord is one line of a market archive.
type MarketRecord struct {
	Market domain.Market  `json:"market"`
	Events []domain.Event `json:"events,omitempty"`
}

// Archiver implements domain.Archiver. It exports finalized questions and
// settled markets, each with its event history, as JSONL files partitioned
// by cutoff day. Records stay in the primary store; an archive that already
// exists is not rewritten.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	questions domain.QuestionStore
	markets   domain.MarketStore
	events    domain.EventStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver. events and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	questions domain.QuestionStore,
	markets domain.MarketStore,
	events domain.EventStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		questions: questions,
		markets:   markets,
		events:    events,
		audit:     audit,
	}
}

// ArchiveQuestions writes every question finalized before the cutoff to
// archive/questions/YYYY-MM-DD.jsonl and returns the record count.
func (a *Archiver) ArchiveQuestions(ctx context.Context, before time.Time) (int64, error) {
	path := ArchivePath("questions", before)
	if done, err := a.exists(ctx, path); err != nil || done {
		return 0, err
	}

	var records []QuestionRecord
	for offset := 0; ; offset += archivePageSize {
		page, err := a.questions.ListFinalized(ctx, before, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive questions query: %w", err)
		}
		for _, q := range page {
			rec := QuestionRecord{Question: q}
			if a.events != nil {
				if rec.Events, err = a.events.ListByQuestion(ctx, q.ID, domain.ListOpts{}); err != nil {
					return 0, fmt.Errorf("s3blob: archive question %s events: %w", q.ID.Hex(), err)
				}
			}
			records = append(records, rec)
		}
		if len(page) < archivePageSize {
			break
		}
	}
	return upload(ctx, a, "archive.questions", path, before, records)
}

// ArchiveMarkets writes every market resolved or cancelled before the
// cutoff to archive/markets/YYYY-MM-DD.jsonl and returns the record count.
func (a *Archiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	path := ArchivePath("markets", before)
	if done, err := a.exists(ctx, path); err != nil || done {
		return 0, err
	}

	var records []MarketRecord
	for offset := 0; ; offset += archivePageSize {
		page, err := a.markets.ListSettled(ctx, before, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
		}
		for _, m := range page {
			rec := MarketRecord{Market: m}
			if a.events != nil {
				if rec.Events, err = a.events.ListByMarket(ctx, m.Address, domain.ListOpts{}); err != nil {
					return 0, fmt.Errorf("s3blob: archive market %s events: %w", m.Address.Hex(), err)
				}
			}
			records = append(records, rec)
		}
		if len(page) < archivePageSize {
			break
		}
	}
	return upload(ctx, a, "archive.markets", path, before, records)
}

func (a *Archiver) exists(ctx context.Context, path string) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: check archive %s: %w", path, err)
	}
	return ok, nil
}

func upload[T any](ctx context.Context, a *Archiver, event, path string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s marshal: %w", event, err)
	}
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s upload: %w", event, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, event, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: %s audit log: %w", event, err)
		}
	}
	return count, nil
}

// ArchivePath builds the object key for an archive of kind at the cutoff:
//
//	archive/questions/2026-10-14.jsonl
func ArchivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
