package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// QuestionCache implements domain.QuestionCache with JSON snapshots.
type QuestionCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewQuestionCache creates a QuestionCache whose entries expire after ttl.
func NewQuestionCache(c *Client, ttl time.Duration) *QuestionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &QuestionCache{rdb: c.Underlying(), ttl: ttl}
}

func questionKey(id common.Hash) string { return "insightra:question:" + id.Hex() }

// Set stores q. Finalized questions never change, so they are kept ten
// times longer than live ones.
func (qc *QuestionCache) Set(ctx context.Context, q domain.Question) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal question %s: %w", q.ID.Hex(), err)
	}
	ttl := qc.ttl
	if q.Resolution != nil {
		ttl *= 10
	}
	if err := qc.rdb.Set(ctx, questionKey(q.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set question %s: %w", q.ID.Hex(), err)
	}
	return nil
}

// Get returns the cached question or domain.ErrNotFound.
func (qc *QuestionCache) Get(ctx context.Context, id common.Hash) (domain.Question, error) {
	data, err := qc.rdb.Get(ctx, questionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Question{}, domain.ErrNotFound
		}
		return domain.Question{}, fmt.Errorf("redis: get question %s: %w", id.Hex(), err)
	}
	var q domain.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Question{}, fmt.Errorf("redis: unmarshal question %s: %w", id.Hex(), err)
	}
	return q, nil
}

// Invalidate drops the cached question.
func (qc *QuestionCache) Invalidate(ctx context.Context, id common.Hash) error {
	if err := qc.rdb.Del(ctx, questionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate question %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.QuestionCache = (*QuestionCache)(nil)
