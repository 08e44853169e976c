package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketCache provides fast market snapshot lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, addr common.Address) (Market, error)
	Invalidate(ctx context.Context, addr common.Address) error
}

// QuestionCache provides fast question snapshot lookups.
type QuestionCache interface {
	Set(ctx context.Context, q Question) error
	Get(ctx context.Context, id common.Hash) (Question, error)
	Invalidate(ctx context.Context, id common.Hash) error
}

// SecretStore keeps commit preimages until the reporter reveals.
type SecretStore interface {
	Put(ctx context.Context, s RevealSecret) error
	Get(ctx context.Context, id common.Hash, reporter common.Address) (RevealSecret, error)
	Delete(ctx context.Context, id common.Hash, reporter common.Address) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
