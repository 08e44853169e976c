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

// DefaultCacheTTL applies when a cache is built with a zero TTL.
const DefaultCacheTTL = 30 * time.Second

// MarketCache implements domain.MarketCache. Each market snapshot is a JSON
// string under insightra:market:{address}, plus a set per question so every
// market bound to a question can be dropped when that question finalizes.
type MarketCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewMarketCache creates a MarketCache whose entries expire after ttl.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(addr common.Address) string { return "insightra:market:" + addr.Hex() }

func questionMarketsKey(id common.Hash) string { return "insightra:question:" + id.Hex() + ":markets" }

// Set stores market and indexes it under its question.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Address.Hex(), err)
	}

	idx := questionMarketsKey(market.QuestionID)
	pipe := mc.rdb.TxPipeline()
	pipe.Set(ctx, marketKey(market.Address), data, mc.ttl)
	pipe.SAdd(ctx, idx, market.Address.Hex())
	pipe.Expire(ctx, idx, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, addr common.Address) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", addr.Hex(), err)
	}
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", addr.Hex(), err)
	}
	return m, nil
}

// Invalidate drops one market.
func (mc *MarketCache) Invalidate(ctx context.Context, addr common.Address) error {
	if err := mc.rdb.Del(ctx, marketKey(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", addr.Hex(), err)
	}
	return nil
}

// InvalidateQuestion drops every cached market bound to question id.
func (mc *MarketCache) InvalidateQuestion(ctx context.Context, id common.Hash) error {
	idx := questionMarketsKey(id)
	members, err := mc.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("redis: question %s markets: %w", id.Hex(), err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, marketKey(common.HexToAddress(m)))
	}
	keys = append(keys, idx)
	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate question %s markets: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
