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

// DefaultSecretTTL keeps reveal preimages for a week.
const DefaultSecretTTL = 7 * 24 * time.Hour

// SecretStore implements domain.SecretStore. A reporter's salt and outcome
// must survive restarts between commit and reveal; losing them forfeits the
// bond.
type SecretStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewSecretStore creates a SecretStore whose entries expire after ttl.
func NewSecretStore(c *Client, ttl time.Duration) *SecretStore {
	if ttl <= 0 {
		ttl = DefaultSecretTTL
	}
	return &SecretStore{rdb: c.Underlying(), ttl: ttl}
}

func secretKey(id common.Hash, reporter common.Address) string {
	return "insightra:secret:" + id.Hex() + ":" + reporter.Hex()
}

// Put stores s, replacing any previous secret for the same reporter.
func (ss *SecretStore) Put(ctx context.Context, s domain.RevealSecret) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal secret: %w", err)
	}
	if err := ss.rdb.Set(ctx, secretKey(s.QuestionID, s.Reporter), data, ss.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put secret %s: %w", s.QuestionID.Hex(), err)
	}
	return nil
}

// Get returns the reporter's secret or domain.ErrNotFound.
func (ss *SecretStore) Get(ctx context.Context, id common.Hash, reporter common.Address) (domain.RevealSecret, error) {
	data, err := ss.rdb.Get(ctx, secretKey(id, reporter)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RevealSecret{}, domain.ErrNotFound
		}
		return domain.RevealSecret{}, fmt.Errorf("redis: get secret %s: %w", id.Hex(), err)
	}
	var s domain.RevealSecret
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.RevealSecret{}, fmt.Errorf("redis: unmarshal secret %s: %w", id.Hex(), err)
	}
	return s, nil
}

// Delete removes the reporter's secret after a successful reveal.
func (ss *SecretStore) Delete(ctx context.Context, id common.Hash, reporter common.Address) error {
	if err := ss.rdb.Del(ctx, secretKey(id, reporter)).Err(); err != nil {
		return fmt.Errorf("redis: delete secret %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.SecretStore = (*SecretStore)(nil)
