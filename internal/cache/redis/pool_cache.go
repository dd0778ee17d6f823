package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// PoolCache implements domain.PoolCache. Snapshots are stored as JSON strings
// under rankpool:pool:{address} and expire after ttl.
type PoolCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PoolCache = (*PoolCache)(nil)

func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PoolCache{rdb: c.Underlying(), ttl: ttl}
}

func poolKey(addr common.Address) string {
	return "rankpool:pool:" + strings.ToLower(addr.Hex())
}

func (pc *PoolCache) Set(ctx context.Context, snap domain.PoolSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", snap.Address.Hex(), err)
	}
	if err := pc.rdb.Set(ctx, poolKey(snap.Address), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (pc *PoolCache) Get(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	data, err := pc.rdb.Get(ctx, poolKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PoolSnapshot{}, domain.ErrNotFound
		}
		return domain.PoolSnapshot{}, fmt.Errorf("redis: get pool %s: %w", addr.Hex(), err)
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("redis: unmarshal pool %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

func (pc *PoolCache) Invalidate(ctx context.Context, addr common.Address) error {
	if err := pc.rdb.Del(ctx, poolKey(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", addr.Hex(), err)
	}
	return nil
}
