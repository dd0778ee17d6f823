package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolCache provides fast snapshot lookups for the read API.
type PoolCache interface {
	Set(ctx context.Context, snap PoolSnapshot) error
	Get(ctx context.Context, addr common.Address) (PoolSnapshot, error)
	Invalidate(ctx context.Context, addr common.Address) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams for pool events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PoolChannel is the pub/sub channel a pool's events are published on.
func PoolChannel(addr common.Address) string {
	return "pool:" + addr.Hex()
}

// PoolStream is the durable stream a pool's events are appended to.
func PoolStream(addr common.Address) string {
	return "events:" + addr.Hex()
}

// RateLimiter is a shared request budget keyed by caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
