package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	State  *PoolState
	Since  *time.Time
	Until  *time.Time
	// Pool restricts audit listings to one pool.
	Pool *common.Address
	// Ascending lists audit entries oldest first.
	Ascending bool
}

// PoolStore persists pool snapshots. Save replaces the previous snapshot of
// the same address.
type PoolStore interface {
	SavePool(ctx context.Context, snap PoolSnapshot) error
	GetPool(ctx context.Context, addr common.Address) (PoolSnapshot, error)
	ListPools(ctx context.Context, opts ListOpts) ([]PoolSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Pool      common.Address `json:"pool"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditPool returns the pool an audit detail refers to, or the zero address.
func AuditPool(detail map[string]any) common.Address {
	switch v := detail["pool"].(type) {
	case common.Address:
		return v
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v)
		}
	}
	return common.Address{}
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AnswerStore persists oracle resolutions so they survive restarts.
type AnswerStore interface {
	SaveAnswer(ctx context.Context, questionID, answer common.Hash) error
	ListAnswers(ctx context.Context) (map[common.Hash]common.Hash, error)
}
