package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Payout is one value transfer recorded in a settlement report.
type Payout struct {
	Kind    EventType      `json:"kind"`
	Account common.Address `json:"account"`
	TokenID *uint64        `json:"token_id,omitempty"`
	Amount  *big.Int       `json:"amount"`
}

// SettlementReport is the final ranking and payout record of a pool, signed
// by the operator key.
type SettlementReport struct {
	Pool        common.Address `json:"pool"`
	Name        string         `json:"name"`
	State       PoolState      `json:"state"`
	GrossPool   *big.Int       `json:"gross_pool"`
	TotalPrize  *big.Int       `json:"total_prize"`
	FeePool     *big.Int       `json:"fee_pool"`
	Ranking     []RankEntry    `json:"ranking"`
	Payouts     []Payout       `json:"payouts"`
	GeneratedAt time.Time      `json:"generated_at"`
	Signer      common.Address `json:"signer"`
	Signature   string         `json:"signature,omitempty"`
}

// ReportArchiver stores signed settlement reports in cold storage.
type ReportArchiver interface {
	Archive(ctx context.Context, report SettlementReport) (string, error)
	Load(ctx context.Context, pool common.Address) (SettlementReport, error)
}
