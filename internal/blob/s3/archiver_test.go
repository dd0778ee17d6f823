package s3blob

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.AuditEntry) int {
		if opts.Ascending {
			return cmp.Compare(a.ID, b.ID)
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func TestArchiveAndLoadReport(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs)

	pool := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	report := domain.SettlementReport{
		Pool:       pool,
		Name:       "cup",
		State:      domain.StateClaim,
		GrossPool:  big.NewInt(1000),
		TotalPrize: big.NewInt(900),
		FeePool:    big.NewInt(100),
		Ranking:    []domain.RankEntry{{TokenID: 2, Score: 3, Claimed: true}},
		Signature:  "0xsig",
	}

	path, err := a.Archive(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, "reports/0x00000000000000000000000000000000000000aa.json", path)

	_, err = a.Archive(ctx, report)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := a.Load(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "cup", got.Name)
	assert.Equal(t, int64(900), got.TotalPrize.Int64())
	assert.Equal(t, report.Ranking, got.Ranking)
	assert.Equal(t, "0xsig", got.Signature)

	_, err = a.Load(ctx, common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportAudit(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs)
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "pool_created", CreatedAt: march.Add(-time.Hour)},
		{ID: 2, Event: "pool_created", CreatedAt: march},
		{ID: 3, Event: "bet_placed", CreatedAt: march.Add(time.Hour)},
		{ID: 4, Event: "bet_placed", CreatedAt: march.AddDate(0, 1, 0).Add(-time.Nanosecond)},
		{ID: 5, Event: "bet_placed", CreatedAt: march.AddDate(0, 1, 0)},
	}}

	n, err := a.ExportAudit(ctx, audit, march.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"archive.audit"}, audit.logged)

	body, ok := blobs.objects["archive/audit/2025-03.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	var ids []int64
	for _, line := range lines {
		var e domain.AuditEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{2, 3, 4}, ids)
}

func TestMonthBounds(t *testing.T) {
	start, end := monthBounds(time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("X", -3*3600)))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestExportAuditEmpty(t *testing.T) {
	a := NewArchiver(newMemBlobs(), newMemBlobs())
	n, err := a.ExportAudit(context.Background(), &memAudit{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.local", normaliseEndpoint("https://s3.local", false))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
	assert.Equal(t, "https://10.0.0.1:9000", normaliseEndpoint("10.0.0.1:9000", true))
}
