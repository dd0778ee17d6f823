package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// multipartThreshold is the export size above which PutMultipart is used.
const multipartThreshold = 8 << 20

// Archiver implements domain.ReportArchiver. Reports are written as JSON to
// reports/{pool}.json; audit exports go to archive/audit/YYYY-MM.jsonl.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

var _ domain.ReportArchiver = (*Archiver)(nil)

func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

func reportPath(pool common.Address) string {
	return "reports/" + strings.ToLower(pool.Hex()) + ".json"
}

// Archive uploads the report and returns its object path. Reports are
// immutable once written, so an existing object is left in place.
func (a *Archiver) Archive(ctx context.Context, report domain.SettlementReport) (string, error) {
	path := reportPath(report.Pool)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", report.Pool.Hex(), err)
	}
	if exists {
		return path, domain.ErrAlreadyExists
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", report.Pool.Hex(), err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", report.Pool.Hex(), err)
	}
	return path, nil
}

// Load fetches a previously archived report.
func (a *Archiver) Load(ctx context.Context, pool common.Address) (domain.SettlementReport, error) {
	body, err := a.reader.Get(ctx, reportPath(pool))
	if err != nil {
		return domain.SettlementReport{}, err
	}
	defer body.Close()

	var report domain.SettlementReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: decode report %s: %w", pool.Hex(), err)
	}
	return report, nil
}

// ExportAudit writes the audit entries of the calendar month (UTC) containing
// month as JSONL, oldest first, and returns the number exported. Re-running it
// for the same month rewrites the same object. The entries stay in the
// primary store.
func (a *Archiver) ExportAudit(ctx context.Context, audit domain.AuditStore, month time.Time) (int, error) {
	start, end := monthBounds(month)
	until := end.Add(-time.Nanosecond)
	entries, err := audit.List(ctx, domain.ListOpts{Since: &start, Until: &until, Ascending: true})
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit marshal: %w", err)
	}

	path := archivePath("audit", start)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit upload: %w", err)
	}

	if err := audit.Log(ctx, "archive.audit", map[string]any{
		"path":  path,
		"count": len(entries),
		"month": start.Format("2006-01"),
	}); err != nil {
		return len(entries), fmt.Errorf("s3blob: export audit log: %w", err)
	}
	return len(entries), nil
}

// monthBounds returns the first instant of the UTC month containing t and of
// the month after it.
func monthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// archivePath partitions exports by month:
//
//	archive/audit/2025-01.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

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
