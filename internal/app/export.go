package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrArchiveDisabled is returned by ExportAudit when no report archive is
// configured.
var ErrArchiveDisabled = errors.New("app: s3 archive is not enabled")

// ExportAudit copies the audit entries of the UTC month containing month to
// the object store as JSONL. It wires its own dependencies and releases them on
// return, so it must not run against a pebble directory a node holds open.
func (a *App) ExportAudit(ctx context.Context, month time.Time) (int, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return 0, fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	if deps.Archiver == nil {
		return 0, ErrArchiveDisabled
	}
	n, err := deps.Archiver.ExportAudit(ctx, deps.AuditStore, month)
	if err != nil {
		return 0, err
	}
	a.logger.InfoContext(ctx, "audit exported",
		slog.Int("entries", n),
		slog.String("month", month.UTC().Format("2006-01")),
	)
	return n, nil
}
