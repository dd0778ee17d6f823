package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// ReportSigner signs a settlement report, filling in its Signer field.
type ReportSigner interface {
	SignReport(report *domain.SettlementReport) (string, error)
}

// BuildReport assembles the settlement report of a snapshot.
func BuildReport(snap domain.PoolSnapshot, at time.Time) domain.SettlementReport {
	r := domain.SettlementReport{
		Pool:        snap.Address,
		Name:        snap.Name,
		State:       snap.State,
		GrossPool:   new(big.Int),
		TotalPrize:  new(big.Int),
		FeePool:     new(big.Int),
		Ranking:     slices.Clone(snap.Ranking),
		Payouts:     slices.Clone(snap.Payouts),
		GeneratedAt: at.UTC().Truncate(time.Second),
	}
	if snap.Fees != nil {
		r.GrossPool.Set(snap.Fees.GrossPool)
		r.TotalPrize.Set(snap.Fees.TotalPrize)
		r.FeePool.Set(snap.Fees.FeePool)
	}
	return r
}

// ArchiveReport signs and archives the report of a settled pool and records
// its path. A report already in the archive counts as archived.
func (s *PoolService) ArchiveReport(ctx context.Context, addr common.Address, signer ReportSigner, archiver domain.ReportArchiver) (string, error) {
	snap, err := s.Get(ctx, addr)
	if err != nil {
		return "", err
	}
	if snap.ReportPath != "" {
		return snap.ReportPath, nil
	}
	settled, err := s.Settled(addr)
	if err != nil {
		return "", err
	}
	if !settled {
		return "", fmt.Errorf("pool_service: report %s: %w", addr.Hex(), domain.ErrInvalidState)
	}

	report := BuildReport(snap, s.deps.Now())
	sig, err := signer.SignReport(&report)
	if err != nil {
		return "", fmt.Errorf("pool_service: sign report %s: %w", addr.Hex(), err)
	}
	report.Signature = sig

	path, err := archiver.Archive(ctx, report)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		s.logger.InfoContext(ctx, "report already archived", slog.String("pool", addr.Hex()))
	case err != nil:
		return "", fmt.Errorf("pool_service: archive report %s: %w", addr.Hex(), err)
	default:
		if s.deps.Notifier != nil {
			go func() {
				nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if err := s.deps.Notifier.Settled(nctx, report, path); err != nil {
					s.logger.WarnContext(nctx, "notify settled failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	err = s.mutate(ctx, addr, "archive_report", func(m *managed) error {
		m.reportPath = path
		_, err := s.commit(ctx, m, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "settlement report archived",
		slog.String("pool", addr.Hex()),
		slog.String("path", path),
		slog.Int("payouts", len(report.Payouts)),
	)
	return path, nil
}
