// Package notify delivers operator alerts about pool lifecycle milestones to
// Telegram and Discord. Alerts can be filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Alert names accepted by the events filter.
const (
	AlertPoolCreated      = "pool_created"
	AlertResultsAvailable = "results_available"
	AlertClaimOpen        = "claim_open"
	AlertTransferDeferred = "transfer_deferred"
	AlertPoolSettled      = "pool_settled"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. An empty events filter allows
// everything.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	decimals int32
	symbol   string
	logger   *slog.Logger
}

func NewNotifier(senders []Sender, events []string, decimals int, symbol string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		decimals: int32(decimals),
		symbol:   symbol,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title and message when the alert passes the filter.
func (n *Notifier) Notify(ctx context.Context, alert, title, message string) error {
	if len(n.events) > 0 && !n.events[alert] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("alert", alert))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// PoolEvents turns the events one operation emitted into alerts.
func (n *Notifier) PoolEvents(ctx context.Context, snap domain.PoolSnapshot, events []domain.Event) error {
	var errs []error
	for _, ev := range events {
		alert, title, msg := n.describe(snap, ev)
		if alert == "" {
			continue
		}
		if err := n.Notify(ctx, alert, title, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Settled announces an archived settlement report.
func (n *Notifier) Settled(ctx context.Context, report domain.SettlementReport, path string) error {
	return n.Notify(ctx, AlertPoolSettled,
		fmt.Sprintf("Pool settled: %s", report.Name),
		fmt.Sprintf("Pool %s paid %d transfers totalling %s. Report: %s",
			report.Pool.Hex(), len(report.Payouts), n.FormatAmount(sumPayouts(report.Payouts)), path),
	)
}

func (n *Notifier) describe(snap domain.PoolSnapshot, ev domain.Event) (alert, title, msg string) {
	switch ev.Type {
	case domain.EventPoolCreated:
		return AlertPoolCreated,
			fmt.Sprintf("New pool: %s", snap.Name),
			fmt.Sprintf("Pool %s opened with %d questions at %s per bet, closing %s.",
				snap.Address.Hex(), len(snap.Questions), n.FormatAmount(snap.Price), snap.ClosingTime.UTC().Format("2006-01-02 15:04 MST"))
	case domain.EventStateChanged:
		if ev.State == nil {
			return "", "", ""
		}
		switch *ev.State {
		case domain.StateSubmission:
			return AlertResultsAvailable,
				fmt.Sprintf("Results in: %s", snap.Name),
				fmt.Sprintf("Pool %s accepts ranking submissions until %s. Prize pool %s.",
					snap.Address.Hex(), submissionEnd(snap), n.FormatAmount(snap.TotalPrize()))
		case domain.StateClaim:
			return AlertClaimOpen,
				fmt.Sprintf("Claims open: %s", snap.Name),
				fmt.Sprintf("Pool %s finalised a ranking of %d bets.", snap.Address.Hex(), len(snap.Ranking))
		}
	case domain.EventTransferDeferred:
		return AlertTransferDeferred,
			"Payout deferred",
			fmt.Sprintf("Transfer of %s to %s from pool %s failed and is waiting for withdrawal.",
				n.FormatAmount(ev.Amount), ev.Account.Hex(), snap.Address.Hex())
	}
	return "", "", ""
}

func submissionEnd(snap domain.PoolSnapshot) string {
	if snap.SubmissionStart == nil {
		return "unknown"
	}
	return snap.SubmissionStart.Add(snap.SubmissionTimeout).UTC().Format("2006-01-02 15:04 MST")
}

func sumPayouts(payouts []domain.Payout) *big.Int {
	total := new(big.Int)
	for _, p := range payouts {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}

// FormatAmount renders a base-unit amount in display units, e.g. "1.5 ETH".
func (n *Notifier) FormatAmount(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	s := decimal.NewFromBigInt(v, -n.decimals).String()
	if n.symbol == "" {
		return s
	}
	return s + " " + n.symbol
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
