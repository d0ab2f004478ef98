// Package worker consumes ledger events off the broker: it writes the
// per-trip audit trail and serves report export requests.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tripledger/internal/amqp"
	"tripledger/internal/calculator"
	"tripledger/internal/core"
	"tripledger/internal/export"
)

// Repository is the persistence surface the worker needs.
// Implemented by storage.Repository.
type Repository interface {
	AppendAudit(ctx context.Context, rec core.AuditRecord) error

	ListParticipants(ctx context.Context, tripID string) ([]core.Participant, error)
	ListExpenses(ctx context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error)
	FundBalance(ctx context.Context, tripID string) (core.Money, error)
	ListFundTransactions(ctx context.Context, tripID string) ([]core.FundTransaction, error)
	ListSettlements(ctx context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error)
}

// AuditWorker turns consumed ledger events into audit records and
// exported reports.
type AuditWorker struct {
	repo    Repository
	reports export.ReportWriter
}

// NewAuditWorker creates a worker. reports may be nil; report events
// are then acknowledged with a warning instead of failing redelivery
// forever.
func NewAuditWorker(repo Repository, reports export.ReportWriter) *AuditWorker {
	return &AuditWorker{repo: repo, reports: reports}
}

// HandleLedgerEvent processes a single consumed event. Returning an
// error requeues the delivery.
func (w *AuditWorker) HandleLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	slog.InfoContext(ctx, "processing ledger event",
		"kind", event.Kind,
		"trip_id", event.TripID,
		"entity_id", event.EntityID)

	if event.Kind == amqp.KindReportRequested {
		return w.exportReport(ctx, event)
	}

	rec := core.AuditRecord{
		TripID:     event.TripID,
		Kind:       event.Kind,
		EntityID:   event.EntityID,
		ActorID:    event.ActorID,
		Amount:     core.Money{Cents: event.AmountCents},
		OccurredAt: event.OccurredAt,
	}
	if err := w.repo.AppendAudit(ctx, rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (w *AuditWorker) exportReport(ctx context.Context, event *amqp.LedgerEvent) error {
	if w.reports == nil {
		slog.WarnContext(ctx, "no report writer configured, dropping report request",
			"trip_id", event.TripID)
		return nil
	}

	report, err := w.assembleReport(ctx, event.TripID)
	if err != nil {
		return fmt.Errorf("assemble report for trip %s: %w", event.TripID, err)
	}

	ref, err := w.reports.WriteReport(ctx, report)
	if err != nil {
		return fmt.Errorf("write report for trip %s: %w", event.TripID, err)
	}

	rec := core.AuditRecord{
		TripID:     event.TripID,
		Kind:       event.Kind,
		EntityID:   ref,
		ActorID:    event.ActorID,
		OccurredAt: event.OccurredAt,
	}
	if err := w.repo.AppendAudit(ctx, rec); err != nil {
		return fmt.Errorf("append report audit record: %w", err)
	}

	slog.InfoContext(ctx, "trip report delivered", "trip_id", event.TripID, "ref", ref)
	return nil
}

// assembleReport reads the trip's full ledger state and derives the
// balances the same way the API does.
func (w *AuditWorker) assembleReport(ctx context.Context, tripID string) (export.TripReport, error) {
	roster, err := w.repo.ListParticipants(ctx, tripID)
	if err != nil {
		return export.TripReport{}, fmt.Errorf("loading roster: %w", err)
	}
	expenses, err := w.repo.ListExpenses(ctx, tripID, core.FilterAll)
	if err != nil {
		return export.TripReport{}, fmt.Errorf("listing expenses: %w", err)
	}
	settlements, err := w.repo.ListSettlements(ctx, tripID, "")
	if err != nil {
		return export.TripReport{}, fmt.Errorf("listing settlements: %w", err)
	}
	fundBalance, err := w.repo.FundBalance(ctx, tripID)
	if err != nil {
		return export.TripReport{}, fmt.Errorf("loading fund balance: %w", err)
	}
	fundTxs, err := w.repo.ListFundTransactions(ctx, tripID)
	if err != nil {
		return export.TripReport{}, fmt.Errorf("listing fund transactions: %w", err)
	}

	return export.TripReport{
		TripID:           tripID,
		GeneratedAt:      time.Now().UTC(),
		Participants:     roster,
		Expenses:         expenses,
		Balances:         calculator.ComputeBalances(roster, expenses, settlements),
		FundBalance:      fundBalance,
		FundTransactions: fundTxs,
		Settlements:      settlements,
	}, nil
}
