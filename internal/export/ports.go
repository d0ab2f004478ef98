// Package export defines the outbound ports for trip report delivery.
package export

import (
	"context"
	"time"

	"tripledger/internal/core"
)

// TripReport is the assembled snapshot of one trip's ledger, ready to
// be written to an external destination.
type TripReport struct {
	TripID      string
	GeneratedAt time.Time

	Participants     []core.Participant
	Expenses         []core.Expense
	Balances         []core.BalanceSummary
	FundBalance      core.Money
	FundTransactions []core.FundTransaction
	Settlements      []core.Settlement
}

// ReportWriter delivers a trip report to its destination.
type ReportWriter interface {
	// WriteReport exports the report and returns a destination
	// reference (sheet range, file path) for the audit trail.
	WriteReport(ctx context.Context, report TripReport) (ref string, err error)
}
