// Package services holds the application layer of the ledger: it owns
// the per-trip write lock, applies the workflow rules on top of the
// pure calculator package, and publishes ledger events after commits.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tripledger/internal/amqp"
	"tripledger/internal/calculator"
	"tripledger/internal/core"
	"tripledger/internal/log"
)

// Repository is the persistence surface the ledger needs. Implemented
// by storage.Repository; tests supply an in-memory fake.
type Repository interface {
	ReplaceParticipants(ctx context.Context, tripID string, participants []core.Participant) error
	ListParticipants(ctx context.Context, tripID string) ([]core.Participant, error)

	CreateExpense(ctx context.Context, e *core.Expense) error
	UpdateExpense(ctx context.Context, e *core.Expense) error
	SoftDeleteExpense(ctx context.Context, tripID, id string) error
	GetExpense(ctx context.Context, tripID, id string) (*core.Expense, error)
	ListExpenses(ctx context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error)

	AppendFundTransaction(ctx context.Context, t *core.FundTransaction) error
	FundBalance(ctx context.Context, tripID string) (core.Money, error)
	ListFundTransactions(ctx context.Context, tripID string) ([]core.FundTransaction, error)

	CreateSettlement(ctx context.Context, s *core.Settlement) error
	GetSettlement(ctx context.Context, tripID, id string) (*core.Settlement, error)
	UpdateSettlementStatus(ctx context.Context, s *core.Settlement) error
	ListSettlements(ctx context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error)
	HasPendingSettlement(ctx context.Context, tripID, fromUserID, toUserID string, amount core.Money) (bool, error)

	ListAudit(ctx context.Context, tripID string, limit int) ([]core.AuditRecord, error)
}

// EventPublisher pushes committed ledger events to the message broker.
// Implemented by amqp.Client. A nil publisher disables eventing.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event amqp.LedgerEvent) error
}

// ExpenseInput is the caller-facing shape of an expense mutation.
// For EQUAL splits only ParticipantID and Paid of each share are
// read; Share amounts are derived from the total.
type ExpenseInput struct {
	Date        time.Time
	Category    string
	Description string
	Total       core.Money
	Type        core.ExpenseType
	Split       core.SplitMethod
	Shares      []ShareInput
}

type ShareInput struct {
	ParticipantID string
	Share         core.Money
	Paid          core.Money
}

// FundOverview is the shared fund ledger with its current balance.
type FundOverview struct {
	Balance      core.Money
	Transactions []core.FundTransaction
}

// SettlementPlan is the suggested set of transfers that would zero out
// every balance, with the aggregate receivable and payable totals.
type SettlementPlan struct {
	Entries   []core.PlanEntry
	ToReceive core.Money
	ToPay     core.Money
}

type Ledger struct {
	repo      Repository
	publisher EventPublisher
	logger    *log.Logger
	locks     *tripLocks
}

func NewLedger(repo Repository, publisher EventPublisher, logger *log.Logger) *Ledger {
	return &Ledger{
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithComponent("ledger"),
		locks:     newTripLocks(),
	}
}

// ReplaceRoster swaps a trip's participant roster for the given one.
func (l *Ledger) ReplaceRoster(ctx context.Context, tripID string, participants []core.Participant) error {
	if len(participants) == 0 {
		return core.ErrInvalidParticipants
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.ID == "" || seen[p.ID] {
			return core.ErrInvalidParticipants
		}
		seen[p.ID] = true
	}

	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.repo.ReplaceParticipants(ctx, tripID, participants); err != nil {
		return fmt.Errorf("replacing roster: %w", err)
	}
	return nil
}

func (l *Ledger) Roster(ctx context.Context, tripID string) ([]core.Participant, error) {
	return l.repo.ListParticipants(ctx, tripID)
}

// RecordExpense validates and stores a new expense. EQUAL splits are
// expanded into per-participant shares with the remainder assigned to
// the first listed participant.
func (l *Ledger) RecordExpense(ctx context.Context, tripID, actorID string, in ExpenseInput) (*core.Expense, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	expense, err := l.buildExpense(ctx, tripID, actorID, in)
	if err != nil {
		return nil, err
	}
	expense.ID = uuid.NewString()
	expense.CreatedAt = time.Now().UTC()

	if err := l.repo.CreateExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("creating expense: %w", err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindExpenseRecorded, expense.ID, actorID, expense.Total.Cents))
	l.logger.InfoContext(ctx, "expense recorded",
		"trip_id", tripID, "expense_id", expense.ID, "amount_cents", expense.Total.Cents)
	return expense, nil
}

// EditExpense replaces an existing expense's content in full. The
// original creator and creation time are preserved.
func (l *Ledger) EditExpense(ctx context.Context, tripID, actorID, expenseID string, in ExpenseInput) (*core.Expense, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.repo.GetExpense(ctx, tripID, expenseID)
	if err != nil {
		return nil, err
	}

	expense, err := l.buildExpense(ctx, tripID, existing.CreatedBy, in)
	if err != nil {
		return nil, err
	}
	expense.ID = existing.ID
	expense.CreatedAt = existing.CreatedAt

	if err := l.repo.UpdateExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("updating expense: %w", err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindExpenseUpdated, expense.ID, actorID, expense.Total.Cents))
	return expense, nil
}

// DeleteExpense soft-deletes the expense so it no longer contributes
// to balances or statistics.
func (l *Ledger) DeleteExpense(ctx context.Context, tripID, actorID, expenseID string) error {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.repo.SoftDeleteExpense(ctx, tripID, expenseID); err != nil {
		return err
	}
	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindExpenseDeleted, expenseID, actorID, 0))
	return nil
}

func (l *Ledger) GetExpense(ctx context.Context, tripID, expenseID string) (*core.Expense, error) {
	return l.repo.GetExpense(ctx, tripID, expenseID)
}

func (l *Ledger) ListExpenses(ctx context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error) {
	return l.repo.ListExpenses(ctx, tripID, filter)
}

// buildExpense turns caller input into a validated core.Expense.
// Participants must all be on the trip roster.
func (l *Ledger) buildExpense(ctx context.Context, tripID, createdBy string, in ExpenseInput) (*core.Expense, error) {
	if len(in.Shares) == 0 {
		return nil, core.ErrInvalidParticipants
	}
	roster, err := l.repo.ListParticipants(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	onTrip := make(map[string]bool, len(roster))
	for _, p := range roster {
		onTrip[p.ID] = true
	}
	for _, s := range in.Shares {
		if !onTrip[s.ParticipantID] {
			return nil, core.ErrInvalidParticipants
		}
	}

	shares := make([]core.ExpenseShare, len(in.Shares))
	switch in.Split {
	case core.SplitEqual:
		parts, err := core.SplitEqually(in.Total, len(in.Shares))
		if err != nil {
			return nil, err
		}
		for i, s := range in.Shares {
			shares[i] = core.ExpenseShare{ParticipantID: s.ParticipantID, Share: parts[i], Paid: s.Paid}
		}
	case core.SplitCustom:
		amounts := make([]core.Money, len(in.Shares))
		for i, s := range in.Shares {
			amounts[i] = s.Share
		}
		if err := core.ValidateCustomSplit(in.Total, amounts); err != nil {
			return nil, err
		}
		for i, s := range in.Shares {
			shares[i] = core.ExpenseShare{ParticipantID: s.ParticipantID, Share: s.Share, Paid: s.Paid}
		}
	default:
		return nil, core.ErrInvalidSplit
	}

	expense := &core.Expense{
		TripID:      tripID,
		Date:        in.Date,
		Category:    in.Category,
		Description: in.Description,
		Total:       in.Total,
		Type:        in.Type,
		Split:       in.Split,
		Shares:      shares,
		CreatedBy:   createdBy,
	}
	if err := expense.Validate(); err != nil {
		return nil, err
	}
	return expense, nil
}

// Deposit records an equal per-person contribution into the shared
// fund as a single DEPOSIT entry of perPerson x count.
func (l *Ledger) Deposit(ctx context.Context, tripID, actorID string, perPerson core.Money, count int, description string) (*core.FundTransaction, error) {
	if count <= 0 {
		return nil, core.ErrInvalidParticipants
	}
	amount := core.Money{Cents: perPerson.Cents * int64(count)}

	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	tx := &core.FundTransaction{
		ID:          uuid.NewString(),
		TripID:      tripID,
		Type:        core.FundDeposit,
		Amount:      amount,
		Description: description,
		CreatedBy:   actorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	balance, err := l.repo.FundBalance(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading fund balance: %w", err)
	}
	tx.BalanceAfter = balance.Add(amount)

	if err := l.repo.AppendFundTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("appending fund deposit: %w", err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindFundDeposited, tx.ID, actorID, amount.Cents))
	l.logger.InfoContext(ctx, "fund deposit",
		"trip_id", tripID, "amount_cents", amount.Cents, "balance_cents", tx.BalanceAfter.Cents)
	return tx, nil
}

// SpendFromFund records a shared purchase paid out of the fund. The
// fund balance can never go negative.
func (l *Ledger) SpendFromFund(ctx context.Context, tripID, actorID string, amount core.Money, category, description string) (*core.FundTransaction, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	tx := &core.FundTransaction{
		ID:          uuid.NewString(),
		TripID:      tripID,
		Type:        core.FundExpense,
		Amount:      amount,
		Category:    category,
		Description: description,
		CreatedBy:   actorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	balance, err := l.repo.FundBalance(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading fund balance: %w", err)
	}
	if amount.Cents > balance.Cents {
		return nil, core.ErrInsufficientFunds
	}
	tx.BalanceAfter = balance.Sub(amount)

	if err := l.repo.AppendFundTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("appending fund expense: %w", err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindFundSpent, tx.ID, actorID, amount.Cents))
	return tx, nil
}

func (l *Ledger) Fund(ctx context.Context, tripID string) (*FundOverview, error) {
	balance, err := l.repo.FundBalance(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading fund balance: %w", err)
	}
	txs, err := l.repo.ListFundTransactions(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("listing fund transactions: %w", err)
	}
	return &FundOverview{Balance: balance, Transactions: txs}, nil
}

// Balances computes every participant's current position from the
// live expense ledger and approved settlements. The trip lock is held
// so the snapshot is internally consistent.
func (l *Ledger) Balances(ctx context.Context, tripID string) ([]core.BalanceSummary, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	roster, expenses, settlements, err := l.snapshot(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return calculator.ComputeBalances(roster, expenses, settlements), nil
}

// Plan derives the suggested settlement transfers from the current
// balances, marking entries already covered by a pending request.
func (l *Ledger) Plan(ctx context.Context, tripID string) (*SettlementPlan, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	roster, expenses, settlements, err := l.snapshot(ctx, tripID)
	if err != nil {
		return nil, err
	}
	balances := calculator.ComputeBalances(roster, expenses, settlements)
	entries := calculator.MarkRequested(calculator.PlanSettlement(balances), settlements)
	toReceive, toPay := calculator.PlanSummary(balances)
	return &SettlementPlan{Entries: entries, ToReceive: toReceive, ToPay: toPay}, nil
}

func (l *Ledger) snapshot(ctx context.Context, tripID string) ([]core.Participant, []core.Expense, []core.Settlement, error) {
	roster, err := l.repo.ListParticipants(ctx, tripID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading roster: %w", err)
	}
	expenses, err := l.repo.ListExpenses(ctx, tripID, core.FilterAll)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing expenses: %w", err)
	}
	settlements, err := l.repo.ListSettlements(ctx, tripID, "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listing settlements: %w", err)
	}
	return roster, expenses, settlements, nil
}

// RequestSettlement opens a PENDING settlement between two roster
// members. An identical open request is rejected as a duplicate.
func (l *Ledger) RequestSettlement(ctx context.Context, tripID, actorID, fromUserID, toUserID string, amount core.Money, memo string) (*core.Settlement, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	s := &core.Settlement{
		ID:          uuid.NewString(),
		TripID:      tripID,
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		Amount:      amount,
		Status:      core.SettlementPending,
		Memo:        memo,
		RequestedBy: actorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	roster, err := l.repo.ListParticipants(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	onTrip := make(map[string]bool, len(roster))
	for _, p := range roster {
		onTrip[p.ID] = true
	}
	if !onTrip[fromUserID] || !onTrip[toUserID] {
		return nil, core.ErrInvalidParticipants
	}

	dup, err := l.repo.HasPendingSettlement(ctx, tripID, fromUserID, toUserID, amount)
	if err != nil {
		return nil, fmt.Errorf("checking pending settlements: %w", err)
	}
	if dup {
		return nil, core.ErrDuplicateSettlement
	}

	if err := l.repo.CreateSettlement(ctx, s); err != nil {
		return nil, fmt.Errorf("creating settlement: %w", err)
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, amqp.KindSettlementRequested, s.ID, actorID, amount.Cents))
	l.logger.InfoContext(ctx, "settlement requested",
		"trip_id", tripID, "settlement_id", s.ID, "amount_cents", amount.Cents)
	return s, nil
}

// ApproveSettlement confirms receipt of the money. Only the creditor
// may approve, and only while the settlement is pending.
func (l *Ledger) ApproveSettlement(ctx context.Context, tripID, actorID, settlementID string) (*core.Settlement, error) {
	return l.resolve(ctx, tripID, actorID, settlementID, core.SettlementApproved, amqp.KindSettlementApproved, "")
}

// RejectSettlement declines the request. Only the creditor may reject;
// an optional reason overwrites the settlement's memo.
func (l *Ledger) RejectSettlement(ctx context.Context, tripID, actorID, settlementID, reason string) (*core.Settlement, error) {
	return l.resolve(ctx, tripID, actorID, settlementID, core.SettlementRejected, amqp.KindSettlementRejected, reason)
}

// CancelSettlement withdraws a pending request. Only the original
// requester may cancel.
func (l *Ledger) CancelSettlement(ctx context.Context, tripID, actorID, settlementID string) (*core.Settlement, error) {
	return l.resolve(ctx, tripID, actorID, settlementID, core.SettlementCancelled, amqp.KindSettlementCancelled, "")
}

func (l *Ledger) resolve(ctx context.Context, tripID, actorID, settlementID string, status core.SettlementStatus, eventKind, reason string) (*core.Settlement, error) {
	lock := l.locks.get(tripID)
	lock.Lock()
	defer lock.Unlock()

	s, err := l.repo.GetSettlement(ctx, tripID, settlementID)
	if err != nil {
		return nil, err
	}
	switch status {
	case core.SettlementCancelled:
		if actorID != s.RequestedBy {
			return nil, core.ErrForbidden
		}
	default:
		if actorID != s.ToUserID {
			return nil, core.ErrForbidden
		}
	}
	if s.Status != core.SettlementPending {
		return nil, core.ErrInvalidState
	}

	now := time.Now().UTC()
	s.Status = status
	s.CompletedAt = &now
	if reason != "" {
		s.Memo = reason
	}
	if err := l.repo.UpdateSettlementStatus(ctx, s); err != nil {
		return nil, err
	}

	l.publish(ctx, amqp.NewLedgerEvent(tripID, eventKind, s.ID, actorID, s.Amount.Cents))
	l.logger.InfoContext(ctx, "settlement resolved",
		"trip_id", tripID, "settlement_id", s.ID, "status", string(status))
	return s, nil
}

func (l *Ledger) ListSettlements(ctx context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error) {
	return l.repo.ListSettlements(ctx, tripID, status)
}

// Statistics aggregates the trip's spending for one participant's
// point of view.
func (l *Ledger) Statistics(ctx context.Context, tripID, participantID string) (*calculator.Statistics, error) {
	roster, err := l.repo.ListParticipants(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	expenses, err := l.repo.ListExpenses(ctx, tripID, core.FilterAll)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	stats := calculator.BuildStatistics(roster, expenses, participantID)
	return &stats, nil
}

func (l *Ledger) Audit(ctx context.Context, tripID string, limit int) ([]core.AuditRecord, error) {
	return l.repo.ListAudit(ctx, tripID, limit)
}

// RequestReport asks the worker to export the trip's ledger. The
// heavy lifting happens off the request path.
func (l *Ledger) RequestReport(ctx context.Context, tripID, actorID string) error {
	if l.publisher == nil {
		return fmt.Errorf("report export is not configured")
	}
	event := amqp.NewLedgerEvent(tripID, amqp.KindReportRequested, "", actorID, 0)
	if err := l.publisher.PublishLedgerEvent(ctx, event); err != nil {
		return fmt.Errorf("requesting report: %w", err)
	}
	return nil
}

// publish sends a ledger event after a successful commit. Failures
// are logged and swallowed; the broker is not on the write path.
func (l *Ledger) publish(ctx context.Context, event amqp.LedgerEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishLedgerEvent(ctx, event); err != nil {
		l.logger.WarnContext(ctx, "ledger event publish failed",
			"kind", event.Kind, "trip_id", event.TripID, "error", err)
	}
}
