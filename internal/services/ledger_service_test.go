package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tripledger/internal/amqp"
	"tripledger/internal/core"
	"tripledger/internal/log"
)

func quietLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

type fakeRepo struct {
	participants map[string][]core.Participant
	expenses     []core.Expense
	fund         []core.FundTransaction
	settlements  []core.Settlement
	audit        []core.AuditRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{participants: make(map[string][]core.Participant)}
}

func (f *fakeRepo) ReplaceParticipants(_ context.Context, tripID string, ps []core.Participant) error {
	f.participants[tripID] = append([]core.Participant(nil), ps...)
	return nil
}

func (f *fakeRepo) ListParticipants(_ context.Context, tripID string) ([]core.Participant, error) {
	return f.participants[tripID], nil
}

func (f *fakeRepo) CreateExpense(_ context.Context, e *core.Expense) error {
	f.expenses = append(f.expenses, *e)
	return nil
}

func (f *fakeRepo) UpdateExpense(_ context.Context, e *core.Expense) error {
	for i := range f.expenses {
		if f.expenses[i].ID == e.ID && !f.expenses[i].Deleted {
			f.expenses[i] = *e
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeRepo) SoftDeleteExpense(_ context.Context, tripID, id string) error {
	for i := range f.expenses {
		if f.expenses[i].TripID == tripID && f.expenses[i].ID == id && !f.expenses[i].Deleted {
			f.expenses[i].Deleted = true
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeRepo) GetExpense(_ context.Context, tripID, id string) (*core.Expense, error) {
	for i := range f.expenses {
		if f.expenses[i].TripID == tripID && f.expenses[i].ID == id && !f.expenses[i].Deleted {
			e := f.expenses[i]
			return &e, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeRepo) ListExpenses(_ context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error) {
	var out []core.Expense
	for _, e := range f.expenses {
		if e.TripID != tripID || e.Deleted {
			continue
		}
		switch filter {
		case core.FilterPersonal:
			if e.Type != core.ExpensePersonal {
				continue
			}
		case core.FilterShared:
			if e.Type == core.ExpensePersonal {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeRepo) AppendFundTransaction(_ context.Context, t *core.FundTransaction) error {
	f.fund = append(f.fund, *t)
	return nil
}

func (f *fakeRepo) FundBalance(_ context.Context, tripID string) (core.Money, error) {
	for i := len(f.fund) - 1; i >= 0; i-- {
		if f.fund[i].TripID == tripID {
			return f.fund[i].BalanceAfter, nil
		}
	}
	return core.Money{}, nil
}

func (f *fakeRepo) ListFundTransactions(_ context.Context, tripID string) ([]core.FundTransaction, error) {
	var out []core.FundTransaction
	for i := len(f.fund) - 1; i >= 0; i-- {
		if f.fund[i].TripID == tripID {
			out = append(out, f.fund[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateSettlement(_ context.Context, s *core.Settlement) error {
	f.settlements = append(f.settlements, *s)
	return nil
}

func (f *fakeRepo) GetSettlement(_ context.Context, tripID, id string) (*core.Settlement, error) {
	for i := range f.settlements {
		if f.settlements[i].TripID == tripID && f.settlements[i].ID == id {
			s := f.settlements[i]
			return &s, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeRepo) UpdateSettlementStatus(_ context.Context, s *core.Settlement) error {
	for i := range f.settlements {
		if f.settlements[i].ID == s.ID {
			if f.settlements[i].Status != core.SettlementPending {
				return core.ErrInvalidState
			}
			f.settlements[i] = *s
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeRepo) ListSettlements(_ context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error) {
	var out []core.Settlement
	for _, s := range f.settlements {
		if s.TripID != tripID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRepo) HasPendingSettlement(_ context.Context, tripID, from, to string, amount core.Money) (bool, error) {
	for _, s := range f.settlements {
		if s.TripID == tripID && s.Status == core.SettlementPending &&
			s.FromUserID == from && s.ToUserID == to && s.Amount == amount {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListAudit(_ context.Context, tripID string, limit int) ([]core.AuditRecord, error) {
	return f.audit, nil
}

type capturingPublisher struct {
	events []amqp.LedgerEvent
}

func (p *capturingPublisher) PublishLedgerEvent(_ context.Context, e amqp.LedgerEvent) error {
	p.events = append(p.events, e)
	return nil
}

func newTestLedger(t *testing.T) (*Ledger, *fakeRepo, *capturingPublisher) {
	t.Helper()
	repo := newFakeRepo()
	pub := &capturingPublisher{}
	ledger := NewLedger(repo, pub, quietLogger())

	err := ledger.ReplaceRoster(context.Background(), "trip-1", []core.Participant{
		{ID: "a", DisplayName: "Ada"},
		{ID: "b", DisplayName: "Ben"},
		{ID: "c", DisplayName: "Cleo"},
	})
	if err != nil {
		t.Fatalf("seeding roster: %v", err)
	}
	return ledger, repo, pub
}

func equalShares(ids []string, payer string, paid int64) []ShareInput {
	shares := make([]ShareInput, len(ids))
	for i, id := range ids {
		shares[i] = ShareInput{ParticipantID: id}
		if id == payer {
			shares[i].Paid = core.Money{Cents: paid}
		}
	}
	return shares
}

func TestRecordExpenseEqualSplit(t *testing.T) {
	ledger, repo, pub := newTestLedger(t)
	ctx := context.Background()

	in := ExpenseInput{
		Date:     time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Category: "food",
		Total:    core.Money{Cents: 100},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "b", "c"}, "a", 100),
	}
	e, err := ledger.RecordExpense(ctx, "trip-1", "a", in)
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated id")
	}
	if got := e.Shares[0].Share.Cents; got != 34 {
		t.Errorf("first share carries remainder: got %d, want 34", got)
	}
	if e.Shares[1].Share.Cents != 33 || e.Shares[2].Share.Cents != 33 {
		t.Errorf("unexpected tail shares: %+v", e.Shares)
	}
	if len(repo.expenses) != 1 {
		t.Fatalf("expected 1 stored expense, got %d", len(repo.expenses))
	}
	if len(pub.events) != 1 || pub.events[0].Kind != amqp.KindExpenseRecorded {
		t.Errorf("expected one expense.recorded event, got %+v", pub.events)
	}
}

func TestRecordExpenseRejectsUnknownParticipant(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "food",
		Total:    core.Money{Cents: 100},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "zed"}, "a", 100),
	}
	_, err := ledger.RecordExpense(context.Background(), "trip-1", "a", in)
	if !errors.Is(err, core.ErrInvalidParticipants) {
		t.Fatalf("expected ErrInvalidParticipants, got %v", err)
	}
}

func TestRecordExpenseRejectsCustomSplitDrift(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "food",
		Total:    core.Money{Cents: 100},
		Type:     core.ExpenseShared,
		Split:    core.SplitCustom,
		Shares: []ShareInput{
			{ParticipantID: "a", Share: core.Money{Cents: 60}, Paid: core.Money{Cents: 100}},
			{ParticipantID: "b", Share: core.Money{Cents: 50}},
		},
	}
	_, err := ledger.RecordExpense(context.Background(), "trip-1", "a", in)
	if !errors.Is(err, core.ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestEditExpensePreservesCreator(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "food",
		Total:    core.Money{Cents: 100},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "b"}, "a", 100),
	}
	e, err := ledger.RecordExpense(ctx, "trip-1", "a", in)
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}

	in.Total = core.Money{Cents: 200}
	in.Shares = equalShares([]string{"a", "b"}, "b", 200)
	updated, err := ledger.EditExpense(ctx, "trip-1", "b", e.ID, in)
	if err != nil {
		t.Fatalf("EditExpense: %v", err)
	}
	if updated.CreatedBy != "a" {
		t.Errorf("creator changed on edit: got %q", updated.CreatedBy)
	}
	if repo.expenses[0].Total.Cents != 200 {
		t.Errorf("total not persisted: got %d", repo.expenses[0].Total.Cents)
	}
}

func TestDeleteExpenseRemovesFromBalances(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "food",
		Total:    core.Money{Cents: 90},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "b", "c"}, "a", 90),
	}
	e, err := ledger.RecordExpense(ctx, "trip-1", "a", in)
	if err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if err := ledger.DeleteExpense(ctx, "trip-1", "a", e.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}

	balances, err := ledger.Balances(ctx, "trip-1")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	for _, b := range balances {
		if b.Net.Cents != 0 {
			t.Errorf("participant %s has non-zero net %d after delete", b.ParticipantID, b.Net.Cents)
		}
	}
}

func TestFundDepositAndSpend(t *testing.T) {
	ledger, _, pub := newTestLedger(t)
	ctx := context.Background()

	dep, err := ledger.Deposit(ctx, "trip-1", "a", core.Money{Cents: 5000}, 3, "kitty")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if dep.Amount.Cents != 15000 {
		t.Errorf("deposit amount: got %d, want 15000", dep.Amount.Cents)
	}
	if dep.BalanceAfter.Cents != 15000 {
		t.Errorf("balance after deposit: got %d", dep.BalanceAfter.Cents)
	}

	spend, err := ledger.SpendFromFund(ctx, "trip-1", "b", core.Money{Cents: 4000}, "food", "group dinner")
	if err != nil {
		t.Fatalf("SpendFromFund: %v", err)
	}
	if spend.BalanceAfter.Cents != 11000 {
		t.Errorf("balance after spend: got %d", spend.BalanceAfter.Cents)
	}

	_, err = ledger.SpendFromFund(ctx, "trip-1", "b", core.Money{Cents: 20000}, "food", "too much")
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	overview, err := ledger.Fund(ctx, "trip-1")
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if overview.Balance.Cents != 11000 {
		t.Errorf("fund balance: got %d, want 11000", overview.Balance.Cents)
	}
	if len(overview.Transactions) != 2 {
		t.Errorf("expected 2 fund transactions, got %d", len(overview.Transactions))
	}

	var kinds []string
	for _, e := range pub.events {
		kinds = append(kinds, e.Kind)
	}
	want := []string{amqp.KindFundDeposited, amqp.KindFundSpent}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("unexpected event kinds %v", kinds)
	}
}

func TestSettlementWorkflow(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	s, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 3000}, "dinner share")
	if err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}
	if s.Status != core.SettlementPending {
		t.Fatalf("new settlement status: got %s", s.Status)
	}

	t.Run("duplicate pending rejected", func(t *testing.T) {
		_, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 3000}, "")
		if !errors.Is(err, core.ErrDuplicateSettlement) {
			t.Fatalf("expected ErrDuplicateSettlement, got %v", err)
		}
	})

	t.Run("debtor cannot approve", func(t *testing.T) {
		_, err := ledger.ApproveSettlement(ctx, "trip-1", "b", s.ID)
		if !errors.Is(err, core.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("creditor approves", func(t *testing.T) {
		approved, err := ledger.ApproveSettlement(ctx, "trip-1", "a", s.ID)
		if err != nil {
			t.Fatalf("ApproveSettlement: %v", err)
		}
		if approved.Status != core.SettlementApproved {
			t.Errorf("status: got %s", approved.Status)
		}
		if approved.CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
	})

	t.Run("approve is terminal", func(t *testing.T) {
		_, err := ledger.ApproveSettlement(ctx, "trip-1", "a", s.ID)
		if !errors.Is(err, core.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestCancelSettlementRequesterOnly(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	s, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 500}, "")
	if err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}

	if _, err := ledger.CancelSettlement(ctx, "trip-1", "a", s.ID); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("creditor cancel: expected ErrForbidden, got %v", err)
	}
	cancelled, err := ledger.CancelSettlement(ctx, "trip-1", "b", s.ID)
	if err != nil {
		t.Fatalf("CancelSettlement: %v", err)
	}
	if cancelled.Status != core.SettlementCancelled {
		t.Errorf("status: got %s", cancelled.Status)
	}
}

func TestRejectSettlementStoresReason(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()

	s, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 500}, "cash after dinner")
	if err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}

	rejected, err := ledger.RejectSettlement(ctx, "trip-1", "a", s.ID, "never received it")
	if err != nil {
		t.Fatalf("RejectSettlement: %v", err)
	}
	if rejected.Status != core.SettlementRejected {
		t.Errorf("status: got %s", rejected.Status)
	}
	if rejected.Memo != "never received it" {
		t.Errorf("memo: got %q, want creditor's reason", rejected.Memo)
	}

	stored, err := repo.GetSettlement(ctx, "trip-1", s.ID)
	if err != nil {
		t.Fatalf("GetSettlement: %v", err)
	}
	if stored.Memo != "never received it" {
		t.Errorf("stored memo: got %q", stored.Memo)
	}
}

func TestRejectSettlementWithoutReasonKeepsMemo(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()

	s, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 500}, "cash after dinner")
	if err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}
	if _, err := ledger.RejectSettlement(ctx, "trip-1", "a", s.ID, ""); err != nil {
		t.Fatalf("RejectSettlement: %v", err)
	}

	stored, err := repo.GetSettlement(ctx, "trip-1", s.ID)
	if err != nil {
		t.Fatalf("GetSettlement: %v", err)
	}
	if stored.Memo != "cash after dinner" {
		t.Errorf("stored memo: got %q, want requester's original memo", stored.Memo)
	}
}

func TestApprovedSettlementShiftsBalances(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "lodging",
		Total:    core.Money{Cents: 9000},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "b", "c"}, "a", 9000),
	}
	if _, err := ledger.RecordExpense(ctx, "trip-1", "a", in); err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}

	s, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 3000}, "")
	if err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}
	if _, err := ledger.ApproveSettlement(ctx, "trip-1", "a", s.ID); err != nil {
		t.Fatalf("ApproveSettlement: %v", err)
	}

	balances, err := ledger.Balances(ctx, "trip-1")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	net := make(map[string]int64, len(balances))
	var sum int64
	for _, b := range balances {
		net[b.ParticipantID] = b.Net.Cents
		sum += b.Net.Cents
	}
	if sum != 0 {
		t.Errorf("nets do not conserve: sum %d", sum)
	}
	if net["b"] != 0 {
		t.Errorf("b settled in full but net is %d", net["b"])
	}
	if net["a"] != 3000 {
		t.Errorf("a still owed by c only: got %d, want 3000", net["a"])
	}
}

func TestPlanMarksPendingRequests(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	in := ExpenseInput{
		Date:     time.Now(),
		Category: "food",
		Total:    core.Money{Cents: 9000},
		Type:     core.ExpenseShared,
		Split:    core.SplitEqual,
		Shares:   equalShares([]string{"a", "b", "c"}, "a", 9000),
	}
	if _, err := ledger.RecordExpense(ctx, "trip-1", "a", in); err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}
	if _, err := ledger.RequestSettlement(ctx, "trip-1", "b", "b", "a", core.Money{Cents: 3000}, ""); err != nil {
		t.Fatalf("RequestSettlement: %v", err)
	}

	plan, err := ledger.Plan(ctx, "trip-1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Entries) != 2 {
		t.Fatalf("expected 2 plan entries, got %d", len(plan.Entries))
	}
	var flagged int
	for _, e := range plan.Entries {
		if e.AlreadyRequested {
			flagged++
			if e.SenderID != "b" {
				t.Errorf("wrong entry flagged: %+v", e)
			}
		}
	}
	if flagged != 1 {
		t.Errorf("expected exactly one flagged entry, got %d", flagged)
	}
	if plan.ToReceive.Cents != 6000 || plan.ToPay.Cents != 6000 {
		t.Errorf("plan totals: receive %d pay %d, want 6000/6000", plan.ToReceive.Cents, plan.ToPay.Cents)
	}
}

func TestReportRequestRequiresPublisher(t *testing.T) {
	repo := newFakeRepo()
	ledger := NewLedger(repo, nil, quietLogger())

	if err := ledger.RequestReport(context.Background(), "trip-1", "a"); err == nil {
		t.Fatal("expected error with no publisher configured")
	}
}
