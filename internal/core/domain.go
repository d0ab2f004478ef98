package core

import (
	"errors"
	"strings"
	"time"
)

const (
	ExpensePersonal      ExpenseType = "PERSONAL"
	ExpenseShared        ExpenseType = "SHARED"
	ExpensePartialShared ExpenseType = "PARTIAL_SHARED"

	SplitEqual  SplitMethod = "EQUAL"
	SplitCustom SplitMethod = "CUSTOM"

	FundDeposit FundTxType = "DEPOSIT"
	FundExpense FundTxType = "EXPENSE"

	SettlementPending   SettlementStatus = "PENDING"
	SettlementApproved  SettlementStatus = "APPROVED"
	SettlementRejected  SettlementStatus = "REJECTED"
	SettlementCancelled SettlementStatus = "CANCELLED"

	FilterAll      ExpenseFilter = "ALL"
	FilterPersonal ExpenseFilter = "PERSONAL"
	FilterShared   ExpenseFilter = "SHARED"
)

type (
	ExpenseType      string
	SplitMethod      string
	FundTxType       string
	SettlementStatus string
	ExpenseFilter    string

	// Participant is an identity from the externally owned trip roster.
	Participant struct {
		ID          string
		DisplayName string
	}

	// ExpenseShare is one participant's part of an expense: what they
	// owe toward it and what they actually paid out-of-pocket for it.
	ExpenseShare struct {
		ParticipantID string
		Share         Money
		Paid          Money
	}

	Expense struct {
		ID          string
		TripID      string
		Date        time.Time
		Category    string
		Description string
		Total       Money
		Type        ExpenseType
		Split       SplitMethod
		Shares      []ExpenseShare
		CreatedBy   string
		CreatedAt   time.Time
		Deleted     bool
	}

	// FundTransaction is one append-only entry of a trip's shared cash
	// pool. BalanceAfter is the running balance at the time the entry
	// was committed.
	FundTransaction struct {
		ID           string
		TripID       string
		Type         FundTxType
		Amount       Money
		Category     string
		Description  string
		CreatedBy    string
		CreatedAt    time.Time
		BalanceAfter Money
	}

	Settlement struct {
		ID          string
		TripID      string
		FromUserID  string
		ToUserID    string
		Amount      Money
		Status      SettlementStatus
		Memo        string
		RequestedBy string
		CreatedAt   time.Time
		CompletedAt *time.Time
	}

	// BalanceSummary is a participant's derived position: receivable,
	// payable and net. Net is positive when the participant is owed
	// money, negative when they owe.
	BalanceSummary struct {
		ParticipantID string
		DisplayName   string
		ToReceive     Money
		ToPay         Money
		Net           Money
	}

	// PlanEntry is one proposed transfer of the settlement plan.
	// AlreadyRequested marks entries for which an identical PENDING
	// settlement exists, so callers can hide the duplicate suggestion.
	PlanEntry struct {
		SenderID         string
		SenderName       string
		ReceiverID       string
		ReceiverName     string
		Amount           Money
		AlreadyRequested bool
	}

	// AuditRecord is an immutable trace of one committed ledger
	// mutation, written by the worker from published ledger events.
	AuditRecord struct {
		ID         int64
		TripID     string
		Kind       string
		EntityID   string
		ActorID    string
		Amount     Money
		OccurredAt time.Time
	}
)

var (
	ErrInvalidSplit        = errors.New("split amounts do not sum to expense total")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrInsufficientFunds   = errors.New("insufficient shared fund balance")
	ErrInvalidState        = errors.New("settlement is not pending")
	ErrForbidden           = errors.New("actor is not allowed to perform this action")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSettlement = errors.New("identical pending settlement already exists")
)

// Terminal reports whether the settlement can no longer change state.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementApproved || s == SettlementRejected || s == SettlementCancelled
}

// Validate checks the structural invariants of an expense record:
// share and paid sums must each equal the total (E1, E2), PERSONAL
// expenses have exactly one participant, shared ones at least two.
func (e Expense) Validate() error {
	if err := e.Total.Validate(); err != nil {
		return err
	}
	if e.TripID == "" || e.Date.IsZero() {
		return errors.New("expense requires trip and date")
	}
	if strings.TrimSpace(e.Category) == "" {
		return errors.New("empty category")
	}
	switch e.Type {
	case ExpensePersonal:
		if len(e.Shares) != 1 {
			return ErrInvalidParticipants
		}
	case ExpenseShared, ExpensePartialShared:
		if len(e.Shares) < 2 {
			return ErrInvalidParticipants
		}
	default:
		return errors.New("unknown expense type")
	}
	if e.Split != SplitEqual && e.Split != SplitCustom {
		return errors.New("unknown split method")
	}
	seen := make(map[string]bool, len(e.Shares))
	var shareSum, paidSum int64
	for _, s := range e.Shares {
		if s.ParticipantID == "" || seen[s.ParticipantID] {
			return ErrInvalidParticipants
		}
		seen[s.ParticipantID] = true
		if s.Share.Cents < 0 || s.Paid.Cents < 0 {
			return ErrInvalidSplit
		}
		shareSum += s.Share.Cents
		paidSum += s.Paid.Cents
	}
	if shareSum != e.Total.Cents || paidSum != e.Total.Cents {
		return ErrInvalidSplit
	}
	return nil
}

// Validate checks a settlement request before it enters the workflow.
func (s Settlement) Validate() error {
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if s.FromUserID == "" || s.ToUserID == "" || s.FromUserID == s.ToUserID {
		return ErrInvalidParticipants
	}
	if s.RequestedBy != s.FromUserID && s.RequestedBy != s.ToUserID {
		return ErrInvalidParticipants
	}
	return nil
}

func (t FundTransaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Type != FundDeposit && t.Type != FundExpense {
		return errors.New("unknown fund transaction type")
	}
	if t.Type == FundExpense && strings.TrimSpace(t.Category) == "" {
		return errors.New("empty category")
	}
	return nil
}
