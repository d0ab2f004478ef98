package core

import (
	"errors"
	"testing"
	"time"
)

func validShared() Expense {
	return Expense{
		ID:       "e1",
		TripID:   "t1",
		Date:     time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC),
		Category: "food",
		Total:    Money{Cents: 90},
		Type:     ExpenseShared,
		Split:    SplitEqual,
		Shares: []ExpenseShare{
			{ParticipantID: "a", Share: Money{Cents: 30}, Paid: Money{Cents: 90}},
			{ParticipantID: "b", Share: Money{Cents: 30}},
			{ParticipantID: "c", Share: Money{Cents: 30}},
		},
	}
}

func TestExpenseValidate(t *testing.T) {
	if err := validShared().Validate(); err != nil {
		t.Fatalf("valid expense rejected: %v", err)
	}

	t.Run("share sum drift", func(t *testing.T) {
		e := validShared()
		e.Shares[1].Share.Cents = 31
		if !errors.Is(e.Validate(), ErrInvalidSplit) {
			t.Error("expected ErrInvalidSplit for share drift")
		}
	})

	t.Run("paid sum drift", func(t *testing.T) {
		e := validShared()
		e.Shares[0].Paid.Cents = 89
		if !errors.Is(e.Validate(), ErrInvalidSplit) {
			t.Error("expected ErrInvalidSplit for paid drift")
		}
	})

	t.Run("personal with two participants", func(t *testing.T) {
		e := validShared()
		e.Type = ExpensePersonal
		if !errors.Is(e.Validate(), ErrInvalidParticipants) {
			t.Error("PERSONAL must have exactly one participant")
		}
	})

	t.Run("shared with one participant", func(t *testing.T) {
		e := validShared()
		e.Shares = e.Shares[:1]
		e.Shares[0].Share = e.Total
		if !errors.Is(e.Validate(), ErrInvalidParticipants) {
			t.Error("SHARED must have at least two participants")
		}
	})

	t.Run("duplicate participant", func(t *testing.T) {
		e := validShared()
		e.Shares[2].ParticipantID = "b"
		if !errors.Is(e.Validate(), ErrInvalidParticipants) {
			t.Error("duplicate participant must be rejected")
		}
	})

	t.Run("zero total", func(t *testing.T) {
		e := validShared()
		e.Total.Cents = 0
		if !errors.Is(e.Validate(), ErrInvalidAmount) {
			t.Error("zero total must be rejected")
		}
	})
}

func TestSettlementValidate(t *testing.T) {
	s := Settlement{FromUserID: "b", ToUserID: "a", Amount: Money{Cents: 30}, RequestedBy: "b"}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid settlement rejected: %v", err)
	}

	s2 := s
	s2.ToUserID = "b"
	if !errors.Is(s2.Validate(), ErrInvalidParticipants) {
		t.Error("self-settlement must be rejected")
	}

	s3 := s
	s3.Amount.Cents = 0
	if !errors.Is(s3.Validate(), ErrInvalidAmount) {
		t.Error("zero amount must be rejected")
	}

	s4 := s
	s4.RequestedBy = "c"
	if !errors.Is(s4.Validate(), ErrInvalidParticipants) {
		t.Error("third-party requester must be rejected")
	}
}

func TestSettlementStatusTerminal(t *testing.T) {
	if SettlementPending.Terminal() {
		t.Error("PENDING is not terminal")
	}
	for _, st := range []SettlementStatus{SettlementApproved, SettlementRejected, SettlementCancelled} {
		if !st.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
}
