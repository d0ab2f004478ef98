package calculator

import (
	"testing"

	"tripledger/internal/core"
)

func balance(id string, net int64) core.BalanceSummary {
	b := core.BalanceSummary{ParticipantID: id, DisplayName: id, Net: core.Money{Cents: net}}
	if net > 0 {
		b.ToReceive = core.Money{Cents: net}
	} else {
		b.ToPay = core.Money{Cents: -net}
	}
	return b
}

// applyPlan executes every entry against the nets and returns the
// leftover imbalance per participant.
func applyPlan(balances []core.BalanceSummary, plan []core.PlanEntry) map[string]int64 {
	nets := make(map[string]int64)
	for _, b := range balances {
		nets[b.ParticipantID] = b.Net.Cents
	}
	for _, e := range plan {
		nets[e.SenderID] += e.Amount.Cents
		nets[e.ReceiverID] -= e.Amount.Cents
	}
	return nets
}

func TestPlanSettlementZeroesBalances(t *testing.T) {
	cases := []struct {
		name     string
		balances []core.BalanceSummary
	}{
		{"two sided", []core.BalanceSummary{balance("a", 60), balance("b", -30), balance("c", -30)}},
		{"uneven", []core.BalanceSummary{balance("a", 17), balance("b", 83), balance("c", -41), balance("d", -59)}},
		{"already settled", []core.BalanceSummary{balance("a", 0), balance("b", 0)}},
		{"single pair", []core.BalanceSummary{balance("a", 250), balance("b", -250)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := PlanSettlement(tc.balances)
			for id, left := range applyPlan(tc.balances, plan) {
				if left != 0 {
					t.Errorf("participant %s left with %d after plan", id, left)
				}
			}
			if max := len(tc.balances) - 1; len(plan) > max {
				t.Errorf("plan has %d entries, want <= %d", len(plan), max)
			}
			for _, e := range plan {
				if e.Amount.Cents <= 0 {
					t.Errorf("non-positive plan amount %d", e.Amount.Cents)
				}
			}
		})
	}
}

func TestPlanSettlementDeterministicOrder(t *testing.T) {
	balances := []core.BalanceSummary{balance("a", 60), balance("c", -30), balance("b", -30)}
	plan := PlanSettlement(balances)
	if len(plan) != 2 {
		t.Fatalf("plan has %d entries, want 2", len(plan))
	}
	// Equal debts tie-break by participant ID ascending.
	if plan[0].SenderID != "b" || plan[0].ReceiverID != "a" || plan[0].Amount.Cents != 30 {
		t.Errorf("plan[0] = %s->%s %d, want b->a 30", plan[0].SenderID, plan[0].ReceiverID, plan[0].Amount.Cents)
	}
	if plan[1].SenderID != "c" || plan[1].ReceiverID != "a" || plan[1].Amount.Cents != 30 {
		t.Errorf("plan[1] = %s->%s %d, want c->a 30", plan[1].SenderID, plan[1].ReceiverID, plan[1].Amount.Cents)
	}
}

func TestMarkRequested(t *testing.T) {
	plan := []core.PlanEntry{
		{SenderID: "b", ReceiverID: "a", Amount: core.Money{Cents: 30}},
		{SenderID: "c", ReceiverID: "a", Amount: core.Money{Cents: 30}},
	}
	settlements := []core.Settlement{
		{FromUserID: "b", ToUserID: "a", Amount: core.Money{Cents: 30}, Status: core.SettlementPending},
		{FromUserID: "c", ToUserID: "a", Amount: core.Money{Cents: 30}, Status: core.SettlementRejected},
	}
	plan = MarkRequested(plan, settlements)
	if !plan[0].AlreadyRequested {
		t.Error("matching pending settlement should flag entry")
	}
	if plan[1].AlreadyRequested {
		t.Error("rejected settlement must not flag entry")
	}
}

func TestPlanSummary(t *testing.T) {
	balances := []core.BalanceSummary{balance("a", 60), balance("b", -30), balance("c", -30)}
	toReceive, toPay := PlanSummary(balances)
	if toReceive.Cents != 60 || toPay.Cents != 60 {
		t.Errorf("summary = %d/%d, want 60/60", toReceive.Cents, toPay.Cents)
	}
}
