package calculator

import (
	"tripledger/internal/core"
)

type planSide struct {
	id        string
	name      string
	remaining int64
}

// PlanSettlement turns net balances into a list of transfers that
// would zero every participant's balance.
//
// Greedy extreme matching: repeatedly pair the largest remaining
// creditor with the largest remaining debtor and transfer
// min(credit, debt). Ties break by participant ID ascending so the
// output is deterministic. The plan has at most n-1 entries but is
// not guaranteed to be the global minimum (that problem is NP-hard).
func PlanSettlement(balances []core.BalanceSummary) []core.PlanEntry {
	var creditors, debtors []planSide
	for _, b := range balances {
		switch {
		case b.Net.Cents > 0:
			creditors = append(creditors, planSide{id: b.ParticipantID, name: b.DisplayName, remaining: b.Net.Cents})
		case b.Net.Cents < 0:
			debtors = append(debtors, planSide{id: b.ParticipantID, name: b.DisplayName, remaining: -b.Net.Cents})
		}
	}

	var plan []core.PlanEntry
	for len(creditors) > 0 && len(debtors) > 0 {
		ci := largest(creditors)
		di := largest(debtors)
		creditor := &creditors[ci]
		debtor := &debtors[di]

		amount := creditor.remaining
		if debtor.remaining < amount {
			amount = debtor.remaining
		}

		plan = append(plan, core.PlanEntry{
			SenderID:     debtor.id,
			SenderName:   debtor.name,
			ReceiverID:   creditor.id,
			ReceiverName: creditor.name,
			Amount:       core.Money{Cents: amount},
		})

		creditor.remaining -= amount
		debtor.remaining -= amount
		if creditor.remaining == 0 {
			creditors = append(creditors[:ci], creditors[ci+1:]...)
		}
		if debtor.remaining == 0 {
			debtors = append(debtors[:di], debtors[di+1:]...)
		}
	}
	return plan
}

// largest returns the index of the side with the biggest remaining
// amount, breaking ties by participant ID ascending.
func largest(sides []planSide) int {
	best := 0
	for i := 1; i < len(sides); i++ {
		if sides[i].remaining > sides[best].remaining ||
			(sides[i].remaining == sides[best].remaining && sides[i].id < sides[best].id) {
			best = i
		}
	}
	return best
}

// MarkRequested flags plan entries already covered by a PENDING
// settlement with the same (sender, receiver, amount) triple. The
// entry stays in the plan; the flag only suppresses it from
// actionable display and from duplicate requests.
func MarkRequested(plan []core.PlanEntry, settlements []core.Settlement) []core.PlanEntry {
	pending := make(map[[2]string][]int64)
	for _, s := range settlements {
		if s.Status != core.SettlementPending {
			continue
		}
		key := [2]string{s.FromUserID, s.ToUserID}
		pending[key] = append(pending[key], s.Amount.Cents)
	}
	for i := range plan {
		for _, cents := range pending[[2]string{plan[i].SenderID, plan[i].ReceiverID}] {
			if cents == plan[i].Amount.Cents {
				plan[i].AlreadyRequested = true
				break
			}
		}
	}
	return plan
}

// PlanSummary totals the receivable and payable sides of a balance
// set. The two totals are always equal in absolute value.
func PlanSummary(balances []core.BalanceSummary) (toReceive, toPay core.Money) {
	for _, b := range balances {
		toReceive = toReceive.Add(b.ToReceive)
		toPay = toPay.Add(b.ToPay)
	}
	return toReceive, toPay
}
