// Package calculator holds the pure read-side math of the engine:
// net balance aggregation, greedy settlement planning, and statistics.
// Nothing here touches storage; callers pass in ledger snapshots.
package calculator

import (
	"tripledger/internal/core"
)

// ComputeBalances reduces a trip's expense ledger and approved
// settlements to one BalanceSummary per roster member.
//
// Per shared expense, each participant's net moves by paid - share.
// PERSONAL expenses are skipped: the sole participant both paid and
// owes the full amount, so they cannot move value between people.
// APPROVED settlements count as realized transfers from sender to
// receiver; PENDING, REJECTED and CANCELLED ones have no effect.
//
// The sum of all nets is always exactly zero.
func ComputeBalances(roster []core.Participant, expenses []core.Expense, settlements []core.Settlement) []core.BalanceSummary {
	net := make(map[string]int64, len(roster))
	for _, p := range roster {
		net[p.ID] = 0
	}

	for _, e := range expenses {
		if e.Deleted || e.Type == core.ExpensePersonal {
			continue
		}
		for _, s := range e.Shares {
			net[s.ParticipantID] += s.Paid.Cents - s.Share.Cents
		}
	}

	for _, s := range settlements {
		if s.Status != core.SettlementApproved {
			continue
		}
		net[s.FromUserID] += s.Amount.Cents
		net[s.ToUserID] -= s.Amount.Cents
	}

	summaries := make([]core.BalanceSummary, 0, len(roster))
	for _, p := range roster {
		n := net[p.ID]
		summary := core.BalanceSummary{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Net:           core.Money{Cents: n},
		}
		if n > 0 {
			summary.ToReceive = core.Money{Cents: n}
		} else {
			summary.ToPay = core.Money{Cents: -n}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
