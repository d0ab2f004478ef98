package calculator

import (
	"sort"
	"time"

	"tripledger/internal/core"
)

type (
	// CategoryStat is one participant's spend in a category, with its
	// share of their overall total.
	CategoryStat struct {
		Category string
		Amount   core.Money
		Percent  float64
	}

	PersonStat struct {
		ParticipantID string
		DisplayName   string
		Amount        core.Money
	}

	DayStat struct {
		Date   time.Time
		Amount core.Money
	}

	// Statistics is the full report for one participant within a trip.
	Statistics struct {
		MyTotal          core.Money
		AveragePerPerson core.Money
		Categories       []CategoryStat
		PerPerson        []PersonStat
		Daily            []DayStat
	}
)

// BuildStatistics derives the reporting projections of a trip's
// expense ledger, scoped to participantID for the "my" views.
// Deleted expenses are excluded everywhere. Amounts are the
// participant's share of each expense, which for PERSONAL expenses
// equals what they paid.
func BuildStatistics(roster []core.Participant, expenses []core.Expense, participantID string) Statistics {
	byCategory := make(map[string]int64)
	byPerson := make(map[string]int64)
	byDay := make(map[time.Time]int64)
	var myTotal, sharedTotal int64

	for _, e := range expenses {
		if e.Deleted {
			continue
		}
		if e.Type != core.ExpensePersonal {
			sharedTotal += e.Total.Cents
		}
		for _, s := range e.Shares {
			byPerson[s.ParticipantID] += s.Share.Cents
			if s.ParticipantID != participantID {
				continue
			}
			myTotal += s.Share.Cents
			byCategory[e.Category] += s.Share.Cents
			day := e.Date.Truncate(24 * time.Hour)
			byDay[day] += s.Share.Cents
		}
	}

	stats := Statistics{MyTotal: core.Money{Cents: myTotal}}
	if n := len(roster); n > 0 {
		stats.AveragePerPerson = core.Money{Cents: sharedTotal / int64(n)}
	}

	for cat, cents := range byCategory {
		cs := CategoryStat{Category: cat, Amount: core.Money{Cents: cents}}
		if myTotal > 0 {
			cs.Percent = float64(cents) / float64(myTotal) * 100
		}
		stats.Categories = append(stats.Categories, cs)
	}
	sort.Slice(stats.Categories, func(i, j int) bool {
		if stats.Categories[i].Amount.Cents != stats.Categories[j].Amount.Cents {
			return stats.Categories[i].Amount.Cents > stats.Categories[j].Amount.Cents
		}
		return stats.Categories[i].Category < stats.Categories[j].Category
	})

	for _, p := range roster {
		stats.PerPerson = append(stats.PerPerson, PersonStat{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Amount:        core.Money{Cents: byPerson[p.ID]},
		})
	}

	for day, cents := range byDay {
		stats.Daily = append(stats.Daily, DayStat{Date: day, Amount: core.Money{Cents: cents}})
	}
	sort.Slice(stats.Daily, func(i, j int) bool {
		return stats.Daily[i].Date.Before(stats.Daily[j].Date)
	})

	return stats
}
