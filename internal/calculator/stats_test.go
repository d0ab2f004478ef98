package calculator

import (
	"testing"
	"time"

	"tripledger/internal/core"
)

func TestBuildStatistics(t *testing.T) {
	day1 := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	expenses := []core.Expense{
		{
			Date: day1, Category: "food", Total: core.Money{Cents: 90},
			Type: core.ExpenseShared, Split: core.SplitEqual,
			Shares: []core.ExpenseShare{
				{ParticipantID: "a", Share: core.Money{Cents: 30}, Paid: core.Money{Cents: 90}},
				{ParticipantID: "b", Share: core.Money{Cents: 30}},
				{ParticipantID: "c", Share: core.Money{Cents: 30}},
			},
		},
		{
			Date: day2, Category: "transport", Total: core.Money{Cents: 60},
			Type: core.ExpensePartialShared, Split: core.SplitEqual,
			Shares: []core.ExpenseShare{
				{ParticipantID: "a", Share: core.Money{Cents: 30}, Paid: core.Money{Cents: 60}},
				{ParticipantID: "b", Share: core.Money{Cents: 30}},
			},
		},
		{
			Date: day2, Category: "souvenirs", Total: core.Money{Cents: 40},
			Type: core.ExpensePersonal, Split: core.SplitEqual,
			Shares: []core.ExpenseShare{
				{ParticipantID: "a", Share: core.Money{Cents: 40}, Paid: core.Money{Cents: 40}},
			},
		},
	}

	stats := BuildStatistics(roster, expenses, "a")

	if stats.MyTotal.Cents != 100 {
		t.Errorf("MyTotal = %d, want 100", stats.MyTotal.Cents)
	}
	// Shared total 150 over 3 roster members.
	if stats.AveragePerPerson.Cents != 50 {
		t.Errorf("AveragePerPerson = %d, want 50", stats.AveragePerPerson.Cents)
	}

	if len(stats.Categories) != 3 {
		t.Fatalf("got %d categories, want 3", len(stats.Categories))
	}
	// Sorted by amount descending: souvenirs 40, then food/transport 30 by name.
	if stats.Categories[0].Category != "souvenirs" || stats.Categories[1].Category != "food" {
		t.Errorf("category order = %s, %s", stats.Categories[0].Category, stats.Categories[1].Category)
	}
	if stats.Categories[0].Percent != 40.0 {
		t.Errorf("souvenirs percent = %f, want 40", stats.Categories[0].Percent)
	}

	if len(stats.Daily) != 2 || !stats.Daily[0].Date.Equal(day1) {
		t.Fatalf("daily breakdown wrong: %+v", stats.Daily)
	}
	if stats.Daily[0].Amount.Cents != 30 || stats.Daily[1].Amount.Cents != 70 {
		t.Errorf("daily amounts = %d, %d, want 30, 70", stats.Daily[0].Amount.Cents, stats.Daily[1].Amount.Cents)
	}

	if len(stats.PerPerson) != 3 {
		t.Fatalf("got %d per-person rows, want 3", len(stats.PerPerson))
	}
	if stats.PerPerson[0].ParticipantID != "a" || stats.PerPerson[0].Amount.Cents != 100 {
		t.Errorf("per-person(a) = %d, want 100", stats.PerPerson[0].Amount.Cents)
	}
	if stats.PerPerson[1].Amount.Cents != 60 {
		t.Errorf("per-person(b) = %d, want 60", stats.PerPerson[1].Amount.Cents)
	}
}

func TestBuildStatisticsSkipsDeleted(t *testing.T) {
	e := core.Expense{
		Date: time.Now(), Category: "food", Total: core.Money{Cents: 90},
		Type: core.ExpenseShared, Deleted: true,
		Shares: []core.ExpenseShare{
			{ParticipantID: "a", Share: core.Money{Cents: 45}, Paid: core.Money{Cents: 90}},
			{ParticipantID: "b", Share: core.Money{Cents: 45}},
		},
	}
	stats := BuildStatistics(roster, []core.Expense{e}, "a")
	if stats.MyTotal.Cents != 0 || len(stats.Categories) != 0 {
		t.Error("deleted expenses must be excluded from statistics")
	}
}
