// Package sheets exports trip reports to a Google spreadsheet, one
// tab per trip.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tripledger/internal/core"
	"tripledger/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Ensure interface conformance
var _ export.ReportWriter = (*Client)(nil)

// Config carries the settings needed to reach the spreadsheet.
// Exactly one of CredentialsJSON or CredentialsFile must be set.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets report writer using service account credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets report writer ready", "spreadsheet_id", cfg.SpreadsheetID)
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID}, nil
}

// WriteReport replaces the trip's tab with the current ledger snapshot.
func (c *Client) WriteReport(ctx context.Context, report export.TripReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheetName := sheetNameFor(report.TripID)
	if err := c.ensureSheet(ctx, sheetName); err != nil {
		return "", err
	}

	clearRange := fmt.Sprintf("%s!A:F", sheetName)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear sheet %s: %w", sheetName, err)
	}

	rows := buildRows(report)
	writeRange := fmt.Sprintf("%s!A1", sheetName)
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("write report to %s: %w", sheetName, err)
	}

	ref := fmt.Sprintf("%s!A1:F%d", sheetName, len(rows))
	slog.InfoContext(ctx, "trip report exported", "trip_id", report.TripID, "ref", ref, "rows", len(rows))
	return ref, nil
}

// ensureSheet creates the trip's tab if it does not exist yet.
func (c *Client) ensureSheet(ctx context.Context, sheetName string) error {
	meta, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet metadata: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: sheetName},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheetName, err)
	}
	return nil
}

func sheetNameFor(tripID string) string {
	// Sheet titles cap at 100 characters.
	name := "Trip " + tripID
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// buildRows lays the report out as sections separated by blank rows.
func buildRows(report export.TripReport) [][]any {
	rows := [][]any{
		{"Trip", report.TripID, "Generated", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{},
		{"Balances"},
		{"Participant", "Name", "To receive", "To pay", "Net"},
	}
	for _, b := range report.Balances {
		rows = append(rows, []any{b.ParticipantID, b.DisplayName, euros(b.ToReceive.Cents), euros(b.ToPay.Cents), euros(b.Net.Cents)})
	}

	rows = append(rows, []any{}, []any{"Expenses"},
		[]any{"Date", "Category", "Description", "Type", "Total", "Paid by"})
	for _, e := range report.Expenses {
		rows = append(rows, []any{
			e.Date.Format("2006-01-02"), e.Category, e.Description,
			string(e.Type), euros(e.Total.Cents), payersOf(e),
		})
	}

	rows = append(rows, []any{}, []any{"Shared fund", "Balance", euros(report.FundBalance.Cents)},
		[]any{"Date", "Type", "Category", "Description", "Amount", "Balance after"})
	for _, t := range report.FundTransactions {
		rows = append(rows, []any{
			t.CreatedAt.Format("2006-01-02"), string(t.Type), t.Category, t.Description,
			euros(t.Amount.Cents), euros(t.BalanceAfter.Cents),
		})
	}

	rows = append(rows, []any{}, []any{"Settlements"},
		[]any{"From", "To", "Amount", "Status", "Requested at"})
	for _, s := range report.Settlements {
		rows = append(rows, []any{
			s.FromUserID, s.ToUserID, euros(s.Amount.Cents), string(s.Status),
			s.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func payersOf(e core.Expense) string {
	var payers []string
	for _, sh := range e.Shares {
		if sh.Paid.Cents > 0 {
			payers = append(payers, sh.ParticipantID)
		}
	}
	return strings.Join(payers, ", ")
}

func euros(cents int64) float64 {
	return float64(cents) / 100.0
}
