// Package storage persists the trip ledgers in SQLite through the
// pure-Go modernc driver. The schema lives in embedded migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tripledger/internal/core"
)

const dateFormat = "2006-01-02"

type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath and
// applies pending migrations.
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ReplaceParticipants swaps the trip roster for the one supplied by
// the external membership system.
func (r *Repository) ReplaceParticipants(ctx context.Context, tripID string, participants []core.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM participants WHERE trip_id = ?", tripID); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	for _, p := range participants {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO participants (trip_id, id, display_name) VALUES (?, ?, ?)",
			tripID, p.ID, p.DisplayName,
		)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Roster replaced", "trip_id", tripID, "count", len(participants))
	return nil
}

func (r *Repository) ListParticipants(ctx context.Context, tripID string) ([]core.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, display_name FROM participants WHERE trip_id = ? ORDER BY id",
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []core.Participant
	for rows.Next() {
		var p core.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

// CreateExpense persists the expense and its shares atomically.
func (r *Repository) CreateExpense(ctx context.Context, e *core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, trip_id, expense_date, category, description, total_cents,
		 expense_type, split_method, created_by, created_at, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		e.ID, e.TripID, e.Date.Format(dateFormat), e.Category, e.Description,
		e.Total.Cents, string(e.Type), string(e.Split), e.CreatedBy, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	if err := insertShares(ctx, tx, e.ID, e.Shares); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateExpense replaces the expense row and all of its shares.
func (r *Repository) UpdateExpense(ctx context.Context, e *core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET expense_date = ?, category = ?, description = ?, total_cents = ?,
		 expense_type = ?, split_method = ? WHERE id = ? AND trip_id = ? AND deleted = 0`,
		e.Date.Format(dateFormat), e.Category, e.Description, e.Total.Cents,
		string(e.Type), string(e.Split), e.ID, e.TripID,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM expense_shares WHERE expense_id = ?", e.ID); err != nil {
		return fmt.Errorf("clear shares: %w", err)
	}
	if err := insertShares(ctx, tx, e.ID, e.Shares); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertShares(ctx context.Context, tx *sql.Tx, expenseID string, shares []core.ExpenseShare) error {
	for _, s := range shares {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO expense_shares (expense_id, participant_id, share_cents, paid_cents) VALUES (?, ?, ?, ?)",
			expenseID, s.ParticipantID, s.Share.Cents, s.Paid.Cents,
		)
		if err != nil {
			return fmt.Errorf("insert share: %w", err)
		}
	}
	return nil
}

// SoftDeleteExpense marks the expense deleted so downstream
// aggregation skips it. The row stays for audit history.
func (r *Repository) SoftDeleteExpense(ctx context.Context, tripID, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET deleted = 1 WHERE id = ? AND trip_id = ? AND deleted = 0",
		id, tripID,
	)
	if err != nil {
		return fmt.Errorf("soft delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *Repository) GetExpense(ctx context.Context, tripID, id string) (*core.Expense, error) {
	var (
		e         core.Expense
		dateStr   string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, trip_id, expense_date, category, description, total_cents,
		 expense_type, split_method, created_by, created_at, deleted
		 FROM expenses WHERE id = ? AND trip_id = ? AND deleted = 0`,
		id, tripID,
	).Scan(&e.ID, &e.TripID, &dateStr, &e.Category, &e.Description, &e.Total.Cents,
		&e.Type, &e.Split, &e.CreatedBy, &createdAt, &e.Deleted)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	e.Date, err = time.Parse(dateFormat, dateStr)
	if err != nil {
		return nil, fmt.Errorf("parse expense date: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()

	e.Shares, err = r.loadShares(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) loadShares(ctx context.Context, expenseID string) ([]core.ExpenseShare, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT participant_id, share_cents, paid_cents FROM expense_shares WHERE expense_id = ? ORDER BY participant_id",
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	defer rows.Close()

	var shares []core.ExpenseShare
	for rows.Next() {
		var s core.ExpenseShare
		if err := rows.Scan(&s.ParticipantID, &s.Share.Cents, &s.Paid.Cents); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return shares, nil
}

// ListExpenses returns the trip's non-deleted expenses, oldest date
// first with creation order as a stable tie-break.
func (r *Repository) ListExpenses(ctx context.Context, tripID string, filter core.ExpenseFilter) ([]core.Expense, error) {
	query := `SELECT id, trip_id, expense_date, category, description, total_cents,
		 expense_type, split_method, created_by, created_at, deleted
		 FROM expenses WHERE trip_id = ? AND deleted = 0`
	args := []any{tripID}
	switch filter {
	case core.FilterPersonal:
		query += " AND expense_type = ?"
		args = append(args, string(core.ExpensePersonal))
	case core.FilterShared:
		query += " AND expense_type IN (?, ?)"
		args = append(args, string(core.ExpenseShared), string(core.ExpensePartialShared))
	}
	query += " ORDER BY expense_date, created_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var (
			e         core.Expense
			dateStr   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TripID, &dateStr, &e.Category, &e.Description, &e.Total.Cents,
			&e.Type, &e.Split, &e.CreatedBy, &createdAt, &e.Deleted); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Date, err = time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse expense date: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}

	for i := range expenses {
		expenses[i].Shares, err = r.loadShares(ctx, expenses[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

// AppendFundTransaction appends one entry to the trip's fund log.
// Callers compute BalanceAfter under the trip lock before calling.
func (r *Repository) AppendFundTransaction(ctx context.Context, t *core.FundTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fund_transactions (id, trip_id, tx_type, amount_cents, category,
		 description, created_by, created_at, balance_after_cents)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TripID, string(t.Type), t.Amount.Cents, t.Category,
		t.Description, t.CreatedBy, t.CreatedAt.Unix(), t.BalanceAfter.Cents,
	)
	if err != nil {
		return fmt.Errorf("append fund transaction: %w", err)
	}
	return nil
}

// FundBalance reads the running balance from the newest fund entry.
// A trip without transactions has balance zero.
func (r *Repository) FundBalance(ctx context.Context, tripID string) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		"SELECT balance_after_cents FROM fund_transactions WHERE trip_id = ? ORDER BY seq DESC LIMIT 1",
		tripID,
	).Scan(&cents)
	if err == sql.ErrNoRows {
		return core.Money{}, nil
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("read fund balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *Repository) ListFundTransactions(ctx context.Context, tripID string) ([]core.FundTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trip_id, tx_type, amount_cents, category, description, created_by,
		 created_at, balance_after_cents
		 FROM fund_transactions WHERE trip_id = ? ORDER BY seq DESC`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fund transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.FundTransaction
	for rows.Next() {
		var (
			t         core.FundTransaction
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.TripID, &t.Type, &t.Amount.Cents, &t.Category,
			&t.Description, &t.CreatedBy, &createdAt, &t.BalanceAfter.Cents); err != nil {
			return nil, fmt.Errorf("scan fund transaction: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fund transactions: %w", err)
	}
	return txs, nil
}

func (r *Repository) CreateSettlement(ctx context.Context, s *core.Settlement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlements (id, trip_id, from_user_id, to_user_id, amount_cents,
		 status, memo, requested_by, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		s.ID, s.TripID, s.FromUserID, s.ToUserID, s.Amount.Cents,
		string(s.Status), s.Memo, s.RequestedBy, s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (r *Repository) GetSettlement(ctx context.Context, tripID, id string) (*core.Settlement, error) {
	var (
		s           core.Settlement
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, trip_id, from_user_id, to_user_id, amount_cents, status, memo,
		 requested_by, created_at, completed_at
		 FROM settlements WHERE id = ? AND trip_id = ?`,
		id, tripID,
	).Scan(&s.ID, &s.TripID, &s.FromUserID, &s.ToUserID, &s.Amount.Cents,
		&s.Status, &s.Memo, &s.RequestedBy, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		s.CompletedAt = &t
	}
	return &s, nil
}

// UpdateSettlementStatus writes the terminal state of a workflow
// transition. The WHERE clause re-checks PENDING so a lost race
// surfaces as ErrInvalidState instead of a silent double transition.
func (r *Repository) UpdateSettlementStatus(ctx context.Context, s *core.Settlement) error {
	var completedAt any
	if s.CompletedAt != nil {
		completedAt = s.CompletedAt.Unix()
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE settlements SET status = ?, memo = ?, completed_at = ? WHERE id = ? AND trip_id = ? AND status = ?",
		string(s.Status), s.Memo, completedAt, s.ID, s.TripID, string(core.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrInvalidState
	}
	return nil
}

// ListSettlements returns the trip's settlements newest first,
// optionally filtered by status.
func (r *Repository) ListSettlements(ctx context.Context, tripID string, status core.SettlementStatus) ([]core.Settlement, error) {
	query := `SELECT id, trip_id, from_user_id, to_user_id, amount_cents, status, memo,
		 requested_by, created_at, completed_at FROM settlements WHERE trip_id = ?`
	args := []any{tripID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []core.Settlement
	for rows.Next() {
		var (
			s           core.Settlement
			createdAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.TripID, &s.FromUserID, &s.ToUserID, &s.Amount.Cents,
			&s.Status, &s.Memo, &s.RequestedBy, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			s.CompletedAt = &t
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return settlements, nil
}

// HasPendingSettlement reports whether an identical pending request
// already exists for the (from, to, amount) triple.
func (r *Repository) HasPendingSettlement(ctx context.Context, tripID, fromUserID, toUserID string, amount core.Money) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM settlements WHERE trip_id = ? AND from_user_id = ? AND to_user_id = ?
		 AND amount_cents = ? AND status = ? LIMIT 1`,
		tripID, fromUserID, toUserID, amount.Cents, string(core.SettlementPending),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pending settlement: %w", err)
	}
	return true, nil
}

// AppendAudit records one committed ledger mutation.
func (r *Repository) AppendAudit(ctx context.Context, rec core.AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (trip_id, kind, entity_id, actor_id, amount_cents, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TripID, rec.Kind, rec.EntityID, rec.ActorID, rec.Amount.Cents, rec.OccurredAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (r *Repository) ListAudit(ctx context.Context, tripID string, limit int) ([]core.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trip_id, kind, entity_id, actor_id, amount_cents, occurred_at
		 FROM audit_log WHERE trip_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		tripID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []core.AuditRecord
	for rows.Next() {
		var (
			rec        core.AuditRecord
			occurredAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.TripID, &rec.Kind, &rec.EntityID, &rec.ActorID,
			&rec.Amount.Cents, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.OccurredAt = time.Unix(occurredAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return records, nil
}
