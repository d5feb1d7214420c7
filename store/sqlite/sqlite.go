/*
Package sqlite provides a SQLite-backed implementation of advance.TxStore.

PURPOSE:
  Persists advances, their payments and the plan event log. Every engine
  operation runs inside WithTx, so a failed recalculation leaves no
  partial writes behind.

KEY TABLES:
  advances:    loan rows (outstanding, suggested installment, terms)
  payments:    installments, FK to advances with ON DELETE CASCADE
  plan_events: audit trail, FK to advances with ON DELETE CASCADE

AMOUNTS AND DATES:
  Amounts are TEXT decimal strings with two places ("1234.50"), converted
  to and from advance.Money through shopspring/decimal. Dates are TEXT
  "YYYY-MM-DD", so ORDER BY due_date is chronological.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer
  anyway, and a ":memory:" database exists only on the connection that
  created it. Per-advance serialization is the engine's job.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := advance.NewEngine(store)

MIGRATION:
  Schema is migrated on New() with golang-migrate from the embedded
  migrations/ directory.

SEE ALSO:
  - advance/store.go: Interface definitions
  - advance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/household-ledger/advance"
)

// Store implements advance.TxStore using SQLite.
type Store struct {
	db *sql.DB
	queries
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements advance.Store against a querier.
type queries struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened and migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, queries: queries{q: db}}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(advance.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset deletes every row and restarts the id sequences. Used by the demo
// scenarios.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM plan_events`,
		`DELETE FROM payments`,
		`DELETE FROM advances`,
		`DELETE FROM sqlite_sequence WHERE name IN ('advances', 'payments')`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset store: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// ADVANCES
// =============================================================================

const advanceColumns = `id, concept, description, outstanding, suggested, start_date,
	expected_end_date, status, source_account_id, periodicity`

func (s *queries) GetAdvance(ctx context.Context, id advance.AdvanceID) (advance.Advance, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+advanceColumns+` FROM advances WHERE id = ?`, id)
	a, err := scanAdvance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return advance.Advance{}, fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, id)
	}
	return a, err
}

func (s *queries) ListAdvances(ctx context.Context) ([]advance.Advance, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+advanceColumns+` FROM advances ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list advances: %w", err)
	}
	defer rows.Close()

	var result []advance.Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *queries) InsertAdvance(ctx context.Context, a advance.Advance) (advance.AdvanceID, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO advances (concept, description, outstanding, suggested, start_date,
			expected_end_date, status, source_account_id, periodicity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Concept, a.Description, a.Outstanding.String(), a.Suggested.String(),
		advance.FormatDate(a.StartDate), nullDate(a.ExpectedEndDate), string(a.Status),
		nullAccount(a.SourceAccountID), string(a.Periodicity),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert advance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read advance id: %w", err)
	}
	return advance.AdvanceID(id), nil
}

func (s *queries) UpdateAdvance(ctx context.Context, a advance.Advance) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE advances SET concept = ?, description = ?, outstanding = ?, suggested = ?,
			start_date = ?, expected_end_date = ?, status = ?, source_account_id = ?, periodicity = ?
		WHERE id = ?`,
		a.Concept, a.Description, a.Outstanding.String(), a.Suggested.String(),
		advance.FormatDate(a.StartDate), nullDate(a.ExpectedEndDate), string(a.Status),
		nullAccount(a.SourceAccountID), string(a.Periodicity), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update advance: %w", err)
	}
	return expectRow(res, advance.ErrAdvanceNotFound, int64(a.ID))
}

func (s *queries) PatchAdvance(ctx context.Context, id advance.AdvanceID, patch advance.AdvancePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	var sets []string
	var args []any
	if patch.Outstanding != nil {
		sets = append(sets, "outstanding = ?")
		args = append(args, patch.Outstanding.String())
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.ExpectedEndDate != nil {
		sets = append(sets, "expected_end_date = ?")
		args = append(args, advance.FormatDate(*patch.ExpectedEndDate))
	}
	args = append(args, id)

	res, err := s.q.ExecContext(ctx, `UPDATE advances SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to patch advance: %w", err)
	}
	return expectRow(res, advance.ErrAdvanceNotFound, int64(id))
}

// DeleteAdvances relies on ON DELETE CASCADE for payments and events.
func (s *queries) DeleteAdvances(ctx context.Context, ids []advance.AdvanceID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM advances WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete advances: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, advance_id, amount, due_date, kind, status, destination_account_id, description`

func (s *queries) GetPayment(ctx context.Context, id advance.PaymentID) (advance.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return advance.Payment{}, fmt.Errorf("%w: %d", advance.ErrPaymentNotFound, id)
	}
	return p, err
}

func (s *queries) ListPayments(ctx context.Context, id advance.AdvanceID, status *advance.PaymentStatus) ([]advance.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE advance_id = ?`
	args := []any{id}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY due_date, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var result []advance.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *queries) InsertPayment(ctx context.Context, p advance.Payment) (advance.PaymentID, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (advance_id, amount, due_date, kind, status, destination_account_id, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.AdvanceID, p.Amount.String(), advance.FormatDate(p.DueDate), string(p.Kind),
		string(p.Status), nullAccount(p.DestinationAccountID), p.Description,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, p.AdvanceID)
		}
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read payment id: %w", err)
	}
	return advance.PaymentID(id), nil
}

func (s *queries) UpdatePayment(ctx context.Context, p advance.Payment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments SET amount = ?, due_date = ?, kind = ?, status = ?,
			destination_account_id = ?, description = ?
		WHERE id = ?`,
		p.Amount.String(), advance.FormatDate(p.DueDate), string(p.Kind), string(p.Status),
		nullAccount(p.DestinationAccountID), p.Description, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectRow(res, advance.ErrPaymentNotFound, int64(p.ID))
}

func (s *queries) UpdatePaymentAmount(ctx context.Context, id advance.PaymentID, amount advance.Money) error {
	res, err := s.q.ExecContext(ctx, `UPDATE payments SET amount = ? WHERE id = ?`, amount.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment amount: %w", err)
	}
	return expectRow(res, advance.ErrPaymentNotFound, int64(id))
}

func (s *queries) UpdatePaymentStatus(ctx context.Context, id advance.PaymentID, status advance.PaymentStatus) error {
	res, err := s.q.ExecContext(ctx, `UPDATE payments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return expectRow(res, advance.ErrPaymentNotFound, int64(id))
}

func (s *queries) DeletePayment(ctx context.Context, id advance.PaymentID) (advance.Payment, error) {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return advance.Payment{}, err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id); err != nil {
		return advance.Payment{}, fmt.Errorf("failed to delete payment: %w", err)
	}
	return p, nil
}

// =============================================================================
// PLAN EVENTS
// =============================================================================

func (s *queries) AppendEvent(ctx context.Context, e advance.PlanEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_events (id, advance_id, action, detail, at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.AdvanceID, string(e.Action), e.Detail, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append plan event: %w", err)
	}
	return nil
}

func (s *queries) ListEvents(ctx context.Context, id advance.AdvanceID) ([]advance.PlanEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, advance_id, action, detail, at FROM plan_events
		WHERE advance_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan events: %w", err)
	}
	defer rows.Close()

	var result []advance.PlanEvent
	for rows.Next() {
		var e advance.PlanEvent
		var action, at string
		if err := rows.Scan(&e.ID, &e.AdvanceID, &action, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan plan event: %w", err)
		}
		e.Action = advance.EventAction(action)
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("invalid event time %q: %w", at, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAdvance(row scanner) (advance.Advance, error) {
	var a advance.Advance
	var outstanding, suggested, start, status, periodicity string
	var end sql.NullString
	var account sql.NullInt64
	err := row.Scan(&a.ID, &a.Concept, &a.Description, &outstanding, &suggested, &start,
		&end, &status, &account, &periodicity)
	if err != nil {
		return advance.Advance{}, err
	}

	if a.Outstanding, err = parseAmount(outstanding); err != nil {
		return advance.Advance{}, err
	}
	if a.Suggested, err = parseAmount(suggested); err != nil {
		return advance.Advance{}, err
	}
	if a.StartDate, err = time.Parse(advance.DateLayout, start); err != nil {
		return advance.Advance{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if end.Valid {
		t, err := time.Parse(advance.DateLayout, end.String)
		if err != nil {
			return advance.Advance{}, fmt.Errorf("invalid expected end date %q: %w", end.String, err)
		}
		a.ExpectedEndDate = &t
	}
	if account.Valid {
		acc := advance.AccountID(account.Int64)
		a.SourceAccountID = &acc
	}
	a.Status = advance.AdvanceStatus(status)
	a.Periodicity = advance.Periodicity(periodicity)
	return a, nil
}

func scanPayment(row scanner) (advance.Payment, error) {
	var p advance.Payment
	var amount, due, kind, status string
	var account sql.NullInt64
	err := row.Scan(&p.ID, &p.AdvanceID, &amount, &due, &kind, &status, &account, &p.Description)
	if err != nil {
		return advance.Payment{}, err
	}

	if p.Amount, err = parseAmount(amount); err != nil {
		return advance.Payment{}, err
	}
	if p.DueDate, err = time.Parse(advance.DateLayout, due); err != nil {
		return advance.Payment{}, fmt.Errorf("invalid due date %q: %w", due, err)
	}
	if account.Valid {
		acc := advance.AccountID(account.Int64)
		p.DestinationAccountID = &acc
	}
	p.Kind = advance.PaymentKind(kind)
	p.Status = advance.PaymentStatus(status)
	return p, nil
}

func parseAmount(value string) (advance.Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored amount %q: %w", value, err)
	}
	m, err := advance.MoneyFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("invalid stored amount %q: %w", value, err)
	}
	return m, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: advance.FormatDate(*t), Valid: true}
}

func nullAccount(id *advance.AccountID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func expectRow(res sql.Result, notFound error, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", notFound, id)
	}
	return nil
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
