package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/store"
)

// Store provides database operations for the reconciliation engine.
type Store struct {
	db *sql.DB
}

// NewStore initializes a new Postgres-backed store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, account_id, transaction_id, transaction_no, date, voucher_type,
		reference, debit, credit, bank_date, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	var bankDate sql.NullTime
	err := row.Scan(&e.ID, &e.AccountID, &e.TransactionID, &e.TransactionNo, &e.Date,
		&e.VoucherType, &e.Reference, &e.Debit, &e.Credit, &bankDate, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if bankDate.Valid {
		d := bankDate.Time
		e.BankDate = &d
		e.Reconciled = true
	}
	return e, nil
}

// InsertEntry creates a new ledger entry in the database.
func (s *Store) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO recon.ledger_entries
			(account_id, transaction_id, transaction_no, date, voucher_type, reference, debit, credit, bank_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, entry.AccountID, entry.TransactionID, entry.TransactionNo,
		entry.Date, entry.VoucherType, entry.Reference, entry.Debit, entry.Credit, nullTime(entry.BankDate)).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	entry.Reconciled = entry.BankDate != nil
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetEntry retrieves a ledger entry by ID.
func (s *Store) GetEntry(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM recon.ledger_entries WHERE id = $1`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ledger entry %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return e, nil
}

func (s *Store) listEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var result []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	return result, nil
}

// ListUnreconciled returns entries with no bank-clear date in the window.
func (s *Store) ListUnreconciled(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM recon.ledger_entries
		WHERE account_id = $1 AND date >= $2 AND date < $3 AND bank_date IS NULL
		ORDER BY date, transaction_id, id`
	return s.listEntries(ctx, query, accountID, from, to)
}

// ListAll returns every entry in the window, reconciled or not.
func (s *Store) ListAll(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM recon.ledger_entries
		WHERE account_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, transaction_id, id`
	return s.listEntries(ctx, query, accountID, from, to)
}

// ListCleared returns reconciled entries whose bank-clear date falls in the window.
func (s *Store) ListCleared(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM recon.ledger_entries
		WHERE account_id = $1 AND bank_date >= $2 AND bank_date < $3
		ORDER BY date, transaction_id, id`
	return s.listEntries(ctx, query, accountID, from, to)
}

// SetBankDate marks the entry reconciled as of date.
func (s *Store) SetBankDate(ctx context.Context, id int64, date time.Time) (*models.LedgerEntry, error) {
	return s.setBankDate(ctx, s.db, id, date)
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) setBankDate(ctx context.Context, q execQuerier, id int64, date time.Time) (*models.LedgerEntry, error) {
	query := `
		UPDATE recon.ledger_entries
		SET bank_date = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND bank_date IS NULL
		RETURNING ` + entryColumns
	e, err := scanEntry(q.QueryRowContext(ctx, query, id, date))
	if err == sql.ErrNoRows {
		return nil, s.entryStateError(ctx, id, "already reconciled")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set bank date: %w", err)
	}
	return e, nil
}

// ClearBankDate removes the entry's bank-clear date.
func (s *Store) ClearBankDate(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	return s.clearBankDate(ctx, s.db, id)
}

func (s *Store) clearBankDate(ctx context.Context, q execQuerier, id int64) (*models.LedgerEntry, error) {
	query := `
		UPDATE recon.ledger_entries
		SET bank_date = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND bank_date IS NOT NULL
		RETURNING ` + entryColumns
	e, err := scanEntry(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, s.entryStateError(ctx, id, "not reconciled")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clear bank date: %w", err)
	}
	return e, nil
}

// entryStateError distinguishes a missing entry from one in the wrong state
// after a guarded UPDATE matched no rows.
func (s *Store) entryStateError(ctx context.Context, id int64, state string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM recon.ledger_entries WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("ledger entry %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return fmt.Errorf("ledger entry %d %s: %w", id, state, store.ErrInvalidState)
}

const statementColumns = `id, account_id, value_date, amount, description, bank_ref,
		status, matched_entry_id, created_at, updated_at`

func scanStatement(row interface{ Scan(...any) error }) (*models.StatementEntry, error) {
	st := &models.StatementEntry{}
	var matched sql.NullInt64
	err := row.Scan(&st.ID, &st.AccountID, &st.ValueDate, &st.Amount, &st.Description,
		&st.BankRef, &st.Status, &matched, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if matched.Valid {
		id := matched.Int64
		st.MatchedEntryID = &id
	}
	return st, nil
}

// InsertStatement creates a new statement entry in the database.
func (s *Store) InsertStatement(ctx context.Context, entry *models.StatementEntry) error {
	if entry.Status == "" {
		entry.Status = models.StatementPending
	}
	query := `
		INSERT INTO recon.statement_entries
			(id, account_id, value_date, amount, description, bank_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, entry.ID, entry.AccountID, entry.ValueDate,
		entry.Amount, entry.Description, entry.BankRef, entry.Status).
		Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create statement entry: %w", err)
	}
	return nil
}

// GetStatement retrieves a statement entry by ID.
func (s *Store) GetStatement(ctx context.Context, id string) (*models.StatementEntry, error) {
	query := `SELECT ` + statementColumns + ` FROM recon.statement_entries WHERE id = $1`
	st, err := scanStatement(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("statement entry %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find statement entry: %w", err)
	}
	return st, nil
}

// ListPending returns pending statement lines in the window, ordered by
// value date ascending.
func (s *Store) ListPending(ctx context.Context, accountID int64, from, to time.Time) ([]models.StatementEntry, error) {
	query := `
		SELECT ` + statementColumns + `
		FROM recon.statement_entries
		WHERE account_id = $1 AND value_date >= $2 AND value_date < $3 AND status = $4
		ORDER BY value_date, id`
	rows, err := s.db.QueryContext(ctx, query, accountID, from, to, models.StatementPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list statement entries: %w", err)
	}
	defer rows.Close()

	var result []models.StatementEntry
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement entry: %w", err)
		}
		result = append(result, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read statement entries: %w", err)
	}
	return result, nil
}

// FindByLedgerEntry returns the statement matched to the ledger entry.
func (s *Store) FindByLedgerEntry(ctx context.Context, ledgerEntryID int64) (*models.StatementEntry, error) {
	query := `SELECT ` + statementColumns + ` FROM recon.statement_entries WHERE matched_entry_id = $1`
	st, err := scanStatement(s.db.QueryRowContext(ctx, query, ledgerEntryID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no statement matched to ledger entry %d: %w", ledgerEntryID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find statement entry: %w", err)
	}
	return st, nil
}

// HasBankRef reports whether a statement with this bank reference exists.
func (s *Store) HasBankRef(ctx context.Context, accountID int64, bankRef string) (bool, error) {
	var one int
	query := `SELECT 1 FROM recon.statement_entries WHERE account_id = $1 AND bank_ref = $2 LIMIT 1`
	err := s.db.QueryRowContext(ctx, query, accountID, bankRef).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check bank reference: %w", err)
	}
	return true, nil
}

// CommitMatch links the statement and ledger entry in one transaction.
func (s *Store) CommitMatch(ctx context.Context, statementID string, ledgerEntryID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin match: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var valueDate time.Time
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT value_date, status FROM recon.statement_entries WHERE id = $1 FOR UPDATE`,
		statementID).Scan(&valueDate, &status)
	if err == sql.ErrNoRows {
		err = fmt.Errorf("statement entry %s: %w", statementID, store.ErrNotFound)
		return err
	}
	if err != nil {
		err = fmt.Errorf("failed to lock statement entry: %w", err)
		return err
	}
	if status != models.StatementPending {
		err = fmt.Errorf("statement entry %s is %s: %w", statementID, status, store.ErrInvalidState)
		return err
	}

	if _, err = s.setBankDate(ctx, tx, ledgerEntryID, valueDate); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recon.statement_entries
		SET status = $2, matched_entry_id = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		statementID, models.StatementMatched, ledgerEntryID)
	if err != nil {
		err = fmt.Errorf("failed to mark statement matched: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match: %w", err)
	}
	return nil
}

// RevertMatch clears the ledger entry's bank date and returns the linked
// statement, if any, to pending, in one transaction.
func (s *Store) RevertMatch(ctx context.Context, ledgerEntryID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin unmatch: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = s.clearBankDate(ctx, tx, ledgerEntryID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE recon.statement_entries
		SET status = $2, matched_entry_id = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE matched_entry_id = $1`,
		ledgerEntryID, models.StatementPending)
	if err != nil {
		err = fmt.Errorf("failed to return statement to pending: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unmatch: %w", err)
	}
	return nil
}

const periodColumns = `id, account_id, year, month, opening_balance_bank, closing_balance_bank,
		opening_balance_book, closing_balance_book, total_debit, total_credit,
		expected_bank_closing, difference, notes, status, version, created_at, updated_at`

func scanPeriod(row interface{ Scan(...any) error }) (*models.MonthlyReconciliation, error) {
	m := &models.MonthlyReconciliation{}
	err := row.Scan(&m.ID, &m.AccountID, &m.Year, &m.Month,
		&m.OpeningBalanceBank, &m.ClosingBalanceBank, &m.OpeningBalanceBook, &m.ClosingBalanceBook,
		&m.TotalDebit, &m.TotalCredit, &m.ExpectedBankClosing, &m.Difference,
		&m.Notes, &m.Status, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetPeriod retrieves the summary record for an account-period.
func (s *Store) GetPeriod(ctx context.Context, accountID int64, year, month int) (*models.MonthlyReconciliation, error) {
	query := `SELECT ` + periodColumns + `
		FROM recon.monthly_reconciliations
		WHERE account_id = $1 AND year = $2 AND month = $3`
	m, err := scanPeriod(s.db.QueryRowContext(ctx, query, accountID, year, month))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reconciliation %d/%d-%02d: %w", accountID, year, month, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reconciliation: %w", err)
	}
	return m, nil
}

// GetPeriodByID retrieves the summary record by identifier.
func (s *Store) GetPeriodByID(ctx context.Context, id int64) (*models.MonthlyReconciliation, error) {
	query := `SELECT ` + periodColumns + ` FROM recon.monthly_reconciliations WHERE id = $1`
	m, err := scanPeriod(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reconciliation %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reconciliation: %w", err)
	}
	return m, nil
}

// CreatePeriod creates a new summary record in the database.
func (s *Store) CreatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error {
	query := `
		INSERT INTO recon.monthly_reconciliations
			(account_id, year, month, opening_balance_bank, closing_balance_bank,
			 opening_balance_book, closing_balance_book, total_debit, total_credit,
			 expected_bank_closing, difference, notes, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, version, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, m.AccountID, m.Year, m.Month,
		m.OpeningBalanceBank, m.ClosingBalanceBank, m.OpeningBalanceBook, m.ClosingBalanceBook,
		m.TotalDebit, m.TotalCredit, m.ExpectedBankClosing, m.Difference, m.Notes, m.Status).
		Scan(&m.ID, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

// UpdatePeriod persists the record under an optimistic version check.
func (s *Store) UpdatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error {
	query := `
		UPDATE recon.monthly_reconciliations
		SET opening_balance_bank = $3, closing_balance_bank = $4,
			opening_balance_book = $5, closing_balance_book = $6,
			total_debit = $7, total_credit = $8,
			expected_bank_closing = $9, difference = $10,
			notes = $11, status = $12, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err := s.db.QueryRowContext(ctx, query, m.ID, m.Version,
		m.OpeningBalanceBank, m.ClosingBalanceBank, m.OpeningBalanceBook, m.ClosingBalanceBook,
		m.TotalDebit, m.TotalCredit, m.ExpectedBankClosing, m.Difference, m.Notes, m.Status).
		Scan(&m.Version, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		var one int
		checkErr := s.db.QueryRowContext(ctx, `SELECT 1 FROM recon.monthly_reconciliations WHERE id = $1`, m.ID).Scan(&one)
		if checkErr == sql.ErrNoRows {
			return fmt.Errorf("reconciliation %d: %w", m.ID, store.ErrNotFound)
		}
		return fmt.Errorf("reconciliation %d modified concurrently: %w", m.ID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update reconciliation: %w", err)
	}
	return nil
}

// CreateUser creates a new user in the database.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO recon.users (username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM recon.users
		WHERE email = $1`
	err := s.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
