package store

import (
	"context"
	"errors"
	"time"

	"github.com/skala-erp/bankrecon/internal/models"
)

// Errors shared by all store implementations.
var (
	// ErrNotFound means the referenced entry, statement or period does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation does not apply to the entry's
	// current reconciled/pending state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict means a concurrent mutation was detected by the
	// optimistic version check.
	ErrConflict = errors.New("conflict")
)

// LedgerStore holds book-side movements for an account. Date windows are
// half-open: from inclusive, to exclusive. Listings are ordered by date
// ascending with the transaction identifier as the stable tie-break.
type LedgerStore interface {
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetEntry(ctx context.Context, id int64) (*models.LedgerEntry, error)
	ListUnreconciled(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error)
	ListAll(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error)
	// ListCleared returns reconciled entries whose bank-clear date falls
	// in the window.
	ListCleared(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error)
	// SetBankDate fails with ErrInvalidState if the entry is already
	// reconciled; ClearBankDate fails with ErrInvalidState if it is not.
	SetBankDate(ctx context.Context, id int64, date time.Time) (*models.LedgerEntry, error)
	ClearBankDate(ctx context.Context, id int64) (*models.LedgerEntry, error)
}

// StatementStore holds imported bank statement lines.
type StatementStore interface {
	InsertStatement(ctx context.Context, entry *models.StatementEntry) error
	GetStatement(ctx context.Context, id string) (*models.StatementEntry, error)
	ListPending(ctx context.Context, accountID int64, from, to time.Time) ([]models.StatementEntry, error)
	// FindByLedgerEntry returns the statement matched to the ledger entry,
	// or ErrNotFound if none is.
	FindByLedgerEntry(ctx context.Context, ledgerEntryID int64) (*models.StatementEntry, error)
	// HasBankRef reports whether a statement with this bank reference
	// already exists for the account. Used for import deduplication.
	HasBankRef(ctx context.Context, accountID int64, bankRef string) (bool, error)
}

// MatchStore commits and reverts a match as one atomic step across the
// ledger and statement sides.
type MatchStore interface {
	// CommitMatch sets the ledger entry's bank-clear date to the
	// statement's value date and marks the statement matched, atomically.
	CommitMatch(ctx context.Context, statementID string, ledgerEntryID int64) error
	// RevertMatch clears the ledger entry's bank-clear date and, if a
	// statement is linked to it, returns that statement to pending.
	RevertMatch(ctx context.Context, ledgerEntryID int64) error
}

// ReconciliationStore holds the monthly summary records.
type ReconciliationStore interface {
	GetPeriod(ctx context.Context, accountID int64, year, month int) (*models.MonthlyReconciliation, error)
	GetPeriodByID(ctx context.Context, id int64) (*models.MonthlyReconciliation, error)
	CreatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error
	// UpdatePeriod persists the record if its version matches the stored
	// one, bumps the version, and fails with ErrConflict otherwise.
	UpdatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error
}

// UserStore holds API users.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Store is the full persistence surface the engine and handlers depend on.
type Store interface {
	LedgerStore
	StatementStore
	MatchStore
	ReconciliationStore
	UserStore
}
