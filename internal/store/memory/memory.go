package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/store"
)

// Store is an in-memory implementation of store.Store. It is thread-safe
// and intended for tests and single-process development mode.
type Store struct {
	mu         sync.Mutex
	entries    map[int64]*models.LedgerEntry
	statements map[string]*models.StatementEntry
	periods    map[int64]*models.MonthlyReconciliation
	users      map[int64]*models.User
	nextEntry  int64
	nextPeriod int64
	nextUser   int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entries:    make(map[int64]*models.LedgerEntry),
		statements: make(map[string]*models.StatementEntry),
		periods:    make(map[int64]*models.MonthlyReconciliation),
		users:      make(map[int64]*models.User),
	}
}

func inWindow(d, from, to time.Time) bool {
	return !d.Before(from) && d.Before(to)
}

func sortEntries(entries []models.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		if entries[i].TransactionID != entries[j].TransactionID {
			return entries[i].TransactionID < entries[j].TransactionID
		}
		return entries[i].ID < entries[j].ID
	})
}

// InsertEntry stores a new ledger entry, assigning its ID.
func (s *Store) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEntry++
	entry.ID = s.nextEntry
	entry.Reconciled = entry.BankDate != nil
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

// GetEntry returns a copy of the ledger entry.
func (s *Store) GetEntry(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEntryLocked(id)
}

func (s *Store) getEntryLocked(id int64) (*models.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger entry %d: %w", id, store.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) listEntries(accountID int64, from, to time.Time, keep func(*models.LedgerEntry) bool) []models.LedgerEntry {
	var result []models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && inWindow(e.Date, from, to) && keep(e) {
			result = append(result, *e)
		}
	}
	sortEntries(result)
	return result
}

// ListUnreconciled returns entries with no bank-clear date in the window.
func (s *Store) ListUnreconciled(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEntries(accountID, from, to, func(e *models.LedgerEntry) bool {
		return e.BankDate == nil
	}), nil
}

// ListAll returns every entry in the window, reconciled or not.
func (s *Store) ListAll(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEntries(accountID, from, to, func(*models.LedgerEntry) bool {
		return true
	}), nil
}

// ListCleared returns reconciled entries whose bank-clear date falls in the window.
func (s *Store) ListCleared(ctx context.Context, accountID int64, from, to time.Time) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && e.BankDate != nil && inWindow(*e.BankDate, from, to) {
			result = append(result, *e)
		}
	}
	sortEntries(result)
	return result, nil
}

// SetBankDate marks the entry reconciled as of date.
func (s *Store) SetBankDate(ctx context.Context, id int64, date time.Time) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setBankDateLocked(id, date)
}

func (s *Store) setBankDateLocked(id int64, date time.Time) (*models.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger entry %d: %w", id, store.ErrNotFound)
	}
	if e.BankDate != nil {
		return nil, fmt.Errorf("ledger entry %d already reconciled: %w", id, store.ErrInvalidState)
	}
	d := date
	e.BankDate = &d
	e.Reconciled = true
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

// ClearBankDate removes the entry's bank-clear date.
func (s *Store) ClearBankDate(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearBankDateLocked(id)
}

func (s *Store) clearBankDateLocked(id int64) (*models.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("ledger entry %d: %w", id, store.ErrNotFound)
	}
	if e.BankDate == nil {
		return nil, fmt.Errorf("ledger entry %d not reconciled: %w", id, store.ErrInvalidState)
	}
	e.BankDate = nil
	e.Reconciled = false
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

// InsertStatement stores a new statement entry.
func (s *Store) InsertStatement(ctx context.Context, entry *models.StatementEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Status == "" {
		entry.Status = models.StatementPending
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	cp := *entry
	s.statements[entry.ID] = &cp
	return nil
}

// GetStatement returns a copy of the statement entry.
func (s *Store) GetStatement(ctx context.Context, id string) (*models.StatementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, fmt.Errorf("statement entry %s: %w", id, store.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

// ListPending returns pending statement lines in the window, ordered by
// value date ascending.
func (s *Store) ListPending(ctx context.Context, accountID int64, from, to time.Time) ([]models.StatementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.StatementEntry
	for _, st := range s.statements {
		if st.AccountID == accountID && st.Status == models.StatementPending && inWindow(st.ValueDate, from, to) {
			result = append(result, *st)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ValueDate.Equal(result[j].ValueDate) {
			return result[i].ValueDate.Before(result[j].ValueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// FindByLedgerEntry returns the statement matched to the ledger entry.
func (s *Store) FindByLedgerEntry(ctx context.Context, ledgerEntryID int64) (*models.StatementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByLedgerEntryLocked(ledgerEntryID)
}

func (s *Store) findByLedgerEntryLocked(ledgerEntryID int64) (*models.StatementEntry, error) {
	for _, st := range s.statements {
		if st.MatchedEntryID != nil && *st.MatchedEntryID == ledgerEntryID {
			cp := *st
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no statement matched to ledger entry %d: %w", ledgerEntryID, store.ErrNotFound)
}

// HasBankRef reports whether a statement with this bank reference exists.
func (s *Store) HasBankRef(ctx context.Context, accountID int64, bankRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.statements {
		if st.AccountID == accountID && st.BankRef == bankRef {
			return true, nil
		}
	}
	return false, nil
}

// CommitMatch links the statement and ledger entry under one lock so the
// two sides cannot be observed half-matched.
func (s *Store) CommitMatch(ctx context.Context, statementID string, ledgerEntryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok {
		return fmt.Errorf("statement entry %s: %w", statementID, store.ErrNotFound)
	}
	if st.Status != models.StatementPending {
		return fmt.Errorf("statement entry %s is %s: %w", statementID, st.Status, store.ErrInvalidState)
	}
	if _, err := s.setBankDateLocked(ledgerEntryID, st.ValueDate); err != nil {
		return err
	}
	id := ledgerEntryID
	st.Status = models.StatementMatched
	st.MatchedEntryID = &id
	st.UpdatedAt = time.Now()
	return nil
}

// RevertMatch clears the ledger entry's bank date and returns the linked
// statement, if any, to pending.
func (s *Store) RevertMatch(ctx context.Context, ledgerEntryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.clearBankDateLocked(ledgerEntryID); err != nil {
		return err
	}
	for _, st := range s.statements {
		if st.MatchedEntryID != nil && *st.MatchedEntryID == ledgerEntryID {
			st.Status = models.StatementPending
			st.MatchedEntryID = nil
			st.UpdatedAt = time.Now()
		}
	}
	return nil
}

// GetPeriod returns the summary record for an account-period.
func (s *Store) GetPeriod(ctx context.Context, accountID int64, year, month int) (*models.MonthlyReconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.periods {
		if m.AccountID == accountID && m.Year == year && m.Month == month {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("reconciliation %d/%d-%02d: %w", accountID, year, month, store.ErrNotFound)
}

// GetPeriodByID returns the summary record by identifier.
func (s *Store) GetPeriodByID(ctx context.Context, id int64) (*models.MonthlyReconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.periods[id]
	if !ok {
		return nil, fmt.Errorf("reconciliation %d: %w", id, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// CreatePeriod stores a new summary record, assigning its ID and version.
func (s *Store) CreatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.periods {
		if existing.AccountID == m.AccountID && existing.Year == m.Year && existing.Month == m.Month {
			return fmt.Errorf("reconciliation %d/%d-%02d exists: %w", m.AccountID, m.Year, m.Month, store.ErrConflict)
		}
	}
	s.nextPeriod++
	m.ID = s.nextPeriod
	m.Version = 1
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	s.periods[m.ID] = &cp
	return nil
}

// UpdatePeriod persists the record under an optimistic version check.
func (s *Store) UpdatePeriod(ctx context.Context, m *models.MonthlyReconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.periods[m.ID]
	if !ok {
		return fmt.Errorf("reconciliation %d: %w", m.ID, store.ErrNotFound)
	}
	if existing.Version != m.Version {
		return fmt.Errorf("reconciliation %d version %d != %d: %w", m.ID, m.Version, existing.Version, store.ErrConflict)
	}
	m.Version++
	m.UpdatedAt = time.Now()
	cp := *m
	s.periods[m.ID] = &cp
	return nil
}

// CreateUser stores a new user, assigning its ID.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s exists: %w", user.Email, store.ErrConflict)
		}
	}
	s.nextUser++
	user.ID = s.nextUser
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// FindUserByEmail retrieves a user by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
}
