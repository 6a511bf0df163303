package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/store"
)

// GetOrCreatePeriod returns the summary record for an account-period,
// creating it on first access. Opening balances default to the prior
// period's closing balances when that period exists, else zero.
func (e *Engine) GetOrCreatePeriod(ctx context.Context, accountID int64, year, month int) (*models.MonthlyReconciliation, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month %d out of range: %w", month, store.ErrNotFound)
	}

	mu := e.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.GetPeriod(ctx, accountID, year, month)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	m = &models.MonthlyReconciliation{
		AccountID: accountID,
		Year:      year,
		Month:     month,
		Status:    models.PeriodOpen,
	}

	prevYear, prevMonth := year, month-1
	if prevMonth == 0 {
		prevYear, prevMonth = year-1, 12
	}
	prev, err := e.store.GetPeriod(ctx, accountID, prevYear, prevMonth)
	if err == nil {
		m.OpeningBalanceBank = prev.ClosingBalanceBank
		m.OpeningBalanceBook = prev.ClosingBalanceBook
		m.ClosingBalanceBank = prev.ClosingBalanceBank
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := e.recomputePeriod(ctx, m); err != nil {
		return nil, err
	}
	if err := e.store.CreatePeriod(ctx, m); err != nil {
		return nil, err
	}

	e.log.Infof("Reconciliation period %d-%02d created for account %d", year, month, accountID)
	return m, nil
}

// UpdateBankBalances records the user-entered statement balances and notes
// for an open period. Fails with ErrPeriodClosed otherwise.
func (e *Engine) UpdateBankBalances(ctx context.Context, id int64, openingBank, closingBank decimal.Decimal, notes string) (*models.MonthlyReconciliation, error) {
	m, err := e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}

	mu := e.accountLock(m.AccountID)
	mu.Lock()
	defer mu.Unlock()

	m, err = e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == models.PeriodClosed {
		return nil, fmt.Errorf("reconciliation %d: %w", id, ErrPeriodClosed)
	}

	m.OpeningBalanceBank = openingBank
	m.ClosingBalanceBank = closingBank
	m.Notes = notes
	if err := e.recomputePeriod(ctx, m); err != nil {
		return nil, err
	}
	if err := e.store.UpdatePeriod(ctx, m); err != nil {
		return nil, err
	}

	e.log.Infof("Bank balances updated for reconciliation %d: difference %s", id, m.Difference)
	return m, nil
}

// Recompute re-derives the computed fields of a period from the ledger.
func (e *Engine) Recompute(ctx context.Context, id int64) (*models.MonthlyReconciliation, error) {
	m, err := e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}

	mu := e.accountLock(m.AccountID)
	mu.Lock()
	defer mu.Unlock()

	m, err = e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.recomputePeriod(ctx, m); err != nil {
		return nil, err
	}
	if err := e.store.UpdatePeriod(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ClosePeriod moves an open period to closed. Fails with ErrNotBalanced
// unless the difference is inside the tolerance at call time.
func (e *Engine) ClosePeriod(ctx context.Context, id int64) (*models.MonthlyReconciliation, error) {
	m, err := e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}

	mu := e.accountLock(m.AccountID)
	mu.Lock()
	defer mu.Unlock()

	m, err = e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == models.PeriodClosed {
		return nil, fmt.Errorf("reconciliation %d: %w", id, ErrPeriodClosed)
	}

	if err := e.recomputePeriod(ctx, m); err != nil {
		return nil, err
	}
	if !m.Balanced() {
		// persist the freshly computed figures so the caller sees why
		if err := e.store.UpdatePeriod(ctx, m); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("reconciliation %d difference %s: %w", id, m.Difference, ErrNotBalanced)
	}

	m.Status = models.PeriodClosed
	if err := e.store.UpdatePeriod(ctx, m); err != nil {
		return nil, err
	}

	e.log.Infof("Reconciliation period %d-%02d closed for account %d", m.Year, m.Month, m.AccountID)
	if e.notifier != nil {
		if err := e.notifier.PeriodClosed(m); err != nil {
			e.log.Errorf("Failed to send close notification for reconciliation %d: %v", id, err)
		}
	}
	return m, nil
}

// ReopenPeriod returns a closed period to open so its figures can be
// corrected. Fails with store.ErrInvalidState if the period is not closed.
func (e *Engine) ReopenPeriod(ctx context.Context, id int64) (*models.MonthlyReconciliation, error) {
	m, err := e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}

	mu := e.accountLock(m.AccountID)
	mu.Lock()
	defer mu.Unlock()

	m, err = e.store.GetPeriodByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != models.PeriodClosed {
		return nil, fmt.Errorf("reconciliation %d is open: %w", id, store.ErrInvalidState)
	}

	m.Status = models.PeriodOpen
	if err := e.store.UpdatePeriod(ctx, m); err != nil {
		return nil, err
	}

	e.log.Infof("Reconciliation period %d-%02d reopened for account %d", m.Year, m.Month, m.AccountID)
	return m, nil
}

// recomputeAt refreshes the period containing t, if a record exists. The
// caller must hold the account lock.
func (e *Engine) recomputeAt(ctx context.Context, accountID int64, t time.Time) error {
	m, err := e.store.GetPeriod(ctx, accountID, t.Year(), int(t.Month()))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.recomputePeriod(ctx, m); err != nil {
		return err
	}
	return e.store.UpdatePeriod(ctx, m)
}

// recomputePeriod re-derives totals and balances in place. Bank-side
// totals sum the entries cleared by the bank inside the period; the book
// closing balance moves by every entry booked inside the period.
func (e *Engine) recomputePeriod(ctx context.Context, m *models.MonthlyReconciliation) error {
	from, to := m.PeriodStart(), m.PeriodEnd()

	cleared, err := e.store.ListCleared(ctx, m.AccountID, from, to)
	if err != nil {
		return err
	}
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, entry := range cleared {
		totalDebit = totalDebit.Add(entry.Debit)
		totalCredit = totalCredit.Add(entry.Credit)
	}
	m.TotalDebit = totalDebit
	m.TotalCredit = totalCredit

	booked, err := e.store.ListAll(ctx, m.AccountID, from, to)
	if err != nil {
		return err
	}
	closingBook := m.OpeningBalanceBook
	for _, entry := range booked {
		closingBook = closingBook.Add(entry.Debit).Sub(entry.Credit)
	}
	m.ClosingBalanceBook = closingBook

	m.Derive()
	return nil
}

// PeriodReport summarizes what still stands between a period and close.
type PeriodReport struct {
	Period              *models.MonthlyReconciliation `json:"period"`
	UnreconciledCount   int                           `json:"unreconciled_count"`
	PendingCount        int                           `json:"pending_count"`
	UnreconciledEntries []models.LedgerEntry          `json:"unreconciled_entries"`
	PendingStatements   []models.StatementEntry       `json:"pending_statements"`
}

// Report lists the unreconciled ledger entries and pending statement lines
// of a period alongside its summary figures.
func (e *Engine) Report(ctx context.Context, accountID int64, year, month int) (*PeriodReport, error) {
	m, err := e.GetOrCreatePeriod(ctx, accountID, year, month)
	if err != nil {
		return nil, err
	}

	from, to := m.PeriodStart(), m.PeriodEnd()
	entries, err := e.store.ListUnreconciled(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	statements, err := e.store.ListPending(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	return &PeriodReport{
		Period:              m,
		UnreconciledCount:   len(entries),
		PendingCount:        len(statements),
		UnreconciledEntries: entries,
		PendingStatements:   statements,
	}, nil
}
