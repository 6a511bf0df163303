package recon_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/recon"
	"github.com/skala-erp/bankrecon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePeriod(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodOpen, m.Status)
	assert.True(t, m.OpeningBalanceBank.IsZero())
	assert.True(t, m.Difference.IsZero())

	// second access returns the same record
	again, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
}

func TestGetOrCreatePeriodCarriesForwardBalances(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	entry := debitEntry(t, st, accountX, date(2024, time.March, 4), 1, 1500)
	_, err := engine.SetBankDate(ctx, entry.ID, date(2024, time.March, 4))
	require.NoError(t, err)

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	m, err = engine.UpdateBankBalances(ctx, m.ID, decimal.Zero, decimal.NewFromInt(1500), "")
	require.NoError(t, err)
	require.Equal(t, "1500", m.ClosingBalanceBook.String())

	april, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, "1500", april.OpeningBalanceBank.String())
	assert.Equal(t, "1500", april.OpeningBalanceBook.String())
}

func TestGetOrCreatePeriodYearBoundary(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	dec, err := engine.GetOrCreatePeriod(ctx, accountX, 2023, 12)
	require.NoError(t, err)
	_, err = engine.UpdateBankBalances(ctx, dec.ID, decimal.Zero, decimal.NewFromInt(42), "")
	require.NoError(t, err)

	jan, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 1)
	require.NoError(t, err)
	assert.Equal(t, "42", jan.OpeningBalanceBank.String())
}

// Scenario: opening_bank=1000, closing_bank=1500, cleared debits 600 and
// credits 100 give expected_bank_closing=1500, so close succeeds.
func TestCloseBalancedPeriod(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	for _, e := range []struct {
		txnID  int64
		debit  int64
		credit int64
	}{
		{1, 400, 0},
		{2, 200, 0},
		{3, 0, 100},
	} {
		var entry *models.LedgerEntry
		if e.debit > 0 {
			entry = debitEntry(t, st, accountX, date(2024, time.March, 10), e.txnID, e.debit)
		} else {
			entry = creditEntry(t, st, accountX, date(2024, time.March, 10), e.txnID, e.credit)
		}
		_, err := engine.SetBankDate(ctx, entry.ID, date(2024, time.March, 12))
		require.NoError(t, err)
	}

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	m, err = engine.UpdateBankBalances(ctx, m.ID, decimal.NewFromInt(1000), decimal.NewFromInt(1500), "march close")
	require.NoError(t, err)

	assert.Equal(t, "600", m.TotalDebit.String())
	assert.Equal(t, "100", m.TotalCredit.String())
	assert.Equal(t, "1500", m.ExpectedBankClosing.String())
	assert.True(t, m.Difference.IsZero())

	m, err = engine.ClosePeriod(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodClosed, m.Status)
}

// Same figures but closing_bank=1450: difference is -50 and close fails.
func TestCloseUnbalancedPeriod(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	entry := debitEntry(t, st, accountX, date(2024, time.March, 10), 1, 600)
	_, err := engine.SetBankDate(ctx, entry.ID, date(2024, time.March, 12))
	require.NoError(t, err)
	credit := creditEntry(t, st, accountX, date(2024, time.March, 11), 2, 100)
	_, err = engine.SetBankDate(ctx, credit.ID, date(2024, time.March, 12))
	require.NoError(t, err)

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	m, err = engine.UpdateBankBalances(ctx, m.ID, decimal.NewFromInt(1000), decimal.NewFromInt(1450), "")
	require.NoError(t, err)
	assert.Equal(t, "-50", m.Difference.String())

	_, err = engine.ClosePeriod(ctx, m.ID)
	assert.ErrorIs(t, err, recon.ErrNotBalanced)

	m, err = engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodOpen, m.Status)
}

func TestCloseToleranceIsExclusive(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)

	// a one-cent difference is exactly at the tolerance and must fail
	m, err = engine.UpdateBankBalances(ctx, m.ID, decimal.Zero, decimal.NewFromFloat(0.01), "")
	require.NoError(t, err)
	_, err = engine.ClosePeriod(ctx, m.ID)
	assert.ErrorIs(t, err, recon.ErrNotBalanced)

	// just inside the tolerance closes
	m, err = engine.UpdateBankBalances(ctx, m.ID, decimal.Zero, decimal.NewFromFloat(0.009), "")
	require.NoError(t, err)
	_, err = engine.ClosePeriod(ctx, m.ID)
	assert.NoError(t, err)
}

func TestUpdateBankBalancesOnClosedPeriod(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	_, err = engine.ClosePeriod(ctx, m.ID)
	require.NoError(t, err)

	_, err = engine.UpdateBankBalances(ctx, m.ID, decimal.Zero, decimal.NewFromInt(10), "")
	assert.ErrorIs(t, err, recon.ErrPeriodClosed)
}

func TestCloseTwiceFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	_, err = engine.ClosePeriod(ctx, m.ID)
	require.NoError(t, err)

	_, err = engine.ClosePeriod(ctx, m.ID)
	assert.ErrorIs(t, err, recon.ErrPeriodClosed)
}

func TestReopenPeriod(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	_, err = engine.ClosePeriod(ctx, m.ID)
	require.NoError(t, err)

	m, err = engine.ReopenPeriod(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PeriodOpen, m.Status)

	// balance edits work again after reopen
	_, err = engine.UpdateBankBalances(ctx, m.ID, decimal.Zero, decimal.Zero, "corrected")
	assert.NoError(t, err)
}

func TestReopenOpenPeriodFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)

	_, err = engine.ReopenPeriod(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestMatchingRecomputesPeriod(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	m, err := engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	require.True(t, m.TotalDebit.IsZero())

	entry := debitEntry(t, st, accountX, date(2024, time.March, 4), 1, 500)
	statement(t, st, accountX, "st-1", date(2024, time.March, 5), 500)
	_, err = engine.ManualMatch(ctx, "st-1", entry.ID)
	require.NoError(t, err)

	m, err = engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, "500", m.TotalDebit.String())
	assert.Equal(t, "500", m.ExpectedBankClosing.String())

	// unmatching folds the totals back
	_, err = engine.ClearBankDate(ctx, entry.ID)
	require.NoError(t, err)
	m, err = engine.GetOrCreatePeriod(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.True(t, m.TotalDebit.IsZero())
}

func TestUnknownPeriodID(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.ClosePeriod(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = engine.UpdateBankBalances(ctx, 404, decimal.Zero, decimal.Zero, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = engine.ReopenPeriod(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPeriodReport(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	debitEntry(t, st, accountX, date(2024, time.March, 4), 1, 500)
	matched := debitEntry(t, st, accountX, date(2024, time.March, 6), 2, 200)
	statement(t, st, accountX, "st-1", date(2024, time.March, 6), 200)
	statement(t, st, accountX, "st-2", date(2024, time.March, 9), 75)
	_, err := engine.ManualMatch(ctx, "st-1", matched.ID)
	require.NoError(t, err)

	report, err := engine.Report(ctx, accountX, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, report.UnreconciledCount)
	assert.Equal(t, 1, report.PendingCount)
	require.Len(t, report.UnreconciledEntries, 1)
	assert.Equal(t, "TXN-1", report.UnreconciledEntries[0].TransactionNo)
	require.Len(t, report.PendingStatements, 1)
	assert.Equal(t, "st-2", report.PendingStatements[0].ID)
}
