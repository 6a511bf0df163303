package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Monthly reconciliation statuses
const (
	PeriodOpen   = "open"
	PeriodClosed = "closed"
)

// CloseTolerance is the largest absolute difference at which a period may
// still be closed. The gate is exclusive: |difference| must be below it.
var CloseTolerance = decimal.NewFromFloat(0.01)

// MonthlyReconciliation is the summary record for one account-period.
// Bank balances are user-entered; book balances and totals are computed
// from the ledger, and ExpectedBankClosing/Difference are derived.
type MonthlyReconciliation struct {
	ID                  int64           `json:"id"`
	AccountID           int64           `json:"account_id"`
	Year                int             `json:"year"`
	Month               int             `json:"month"`
	OpeningBalanceBank  decimal.Decimal `json:"opening_balance_bank"`
	ClosingBalanceBank  decimal.Decimal `json:"closing_balance_bank"`
	OpeningBalanceBook  decimal.Decimal `json:"opening_balance_book"`
	ClosingBalanceBook  decimal.Decimal `json:"closing_balance_book"`
	TotalDebit          decimal.Decimal `json:"total_debit"`
	TotalCredit         decimal.Decimal `json:"total_credit"`
	ExpectedBankClosing decimal.Decimal `json:"expected_bank_closing"`
	Difference          decimal.Decimal `json:"difference"`
	Notes               string          `json:"notes,omitempty"`
	Status              string          `json:"status"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// PeriodStart returns the first instant of the period (UTC).
func (m *MonthlyReconciliation) PeriodStart() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the first instant after the period (exclusive bound).
func (m *MonthlyReconciliation) PeriodEnd() time.Time {
	return m.PeriodStart().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the period.
func (m *MonthlyReconciliation) Contains(t time.Time) bool {
	return !t.Before(m.PeriodStart()) && t.Before(m.PeriodEnd())
}

// Derive recomputes ExpectedBankClosing and Difference from the current
// balances and totals.
func (m *MonthlyReconciliation) Derive() {
	m.ExpectedBankClosing = m.OpeningBalanceBank.Add(m.TotalDebit).Sub(m.TotalCredit)
	m.Difference = m.ClosingBalanceBank.Sub(m.ExpectedBankClosing)
}

// Balanced reports whether the period may be closed.
func (m *MonthlyReconciliation) Balanced() bool {
	return m.Difference.Abs().Cmp(CloseTolerance) < 0
}
