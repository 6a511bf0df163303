package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Voucher types a ledger entry can originate from
const (
	VoucherPayment  = "payment"
	VoucherReceipt  = "receipt"
	VoucherJournal  = "journal"
	VoucherContra   = "contra"
	VoucherSales    = "sales"
	VoucherPurchase = "purchase"
)

// LedgerEntry represents a book-side transaction line for a bank account
type LedgerEntry struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	TransactionID int64           `json:"transaction_id"`
	TransactionNo string          `json:"transaction_no"`
	Date          time.Time       `json:"date"`
	VoucherType   string          `json:"voucher_type"`
	Reference     string          `json:"reference"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	BankDate      *time.Time      `json:"bank_date,omitempty"`
	Reconciled    bool            `json:"reconciled"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsDebit reports whether the entry moves money into the bank account.
// Debit and credit are mutually exclusive, so a zero debit means credit.
func (e *LedgerEntry) IsDebit() bool {
	return e.Debit.IsPositive()
}

// Amount returns the non-zero side of the entry.
func (e *LedgerEntry) Amount() decimal.Decimal {
	if e.IsDebit() {
		return e.Debit
	}
	return e.Credit
}
