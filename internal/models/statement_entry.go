package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement entry statuses
const (
	StatementPending = "pending"
	StatementMatched = "matched"
)

// StatementEntry represents a line imported from an external bank statement.
// Amount is signed: positive is money into the bank account, negative out.
type StatementEntry struct {
	ID             string          `json:"id"`
	AccountID      int64           `json:"account_id"`
	ValueDate      time.Time       `json:"value_date"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	BankRef        string          `json:"bank_ref,omitempty"`
	Status         string          `json:"status"`
	MatchedEntryID *int64          `json:"matched_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
