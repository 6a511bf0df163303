package recon

import "errors"

// Engine-level errors. Store-level errors (not found, invalid state,
// conflict) pass through from the store package.
var (
	// ErrPeriodClosed means a mutation was attempted on a closed period.
	ErrPeriodClosed = errors.New("period closed")
	// ErrNotBalanced means close was attempted while the difference is
	// outside the tolerance.
	ErrNotBalanced = errors.New("period not balanced")
	// ErrAlreadyMatched means one side of a manual match already has a
	// counterpart.
	ErrAlreadyMatched = errors.New("already matched")
	// ErrAmountMismatch means strict amount checking rejected a manual match.
	ErrAmountMismatch = errors.New("amount mismatch")
)
