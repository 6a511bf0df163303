package recon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/store"
)

// Notifier is told about successful period closes. Delivery is best
// effort; failures are logged, never propagated.
type Notifier interface {
	PeriodClosed(m *models.MonthlyReconciliation) error
}

// Engine coordinates the ledger, statement and reconciliation stores. All
// mutations for one account are serialized through a per-account lock so
// concurrent matches cannot consume the same entry twice.
type Engine struct {
	store    store.Store
	log      *logrus.Logger
	notifier Notifier

	// strictAmounts makes ManualMatch reject pairs whose amounts or
	// directions disagree. Off by default.
	strictAmounts bool

	muMap map[int64]*sync.Mutex
	mapMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictAmounts enables amount equality checking on manual matches.
func WithStrictAmounts() Option {
	return func(e *Engine) { e.strictAmounts = true }
}

// WithNotifier registers a period-close notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine initializes a new reconciliation engine.
func NewEngine(st store.Store, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		log:   log,
		muMap: make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) accountLock(accountID int64) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	if _, exists := e.muMap[accountID]; !exists {
		e.muMap[accountID] = &sync.Mutex{}
	}
	return e.muMap[accountID]
}

// periodClosedAt reports whether the period containing t is closed. A
// period with no record yet is open.
func (e *Engine) periodClosedAt(ctx context.Context, accountID int64, t time.Time) (bool, error) {
	m, err := e.store.GetPeriod(ctx, accountID, t.Year(), int(t.Month()))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Status == models.PeriodClosed, nil
}

// ListLedgerEntries returns ledger entries for the account window,
// optionally restricted to unreconciled ones.
func (e *Engine) ListLedgerEntries(ctx context.Context, accountID int64, from, to time.Time, unreconciledOnly bool) ([]models.LedgerEntry, error) {
	if unreconciledOnly {
		return e.store.ListUnreconciled(ctx, accountID, from, to)
	}
	return e.store.ListAll(ctx, accountID, from, to)
}

// ListPendingStatements returns pending statement lines for the account window.
func (e *Engine) ListPendingStatements(ctx context.Context, accountID int64, from, to time.Time) ([]models.StatementEntry, error) {
	return e.store.ListPending(ctx, accountID, from, to)
}

// SetBankDate marks a ledger entry as cleared by the bank on date. Fails
// with store.ErrInvalidState if the entry is already reconciled and with
// ErrPeriodClosed if the period the date falls in is closed.
func (e *Engine) SetBankDate(ctx context.Context, entryID int64, date time.Time) (*models.LedgerEntry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	mu := e.accountLock(entry.AccountID)
	mu.Lock()
	defer mu.Unlock()

	closed, err := e.periodClosedAt(ctx, entry.AccountID, date)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, fmt.Errorf("period %d-%02d: %w", date.Year(), int(date.Month()), ErrPeriodClosed)
	}

	updated, err := e.store.SetBankDate(ctx, entryID, date)
	if err != nil {
		return nil, err
	}
	if err := e.recomputeAt(ctx, entry.AccountID, date); err != nil {
		return nil, err
	}

	e.log.Infof("Ledger entry %d reconciled as of %s", entryID, date.Format("2006-01-02"))
	return updated, nil
}

// ClearBankDate undoes reconciliation of a ledger entry. The linked
// statement entry, if any, returns to pending so the two stores never
// disagree. Fails with ErrPeriodClosed once the owning period is closed.
func (e *Engine) ClearBankDate(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.BankDate == nil {
		return nil, fmt.Errorf("ledger entry %d not reconciled: %w", entryID, store.ErrInvalidState)
	}

	mu := e.accountLock(entry.AccountID)
	mu.Lock()
	defer mu.Unlock()

	bankDate := *entry.BankDate
	closed, err := e.periodClosedAt(ctx, entry.AccountID, bankDate)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, fmt.Errorf("period %d-%02d: %w", bankDate.Year(), int(bankDate.Month()), ErrPeriodClosed)
	}

	if err := e.store.RevertMatch(ctx, entryID); err != nil {
		return nil, err
	}
	if err := e.recomputeAt(ctx, entry.AccountID, bankDate); err != nil {
		return nil, err
	}

	e.log.Infof("Ledger entry %d returned to unreconciled", entryID)
	return e.store.GetEntry(ctx, entryID)
}

// ManualMatch links one statement entry to one ledger entry. Either side
// already having a counterpart fails with ErrAlreadyMatched; under strict
// amounts a disagreeing pair fails with ErrAmountMismatch.
func (e *Engine) ManualMatch(ctx context.Context, statementID string, ledgerEntryID int64) (*models.StatementEntry, error) {
	st, err := e.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatementPending {
		return nil, fmt.Errorf("statement entry %s: %w", statementID, ErrAlreadyMatched)
	}

	entry, err := e.store.GetEntry(ctx, ledgerEntryID)
	if err != nil {
		return nil, err
	}
	if entry.AccountID != st.AccountID {
		return nil, fmt.Errorf("statement entry %s and ledger entry %d belong to different accounts: %w",
			statementID, ledgerEntryID, store.ErrInvalidState)
	}
	if entry.BankDate != nil {
		return nil, fmt.Errorf("ledger entry %d: %w", ledgerEntryID, ErrAlreadyMatched)
	}

	if e.strictAmounts && !amountsAgree(st, entry) {
		return nil, fmt.Errorf("statement amount %s vs ledger %s/%s: %w",
			st.Amount, entry.Debit, entry.Credit, ErrAmountMismatch)
	}

	mu := e.accountLock(st.AccountID)
	mu.Lock()
	defer mu.Unlock()

	closed, err := e.periodClosedAt(ctx, st.AccountID, st.ValueDate)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, fmt.Errorf("period %d-%02d: %w", st.ValueDate.Year(), int(st.ValueDate.Month()), ErrPeriodClosed)
	}

	if err := e.store.CommitMatch(ctx, statementID, ledgerEntryID); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil, fmt.Errorf("%v: %w", err, ErrAlreadyMatched)
		}
		return nil, err
	}
	if err := e.recomputeAt(ctx, st.AccountID, st.ValueDate); err != nil {
		return nil, err
	}

	e.log.Infof("Statement %s matched to ledger entry %d", statementID, ledgerEntryID)
	return e.store.GetStatement(ctx, statementID)
}

// amountsAgree checks direction and amount equality: a positive statement
// amount (money in) pairs with a ledger debit of the same magnitude, a
// negative one with a ledger credit.
func amountsAgree(st *models.StatementEntry, entry *models.LedgerEntry) bool {
	if st.Amount.IsPositive() {
		return entry.IsDebit() && entry.Debit.Equal(st.Amount)
	}
	return !entry.IsDebit() && entry.Credit.Equal(st.Amount.Abs())
}

// AutoReconcile greedily pairs pending statement lines dated up to asOf
// with unreconciled ledger entries of equal amount and agreeing direction.
// Lines with no candidate are skipped, never an error. Each match commits
// independently, so progress made before cancellation stays committed.
func (e *Engine) AutoReconcile(ctx context.Context, accountID int64, asOf time.Time) (int, error) {
	mu := e.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	// value date <= asOf with a half-open store window
	to := asOf.AddDate(0, 0, 1)
	pending, err := e.store.ListPending(ctx, accountID, time.Time{}, to)
	if err != nil {
		return 0, err
	}
	candidates, err := e.store.ListUnreconciled(ctx, accountID, time.Time{}, to)
	if err != nil {
		return 0, err
	}

	consumed := make(map[int64]bool)
	touched := make(map[[2]int]time.Time)
	count := 0

	for _, st := range pending {
		if ctx.Err() != nil {
			break
		}
		closed, err := e.periodClosedAt(ctx, accountID, st.ValueDate)
		if err != nil {
			return count, err
		}
		if closed {
			continue
		}

		// candidates are ordered by date then transaction identifier, so the
		// first fit is the tie-break winner
		for _, entry := range candidates {
			if consumed[entry.ID] || !amountsAgree(&st, &entry) {
				continue
			}
			if err := e.store.CommitMatch(ctx, st.ID, entry.ID); err != nil {
				e.log.Warnf("Auto-reconcile skipped statement %s: %v", st.ID, err)
				break
			}
			consumed[entry.ID] = true
			touched[[2]int{st.ValueDate.Year(), int(st.ValueDate.Month())}] = st.ValueDate
			count++
			break
		}
	}

	for _, d := range touched {
		if err := e.recomputeAt(ctx, accountID, d); err != nil {
			return count, err
		}
	}

	e.log.Infof("Auto-reconcile for account %d as of %s: %d matched", accountID, asOf.Format("2006-01-02"), count)
	return count, nil
}
