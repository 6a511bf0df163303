package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/integrations/camt"
	"github.com/skala-erp/bankrecon/internal/recon"
	"github.com/skala-erp/bankrecon/internal/service"
	"github.com/skala-erp/bankrecon/internal/store"
)

const dateLayout = "2006-01-02"

// Handler exposes the reconciliation engine over HTTP.
type Handler struct {
	engine   *recon.Engine
	svc      *service.Service
	importer *camt.Importer
	log      *logrus.Logger
}

// NewHandler initializes a new handler.
func NewHandler(engine *recon.Engine, svc *service.Service, importer *camt.Importer, log *logrus.Logger) *Handler {
	return &Handler{engine: engine, svc: svc, importer: importer, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine and store errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recon.ErrPeriodClosed),
		errors.Is(err, recon.ErrNotBalanced),
		errors.Is(err, recon.ErrAlreadyMatched),
		errors.Is(err, recon.ErrAmountMismatch),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func periodVars(r *http.Request) (accountID int64, year, month int, err error) {
	vars := mux.Vars(r)
	accountID, err = strconv.ParseInt(vars["accountId"], 10, 64)
	if err != nil {
		return 0, 0, 0, errors.New("invalid account id")
	}
	year, err = strconv.Atoi(vars["year"])
	if err != nil {
		return 0, 0, 0, errors.New("invalid year")
	}
	month, err = strconv.Atoi(vars["month"])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, 0, errors.New("invalid month")
	}
	return accountID, year, month, nil
}

// GetPeriod returns the monthly reconciliation, creating it on first access
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	accountID, year, month, err := periodVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.engine.GetOrCreatePeriod(r.Context(), accountID, year, month)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdatePeriod records user-entered bank balances and notes
func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	accountID, year, month, err := periodVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req struct {
		OpeningBalanceBank decimal.Decimal `json:"opening_balance_bank"`
		ClosingBalanceBank decimal.Decimal `json:"closing_balance_bank"`
		Notes              string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := h.engine.GetOrCreatePeriod(r.Context(), accountID, year, month)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err = h.engine.UpdateBankBalances(r.Context(), m.ID, req.OpeningBalanceBank, req.ClosingBalanceBank, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// ClosePeriod moves a balanced period to closed
func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid reconciliation id", http.StatusBadRequest)
		return
	}

	m, err := h.engine.ClosePeriod(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ReopenPeriod returns a closed period to open
func (h *Handler) ReopenPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid reconciliation id", http.StatusBadRequest)
		return
	}

	m, err := h.engine.ReopenPeriod(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PeriodReport lists what still stands between a period and close
func (h *Handler) PeriodReport(w http.ResponseWriter, r *http.Request) {
	accountID, year, month, err := periodVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.engine.Report(r.Context(), accountID, year, month)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listWindow parses account_id and the inclusive from/to date query params
// into the store's half-open window.
func listWindow(r *http.Request) (accountID int64, from, to time.Time, err error) {
	accountID, err = strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		return 0, time.Time{}, time.Time{}, errors.New("invalid account_id")
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(dateLayout, raw)
		if err != nil {
			return 0, time.Time{}, time.Time{}, errors.New("invalid from date")
		}
	}
	to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(dateLayout, raw)
		if err != nil {
			return 0, time.Time{}, time.Time{}, errors.New("invalid to date")
		}
		to = to.AddDate(0, 0, 1)
	}
	return accountID, from, to, nil
}

// ListLedgerEntries returns ledger entries for an account window
func (h *Handler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	accountID, from, to, err := listWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	unreconciledOnly := r.URL.Query().Get("unreconciled") == "true"

	entries, err := h.engine.ListLedgerEntries(r.Context(), accountID, from, to, unreconciledOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// SetBankDate marks a ledger entry cleared by the bank
func (h *Handler) SetBankDate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid ledger entry id", http.StatusBadRequest)
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	entry, err := h.engine.SetBankDate(r.Context(), id, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ClearBankDate undoes reconciliation of a ledger entry
func (h *Handler) ClearBankDate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid ledger entry id", http.StatusBadRequest)
		return
	}

	entry, err := h.engine.ClearBankDate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListStatementEntries returns pending statement lines for an account window
func (h *Handler) ListStatementEntries(w http.ResponseWriter, r *http.Request) {
	accountID, from, to, err := listWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	statements, err := h.engine.ListPendingStatements(r.Context(), accountID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statements)
}

// ManualMatch links a statement entry to a ledger entry
func (h *Handler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	statementID := mux.Vars(r)["id"]

	var req struct {
		LedgerEntryID int64 `json:"ledger_entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LedgerEntryID == 0 {
		http.Error(w, "ledger_entry_id is required", http.StatusBadRequest)
		return
	}

	st, err := h.engine.ManualMatch(r.Context(), statementID, req.LedgerEntryID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// AutoReconcile pairs pending statement lines with unreconciled entries
func (h *Handler) AutoReconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account_id", http.StatusBadRequest)
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse(dateLayout, raw)
		if err != nil {
			http.Error(w, "invalid as_of date", http.StatusBadRequest)
			return
		}
	}

	count, err := h.engine.AutoReconcile(r.Context(), accountID, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reconciled_count": count})
}

// ImportStatement ingests a bank statement XML into pending entries
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account_id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	imported, err := h.importer.Import(r.Context(), accountID, body)
	if err != nil {
		if errors.Is(err, camt.ErrMalformedStatement) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}
