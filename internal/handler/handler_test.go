package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/config"
	"github.com/skala-erp/bankrecon/internal/integrations/camt"
	"github.com/skala-erp/bankrecon/internal/models"
	"github.com/skala-erp/bankrecon/internal/recon"
	"github.com/skala-erp/bankrecon/internal/service"
	"github.com/skala-erp/bankrecon/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*mux.Router, *memory.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	st := memory.NewStore()
	cfg := &config.Config{JWTSecret: "test-secret"}
	engine := recon.NewEngine(st, log)
	svc := service.NewService(st, log, cfg)
	importer := camt.NewImporter(st, log)
	h := NewHandler(engine, svc, importer, log)

	r := mux.NewRouter()
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/reconciliation/{accountId}/{year}/{month}/report", h.PeriodReport).Methods("GET")
	r.HandleFunc("/reconciliation/{accountId}/{year}/{month}", h.GetPeriod).Methods("GET")
	r.HandleFunc("/reconciliation/{accountId}/{year}/{month}", h.UpdatePeriod).Methods("PUT")
	r.HandleFunc("/reconciliation/{id}/close", h.ClosePeriod).Methods("POST")
	r.HandleFunc("/reconciliation/{id}/reopen", h.ReopenPeriod).Methods("POST")
	r.HandleFunc("/ledger-entries", h.ListLedgerEntries).Methods("GET")
	r.HandleFunc("/ledger-entries/{id}/set-bank-date", h.SetBankDate).Methods("POST")
	r.HandleFunc("/ledger-entries/{id}/clear-bank-date", h.ClearBankDate).Methods("POST")
	r.HandleFunc("/statement-entries", h.ListStatementEntries).Methods("GET")
	r.HandleFunc("/statement-entries/{id}/manual-match", h.ManualMatch).Methods("POST")
	r.HandleFunc("/auto-reconcile", h.AutoReconcile).Methods("POST")
	r.HandleFunc("/statement-import", h.ImportStatement).Methods("POST")
	return r, st
}

func doRequest(t *testing.T, r *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, "POST", "/register", `{"username":"asha","email":"asha@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, "POST", "/login", `{"email":"asha@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])

	rec = doRequest(t, r, "POST", "/login", `{"email":"asha@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPeriodLifecycleOverHTTP(t *testing.T) {
	r, st := newTestServer(t)
	ctx := context.Background()

	entry := &models.LedgerEntry{
		AccountID:     1,
		TransactionNo: "TXN-1",
		Date:          time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		VoucherType:   models.VoucherReceipt,
		Debit:         decimal.NewFromInt(600),
	}
	require.NoError(t, st.InsertEntry(ctx, entry))

	// first access creates the open period
	rec := doRequest(t, r, "GET", "/reconciliation/1/2024/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m models.MonthlyReconciliation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, models.PeriodOpen, m.Status)

	rec = doRequest(t, r, "POST", "/ledger-entries/1/set-bank-date", `{"date":"2024-03-05"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "PUT", "/reconciliation/1/2024/3",
		`{"opening_balance_bank":"1000","closing_balance_bank":"1500","notes":"march"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// 1000 + 600 - 0 = 1600 expected vs 1500 closing: not balanced
	rec = doRequest(t, r, "POST", "/reconciliation/1/close", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, r, "PUT", "/reconciliation/1/2024/3",
		`{"opening_balance_bank":"1000","closing_balance_bank":"1600","notes":"march"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, "POST", "/reconciliation/1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// writes after close are rejected
	rec = doRequest(t, r, "PUT", "/reconciliation/1/2024/3", `{"closing_balance_bank":"1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doRequest(t, r, "POST", "/ledger-entries/1/clear-bank-date", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// reopen and the same write succeeds
	rec = doRequest(t, r, "POST", "/reconciliation/1/reopen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, r, "POST", "/ledger-entries/1/clear-bank-date", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMatchingOverHTTP(t *testing.T) {
	r, st := newTestServer(t)
	ctx := context.Background()

	entry := &models.LedgerEntry{
		AccountID:     1,
		TransactionNo: "TXN-1",
		Date:          time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		VoucherType:   models.VoucherReceipt,
		Debit:         decimal.NewFromInt(500),
	}
	require.NoError(t, st.InsertEntry(ctx, entry))
	require.NoError(t, st.InsertStatement(ctx, &models.StatementEntry{
		ID:        "st-1",
		AccountID: 1,
		ValueDate: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.NewFromInt(500),
		Status:    models.StatementPending,
	}))

	rec := doRequest(t, r, "POST", "/statement-entries/st-1/manual-match", `{"ledger_entry_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// second match of the same statement maps to 409
	rec = doRequest(t, r, "POST", "/statement-entries/st-1/manual-match", `{"ledger_entry_id":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, r, "GET", "/statement-entries?account_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []models.StatementEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Empty(t, pending)

	rec = doRequest(t, r, "GET", "/ledger-entries?account_id=1&unreconciled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestAutoReconcileOverHTTP(t *testing.T) {
	r, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.InsertEntry(ctx, &models.LedgerEntry{
		AccountID:     1,
		TransactionNo: "TXN-1",
		Date:          time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		VoucherType:   models.VoucherReceipt,
		Debit:         decimal.NewFromInt(500),
	}))
	require.NoError(t, st.InsertStatement(ctx, &models.StatementEntry{
		ID:        "st-1",
		AccountID: 1,
		ValueDate: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.NewFromInt(500),
		Status:    models.StatementPending,
	}))

	rec := doRequest(t, r, "POST", "/auto-reconcile?account_id=1&as_of=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["reconciled_count"])
}

func TestErrorMapping(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, "POST", "/reconciliation/99/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, "POST", "/ledger-entries/99/set-bank-date", `{"date":"2024-03-05"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, "GET", "/reconciliation/1/2024/13", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, "POST", "/statement-import?account_id=1", "not xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
