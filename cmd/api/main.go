package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/config"
	"github.com/skala-erp/bankrecon/internal/handler"
	"github.com/skala-erp/bankrecon/internal/integrations/camt"
	"github.com/skala-erp/bankrecon/internal/middleware"
	"github.com/skala-erp/bankrecon/internal/recon"
	"github.com/skala-erp/bankrecon/internal/service"
	"github.com/skala-erp/bankrecon/internal/store"
	"github.com/skala-erp/bankrecon/internal/store/memory"
	"github.com/skala-erp/bankrecon/internal/store/postgres"
	"github.com/skala-erp/bankrecon/internal/utils/email"
)

func main() {
	// Optional .env for local development
	godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize storage
	var st store.Store
	switch cfg.Store {
	case "memory":
		st = memory.NewStore()
		logger.Warn("Running with in-memory store; state is lost on restart")
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		st = postgres.NewStore(db)
	}

	// Initialize layers
	notifier := email.NewSender(cfg, logger)
	opts := []recon.Option{recon.WithNotifier(notifier)}
	if cfg.StrictAmounts {
		opts = append(opts, recon.WithStrictAmounts())
	}
	engine := recon.NewEngine(st, logger, opts...)
	svc := service.NewService(st, logger, cfg)
	importer := camt.NewImporter(st, logger)
	h := handler.NewHandler(engine, svc, importer, logger)

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/reconciliation/{accountId}/{year}/{month}/report", h.PeriodReport).Methods("GET")
	authRouter.HandleFunc("/reconciliation/{accountId}/{year}/{month}", h.GetPeriod).Methods("GET")
	authRouter.HandleFunc("/reconciliation/{accountId}/{year}/{month}", h.UpdatePeriod).Methods("PUT")
	authRouter.HandleFunc("/reconciliation/{id}/close", h.ClosePeriod).Methods("POST")
	authRouter.HandleFunc("/reconciliation/{id}/reopen", h.ReopenPeriod).Methods("POST")
	authRouter.HandleFunc("/ledger-entries", h.ListLedgerEntries).Methods("GET")
	authRouter.HandleFunc("/ledger-entries/{id}/set-bank-date", h.SetBankDate).Methods("POST")
	authRouter.HandleFunc("/ledger-entries/{id}/clear-bank-date", h.ClearBankDate).Methods("POST")
	authRouter.HandleFunc("/statement-entries", h.ListStatementEntries).Methods("GET")
	authRouter.HandleFunc("/statement-entries/{id}/manual-match", h.ManualMatch).Methods("POST")
	authRouter.HandleFunc("/auto-reconcile", h.AutoReconcile).Methods("POST")
	authRouter.HandleFunc("/statement-import", h.ImportStatement).Methods("POST")

	// Nightly auto-reconcile for configured accounts
	if len(cfg.ReconAccounts) > 0 {
		c := cron.New()
		_, err := c.AddFunc(cfg.ReconCron, func() {
			asOf := time.Now().UTC()
			for _, accountID := range cfg.ReconAccounts {
				count, err := engine.AutoReconcile(context.Background(), accountID, asOf)
				if err != nil {
					logger.Errorf("Nightly auto-reconcile failed for account %d: %v", accountID, err)
					continue
				}
				logger.Infof("Nightly auto-reconcile for account %d: %d matched", accountID, count)
			}
		})
		if err != nil {
			logger.Fatalf("Failed to schedule auto-reconcile: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
