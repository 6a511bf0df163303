package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	Port          string
	Store         string // "postgres" or "memory"
	DBConn        string
	LogLevel      string
	JWTSecret     string
	StrictAmounts bool

	// Nightly auto-reconcile
	ReconCron     string
	ReconAccounts []int64

	// Close notifications
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	NotifyEmail  string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Store:         getEnv("STORE", "postgres"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=recon password=recon dbname=recon sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		StrictAmounts: getEnv("STRICT_AMOUNTS", "false") == "true",
		ReconCron:     getEnv("RECON_CRON", "0 2 * * *"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", ""),
		NotifyEmail:   getEnv("NOTIFY_EMAIL", ""),
	}

	accounts, err := parseAccounts(getEnv("RECON_ACCOUNTS", ""))
	if err != nil {
		return nil, err
	}
	cfg.ReconAccounts = accounts

	if cfg.Store != "postgres" && cfg.Store != "memory" {
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", cfg.Store)
	}
	if cfg.Store == "postgres" && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// parseAccounts parses a comma-separated list of account IDs.
func parseAccounts(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var accounts []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RECON_ACCOUNTS entry %q: %w", part, err)
		}
		accounts = append(accounts, id)
	}
	return accounts, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
