package email

import (
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/skala-erp/bankrecon/internal/config"
	"github.com/skala-erp/bankrecon/internal/models"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// PeriodClosed notifies the configured recipient that a reconciliation
// period was closed. Implements recon.Notifier.
func (s *Sender) PeriodClosed(m *models.MonthlyReconciliation) error {
	if s.cfg.NotifyEmail == "" || s.cfg.SMTPHost == "" {
		s.logger.Debugf("Close notification skipped for reconciliation %d: SMTP not configured", m.ID)
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.NotifyEmail}
	e.Subject = fmt.Sprintf("Bank reconciliation %d-%02d closed", m.Year, m.Month)

	body := fmt.Sprintf(
		"The reconciliation for account %d, period %d-%02d, has been closed.\n\n"+
			"Opening balance (bank): %s\n"+
			"Closing balance (bank): %s\n"+
			"Total debits: %s\n"+
			"Total credits: %s\n"+
			"Expected bank closing: %s\n"+
			"Difference: %s\n",
		m.AccountID, m.Year, m.Month,
		m.OpeningBalanceBank, m.ClosingBalanceBank,
		m.TotalDebit, m.TotalCredit,
		m.ExpectedBankClosing, m.Difference,
	)
	body += "\nBest regards,\nReconciliation Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", s.cfg.NotifyEmail, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", s.cfg.NotifyEmail, e.Subject)
	return nil
}
