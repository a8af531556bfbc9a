package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/user-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
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

// SendExportReady sends a notification that a data export has finished
func (s *Sender) SendExportReady(to, username, location string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Your data export is ready"

	body := fmt.Sprintf(
		"Dear %s,\n\n", username,
	)
	body += fmt.Sprintf(
		"Your data export finished on %s.\n"+
			"The export is available at: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), location,
	)
	body += "\nBest regards,\nUser Service"
	e.Text = []byte(body)

	// Send email
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	err := e.Send(addr, auth)
	if err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
