// Package mail delivers templated HTML email over SMTP. Delivery is an
// external collaborator for the auth flows, consumed through the Mailer
// interface so tests can substitute a recorder.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/basecrm/basecrm-api/pkg/config"
)

// Mailer sends a single HTML message.
type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTPMailer sends mail through a plain-auth SMTP relay.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPMailer builds a mailer from configuration.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
		from: cfg.From,
	}
}

// Send delivers one message. The caller decides whether failure is fatal;
// auth flows treat it as best effort and log.
func (m *SMTPMailer) Send(to, subject, htmlBody string) error {
	var msg strings.Builder
	msg.WriteString("From: " + m.from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
