package notifier

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/campusconf/backend/config"
)

// Sender delivers one message. Kept as an interface so tests can capture
// messages instead of talking to a mail server.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender delivers mail over plain SMTP.
type SMTPSender struct {
	cfg config.EmailConfig
}

// NewSMTPSender creates a sender from the mail config.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send builds an RFC 5322 message and hands it to the configured relay.
func (s *SMTPSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}
	from := s.cfg.FromAddress
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", s.cfg.FromName, from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String()))
}
