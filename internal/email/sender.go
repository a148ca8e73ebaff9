package email

import (
	"bytes"
	"fmt"
	"log"
	"net/smtp"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	host := cfg.SMTPHost
	if host == "" {
		host = "localhost"
	}
	return &SMTPSender{
		host: host,
		port: cfg.SMTPPort,
		from: cfg.From,
		// auth: add when using a real provider (smtp.PlainAuth("", user, pass, host))
	}
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	return smtp.SendMail(addr, s.auth, s.from, []string{to}, msg)
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

// LogSender is the fallback for dev without SMTP.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(to, subject, htmlBody string) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Email] to=%s subject=%q body=%q", to, subject, htmlBody)
	return nil
}
