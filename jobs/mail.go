package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
)

// SMTPSender delivers TaskTypeSendEmail tasks through a plain SMTP relay
// such as Mailpit in development.
type SMTPSender struct {
	Host   string
	Port   int
	From   string
	Logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(host string, port int, from string, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{Host: host, Port: port, From: from, Logger: logger, send: smtp.SendMail}
}

// Handle processes TaskTypeSendEmail tasks.
func (s *SMTPSender) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if strings.TrimSpace(payload.To) == "" {
		return fmt.Errorf("mail: empty recipient: %w", asynq.SkipRetry)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := s.send(addr, nil, s.From, []string{payload.To}, buildMessage(s.From, payload)); err != nil {
		s.Logger.Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	return nil
}

func buildMessage(from string, p SendEmailPayload) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + p.To + "\r\n")
	b.WriteString("Subject: " + p.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(p.Body, "\n", "\r\n"))
	return []byte(b.String())
}
