package alerting

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"farewatch/internal/config"
)

// sendMailFunc delivers a fully formed message.
type sendMailFunc func(ctx context.Context, from string, to []string, msg []byte) error

// EmailNotifier sends plain-text mail over SMTP with implicit TLS.
type EmailNotifier struct {
	cfg     config.EmailConfig
	timeout time.Duration
	send    sendMailFunc
	logger  zerolog.Logger
}

// NewEmailNotifier constructs an SMTP notifier from the email settings.
func NewEmailNotifier(cfg config.EmailConfig, timeout time.Duration, logger zerolog.Logger) *EmailNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	n := &EmailNotifier{
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With().Str("component", "alert_email").Logger(),
	}
	n.send = n.sendTLS
	return n
}

// Notify skips silently when SMTP is not fully configured.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if !n.cfg.Configured() {
		n.logger.Debug().Msg("email not configured, skipping")
		return nil
	}

	msg := buildMessage(n.cfg.Username, n.cfg.To, note)
	if err := n.send(ctx, n.cfg.Username, []string{n.cfg.To}, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().Str("to", n.cfg.To).Msg("email notification sent")
	return nil
}

func buildMessage(from, to string, note Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", note.Title) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(note.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (n *EmailNotifier) sendTLS(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: n.timeout},
		Config:    &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(n.timeout))

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}

var _ Notifier = (*EmailNotifier)(nil)
