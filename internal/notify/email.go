package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// EmailSettings holds configuration for the SMTP email channel.
type EmailSettings struct {
	Host     string   `json:"smtp_host"`
	Port     int      `json:"smtp_port,omitempty"`
	Username string   `json:"smtp_user,omitempty"`
	Password string   `json:"smtp_password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	UseTLS   *bool    `json:"use_tls,omitempty"`
}

// Email sends alerts as multipart text+HTML mail over SMTP, upgrading the
// connection with STARTTLS unless use_tls is disabled.
type Email struct {
	host     string
	port     int
	from     string
	to       []string
	username string
	password string
	useTLS   bool
}

// NewEmail constructs an email notifier. The port defaults to 587 and
// STARTTLS is attempted unless use_tls is explicitly false.
func NewEmail(s EmailSettings) *Email {
	port := s.Port
	if port == 0 {
		port = 587
	}
	return &Email{
		host:     s.Host,
		port:     port,
		from:     s.From,
		to:       s.To,
		username: s.Username,
		password: s.Password,
		useTLS:   s.UseTLS == nil || *s.UseTLS,
	}
}

// Name returns the provider name for logging.
func (e *Email) Name() string { return "email" }

// Send delivers the alert by mail.
func (e *Email) Send(ctx context.Context, alert *store.Alert) error {
	msg, err := e.message(alert)
	if err != nil {
		return fmt.Errorf("build mail: %w", err)
	}

	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if e.useTLS {
		if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(e.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt to: %w", err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return c.Quit()
}

// message renders the full RFC 2822 message with text and HTML alternatives.
func (e *Email) message(alert *store.Alert) (string, error) {
	subject := fmt.Sprintf("%s [%s] %s", severityEmoji(alert.Severity),
		strings.ToUpper(string(alert.Severity)), alert.Title)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(part, textBody(alert)); err != nil {
		return "", err
	}
	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(part, htmlBody(alert)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	headers := "From: " + e.from + "\r\n" +
		"To: " + strings.Join(e.to, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n" +
		"\r\n"
	return headers + body.String(), nil
}

func textBody(alert *store.Alert) string {
	return fmt.Sprintf("%s\n\n%s\n\nSeverity: %s\nHost: %s\nContainer: %s\nDate: %s\n\n---\n%s",
		alert.Title,
		alert.Message,
		alert.Severity,
		orNA(alert.HostName),
		orNA(alert.ContainerName),
		alert.TriggeredAt.Format("2006-01-02 15:04:05"),
		footerText)
}

func htmlBody(alert *store.Alert) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; }
    .alert-box { border-left: 4px solid %s; padding: 16px; background: #f9fafb; margin: 16px 0; }
    .title { font-size: 18px; font-weight: bold; margin-bottom: 8px; }
    .message { margin: 16px 0; }
    .meta { color: #6b7280; font-size: 14px; }
    .meta span { margin-right: 16px; }
  </style>
</head>
<body>
  <div class="alert-box">
    <div class="title">%s %s</div>
    <div class="message">%s</div>
    <div class="meta">
      <span><strong>Severity:</strong> %s</span>
      <span><strong>Host:</strong> %s</span>
      <span><strong>Container:</strong> %s</span>
    </div>
  </div>
  <p style="color: #9ca3af; font-size: 12px;">%s</p>
</body>
</html>`,
		severityColor(alert.Severity),
		severityEmoji(alert.Severity), alert.Title,
		alert.Message,
		alert.Severity,
		orNA(alert.HostName),
		orNA(alert.ContainerName),
		footerText)
}
