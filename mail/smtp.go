package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned by Send when SMTP settings are incomplete.
var ErrNotConfigured = errors.New("smtp not configured")

// Message is a summary email.
type Message struct {
	To       string
	Subject  string
	Body     string
	UserName string
}

// SummarySubject is the subject line for a session summary email.
func SummarySubject(sessionID string) string {
	return fmt.Sprintf("MindCare AI Session Summary (%s)", sessionID)
}

// Mailer delivers summary emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	From     string `yaml:"from" json:"from"`
	// RequireTLS refuses to send when the server does not offer STARTTLS.
	RequireTLS bool          `yaml:"require_tls" json:"require_tls"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Missing lists the required settings that are empty.
func (c SMTPConfig) Missing() []string {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if c.Username == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.Password == "" {
		missing = append(missing, "SMTP_PASS")
	}
	if c.From == "" {
		missing = append(missing, "EMAIL_FROM")
	}
	return missing
}

// SMTPMailer sends multipart plain-text and HTML mail over SMTP with
// STARTTLS.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPMailer creates a mailer. Incomplete settings are logged once; Send
// then fails with ErrNotConfigured.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Warn("email delivery disabled, smtp settings incomplete", "missing", strings.Join(missing, ","))
	}
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if missing := m.cfg.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if msg.To == "" {
		return errors.New("mail: empty recipient")
	}
	data, err := buildMessage(m.cfg.From, msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	} else if m.cfg.RequireTLS {
		return fmt.Errorf("smtp server %s does not offer STARTTLS", addr)
	}

	if ok, _ := c.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end body: %w", err)
	}
	if err := c.Quit(); err != nil {
		m.logger.Debug("smtp quit failed", "err", err)
	}
	m.logger.Info("summary email sent", "to", msg.To)
	return nil
}

var htmlBody = template.Must(template.New("summary").Parse(`<html>
  <body style="font-family: Arial, sans-serif; background-color: #eef2f7; padding: 20px; margin: 0;">
    <div style="max-width: 650px; margin: auto; background: #ffffff; border-radius: 10px; overflow: hidden;">
      <div style="background: linear-gradient(135deg, #6a11cb, #2575fc); color: white; padding: 20px; text-align: center;">
        <h1 style="margin: 0; font-size: 22px;">🌿 MindCare AI</h1>
        <p style="margin: 5px 0 0; font-size: 14px;">Your Personal Mental Wellness Companion</p>
      </div>
      <div style="padding: 25px; color: #2c3e50; line-height: 1.6;">
        <p>Dear <strong>{{.UserName}}</strong>,</p>
        <p>Here's a summary of your recent session with MindCare AI:</p>
        <div style="background: #f4f9ff; padding: 15px; border-left: 4px solid #3498db; border-radius: 6px; margin: 20px 0;">
          <pre style="white-space: pre-wrap; font-size: 15px; line-height: 1.5; color: #2c3e50; margin: 0;">{{.Body}}</pre>
        </div>
        <p style="margin-top: 20px;">🌸 <em>Remember: Small steps lead to big changes. You are never alone in this journey.</em></p>
      </div>
      <div style="background: #fafafa; padding: 15px; text-align: center; font-size: 12px; color: #888;">
        MindCare AI Support Team<br>
        <span style="color:#aaa;">This is an automated email. Please do not reply.</span>
      </div>
    </div>
  </body>
</html>
`))

// buildMessage renders a multipart/alternative message with a plain-text
// part followed by an HTML part.
func buildMessage(from string, msg Message) ([]byte, error) {
	if msg.UserName == "" {
		msg.UserName = "User"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mimeHeader(msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	if err := writePart(mw, "text/plain; charset=utf-8", []byte(msg.Body)); err != nil {
		return nil, err
	}
	var html bytes.Buffer
	if err := htmlBody.Execute(&html, msg); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	if err := writePart(mw, "text/html; charset=utf-8", html.Bytes()); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType string, body []byte) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write(body); err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	return qp.Close()
}

func mimeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
