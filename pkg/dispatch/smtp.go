package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig carries the connection settings for the outbound mail relay.
type SMTPConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,min=1,max=65535"`
	Username string
	Password string
	From     string `validate:"required,email"`
	FromName string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SMTPDispatcher sends instrumented HTML email through a plain SMTP relay.
type SMTPDispatcher struct {
	config       SMTPConfig
	instrumenter *Instrumenter
	logger       *slog.Logger

	// send is swapped in tests to capture the wire payload.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPDispatcher(config SMTPConfig, instrumenter *Instrumenter, logger *slog.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{
		config:       config,
		instrumenter: instrumenter,
		logger:       logger.With("module", "smtp_dispatcher"),
		send:         smtp.SendMail,
	}
}

func (d *SMTPDispatcher) Dispatch(ctx context.Context, message *Message) error {
	body := d.instrumenter.Instrument(message.Body, message.LeadID, message.CampaignID)
	payload := d.buildPayload(message.Recipient, message.Subject, body)

	var auth smtp.Auth
	if d.config.Username != "" {
		auth = smtp.PlainAuth("", d.config.Username, d.config.Password, d.config.Host)
	}

	err := d.send(d.config.addr(), auth, d.config.From, []string{message.Recipient}, payload)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", message.Recipient, err)
	}

	d.logger.InfoContext(ctx, "Message delivered",
		"lead_id", message.LeadID,
		"node_id", message.NodeID,
		"recipient", message.Recipient)

	return nil
}

func (d *SMTPDispatcher) buildPayload(recipient, subject, body string) []byte {
	from := d.config.From
	if d.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", d.config.FromName), d.config.From)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return []byte(b.String())
}
