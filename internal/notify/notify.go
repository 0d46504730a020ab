// Package notify delivers user-facing email notifications.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"
)

// defaultSendTimeout bounds a delivery when the caller's context carries
// no deadline of its own.
const defaultSendTimeout = 30 * time.Second

// Notifier sends a notification to an address. Implementations must honor
// context cancellation from the caller's side; delivery failures are
// returned, not retried.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// SMTPNotifier sends plain-text email over SMTP with STARTTLS.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSMTPNotifier creates a notifier for the given SMTP server.
func NewSMTPNotifier(host, port, username, password, from string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers one message. The connection carries a deadline for the
// whole exchange, so a stalled server surfaces as an error instead of
// blocking the calling loop.
func (n *SMTPNotifier) Send(ctx context.Context, address, subject, body string) error {
	addr := n.host + ":" + n.port

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if n.username != "" {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(n.from); err != nil {
		return fmt.Errorf("smtp mail from %s: %w", n.from, err)
	}
	if err := c.Rcpt(address); err != nil {
		return fmt.Errorf("smtp rcpt to %s: %w", address, err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		address, n.from, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", address, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp send to %s: %w", address, err)
	}

	return c.Quit()
}
