package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPNotifier emails fault events to the operations list.
type SMTPNotifier struct {
	Addr    string   // host:port of the SMTP relay
	From    string
	To      []string
	Subject string

	// sendMail is swapped out in tests.
	sendMail func(addr, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an email backend using an unauthenticated relay,
// the common setup on an accelerator control network.
func NewSMTPNotifier(addr, from string, to []string, subject string) *SMTPNotifier {
	return &SMTPNotifier{
		Addr:    addr,
		From:    from,
		To:      to,
		Subject: subject,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Notify sends one email per event.
func (n *SMTPNotifier) Notify(ctx context.Context, ev Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", ev.Time.UTC().Format(time.RFC1123Z))
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", ev.Message)
	fmt.Fprintf(&b, "mode:       %s\r\n", ev.Mode)
	fmt.Fprintf(&b, "prior mode: %s\r\n", ev.PriorMode)
	fmt.Fprintf(&b, "reason:     %s\r\n", ev.Reason)
	fmt.Fprintf(&b, "time:       %s\r\n", ev.Time.UTC().Format(time.RFC3339))

	done := make(chan error, 1)
	go func() { done <- n.sendMail(n.Addr, n.From, n.To, []byte(b.String())) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
