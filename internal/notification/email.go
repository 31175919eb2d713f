package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Email delivers notifications over SMTP. It accepts addresses stored
// under the "email" user attribute.
type Email struct {
	addr string
	from string
	auth smtp.Auth
	log  *logger.Logger

	// send is swapped out by tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail builds the email plugin. Config keys: smtpHost, smtpPort, from,
// optional smtpUser/smtpPassword.
func NewEmail(cfg map[string]string, log *logger.Logger) (*Email, error) {
	host := cfg["smtpHost"]
	if host == "" {
		return nil, fmt.Errorf("smtpHost is required")
	}
	port := cfg["smtpPort"]
	if port == "" {
		port = "25"
	}
	from := cfg["from"]
	if from == "" {
		return nil, fmt.Errorf("from is required")
	}
	e := &Email{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
		log:  log,
		send: smtp.SendMail,
	}
	if user := cfg["smtpUser"]; user != "" {
		e.auth = smtp.PlainAuth("", user, cfg["smtpPassword"], host)
	}
	return e, nil
}

// AcceptsMedium accepts the email attribute.
func (e *Email) AcceptsMedium(attrName string) bool {
	return attrName == "email"
}

// Notify sends the rendered message as a plain-text mail.
func (e *Email) Notify(ctx context.Context, probeName, address, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("Monitoring alert: %s", probeName)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", address)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(message)
	b.WriteString("\r\n")

	if err := e.send(e.addr, e.auth, e.from, []string{address}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", address, err)
	}
	return nil
}
