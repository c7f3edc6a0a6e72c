package local

import (
	"context"
	"strings"

	authgate "github.com/goliatone/go-auth-gate"
)

// MailKind identifies a transactional email.
type MailKind string

const (
	MailVerification  MailKind = "verification"
	MailPasswordReset MailKind = "password_reset"
)

// Mail is a transactional email carrying a one time ticket.
type Mail struct {
	Kind    MailKind
	To      string
	Subject string
	Link    string
	Ticket  string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes mail to the logger instead of sending it.
type LogMailer struct {
	Logger authgate.Logger
}

func (m LogMailer) Send(_ context.Context, mail Mail) error {
	if m.Logger == nil {
		return nil
	}
	m.Logger.Info("mail sent",
		"kind", mail.Kind,
		"to", mail.To,
		"subject", mail.Subject,
		"link", mail.Link,
	)
	return nil
}

func newMail(kind MailKind, to, baseURL, ticket string) Mail {
	mail := Mail{
		Kind:   kind,
		To:     to,
		Ticket: ticket,
	}

	base := strings.TrimRight(baseURL, "/")
	switch kind {
	case MailVerification:
		mail.Subject = "Verify your email"
		mail.Link = base + "/verify-email/" + ticket
	case MailPasswordReset:
		mail.Subject = "Reset your password"
		mail.Link = base + "/password-reset/" + ticket
	}
	return mail
}
