package authgate

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an authenticated principal. Values are
// owned by the CredentialService and must be treated as read only.
type Identity interface {
	ID() string
	Email() string
	EmailVerified() bool
}

// SessionEvent is pushed by the CredentialService whenever its session
// changes. A nil Identity means the session ended. Err is only set when
// the stream itself failed.
type SessionEvent struct {
	Identity Identity
	Err      error
}

// Subscription is a live session-change stream. Unsubscribe closes the
// Events channel and may be called more than once.
type Subscription interface {
	Events() <-chan SessionEvent
	Unsubscribe()
}

// CredentialService is the identity provider boundary
type CredentialService interface {
	Subscribe(ctx context.Context) (Subscription, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignUp(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error
	SendVerificationEmail(ctx context.Context, identity Identity) error
	SendPasswordReset(ctx context.Context, email string) error
}

// TicketRedeemer is implemented by providers that finalize the out of band
// flows themselves, from the ticket carried by a verification or reset link.
type TicketRedeemer interface {
	ConfirmEmail(ctx context.Context, ticket string) error
	ConfirmPasswordReset(ctx context.Context, ticket, password string) error
}

// Translator resolves user facing text for a message key
type Translator interface {
	Translate(key string, params map[string]any) string
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(key string, params map[string]any) string

// Translate implements Translator.
func (f TranslatorFunc) Translate(key string, params map[string]any) string {
	if f == nil {
		return key
	}
	return f(key, params)
}

type keyTranslator struct{}

func (keyTranslator) Translate(key string, _ map[string]any) string {
	return key
}

// PreferenceStore is a durable key/value store for device preferences
type PreferenceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] AUTHGATE " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] AUTHGATE " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] AUTHGATE " + format(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] AUTHGATE " + format(msg, args...))
}

func format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}
	out := msg
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
			continue
		}
		out += fmt.Sprintf(" %v", args[i])
	}
	return out
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func normalizeTranslator(t Translator) Translator {
	if t == nil {
		return keyTranslator{}
	}
	return t
}
