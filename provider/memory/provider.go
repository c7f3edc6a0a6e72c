package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Operation names a provider call for failure injection.
type Operation string

const (
	OpSubscribe         Operation = "subscribe"
	OpSignIn            Operation = "sign_in"
	OpSignUp            Operation = "sign_up"
	OpSignOut           Operation = "sign_out"
	OpSendVerification  Operation = "send_verification_email"
	OpSendPasswordReset Operation = "send_password_reset"
)

// MessageKind identifies an outbox message.
type MessageKind string

const (
	MessageVerification  MessageKind = "verification"
	MessagePasswordReset MessageKind = "password_reset"
)

// Message is an email the provider would have sent.
type Message struct {
	Kind   MessageKind
	To     string
	UserID string
	Ticket string
	SentAt time.Time
}

type account struct {
	id          string
	email       string
	hash        string
	verified    bool
	disabled    bool
	attempts    int
	lastAttempt *time.Time
}

func (a *account) identity() authgate.Identity {
	return authgate.NewIdentity(a.id, a.email, a.verified)
}

type ticket struct {
	kind      MessageKind
	accountID string
	issuedAt  time.Time
}

// Provider is an in-process CredentialService. It behaves like a hosted
// identity provider: sign up signs the new account in, and every session
// change is pushed to subscribers.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]*account
	byID     map[string]*account
	current  *account
	tickets  map[string]ticket
	outbox   []Message
	failures map[Operation][]error

	events   *authgate.Broadcaster
	logger   authgate.Logger
	now      func() time.Time
	hashCost int
	latency  time.Duration
}

var (
	_ authgate.CredentialService = (*Provider)(nil)
	_ authgate.TicketRedeemer    = (*Provider)(nil)
)

// Option customizes the provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger authgate.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHashCost sets the bcrypt cost used for new passwords.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		p.hashCost = cost
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithLatency delays every call to mimic a remote provider.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

// New returns an empty provider with no signed in account.
func New(opts ...Option) *Provider {
	p := &Provider{
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		tickets:  make(map[string]ticket),
		failures: make(map[Operation][]error),
		events:   authgate.NewBroadcaster(),
		logger:   noopLogger{},
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Subscribe delivers the current session first, then every change.
func (p *Provider) Subscribe(ctx context.Context) (authgate.Subscription, error) {
	if err := p.before(ctx, OpSubscribe); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.events.Subscribe(p.sessionEvent()), nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (authgate.Identity, error) {
	if err := p.before(ctx, OpSignIn); err != nil {
		return nil, err
	}

	if err := checkEmail(OpSignIn, email); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		return nil, authgate.NewProviderError(string(OpSignIn), authgate.CodeNotFound, "no account for email")
	}

	if acct.disabled {
		return nil, authgate.NewProviderError(string(OpSignIn), authgate.CodeDisabled, "account disabled")
	}

	now := p.now()
	attempts, err := authgate.LoginAttempts(now, acct.attempts, acct.lastAttempt)
	if err != nil {
		return nil, err
	}
	acct.attempts = attempts

	if err := authgate.ComparePasswordAndHash(password, acct.hash); err != nil {
		acct.attempts++
		acct.lastAttempt = &now
		return nil, authgate.NewProviderError(string(OpSignIn), authgate.CodeWrongCredential, "password does not match").WithCause(err)
	}

	acct.attempts = 0
	acct.lastAttempt = nil

	p.setCurrent(acct)
	return acct.identity(), nil
}

func (p *Provider) SignUp(ctx context.Context, email, password string) (authgate.Identity, error) {
	if err := p.before(ctx, OpSignUp); err != nil {
		return nil, err
	}

	acct, err := p.createAccount(OpSignUp, email, password)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.setCurrent(acct)
	return acct.identity(), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.before(ctx, OpSignOut); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.setCurrent(nil)
	return nil
}

func (p *Provider) SendVerificationEmail(ctx context.Context, identity authgate.Identity) error {
	if err := p.before(ctx, OpSendVerification); err != nil {
		return err
	}

	if identity == nil {
		return authgate.NewProviderError(string(OpSendVerification), authgate.CodeMalformedInput, "identity is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.byID[identity.ID()]
	if !ok {
		return authgate.NewProviderError(string(OpSendVerification), authgate.CodeNotFound, "no account for identity")
	}

	p.send(MessageVerification, acct)
	return nil
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	if err := p.before(ctx, OpSendPasswordReset); err != nil {
		return err
	}

	if err := checkEmail(OpSendPasswordReset, email); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		return authgate.NewProviderError(string(OpSendPasswordReset), authgate.CodeNotFound, "no account for email")
	}

	p.send(MessagePasswordReset, acct)
	return nil
}

// AddAccount seeds an account without signing it in.
func (p *Provider) AddAccount(email, password string, verified bool) (authgate.Identity, error) {
	acct, err := p.createAccount(OpSignUp, email, password)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct.verified = verified
	return acct.identity(), nil
}

// SetDisabled toggles the disabled flag of an account.
func (p *Provider) SetDisabled(email string, disabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[normalizeEmail(email)]
	if ok {
		acct.disabled = disabled
	}
	return ok
}

// ConfirmEmail redeems a verification ticket.
func (p *Provider) ConfirmEmail(ctx context.Context, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.redeem(MessageVerification, code)
	if err != nil {
		return err
	}

	acct.verified = true
	if p.current == acct {
		p.events.Publish(p.sessionEvent())
	}
	return nil
}

// ConfirmPasswordReset redeems a reset ticket and sets a new password.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, password string) error {
	if len([]rune(password)) < authgate.MinPasswordLength {
		return authgate.NewProviderError("confirm_password_reset", authgate.CodeWeakSecret, "password too short")
	}

	hash, err := authgate.HashPasswordWithCost(password, p.hashCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, err := p.redeem(MessagePasswordReset, code)
	if err != nil {
		return err
	}

	acct.hash = hash
	acct.attempts = 0
	acct.lastAttempt = nil
	return nil
}

// Outbox returns the messages sent so far.
func (p *Provider) Outbox() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Message, len(p.outbox))
	copy(out, p.outbox)
	return out
}

// Current returns the signed in identity, or nil.
func (p *Provider) Current() authgate.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil
	}
	return p.current.identity()
}

// FailNext makes the next call to op return err. Calls queue up.
func (p *Provider) FailNext(op Operation, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// BreakStream pushes a stream failure to every subscriber.
func (p *Provider) BreakStream(err error) {
	p.events.Publish(authgate.SessionEvent{Err: err})
}

// Close ends every subscription.
func (p *Provider) Close() {
	p.events.Close()
}

func (p *Provider) before(ctx context.Context, op Operation) error {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return authgate.NewProviderError(string(op), authgate.CodeUnknown, "request cancelled").WithCause(ctx.Err())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	p.logger.Debug("injected failure", "operation", op, "error", err)
	return err
}

func (p *Provider) createAccount(op Operation, email, password string) (*account, error) {
	if err := checkEmail(op, email); err != nil {
		return nil, err
	}

	if len([]rune(password)) < authgate.MinPasswordLength {
		return nil, authgate.NewProviderError(string(op), authgate.CodeWeakSecret, "password should be at least 6 characters")
	}

	hash, err := authgate.HashPasswordWithCost(password, p.hashCost)
	if err != nil {
		return nil, authgate.NewProviderError(string(op), authgate.CodeUnknown, "failed to hash password").WithCause(err)
	}

	key := normalizeEmail(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[key]; exists {
		return nil, authgate.NewProviderError(string(op), authgate.CodeAlreadyRegistered, "email already registered")
	}

	acct := &account{
		id:    accountID(key),
		email: strings.TrimSpace(email),
		hash:  hash,
	}
	p.accounts[key] = acct
	p.byID[acct.id] = acct

	p.logger.Info("account created", "user_id", acct.id)
	return acct, nil
}

// setCurrent must be called with p.mu held.
func (p *Provider) setCurrent(acct *account) {
	if p.current == acct {
		return
	}
	p.current = acct
	p.events.Publish(p.sessionEvent())
}

// sessionEvent must be called with p.mu held.
func (p *Provider) sessionEvent() authgate.SessionEvent {
	if p.current == nil {
		return authgate.SessionEvent{}
	}
	return authgate.SessionEvent{Identity: p.current.identity()}
}

// send must be called with p.mu held.
func (p *Provider) send(kind MessageKind, acct *account) {
	now := p.now()
	code := uuid.NewString()

	p.tickets[code] = ticket{kind: kind, accountID: acct.id, issuedAt: now}
	p.outbox = append(p.outbox, Message{
		Kind:   kind,
		To:     acct.email,
		UserID: acct.id,
		Ticket: code,
		SentAt: now,
	})

	p.logger.Info("message sent", "kind", kind, "user_id", acct.id)
}

// redeem must be called with p.mu held.
func (p *Provider) redeem(kind MessageKind, code string) (*account, error) {
	t, ok := p.tickets[code]
	if !ok || t.kind != kind {
		return nil, authgate.NewProviderError("redeem_ticket", authgate.CodeNotFound, "unknown ticket")
	}
	delete(p.tickets, code)

	valid, err := authgate.IsWithinThresholdPeriodAt(p.now(), t.issuedAt, TicketTTL)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, authgate.NewProviderError("redeem_ticket", authgate.CodeNotFound, "ticket expired")
	}

	acct, ok := p.byID[t.accountID]
	if !ok {
		return nil, authgate.NewProviderError("redeem_ticket", authgate.CodeNotFound, "account no longer exists")
	}
	return acct, nil
}

// TicketTTL is how long verification and reset tickets stay valid.
var TicketTTL = "24h"

func checkEmail(op Operation, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return authgate.NewProviderError(string(op), authgate.CodeMalformedInput, "email is required")
	}
	if err := is.Email.Validate(email); err != nil {
		return authgate.NewProviderError(string(op), authgate.CodeMalformedInput, "email is badly formatted").WithCause(err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountID(email string) string {
	if id, err := hashid.NewUUID(email); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
