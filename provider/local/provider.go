package local

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const (
	opSubscribe            = "subscribe"
	opSignIn               = "sign_in"
	opSignUp               = "sign_up"
	opSignOut              = "sign_out"
	opSendVerification     = "send_verification_email"
	opSendPasswordReset    = "send_password_reset"
	opConfirmEmail         = "confirm_email"
	opConfirmPasswordReset = "confirm_password_reset"
	opInvite               = "invite"

	// PreferenceSessionKey stores the signed session token.
	PreferenceSessionKey = "authgate.session"

	// TicketTTL is how long verification and reset tickets stay valid.
	TicketTTL = "24h"
)

// Provider is a CredentialService over a SQL database.
type Provider struct {
	repo   RepositoryManager
	prefs  authgate.PreferenceStore
	tokens *TokenIssuer
	mailer Mailer
	events *authgate.Broadcaster
	logger authgate.Logger

	now        func() time.Time
	hashCost   int
	baseURL    string
	issuer     string
	sessionTTL time.Duration

	mu       sync.Mutex
	restored bool
	current  authgate.Identity
}

var (
	_ authgate.CredentialService = (*Provider)(nil)
	_ authgate.TicketRedeemer    = (*Provider)(nil)
)

// Option customizes the provider.
type Option func(*Provider)

func WithLogger(logger authgate.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
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

// WithHashCost sets the bcrypt cost for new passwords.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		p.hashCost = cost
	}
}

func WithMailer(mailer Mailer) Option {
	return func(p *Provider) {
		if mailer != nil {
			p.mailer = mailer
		}
	}
}

// WithBaseURL is the origin used to build links in outgoing mail.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithSessionTTL sets how long a persisted session stays valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.sessionTTL = ttl
	}
}

// WithIssuer sets the session token issuer.
func WithIssuer(issuer string) Option {
	return func(p *Provider) {
		p.issuer = issuer
	}
}

// New builds a provider. prefs keeps the session across restarts and may be
// nil, in which case sessions only live for the process.
func New(db *bun.DB, prefs authgate.PreferenceStore, signingKey []byte, opts ...Option) *Provider {
	p := &Provider{
		repo:     NewRepositoryManager(db),
		prefs:    prefs,
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

	p.repo.MustValidate()

	if p.mailer == nil {
		p.mailer = LogMailer{Logger: p.logger}
	}
	p.tokens = NewTokenIssuer(signingKey, p.issuer, p.sessionTTL, p.now)

	return p
}

// Subscribe delivers the current session first, then every change. The
// first call restores a persisted session.
func (p *Provider) Subscribe(ctx context.Context) (authgate.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, authgate.NewProviderError(opSubscribe, authgate.CodeUnknown, "request cancelled").WithCause(err)
	}

	p.restore(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.events.Subscribe(authgate.SessionEvent{Identity: p.current}), nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (authgate.Identity, error) {
	if err := checkEmail(opSignIn, email); err != nil {
		return nil, err
	}

	user, err := p.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, authgate.NewProviderError(opSignIn, authgate.CodeNotFound, "no account for email")
		}
		return nil, storageError(opSignIn, err)
	}

	if user.Disabled() {
		return nil, authgate.NewProviderError(opSignIn, authgate.CodeDisabled, "account disabled")
	}

	now := p.now()
	attempts, err := authgate.LoginAttempts(now, user.LoginAttempts, user.LoginAttemptAt)
	if err != nil {
		return nil, err
	}
	user.LoginAttempts = attempts

	if err := authgate.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if terr := p.repo.Users().TrackAttemptedLogin(ctx, user, now); terr != nil {
			p.logger.Error("failed to track login attempt", "user_id", user.ID, "error", terr)
		}
		return nil, authgate.NewProviderError(opSignIn, authgate.CodeWrongCredential, "password does not match").WithCause(err)
	}

	if err := p.repo.Users().TrackSucccessfulLogin(ctx, user, now); err != nil {
		p.logger.Error("failed to track login", "user_id", user.ID, "error", err)
	}

	return p.startSession(ctx, opSignIn, user)
}

// SignUp creates the account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (authgate.Identity, error) {
	if err := checkEmail(opSignUp, email); err != nil {
		return nil, err
	}

	if len([]rune(password)) < authgate.MinPasswordLength {
		return nil, authgate.NewProviderError(opSignUp, authgate.CodeWeakSecret, "password should be at least 6 characters")
	}

	hash, err := authgate.HashPasswordWithCost(password, p.hashCost)
	if err != nil {
		return nil, authgate.NewProviderError(opSignUp, authgate.CodeUnknown, "failed to hash password").WithCause(err)
	}

	var user *User
	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := p.repo.Users().GetByEmailTx(ctx, tx, email); err == nil {
			return authgate.NewProviderError(opSignUp, authgate.CodeAlreadyRegistered, "email already registered")
		} else if !isNotFound(err) {
			return err
		}

		now := p.now()
		user, err = p.repo.Users().RegisterTx(ctx, tx, &User{
			Email:        email,
			PasswordHash: hash,
			LoggedInAt:   &now,
		})
		return err
	})

	if err != nil {
		if authgate.ProviderCode(err) != authgate.CodeUnknown {
			return nil, err
		}
		return nil, storageError(opSignUp, err)
	}

	p.logger.Info("account created", "user_id", user.ID)
	return p.startSession(ctx, opSignUp, user)
}

// Invite creates an account with a random placeholder password and mails a
// password reset ticket, so the owner picks the password. No session is
// started.
func (p *Provider) Invite(ctx context.Context, email string) (authgate.Identity, error) {
	if err := checkEmail(opInvite, email); err != nil {
		return nil, err
	}

	var user *User
	err := p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := p.repo.Users().GetByEmailTx(ctx, tx, email); err == nil {
			return authgate.NewProviderError(opInvite, authgate.CodeAlreadyRegistered, "email already registered")
		} else if !isNotFound(err) {
			return err
		}

		var err error
		user, err = p.repo.Users().RegisterTx(ctx, tx, &User{
			Email:        email,
			PasswordHash: authgate.RandomPasswordHash(p.hashCost),
		})
		return err
	})
	if err != nil {
		if authgate.ProviderCode(err) != authgate.CodeUnknown {
			return nil, err
		}
		return nil, storageError(opInvite, err)
	}

	p.logger.Info("account invited", "user_id", user.ID)

	if err := p.SendPasswordReset(ctx, email); err != nil {
		return nil, err
	}
	return toIdentity(user), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if p.prefs != nil {
		if err := p.prefs.Delete(ctx, PreferenceSessionKey); err != nil {
			return authgate.NewProviderError(opSignOut, authgate.CodeUnknown, "failed to clear session").WithCause(err)
		}
	}

	p.setCurrent(nil)
	return nil
}

func (p *Provider) SendVerificationEmail(ctx context.Context, identity authgate.Identity) error {
	if identity == nil {
		return authgate.NewProviderError(opSendVerification, authgate.CodeMalformedInput, "identity is required")
	}

	user, err := p.repo.Users().GetByID(ctx, identity.ID())
	if err != nil {
		if isNotFound(err) {
			return authgate.NewProviderError(opSendVerification, authgate.CodeNotFound, "no account for identity")
		}
		return storageError(opSendVerification, err)
	}

	var record *EmailVerification
	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := p.now()
		record, err = p.repo.EmailVerifications().CreateTx(ctx, tx, &EmailVerification{
			ID:        uuid.New(),
			UserID:    user.ID,
			Email:     user.Email,
			Status:    TicketRequestedStatus,
			CreatedAt: &now,
		})
		return err
	})
	if err != nil {
		return storageError(opSendVerification, err)
	}

	mail := newMail(MailVerification, user.Email, p.baseURL, record.ID.String())
	if err := p.mailer.Send(ctx, mail); err != nil {
		return authgate.NewProviderError(opSendVerification, authgate.CodeUnknown, "failed to send mail").WithCause(err)
	}
	return nil
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	if err := checkEmail(opSendPasswordReset, email); err != nil {
		return err
	}

	user, err := p.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return authgate.NewProviderError(opSendPasswordReset, authgate.CodeNotFound, "no account for email")
		}
		return storageError(opSendPasswordReset, err)
	}

	var reset *PasswordReset
	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := p.now()
		reset, err = p.repo.PasswordResets().CreateTx(ctx, tx, &PasswordReset{
			ID:        uuid.New(),
			UserID:    user.ID,
			Email:     user.Email,
			Status:    TicketRequestedStatus,
			CreatedAt: &now,
		})
		return err
	})
	if err != nil {
		return storageError(opSendPasswordReset, err)
	}

	mail := newMail(MailPasswordReset, user.Email, p.baseURL, reset.ID.String())
	if err := p.mailer.Send(ctx, mail); err != nil {
		return authgate.NewProviderError(opSendPasswordReset, authgate.CodeUnknown, "failed to send mail").WithCause(err)
	}
	return nil
}

// ConfirmEmail redeems a verification ticket.
func (p *Provider) ConfirmEmail(ctx context.Context, ticket string) error {
	var userID uuid.UUID

	err := p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &EmailVerification{}
		if err := p.loadTicket(ctx, tx, opConfirmEmail, ticket, record); err != nil {
			return err
		}
		if err := p.checkTicket(opConfirmEmail, record.Status, record.CreatedAt); err != nil {
			return err
		}

		if err := p.repo.Users().MarkEmailVerifiedTx(ctx, tx, record.UserID); err != nil {
			return err
		}

		now := p.now()
		record.Status = TicketRedeemedStatus
		record.VerifiedAt = &now
		record.UpdatedAt = &now
		if _, err := p.repo.EmailVerifications().UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String())); err != nil {
			return err
		}

		userID = record.UserID
		return nil
	})
	if err != nil {
		return ticketError(opConfirmEmail, err)
	}

	p.refreshCurrent(ctx, userID)
	return nil
}

// ConfirmPasswordReset redeems a reset ticket and stores the new password.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, ticket, password string) error {
	if len([]rune(password)) < authgate.MinPasswordLength {
		return authgate.NewProviderError(opConfirmPasswordReset, authgate.CodeWeakSecret, "password should be at least 6 characters")
	}

	hash, err := authgate.HashPasswordWithCost(password, p.hashCost)
	if err != nil {
		return authgate.NewProviderError(opConfirmPasswordReset, authgate.CodeUnknown, "failed to hash password").WithCause(err)
	}

	err = p.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset := &PasswordReset{}
		if err := p.loadTicket(ctx, tx, opConfirmPasswordReset, ticket, reset); err != nil {
			return err
		}
		if err := p.checkTicket(opConfirmPasswordReset, reset.Status, reset.CreatedAt); err != nil {
			return err
		}

		if err := p.repo.Users().ResetPasswordTx(ctx, tx, reset.UserID, hash); err != nil {
			return err
		}

		now := p.now()
		reset.Status = TicketRedeemedStatus
		reset.ResetedAt = &now
		reset.UpdatedAt = &now
		_, err := p.repo.PasswordResets().UpdateTx(ctx, tx, reset, repository.UpdateByID(reset.ID.String()))
		return err
	})
	if err != nil {
		return ticketError(opConfirmPasswordReset, err)
	}

	return nil
}

// SetDisabled toggles whether the account may sign in.
func (p *Provider) SetDisabled(ctx context.Context, email string, disabled bool) error {
	user, err := p.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	var at *time.Time
	if disabled {
		now := p.now()
		at = &now
	}
	return p.repo.Users().SetDisabled(ctx, user.ID, at)
}

// Close ends every subscription.
func (p *Provider) Close() {
	p.events.Close()
}

func (p *Provider) startSession(ctx context.Context, op string, user *User) (authgate.Identity, error) {
	if p.prefs != nil {
		token, err := p.tokens.Issue(user)
		if err != nil {
			return nil, authgate.NewProviderError(op, authgate.CodeUnknown, "failed to issue session").WithCause(err)
		}
		if err := p.prefs.Set(ctx, PreferenceSessionKey, token); err != nil {
			p.logger.Error("failed to persist session", "user_id", user.ID, "error", err)
		}
	}

	identity := toIdentity(user)
	p.setCurrent(identity)
	return identity, nil
}

func (p *Provider) restore(ctx context.Context) {
	p.mu.Lock()
	if p.restored {
		p.mu.Unlock()
		return
	}
	p.restored = true
	p.mu.Unlock()

	if p.prefs == nil {
		return
	}

	raw, ok, err := p.prefs.Get(ctx, PreferenceSessionKey)
	if err != nil {
		p.logger.Warn("failed to read persisted session", "error", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	claims, err := p.tokens.Parse(raw)
	if err != nil {
		p.logger.Info("discarding persisted session", "error", err)
		p.forget(ctx)
		return
	}

	user, err := p.repo.Users().GetByID(ctx, claims.Subject)
	if err != nil || user.Disabled() {
		p.logger.Info("discarding persisted session", "user_id", claims.Subject, "error", err)
		p.forget(ctx)
		return
	}

	p.mu.Lock()
	if p.current == nil {
		p.current = toIdentity(user)
	}
	p.mu.Unlock()

	p.logger.Debug("session restored", "user_id", user.ID)
}

func (p *Provider) forget(ctx context.Context) {
	if err := p.prefs.Delete(ctx, PreferenceSessionKey); err != nil {
		p.logger.Warn("failed to clear persisted session", "error", err)
	}
}

func (p *Provider) refreshCurrent(ctx context.Context, id uuid.UUID) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil || current.ID() != id.String() {
		return
	}

	user, err := p.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		p.logger.Warn("failed to refresh session identity", "user_id", id, "error", err)
		return
	}
	p.setCurrent(toIdentity(user))
}

func (p *Provider) setCurrent(identity authgate.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil && identity == nil {
		return
	}
	p.restored = true
	p.current = identity
	p.events.Publish(authgate.SessionEvent{Identity: identity})
}

func (p *Provider) loadTicket(ctx context.Context, tx bun.IDB, op, ticket string, model any) error {
	id, err := uuid.Parse(strings.TrimSpace(ticket))
	if err != nil {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "unknown ticket")
	}

	err = tx.NewSelect().
		Model(model).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "unknown ticket").WithCause(err)
	}
	return nil
}

func (p *Provider) checkTicket(op, status string, issuedAt *time.Time) error {
	if status != TicketRequestedStatus {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "ticket already used")
	}
	if issuedAt == nil {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "ticket expired")
	}

	valid, err := authgate.IsWithinThresholdPeriodAt(p.now(), *issuedAt, TicketTTL)
	if err != nil {
		return err
	}
	if !valid {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "ticket expired")
	}
	return nil
}

func toIdentity(user *User) authgate.Identity {
	return authgate.NewIdentity(user.ID.String(), user.Email, user.EmailValidated)
}

func checkEmail(op, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return authgate.NewProviderError(op, authgate.CodeMalformedInput, "email is required")
	}
	if err := is.Email.Validate(email); err != nil {
		return authgate.NewProviderError(op, authgate.CodeMalformedInput, "email is badly formatted").WithCause(err)
	}
	return nil
}

func storageError(op string, err error) error {
	return authgate.NewProviderError(op, authgate.CodeUnknown, "storage failure").WithCause(err)
}

func ticketError(op string, err error) error {
	if authgate.ProviderCode(err) != authgate.CodeUnknown {
		return err
	}
	if isNotFound(err) {
		return authgate.NewProviderError(op, authgate.CodeNotFound, "account no longer exists").WithCause(err)
	}
	return storageError(op, err)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
