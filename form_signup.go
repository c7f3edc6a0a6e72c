package authgate

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
)

const FormSignup = "signup"

const (
	MsgSignupEmailInUse    = "signupScreen.errorEmailInUse"
	MsgSignupInvalidEmail  = "signupScreen.errorInvalidEmail"
	MsgSignupWeakPassword  = "signupScreen.errorWeakPassword"
	MsgSignupFailedDefault = "signupScreen.signupFailedDefault"
)

// SignupErrorMessage maps a sign up failure to its message key.
func SignupErrorMessage(err error) string {
	switch ProviderCode(err) {
	case CodeAlreadyRegistered:
		return MsgSignupEmailInUse
	case CodeMalformedInput:
		return MsgSignupInvalidEmail
	case CodeWeakSecret:
		return MsgSignupWeakPassword
	default:
		return MsgSignupFailedDefault
	}
}

// SignupResult is the account created by a signup submission.
type SignupResult struct {
	Identity Identity
	// SessionVersion is the store version seen before the account existed.
	SessionVersion uint64
}

// NewSignupForm creates an account through creds. The provider signs new
// accounts in, so on success the form sends the verification email, signs
// the account back out, posts a confirmation for the login screen and
// redirects there. Failures of those follow-up calls are logged only.
//
// With a store, Submit returns only after the store has applied both the
// new account's sign in and the sign out that follows it, bounded by the
// settle timeout.
func NewSignupForm(creds CredentialService, store *SessionStore, notices *NoticeBoard, opts ...FormOption) *Form[SignupResult] {
	cfg := newFormConfig(opts...)

	return NewForm(FormSpec[SignupResult]{
		Name:   FormSignup,
		Fields: []string{FieldEmail, FieldPassword, FieldConfirmPassword},
		Schema: func(values Values) map[string][]validation.Rule {
			return map[string][]validation.Rule{
				FieldEmail:           EmailRules(),
				FieldPassword:        PasswordRules(),
				FieldConfirmPassword: ConfirmPasswordRules(values[FieldPassword]),
			}
		},
		Submit: func(ctx context.Context, values Values) (SignupResult, error) {
			var since uint64
			if store != nil {
				since = store.Version()
			}
			identity, err := creds.SignUp(ctx, values[FieldEmail], values[FieldPassword])
			return SignupResult{Identity: identity, SessionVersion: since}, err
		},
		OnSuccess: func(ctx context.Context, _ Values, result SignupResult) Outcome {
			identity := result.Identity
			if identity != nil {
				if err := creds.SendVerificationEmail(ctx, identity); err != nil {
					sideChannelFailed(ctx, cfg, FormSignup, "send_verification_email", identityID(identity), err)
				}
			}

			signedOut := true
			if err := creds.SignOut(ctx); err != nil {
				signedOut = false
				sideChannelFailed(ctx, cfg, FormSignup, "sign_out", identityID(identity), err)
			}

			if store != nil && signedOut && identity != nil {
				waitCtx, cancel := context.WithTimeout(ctx, cfg.settleTimeout)
				err := store.AwaitSignOut(waitCtx, identity.ID(), result.SessionVersion)
				cancel()
				if err != nil {
					cfg.logger.Warn("session did not settle after signup", "user_id", identity.ID(), "error", err)
				}
			}

			notices.Post(ScreenLogin, MsgSignupSuccessRedirect)

			return Outcome{
				Redirect:  ScreenLogin,
				ClearForm: true,
			}
		},
		MapError: SignupErrorMessage,
		Subject: func(result SignupResult) string {
			return identityID(result.Identity)
		},
		SecretFields: []string{FieldPassword, FieldConfirmPassword},
		SuccessEvent: ActivityEventSignupSuccess,
		FailureEvent: ActivityEventSignupFailure,
	}, opts...)
}

func sideChannelFailed(ctx context.Context, cfg formConfig, form, operation, userID string, err error) {
	cfg.logger.Warn("side channel call failed", "form", form, "operation", operation, "error", err)

	recordActivity(ctx, cfg.activity, cfg.logger, ActivityEvent{
		EventType: ActivityEventSideChannelFailure,
		UserID:    userID,
		Form:      form,
		Metadata: map[string]any{
			"operation": operation,
			"code":      string(ProviderCode(err)),
			"error":     err.Error(),
		},
		OccurredAt: cfg.now(),
	})
}
