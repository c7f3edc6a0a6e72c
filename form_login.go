package authgate

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
)

const FormLogin = "login"

// Field names shared by the credential forms.
const (
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
)

const (
	MsgLoginUserNotFound     = "loginScreen.errorUserNotFound"
	MsgLoginWrongPassword    = "loginScreen.errorWrongPassword"
	MsgLoginInvalidEmail     = "loginScreen.errorInvalidEmail"
	MsgLoginUserDisabled     = "loginScreen.errorUserDisabled"
	MsgLoginTooManyRequests  = "loginScreen.errorTooManyRequests"
	MsgLoginFailedDefault    = "loginScreen.loginFailedDefault"
	MsgSignupSuccessRedirect = "loginScreen.signupSuccess"
)

// LoginErrorMessage maps a sign in failure to its message key.
func LoginErrorMessage(err error) string {
	switch ProviderCode(err) {
	case CodeNotFound:
		return MsgLoginUserNotFound
	case CodeWrongCredential:
		return MsgLoginWrongPassword
	case CodeMalformedInput:
		return MsgLoginInvalidEmail
	case CodeDisabled:
		return MsgLoginUserDisabled
	case CodeRateLimited:
		return MsgLoginTooManyRequests
	default:
		return MsgLoginFailedDefault
	}
}

// NewLoginForm signs in through creds. On success there is no redirect;
// the form waits until store reports the signed in identity so the caller
// renders the authenticated stack.
func NewLoginForm(creds CredentialService, store *SessionStore, opts ...FormOption) *Form[Identity] {
	cfg := newFormConfig(opts...)

	return NewForm(FormSpec[Identity]{
		Name:   FormLogin,
		Fields: []string{FieldEmail, FieldPassword},
		Schema: func(Values) map[string][]validation.Rule {
			return map[string][]validation.Rule{
				FieldEmail:    EmailRules(),
				FieldPassword: PasswordRules(),
			}
		},
		Submit: func(ctx context.Context, values Values) (Identity, error) {
			return creds.SignIn(ctx, values[FieldEmail], values[FieldPassword])
		},
		OnSuccess: func(ctx context.Context, _ Values, identity Identity) Outcome {
			if store == nil {
				return Outcome{}
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.settleTimeout)
			defer cancel()

			want := identityID(identity)
			signedIn := func(s SessionState) bool {
				if want == "" {
					return s.IsAuthenticated()
				}
				return s.UserID() == want
			}

			if _, err := store.Await(waitCtx, signedIn); err != nil {
				cfg.logger.Warn("session did not settle after login", "user_id", identityID(identity), "error", err)
			}
			return Outcome{}
		},
		MapError:     LoginErrorMessage,
		Subject:      identityID,
		SecretFields: []string{FieldPassword},
		SuccessEvent: ActivityEventLoginSuccess,
		FailureEvent: ActivityEventLoginFailure,
	}, opts...)
}

func identityID(identity Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID()
}
