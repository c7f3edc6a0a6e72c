package authgate

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
)

const FormPasswordReset = "password_reset"

const (
	MsgResetEmailSent     = "forgotPasswordScreen.emailSent"
	MsgResetFailedDefault = "forgotPasswordScreen.resetFailedDefault"
)

// NewPasswordResetForm asks creds to mail a reset link. On success the
// form is replaced by a persistent confirmation.
func NewPasswordResetForm(creds CredentialService, opts ...FormOption) *Form[string] {
	return NewForm(FormSpec[string]{
		Name:   FormPasswordReset,
		Fields: []string{FieldEmail},
		Schema: func(Values) map[string][]validation.Rule {
			return map[string][]validation.Rule{
				FieldEmail: EmailRules(),
			}
		},
		Submit: func(ctx context.Context, values Values) (string, error) {
			email := values[FieldEmail]
			if err := creds.SendPasswordReset(ctx, email); err != nil {
				return "", err
			}
			return email, nil
		},
		OnSuccess: func(_ context.Context, _ Values, email string) Outcome {
			return Outcome{
				Notice:       MsgResetEmailSent,
				NoticeParams: map[string]any{"email": email},
				SuppressForm: true,
			}
		},
		MapError: func(error) string {
			return MsgResetFailedDefault
		},
		SuccessEvent: ActivityEventPasswordResetRequest,
		FailureEvent: ActivityEventPasswordResetFailure,
	}, opts...)
}
