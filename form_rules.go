package authgate

import (
	"errors"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Validation message keys shared by the credential forms.
const (
	MsgEmailRequired           = "validation.emailRequired"
	MsgEmailInvalid            = "validation.emailInvalid"
	MsgPasswordRequired        = "validation.passwordRequired"
	MsgPasswordMinLength       = "validation.passwordMinLength"
	MsgConfirmPasswordRequired = "validation.confirmPasswordRequired"
	MsgPasswordsMustMatch      = "validation.passwordsMustMatch"
)

// MinPasswordLength is the shortest password the forms accept.
const MinPasswordLength = 6

// ValidationMessage is a field error expressed as a translation key.
type ValidationMessage struct {
	Key    string
	Params map[string]any
}

func (m ValidationMessage) Error() string {
	return m.Key
}

// AsValidationMessage converts a rule error into a ValidationMessage. Plain
// errors use their text as the key.
func AsValidationMessage(err error) ValidationMessage {
	var msg ValidationMessage
	if errors.As(err, &msg) {
		return msg
	}
	return ValidationMessage{Key: err.Error()}
}

// EmailRules requires a syntactically valid address.
func EmailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(MsgEmailRequired),
		is.Email.Error(MsgEmailInvalid),
	}
}

// PasswordRules requires a password of at least MinPasswordLength runes.
func PasswordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(MsgPasswordRequired),
		MinRunes(MinPasswordLength, MsgPasswordMinLength),
	}
}

// ConfirmPasswordRules requires the confirmation to equal password.
func ConfirmPasswordRules(password string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(MsgConfirmPasswordRequired),
		validation.By(ValidateStringEquals(password, MsgPasswordsMustMatch)),
	}
}

// MinRunes fails when a non empty string has fewer than min characters.
// The message carries the limit as the "count" parameter.
func MinRunes(min int, key string) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if utf8.RuneCountInString(s) < min {
			return ValidationMessage{
				Key:    key,
				Params: map[string]any{"count": min},
			}
		}
		return nil
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str, key string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return ValidationMessage{Key: key}
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo field errors into translated
// messages keyed by field name.
func FormatValidationErrorToMap(err error, t Translator) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	t = normalizeTranslator(t)

	var fields validation.Errors
	if errors.As(err, &fields) {
		for field, ferr := range fields {
			if ferr == nil {
				continue
			}
			msg := AsValidationMessage(ferr)
			out[field] = t.Translate(msg.Key, msg.Params)
		}
		return out
	}

	msg := AsValidationMessage(err)
	out["form"] = t.Translate(msg.Key, msg.Params)
	return out
}
