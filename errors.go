package authgate

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeSessionRegression   = "SESSION_STATE_REGRESSION"
	TextCodeSessionStreamFailed = "SESSION_STREAM_FAILED"
	TextCodeUnsupportedLocale   = "UNSUPPORTED_LOCALE"
	TextCodeUnknownField        = "UNKNOWN_FORM_FIELD"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeMismatchedPassword  = "PASSWORD_MISMATCH"
)

// ErrSessionRegression is returned when a write would move the session back to unknown.
var ErrSessionRegression = goerrors.New("session state cannot return to unknown", goerrors.CategoryValidation).
	WithTextCode(TextCodeSessionRegression).
	WithCode(goerrors.CodeConflict)

// ErrSessionStreamClosed is recorded when the provider closes the session stream while the gate runs.
var ErrSessionStreamClosed = goerrors.New("session stream closed unexpectedly", goerrors.CategoryOperation).
	WithTextCode(TextCodeSessionStreamFailed).
	WithCode(goerrors.CodeInternal)

// ErrUnsupportedLocale is returned when selecting a language without translations.
var ErrUnsupportedLocale = goerrors.New("unsupported locale", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnsupportedLocale).
	WithCode(goerrors.CodeBadRequest)

// ErrUnknownField is returned when a form is asked about a field it does not declare.
var ErrUnknownField = goerrors.New("unknown form field", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownField).
	WithCode(goerrors.CodeBadRequest)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = goerrors.New("password must not be empty", goerrors.CategoryBadInput).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeMismatchedPassword).
	WithCode(goerrors.CodeUnauthorized)

// ProviderErrorCode is the closed set of rejection reasons a CredentialService reports.
type ProviderErrorCode string

const (
	CodeNotFound          ProviderErrorCode = "not-found"
	CodeWrongCredential   ProviderErrorCode = "wrong-credential"
	CodeMalformedInput    ProviderErrorCode = "malformed-input"
	CodeDisabled          ProviderErrorCode = "disabled"
	CodeRateLimited       ProviderErrorCode = "rate-limited"
	CodeAlreadyRegistered ProviderErrorCode = "already-registered"
	CodeWeakSecret        ProviderErrorCode = "weak-secret"
	CodeUnknown           ProviderErrorCode = "unknown"
)

// ProviderError captures a normalized rejection from the identity provider.
type ProviderError struct {
	Operation   string
	Code        ProviderErrorCode
	Description string
	Err         error
}

// NewProviderError builds a ProviderError for the given operation.
func NewProviderError(operation string, code ProviderErrorCode, description string) *ProviderError {
	return &ProviderError{
		Operation:   operation,
		Code:        code,
		Description: description,
	}
}

// WithCause sets the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed (%s): %s", scope, e.Code, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed (%s): %v", scope, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed (%s)", scope, e.Code)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata exposes the error details for logging and activity records.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{"code": string(e.Code)}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// ProviderCode classifies err. Anything that is not a ProviderError is CodeUnknown.
func ProviderCode(err error) ProviderErrorCode {
	if err == nil {
		return ""
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil && perr.Code != "" {
		return perr.Code
	}
	return CodeUnknown
}

// IsProviderCode reports whether err carries the given provider code
func IsProviderCode(err error, code ProviderErrorCode) bool {
	return err != nil && ProviderCode(err) == code
}
