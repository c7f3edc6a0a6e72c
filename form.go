package authgate

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-print"
)

// Values holds the raw input of a form keyed by field name.
type Values map[string]string

// FormPhase is the lifecycle position of a form.
type FormPhase string

const (
	PhaseIdle       FormPhase = "idle"
	PhaseValidating FormPhase = "validating"
	PhaseSubmitting FormPhase = "submitting"
	PhaseSucceeded  FormPhase = "succeeded"
)

// SubmitStatus classifies a Submit call.
type SubmitStatus string

const (
	SubmitIgnored   SubmitStatus = "ignored"
	SubmitInvalid   SubmitStatus = "invalid"
	SubmitFailed    SubmitStatus = "failed"
	SubmitSucceeded SubmitStatus = "succeeded"
)

// MsgSubmitFailedDefault is used when a form has no error table.
const MsgSubmitFailedDefault = "form.submitFailedDefault"

// Outcome is what a successful submission asks the screen to do.
type Outcome struct {
	Redirect     Screen
	Notice       string
	NoticeParams map[string]any
	ClearForm    bool
	SuppressForm bool
}

// SubmitResult reports how a Submit call settled. Err is the provider
// error for failed submissions and is meant for logs only.
type SubmitResult struct {
	Status   SubmitStatus
	Redirect Screen
	Err      error
}

// FormSpec describes one credential form.
type FormSpec[R any] struct {
	Name   string
	Fields []string
	// Schema returns the rules per field. It receives every value so rules
	// can compare fields.
	Schema    func(values Values) map[string][]validation.Rule
	Submit    func(ctx context.Context, values Values) (R, error)
	OnSuccess func(ctx context.Context, values Values, result R) Outcome
	MapError  func(err error) string
	Subject   func(result R) string

	SecretFields []string
	SuccessEvent ActivityEventType
	FailureEvent ActivityEventType
}

// FormState is a rendered snapshot. Errors, SubmitError and Notice are
// translated with the form's current Translator.
type FormState struct {
	Values      Values
	Errors      map[string]string
	Touched     map[string]bool
	Submitting  bool
	SubmitError string
	Phase       FormPhase
	Notice      string
	Suppressed  bool
}

// VisibleErrors returns errors for touched fields only.
func (s FormState) VisibleErrors() map[string]string {
	out := make(map[string]string, len(s.Errors))
	for field, msg := range s.Errors {
		if s.Touched[field] {
			out[field] = msg
		}
	}
	return out
}

// HasErrors reports whether any field failed validation.
func (s FormState) HasErrors() bool {
	return len(s.Errors) > 0
}

// DefaultSettleTimeout bounds how long a login waits for the session to flip.
const DefaultSettleTimeout = 5 * time.Second

type formConfig struct {
	translator    Translator
	logger        Logger
	activity      ActivitySink
	now           func() time.Time
	settleTimeout time.Duration
	debug         bool
}

func newFormConfig(opts ...FormOption) formConfig {
	cfg := formConfig{
		translator:    keyTranslator{},
		logger:        defLogger{},
		activity:      noopActivitySink{},
		now:           time.Now,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// FormOption customizes form construction.
type FormOption func(*formConfig)

// WithFormTranslator sets the translator used for rendered messages.
func WithFormTranslator(t Translator) FormOption {
	return func(c *formConfig) {
		if t != nil {
			c.translator = t
		}
	}
}

// WithFormLogger overrides the form logger.
func WithFormLogger(logger Logger) FormOption {
	return func(c *formConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFormActivitySink sets the sink for submit outcomes.
func WithFormActivitySink(sink ActivitySink) FormOption {
	return func(c *formConfig) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithFormClock injects a custom clock (useful for tests).
func WithFormClock(clock func() time.Time) FormOption {
	return func(c *formConfig) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithFormSettleTimeout bounds the wait for the session store after a
// successful login.
func WithFormSettleTimeout(d time.Duration) FormOption {
	return func(c *formConfig) {
		if d > 0 {
			c.settleTimeout = d
		}
	}
}

// WithFormDebug dumps submitted values, with secrets redacted, at debug level.
func WithFormDebug(debug bool) FormOption {
	return func(c *formConfig) {
		c.debug = debug
	}
}

// Form runs the validate, submit, settle lifecycle for one screen.
type Form[R any] struct {
	spec FormSpec[R]
	cfg  formConfig

	mu         sync.Mutex
	values     Values
	touched    map[string]bool
	fieldErrs  map[string]ValidationMessage
	submitting bool
	// submission counter, guards the release of submitting after a panic
	attempt    uint64
	submitErr  string
	phase      FormPhase
	notice     *ValidationMessage
	suppressed bool
}

// NewForm builds a form from spec.
func NewForm[R any](spec FormSpec[R], opts ...FormOption) *Form[R] {
	if spec.Submit == nil {
		panic("authgate: form " + spec.Name + " requires a Submit function")
	}

	f := &Form[R]{spec: spec, cfg: newFormConfig(opts...)}
	f.resetLocked()
	return f
}

// Name returns the form name.
func (f *Form[R]) Name() string {
	return f.spec.Name
}

// Fields returns the declared field names in order.
func (f *Form[R]) Fields() []string {
	out := make([]string, len(f.spec.Fields))
	copy(out, f.spec.Fields)
	return out
}

// State returns a snapshot of the form.
func (f *Form[R]) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := normalizeTranslator(f.cfg.translator)

	state := FormState{
		Values:     maps.Clone(f.values),
		Errors:     make(map[string]string, len(f.fieldErrs)),
		Touched:    maps.Clone(f.touched),
		Submitting: f.submitting,
		Phase:      f.phase,
		Suppressed: f.suppressed,
	}

	for field, msg := range f.fieldErrs {
		state.Errors[field] = t.Translate(msg.Key, msg.Params)
	}
	if f.submitErr != "" {
		state.SubmitError = t.Translate(f.submitErr, nil)
	}
	if f.notice != nil {
		state.Notice = t.Translate(f.notice.Key, f.notice.Params)
	}

	return state
}

// Change sets the value of field and revalidates.
func (f *Form[R]) Change(field, value string) error {
	if !f.declares(field) {
		return ErrUnknownField
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[field] = value
	if f.phase == PhaseSucceeded {
		f.phase = PhaseIdle
	}
	f.fieldErrs = f.validate(f.values)
	return nil
}

// Blur marks field as touched and revalidates.
func (f *Form[R]) Blur(field string) error {
	if !f.declares(field) {
		return ErrUnknownField
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.touched[field] = true
	f.fieldErrs = f.validate(f.values)
	return nil
}

// SetTranslator swaps the translator used by State.
func (f *Form[R]) SetTranslator(t Translator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.translator = normalizeTranslator(t)
}

// SetNotice shows a persistent message above the form.
func (f *Form[R]) SetNotice(key string, params map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key == "" {
		f.notice = nil
		return
	}
	f.notice = &ValidationMessage{Key: key, Params: params}
}

// Reset returns the form to its initial state. A submission in flight
// keeps its Submitting guard.
func (f *Form[R]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	submitting := f.submitting
	f.resetLocked()
	if submitting {
		f.submitting = true
		f.phase = PhaseSubmitting
	}
}

// Submit validates the current values and, when they pass, calls the
// provider. It returns once the submission has settled. The provider call
// is not cancelled when ctx is.
func (f *Form[R]) Submit(ctx context.Context) SubmitResult {
	f.mu.Lock()
	if f.submitting || f.suppressed {
		f.mu.Unlock()
		return SubmitResult{Status: SubmitIgnored}
	}

	f.phase = PhaseValidating
	for _, field := range f.spec.Fields {
		f.touched[field] = true
	}
	f.fieldErrs = f.validate(f.values)
	if len(f.fieldErrs) > 0 {
		f.phase = PhaseIdle
		f.mu.Unlock()
		return SubmitResult{Status: SubmitInvalid}
	}

	f.submitting = true
	f.attempt++
	attempt := f.attempt
	f.submitErr = ""
	f.phase = PhaseSubmitting
	values := maps.Clone(f.values)
	f.mu.Unlock()

	defer f.release(attempt)

	callCtx := context.WithoutCancel(ctx)

	if f.cfg.debug {
		f.cfg.logger.Debug("form submit", "form", f.spec.Name, "payload", print.MaybePrettyJSON(f.redact(values)))
	}

	result, err := f.spec.Submit(callCtx, values)
	if err != nil {
		return f.fail(callCtx, values, err)
	}

	var outcome Outcome
	if f.spec.OnSuccess != nil {
		outcome = f.spec.OnSuccess(callCtx, values, result)
	}

	f.mu.Lock()
	f.submitting = false
	f.phase = PhaseSucceeded
	if outcome.ClearForm {
		f.values = f.emptyValues()
		f.touched = map[string]bool{}
		f.fieldErrs = map[string]ValidationMessage{}
	}
	if outcome.Notice != "" {
		f.notice = &ValidationMessage{Key: outcome.Notice, Params: outcome.NoticeParams}
	}
	if outcome.SuppressForm {
		f.suppressed = true
	}
	f.mu.Unlock()

	subject := ""
	if f.spec.Subject != nil {
		subject = f.spec.Subject(result)
	}

	if f.spec.SuccessEvent != "" {
		recordActivity(callCtx, f.cfg.activity, f.cfg.logger, ActivityEvent{
			EventType:  f.spec.SuccessEvent,
			UserID:     subject,
			Form:       f.spec.Name,
			OccurredAt: f.cfg.now(),
		})
	}

	return SubmitResult{Status: SubmitSucceeded, Redirect: outcome.Redirect}
}

// release clears a Submitting guard left behind by a panicking submission.
func (f *Form[R]) release(attempt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting && f.attempt == attempt {
		f.submitting = false
		f.phase = PhaseIdle
	}
}

func (f *Form[R]) fail(ctx context.Context, values Values, err error) SubmitResult {
	key := MsgSubmitFailedDefault
	if f.spec.MapError != nil {
		if mapped := f.spec.MapError(err); mapped != "" {
			key = mapped
		}
	}

	f.mu.Lock()
	f.submitting = false
	f.phase = PhaseIdle
	f.submitErr = key
	f.mu.Unlock()

	code := ProviderCode(err)
	f.cfg.logger.Warn("form submit failed", "form", f.spec.Name, "code", code, "error", err)

	if f.spec.FailureEvent != "" {
		meta := map[string]any{
			"code":    string(code),
			"message": key,
		}
		if domain := emailDomain(values["email"]); domain != "" {
			meta["email_domain"] = domain
		}
		recordActivity(ctx, f.cfg.activity, f.cfg.logger, ActivityEvent{
			EventType:  f.spec.FailureEvent,
			Form:       f.spec.Name,
			Metadata:   meta,
			OccurredAt: f.cfg.now(),
		})
	}

	return SubmitResult{Status: SubmitFailed, Err: err}
}

func (f *Form[R]) validate(values Values) map[string]ValidationMessage {
	errs := map[string]ValidationMessage{}
	if f.spec.Schema == nil {
		return errs
	}

	rules := f.spec.Schema(values)
	for _, field := range f.spec.Fields {
		fieldRules := rules[field]
		if len(fieldRules) == 0 {
			continue
		}
		if err := validation.Validate(values[field], fieldRules...); err != nil {
			errs[field] = AsValidationMessage(err)
		}
	}
	return errs
}

func (f *Form[R]) resetLocked() {
	f.values = f.emptyValues()
	f.touched = map[string]bool{}
	f.fieldErrs = map[string]ValidationMessage{}
	f.submitting = false
	f.submitErr = ""
	f.phase = PhaseIdle
	f.notice = nil
	f.suppressed = false
}

func (f *Form[R]) emptyValues() Values {
	values := make(Values, len(f.spec.Fields))
	for _, field := range f.spec.Fields {
		values[field] = ""
	}
	return values
}

func (f *Form[R]) declares(field string) bool {
	for _, name := range f.spec.Fields {
		if name == field {
			return true
		}
	}
	return false
}

func (f *Form[R]) redact(values Values) Values {
	out := maps.Clone(values)
	for _, field := range f.spec.SecretFields {
		if _, ok := out[field]; ok {
			out[field] = "********"
		}
	}
	return out
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
