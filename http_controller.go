package authgate

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

const (
	MsgResetConfirmSuccess     = "passwordResetConfirm.success"
	MsgResetConfirmFailed      = "passwordResetConfirm.failed"
	MsgResetConfirmUnavailable = "passwordResetConfirm.unavailable"
	MsgVerifyEmailSuccess      = "verifyEmail.success"
	MsgVerifyEmailFailed       = "verifyEmail.failed"
	MsgSignOutFailed           = "homeScreen.signOutFailed"
	MsgHomeWelcome             = "homeScreen.welcome"
)

// RegisterAppRoutes mounts every screen of the app on app.
func RegisterAppRoutes[T any](app router.Router[T], opts ...AppControllerOption) *AppController {
	controller := NewAppController(opts...)

	app.Get(controller.Routes.Root, controller.Root).
		SetName("root.get")

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("login.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("login.post")

	app.Get(controller.Routes.Signup, controller.SignupShow).
		SetName("signup.get")
	app.Post(controller.Routes.Signup, controller.SignupPost).
		SetName("signup.post")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetShow).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(controller.Routes.PasswordReset+"/:ticket", controller.PasswordResetConfirmShow).
		SetName("pwd-reset-do.get")
	app.Post(controller.Routes.PasswordReset+"/:ticket", controller.PasswordResetConfirmPost).
		SetName("pwd-reset-do.post")

	app.Get(controller.Routes.VerifyEmail+"/:ticket", controller.VerifyEmail).
		SetName("verify-email.get")

	app.Get(controller.Routes.Home, controller.HomeShow).
		SetName("home.get")
	app.Post(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.post")

	app.Post(controller.Routes.Language, controller.LanguagePost).
		SetName("language.post")
	app.Post(controller.Routes.Theme, controller.ThemePost).
		SetName("theme.post")

	app.Get(controller.Routes.Session, controller.SessionShow).
		SetName("session.get")

	return controller
}

type AppControllerRoutes struct {
	Root          string
	Login         string
	Signup        string
	PasswordReset string
	VerifyEmail   string
	Home          string
	Logout        string
	Language      string
	Theme         string
	Session       string
}

type AppControllerViews struct {
	Loading              string
	Login                string
	Signup               string
	PasswordReset        string
	PasswordResetConfirm string
	VerifyEmail          string
	Home                 string
	Error                string
}

// AppController renders the screens of the selected stack and drives the
// credential forms.
type AppController struct {
	Debug         bool
	Logger        Logger
	Activity      ActivitySink
	Gate          *SessionGate
	Creds         CredentialService
	Locale        *LocaleSelector
	Theme         *ThemeSelector
	Notices       *NoticeBoard
	Routes        *AppControllerRoutes
	Views         *AppControllerViews
	ErrorHandler  router.ErrorHandler
	SettleTimeout time.Duration

	loginForm  *Form[Identity]
	signupForm *Form[SignupResult]
	resetForm  *Form[string]
}

type AppControllerOption func(*AppController) *AppController

func WithCredentialService(creds CredentialService) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Creds = creds
		return a
	}
}

func WithSessionGate(gate *SessionGate) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Gate = gate
		return a
	}
}

func WithLocaleSelector(locale *LocaleSelector) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Locale = locale
		return a
	}
}

func WithThemeSelector(theme *ThemeSelector) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Theme = theme
		return a
	}
}

func WithNoticeBoard(notices *NoticeBoard) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Notices = notices
		return a
	}
}

func WithControllerLogger(logger Logger) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Logger = normalizeLogger(logger)
		return a
	}
}

func WithControllerActivitySink(sink ActivitySink) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Activity = normalizeActivitySink(sink)
		return a
	}
}

// WithControllerDebug dumps submitted payloads, with secrets redacted.
func WithControllerDebug(debug bool) AppControllerOption {
	return func(a *AppController) *AppController {
		a.Debug = debug
		return a
	}
}

func WithErrorHandler(handler router.ErrorHandler) AppControllerOption {
	return func(a *AppController) *AppController {
		if handler != nil {
			a.ErrorHandler = handler
		}
		return a
	}
}

// WithSettleTimeout bounds how long a request waits for the session gate to
// apply a sign in or sign out before redirecting.
func WithSettleTimeout(d time.Duration) AppControllerOption {
	return func(a *AppController) *AppController {
		if d > 0 {
			a.SettleTimeout = d
		}
		return a
	}
}

func NewAppController(opts ...AppControllerOption) *AppController {
	a := &AppController{
		Logger:        defLogger{},
		Activity:      noopActivitySink{},
		SettleTimeout: DefaultSettleTimeout,
		Routes: &AppControllerRoutes{
			Root:          "/",
			Login:         "/login",
			Signup:        "/signup",
			PasswordReset: "/password-reset",
			VerifyEmail:   "/verify-email",
			Home:          "/home",
			Logout:        "/logout",
			Language:      "/language",
			Theme:         "/theme",
			Session:       "/session",
		},
		Views: &AppControllerViews{
			Loading:              "loading",
			Login:                "login",
			Signup:               "signup",
			PasswordReset:        "password_reset",
			PasswordResetConfirm: "password_reset_confirm",
			VerifyEmail:          "verify_email",
			Home:                 "home",
			Error:                "errors",
		},
	}

	for _, opt := range opts {
		a = opt(a)
	}

	if a.Creds == nil {
		panic("Missing CredentialService in app controller...")
	}

	if a.Gate == nil {
		panic("Missing SessionGate in app controller...")
	}

	if a.ErrorHandler == nil {
		a.ErrorHandler = a.renderError
	}

	if a.Locale == nil {
		locale, err := NewLocaleSelector(nil, WithLocaleLogger(a.Logger))
		if err != nil {
			panic(err)
		}
		a.Locale = locale
	}

	if a.Theme == nil {
		a.Theme = NewThemeSelector("")
	}

	if a.Notices == nil {
		a.Notices = NewNoticeBoard()
	}

	formOpts := []FormOption{
		WithFormTranslator(a.Locale),
		WithFormLogger(a.Logger),
		WithFormActivitySink(a.Activity),
		WithFormSettleTimeout(a.SettleTimeout),
		WithFormDebug(a.Debug),
	}

	a.loginForm = NewLoginForm(a.Creds, a.Gate.Store(), formOpts...)
	a.signupForm = NewSignupForm(a.Creds, a.Gate.Store(), a.Notices, formOpts...)
	a.resetForm = NewPasswordResetForm(a.Creds, formOpts...)

	return a
}

// Root renders the loading screen until the session is known, then sends
// the client to the initial screen of the selected stack.
func (a *AppController) Root(ctx router.Context) error {
	stack, screen := ResolveScreen(a.Gate.Store().Current(), ScreenNone)
	if stack == StackLoading {
		viewCtx := router.ViewContext{
			"session_url": a.Routes.Session,
		}
		if err := a.Gate.Err(); err != nil {
			viewCtx["stream_error"] = err.Error()
		}
		return a.render(ctx, a.Views.Loading, viewCtx)
	}
	return ctx.Redirect(a.screenPath(screen), router.StatusSeeOther)
}

// LoginPayload is the login form payload
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (a *AppController) LoginShow(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenLogin); handled {
		return err
	}

	a.loginForm.Reset()
	if msg, ok := a.Notices.Take(ScreenLogin); ok {
		a.loginForm.SetNotice(msg, nil)
	}

	return a.renderForm(ctx, a.Views.Login, a.loginForm.State())
}

func (a *AppController) LoginPost(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenLogin); handled {
		return err
	}

	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.submit(ctx, a.Views.Login, a.loginForm, Values{
		FieldEmail:    payload.Email,
		FieldPassword: payload.Password,
	})
}

// SignupPayload is the signup form payload
type SignupPayload struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (a *AppController) SignupShow(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenSignup); handled {
		return err
	}

	a.signupForm.Reset()
	return a.renderForm(ctx, a.Views.Signup, a.signupForm.State())
}

func (a *AppController) SignupPost(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenSignup); handled {
		return err
	}

	payload := new(SignupPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.submit(ctx, a.Views.Signup, a.signupForm, Values{
		FieldEmail:           payload.Email,
		FieldPassword:        payload.Password,
		FieldConfirmPassword: payload.ConfirmPassword,
	})
}

// PasswordResetPayload is the reset request payload
type PasswordResetPayload struct {
	Email string `form:"email" json:"email"`
}

func (a *AppController) PasswordResetShow(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenForgotPassword); handled {
		return err
	}

	a.resetForm.Reset()
	return a.renderForm(ctx, a.Views.PasswordReset, a.resetForm.State())
}

func (a *AppController) PasswordResetPost(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenForgotPassword); handled {
		return err
	}

	payload := new(PasswordResetPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.submit(ctx, a.Views.PasswordReset, a.resetForm, Values{
		FieldEmail: payload.Email,
	})
}

// PasswordResetConfirmPayload holds the new password
type PasswordResetConfirmPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate runs the same password rules as signup
func (r PasswordResetConfirmPayload) Validate() error {
	return validation.Errors{
		FieldPassword:        validation.Validate(r.Password, PasswordRules()...),
		FieldConfirmPassword: validation.Validate(r.ConfirmPassword, ConfirmPasswordRules(r.Password)...),
	}.Filter()
}

func (a *AppController) PasswordResetConfirmShow(ctx router.Context) error {
	ticket := ctx.Param("ticket", "")

	viewCtx := router.ViewContext{
		"ticket": ticket,
		"errors": map[string]string{},
	}
	if _, ok := a.Creds.(TicketRedeemer); !ok {
		viewCtx["errors"] = map[string]string{"form": a.Locale.Translate(MsgResetConfirmUnavailable, nil)}
	}

	return a.render(ctx, a.Views.PasswordResetConfirm, viewCtx)
}

func (a *AppController) PasswordResetConfirmPost(ctx router.Context) error {
	ticket := ctx.Param("ticket", "")

	redeemer, ok := a.Creds.(TicketRedeemer)
	if !ok {
		return a.render(ctx, a.Views.PasswordResetConfirm, router.ViewContext{
			"ticket": ticket,
			"errors": map[string]string{"form": a.Locale.Translate(MsgResetConfirmUnavailable, nil)},
		})
	}

	payload := new(PasswordResetConfirmPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset confirm parse payload", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.render(ctx, a.Views.PasswordResetConfirm, router.ViewContext{
			"ticket": ticket,
			"errors": FormatValidationErrorToMap(err, a.Locale),
		})
	}

	if err := redeemer.ConfirmPasswordReset(ctx.Context(), ticket, payload.Password); err != nil {
		a.Logger.Warn("password reset confirm failed", "code", ProviderCode(err), "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error resetting password",
		}).Render(a.Views.PasswordResetConfirm, a.viewData(a.Views.PasswordResetConfirm, router.ViewContext{
			"ticket": ticket,
			"errors": map[string]string{"form": a.Locale.Translate(MsgResetConfirmFailed, nil)},
		}))
	}

	a.Notices.Post(ScreenLogin, MsgResetConfirmSuccess)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Password updated",
	}).Redirect(a.Routes.Root, router.StatusSeeOther)
}

func (a *AppController) VerifyEmail(ctx router.Context) error {
	ticket := ctx.Param("ticket", "")

	message := MsgVerifyEmailFailed
	verified := false

	if redeemer, ok := a.Creds.(TicketRedeemer); ok {
		if err := redeemer.ConfirmEmail(ctx.Context(), ticket); err != nil {
			a.Logger.Warn("email verification failed", "code", ProviderCode(err), "error", err)
		} else {
			message = MsgVerifyEmailSuccess
			verified = true
		}
	}

	return a.render(ctx, a.Views.VerifyEmail, router.ViewContext{
		"verified": verified,
		"message":  a.Locale.Translate(message, nil),
	})
}

func (a *AppController) HomeShow(ctx router.Context) error {
	if handled, err := a.guard(ctx, ScreenHome); handled {
		return err
	}
	return a.renderHome(ctx, "")
}

func (a *AppController) LogOut(ctx router.Context) error {
	if err := a.Creds.SignOut(ctx.Context()); err != nil {
		a.Logger.Error("sign out failed", "error", err)
		return a.renderHome(ctx, a.Locale.Translate(MsgSignOutFailed, nil))
	}

	a.settle(ctx.Context(), func(s SessionState) bool { return !s.IsAuthenticated() })
	return ctx.Redirect(a.Routes.Root, router.StatusSeeOther)
}

// LanguagePayload selects a UI language
type LanguagePayload struct {
	Language string `form:"language" json:"language"`
	Redirect string `form:"redirect" json:"redirect"`
}

func (a *AppController) LanguagePost(ctx router.Context) error {
	payload := new(LanguagePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := a.Locale.SetLanguage(ctx.Context(), payload.Language); err != nil {
		a.Logger.Warn("language change rejected", "language", payload.Language, "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Redirect(safeRedirect(payload.Redirect, a.Routes.Root), router.StatusSeeOther)
}

// ThemePayload toggles the color scheme
type ThemePayload struct {
	Redirect string `form:"redirect" json:"redirect"`
}

func (a *AppController) ThemePost(ctx router.Context) error {
	payload := new(ThemePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	mode := a.Theme.Toggle()
	a.Logger.Debug("theme toggled", "mode", mode)

	return ctx.Redirect(safeRedirect(payload.Redirect, a.Routes.Root), router.StatusSeeOther)
}

// SessionSnapshot is the JSON view of the session polled by the loading
// screen.
type SessionSnapshot struct {
	Status   SessionStatus     `json:"status"`
	Stack    Stack             `json:"stack"`
	Screen   Screen            `json:"screen,omitempty"`
	Location string            `json:"location,omitempty"`
	Identity *IdentitySnapshot `json:"identity,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (a *AppController) SessionShow(ctx router.Context) error {
	state := a.Gate.Store().Current()
	stack, screen := ResolveScreen(state, ScreenNone)

	snapshot := SessionSnapshot{
		Status:   state.Status,
		Stack:    stack,
		Screen:   screen,
		Identity: SnapshotIdentity(state.Identity),
	}
	if screen != ScreenNone {
		snapshot.Location = a.screenPath(screen)
	}
	if err := a.Gate.Err(); err != nil {
		snapshot.Error = err.Error()
	}

	return ctx.JSON(router.StatusOK, snapshot)
}

// guard redirects requests for screens outside the current stack.
func (a *AppController) guard(ctx router.Context, screen Screen) (bool, error) {
	stack, resolved := ResolveScreen(a.Gate.Store().Current(), screen)
	if resolved == screen {
		return false, nil
	}

	if stack == StackLoading {
		return true, ctx.Redirect(a.Routes.Root, router.StatusSeeOther)
	}
	return true, ctx.Redirect(a.screenPath(resolved), router.StatusSeeOther)
}

type formHandle interface {
	Fields() []string
	Change(field, value string) error
	Blur(field string) error
	Submit(ctx context.Context) SubmitResult
	State() FormState
}

func (a *AppController) submit(ctx router.Context, view string, form formHandle, values Values) error {
	for _, field := range form.Fields() {
		if err := form.Change(field, values[field]); err != nil {
			return a.ErrorHandler(ctx, err)
		}
		if err := form.Blur(field); err != nil {
			return a.ErrorHandler(ctx, err)
		}
	}

	result := form.Submit(ctx.Context())

	if result.Status == SubmitSucceeded {
		switch {
		case result.Redirect != ScreenNone:
			return ctx.Redirect(a.screenPath(result.Redirect), router.StatusSeeOther)
		case form.State().Suppressed:
			return a.renderForm(ctx, view, form.State())
		default:
			return ctx.Redirect(a.Routes.Root, router.StatusSeeOther)
		}
	}

	state := form.State()
	if result.Status == SubmitInvalid || result.Status == SubmitFailed {
		ctx.Status(fiber.StatusUnprocessableEntity)
	}
	return a.renderForm(ctx, view, state)
}

// settle waits, bounded by SettleTimeout, until the store satisfies pred.
func (a *AppController) settle(ctx context.Context, pred func(SessionState) bool) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.SettleTimeout)
	defer cancel()

	if _, err := a.Gate.Store().Await(waitCtx, pred); err != nil {
		a.Logger.Warn("session did not settle", "error", err)
	}
}

func (a *AppController) renderHome(ctx router.Context, signOutError string) error {
	state := a.Gate.Store().Current()

	email := ""
	verified := false
	if state.Identity != nil {
		email = state.Identity.Email()
		verified = state.Identity.EmailVerified()
	}

	viewCtx := router.ViewContext{
		"welcome":  a.Locale.Translate(MsgHomeWelcome, map[string]any{"email": email}),
		"email":    email,
		"verified": verified,
		"errors":   map[string]string{},
	}
	if signOutError != "" {
		viewCtx["errors"] = map[string]string{"form": signOutError}
	}

	return a.render(ctx, a.Views.Home, viewCtx)
}

func (a *AppController) renderForm(ctx router.Context, view string, state FormState) error {
	return a.render(ctx, view, router.ViewContext{
		"record":       state.Values,
		"errors":       state.VisibleErrors(),
		"submit_error": state.SubmitError,
		"notice":       state.Notice,
		"submitting":   state.Submitting,
		"suppressed":   state.Suppressed,
	})
}

func (a *AppController) render(ctx router.Context, view string, data router.ViewContext) error {
	return ctx.Render(view, a.viewData(view, data))
}

func (a *AppController) viewData(view string, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	for k, v := range TemplateHelpers(a.Locale, a.Theme) {
		out[k] = v
	}
	out["routes"] = a.Routes
	out["current_path"] = a.viewPath(view)
	for k, v := range data {
		out[k] = v
	}
	return out
}

// viewPath is where the language and theme forms return to.
func (a *AppController) viewPath(view string) string {
	switch view {
	case a.Views.Login:
		return a.Routes.Login
	case a.Views.Signup:
		return a.Routes.Signup
	case a.Views.PasswordReset:
		return a.Routes.PasswordReset
	case a.Views.Home:
		return a.Routes.Home
	default:
		return a.Routes.Root
	}
}

func (a *AppController) screenPath(screen Screen) string {
	switch screen {
	case ScreenLogin:
		return a.Routes.Login
	case ScreenSignup:
		return a.Routes.Signup
	case ScreenForgotPassword:
		return a.Routes.PasswordReset
	case ScreenHome:
		return a.Routes.Home
	default:
		return a.Routes.Root
	}
}

// safeRedirect only follows local paths.
func safeRedirect(target, fallback string) string {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		return target
	}
	return fallback
}

func (a *AppController) renderError(ctx router.Context, err error) error {
	ctx.Status(fiber.StatusBadRequest)
	return a.render(ctx, a.Views.Error, router.ViewContext{
		"message": err.Error(),
	})
}
