package authgate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/preferences"
	"github.com/goliatone/go-auth-gate/provider/memory"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type controllerHarness struct {
	provider *memory.Provider
	gate     *authgate.SessionGate
	locale   *authgate.LocaleSelector
	ctrl     *authgate.AppController
}

func newControllerHarness(t *testing.T, creds func(p *memory.Provider) authgate.CredentialService, start bool) *controllerHarness {
	t.Helper()

	provider := memory.New(memory.WithHashCost(bcrypt.MinCost))
	t.Cleanup(provider.Close)

	var service authgate.CredentialService = provider
	if creds != nil {
		service = creds(provider)
	}

	gate := authgate.NewSessionGate(service, nil, authgate.WithGateLogger(quietLogger{}))
	if start {
		require.NoError(t, gate.Start(context.Background()))
		t.Cleanup(gate.Stop)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := gate.Store().Await(ctx, authgate.SessionState.IsKnown)
		require.NoError(t, err)
	}

	locale, err := authgate.NewLocaleSelector(preferences.NewMemoryStore(), authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	ctrl := authgate.NewAppController(
		authgate.WithCredentialService(service),
		authgate.WithSessionGate(gate),
		authgate.WithLocaleSelector(locale),
		authgate.WithControllerLogger(quietLogger{}),
		authgate.WithSettleTimeout(2*time.Second),
	)

	return &controllerHarness{
		provider: provider,
		gate:     gate,
		locale:   locale,
		ctrl:     ctrl,
	}
}

func (h *controllerHarness) awaitStatus(t *testing.T, status authgate.SessionStatus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.gate.Store().Await(ctx, func(s authgate.SessionState) bool {
		return s.Status == status
	})
	require.NoError(t, err)
}

func newRequest() *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	return ctx
}

func expectRender(ctx *router.MockContext, view string) *router.ViewContext {
	captured := &router.ViewContext{}
	ctx.On("Render", view, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		data, ok := args.Get(1).(router.ViewContext)
		if ok {
			*captured = data
		}
	}).Once()
	return captured
}

func expectRedirect(ctx *router.MockContext, location string) {
	ctx.On("Redirect", location, []int{router.StatusSeeOther}).Return(nil).Once()
}

func bindPayload[T any](ctx *router.MockContext, fill func(p *T)) {
	ctx.On("Bind", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		if p, ok := args.Get(0).(*T); ok {
			fill(p)
		}
	}).Once()
}

func TestRootRendersLoadingUntilSessionIsKnown(t *testing.T) {
	h := newControllerHarness(t, nil, false)

	ctx := newRequest()
	data := expectRender(ctx, h.ctrl.Views.Loading)

	require.NoError(t, h.ctrl.Root(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, h.ctrl.Routes.Session, (*data)["session_url"])
	assert.NotContains(t, *data, "stream_error")
	assert.Contains(t, *data, "t")
	assert.Contains(t, *data, "colors")
}

func TestRootRedirectsToInitialScreenOfStack(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	ctx := newRequest()
	expectRedirect(ctx, "/login")
	require.NoError(t, h.ctrl.Root(ctx))
	ctx.AssertExpectations(t)

	_, err := h.provider.AddAccount("user@example.com", "secret1", false)
	require.NoError(t, err)
	_, err = h.provider.SignIn(context.Background(), "user@example.com", "secret1")
	require.NoError(t, err)
	h.awaitStatus(t, authgate.SessionAuthenticated)

	ctx = newRequest()
	expectRedirect(ctx, "/home")
	require.NoError(t, h.ctrl.Root(ctx))
	ctx.AssertExpectations(t)
}

func TestScreensOutsideStackRedirect(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	ctx := newRequest()
	expectRedirect(ctx, "/login")
	require.NoError(t, h.ctrl.HomeShow(ctx))
	ctx.AssertExpectations(t)

	_, err := h.provider.SignUp(context.Background(), "user@example.com", "secret1")
	require.NoError(t, err)
	h.awaitStatus(t, authgate.SessionAuthenticated)

	for name, handler := range map[string]func(router.Context) error{
		"login":          h.ctrl.LoginShow,
		"signup":         h.ctrl.SignupShow,
		"password reset": h.ctrl.PasswordResetShow,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := newRequest()
			expectRedirect(ctx, "/home")
			require.NoError(t, handler(ctx))
			ctx.AssertExpectations(t)
		})
	}
}

func TestScreensRedirectToRootWhileLoading(t *testing.T) {
	h := newControllerHarness(t, nil, false)

	ctx := newRequest()
	expectRedirect(ctx, "/")
	require.NoError(t, h.ctrl.LoginShow(ctx))
	ctx.AssertExpectations(t)
}

func TestLoginPostInvalidInputSkipsProvider(t *testing.T) {
	var spy *spyCreds
	h := newControllerHarness(t, func(p *memory.Provider) authgate.CredentialService {
		spy = &spyCreds{CredentialService: p}
		return spy
	}, true)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.LoginPayload) {
		p.Email = "not-an-email"
		p.Password = "12345"
	})
	ctx.On("Status", fiber.StatusUnprocessableEntity).Return(ctx).Maybe()
	data := expectRender(ctx, h.ctrl.Views.Login)

	require.NoError(t, h.ctrl.LoginPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, int32(0), spy.signIns.Load())

	errs, ok := (*data)["errors"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "Enter a valid email", errs[authgate.FieldEmail])
	assert.Equal(t, "Password must have at least 6 characters", errs[authgate.FieldPassword])

	record, ok := (*data)["record"].(authgate.Values)
	require.True(t, ok)
	assert.Equal(t, "not-an-email", record[authgate.FieldEmail])
}

func TestLoginPostWrongPasswordShowsMappedError(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	_, err := h.provider.AddAccount("user@example.com", "secret1", true)
	require.NoError(t, err)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.LoginPayload) {
		p.Email = "user@example.com"
		p.Password = "wrong-password"
	})
	ctx.On("Status", fiber.StatusUnprocessableEntity).Return(ctx).Maybe()
	data := expectRender(ctx, h.ctrl.Views.Login)

	require.NoError(t, h.ctrl.LoginPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, "Incorrect password. Please try again.", (*data)["submit_error"])
	assert.Equal(t, false, (*data)["submitting"])
	assert.Equal(t, authgate.SessionAnonymous, h.gate.Store().Current().Status)
}

func TestLoginPostSuccessRedirectsOnceSessionIsAuthenticated(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	_, err := h.provider.AddAccount("user@example.com", "secret1", true)
	require.NoError(t, err)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.LoginPayload) {
		p.Email = "user@example.com"
		p.Password = "secret1"
	})
	expectRedirect(ctx, "/")

	require.NoError(t, h.ctrl.LoginPost(ctx))
	ctx.AssertExpectations(t)

	state := h.gate.Store().Current()
	require.True(t, state.IsAuthenticated())
	assert.Equal(t, "user@example.com", state.Identity.Email())
}

func TestSignupPostRedirectsToLoginWithNotice(t *testing.T) {
	h := newControllerHarness(t, nil, true)
	store := h.gate.Store()

	authApplied := store.Changed()

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.SignupPayload) {
		p.Email = "new@example.com"
		p.Password = "secret1"
		p.ConfirmPassword = "secret1"
	})
	expectRedirect(ctx, "/login")

	require.NoError(t, h.ctrl.SignupPost(ctx))
	ctx.AssertExpectations(t)

	select {
	case <-authApplied:
	case <-time.After(2 * time.Second):
		t.Fatal("session never became authenticated")
	}
	h.awaitStatus(t, authgate.SessionAnonymous)

	outbox := h.provider.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, memory.MessageVerification, outbox[0].Kind)
	assert.Nil(t, h.provider.Current())

	ctx = newRequest()
	data := expectRender(ctx, h.ctrl.Views.Login)
	require.NoError(t, h.ctrl.LoginShow(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, "Account created. Check your inbox to verify your email, then log in.", (*data)["notice"])

	ctx = newRequest()
	data = expectRender(ctx, h.ctrl.Views.Login)
	require.NoError(t, h.ctrl.LoginShow(ctx))
	assert.Equal(t, "", (*data)["notice"])
}

func TestSignupPostRedirectsAfterGateCatchesUp(t *testing.T) {
	provider := memory.New(memory.WithHashCost(bcrypt.MinCost))
	t.Cleanup(provider.Close)

	sink := newBlockingSink()
	gate := authgate.NewSessionGate(provider, nil,
		authgate.WithGateLogger(quietLogger{}),
		authgate.WithGateActivitySink(sink),
	)
	require.NoError(t, gate.Start(context.Background()))
	t.Cleanup(gate.Stop)
	t.Cleanup(sink.Release)
	awaitState(t, gate.Store(), authgate.SessionState.IsKnown)

	locale, err := authgate.NewLocaleSelector(preferences.NewMemoryStore(), authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	ctrl := authgate.NewAppController(
		authgate.WithCredentialService(provider),
		authgate.WithSessionGate(gate),
		authgate.WithLocaleSelector(locale),
		authgate.WithControllerLogger(quietLogger{}),
		authgate.WithSettleTimeout(2*time.Second),
	)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.SignupPayload) {
		p.Email = "new@example.com"
		p.Password = "secret1"
		p.ConfirmPassword = "secret1"
	})
	expectRedirect(ctx, "/login")

	done := make(chan error, 1)
	go func() { done <- ctrl.SignupPost(ctx) }()

	select {
	case <-done:
		t.Fatal("signup redirected while the gate was behind")
	case <-time.After(50 * time.Millisecond):
	}

	sink.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("signup never redirected")
	}
	ctx.AssertExpectations(t)

	assert.Equal(t, authgate.SessionAnonymous, gate.Store().Current().Status)

	ctx = newRequest()
	expectRender(ctx, ctrl.Views.Login)
	require.NoError(t, ctrl.LoginShow(ctx))
	ctx.AssertExpectations(t)
}

func TestSignupPostMismatchedPasswords(t *testing.T) {
	var spy *spyCreds
	h := newControllerHarness(t, func(p *memory.Provider) authgate.CredentialService {
		spy = &spyCreds{CredentialService: p}
		return spy
	}, true)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.SignupPayload) {
		p.Email = "new@example.com"
		p.Password = "secret1"
		p.ConfirmPassword = "secret2"
	})
	ctx.On("Status", fiber.StatusUnprocessableEntity).Return(ctx).Maybe()
	data := expectRender(ctx, h.ctrl.Views.Signup)

	require.NoError(t, h.ctrl.SignupPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, int32(0), spy.signUps.Load())
	errs := (*data)["errors"].(map[string]string)
	assert.Equal(t, "Passwords must match", errs[authgate.FieldConfirmPassword])
}

func TestPasswordResetPostSuppressesForm(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	_, err := h.provider.AddAccount("user@example.com", "secret1", true)
	require.NoError(t, err)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.PasswordResetPayload) {
		p.Email = "user@example.com"
	})
	data := expectRender(ctx, h.ctrl.Views.PasswordReset)

	require.NoError(t, h.ctrl.PasswordResetPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, true, (*data)["suppressed"])
	assert.Equal(t, "A password reset link was sent to user@example.com. Check your inbox.", (*data)["notice"])

	outbox := h.provider.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, memory.MessagePasswordReset, outbox[0].Kind)
}

func TestPasswordResetPostUnknownEmailUsesGenericError(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.PasswordResetPayload) {
		p.Email = "missing@example.com"
	})
	ctx.On("Status", fiber.StatusUnprocessableEntity).Return(ctx).Maybe()
	data := expectRender(ctx, h.ctrl.Views.PasswordReset)

	require.NoError(t, h.ctrl.PasswordResetPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, "Could not send the reset email. Please try again.", (*data)["submit_error"])
	assert.Equal(t, false, (*data)["suppressed"])
}

func TestPasswordResetConfirmPostValidatesPasswords(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	ctx := newRequest()
	ctx.ParamsM["ticket"] = "ticket-1"
	bindPayload(ctx, func(p *authgate.PasswordResetConfirmPayload) {
		p.Password = "secret1"
		p.ConfirmPassword = "other12"
	})
	data := expectRender(ctx, h.ctrl.Views.PasswordResetConfirm)

	require.NoError(t, h.ctrl.PasswordResetConfirmPost(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, "ticket-1", (*data)["ticket"])
	errs := (*data)["errors"].(map[string]string)
	assert.Equal(t, "Passwords must match", errs[authgate.FieldConfirmPassword])
}

func TestPasswordResetConfirmPostUpdatesPassword(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	_, err := h.provider.AddAccount("user@example.com", "secret1", true)
	require.NoError(t, err)
	require.NoError(t, h.provider.SendPasswordReset(context.Background(), "user@example.com"))
	ticket := h.provider.Outbox()[0].Ticket

	ctx := newRequest()
	ctx.ParamsM["ticket"] = ticket
	ctx.On("Cookie", mock.Anything).Return().Maybe()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil).Maybe()
	bindPayload(ctx, func(p *authgate.PasswordResetConfirmPayload) {
		p.Password = "new-secret"
		p.ConfirmPassword = "new-secret"
	})
	expectRedirect(ctx, "/")

	require.NoError(t, h.ctrl.PasswordResetConfirmPost(ctx))
	ctx.AssertExpectations(t)

	_, err = h.provider.SignIn(context.Background(), "user@example.com", "new-secret")
	assert.NoError(t, err)
}

func TestVerifyEmail(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	identity, err := h.provider.AddAccount("user@example.com", "secret1", false)
	require.NoError(t, err)
	require.NoError(t, h.provider.SendVerificationEmail(context.Background(), identity))
	ticket := h.provider.Outbox()[0].Ticket

	t.Run("valid ticket", func(t *testing.T) {
		ctx := newRequest()
		ctx.ParamsM["ticket"] = ticket
		data := expectRender(ctx, h.ctrl.Views.VerifyEmail)

		require.NoError(t, h.ctrl.VerifyEmail(ctx))
		assert.Equal(t, true, (*data)["verified"])
		assert.Equal(t, "Your email is verified.", (*data)["message"])
	})

	t.Run("used ticket", func(t *testing.T) {
		ctx := newRequest()
		ctx.ParamsM["ticket"] = ticket
		data := expectRender(ctx, h.ctrl.Views.VerifyEmail)

		require.NoError(t, h.ctrl.VerifyEmail(ctx))
		assert.Equal(t, false, (*data)["verified"])
		assert.Equal(t, "This verification link is invalid or has expired.", (*data)["message"])
	})
}

func TestLogOutRedirectsOnceSessionEnds(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	_, err := h.provider.SignUp(context.Background(), "user@example.com", "secret1")
	require.NoError(t, err)
	h.awaitStatus(t, authgate.SessionAuthenticated)

	ctx := newRequest()
	expectRedirect(ctx, "/")

	require.NoError(t, h.ctrl.LogOut(ctx))
	ctx.AssertExpectations(t)

	assert.Equal(t, authgate.SessionAnonymous, h.gate.Store().Current().Status)
}

func TestLogOutFailureStaysOnHome(t *testing.T) {
	h := newControllerHarness(t, func(p *memory.Provider) authgate.CredentialService {
		return &spyCreds{CredentialService: p, signOutErr: errors.New("network down")}
	}, true)

	_, err := h.provider.SignUp(context.Background(), "user@example.com", "secret1")
	require.NoError(t, err)
	h.awaitStatus(t, authgate.SessionAuthenticated)

	ctx := newRequest()
	data := expectRender(ctx, h.ctrl.Views.Home)

	require.NoError(t, h.ctrl.LogOut(ctx))
	ctx.AssertExpectations(t)

	errs := (*data)["errors"].(map[string]string)
	assert.Equal(t, "Failed to logout.", errs["form"])
	assert.Equal(t, "Welcome, user@example.com", (*data)["welcome"])
	assert.True(t, h.gate.Store().Current().IsAuthenticated())
}

func TestLanguagePostSwitchesLanguage(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.LanguagePayload) {
		p.Language = authgate.LanguageVietnamese
		p.Redirect = "/login"
	})
	expectRedirect(ctx, "/login")

	require.NoError(t, h.ctrl.LanguagePost(ctx))
	ctx.AssertExpectations(t)
	assert.Equal(t, authgate.LanguageVietnamese, h.locale.Language())

	ctx = newRequest()
	bindPayload(ctx, func(p *authgate.LanguagePayload) {
		p.Language = authgate.LanguageEnglish
		p.Redirect = "//evil.example.com"
	})
	expectRedirect(ctx, "/")

	require.NoError(t, h.ctrl.LanguagePost(ctx))
	ctx.AssertExpectations(t)
	assert.Equal(t, authgate.LanguageEnglish, h.locale.Language())
}

func TestLanguagePostRejectsUnsupportedLanguage(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	var handled error
	h.ctrl.ErrorHandler = func(ctx router.Context, err error) error {
		handled = err
		return nil
	}

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.LanguagePayload) {
		p.Language = "fr"
	})

	require.NoError(t, h.ctrl.LanguagePost(ctx))
	assert.ErrorIs(t, handled, authgate.ErrUnsupportedLocale)
	assert.Equal(t, authgate.LanguageEnglish, h.locale.Language())
}

func TestThemePostToggles(t *testing.T) {
	h := newControllerHarness(t, nil, true)
	require.Equal(t, authgate.ThemeLight, h.ctrl.Theme.Mode())

	ctx := newRequest()
	bindPayload(ctx, func(p *authgate.ThemePayload) {
		p.Redirect = "/signup"
	})
	expectRedirect(ctx, "/signup")

	require.NoError(t, h.ctrl.ThemePost(ctx))
	ctx.AssertExpectations(t)
	assert.Equal(t, authgate.ThemeDark, h.ctrl.Theme.Mode())
}

func TestSessionShow(t *testing.T) {
	h := newControllerHarness(t, nil, true)

	var snapshot authgate.SessionSnapshot
	ctx := newRequest()
	ctx.On("JSON", router.StatusOK, mock.Anything).Run(func(args mock.Arguments) {
		snapshot = args.Get(1).(authgate.SessionSnapshot)
	}).Return(nil)

	require.NoError(t, h.ctrl.SessionShow(ctx))

	assert.Equal(t, authgate.SessionAnonymous, snapshot.Status)
	assert.Equal(t, authgate.StackUnauthenticated, snapshot.Stack)
	assert.Equal(t, "/login", snapshot.Location)
	assert.Nil(t, snapshot.Identity)
}

func TestNewAppControllerRequiresDependencies(t *testing.T) {
	assert.Panics(t, func() {
		authgate.NewAppController()
	})

	provider := memory.New()
	defer provider.Close()

	assert.Panics(t, func() {
		authgate.NewAppController(authgate.WithCredentialService(provider))
	})
}
