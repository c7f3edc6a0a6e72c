package authgate_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/preferences"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPrefs struct {
	err error
}

func (f failingPrefs) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingPrefs) Set(context.Context, string, string) error         { return f.err }
func (f failingPrefs) Delete(context.Context, string) error              { return f.err }

func TestDeviceLanguage(t *testing.T) {
	assert.Equal(t, authgate.LanguageVietnamese, authgate.DeviceLanguage("vi"))
	assert.Equal(t, authgate.LanguageVietnamese, authgate.DeviceLanguage("vi-VN"))
	assert.Equal(t, authgate.LanguageVietnamese, authgate.DeviceLanguage(" VI_vn "))
	assert.Equal(t, authgate.LanguageEnglish, authgate.DeviceLanguage("en-US"))
	assert.Equal(t, authgate.LanguageEnglish, authgate.DeviceLanguage("fr-FR"))
	assert.Equal(t, authgate.LanguageEnglish, authgate.DeviceLanguage(""))
}

func TestLocaleSelectorInit(t *testing.T) {
	ctx := context.Background()

	t.Run("device locale without preference", func(t *testing.T) {
		locale, err := authgate.NewLocaleSelector(preferences.NewMemoryStore(), authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		assert.Equal(t, authgate.LanguageVietnamese, locale.Init(ctx, "vi-VN"))
		assert.Equal(t, authgate.LanguageVietnamese, locale.Language())
	})

	t.Run("stored preference wins", func(t *testing.T) {
		prefs := preferences.NewMemoryStore()
		require.NoError(t, prefs.Set(ctx, authgate.PreferenceLanguageKey, authgate.LanguageEnglish))

		locale, err := authgate.NewLocaleSelector(prefs, authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		assert.Equal(t, authgate.LanguageEnglish, locale.Init(ctx, "vi-VN"))
	})

	t.Run("unsupported stored value is ignored", func(t *testing.T) {
		prefs := preferences.NewMemoryStore()
		require.NoError(t, prefs.Set(ctx, authgate.PreferenceLanguageKey, "fr"))

		locale, err := authgate.NewLocaleSelector(prefs, authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		assert.Equal(t, authgate.LanguageVietnamese, locale.Init(ctx, "vi"))
	})

	t.Run("failed read falls back to device", func(t *testing.T) {
		locale, err := authgate.NewLocaleSelector(failingPrefs{err: errors.New("disk")}, authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		assert.Equal(t, authgate.LanguageVietnamese, locale.Init(ctx, "vi"))
	})

	t.Run("only the first call applies", func(t *testing.T) {
		locale, err := authgate.NewLocaleSelector(nil, authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		assert.Equal(t, authgate.LanguageEnglish, locale.Init(ctx, "en"))
		assert.Equal(t, authgate.LanguageEnglish, locale.Init(ctx, "vi"))
	})

	t.Run("explicit choice before init is kept", func(t *testing.T) {
		locale, err := authgate.NewLocaleSelector(nil, authgate.WithLocaleLogger(quietLogger{}))
		require.NoError(t, err)

		require.NoError(t, locale.SetLanguage(ctx, authgate.LanguageVietnamese))
		assert.Equal(t, authgate.LanguageVietnamese, locale.Init(ctx, "en"))
	})
}

func TestLocaleSelectorSetLanguage(t *testing.T) {
	ctx := context.Background()
	prefs := preferences.NewMemoryStore()

	locale, err := authgate.NewLocaleSelector(prefs, authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	require.NoError(t, locale.SetLanguage(ctx, authgate.LanguageVietnamese))
	assert.Equal(t, authgate.LanguageVietnamese, locale.Language())

	stored, ok, err := prefs.Get(ctx, authgate.PreferenceLanguageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, authgate.LanguageVietnamese, stored)

	assert.ErrorIs(t, locale.SetLanguage(ctx, "fr"), authgate.ErrUnsupportedLocale)
	assert.Equal(t, authgate.LanguageVietnamese, locale.Language())
}

func TestLocaleSelectorSetLanguageSurvivesWriteFailure(t *testing.T) {
	locale, err := authgate.NewLocaleSelector(failingPrefs{err: errors.New("disk")}, authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	require.NoError(t, locale.SetLanguage(context.Background(), authgate.LanguageVietnamese))
	assert.Equal(t, authgate.LanguageVietnamese, locale.Language())
}

func TestLocaleSelectorTranslate(t *testing.T) {
	locale, err := authgate.NewLocaleSelector(nil, authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	assert.Equal(t, "Login", locale.Translate("loginScreen.loginButton", nil))
	assert.Equal(t, "Welcome, user@example.com", locale.Translate(authgate.MsgHomeWelcome, map[string]any{"email": "user@example.com"}))
	assert.Equal(t, "Password must have at least 6 characters",
		locale.Translate(authgate.MsgPasswordMinLength, map[string]any{"count": authgate.MinPasswordLength}))
	assert.Equal(t, "missing.key", locale.Translate("missing.key", nil))

	require.NoError(t, locale.SetLanguage(context.Background(), authgate.LanguageVietnamese))
	assert.NotEqual(t, "Login", locale.Translate("loginScreen.loginButton", nil))
	assert.NotEqual(t, "loginScreen.loginButton", locale.Translate("loginScreen.loginButton", nil))

	english := locale.For(authgate.LanguageEnglish)
	assert.Equal(t, "Login", english.Translate("loginScreen.loginButton", nil))
	assert.Equal(t, "Login", locale.For("fr").Translate("loginScreen.loginButton", nil))
}

func TestTranslationBundlesShareKeys(t *testing.T) {
	locale, err := authgate.NewLocaleSelector(nil, authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)

	english := locale.For(authgate.LanguageEnglish)
	vietnamese := locale.For(authgate.LanguageVietnamese)

	keys := []string{
		authgate.MsgEmailRequired,
		authgate.MsgEmailInvalid,
		authgate.MsgPasswordRequired,
		authgate.MsgConfirmPasswordRequired,
		authgate.MsgPasswordsMustMatch,
		authgate.MsgSubmitFailedDefault,
		authgate.MsgLoginUserNotFound,
		authgate.MsgLoginWrongPassword,
		authgate.MsgLoginInvalidEmail,
		authgate.MsgLoginUserDisabled,
		authgate.MsgLoginTooManyRequests,
		authgate.MsgLoginFailedDefault,
		authgate.MsgSignupSuccessRedirect,
		authgate.MsgSignupEmailInUse,
		authgate.MsgSignupInvalidEmail,
		authgate.MsgSignupWeakPassword,
		authgate.MsgSignupFailedDefault,
		authgate.MsgResetFailedDefault,
		authgate.MsgResetConfirmSuccess,
		authgate.MsgResetConfirmFailed,
		authgate.MsgResetConfirmUnavailable,
		authgate.MsgVerifyEmailSuccess,
		authgate.MsgVerifyEmailFailed,
		authgate.MsgSignOutFailed,
	}

	for _, key := range keys {
		assert.NotEqual(t, key, english.Translate(key, nil), "english is missing %s", key)
		assert.NotEqual(t, key, vietnamese.Translate(key, nil), "vietnamese is missing %s", key)
		assert.NotEqual(t, english.Translate(key, nil), vietnamese.Translate(key, nil), "vietnamese %s is untranslated", key)
	}
}

func TestNewTranslationBundle(t *testing.T) {
	fsys := fstest.MapFS{
		"en.json": {Data: []byte(`{"greeting": "Hello"}`)},
		"vi.json": {Data: []byte(`{"greeting": "Xin chào"}`)},
	}

	bundle, err := authgate.NewTranslationBundle(fsys)
	require.NoError(t, err)
	assert.Len(t, bundle.LanguageTags(), 2)

	_, err = authgate.NewTranslationBundle(fstest.MapFS{
		"en.json": {Data: []byte(`{not json`)},
	})
	assert.Error(t, err)
}
