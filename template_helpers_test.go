package authgate_test

import (
	"context"
	"testing"

	authgate "github.com/goliatone/go-auth-gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateHelpers(t *testing.T) {
	locale, err := authgate.NewLocaleSelector(nil, authgate.WithLocaleLogger(quietLogger{}))
	require.NoError(t, err)
	theme := authgate.NewThemeSelector("dark")

	helpers := authgate.TemplateHelpers(locale, theme)

	for _, key := range []string{"t", "language", "languages", "theme", "colors"} {
		assert.Contains(t, helpers, key, "Expected helper %s should be present", key)
	}

	translate, ok := helpers["t"].(func(string) string)
	require.True(t, ok, "t should be a func(string) string")
	assert.Equal(t, "Login", translate("loginScreen.loginButton"))

	require.NoError(t, locale.SetLanguage(context.Background(), authgate.LanguageVietnamese))
	assert.Equal(t, "Đăng nhập", translate("loginScreen.loginButton"))

	assert.Equal(t, authgate.LanguageEnglish, helpers["language"])
	assert.Equal(t, "dark", helpers["theme"])
	assert.Equal(t, theme.Colors(), helpers["colors"])

	languages, ok := helpers["languages"].([]authgate.Language)
	require.True(t, ok)
	assert.Len(t, languages, 2)
}

func TestTemplateHelpersDefaults(t *testing.T) {
	helpers := authgate.TemplateHelpers(nil, nil)

	translate := helpers["t"].(func(string) string)
	assert.Equal(t, "loginScreen.loginButton", translate("loginScreen.loginButton"))
	assert.Equal(t, authgate.DefaultLanguage, helpers["language"])
	assert.Equal(t, "light", helpers["theme"])
}
