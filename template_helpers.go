package authgate

// TemplateHelpers returns the data every screen template renders with.
//
// In templates, you can then use:
//
//	{{ t("loginScreen.loginButton") }}
//	<body style="background: {{ colors.Background }}">
//	{% if theme == "dark" %}
//	{% for lang in languages %}{{ lang.Name }}{% endfor %}
//
// t resolves keys against the language that is active at render time.
func TemplateHelpers(locale Translator, theme *ThemeSelector) map[string]any {
	t := normalizeTranslator(locale)

	helpers := map[string]any{
		"t": func(key string) string {
			return t.Translate(key, nil)
		},
		"language":  DefaultLanguage,
		"languages": supportedLanguages,
		"theme":     string(ThemeLight),
		"colors":    palettes[ThemeLight],
	}

	if l, ok := locale.(*LocaleSelector); ok && l != nil {
		helpers["language"] = l.Language()
		helpers["languages"] = l.Languages()
	}

	if theme != nil {
		helpers["theme"] = string(theme.Mode())
		helpers["colors"] = theme.Colors()
	}

	return helpers
}
