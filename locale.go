package authgate

import (
	"context"
	"encoding/json"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const (
	LanguageEnglish    = "en"
	LanguageVietnamese = "vi"

	// DefaultLanguage is used for missing keys and unknown devices.
	DefaultLanguage = LanguageEnglish

	// PreferenceLanguageKey stores the user's language choice.
	PreferenceLanguageKey = "appLanguage"
)

// Language describes a selectable UI language.
type Language struct {
	Tag  string
	Name string
}

var supportedLanguages = []Language{
	{Tag: LanguageEnglish, Name: "English"},
	{Tag: LanguageVietnamese, Name: "Tiếng Việt"},
}

// DeviceLanguage maps a device locale tag such as "vi-VN" to a supported
// language. Anything that is not Vietnamese resolves to English.
func DeviceLanguage(tag string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(tag)), LanguageVietnamese) {
		return LanguageVietnamese
	}
	return LanguageEnglish
}

// IsSupportedLanguage reports whether lang has a translation bundle.
func IsSupportedLanguage(lang string) bool {
	for _, l := range supportedLanguages {
		if l.Tag == lang {
			return true
		}
	}
	return false
}

// LocaleSelector resolves translation keys for the active language and
// keeps the user's choice in a PreferenceStore.
type LocaleSelector struct {
	bundle *i18n.Bundle
	prefs  PreferenceStore
	logger Logger

	mu        sync.RWMutex
	current   string
	localizer *i18n.Localizer
	loaded    bool
}

// LocaleOption customizes the selector.
type LocaleOption func(*LocaleSelector)

// WithLocaleLogger overrides the logger used for preference failures.
func WithLocaleLogger(logger Logger) LocaleOption {
	return func(l *LocaleSelector) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocaleSelector loads the embedded translations. prefs may be nil, in
// which case the choice only lives for the process.
func NewLocaleSelector(prefs PreferenceStore, opts ...LocaleOption) (*LocaleSelector, error) {
	bundle, err := NewTranslationBundle(GetTranslationsFS())
	if err != nil {
		return nil, err
	}

	l := &LocaleSelector{
		bundle: bundle,
		prefs:  prefs,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	l.use(DefaultLanguage)
	return l, nil
}

// NewTranslationBundle builds a go-i18n bundle from every *.json file at
// the root of fsys. File names are language tags.
func NewTranslationBundle(fsys fs.FS) (*i18n.Bundle, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(fsys, path.Clean(file)); err != nil {
			return nil, err
		}
	}

	return bundle, nil
}

// Init picks the starting language. A stored preference wins, otherwise the
// device locale decides. Only the first call has any effect.
func (l *LocaleSelector) Init(ctx context.Context, deviceLocale string) string {
	l.mu.Lock()
	if l.loaded {
		current := l.current
		l.mu.Unlock()
		return current
	}
	l.loaded = true
	l.mu.Unlock()

	lang := DeviceLanguage(deviceLocale)

	if l.prefs != nil {
		stored, ok, err := l.prefs.Get(ctx, PreferenceLanguageKey)
		switch {
		case err != nil:
			l.logger.Warn("failed to load language preference", "error", err)
		case ok && IsSupportedLanguage(stored):
			lang = stored
		case ok:
			l.logger.Warn("ignoring unsupported stored language", "language", stored)
		}
	}

	l.use(lang)
	l.logger.Debug("language initialized", "language", lang, "device", deviceLocale)
	return lang
}

// Language returns the active language tag.
func (l *LocaleSelector) Language() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Languages lists the supported languages.
func (l *LocaleSelector) Languages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// SetLanguage switches the active language and persists the choice. A
// failed write is logged and the switch still applies.
func (l *LocaleSelector) SetLanguage(ctx context.Context, lang string) error {
	if !IsSupportedLanguage(lang) {
		return ErrUnsupportedLocale
	}

	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()

	l.use(lang)

	if l.prefs != nil {
		if err := l.prefs.Set(ctx, PreferenceLanguageKey, lang); err != nil {
			l.logger.Error("failed to persist language preference", "language", lang, "error", err)
		}
	}

	return nil
}

// Translate resolves key in the active language, falling back to English.
// Keys missing everywhere are returned as is.
func (l *LocaleSelector) Translate(key string, params map[string]any) string {
	l.mu.RLock()
	localizer := l.localizer
	l.mu.RUnlock()

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: params,
	})
	if msg == "" {
		if err != nil {
			l.logger.Debug("missing translation", "key", key, "language", l.Language())
		}
		return key
	}
	return msg
}

// For returns a Translator pinned to lang regardless of the active language.
func (l *LocaleSelector) For(lang string) Translator {
	if !IsSupportedLanguage(lang) {
		lang = DefaultLanguage
	}
	localizer := i18n.NewLocalizer(l.bundle, lang, DefaultLanguage)

	return TranslatorFunc(func(key string, params map[string]any) string {
		msg, _ := localizer.Localize(&i18n.LocalizeConfig{
			MessageID:    key,
			TemplateData: params,
		})
		if msg == "" {
			return key
		}
		return msg
	})
}

func (l *LocaleSelector) use(lang string) {
	localizer := i18n.NewLocalizer(l.bundle, lang, DefaultLanguage)

	l.mu.Lock()
	l.current = lang
	l.localizer = localizer
	l.mu.Unlock()
}
