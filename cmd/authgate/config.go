package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	providerMemory = "memory"
	providerLocal  = "local"

	prefsMemory = "memory"
	prefsBun    = "bun"
	prefsRedis  = "redis"
)

type Config struct {
	Debug       bool              `koanf:"debug"`
	Locale      string            `koanf:"locale"`
	Theme       string            `koanf:"theme"`
	HTTP        HTTPConfig        `koanf:"http"`
	Database    DatabaseConfig    `koanf:"database"`
	Provider    ProviderConfig    `koanf:"provider"`
	Preferences PreferencesConfig `koanf:"preferences"`
}

type HTTPConfig struct {
	Addr    string `koanf:"addr"`
	BaseURL string `koanf:"base_url"`
}

func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

type DatabaseConfig struct {
	DSN         string        `koanf:"dsn"`
	Debug       bool          `koanf:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return sqliteshim.ShimName
}

func (c DatabaseConfig) GetServer() string {
	return c.DSN
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	return "authgate"
}

type ProviderConfig struct {
	Kind       string        `koanf:"kind"`
	SigningKey string        `koanf:"signing_key"`
	Issuer     string        `koanf:"issuer"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	HashCost   int           `koanf:"hash_cost"`
	// Demo accounts seeded into the memory provider, as email:password.
	Seed []string `koanf:"seed"`
	// Emails invited into the local provider at startup.
	Invite []string `koanf:"invite"`
}

func (c ProviderConfig) Validate() error {
	var keyRules []validation.Rule
	if c.Kind == providerLocal {
		keyRules = append(keyRules, validation.Required, validation.Length(32, 0))
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(providerMemory, providerLocal)),
		validation.Field(&c.SigningKey, keyRules...),
		validation.Field(&c.SessionTTL, validation.Min(time.Minute)),
		validation.Field(&c.Seed, validation.By(checkSeeds)),
		validation.Field(&c.Invite, validation.By(checkInvites)),
	)
}

type PreferencesConfig struct {
	Kind     string `koanf:"kind"`
	RedisURL string `koanf:"redis_url"`
	Prefix   string `koanf:"prefix"`
}

func (c PreferencesConfig) Validate() error {
	var urlRules []validation.Rule
	if c.Kind == prefsRedis {
		urlRules = append(urlRules, validation.Required)
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(prefsMemory, prefsBun, prefsRedis)),
		validation.Field(&c.RedisURL, urlRules...),
	)
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTP),
		validation.Field(&c.Database, validation.By(func(any) error {
			if c.needsDatabase() && strings.TrimSpace(c.Database.DSN) == "" {
				return errors.New("dsn is required by the selected provider or preference store")
			}
			return nil
		})),
		validation.Field(&c.Provider),
		validation.Field(&c.Preferences),
		validation.Field(&c.Theme, validation.In("light", "dark")),
	)
}

func (c *Config) needsDatabase() bool {
	return c.Provider.Kind == providerLocal || c.Preferences.Kind == prefsBun
}

func checkSeeds(value any) error {
	seeds, _ := value.([]string)
	for _, s := range seeds {
		if _, _, ok := splitSeed(s); !ok {
			return fmt.Errorf("%q must be email:password", s)
		}
	}
	return nil
}

func checkInvites(value any) error {
	emails, _ := value.([]string)
	for _, email := range emails {
		if err := validation.Validate(email, validation.Required, is.Email); err != nil {
			return fmt.Errorf("%q: %w", email, err)
		}
	}
	return nil
}

func splitSeed(s string) (email, password string, ok bool) {
	email, password, ok = strings.Cut(strings.TrimSpace(s), ":")
	return email, password, ok && email != "" && password != ""
}

func defaultConfig() map[string]any {
	return map[string]any{
		"debug":                 false,
		"locale":                os.Getenv("LANG"),
		"theme":                 "light",
		"http.addr":             ":8572",
		"http.base_url":         "http://localhost:8572",
		"database.dsn":          "file:authgate.db?cache=shared",
		"database.ping_timeout": "5s",
		"provider.kind":         providerMemory,
		"provider.issuer":       "authgate",
		"provider.session_ttl":  "24h",
		"provider.hash_cost":    0,
		"provider.seed":         []string{"demo@example.com:secret1"},
		"provider.invite":       []string{},
		"preferences.kind":      prefsMemory,
		"preferences.prefix":    "authgate:prefs:",
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "path to a yaml config file")
	f.Bool("debug", false, "render debug details on error pages")
	f.String("locale", "", "device locale used when no language preference is stored")
	f.String("theme", "", "system theme, light or dark")
	f.String("http.addr", "", "listen address")
	f.String("http.base_url", "", "public base url used in email links")
	f.String("database.dsn", "", "sqlite dsn for the local provider and bun preferences")
	f.String("provider.kind", "", "credential service: memory or local")
	f.String("provider.signing_key", "", "session token signing key for the local provider")
	f.String("preferences.kind", "", "preference store: memory, bun or redis")
	f.String("preferences.redis_url", "", "redis url for the redis preference store")
	return f
}

// loadConfig layers defaults, the optional yaml file and command line flags.
func loadConfig(args []string) (*Config, error) {
	f := newFlagSet("authgate")
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultConfig(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
