package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/activitymap"
	"github.com/goliatone/go-auth-gate/preferences"
	"github.com/goliatone/go-auth-gate/provider/local"
	"github.com/goliatone/go-auth-gate/provider/memory"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type App struct {
	config *Config
	logger *glog.BaseLogger
	srv    router.Server[*fiber.App]

	db     *bun.DB
	prefs  authgate.PreferenceStore
	creds  authgate.CredentialService
	gate   *authgate.SessionGate
	locale *authgate.LocaleSelector
	theme  *authgate.ThemeSelector

	closers []func()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("main")

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	app := &App{config: cfg, logger: lgr}
	defer app.Close()

	if err := run(ctx, app); err != nil {
		logger.Error("failed to start", "error", err)
		app.Close()
		os.Exit(1)
	}

	go func() {
		if err := app.srv.Serve(cfg.HTTP.Addr); err != nil {
			logger.Error("server stopped", "error", err)
			cancel()
		}
	}()
	logger.Info("listening", "addr", cfg.HTTP.Addr, "provider", cfg.Provider.Kind, "preferences", cfg.Preferences.Kind)

	select {
	case sig := <-WaitExitSignal():
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
}

func run(ctx context.Context, app *App) error {
	steps := []func(context.Context, *App) error{
		WithDatabase,
		WithPreferences,
		WithCredentialService,
		WithPresentation,
		WithSessionGate,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			return err
		}
	}
	return nil
}

func WithDatabase(ctx context.Context, app *App) error {
	if !app.config.needsDatabase() {
		return nil
	}

	cfg := app.config.Database
	sqldb, err := sql.Open(cfg.GetDriver(), cfg.GetServer())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	persistence.RegisterModel((*local.User)(nil))
	persistence.RegisterModel((*local.PasswordReset)(nil))
	persistence.RegisterModel((*local.EmailVerification)(nil))
	persistence.RegisterModel((*preferences.Preference)(nil))

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		_ = sqldb.Close()
		return fmt.Errorf("persistence client: %w", err)
	}
	client.SetLogger(app.GetLogger("persistence"))

	app.db = client.DB()
	app.closers = append(app.closers, func() { _ = app.db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetPingTimeout())
	defer cancel()
	return app.db.PingContext(pingCtx)
}

func WithPreferences(ctx context.Context, app *App) error {
	cfg := app.config.Preferences

	switch cfg.Kind {
	case prefsBun:
		store := preferences.NewBunStore(app.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("preferences schema: %w", err)
		}
		app.prefs = store
	case prefsRedis:
		client, err := preferences.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		app.prefs = preferences.NewRedisStore(client, cfg.Prefix)
	default:
		app.prefs = preferences.NewMemoryStore()
	}

	return nil
}

func WithCredentialService(ctx context.Context, app *App) error {
	cfg := app.config.Provider
	logger := app.GetLogger("provider")

	switch cfg.Kind {
	case providerLocal:
		if err := local.EnsureSchema(ctx, app.db); err != nil {
			return fmt.Errorf("provider schema: %w", err)
		}
		opts := []local.Option{
			local.WithLogger(logger),
			local.WithMailer(local.LogMailer{Logger: app.GetLogger("mailer")}),
			local.WithBaseURL(app.config.HTTP.BaseURL),
			local.WithIssuer(cfg.Issuer),
		}
		if cfg.SessionTTL > 0 {
			opts = append(opts, local.WithSessionTTL(cfg.SessionTTL))
		}
		if cfg.HashCost > 0 {
			opts = append(opts, local.WithHashCost(cfg.HashCost))
		}
		provider := local.New(app.db, app.prefs, []byte(cfg.SigningKey), opts...)
		app.closers = append(app.closers, provider.Close)
		for _, email := range cfg.Invite {
			if _, err := provider.Invite(ctx, email); err != nil {
				if authgate.ProviderCode(err) == authgate.CodeAlreadyRegistered {
					continue
				}
				return fmt.Errorf("invite account %s: %w", email, err)
			}
			logger.Info("invited account", "email", email)
		}
		app.creds = provider
	default:
		opts := []memory.Option{memory.WithLogger(logger)}
		if cfg.HashCost > 0 {
			opts = append(opts, memory.WithHashCost(cfg.HashCost))
		}
		provider := memory.New(opts...)
		for _, seed := range cfg.Seed {
			email, password, _ := splitSeed(seed)
			if _, err := provider.AddAccount(email, password, true); err != nil {
				provider.Close()
				return fmt.Errorf("seed account %s: %w", email, err)
			}
			logger.Info("seeded account", "email", email)
		}
		app.closers = append(app.closers, provider.Close)
		app.creds = provider
	}

	return nil
}

func WithPresentation(ctx context.Context, app *App) error {
	locale, err := authgate.NewLocaleSelector(app.prefs,
		authgate.WithLocaleLogger(app.GetLogger("locale")),
	)
	if err != nil {
		return fmt.Errorf("locale: %w", err)
	}
	locale.Init(ctx, app.config.Locale)

	app.locale = locale
	app.theme = authgate.NewThemeSelector(app.config.Theme)
	return nil
}

func WithSessionGate(ctx context.Context, app *App) error {
	app.gate = authgate.NewSessionGate(app.creds, authgate.NewSessionStore(),
		authgate.WithGateLogger(app.GetLogger("gate")),
		authgate.WithGateActivitySink(activitySink(app)),
	)
	if err := app.gate.Start(ctx); err != nil {
		// the gate keeps the loading screen up and can be restarted
		app.GetLogger("gate").Warn("session gate failed to subscribe", "error", err)
	}
	app.closers = append(app.closers, app.gate.Stop)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	engine := django.NewPathForwardingFileSystem(http.FS(authgate.GetViewsFS()), "/", ".html")
	if app.config.Debug {
		engine.Reload(true)
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	authgate.RegisterAppRoutes(srv.Router(),
		authgate.WithCredentialService(app.creds),
		authgate.WithSessionGate(app.gate),
		authgate.WithLocaleSelector(app.locale),
		authgate.WithThemeSelector(app.theme),
		authgate.WithControllerLogger(app.GetLogger("controller")),
		authgate.WithControllerActivitySink(activitySink(app)),
		authgate.WithControllerDebug(app.config.Debug),
	)

	app.srv = srv
	return nil
}

func activitySink(app *App) authgate.ActivitySink {
	return activitymap.NewSink(activitymap.LogHandler(app.GetLogger("activity")))
}

func WaitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
