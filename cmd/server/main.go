// Command server runs the console front controller.
package main

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/arborcloud/console/internal/auth"
	"github.com/arborcloud/console/internal/config"
	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/errdesc"
	"github.com/arborcloud/console/internal/logger"
	"github.com/arborcloud/console/internal/mailer"
	"github.com/arborcloud/console/internal/project"
	"github.com/arborcloud/console/internal/route"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/store"
	"github.com/arborcloud/console/internal/view"
	"github.com/arborcloud/console/internal/web"
)

//go:embed public
var publicFS embed.FS

//go:embed assets
var assetsFS embed.FS

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var log *slog.Logger
	if cfg.SentryDSN != "" {
		log = logger.NewWithSentry(cfg.SentryDSN, cfg.Environment, web.RequestIDExtractor)
	} else {
		log = logger.New(web.RequestIDExtractor)
	}

	jar := cookie.New(
		cookie.WithSecret(cfg.SessionSecret),
		cookie.WithSecure(cfg.SecureCookies()),
	)

	var sessionStore session.Store
	if cfg.RedisAddr != "" {
		rs, err := session.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		sessionStore = rs
	} else {
		sessionStore = session.NewMemoryStore()
		log.Warn("using in-memory session store, sessions are lost on restart")
	}
	sessions := session.NewManager(sessionStore, jar)

	db := store.NewMemory()

	var mail mailer.Sender
	switch cfg.Mail.Driver {
	case "resend":
		mail = mailer.NewResend(cfg.Mail.ResendAPIKey, cfg.Mail.From)
	case "test":
		mail = &mailer.TestSender{}
	default:
		mail = &mailer.LogSender{Log: log}
	}

	viewOpts := []view.Option{}
	if cfg.Development() {
		viewOpts = append(viewOpts, view.WithReload())
	}
	views, err := view.New(viewOpts...)
	if err != nil {
		return err
	}

	projects := project.NewService(db, db, log)
	secret := []byte(cfg.SessionSecret)

	authSvc := auth.NewService(db, sessions, jar, mail, log,
		cfg.BaseURL, "Arbor Console", projects.AccountCreated)

	// The auth sub-router reports failures to the app's error boundary;
	// the app in turn embeds the router. Late binding breaks the loop.
	var app *web.App
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		app.HandleError(w, r, err)
	}
	authHandler := auth.NewHandler(authSvc, views, jar, secret, log, onError)

	resolver, err := buildRoutes(cfg, log, jar, secret, views, projects)
	if err != nil {
		return err
	}

	public, err := fs.Sub(publicFS, "public")
	if err != nil {
		return err
	}
	assets, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		return err
	}

	app = web.New(web.Config{
		Log:         log,
		Classifier:  errdesc.New(log),
		Sessions:    sessions,
		Jar:         jar,
		Views:       views,
		Routes:      resolver,
		Secret:      secret,
		AuthPaths:   auth.Paths(),
		AuthHandler: authHandler.Router(),
		Gate:        authSvc,
		Public:      public,
		Assets:      assets,
	})

	return web.Run(ctx, cfg.Addr, app.Handler(), log)
}

// buildRoutes selects the resolution mode: the eager registry in
// production, eager built-ins plus filesystem discovery with a watcher in
// development.
func buildRoutes(cfg config.Config, log *slog.Logger, jar *cookie.Jar, secret []byte,
	views *view.Renderer, projects *project.Service) (route.Resolver, error) {
	eager := route.New()
	eager.Handle("/dashboard", web.DashboardHandler(views, jar, secret, projects))

	if !cfg.Development() {
		return eager, nil
	}
	if _, err := os.Stat(cfg.RoutesDir); err != nil {
		return eager, nil
	}

	loader := func(name, file string) route.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			data := web.PageData(w, r, jar, secret)
			data["Title"] = name
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			return views.RenderFile(w, file, data)
		}
	}
	discovered, err := route.NewDiscovery(cfg.RoutesDir, loader, log)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := discovered.Watch(context.Background()); err != nil {
			log.Error("route watcher stopped", slog.String("error", err.Error()))
		}
	}()

	return route.Chain(eager, discovered), nil
}
