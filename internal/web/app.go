// Package web is the front controller: the fixed per-request pipeline, its
// single error boundary, and the HTTP plumbing around them. Every request
// walks the same ordered stages; no stage is skipped or reordered.
package web

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/arborcloud/console/internal/authz"
	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/csrf"
	"github.com/arborcloud/console/internal/errdesc"
	"github.com/arborcloud/console/internal/route"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/view"
)

// Gate is the slice of the authentication collaborator the session stages
// call into: remember-token re-auth and active-session validation.
type Gate interface {
	LoadRemembered(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, error)
	ActiveSessionValid(ctx context.Context, sess *session.Session) (bool, error)
}

// App composes the request pipeline.
type App struct {
	log        *slog.Logger
	classifier *errdesc.Classifier
	sessions   *session.Manager
	jar        *cookie.Jar
	views      *view.Renderer
	routes     route.Resolver
	secret     []byte

	authPaths   []string
	authHandler http.Handler
	gate        Gate

	public fs.FS
	assets fs.FS
}

// Config wires an App.
type Config struct {
	Log        *slog.Logger
	Classifier *errdesc.Classifier
	Sessions   *session.Manager
	Jar        *cookie.Jar
	Views      *view.Renderer
	Routes     route.Resolver
	Secret     []byte

	AuthPaths   []string
	AuthHandler http.Handler
	Gate        Gate

	Public fs.FS
	Assets fs.FS
}

// New creates the App.
func New(cfg Config) *App {
	return &App{
		log:         cfg.Log,
		classifier:  cfg.Classifier,
		sessions:    cfg.Sessions,
		jar:         cfg.Jar,
		views:       cfg.Views,
		routes:      cfg.Routes,
		secret:      cfg.Secret,
		authPaths:   cfg.AuthPaths,
		authHandler: cfg.AuthHandler,
		gate:        cfg.Gate,
		public:      cfg.Public,
		assets:      cfg.Assets,
	}
}

// Handler returns the composed HTTP handler: ambient middleware wrapped
// around the fixed pipeline.
func (a *App) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(a.serve)
	h = recoverPanics(a.HandleError)(h)
	h = securityHeaders(h)
	h = requestID(h)
	return h
}

// serve runs the fixed stage order.
func (a *App) serve(rw http.ResponseWriter, r *http.Request) {
	w := NewResponseWriter(rw)
	p := r.URL.Path

	// 1. Public files bypass everything.
	if a.servePublic(w, r) {
		return
	}

	// 2. Compiled assets bypass everything.
	if a.serveAssets(w, r) {
		return
	}

	// 3. CSRF verification, bound to the cookie token so it needs no
	// store access.
	if err := csrf.Verify(r, a.secret, a.sessions.CookieToken(r)); err != nil {
		a.HandleError(w, r, err)
		return
	}

	// 4. Session load: cookie, then remember token, then a fresh
	// anonymous session.
	sess, err := a.loadSession(w, r)
	if err != nil {
		a.HandleError(w, r, err)
		return
	}
	r = r.WithContext(session.NewContext(r.Context(), sess))
	w.OnBeforeWrite(func() {
		if err := a.sessions.Save(r.Context(), sess); err != nil {
			a.log.ErrorContext(r.Context(), "session flush failed", slog.String("error", err.Error()))
		}
	})

	// 5. Active-session validation: a revoked session degrades to
	// anonymous, never errors.
	if sess.Authenticated() {
		valid, err := a.gate.ActiveSessionValid(r.Context(), sess)
		if err != nil {
			a.HandleError(w, r, err)
			return
		}
		if !valid {
			sess.AccountID = ""
			sess.Values = map[string]any{}
			sess.MarkDirty()
		}
	}

	// 6. Reserved auth sub-tree, terminal when matched.
	if a.isAuthPath(p) {
		a.authHandler.ServeHTTP(w, r)
		return
	}

	// 7. Root goes to the login entry point, terminal.
	if p == "/" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	// 8. Everything beyond this point requires an account.
	if !sess.Authenticated() {
		a.HandleError(w, r, authz.ErrAuthenticationRequired)
		return
	}

	// 9. Business route dispatch. A miss is a normal outcome with a
	// fixed descriptor, not a classified failure.
	h, ok := a.routes.Resolve(p)
	if !ok {
		a.renderDescriptor(w, r, errdesc.NotFound())
		return
	}
	if err := h(w, r); err != nil {
		a.HandleError(w, r, err)
	}
}

// loadSession resolves the request session, re-authenticating from the
// remember token when the cookie session is gone, and creating an anonymous
// session otherwise so every downstream stage has one.
func (a *App) loadSession(w *ResponseWriter, r *http.Request) (*session.Session, error) {
	sess, err := a.sessions.Load(r.Context(), r)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess, err = a.gate.LoadRemembered(r.Context(), w, r)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess, err = a.sessions.Create(r.Context())
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Write(w, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *App) isAuthPath(p string) bool {
	for _, prefix := range a.authPaths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

func (a *App) servePublic(w http.ResponseWriter, r *http.Request) bool {
	if a.public == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		return false
	}
	if info, err := fs.Stat(a.public, name); err != nil || info.IsDir() {
		return false
	}
	http.ServeFileFS(w, r, a.public, name)
	return true
}

func (a *App) serveAssets(w http.ResponseWriter, r *http.Request) bool {
	if a.assets == nil {
		return false
	}
	name, ok := strings.CutPrefix(r.URL.Path, "/assets/")
	if !ok || name == "" {
		return false
	}
	if info, err := fs.Stat(a.assets, name); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return true
	}
	http.ServeFileFS(w, r, a.assets, name)
	return true
}

// HandleError is the single error boundary. Recoverable validation
// failures redirect back to the submitting form with flash state; every
// other descriptor renders the error view with its status.
func (a *App) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	d := a.classifier.Classify(r.Context(), err)

	if d.Recoverable() {
		a.redirectBack(w, r, d)
		return
	}
	a.renderDescriptor(w, r, d)
}

// redirectBack sends a validation failure to the Referer with the message
// and resubmittable inputs in flash.
func (a *App) redirectBack(w http.ResponseWriter, r *http.Request, d errdesc.Descriptor) {
	if d.Details != nil {
		if err := a.jar.SetFlash(w, "errors", d.Details); err != nil {
			a.log.ErrorContext(r.Context(), "flash write failed", slog.String("error", err.Error()))
		}
	} else {
		if err := a.jar.SetFlash(w, "error", d.Message); err != nil {
			a.log.ErrorContext(r.Context(), "flash write failed", slog.String("error", err.Error()))
		}
	}
	if err := a.jar.SetFlash(w, "old", scrubbedForm(r)); err != nil {
		a.log.ErrorContext(r.Context(), "flash write failed", slog.String("error", err.Error()))
	}

	to := r.Referer()
	if to == "" {
		to = "/"
	}
	http.Redirect(w, r, to, http.StatusFound)
}

// renderDescriptor writes the error view for a descriptor. If even the
// error view fails, a plain-text fallback goes out.
func (a *App) renderDescriptor(w http.ResponseWriter, r *http.Request, d errdesc.Descriptor) {
	data := view.NewData()
	data["Error"] = d
	data["Title"] = d.Title
	if sess := session.FromContext(r.Context()); sess != nil {
		data["CSRF"] = csrf.Token(a.secret, sess.Token)
		data["Authenticated"] = sess.Authenticated()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(d.Code)
	if err := a.views.Render(w, "/error", data); err != nil {
		a.log.ErrorContext(r.Context(), "error view render failed", slog.String("error", err.Error()))
		_, _ = w.Write([]byte(d.Title + "\n" + d.Message + "\n"))
	}
}

// scrubbedForm copies submitted form values minus secrets so a validation
// redirect can refill the form.
func scrubbedForm(r *http.Request) map[string]string {
	old := map[string]string{}
	_ = r.ParseForm()
	for key, vals := range r.PostForm {
		if key == csrf.FieldName || strings.Contains(key, "password") {
			continue
		}
		if len(vals) > 0 {
			old[key] = vals[0]
		}
	}
	return old
}
