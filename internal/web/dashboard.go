package web

import (
	"net/http"

	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/csrf"
	"github.com/arborcloud/console/internal/project"
	"github.com/arborcloud/console/internal/route"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/view"
)

// DashboardHandler renders the authenticated landing page with the
// account's projects.
func DashboardHandler(views *view.Renderer, jar *cookie.Jar, secret []byte, projects *project.Service) route.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		sess := session.FromContext(r.Context())

		list, err := projects.List(r.Context(), sess.AccountID)
		if err != nil {
			return err
		}

		data := PageData(w, r, jar, secret)
		data["Title"] = "Dashboard"
		data["Projects"] = list

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		return views.Render(w, "/dashboard", data)
	}
}

// PageData assembles the base template data for a request: CSRF token,
// auth state, and any flash left by the previous redirect.
func PageData(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, secret []byte) view.Data {
	data := view.NewData()
	if sess := session.FromContext(r.Context()); sess != nil {
		data["CSRF"] = csrf.Token(secret, sess.Token)
		data["Authenticated"] = sess.Authenticated()
	}

	flash := map[string]string{}
	var msg string
	if err := jar.Flash(w, r, "error", &msg); err == nil {
		flash["error"] = msg
	}
	if err := jar.Flash(w, r, "notice", &msg); err == nil {
		flash["notice"] = msg
	}
	data["Flash"] = flash

	old := map[string]string{}
	if err := jar.Flash(w, r, "old", &old); err == nil {
		data["Old"] = old
	}
	errs := map[string][]string{}
	if err := jar.Flash(w, r, "errors", &errs); err == nil {
		data["Errors"] = errs
	}
	return data
}
