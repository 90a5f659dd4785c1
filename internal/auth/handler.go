package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/arborcloud/console/internal/authz"
	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/csrf"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/view"
)

// ErrorFunc is the pipeline's error boundary; handler failures are passed to
// it instead of being written directly.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Handler serves the reserved authentication sub-tree. The pipeline
// delegates matched paths here wholesale; everything under it is terminal.
type Handler struct {
	svc     *Service
	views   *view.Renderer
	jar     *cookie.Jar
	secret  []byte
	log     *slog.Logger
	onError ErrorFunc
}

// NewHandler wires the auth routes.
func NewHandler(svc *Service, views *view.Renderer, jar *cookie.Jar, secret []byte,
	log *slog.Logger, onError ErrorFunc) *Handler {
	return &Handler{svc: svc, views: views, jar: jar, secret: secret, log: log, onError: onError}
}

// Paths returns the top-level path prefixes reserved for authentication.
func Paths() []string {
	return []string{"/login", "/logout", "/create-account", "/reset-password-request",
		"/reset-password", "/settings", "/otp-setup", "/otp-auth"}
}

// Router builds the chi sub-router for the auth sub-tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/login", h.wrap(h.loginForm))
	r.Post("/login", h.wrap(h.login))
	r.Post("/logout", h.wrap(h.logout))
	r.Get("/create-account", h.wrap(h.createAccountForm))
	r.Post("/create-account", h.wrap(h.createAccount))
	r.Get("/reset-password-request", h.wrap(h.resetRequestForm))
	r.Post("/reset-password-request", h.wrap(h.resetRequest))
	r.Get("/reset-password", h.wrap(h.resetPasswordForm))
	r.Post("/reset-password", h.wrap(h.resetPassword))
	r.Get("/otp-auth", h.wrap(h.otpAuthForm))
	r.Post("/otp-auth", h.wrap(h.otpAuth))

	// Everything below requires an authenticated account; the pipeline's
	// own requirement stage runs after auth delegation, so the sub-tree
	// enforces it itself.
	r.Get("/otp-setup", h.wrap(h.requireAccount(h.otpSetupForm)))
	r.Post("/otp-setup", h.wrap(h.requireAccount(h.otpSetup)))
	r.Route("/settings", func(r chi.Router) {
		r.Get("/change-password", h.wrap(h.requireAccount(h.changePasswordForm)))
		r.Post("/change-password", h.wrap(h.requireAccount(h.changePassword)))
		r.Get("/change-login", h.wrap(h.requireAccount(h.changeLoginForm)))
		r.Post("/change-login", h.wrap(h.requireAccount(h.changeLogin)))
		r.Get("/close-account", h.wrap(h.requireAccount(h.closeAccountForm)))
		r.Post("/close-account", h.wrap(h.requireAccount(h.closeAccount)))
	})

	return r
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h *Handler) wrap(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.onError(w, r, err)
		}
	}
}

func (h *Handler) requireAccount(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		sess := session.FromContext(r.Context())
		if sess == nil || !sess.Authenticated() {
			return authz.ErrAuthenticationRequired
		}
		return fn(w, r)
	}
}

// pageData assembles the base template data: CSRF token, auth state, and
// any flash left by the previous redirect.
func (h *Handler) pageData(w http.ResponseWriter, r *http.Request) view.Data {
	data := view.NewData()
	if sess := session.FromContext(r.Context()); sess != nil {
		data["CSRF"] = csrf.Token(h.secret, sess.Token)
		data["Authenticated"] = sess.Authenticated()
	}

	flash := map[string]string{}
	var msg string
	if err := h.jar.Flash(w, r, "error", &msg); err == nil {
		flash["error"] = msg
	}
	if err := h.jar.Flash(w, r, "notice", &msg); err == nil {
		flash["notice"] = msg
	}
	data["Flash"] = flash

	old := map[string]string{}
	if err := h.jar.Flash(w, r, "old", &old); err == nil {
		data["Old"] = old
	}
	errs := map[string][]string{}
	if err := h.jar.Flash(w, r, "errors", &errs); err == nil {
		data["Errors"] = errs
	}
	return data
}

func (h *Handler) render(w http.ResponseWriter, name string, data view.Data) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return h.views.Render(w, name, data)
}

// flashAndBack records a flash error plus the resubmittable inputs and
// redirects to the given path.
func (h *Handler) flashAndBack(w http.ResponseWriter, r *http.Request, msg, to string) error {
	if err := h.jar.SetFlash(w, "error", msg); err != nil {
		return err
	}
	if err := h.jar.SetFlash(w, "old", scrubbedForm(r)); err != nil {
		return err
	}
	http.Redirect(w, r, to, http.StatusFound)
	return nil
}

// scrubbedForm copies the submitted form minus secrets: password fields and
// the CSRF token never ride a flash cookie.
func scrubbedForm(r *http.Request) map[string]string {
	old := map[string]string{}
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

// --- login / logout ---

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(r.Context())
	if sess != nil && sess.Authenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return nil
	}
	data := h.pageData(w, r)
	data["Title"] = "Log in"
	return h.render(w, "auth/login", data)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	account, err := h.svc.VerifyCredentials(ctx, r.PostFormValue("email"), r.PostFormValue("password"))
	if errors.Is(err, ErrInvalidCredentials) {
		return h.flashAndBack(w, r, "There was an error logging in", "/login")
	}
	if err != nil {
		return err
	}

	if account.OTPEnabled {
		sess.Set(sessionKeyOTPPending, account.ID)
		http.Redirect(w, r, "/otp-auth", http.StatusFound)
		return nil
	}

	if err := h.svc.EstablishSession(ctx, w, sess, account.ID); err != nil {
		return err
	}
	if r.PostFormValue("remember") != "" {
		if err := h.svc.IssueRemember(ctx, w, account.ID); err != nil {
			return err
		}
	}

	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	if sess != nil {
		if sess.Authenticated() {
			if err := h.svc.ClearRemember(ctx, w, sess.AccountID); err != nil {
				return err
			}
		}
		if err := h.svc.ClearSession(ctx, w, sess); err != nil {
			return err
		}
	}

	if err := h.jar.SetFlash(w, "notice", "You have been logged out"); err != nil {
		return err
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

// --- account creation ---

func (h *Handler) createAccountForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Create account"
	return h.render(w, "auth/create_account", data)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) error {
	_, err := h.svc.CreateAccount(r.Context(),
		r.PostFormValue("name"),
		r.PostFormValue("email"),
		r.PostFormValue("password"),
		r.PostFormValue("password_confirm"),
	)
	if err != nil {
		return err
	}

	if err := h.jar.SetFlash(w, "notice", "Your account has been created. Please log in."); err != nil {
		return err
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

// --- password reset ---

func (h *Handler) resetRequestForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Reset password"
	return h.render(w, "auth/reset_password_request", data)
}

func (h *Handler) resetRequest(w http.ResponseWriter, r *http.Request) error {
	if err := h.svc.RequestPasswordReset(r.Context(), r.PostFormValue("email")); err != nil {
		return err
	}
	if err := h.jar.SetFlash(w, "notice", "If that address has an account, a reset link is on its way."); err != nil {
		return err
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

func (h *Handler) resetPasswordForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Choose a new password"
	old, _ := data["Old"].(map[string]string)
	if old["token"] == "" {
		old["token"] = r.URL.Query().Get("token")
		data["Old"] = old
	}
	return h.render(w, "auth/reset_password", data)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) error {
	err := h.svc.ResetPassword(r.Context(),
		r.PostFormValue("token"),
		r.PostFormValue("password"),
		r.PostFormValue("password_confirm"),
	)
	if errors.Is(err, ErrInvalidResetToken) {
		return h.flashAndBack(w, r, "This password reset link is invalid or has expired", "/reset-password-request")
	}
	if err != nil {
		return err
	}

	if err := h.jar.SetFlash(w, "notice", "Your password has been reset. Please log in."); err != nil {
		return err
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

// --- settings ---

func (h *Handler) changePasswordForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Change password"
	return h.render(w, "settings/change_password", data)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(r.Context())
	err := h.svc.ChangePassword(r.Context(), sess,
		r.PostFormValue("password"),
		r.PostFormValue("new_password"),
		r.PostFormValue("new_password_confirm"),
	)
	if errors.Is(err, ErrInvalidCredentials) {
		return h.flashAndBack(w, r, "Current password is incorrect", "/settings/change-password")
	}
	if err != nil {
		return err
	}

	if err := h.jar.SetFlash(w, "notice", "Your password has been changed"); err != nil {
		return err
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}

func (h *Handler) changeLoginForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Change email"
	return h.render(w, "settings/change_login", data)
}

func (h *Handler) changeLogin(w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(r.Context())
	err := h.svc.ChangeLogin(r.Context(), sess,
		r.PostFormValue("password"),
		r.PostFormValue("email"),
	)
	if errors.Is(err, ErrInvalidCredentials) {
		return h.flashAndBack(w, r, "Current password is incorrect", "/settings/change-login")
	}
	if err != nil {
		return err
	}

	if err := h.jar.SetFlash(w, "notice", "Your email has been changed"); err != nil {
		return err
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}

func (h *Handler) closeAccountForm(w http.ResponseWriter, r *http.Request) error {
	data := h.pageData(w, r)
	data["Title"] = "Close account"
	return h.render(w, "settings/close_account", data)
}

func (h *Handler) closeAccount(w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(r.Context())
	err := h.svc.CloseAccount(r.Context(), w, sess, r.PostFormValue("password"))
	if errors.Is(err, ErrInvalidCredentials) {
		return h.flashAndBack(w, r, "Current password is incorrect", "/settings/close-account")
	}
	if err != nil {
		return err
	}

	if err := h.jar.SetFlash(w, "notice", "Your account has been closed"); err != nil {
		return err
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return nil
}

// --- 2FA ---

func (h *Handler) otpSetupForm(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	account, err := h.svc.Account(ctx, sess)
	if err != nil {
		return err
	}

	data := h.pageData(w, r)
	data["Title"] = "Two-factor authentication"
	data["OTPEnabled"] = account.OTPEnabled

	if !account.OTPEnabled {
		secret := sess.GetString(sessionKeyOTPSetup)
		if secret == "" {
			secret, err = GenerateTOTPSecret()
			if err != nil {
				return err
			}
			sess.Set(sessionKeyOTPSetup, secret)
		}
		data["OTPSecret"] = secret
		data["OTPURI"] = TOTPProvisioningURI(secret, account.Email, h.svc.issuer)
	}
	return h.render(w, "auth/otp_setup", data)
}

func (h *Handler) otpSetup(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	if r.PostFormValue("disable") != "" {
		err := h.svc.DisableOTP(ctx, sess, r.PostFormValue("password"))
		if errors.Is(err, ErrInvalidCredentials) {
			return h.flashAndBack(w, r, "Current password is incorrect", "/otp-setup")
		}
		if err != nil {
			return err
		}
		if err := h.jar.SetFlash(w, "notice", "Two-factor authentication has been disabled"); err != nil {
			return err
		}
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return nil
	}

	secret := sess.GetString(sessionKeyOTPSetup)
	if secret == "" {
		return h.flashAndBack(w, r, "Your setup session expired, please start again", "/otp-setup")
	}

	err := h.svc.EnableOTP(ctx, sess, secret, r.PostFormValue("otp"), r.PostFormValue("password"))
	if errors.Is(err, ErrInvalidCredentials) {
		return h.flashAndBack(w, r, "Current password is incorrect", "/otp-setup")
	}
	if err != nil {
		return err
	}
	sess.Delete(sessionKeyOTPSetup)

	if err := h.jar.SetFlash(w, "notice", "Two-factor authentication is enabled"); err != nil {
		return err
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}

func (h *Handler) otpAuthForm(w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(r.Context())
	if sess == nil || sess.GetString(sessionKeyOTPPending) == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil
	}
	data := h.pageData(w, r)
	data["Title"] = "Authentication code"
	return h.render(w, "auth/otp_auth", data)
}

func (h *Handler) otpAuth(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	sess := session.FromContext(ctx)

	accountID := sess.GetString(sessionKeyOTPPending)
	if accountID == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil
	}

	ok, err := h.svc.VerifyAccountOTP(ctx, accountID, r.PostFormValue("otp"))
	if err != nil {
		return err
	}
	if !ok {
		return h.flashAndBack(w, r, "The authentication code is invalid", "/otp-auth")
	}

	if err := h.svc.EstablishSession(ctx, w, sess, accountID); err != nil {
		return err
	}
	if r.PostFormValue("remember") != "" {
		if err := h.svc.IssueRemember(ctx, w, accountID); err != nil {
			return err
		}
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
	return nil
}
