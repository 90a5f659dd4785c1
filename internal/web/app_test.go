package web_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborcloud/console/internal/auth"
	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/errdesc"
	"github.com/arborcloud/console/internal/mailer"
	"github.com/arborcloud/console/internal/project"
	"github.com/arborcloud/console/internal/route"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/store"
	"github.com/arborcloud/console/internal/view"
	"github.com/arborcloud/console/internal/web"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testApp struct {
	srv      *httptest.Server
	client   *http.Client
	svc      *auth.Service
	db       *store.Memory
	sessions *session.Manager
	mail     *mailer.TestSender
	hooks    atomic.Int32
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jar := cookie.New(cookie.WithSecret(testSecret))
	db := store.NewMemory()
	sessions := session.NewManager(session.NewMemoryStore(), jar)
	mail := &mailer.TestSender{}
	views, err := view.New()
	require.NoError(t, err)

	ta := &testApp{db: db, sessions: sessions, mail: mail}

	projects := project.NewService(db, db, log)
	ta.svc = auth.NewService(db, sessions, jar, mail, log,
		"http://console.test", "Arbor Console",
		func(ctx context.Context, accountID string) error {
			ta.hooks.Add(1)
			return projects.AccountCreated(ctx, accountID)
		})

	var app *web.App
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		app.HandleError(w, r, err)
	}
	authHandler := auth.NewHandler(ta.svc, views, jar, []byte(testSecret), log, onError)

	reg := route.New()
	reg.Handle("/dashboard", web.DashboardHandler(views, jar, []byte(testSecret), projects))
	reg.Handle("/boom", func(http.ResponseWriter, *http.Request) error {
		panic("route exploded")
	})
	reg.Handle("/broken", func(http.ResponseWriter, *http.Request) error {
		return errors.New("backend unavailable")
	})

	app = web.New(web.Config{
		Log:         log,
		Classifier:  errdesc.New(log),
		Sessions:    sessions,
		Jar:         jar,
		Views:       views,
		Routes:      reg,
		Secret:      []byte(testSecret),
		AuthPaths:   auth.Paths(),
		AuthHandler: authHandler.Router(),
		Gate:        ta.svc,
		Public: fstest.MapFS{
			"robots.txt": &fstest.MapFile{Data: []byte("User-agent: *\n")},
		},
		Assets: fstest.MapFS{
			"app.css": &fstest.MapFile{Data: []byte("body{}")},
		},
	})

	ta.srv = httptest.NewServer(app.Handler())
	t.Cleanup(ta.srv.Close)

	cj, err := cookiejar.New(nil)
	require.NoError(t, err)
	ta.client = &http.Client{
		Jar: cj,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return ta
}

func (ta *testApp) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ta.client.Get(ta.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ta *testApp) postForm(t *testing.T, path, referer string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ta.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", ta.srv.URL+referer)
	}
	resp, err := ta.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

var csrfRe = regexp.MustCompile(`name="_csrf" value="([^"]+)"`)

// csrfToken fetches a form page and pulls the CSRF token out of it, which
// also establishes the session cookie the token is bound to.
func (ta *testApp) csrfToken(t *testing.T, formPath string) string {
	t.Helper()
	resp := ta.get(t, formPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := csrfRe.FindStringSubmatch(body(t, resp))
	require.NotNil(t, m, "form page carries a csrf token")
	return m[1]
}

// register creates an account through the service, bypassing HTTP.
func (ta *testApp) register(t *testing.T) *store.Account {
	t.Helper()
	account, err := ta.svc.CreateAccount(context.Background(), "dev", "dev@arbor.test", "long-password", "long-password")
	require.NoError(t, err)
	return account
}

// login drives the full login flow through the pipeline.
func (ta *testApp) login(t *testing.T, remember bool) {
	t.Helper()
	form := url.Values{
		"_csrf":    {ta.csrfToken(t, "/login")},
		"email":    {"dev@arbor.test"},
		"password": {"long-password"},
	}
	if remember {
		form.Set("remember", "1")
	}
	resp := ta.postForm(t, "/login", "/login", form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestRootRedirectsToLogin(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	resp := ta.get(t, "/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestProtectedPathWithoutSessionIsForbidden(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	resp := ta.get(t, "/dashboard")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Forbidden")
}

func TestPostWithoutTokenIs419EverywhereExceptBypass(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	for _, path := range []string{"/login", "/dashboard", "/no-such-route"} {
		resp := ta.postForm(t, path, "", url.Values{"email": {"x@y.test"}})
		assert.Equal(t, 419, resp.StatusCode, "path %s", path)
		assert.Contains(t, body(t, resp), "Invalid Security Token", "path %s", path)
	}
}

func TestPublicAndAssetBypass(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	resp := ta.get(t, "/robots.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "User-agent")

	resp = ta.get(t, "/assets/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ta.get(t, "/assets/missing.css")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	for _, path := range []string{"/", "/login", "/dashboard", "/robots.txt"} {
		resp := ta.get(t, path)
		assert.Equal(t, "deny", resp.Header.Get("X-Frame-Options"), "path %s", path)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), "path %s", path)
		assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'none'", "path %s", path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"), "path %s", path)
	}
}

func TestUnknownPathIsFixed404(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	resp := ta.get(t, "/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := body(t, resp)
	assert.Contains(t, out, "Resource not found")
	assert.Contains(t, out, "Sorry, we couldn&#39;t find the resource you&#39;re looking for.")
}

func TestLoginFlowReachesDashboard(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	resp := ta.get(t, "/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := body(t, resp)
	assert.Contains(t, out, "Dashboard")
	assert.Contains(t, out, "dev-default-project", "provisioned project is listed")
}

func TestLoginWithBadPasswordFlashesAndRedirects(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)

	form := url.Values{
		"_csrf":    {ta.csrfToken(t, "/login")},
		"email":    {"dev@arbor.test"},
		"password": {"wrong"},
	}
	resp := ta.postForm(t, "/login", "/login", form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// The follow-up render shows the message and preserves the email.
	resp = ta.get(t, "/login")
	out := body(t, resp)
	assert.Contains(t, out, "There was an error logging in")
	assert.Contains(t, out, `value="dev@arbor.test"`)
	assert.NotContains(t, out, "wrong", "password never rides the flash")
}

func TestCreateAccountProvisionsOnce(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	form := url.Values{
		"_csrf":            {ta.csrfToken(t, "/create-account")},
		"name":             {"newdev"},
		"email":            {"newdev@arbor.test"},
		"password":         {"long-password"},
		"password_confirm": {"long-password"},
	}
	resp := ta.postForm(t, "/create-account", "/create-account", form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, int32(1), ta.hooks.Load(), "provisioning hook fired exactly once")

	ctx := context.Background()
	account, err := ta.db.AccountByEmail(ctx, "newdev@arbor.test")
	require.NoError(t, err)
	projects, err := ta.db.ProjectsByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "newdev-default-project", projects[0].Name)
}

func TestValidationFailureRedirectsBackWithInputs(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	form := url.Values{
		"_csrf":            {ta.csrfToken(t, "/create-account")},
		"name":             {"dev"},
		"email":            {"not-an-email"},
		"password":         {"short"},
		"password_confirm": {"other"},
	}
	resp := ta.postForm(t, "/create-account", "/create-account", form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/create-account")
	assert.Equal(t, int32(0), ta.hooks.Load())

	resp = ta.get(t, "/create-account")
	out := body(t, resp)
	assert.Contains(t, out, `value="not-an-email"`, "inputs preserved")
	assert.NotContains(t, out, "short", "password scrubbed from flash")
}

func TestRememberTokenReauthenticates(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, true)

	// Drop the session cookie, keep only the remember cookie.
	u, err := url.Parse(ta.srv.URL)
	require.NoError(t, err)
	var remember *http.Cookie
	for _, c := range ta.client.Jar.Cookies(u) {
		if c.Name == "_console_remember" {
			remember = c
		}
	}
	require.NotNil(t, remember, "remember cookie issued on opt-in login")

	cj, err := cookiejar.New(nil)
	require.NoError(t, err)
	cj.SetCookies(u, []*http.Cookie{remember})
	ta.client.Jar = cj

	resp := ta.get(t, "/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Dashboard")
}

func TestLoginWithoutRememberIssuesNoToken(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	u, err := url.Parse(ta.srv.URL)
	require.NoError(t, err)
	for _, c := range ta.client.Jar.Cookies(u) {
		assert.NotEqual(t, "_console_remember", c.Name)
	}
}

func TestRevokedSessionDegradesToAnonymous(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	account := ta.register(t)
	ta.login(t, false)

	// Revoke every active session key behind the pipeline's back.
	require.NoError(t, ta.db.RemoveOtherSessionKeys(context.Background(), account.ID, ""))

	resp := ta.get(t, "/dashboard")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "revoked session is anonymous, not an error")
}

func TestLogout(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	token := ta.csrfToken(t, "/dashboard")
	resp := ta.postForm(t, "/logout", "/dashboard", url.Values{"_csrf": {token}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = ta.get(t, "/dashboard")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSettingsValidationRedirectsBack(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	form := url.Values{
		"_csrf":    {ta.csrfToken(t, "/settings/change-login")},
		"email":    {"broken-address"},
		"password": {"long-password"},
	}
	resp := ta.postForm(t, "/settings/change-login", "/settings/change-login", form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/settings/change-login")

	resp = ta.get(t, "/settings/change-login")
	assert.Contains(t, body(t, resp), `value="broken-address"`)
}

func TestSettingsRequireAccount(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	resp := ta.get(t, "/settings/change-password")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPanicBecomes500(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	resp := ta.get(t, "/boom")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Unexpected Error")
}

func TestUnknownErrorBecomes500(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)
	ta.login(t, false)

	resp := ta.get(t, "/broken")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Unexpected Error")
}

func TestHyphenatedRouteResolution(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	ta.register(t)

	// The reset-password-request form is reachable under its external
	// hyphenated path.
	resp := ta.get(t, "/reset-password-request")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
