package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avieira/authgate/internal/auth"
	"github.com/avieira/authgate/internal/config"
	apphttp "github.com/avieira/authgate/internal/http"
	"github.com/avieira/authgate/internal/observability"
	"github.com/avieira/authgate/internal/store/memory"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func testConfig() config.Config {
	return config.Config{
		Env:                "test",
		Port:               0,
		JWTSecret:          "test-secret-key",
		JWTTTLHours:        24,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		RevocationBackend:  "none",
	}
}

func setupRouter(t *testing.T, revoked auth.RevocationStore) (*gin.Engine, *memory.UsersStore, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	users := memory.NewUsersStore()
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := apphttp.NewRouter(apphttp.Deps{
		Log:     logger,
		Users:   users,
		JWT:     jwtManager,
		Revoked: revoked,
		Metrics: observability.NewProm(prometheus.NewRegistry()),
		Cfg:     cfg,
	})

	return router, users, jwtManager
}

func doRequest(router http.Handler, method, path, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *http.Response) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost && body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w, w.Result()
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == "token" {
			return c
		}
	}

	t.Fatalf("token cookie not found in response")
	return nil
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

type userBody struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Message string   `json:"message"`
	User    userBody `json:"user"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestRegisterLoginMeLogoutFlow(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	// register
	w, resp := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("register: got status %d, body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("register body leaks password field: %s", w.Body.String())
	}

	var reg sessionResponse
	mustReadJSON(t, w, &reg)

	if reg.User.Role != "user" {
		t.Fatalf("got role %q, want user", reg.User.Role)
	}
	if reg.User.Email != "a@x.com" {
		t.Fatalf("got email %q, want a@x.com", reg.User.Email)
	}

	c := sessionCookie(t, resp)
	if !c.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("session cookie must be same-site strict, got %v", c.SameSite)
	}
	if c.Path != "/" {
		t.Fatalf("session cookie path must be /, got %q", c.Path)
	}
	if c.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Fatalf("session cookie max-age %d, want 24h", c.MaxAge)
	}

	// login with the same credentials
	w, resp = doRequest(router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"pw"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("login: got status %d, body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("login body leaks password field: %s", w.Body.String())
	}

	var login sessionResponse
	mustReadJSON(t, w, &login)
	if login.User.ID != reg.User.ID {
		t.Fatalf("login returned id %d, register returned %d", login.User.ID, reg.User.ID)
	}

	loginCookie := sessionCookie(t, resp)

	// me with the login cookie
	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "", loginCookie)

	if w.Code != http.StatusOK {
		t.Fatalf("me: got status %d, body=%s", w.Code, w.Body.String())
	}

	var me sessionResponse
	mustReadJSON(t, w, &me)
	if me.User.ID != reg.User.ID {
		t.Fatalf("me returned id %d, want %d", me.User.ID, reg.User.ID)
	}

	// logout clears the cookie
	w, resp = doRequest(router, http.MethodPost, "/api/auth/logout", "", loginCookie)

	if w.Code != http.StatusOK {
		t.Fatalf("logout: got status %d, body=%s", w.Code, w.Body.String())
	}

	cleared := sessionCookie(t, resp)
	if cleared.Value != "" {
		t.Fatalf("logout must empty the cookie value, got %q", cleared.Value)
	}
	if cleared.MaxAge >= 0 {
		t.Fatalf("logout must expire the cookie, got max-age %d", cleared.MaxAge)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)

	wWrongPass, _ := doRequest(router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"nope"}`)
	wNoUser, _ := doRequest(router, http.MethodPost, "/api/auth/login",
		`{"email":"ghost@x.com","password":"pw"}`)

	if wWrongPass.Code != http.StatusUnauthorized || wNoUser.Code != http.StatusUnauthorized {
		t.Fatalf("got statuses %d and %d, want 401 for both", wWrongPass.Code, wNoUser.Code)
	}

	var e1, e2 errorResponse
	mustReadJSON(t, wWrongPass, &e1)
	mustReadJSON(t, wNoUser, &e2)

	if e1.Error.Code != "invalid_credentials" {
		t.Fatalf("got code %q, want invalid_credentials", e1.Error.Code)
	}
	if e1.Error.Code != e2.Error.Code || e1.Error.Message != e2.Error.Message {
		t.Fatalf("failure outcomes differ: %+v vs %+v", e1.Error, e2.Error)
	}
}

func TestMeGate(t *testing.T) {
	router, _, jwtManager := setupRouter(t, nil)

	_, resp := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)
	valid := sessionCookie(t, resp)

	// no cookie at all
	w, _ := doRequest(router, http.MethodGet, "/api/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: got %d, want 401", w.Code)
	}

	// forged cookie
	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "",
		&http.Cookie{Name: "token", Value: "garbage"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("forged cookie: got %d, want 403", w.Code)
	}

	// expired token
	expired := auth.NewManager("test-secret-key", -time.Hour)
	tok, err := expired.Issue(1, "a@x.com")
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}
	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "",
		&http.Cookie{Name: "token", Value: tok})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expired cookie: got %d, want 403", w.Code)
	}

	// valid cookie
	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "", valid)
	if w.Code != http.StatusOK {
		t.Fatalf("valid cookie: got %d, body=%s", w.Code, w.Body.String())
	}

	// valid signature but the referenced user never existed
	tok, err = jwtManager.Issue(999, "gone@x.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "",
		&http.Cookie{Name: "token", Value: tok})
	if w.Code != http.StatusNotFound {
		t.Fatalf("vanished user: got %d, want 404", w.Code)
	}
}

// Without a revocation store, a cookie captured before logout keeps working
// until natural expiry. This documents the stateless-session trade-off.
func TestLogoutDoesNotInvalidateIssuedTokens(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	_, resp := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)
	captured := sessionCookie(t, resp)

	w, _ := doRequest(router, http.MethodPost, "/api/auth/logout", "", captured)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: got %d", w.Code)
	}

	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "", captured)
	if w.Code != http.StatusOK {
		t.Fatalf("captured cookie after logout: got %d, want 200", w.Code)
	}
}

func TestLogoutRevokesWhenDenylistEnabled(t *testing.T) {
	router, _, _ := setupRouter(t, auth.NewMemoryRevocations())

	_, resp := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)
	captured := sessionCookie(t, resp)

	// still valid before logout
	w, _ := doRequest(router, http.MethodGet, "/api/auth/me", "", captured)
	if w.Code != http.StatusOK {
		t.Fatalf("pre-logout me: got %d", w.Code)
	}

	w, _ = doRequest(router, http.MethodPost, "/api/auth/logout", "", captured)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: got %d", w.Code)
	}

	w, _ = doRequest(router, http.MethodGet, "/api/auth/me", "", captured)
	if w.Code != http.StatusForbidden {
		t.Fatalf("revoked cookie: got %d, want 403", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	router, users, _ := setupRouter(t, nil)

	cases := []string{
		`{"password":"pw","name":"A"}`,
		`{"email":"a@x.com","name":"A"}`,
		`{"email":"a@x.com","password":"pw"}`,
		`{"email":"not-an-email","password":"pw","name":"A"}`,
	}

	for _, body := range cases {
		w, _ := doRequest(router, http.MethodPost, "/api/auth/register", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: got %d, want 400", body, w.Code)
		}

		var e errorResponse
		mustReadJSON(t, w, &e)
		if e.Error.Code != "invalid_request" {
			t.Fatalf("body %s: got code %q, want invalid_request", body, e.Error.Code)
		}
	}

	// no mutation happened: the store is empty and login fails
	if users.Len() != 0 {
		t.Fatalf("store holds %d records after rejected registrations, want 0", users.Len())
	}

	w, _ := doRequest(router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"pw"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login after rejected registration: got %d, want 401", w.Code)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	router, users, _ := setupRouter(t, nil)

	w, _ := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"pw","name":"A"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("first register: got %d", w.Code)
	}

	w, _ = doRequest(router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","password":"other","name":"B"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: got %d, want 409", w.Code)
	}

	var e errorResponse
	mustReadJSON(t, w, &e)
	if e.Error.Code != "email_taken" {
		t.Fatalf("got code %q, want email_taken", e.Error.Code)
	}

	if users.Len() != 1 {
		t.Fatalf("store holds %d records, want 1", users.Len())
	}
}
