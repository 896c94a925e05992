package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dlorenzo/portfolio-gate/internal/accesslog"
	"github.com/dlorenzo/portfolio-gate/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// testPasswordHash is a MinCost bcrypt hash to keep the suite fast.
func testPasswordHash(t *testing.T, password string) string {
	t.Helper()
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:           ":0",
		AuthSecret:           "test-signing-secret",
		PasswordHash:         testPasswordHash(t, "open sesame"),
		Environment:          "development",
		LogDir:               t.TempDir(),
		LogRotateMaxLines:    10000,
		RateLimitWindow:      15 * time.Minute,
		RateLimitMaxAttempts: 5,
		TokenTTL:             time.Hour,
		LogLevel:             "info",
		LogFormat:            "json",
		JanitorInterval:      time.Minute,
	}
}

func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *accesslog.Store) {
	t.Helper()
	logs, err := accesslog.New(cfg.LogDir, cfg.LogRotateMaxLines, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	g := New(cfg, logs, zerolog.Nop())
	g.delay = func(context.Context) {} // no anti-timing pause in tests
	return g, logs
}

// flushedEntries closes the store to drain the async writer, then reads the
// partition back.
func flushedEntries(t *testing.T, cfg *config.Config, logs *accesslog.Store) []accesslog.Entry {
	t.Helper()
	logs.Close()
	reader, err := accesslog.New(cfg.LogDir, cfg.LogRotateMaxLines, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	entries, err := reader.ReadRecent(100)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func doLogin(t *testing.T, h http.Handler, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"password":` + jsonString(password) + `}`
	if password == "" {
		body = `{}`
	}
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", "gate-test/1.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestLoginSuccess(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)
	h := g.Routes()

	rec := doLogin(t, h, "open sesame")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Errorf("body: got %v", body)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName {
		t.Fatalf("expected one %s cookie, got %v", CookieName, cookies)
	}
	c := cookies[0]
	if c.Value == "" || !c.HttpOnly || c.Path != "/" || c.MaxAge != 3600 {
		t.Errorf("cookie attributes: %+v", c)
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie SameSite: got %v, want Lax", c.SameSite)
	}
	if c.Secure {
		t.Error("cookie should not be Secure in development")
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 {
		t.Fatalf("audit entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if !e.Success || e.TokenExpiry != "1h" {
		t.Errorf("audit entry: %+v", e)
	}
	if e.IP != "203.0.xxx.xxx" {
		t.Errorf("audit IP should be obfuscated: %q", e.IP)
	}
	if e.UserAgent != "gate-test/1.0" {
		t.Errorf("audit user agent: %q", e.UserAgent)
	}
}

func TestLoginSecureCookieInProduction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = "production"
	g, _ := newTestGateway(t, cfg)

	rec := doLogin(t, g.Routes(), "open sesame")
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Errorf("production cookie should be Secure: %v", cookies)
	}
}

func TestLoginWrongPasswordThenRateLimited(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)
	h := g.Routes()

	for i, wantRemaining := range []float64{4, 3, 2, 1, 0} {
		rec := doLogin(t, h, "wrong password")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status: got %d, want 401", i+1, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["attemptsRemaining"] != wantRemaining {
			t.Errorf("attempt %d attemptsRemaining: got %v, want %v", i+1, body["attemptsRemaining"], wantRemaining)
		}
		if body["error"] != "Invalid credentials" {
			t.Errorf("attempt %d error message: got %v", i+1, body["error"])
		}
	}

	// Sixth attempt is throttled before the credential is even read
	rec := doLogin(t, h, "open sesame")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt status: got %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	retry, ok := body["retryAfter"].(float64)
	if !ok || retry <= 0 {
		t.Errorf("retryAfter: got %v, want > 0", body["retryAfter"])
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 6 {
		t.Fatalf("audit entries: got %d, want 6", len(entries))
	}
	for i := 0; i < 5; i++ {
		e := entries[i]
		if e.Success || e.Reason != accesslog.ReasonInvalidPassword {
			t.Errorf("entry %d: %+v", i, e)
		}
		if e.AttemptsRemaining == nil || *e.AttemptsRemaining != 4-i {
			t.Errorf("entry %d attemptsRemaining: %v", i, e.AttemptsRemaining)
		}
	}
	if entries[5].Reason != accesslog.ReasonRateLimitExceeded {
		t.Errorf("6th entry reason: %q", entries[5].Reason)
	}
}

func TestLoginIdentitiesThrottledIndependently(t *testing.T) {
	cfg := testConfig(t)
	g, _ := newTestGateway(t, cfg)
	h := g.Routes()

	for i := 0; i < 6; i++ {
		doLogin(t, h, "wrong password")
	}

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"open sesame"}`))
	r.RemoteAddr = "198.51.100.20:443"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("other identity should not be throttled: got %d", rec.Code)
	}
}

func TestLoginMissingPassword(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)

	rec := doLogin(t, g.Routes(), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Password required" {
		t.Errorf("body: %v", body)
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 || entries[0].Reason != accesslog.ReasonMissingPassword {
		t.Errorf("audit entries: %+v", entries)
	}
}

func TestLoginWrongMethod(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, r)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d, want 405", rec.Code)
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 || entries[0].Reason != accesslog.ReasonMethodNotAllowed {
		t.Errorf("audit entries: %+v", entries)
	}
}

func TestLoginMissingSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthSecret = ""
	g, logs := newTestGateway(t, cfg)

	rec := doLogin(t, g.Routes(), "open sesame")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	// Response must not reveal which variable is missing
	if body := decodeBody(t, rec); body["error"] != "Server not configured" {
		t.Errorf("body: %v", body)
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 || entries[0].Reason != accesslog.ReasonServerMisconfiguration {
		t.Errorf("audit entries: %+v", entries)
	}
}

func TestLoginNoCredentialConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.PasswordHash = ""
	cfg.PasswordPlaintext = ""
	g, logs := newTestGateway(t, cfg)

	rec := doLogin(t, g.Routes(), "open sesame")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Server not configured" {
		t.Errorf("body: %v", body)
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 || entries[0].Reason != accesslog.ReasonNoPasswordConfigured {
		t.Errorf("audit entries: %+v", entries)
	}
}

func TestLoginPlaintextFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.PasswordHash = ""
	cfg.PasswordPlaintext = "legacy-secret"
	g, _ := newTestGateway(t, cfg)

	rec := doLogin(t, g.Routes(), "legacy-secret")
	if rec.Code != http.StatusOK {
		t.Errorf("plaintext fallback login: got %d, want 200", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	raw := rec.Header().Get("Set-Cookie")
	if !strings.Contains(raw, CookieName+"=") || !strings.Contains(raw, "Max-Age=0") {
		t.Errorf("logout should clear the cookie: %q", raw)
	}

	entries := flushedEntries(t, cfg, logs)
	if len(entries) != 1 || entries[0].Reason != accesslog.ReasonLogout {
		t.Errorf("audit entries: %+v", entries)
	}
}

func TestLogoutWrongMethod(t *testing.T) {
	cfg := testConfig(t)
	g, _ := newTestGateway(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, r)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}

func TestProtectedPage(t *testing.T) {
	cfg := testConfig(t)
	g, logs := newTestGateway(t, cfg)
	h := g.Routes()

	// Without a cookie: login prompt
	r := httptest.NewRequest(http.MethodGet, "/portfolio", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if !strings.Contains(rec.Body.String(), `id="login"`) {
		t.Errorf("anonymous request should see the login prompt: %s", rec.Body.String())
	}

	// With a valid token: protected content
	tok, err := g.tokens.Issue()
	if err != nil {
		t.Fatal(err)
	}
	r = httptest.NewRequest(http.MethodGet, "/portfolio", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if !strings.Contains(rec.Body.String(), `id="portfolio"`) {
		t.Errorf("valid token should see protected content: %s", rec.Body.String())
	}

	// With a tampered token: login prompt
	r = httptest.NewRequest(http.MethodGet, "/portfolio", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: tok + "x"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if !strings.Contains(rec.Body.String(), `id="login"`) {
		t.Errorf("tampered token should see the login prompt")
	}

	// The read path is side-effect free: no audit entries at all
	if entries := flushedEntries(t, cfg, logs); len(entries) != 0 {
		t.Errorf("protected-page reads must not be logged: %+v", entries)
	}
}

func TestExpiryLabel(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "90m"},
		{90 * time.Second, "1m30s"},
	}
	for _, c := range cases {
		if got := expiryLabel(c.d); got != c.want {
			t.Errorf("expiryLabel(%s): got %q, want %q", c.d, got, c.want)
		}
	}
}
