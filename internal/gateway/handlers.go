package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dlorenzo/portfolio-gate/internal/accesslog"
	"github.com/dlorenzo/portfolio-gate/internal/identity"
	"github.com/dlorenzo/portfolio-gate/internal/metrics"
)

// CookieName is the access cookie carrying the signed token.
const CookieName = "portfolio_auth"

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin runs the login sequence: method check, rate check, config
// check, credential verification, token issuance. Every outcome is
// audited; the audit write itself never fails the request.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.LoginDuration.Observe(time.Since(start).Seconds())
	}()

	clientIP := identity.FromRequest(r)
	obfuscated := identity.Obfuscate(clientIP)
	ua := r.UserAgent()

	if r.Method != http.MethodPost {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeMethodNotAllowed).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonMethodNotAllowed,
		})
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}

	res := g.limiter.Check(clientIP)
	if !res.Allowed {
		retry := int(math.Ceil(res.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonRateLimitExceeded,
		})
		g.log.Warn().Str("ip", obfuscated).Int("retry_after", retry).Msg("login rate limited")
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "Too many attempts, try again later",
			"retryAfter": retry,
		})
		return
	}

	// Critical configuration must be present before any credential
	// comparison. The response never names the missing variable.
	if g.cfg.AuthSecret == "" {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeMisconfigured).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonServerMisconfiguration,
		})
		g.log.Error().Msg("login rejected: AUTH_SECRET is not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server not configured"})
		return
	}
	if g.credErr != nil {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeMisconfigured).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonNoPasswordConfigured,
		})
		g.log.Error().Msg("login rejected: no password credential configured")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server not configured"})
		return
	}

	var req loginRequest
	if r.Body != nil {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req)
	}
	if req.Password == "" {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeMissingPassword).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonMissingPassword,
		})
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Password required"})
		return
	}

	ok := g.cred.Verify(req.Password)

	// Applied on both outcomes so response timing carries no signal.
	g.delay(r.Context())

	if !ok {
		remaining := res.Remaining
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeInvalidPassword).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason:            accesslog.ReasonInvalidPassword,
			AttemptsRemaining: &remaining,
		})
		g.log.Info().Str("ip", obfuscated).Int("attempts_remaining", remaining).Msg("invalid credentials")
		// Generic on purpose: the response never distinguishes what was wrong.
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "Invalid credentials",
			"attemptsRemaining": remaining,
		})
		return
	}

	tok, err := g.tokens.Issue()
	if err != nil {
		metrics.LoginAttempts.WithLabelValues(metrics.OutcomeMisconfigured).Inc()
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonServerMisconfiguration,
		})
		g.log.Error().Err(err).Msg("token issuance failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server error"})
		return
	}

	g.setAuthCookie(w, tok, int(g.tokens.TTL().Seconds()))
	metrics.LoginAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
	g.logs.Record(accesslog.Entry{
		IP: obfuscated, UserAgent: ua,
		Success:     true,
		TokenExpiry: expiryLabel(g.tokens.TTL()),
	})
	g.log.Info().Str("ip", obfuscated).Msg("login successful")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLogout clears the access cookie unconditionally. Stateless
// revocation: a captured token stays valid until natural expiry.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	clientIP := identity.FromRequest(r)
	obfuscated := identity.Obfuscate(clientIP)
	ua := r.UserAgent()

	if r.Method != http.MethodPost {
		g.logs.Record(accesslog.Entry{
			IP: obfuscated, UserAgent: ua,
			Reason: accesslog.ReasonMethodNotAllowed,
		})
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}

	g.clearAuthCookie(w)
	metrics.Logouts.Inc()
	g.logs.Record(accesslog.Entry{
		IP: obfuscated, UserAgent: ua,
		Success: true,
		Reason:  accesslog.ReasonLogout,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handlePortfolio is the protected-page read path: a pure function of the
// cookie. No logging, no rate-limit interaction.
func (g *Gateway) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(CookieName)
	if err != nil || g.tokens == nil {
		metrics.TokenVerifications.WithLabelValues("missing").Inc()
		servePage(w, loginPromptPage)
		return
	}
	if err := g.tokens.Verify(c.Value); err != nil {
		metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		servePage(w, loginPromptPage)
		return
	}
	metrics.TokenVerifications.WithLabelValues("valid").Inc()
	servePage(w, protectedPage)
}

func (g *Gateway) setAuthCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   g.cfg.Production(),
	})
}

func (g *Gateway) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // serialized as Max-Age=0
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   g.cfg.Production(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func servePage(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// expiryLabel renders the token lifetime for audit entries ("1h", "90m").
func expiryLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

const protectedPage = `<!doctype html>
<html>
<head><title>Private portfolio</title></head>
<body>
<main id="portfolio">Private portfolio</main>
</body>
</html>
`

const loginPromptPage = `<!doctype html>
<html>
<head><title>Private portfolio</title></head>
<body>
<form id="login" method="post" action="/auth/login">
<input type="password" name="password" autocomplete="current-password">
<button type="submit">Unlock</button>
</form>
</body>
</html>
`
