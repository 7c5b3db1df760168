// ABOUTME: HTTP middleware establishing the caller identity for API routes
// ABOUTME: Bearer JWTs when a secret is configured, otherwise the anonymous session cookie

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session cookie defaults.
const (
	DefaultCookieName = "chatkit_session_id"
	DefaultCookieAge  = 30 * 24 * time.Hour
)

// SessionConfig controls the anonymous session cookie.
type SessionConfig struct {
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultCookieAge
	}
	return c
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// BearerMiddleware requires a valid bearer token and attaches its subject.
func BearerMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			id := &Identity{Subject: subject, Source: SourceToken}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// SessionMiddleware identifies the caller by the session cookie, issuing a
// new random id when the cookie is missing.
func SessionMiddleware(cfg SessionConfig) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := SessionID(r, cfg)
			if id == "" {
				id = uuid.New().String()
				http.SetCookie(w, SessionCookie(cfg, id))
			}
			ident := &Identity{Subject: id, Source: SourceSession}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// SessionID returns the session id from the request cookie.
func SessionID(r *http.Request, cfg SessionConfig) (string, bool) {
	cfg = cfg.withDefaults()
	c, err := r.Cookie(cfg.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// SessionCookie builds the cookie carrying id.
func SessionCookie(cfg SessionConfig, id string) *http.Cookie {
	cfg = cfg.withDefaults()
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   cfg.Secure,
	}
}

// Middleware picks bearer auth when verifier is non-nil and session cookies
// otherwise.
func Middleware(verifier TokenVerifier, session SessionConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if verifier != nil {
		return BearerMiddleware(verifier, logger)
	}
	return SessionMiddleware(session)
}
