// ABOUTME: HTTP routing and cross-cutting middleware for the gateway
// ABOUTME: chi router with request ids, slog request logging, panic recovery and CORS

package gateway

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tomifer13/EndoBot/internal/auth"
)

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(g.config.CORS.AllowedOrigins))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Get("/verify", g.handleVerify)

	if g.config.Metrics.Enabled {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	session := auth.SessionConfig{
		CookieName: g.config.Session.CookieName,
		MaxAge:     g.config.Session.MaxAge,
		Secure:     g.config.Session.Secure,
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(g.verifier, session, g.logger))

		r.Post("/create-session", g.handleCreateSession)

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", g.handleCreateThread)
			r.Get("/", g.handleListThreads)

			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", g.handleGetThread)
				r.Post("/messages", g.handleSendMessage)
				r.Get("/items", g.handleListItems)
				r.Get("/events", g.handleThreadEvents)
				r.Get("/transcript", g.handleTranscript)
			})
		})

		r.Get("/pm/tree", g.handlePromptTree)
		r.Get("/pm/prompt_content", g.handlePromptContent)
	})

	return r
}

// requestLogger logs one line per request. Health probes log at debug.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/health/ready" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware allows browser calls from the configured origins. "*"
// allows any origin; the origin is echoed because credentials are allowed.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !(allowAll || slices.Contains(origins, origin)) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
