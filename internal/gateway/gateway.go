// ABOUTME: Gateway orchestrator that wires the store, bridge and HTTP server
// ABOUTME: Manages component construction, the listener and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tomifer13/EndoBot/internal/auth"
	"github.com/tomifer13/EndoBot/internal/bridge"
	"github.com/tomifer13/EndoBot/internal/config"
	"github.com/tomifer13/EndoBot/internal/conversation"
	"github.com/tomifer13/EndoBot/internal/dedupe"
	"github.com/tomifer13/EndoBot/internal/metrics"
	"github.com/tomifer13/EndoBot/internal/notify"
	"github.com/tomifer13/EndoBot/internal/prompts"
	"github.com/tomifer13/EndoBot/internal/store"
	"github.com/tomifer13/EndoBot/internal/upstream"
)

// DefaultHeartbeatInterval is how often idle item subscriptions get a
// comment line.
const DefaultHeartbeatInterval = 30 * time.Second

// PromptLibrary is the read side of the prompt library.
type PromptLibrary interface {
	Tree(ctx context.Context) ([]*prompts.Node, error)
	LiveContent(ctx context.Context, promptID int64) (string, error)
	Ping(ctx context.Context) error
}

// Gateway owns the HTTP server and every component behind it.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	upstream     *upstream.Client
	metrics      *metrics.Metrics
	verifier     auth.TokenVerifier
	httpServer   *http.Server
	logger       *slog.Logger

	// dedupe drops retried submissions of the same client message
	dedupe *dedupe.Cache

	// eventBroadcaster pushes persisted items to open subscriptions
	eventBroadcaster *conversation.EventBroadcaster

	// notifier is nil unless notify.nats_url is set
	notifier *notify.Publisher

	// prompts is nil unless prompts.database_url is set
	prompts      PromptLibrary
	closePrompts func()

	heartbeatInterval time.Duration
}

// initStore creates the item store selected by database.driver.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		return store.NewMemoryStore(logger), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New builds a gateway from cfg. Optional components (NATS, prompt library,
// JWT auth) are only created when configured.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:            cfg,
		store:             st,
		metrics:           metrics.New(),
		logger:            logger.With("component", "gateway"),
		heartbeatInterval: DefaultHeartbeatInterval,
	}

	if err := gw.init(ctx, cfg, logger); err != nil {
		gw.closeComponents()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) init(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g.eventBroadcaster = conversation.NewEventBroadcaster(logger, g.metrics)

	var publisher conversation.ItemPublisher
	if cfg.Notify.NATSURL != "" {
		n, err := notify.Connect(ctx, cfg.Notify.NATSURL, cfg.Notify.Token, cfg.Notify.Subject, logger)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		g.notifier = n
		publisher = n
		// Items appended on other instances reach local subscribers too.
		if err := n.Relay(g.eventBroadcaster.Publish); err != nil {
			return fmt.Errorf("relaying items: %w", err)
		}
	}

	items := conversation.NewPublishingStore(g.store, g.eventBroadcaster, publisher, g.metrics, logger)

	g.upstream = upstream.NewClient(upstream.Config{
		APIBase: cfg.Upstream.APIBase,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.RequestTimeout,
	}, nil, logger)
	if !g.upstream.Configured() {
		g.logger.Warn("upstream api key not configured, replies will fail")
	}

	br := bridge.New(items, g.upstream, bridge.Config{
		WorkflowID:      cfg.Upstream.WorkflowID,
		WorkflowVersion: cfg.Upstream.WorkflowVersion,
		Mode:            bridge.Mode(cfg.Upstream.Mode),
		IdleTimeout:     cfg.Upstream.IdleTimeout,
		HeartbeatPolicy: bridge.HeartbeatPolicy(cfg.Upstream.HeartbeatPolicy),
		HistoryLimit:    cfg.Upstream.HistoryLimit,
		FallbackPrompt:  cfg.Upstream.FallbackPrompt,
		FallbackReply:   cfg.Upstream.FallbackReply,
	}, logger, g.metrics)

	g.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
	g.conversation = conversation.New(items, br,
		conversation.WithLogger(logger),
		conversation.WithDedupe(g.dedupe),
		conversation.WithBroadcaster(g.eventBroadcaster),
	)

	if cfg.Prompts.DatabaseURL != "" {
		lib, err := prompts.Open(ctx, cfg.Prompts.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("opening prompt library: %w", err)
		}
		g.prompts = lib
		g.closePrompts = lib.Close
	}

	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		g.verifier = v
		g.logger.Info("bearer auth enabled")
	} else {
		g.logger.Info("session cookie identity enabled")
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents closes optional components that may be nil.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.notifier != nil {
		g.notifier.Close()
	}
	if g.closePrompts != nil {
		g.closePrompts()
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.eventBroadcaster != nil {
		g.eventBroadcaster.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = append(errs, g.closeComponents()...)

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers and the upstream
// workflow is configured.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness: store unreachable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if g.prompts != nil {
		if err := g.prompts.Ping(ctx); err != nil {
			g.logger.Warn("readiness: prompt library unreachable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("prompt library unavailable"))
			return
		}
	}
	if !g.upstream.Configured() || g.config.Upstream.WorkflowID == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream not configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleVerify lets clients check that the API is reachable.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
