// Package server wires the session registry, command router, event sinks and
// the operational HTTP surface into one process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/lewisedginton/group_tagger/internal/commands"
	appconfig "github.com/lewisedginton/group_tagger/internal/config"
	"github.com/lewisedginton/group_tagger/internal/connection"
	"github.com/lewisedginton/group_tagger/internal/connectors/bridge"
	"github.com/lewisedginton/group_tagger/internal/groupcache"
	recovery "github.com/lewisedginton/group_tagger/internal/middleware"
	"github.com/lewisedginton/group_tagger/internal/monitoring"
	"github.com/lewisedginton/group_tagger/internal/notify"
	"github.com/lewisedginton/group_tagger/internal/session_manager"
	"github.com/lewisedginton/group_tagger/internal/storage_manager"
	"github.com/lewisedginton/group_tagger/internal/tagger"
	"github.com/lewisedginton/group_tagger/pkg/httpmiddleware"
	"github.com/lewisedginton/group_tagger/pkg/logger"
	"github.com/lewisedginton/group_tagger/pkg/metrics"
)

// Server encapsulates all the components and lifecycle management
type Server struct {
	cfg     *appconfig.AppConfig
	log     logger.Logger
	metrics *metrics.Metrics

	storage  *storage_manager.StorageManager
	dialer   connection.Dialer
	gateway  monitoring.Pinger
	hub      *notify.Hub
	registry *session_manager.Registry
	router   *commands.Router
	cache    *groupcache.Cache
	health   *monitoring.HealthMonitor
	handler  http.Handler
}

// Option overrides a component, mainly for tests.
type Option func(*Server)

// WithDialer replaces the gateway dialer. The gateway readiness check is
// skipped unless the dialer can Ping.
func WithDialer(d connection.Dialer) Option {
	return func(s *Server) { s.dialer = d }
}

// WithStorage replaces the configured storage backend.
func WithStorage(m *storage_manager.StorageManager) Option {
	return func(s *Server) { s.storage = m }
}

// New creates a new Server instance with all components initialized
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewMetrics(true, true, log)
	}

	var err error
	if s.storage == nil {
		if s.storage, err = s.createStorageManager(ctx); err != nil {
			return nil, fmt.Errorf("failed to create storage manager: %w", err)
		}
	}

	if s.dialer == nil {
		d, err := bridge.NewDialer(bridge.Config{
			URL:              cfg.Gateway.URL,
			Token:            cfg.Gateway.Token,
			HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
			WriteTimeout:     cfg.Gateway.WriteTimeout,
			Logger:           log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gateway dialer: %w", err)
		}
		s.dialer = d
	}
	if p, ok := s.dialer.(monitoring.Pinger); ok {
		s.gateway = p
	}

	events, err := s.createEventSinks()
	if err != nil {
		return nil, err
	}

	s.cache = groupcache.New(groupcache.Config{
		TTL:          cfg.Sessions.CacheTTL,
		FetchTimeout: cfg.Sessions.OperationTimeout,
		Logger:       log,
		Metrics:      s.metrics,
	})

	s.registry, err = session_manager.NewRegistry(ctx, session_manager.Config{
		Dialer:    s.dialer,
		Cache:     s.cache,
		Storage:   s.storage,
		Events:    events,
		Logger:    log,
		Metrics:   s.metrics,
		Timings:   cfg.SessionTimings(),
		Bootstrap: cfg.BootstrapSettings(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}

	s.router, err = commands.New(commands.Config{
		Prefix:           cfg.Commands.Prefix,
		Owner:            cfg.Commands.OwnerNumber,
		AutoSaveContacts: cfg.Commands.AutoSaveContacts,
		CommandTimeout:   cfg.Commands.Timeout,
		Sessions:         s.registry,
		Cache:            s.cache,
		Tagger:           tagger.New(s.cache, log, s.metrics),
		Principals:       commands.NewPrincipalStore(s.storage.GetProvider(storage_manager.NamespacePrincipals)),
		Contacts:         commands.NewContactBook(s.storage.GetProvider(storage_manager.NamespaceContacts)),
		Logger:           log,
		Metrics:          s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create command router: %w", err)
	}
	s.registry.SetHandler(s.router)

	s.health = monitoring.NewHealthMonitor(monitoring.Config{
		Logger:   log,
		Version:  cfg.Version,
		Timeout:  cfg.Health.Timeout,
		Gateway:  s.gateway,
		Storage:  s.storage,
		Sessions: s.sessionCounts,
	})
	s.handler = s.routes()
	return s, nil
}

func (s *Server) createStorageManager(ctx context.Context) (*storage_manager.StorageManager, error) {
	cfg := s.cfg.StorageManagerConfig()
	if cfg.Backend == storage_manager.BackendLocal {
		if err := os.MkdirAll(cfg.LocalConfig.BaseDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return storage_manager.New(ctx, cfg, s.log)
}

func (s *Server) createEventSinks() (notify.Sink, error) {
	s.hub = notify.NewHub(notify.HubConfig{
		Token:          s.cfg.HTTP.APIToken,
		PingInterval:   s.cfg.Events.PingInterval,
		Buffer:         s.cfg.Events.Buffer,
		AllowedOrigins: s.cfg.HTTP.CORSAllowedOrigins,
		Logger:         s.log,
	})
	sinks := []notify.Sink{s.hub}

	if s.cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegramSink(notify.TelegramConfig{
			BotToken: s.cfg.Telegram.BotToken,
			ChatID:   s.cfg.Telegram.ChatID,
			Debug:    s.cfg.Telegram.Debug,
			Logger:   s.log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Telegram alerts: %w", err)
		}
		sinks = append(sinks, tg)
		s.log.Info("Telegram operator alerts enabled")
	}

	if s.cfg.Slack.Enabled() {
		sl, err := notify.NewSlackSink(notify.SlackConfig{
			BotToken: s.cfg.Slack.BotToken,
			Channel:  s.cfg.Slack.Channel,
			Logger:   s.log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Slack alerts: %w", err)
		}
		sinks = append(sinks, sl)
		s.log.Info("Slack operator alerts enabled")
	}

	return notify.NewMulti(s.log, sinks...), nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	mw := httpmiddleware.DefaultConfig()
	mw.Logger = s.log
	mw.EnableLogging = true
	mw.Security = httpmiddleware.SecurityOptions(s.cfg.HTTP.STSSeconds, s.cfg.IsDevelopment())
	cors := httpmiddleware.DefaultCORSConfig()
	cors.AllowedOrigins = s.cfg.HTTP.CORSAllowedOrigins
	mw.CORS = &cors
	httpmiddleware.ApplyToRouter(r, mw)

	rc := recovery.RecoveryConfig{Logger: s.log}
	if s.metrics != nil {
		// The metrics middleware below never sees a status for a panicking handler.
		rc.OnPanic = func(*http.Request) { s.metrics.IncrementHTTPResponseCounter(http.StatusInternalServerError) }
	}
	r.Use(recovery.Recovery(rc))
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware())
	}

	s.health.RegisterHandlers(r, monitoring.Paths{
		Liveness:  s.cfg.Health.LivenessPath,
		Readiness: s.cfg.Health.ReadinessPath,
		Combined:  s.cfg.Health.CombinedPath,
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	// Long-lived; no request timeout.
	r.Handle(s.cfg.Events.Path, s.hub)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.HTTP.RequestTimeout))
		r.Use(bearerAuth(s.cfg.HTTP.APIToken))
		r.Get("/sessions", s.listSessions)
	})
	return r
}

// bearerAuth rejects requests without the token; an empty token disables it.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// listSessions serves GET /sessions[?tenant=t].
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	snapshots := s.registry.Snapshots()
	out := make([]session_manager.SessionInfo, 0, len(snapshots))
	for _, info := range snapshots {
		if tenant == "" || info.Tenant == tenant {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": out,
		"count":    len(out),
	})
}

func (s *Server) sessionCounts() map[string]int {
	counts := s.registry.Counts()
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}

// Handler exposes the HTTP surface.
func (s *Server) Handler() http.Handler { return s.handler }

// Registry exposes the session registry.
func (s *Server) Registry() *session_manager.Registry { return s.registry }

// Run serves HTTP and fills the session pool until ctx is cancelled, then
// shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.HTTP.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", logger.IntField("port", s.cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.fillPool(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down")
		s.health.Drain()
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP server shutdown error", logger.ErrorField(err))
		}
		if err := s.registry.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Session registry shutdown error", logger.ErrorField(err))
		}
		s.storage.Close()
		return nil
	})

	err := g.Wait()
	s.log.Info("Server stopped")
	return err
}

// fillPool restores stored credentials and, when MaxSessions is set, pairs
// new sessions up to it.
func (s *Server) fillPool(ctx context.Context) {
	if s.cfg.Bootstrap.MaxSessions == 0 {
		n, err := s.registry.Restore(ctx)
		if err != nil {
			s.log.Error("Session restore failed", logger.ErrorField(err))
			return
		}
		s.log.Info("Stored sessions restored", logger.IntField("count", n))
		return
	}
	if err := s.registry.Bootstrap(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("Session bootstrap failed", logger.ErrorField(err))
		return
	}
	s.log.Info("Session bootstrap finished", logger.IntField("sessions", len(s.registry.Snapshots())))
}
