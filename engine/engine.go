// Package engine wraps every inspector component and manages its lifecycle.
// Usage: New(ctx) -> Init(ctx) -> Run(ctx).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortistate/inspector/internal/audit"
	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/broadcast"
	"github.com/fortistate/inspector/internal/config"
	"github.com/fortistate/inspector/internal/configreload"
	"github.com/fortistate/inspector/internal/core/ports"
	"github.com/fortistate/inspector/internal/history"
	"github.com/fortistate/inspector/internal/httpserver"
	"github.com/fortistate/inspector/internal/memstore"
	"github.com/fortistate/inspector/internal/metrics"
	"github.com/fortistate/inspector/internal/presence"
	"github.com/fortistate/inspector/internal/remotestore"
	"github.com/fortistate/inspector/internal/session"
	"github.com/fortistate/inspector/internal/telemetry"
	"github.com/fortistate/inspector/internal/universe"
	"github.com/fortistate/inspector/internal/wsgateway"
)

// Engine wraps all application components and manages the lifecycle.
type Engine struct {
	echo   *echo.Echo
	logger *slog.Logger
	cfg    *config.Config
	tel    *telemetry.Provider

	router   *httpserver.Router
	gateway  *wsgateway.Gateway
	hub      *broadcast.Hub
	reloader *configreload.Reloader
	metrics  *metrics.Registry

	telemetryHub *broadcast.TelemetryHub
	historyRing  *history.Ring
	presenceMgr  *presence.Manager
	sessions     *session.Store

	storeUnsubs []func()
	gaugeStop   chan struct{}
	gaugeWG     sync.WaitGroup
}

// noopPluginLoader is the default ports.PluginLoader. An embedder wiring a
// real plugin resolver overrides it; absent that, the config reloader simply
// finds nothing to reconcile on every refresh.
type noopPluginLoader struct{}

func (noopPluginLoader) LoadPlugins(context.Context, string) (ports.PluginLoadResult, error) {
	return ports.PluginLoadResult{}, nil
}

func (noopPluginLoader) GetRegistered() map[string]ports.Value { return nil }

// New creates a new Engine: loads config, constructs every component, and
// wires the HTTP router and WebSocket gateway together. It does not start
// the listener or the config watcher — call Init then Run.
func New(ctx context.Context) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	root, err := config.WorkingDir()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	tel := telemetry.Setup("fortistate-inspector")
	logger := tel.Logger

	mtr := metrics.New()

	sessions, err := session.New(session.Config{
		OpaqueSecret: cfg.Session.OpaqueSecret,
		JWTSecret:    cfg.Session.JWTSecret,
		DefaultTTL:   time.Duration(cfg.Session.TTL),
		MaxSessions:  cfg.Session.MaxSessions,
		Debug:        cfg.Debug,
	}, sessionStorePath(root), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize session store: %w", err)
	}

	enforcer := authz.New(sessions, cfg.Session.LegacyToken, cfg.Session.RequireSessions)

	auditLog := audit.New(audit.Config{
		MaxSizeBytes: cfg.Audit.MaxSizeBytes,
		RotateDays:   cfg.Audit.RotateDays,
		Debug:        cfg.Debug,
	}, auditLogPath(root), logger)
	auditLog.SetMetrics(mtr)

	hub := broadcast.NewHub(logger)
	hub.SetMetrics(mtr)

	telemetryHub := broadcast.NewTelemetryHub(logger)

	historyRing := history.New(hub)

	presenceMgr := presence.New(hub)

	ns := cfg.Namespace(root)
	remote := remotestore.New(root, ns, ns == "default", logger, cfg.Debug)

	stores := memstore.New()

	// Bridge store mutations onto the broadcast hub, so every HTTP mutation
	// handler and every plugin store the reloader applies produces the same
	// store:create/store:change frames every connected peer expects.
	unsubCreate := stores.SubscribeCreate(func(key string, initial ports.Value) {
		hub.Broadcast(map[string]any{"type": "store:create", "key": key, "initial": initial})
	})
	unsubChange := stores.SubscribeChange(func(key string, value ports.Value) {
		hub.Broadcast(map[string]any{"type": "store:change", "key": key, "value": value})
	})

	reloader := configreload.New(root, noopPluginLoader{}, stores, remote, logger, cfg.Watch.Disabled)

	universes := universe.New(root)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	router, err := httpserver.NewRouter(e, httpserver.Dependencies{
		Sessions:        sessions,
		Enforcer:        enforcer,
		Audit:           auditLog,
		Presence:        presenceMgr,
		Stores:          stores,
		Remote:          remote,
		Hub:             hub,
		Telemetry:       telemetryHub,
		History:         historyRing,
		Universes:       universes,
		Logger:          logger,
		Root:            root,
		AllowOpen:       cfg.Server.AllowOpen,
		RequireSessions: cfg.Session.RequireSessions,
		AllowOrigin:     cfg.Server.AllowOrigin,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize router: %w", err)
	}

	gateway := wsgateway.New(wsgateway.Deps{
		Hub:      hub,
		Enforcer: enforcer,
		Presence: presenceMgr,
		Stores:   stores,
		Remote:   remote,
		Audit:    auditLog,
		Metrics:  mtr,
		Logger:   logger,
		Origin: wsgateway.OriginPolicy{
			AllowList: splitOrigins(cfg.Server.AllowOrigin),
			Strict:    cfg.Server.AllowOriginStrict,
		},
		Optional: func() bool {
			return !cfg.Session.RequireSessions && !sessions.HasSessions() || cfg.Session.AllowAnonSessions
		},
	})
	router.SetWebSocketHandler(gateway.Handle)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(mtr.Gatherer(), promhttp.HandlerOpts{})))

	router.RegisterRoutes()

	return &Engine{
		echo:         e,
		logger:       logger,
		cfg:          cfg,
		tel:          tel,
		router:       router,
		gateway:      gateway,
		hub:          hub,
		reloader:     reloader,
		metrics:      mtr,
		telemetryHub: telemetryHub,
		historyRing:  historyRing,
		presenceMgr:  presenceMgr,
		sessions:     sessions,
		storeUnsubs:  []func(){unsubCreate, unsubChange},
		gaugeStop:    make(chan struct{}),
	}, nil
}

// Init starts the background components: the broadcast hub's run loop, the
// config reloader's initial resolve-and-watch pass, and the metrics
// gauge-scrape loop.
func (e *Engine) Init(ctx context.Context) error {
	go e.hub.Run()

	if err := e.reloader.Start(ctx); err != nil {
		e.logger.Warn("config reload: initial refresh failed", slog.String("error", err.Error()))
	}

	e.gaugeWG.Add(1)
	go e.scrapeGauges()

	return nil
}

// scrapeGauges periodically snapshots the point-in-time state of every
// component's live counts (peer/stream/presence/history/session counts)
// into the metrics Registry, since these reflect map/ring sizes rather than
// discrete events an IncX call could cover.
func (e *Engine) scrapeGauges() {
	defer e.gaugeWG.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	e.updateGauges()
	for {
		select {
		case <-ticker.C:
			e.updateGauges()
		case <-e.gaugeStop:
			return
		}
	}
}

func (e *Engine) updateGauges() {
	e.metrics.SetGauges(metrics.Gauges{
		WSPeers:          e.hub.PeerCount(),
		TelemetryStreams: e.telemetryHub.StreamCount(),
		PresenceUsers:    e.presenceMgr.Count(),
		HistoryEntries:   e.historyRing.Len(),
		TelemetryEntries: e.telemetryHub.BufferLen(),
		SessionsActive:   len(e.sessions.ListSessions()),
	})
}

// PublishTelemetry feeds one entry into the telemetry stream served at
// /telemetry/stream. The inspector itself attaches no meaning to entries;
// the embedding application decides what to publish (run summaries, physics
// ticks, counters).
func (e *Engine) PublishTelemetry(entry map[string]any) {
	e.telemetryHub.Push(entry)
}

// Echo returns the underlying Echo instance for route extensions.
func (e *Engine) Echo() *echo.Echo {
	return e.echo
}

// Logger returns the configured logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM.
func (e *Engine) Run(ctx context.Context) error {
	addr := e.cfg.Server.Address()

	server := &http.Server{
		Addr:         addr,
		Handler:      e.echo,
		ReadTimeout:  e.cfg.Server.ReadTimeout,
		WriteTimeout: e.cfg.Server.WriteTimeout,
		IdleTimeout:  e.cfg.Server.IdleTimeout,
	}

	go func() {
		e.logger.Info("starting server", slog.String("address", addr))
		if err := e.echo.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	fmt.Printf("\nfortistate inspector running on http://localhost%s\n\n", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return e.Shutdown(shutdownCtx)
}

// Shutdown performs graceful shutdown of all components.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.gaugeStop)
	e.gaugeWG.Wait()

	e.reloader.Stop()
	for _, unsub := range e.storeUnsubs {
		unsub()
	}
	e.hub.Stop()
	e.router.Stop()

	if err := e.tel.Shutdown(ctx); err != nil {
		e.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	if err := e.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("echo shutdown: %w", err)
	}
	return nil
}

func sessionStorePath(root string) string {
	return filepath.Join(root, ".fortistate-sessions.json")
}

func auditLogPath(root string) string {
	return filepath.Join(root, ".fortistate-audit.log")
}

// splitOrigins turns a comma-separated FORTISTATE_INSPECTOR_ALLOW_ORIGIN
// value into the gateway's OriginPolicy.AllowList. An empty
// input means "no allowlist configured", not "allow nothing".
func splitOrigins(allowOrigin string) []string {
	if allowOrigin == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(allowOrigin, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
